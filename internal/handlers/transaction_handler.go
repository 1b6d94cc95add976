package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"skylearn_backend/internal/models"
	"skylearn_backend/internal/repositories"
	"skylearn_backend/internal/services"
)

type TransactionHandler struct {
	*BaseHandler
	ledger services.LedgerService
}

func NewTransactionHandler(base *BaseHandler, ledger services.LedgerService) *TransactionHandler {
	return &TransactionHandler{
		BaseHandler: base,
		ledger:      ledger,
	}
}

func (h *TransactionHandler) RegisterRoutes(r *gin.RouterGroup) {
	transactions := r.Group("/transactions")
	{
		transactions.POST("", h.Checkout)
		transactions.GET("", h.List)
		transactions.GET("/:id", h.Get)
		transactions.POST("/:id/refund", h.Refund)
	}
}

// Checkout creates a pending transaction, charges the gateway and settles
// the outcome in one call.
func (h *TransactionHandler) Checkout(c *gin.Context) {
	var req services.CreateTransactionRequest
	if !h.BindJSON(c, &req) {
		return
	}

	txn, err := h.ledger.Checkout(c.Request.Context(), &req)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, txn)
}

func (h *TransactionHandler) Get(c *gin.Context) {
	txn, err := h.ledger.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, txn)
}

func (h *TransactionHandler) List(c *gin.Context) {
	page, perPage := ParsePagination(c)
	filter := repositories.TransactionFilter{
		UserID: c.Query("user_id"),
		Status: models.TransactionStatus(c.Query("status")),
	}

	txns, total, err := h.ledger.List(c.Request.Context(), filter, page, perPage)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"transactions": txns,
		"pagination":   models.NewPagination(page, perPage, total),
	})
}

func (h *TransactionHandler) Refund(c *gin.Context) {
	txn, err := h.ledger.Refund(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, txn)
}
