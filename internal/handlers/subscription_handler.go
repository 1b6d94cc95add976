package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"skylearn_backend/internal/models"
	"skylearn_backend/internal/services"
)

type SubscriptionHandler struct {
	*BaseHandler
	subscriptions services.SubscriptionService
}

func NewSubscriptionHandler(base *BaseHandler, subscriptions services.SubscriptionService) *SubscriptionHandler {
	return &SubscriptionHandler{
		BaseHandler:   base,
		subscriptions: subscriptions,
	}
}

func (h *SubscriptionHandler) RegisterRoutes(r *gin.RouterGroup) {
	subscriptions := r.Group("/subscriptions")
	{
		subscriptions.POST("", h.Create)
		subscriptions.GET("", h.List)
		subscriptions.GET("/:id", h.Get)
		subscriptions.POST("/:id/cancel", h.Cancel)
		subscriptions.POST("/:id/reactivate", h.Reactivate)
	}
}

func (h *SubscriptionHandler) Create(c *gin.Context) {
	var req services.CreateSubscriptionRequest
	if !h.BindJSON(c, &req) {
		return
	}

	sub, err := h.subscriptions.Create(c.Request.Context(), &req)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, sub)
}

func (h *SubscriptionHandler) Get(c *gin.Context) {
	sub, err := h.subscriptions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, sub)
}

func (h *SubscriptionHandler) List(c *gin.Context) {
	page, perPage := ParsePagination(c)

	subs, total, err := h.subscriptions.List(c.Request.Context(), c.Query("user_id"), page, perPage)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"subscriptions": subs,
		"pagination":    models.NewPagination(page, perPage, total),
	})
}

func (h *SubscriptionHandler) Cancel(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	// Body is optional on cancel.
	_ = c.ShouldBindJSON(&req)

	sub, err := h.subscriptions.Cancel(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, sub)
}

func (h *SubscriptionHandler) Reactivate(c *gin.Context) {
	sub, err := h.subscriptions.Reactivate(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, sub)
}
