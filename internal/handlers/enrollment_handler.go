package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"skylearn_backend/internal/models"
	"skylearn_backend/internal/services"
)

type EnrollmentHandler struct {
	*BaseHandler
	dispatcher services.Dispatcher
}

func NewEnrollmentHandler(base *BaseHandler, dispatcher services.Dispatcher) *EnrollmentHandler {
	return &EnrollmentHandler{
		BaseHandler: base,
		dispatcher:  dispatcher,
	}
}

func (h *EnrollmentHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/enrollments/failed", h.ListFailed)
}

// ListFailed surfaces grants that exhausted their retries, for operator
// follow-up.
func (h *EnrollmentHandler) ListFailed(c *gin.Context) {
	page, perPage := ParsePagination(c)

	grants, total, err := h.dispatcher.FailedGrants(page, perPage)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"enrollments": grants,
		"pagination":  models.NewPagination(page, perPage, total),
	})
}
