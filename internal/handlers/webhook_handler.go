package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"skylearn_backend/internal/appErrors"
	"skylearn_backend/internal/services"
)

// maxWebhookBody bounds the payload read so an oversized delivery cannot
// exhaust memory.
const maxWebhookBody = 1 << 20

type WebhookHandler struct {
	*BaseHandler
	webhooks services.WebhookService
}

func NewWebhookHandler(base *BaseHandler, webhooks services.WebhookService) *WebhookHandler {
	return &WebhookHandler{
		BaseHandler: base,
		webhooks:    webhooks,
	}
}

func (h *WebhookHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks/:gateway", h.Receive)
}

// Receive hands the raw body and signature header to the ingestion
// pipeline. The body must reach verification untouched, so it is read
// before any decoding.
func (h *WebhookHandler) Receive(c *gin.Context) {
	rawBody, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		h.HandleServiceError(c, appErrors.ErrParseError.WithError(err))
		return
	}

	result, err := h.webhooks.Process(
		c.Request.Context(),
		c.Param("gateway"),
		rawBody,
		c.GetHeader("X-Signature"),
	)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
