package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"skylearn_backend/internal/services"
)

type AuthHandler struct {
	*BaseHandler
	auth services.AuthService
}

func NewAuthHandler(base *BaseHandler, auth services.AuthService) *AuthHandler {
	return &AuthHandler{
		BaseHandler: base,
		auth:        auth,
	}
}

func (h *AuthHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/auth/login", h.Login)
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req services.LoginRequest
	if !h.BindJSON(c, &req) {
		return
	}

	resp, err := h.auth.Login(c.Request.Context(), &req)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
