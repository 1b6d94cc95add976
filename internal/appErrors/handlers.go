package appErrors

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"skylearn_backend/internal/logger"
)

// ErrorResponse is the standard error envelope: {"error": {...}}.
type ErrorResponse struct {
	Error *AppError `json:"error"`
}

// HandleError writes err as the standard envelope. Unknown error types are
// wrapped as internal errors with details hidden from the caller.
func HandleError(c *gin.Context, err error) {
	var appErr *AppError

	switch e := err.(type) {
	case *AppError:
		appErr = e
	default:
		appErr = New(CodeInternalError, "Internal server error", http.StatusInternalServerError)
	}

	if appErr.HTTPCode >= 500 {
		logger.CtxWithError(c.Request.Context(), "server error", err, "path", c.Request.URL.Path)
	}

	c.AbortWithStatusJSON(appErr.HTTPCode, ErrorResponse{Error: appErr})
}
