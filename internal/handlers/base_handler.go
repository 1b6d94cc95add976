package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"skylearn_backend/internal/appErrors"
	"skylearn_backend/internal/logger"
)

type BaseHandler struct{}

func NewBaseHandler() *BaseHandler {
	return &BaseHandler{}
}

// BindJSON binds the request body. Field-level validation lives in the
// services, so a bind failure here is always a malformed body.
func (h *BaseHandler) BindJSON(c *gin.Context, obj interface{}) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		logger.CtxWithError(c.Request.Context(), "failed to bind JSON body", err, "path", c.Request.URL.Path)
		appErrors.HandleError(c, appErrors.ErrParseError.WithError(err))
		return false
	}
	return true
}

func (h *BaseHandler) HandleServiceError(c *gin.Context, err error) {
	ctx := c.Request.Context()

	var appErr *appErrors.AppError
	if appErrors.As(err, &appErr) && appErr.HTTPCode < http.StatusInternalServerError {
		logger.CtxWarn(ctx, "service error",
			"code", appErr.Code,
			"details", appErr.Details,
			"path", c.Request.URL.Path,
		)
	}
	appErrors.HandleError(c, err)
}

func ParseQueryInt(c *gin.Context, key string, defaultValue int) int {
	valueStr := c.Query(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func ParsePagination(c *gin.Context) (page int, perPage int) {
	const defaultPage = 1
	const defaultPerPage = 20
	const maxPerPage = 100

	page = ParseQueryInt(c, "page", defaultPage)
	if page <= 0 {
		page = defaultPage
	}

	perPage = ParseQueryInt(c, "per_page", defaultPerPage)
	if perPage <= 0 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}

	return page, perPage
}
