package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"skylearn_backend/internal/appErrors"
	"skylearn_backend/internal/logger"
	"skylearn_backend/internal/models"
	"skylearn_backend/internal/services"
)

const (
	ctxUserIDKey = "userID"
	ctxRoleKey   = "role"
)

// AuthMiddleware validates the bearer token and stores the caller identity
// on the gin context and the request context.
func AuthMiddleware(auth services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			appErrors.HandleError(c, appErrors.ErrAuthenticationRequired)
			return
		}

		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
		claims, err := auth.ParseToken(tokenStr)
		if err != nil {
			appErrors.HandleError(c, appErrors.ErrInvalidToken)
			return
		}

		c.Set(ctxUserIDKey, claims.UserID)
		c.Set(ctxRoleKey, claims.Role)
		c.Request = c.Request.WithContext(logger.WithUserID(c.Request.Context(), claims.UserID))
		c.Next()
	}
}

// RequireRoles restricts a route group to the listed roles.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	roleSet := make(map[models.UserRole]bool)
	for _, r := range roles {
		roleSet[r] = true
	}

	return func(c *gin.Context) {
		roleVal, exists := c.Get(ctxRoleKey)
		if !exists {
			appErrors.HandleError(c, appErrors.ErrForbidden)
			return
		}

		role, ok := roleVal.(models.UserRole)
		if !ok {
			roleStr, isString := roleVal.(string)
			if !isString {
				appErrors.HandleError(c, appErrors.ErrForbidden)
				return
			}
			role = models.UserRole(roleStr)
		}

		if !roleSet[role] {
			appErrors.HandleError(c, appErrors.ErrForbidden)
			return
		}
		c.Next()
	}
}

// GetUserID returns the authenticated caller's id, or "".
func GetUserID(c *gin.Context) string {
	userID, exists := c.Get(ctxUserIDKey)
	if !exists {
		return ""
	}
	id, ok := userID.(string)
	if !ok {
		return ""
	}
	return id
}

// GetRole returns the authenticated caller's role, or "".
func GetRole(c *gin.Context) models.UserRole {
	roleVal, exists := c.Get(ctxRoleKey)
	if !exists {
		return ""
	}
	role, ok := roleVal.(models.UserRole)
	if !ok {
		return ""
	}
	return role
}
