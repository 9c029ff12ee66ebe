package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/pkg/log"
	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/pkg/response"
)

const (
	UserIDKey     = log.FieldUserID
	UsernameKey   = log.FieldUsername
	AuthHeaderKey = "Authorization"
	BearerPrefix  = "Bearer "
)

// Identity is the caller resolved from a bearer token.
type Identity struct {
	UserID   string
	Username string
}

// TokenValidator resolves a bearer token to an identity.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (Identity, error)
}

// AuthMiddleware validates bearer tokens on HTTP routes.
type AuthMiddleware struct {
	validator TokenValidator
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(validator TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{validator: validator}
}

// RequireAuth returns a Gin middleware that rejects requests without a valid token.
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader(AuthHeaderKey)
		if authHeader == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}

		if !strings.HasPrefix(authHeader, BearerPrefix) {
			response.Unauthorized(c, "invalid authorization format")
			c.Abort()
			return
		}

		token := strings.TrimPrefix(authHeader, BearerPrefix)
		id, err := m.validator.ValidateToken(c.Request.Context(), token)
		if err != nil {
			l := log.Ctx(c.Request.Context())
			l.Debug().Err(err).Msg("bearer token rejected")
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}

		c.Set(UserIDKey, id.UserID)
		c.Set(UsernameKey, id.Username)
		c.Request = c.Request.WithContext(log.WithFields(c.Request.Context(), log.FieldUserID, id.UserID))

		c.Next()
	}
}

// GetUserID extracts user ID from Gin context.
func GetUserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}

// GetUsername extracts username from Gin context.
func GetUsername(c *gin.Context) string {
	return c.GetString(UsernameKey)
}
