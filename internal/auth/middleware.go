package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	accountContextKey   = "auth_account"
	authTokenContextKey = "auth_token"
)

// Middleware validates bearer tokens and stores the authenticated account in the context.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authToken := s.extractToken(c)
		if authToken == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}
		acc, err := s.ValidateToken(c.Request.Context(), authToken)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Set(accountContextKey, acc)
		c.Set(authTokenContextKey, authToken)
		c.Next()
	}
}

// RequireRole rejects accounts without role. It must run after Middleware.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		acc, ok := AccountFromContext(c)
		if !ok || acc.Role != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient role"})
			return
		}
		c.Next()
	}
}

// AccountFromContext retrieves the authenticated account from the gin context.
func AccountFromContext(c *gin.Context) (*Account, bool) {
	val, ok := c.Get(accountContextKey)
	if !ok {
		return nil, false
	}
	acc, ok := val.(*Account)
	return acc, ok
}

// AuthTokenFromContext retrieves the bearer token captured by the middleware.
func AuthTokenFromContext(c *gin.Context) (string, bool) {
	val, ok := c.Get(authTokenContextKey)
	if !ok {
		return "", false
	}
	token, ok := val.(string)
	return token, ok
}

// extractToken reads the bearer header, or the token query parameter for
// websocket clients that cannot set headers.
func (s *Service) extractToken(c *gin.Context) string {
	authHeader := c.GetHeader(s.headerName)
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	if c.Request.Method == http.MethodGet {
		if token := c.Query("token"); token != "" {
			return token
		}
	}
	return ""
}
