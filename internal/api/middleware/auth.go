package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/CoderXiaopang/npm-meta/backend/internal/services"
)

const (
	// AuthCookieName is the session cookie set on login.
	AuthCookieName = "auth_token"

	emailKey    = "email"
	npmTokenKey = "npmToken"
)

// AuthMiddleware validates the session token from the Authorization header or
// the auth cookie and places the caller's email and upstream NPM token in the
// request context.
func AuthMiddleware(authService *services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := ""

		if header := c.GetHeader("Authorization"); header != "" {
			if !strings.HasPrefix(header, "Bearer ") {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header format"})
				return
			}
			tokenString = strings.TrimPrefix(header, "Bearer ")
		} else if cookie, err := c.Cookie(AuthCookieName); err == nil {
			tokenString = cookie
		}

		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}

		claims, err := authService.Parse(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired session"})
			return
		}

		c.Set(emailKey, claims.Email)
		c.Set(npmTokenKey, claims.NPMToken)
		c.Next()
	}
}

// NPMToken returns the upstream NPM token stored by AuthMiddleware.
func NPMToken(c *gin.Context) string {
	if v, ok := c.Get(npmTokenKey); ok {
		if token, ok := v.(string); ok {
			return token
		}
	}
	return ""
}

// Email returns the authenticated caller's email.
func Email(c *gin.Context) string {
	if v, ok := c.Get(emailKey); ok {
		if email, ok := v.(string); ok {
			return email
		}
	}
	return ""
}
