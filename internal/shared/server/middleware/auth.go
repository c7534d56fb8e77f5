package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"docparse-backend/internal/shared/auth"
	"docparse-backend/internal/shared/server/respond"
)

const (
	userIDKey    = "userId"
	userEmailKey = "userEmail"

	guestPrefix    = "guest:"
	maxGuestIDLen  = 64
	workerActorKey = "actor"
)

// publicPrefixes bypass identity resolution. Worker callbacks carry their own token.
var publicPrefixes = []string{
	"/api/v1/health",
	"/api/v1/internal/",
	"/metrics",
}

// Auth resolves the document owner for a request. A bearer JWT wins; otherwise
// the X-Guest-Id header names a guest owner "guest:<id>". The owner id later
// becomes a storage path segment, so guest ids are limited to a safe alphabet.
func Auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		path := c.Request.URL.Path
		for _, prefix := range publicPrefixes {
			if strings.HasPrefix(path, prefix) {
				c.Next()
				return
			}
		}

		if authHeader := strings.TrimSpace(c.GetHeader("Authorization")); authHeader != "" {
			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			token = strings.TrimSpace(token)
			if !ok || token == "" {
				respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
				return
			}
			claims, err := auth.VerifyJWT(token)
			if err != nil || strings.TrimSpace(claims.Subject) == "" || strings.HasPrefix(claims.Subject, guestPrefix) {
				respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
				return
			}

			c.Set(userIDKey, claims.Subject)
			if claims.Email != "" {
				c.Set(userEmailKey, claims.Email)
			}
			c.Set("isGuest", false)
			c.Next()
			return
		}

		guestID := strings.TrimSpace(c.GetHeader("X-Guest-Id"))
		if guestID == "" {
			respond.Error(c, http.StatusUnauthorized, "unauthorized", "Missing identity", nil)
			return
		}
		if !validGuestID(guestID) {
			respond.Error(c, http.StatusBadRequest, "validation_error", "invalid guest id", nil)
			return
		}

		c.Set(userIDKey, guestPrefix+guestID)
		c.Set("isGuest", true)
		c.Next()
	}
}

func validGuestID(id string) bool {
	if len(id) > maxGuestIDLen || id == "." || id == ".." {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.':
		default:
			return false
		}
	}
	return true
}

// WorkerToken guards worker callback routes with a shared secret sent in X-Worker-Token.
// An empty secret is only accepted outside production.
func WorkerToken(secret, env string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			if env == "production" {
				respond.Error(c, http.StatusServiceUnavailable, "worker_auth_unconfigured", "worker callbacks are disabled", nil)
				return
			}
			c.Set(workerActorKey, "worker")
			c.Next()
			return
		}
		got := c.GetHeader("X-Worker-Token")
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			respond.Error(c, http.StatusUnauthorized, "unauthorized", "invalid worker token", nil)
			return
		}
		c.Set(workerActorKey, "worker")
		c.Next()
	}
}

// UserIDFromContext fetches the user ID set by the auth middleware.
func UserIDFromContext(c *gin.Context) string {
	if c == nil {
		return ""
	}
	val, _ := c.Get(userIDKey)
	if id, ok := val.(string); ok {
		return id
	}
	return ""
}

// UserEmailFromContext fetches the user email set by the auth middleware.
func UserEmailFromContext(c *gin.Context) string {
	if c == nil {
		return ""
	}
	val, _ := c.Get(userEmailKey)
	if email, ok := val.(string); ok {
		return email
	}
	return ""
}
