package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"docparse-backend/internal/ingest"
	"docparse-backend/internal/shared/server/middleware"
	"docparse-backend/internal/shared/server/respond"
)

// registerMeRoutes attaches /me, which reports the caller's identity and
// whether their single image extraction is still available.
func registerMeRoutes(rg *gin.RouterGroup, images ingest.ImageChecker) {
	rg.GET("/me", func(c *gin.Context) {
		userID := middleware.UserIDFromContext(c)
		if userID == "" {
			respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
			return
		}

		isGuest := c.GetBool("isGuest")
		response := gin.H{
			"userId": userID,
			"guest":  isGuest,
		}
		if email := middleware.UserEmailFromContext(c); email != "" {
			response["email"] = email
		}

		if images != nil {
			used, err := images.HasImage(c.Request.Context(), userID)
			if err != nil {
				respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to read image quota", nil)
				return
			}
			remaining := 1
			if used {
				remaining = 0
			}
			response["imageQuota"] = gin.H{"limit": 1, "remaining": remaining}
		}

		respond.OK(c, response)
	})
}
