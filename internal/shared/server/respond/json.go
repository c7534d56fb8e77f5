package respond

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// JSON writes a JSON response with the given status.
func JSON(c *gin.Context, status int, payload any) {
	c.JSON(status, payload)
}

// OK writes a 200 OK JSON response.
func OK(c *gin.Context, payload any) {
	JSON(c, http.StatusOK, payload)
}

// Created writes a 201 for uploads whose content was extracted inline.
func Created(c *gin.Context, payload any) {
	JSON(c, http.StatusCreated, payload)
}

// Accepted writes a 202 for uploads handed to the extraction worker.
func Accepted(c *gin.Context, payload any) {
	JSON(c, http.StatusAccepted, payload)
}

// Status writes a document status payload that clients poll. It must never be
// served from a cache or a poller would miss the terminal transition.
func Status(c *gin.Context, payload any) {
	c.Header("Cache-Control", "no-store")
	JSON(c, http.StatusOK, payload)
}
