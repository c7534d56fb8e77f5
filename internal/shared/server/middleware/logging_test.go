package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zapcore"

	"docparse-backend/internal/shared/telemetry"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	telemetry.Init(&buf, zapcore.InfoLevel)
	t.Cleanup(func() { telemetry.Init(os.Stdout, zapcore.InfoLevel) })
	return &buf
}

func lastLogLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) == 0 || lines[0] == "" {
		t.Fatalf("expected log output")
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &payload); err != nil {
		t.Fatalf("decode log json: %v", err)
	}
	return payload
}

func TestLoggingIncludesRequiredFields(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogs(t)

	router := gin.New()
	router.Use(RequestID(), Auth(), Logging())
	router.GET("/api/v1/documents/:id", func(c *gin.Context) {
		c.Set("documentId", c.Param("id"))
		c.Set("format", "image")
		c.Set("statusTransition", "processing->completed")
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents/doc-1", nil)
	req.Header.Set("X-Guest-Id", "guest1")
	req.Header.Set("X-Request-Id", "req-abc")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	payload := lastLogLine(t, buf)
	required := []string{"request_id", "user_id", "document_id", "format", "duration_ms", "status", "status_transition", "route"}
	for _, key := range required {
		if _, ok := payload[key]; !ok {
			t.Fatalf("missing log field: %s", key)
		}
	}
	if payload["level"] != "info" {
		t.Fatalf("unexpected level: %v", payload["level"])
	}
	if payload["request_id"] != "req-abc" {
		t.Fatalf("unexpected request_id: %v", payload["request_id"])
	}
	if payload["user_id"] != "guest:guest1" {
		t.Fatalf("unexpected user_id: %v", payload["user_id"])
	}
	if payload["route"] != "/api/v1/documents/:id" {
		t.Fatalf("unexpected route: %v", payload["route"])
	}
	if payload["status_transition"] != "processing->completed" {
		t.Fatalf("unexpected status_transition: %v", payload["status_transition"])
	}
}

func TestLoggingWarnsOnRejectedUpload(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogs(t)

	router := gin.New()
	router.Use(RequestID(), Auth(), Logging())
	router.POST("/api/v1/documents", func(c *gin.Context) {
		c.Set("rejectReason", "quota")
		c.JSON(http.StatusForbidden, gin.H{"error": "quota"})
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", nil)
	req.Header.Set("X-Guest-Id", "guest1")
	router.ServeHTTP(httptest.NewRecorder(), req)

	payload := lastLogLine(t, buf)
	if payload["level"] != "warn" {
		t.Fatalf("unexpected level: %v", payload["level"])
	}
	if payload["reject_reason"] != "quota" {
		t.Fatalf("unexpected reject_reason: %v", payload["reject_reason"])
	}
}

func TestLoggingSkipsProbes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogs(t)

	router := gin.New()
	router.Use(Logging())
	router.GET("/api/v1/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	if strings.TrimSpace(buf.String()) != "" {
		t.Fatalf("expected no log output, got %s", buf.String())
	}
}

func TestRequestIDReplacesUnusableHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestID())
	router.GET("/x", func(c *gin.Context) { c.String(http.StatusOK, RequestIDFromContext(c)) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-Id", "has spaces\tand tabs")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	id := resp.Body.String()
	if id == "" || strings.Contains(id, " ") {
		t.Fatalf("expected generated id, got %q", id)
	}
	if resp.Header().Get("X-Request-Id") != id {
		t.Fatalf("header %q does not match context id %q", resp.Header().Get("X-Request-Id"), id)
	}
}
