package documents

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"docparse-backend/internal/shared/server/middleware"
	"docparse-backend/internal/shared/server/respond"
	"docparse-backend/internal/shared/telemetry"
)

// Handler wires HTTP handlers to the service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches the owner-facing document routes.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/documents", h.list)
	rg.GET("/documents/stats", h.stats)
	rg.GET("/documents/:id", h.get)
}

// RegisterInternalRoutes attaches the worker callback. The group is expected
// to be guarded by middleware.WorkerToken.
func (h *Handler) RegisterInternalRoutes(rg *gin.RouterGroup) {
	rg.POST("/documents/:id/extraction", h.extractionResult)
}

func (h *Handler) get(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	id := strings.TrimSpace(c.Param("id"))
	c.Set("documentId", id)

	doc, err := h.Svc.Get(c.Request.Context(), userID, id)
	if err != nil {
		h.writeError(c, err, "failed to fetch document")
		return
	}
	respond.Status(c, ToResponse(doc))
}

func (h *Handler) list(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)

	limit := defaultListLimit
	offset := 0
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			offset = parsed
		}
	}
	if offset < 0 {
		offset = 0
	}

	var status Status
	if v := c.Query("status"); v != "" {
		parsed, err := ParseStatus(v)
		if err != nil {
			respond.Error(c, http.StatusBadRequest, "validation_error", "invalid status filter", nil)
			return
		}
		status = parsed
	}

	docs, err := h.Svc.List(c.Request.Context(), userID, status, limit, offset)
	if err != nil {
		h.writeError(c, err, "failed to list documents")
		return
	}

	items := make([]DocumentResponse, 0, len(docs))
	for _, doc := range docs {
		items = append(items, ToResponse(doc))
	}
	respond.OK(c, ListResponse{Items: items, Limit: limit, Offset: offset})
}

func (h *Handler) stats(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	stats, err := h.Svc.Stats(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err, "failed to load document stats")
		return
	}
	respond.OK(c, stats)
}

func (h *Handler) extractionResult(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	c.Set("documentId", id)

	var req ExtractionResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}
	status, err := ParseStatus(req.Status)
	if err != nil || !status.Terminal() {
		respond.Error(c, http.StatusBadRequest, "validation_error", "status must be completed or failed", nil)
		return
	}

	doc, err := h.Svc.ApplyResult(c.Request.Context(), id, Result{
		Status:  status,
		Content: req.Content,
		Reason:  req.Reason,
	})
	if err != nil {
		h.writeError(c, err, "failed to record extraction result")
		return
	}
	c.Set("statusTransition", string(StatusProcessing)+"->"+string(doc.Status))
	telemetry.Info("worker.callback", map[string]any{
		"document_id": doc.ID,
		"status":      doc.Status,
		"request_id":  middleware.RequestIDFromContext(c),
	})
	respond.OK(c, ToResponse(doc))
}

func (h *Handler) writeError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "document not found", nil)
	case errors.Is(err, ErrInvalidTransition):
		respond.Error(c, http.StatusConflict, "invalid_transition", "document is no longer processing", nil)
	case errors.Is(err, ErrInvalidInput):
		respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", fallback, nil)
	}
}
