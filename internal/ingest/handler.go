package ingest

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"docparse-backend/internal/documents"
	"docparse-backend/internal/shared/server/middleware"
	"docparse-backend/internal/shared/server/respond"
)

// multipartOverhead leaves room for boundaries and form fields on top of the file limit.
const multipartOverhead = 1 << 20

// Handler exposes the ingestion gateway over HTTP.
type Handler struct {
	Gateway *Gateway
}

// NewHandler constructs a Handler.
func NewHandler(g *Gateway) *Handler {
	return &Handler{Gateway: g}
}

// RegisterRoutes attaches the upload route.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/documents", h.upload)
}

func (h *Handler) upload(c *gin.Context) {
	requestID := middleware.RequestIDFromContext(c)
	identity := middleware.UserIDFromContext(c)
	limit := h.Gateway.maxBytes()

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+multipartOverhead)
	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.reject(c, Submission{OwnerID: identity, RequestID: requestID}, ErrTooLarge)
			return
		}
		h.reject(c, Submission{OwnerID: identity, RequestID: requestID}, ErrNoFile)
		return
	}

	owner := identity
	if formOwner := firstValue(form, "userId"); formOwner != "" {
		if owner == "" {
			owner = formOwner
		} else if formOwner != owner && "guest:"+formOwner != owner {
			respond.Error(c, http.StatusForbidden, "owner_mismatch", "userId does not match the authenticated user", nil)
			return
		}
	}
	sub := Submission{OwnerID: owner, RequestID: requestID}
	if owner == "" {
		h.reject(c, sub, ErrMissingOwner)
		return
	}

	files := fileParts(form)
	switch {
	case len(files) == 0:
		h.reject(c, sub, ErrNoFile)
		return
	case len(files) > 1:
		h.reject(c, sub, ErrMultipleFiles)
		return
	}
	header := files[0]
	if header.Size > limit {
		h.reject(c, sub, ErrTooLarge)
		return
	}

	f, err := header.Open()
	if err != nil {
		h.reject(c, sub, ErrNoFile)
		return
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		h.reject(c, sub, ErrNoFile)
		return
	}

	sub.FileName = header.Filename
	sub.MediaType = header.Header.Get("Content-Type")
	sub.Data = data

	res, err := h.Gateway.Ingest(c.Request.Context(), sub)
	if err != nil {
		writeError(c, err)
		return
	}

	c.Set("format", string(res.Format))
	c.Set("documentId", res.Document.ID)
	if res.Format.Synchronous() {
		c.Set("statusTransition", string(documents.StatusProcessing)+"->"+string(res.Document.Status))
		respond.Created(c, toSyncResponse(res))
		return
	}
	respond.Accepted(c, toAsyncResponse(res))
}

// reject handles failures detected before the gateway runs.
func (h *Handler) reject(c *gin.Context, sub Submission, err error) {
	recordRejection(sub, err)
	writeError(c, err)
}

func writeError(c *gin.Context, err error) {
	c.Set("rejectReason", Reason(err))
	switch {
	case errors.Is(err, ErrMissingOwner):
		respond.Error(c, http.StatusBadRequest, "validation_error", "User ID is required", nil)
	case errors.Is(err, ErrNoFile):
		respond.Error(c, http.StatusBadRequest, "validation_error", "No file uploaded", nil)
	case errors.Is(err, ErrMultipleFiles):
		respond.Error(c, http.StatusBadRequest, "validation_error", "Only one file can be uploaded at a time", nil)
	case errors.Is(err, ErrUnsupportedType):
		respond.Error(c, http.StatusBadRequest, "unsupported_type", "Unsupported file type. Please upload PDF, DOCX, or image files.", nil)
	case errors.Is(err, ErrTooLarge):
		respond.Error(c, http.StatusRequestEntityTooLarge, "file_too_large", "File exceeds the maximum upload size", nil)
	case errors.Is(err, ErrQuotaExceeded):
		respond.Error(c, http.StatusForbidden, "quota_exceeded", "You have already uploaded an image. Only 1 image extraction is allowed per user.", nil)
	case errors.Is(err, ErrParse):
		respond.Error(c, http.StatusInternalServerError, "parse_error", "Error processing file", err.Error())
	case errors.Is(err, ErrStorage):
		respond.Error(c, http.StatusInternalServerError, "storage_error", "Error uploading file to storage", nil)
	case errors.Is(err, ErrMetadata):
		respond.Error(c, http.StatusInternalServerError, "metadata_error", "Error saving document record", nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", "Error processing file", nil)
	}
}

// fileParts returns every file part in the form, regardless of field name.
func fileParts(form *multipart.Form) []*multipart.FileHeader {
	var out []*multipart.FileHeader
	for _, headers := range form.File {
		out = append(out, headers...)
	}
	return out
}

func firstValue(form *multipart.Form, key string) string {
	for _, v := range form.Value[key] {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
