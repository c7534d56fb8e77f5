package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"docparse-backend/internal/documents"
	"docparse-backend/internal/extract"
	"docparse-backend/internal/queue"
	"docparse-backend/internal/shared/metrics"
	"docparse-backend/internal/shared/storage/object"
	"docparse-backend/internal/shared/telemetry"
	"docparse-backend/internal/shared/util"
)

const (
	DefaultMaxBytes       = 8 << 20
	defaultTriggerTimeout = 10 * time.Second
)

// Submission is one uploaded file with its declared type and owner.
type Submission struct {
	OwnerID   string
	FileName  string
	MediaType string
	Data      []byte
	RequestID string
}

// Result describes an accepted upload.
type Result struct {
	Document     documents.Document
	Format       Format
	OriginalSize int64
	StoredSize   int64
	Triggered    bool
}

// Gateway runs the ingestion pipeline for a single upload:
// received, classified, quota-checked, extracted, persisted, triggered.
// Any stage may reject with a typed error.
type Gateway struct {
	Store          object.ObjectStore
	Repo           documents.Repo
	Quota          QuotaGuard
	Trigger        queue.Trigger
	MaxBytes       int64
	TriggerTimeout time.Duration
	NewID          func() string
	Now            func() time.Time

	wg sync.WaitGroup
}

// NewGateway wires a Gateway whose quota guard reads from repo.
func NewGateway(store object.ObjectStore, repo documents.Repo, trigger queue.Trigger, maxBytes int64) *Gateway {
	if trigger == nil {
		trigger = queue.Noop{}
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Gateway{
		Store:          store,
		Repo:           repo,
		Quota:          QuotaGuard{Images: repo},
		Trigger:        trigger,
		MaxBytes:       maxBytes,
		TriggerTimeout: defaultTriggerTimeout,
	}
}

// Ingest validates, extracts and persists sub. For images the extraction
// worker is triggered after the row is committed; the trigger outcome never
// changes the result.
func (g *Gateway) Ingest(ctx context.Context, sub Submission) (Result, error) {
	res, err := g.ingest(ctx, sub)
	if err != nil {
		recordRejection(sub, err)
		return Result{}, err
	}
	metrics.IncUploadAccepted(string(res.Format))
	return res, nil
}

// Wait blocks until in-flight triggers have finished.
func (g *Gateway) Wait() {
	g.wg.Wait()
}

func (g *Gateway) ingest(ctx context.Context, sub Submission) (Result, error) {
	sub.OwnerID = strings.TrimSpace(sub.OwnerID)
	sub.FileName = strings.TrimSpace(sub.FileName)
	logState(sub, "received", map[string]any{"size_bytes": len(sub.Data)})

	if sub.OwnerID == "" {
		return Result{}, ErrMissingOwner
	}
	ownerSegment, err := util.PathSegment(sub.OwnerID)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrMissingOwner, err)
	}
	if len(sub.Data) == 0 {
		return Result{}, ErrNoFile
	}
	if int64(len(sub.Data)) > g.maxBytes() {
		return Result{}, ErrTooLarge
	}

	format := Classify(sub.MediaType, sub.FileName)
	category, ok := format.Category()
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnsupportedType, sub.MediaType)
	}
	logState(sub, "classified", map[string]any{"format": string(format)})

	if err := g.Quota.Check(ctx, sub.OwnerID, format); err != nil {
		return Result{}, err
	}
	logState(sub, "quota_checked", map[string]any{"format": string(format)})

	started := time.Now()
	ex, err := g.extract(ctx, sub, format)
	if err != nil {
		return Result{}, err
	}
	metrics.ObserveExtractionDurationMs(metrics.SinceMillis(started))
	logState(sub, "extracted", map[string]any{
		"format":       string(format),
		"duration_ms":  metrics.SinceMillis(started),
		"stored_bytes": len(ex.data),
	})

	now := g.now()
	id := g.newID()
	doc := documents.Document{
		ID:           id,
		OwnerID:      sub.OwnerID,
		ArtifactPath: ownerSegment + "/" + id + ex.extension,
		MediaType:    ex.mediaType,
		Category:     category,
		Status:       documents.StatusProcessing,
		OriginalName: displayName(sub.FileName, ex.extension),
		SizeBytes:    int64(len(ex.data)),
		Checksum:     util.SHA256Hex(sub.Data),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if ex.content != nil {
		ex.content.OriginalName = doc.OriginalName
		doc, err = doc.Apply(documents.TransitionRequest{
			To:      documents.StatusCompleted,
			Actor:   documents.ActorGateway,
			Content: ex.content,
			At:      now,
		})
		if err != nil {
			return Result{}, fmt.Errorf("complete document: %w", err)
		}
	}

	if _, err := g.Store.Put(ctx, doc.ArtifactPath, doc.MediaType, bytes.NewReader(ex.data)); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	if err := g.Repo.Insert(ctx, doc); err != nil {
		metrics.IncOrphanedArtifact()
		telemetry.Warn("ingest.orphaned_artifact", map[string]any{
			"request_id":    sub.RequestID,
			"owner_id":      sub.OwnerID,
			"document_id":   doc.ID,
			"artifact_path": doc.ArtifactPath,
			"error":         err,
		})
		if errors.Is(err, documents.ErrImageQuota) {
			return Result{}, ErrQuotaExceeded
		}
		return Result{}, fmt.Errorf("%w: %w", ErrMetadata, err)
	}
	fields := map[string]any{"document_id": doc.ID, "format": string(format), "status": string(doc.Status)}
	if len(doc.Transitions) > 0 {
		fields["status_transition"] = fmt.Sprintf("%s->%s", documents.StatusProcessing, doc.Status)
		fields["actor"] = string(documents.ActorGateway)
	}
	logState(sub, "persisted", fields)

	res := Result{
		Document:     doc,
		Format:       format,
		OriginalSize: int64(len(sub.Data)),
		StoredSize:   int64(len(ex.data)),
	}
	if format == FormatImage {
		g.dispatch(ctx, sub, doc)
		res.Triggered = true
		logState(sub, "triggered", map[string]any{"document_id": doc.ID})
	}
	return res, nil
}

type extraction struct {
	content   *documents.Content
	data      []byte
	mediaType string
	extension string
}

func (g *Gateway) extract(ctx context.Context, sub Submission, format Format) (extraction, error) {
	switch format {
	case FormatPDF:
		text, err := extract.PDF(ctx, sub.Data)
		if err != nil {
			return extraction{}, err
		}
		return extraction{
			content:   &documents.Content{Text: text},
			data:      sub.Data,
			mediaType: extract.MimePDF,
			extension: ".pdf",
		}, nil
	case FormatDOCX:
		res, err := extract.DOCX(ctx, sub.Data)
		if err != nil {
			return extraction{}, err
		}
		for _, w := range res.Warnings {
			telemetry.Warn("ingest.docx_warning", map[string]any{
				"request_id": sub.RequestID,
				"owner_id":   sub.OwnerID,
				"warning":    w,
			})
		}
		return extraction{
			content:   &documents.Content{HTML: res.HTML},
			data:      sub.Data,
			mediaType: extract.MimeDOCX,
			extension: ".docx",
		}, nil
	case FormatImage:
		res, err := extract.Image(ctx, sub.Data)
		if err != nil {
			return extraction{}, err
		}
		return extraction{
			data:      res.Data,
			mediaType: extract.MimeJPEG,
			extension: ".jpg",
		}, nil
	default:
		return extraction{}, ErrUnsupportedType
	}
}

func (g *Gateway) dispatch(ctx context.Context, sub Submission, doc documents.Document) {
	job := queue.Job{
		DocumentID:   doc.ID,
		OwnerID:      doc.OwnerID,
		ArtifactPath: doc.ArtifactPath,
		MediaType:    doc.MediaType,
		RequestID:    sub.RequestID,
		EnqueuedAt:   g.now().Format(time.RFC3339),
		Version:      queue.JobVersion,
	}
	timeout := g.TriggerTimeout
	if timeout <= 0 {
		timeout = defaultTriggerTimeout
	}
	base := context.WithoutCancel(ctx)

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		tctx, cancel := context.WithTimeout(base, timeout)
		defer cancel()

		fields := map[string]any{
			"request_id":    job.RequestID,
			"owner_id":      job.OwnerID,
			"document_id":   job.DocumentID,
			"artifact_path": job.ArtifactPath,
		}
		if err := g.Trigger.Invoke(tctx, job); err != nil {
			metrics.IncTriggerFailed()
			fields["error"] = err
			telemetry.Error("ingest.trigger_failed", fields)
			return
		}
		telemetry.Info("ingest.trigger_sent", fields)
	}()
}

func (g *Gateway) maxBytes() int64 {
	if g.MaxBytes <= 0 {
		return DefaultMaxBytes
	}
	return g.MaxBytes
}

func (g *Gateway) newID() string {
	if g.NewID != nil {
		return g.NewID()
	}
	return uuid.NewString()
}

func (g *Gateway) now() time.Time {
	if g.Now != nil {
		return g.Now().UTC()
	}
	return time.Now().UTC()
}

// displayName keeps the uploaded name when it is safe, otherwise falls back
// to a generic name with the stored extension.
func displayName(name, ext string) string {
	if clean, err := util.SanitizeFileName(filepath.Base(name)); err == nil && clean != "." {
		return clean
	}
	return "upload" + ext
}

func logState(sub Submission, state string, extra map[string]any) {
	fields := map[string]any{
		"state":      state,
		"request_id": sub.RequestID,
		"owner_id":   sub.OwnerID,
	}
	for k, v := range extra {
		fields[k] = v
	}
	telemetry.Info("ingest.state", fields)
}

func recordRejection(sub Submission, err error) {
	reason := Reason(err)
	metrics.IncUploadRejected(reason)
	fields := map[string]any{
		"state":      "rejected",
		"request_id": sub.RequestID,
		"owner_id":   sub.OwnerID,
		"reason":     reason,
		"error":      err,
	}
	if reason == "internal" || reason == "storage" || reason == "metadata" {
		telemetry.Error("ingest.rejected", fields)
		return
	}
	telemetry.Warn("ingest.rejected", fields)
}
