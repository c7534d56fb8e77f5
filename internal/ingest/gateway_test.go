package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docparse-backend/internal/documents"
	"docparse-backend/internal/queue"
	"docparse-backend/internal/shared/storage/object"
)

type memStore struct {
	mu     sync.Mutex
	puts   int
	err    error
	values map[string][]byte
	types  map[string]string
}

func newMemStore() *memStore {
	return &memStore{values: map[string][]byte{}, types: map[string]string{}}
}

func (s *memStore) Put(ctx context.Context, key, contentType string, r io.Reader) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts++
	if s.err != nil {
		return 0, s.err
	}
	if _, ok := s.values[key]; ok {
		return 0, object.ErrAlreadyExists
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	s.values[key] = b
	s.types[key] = contentType
	return int64(len(b)), nil
}

func (s *memStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.values[key]
	if !ok {
		return nil, object.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (s *memStore) putCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts
}

// recordingTrigger checks that the row is committed before it is invoked.
type recordingTrigger struct {
	mu       sync.Mutex
	repo     documents.Repo
	jobs     []queue.Job
	rowFound []bool
	err      error
}

func (r *recordingTrigger) Invoke(ctx context.Context, job queue.Job) error {
	_, err := r.repo.GetByID(ctx, job.DocumentID)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
	r.rowFound = append(r.rowFound, err == nil)
	return r.err
}

type failingRepo struct {
	*documents.MemoryRepo
	insertErr error
	hideImage bool
}

func (f *failingRepo) Insert(ctx context.Context, doc documents.Document) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	return f.MemoryRepo.Insert(ctx, doc)
}

func (f *failingRepo) HasImage(ctx context.Context, ownerID string) (bool, error) {
	if f.hideImage {
		return false, nil
	}
	return f.MemoryRepo.HasImage(ctx, ownerID)
}

func fixture(t *testing.T, name string) []byte {
	t.Helper()
	b, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return b
}

type harness struct {
	gw      *Gateway
	store   *memStore
	repo    *documents.MemoryRepo
	trigger *recordingTrigger
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	repo := documents.NewMemoryRepo()
	store := newMemStore()
	trigger := &recordingTrigger{repo: repo}
	gw := NewGateway(store, repo, trigger, DefaultMaxBytes)
	seq := 0
	var mu sync.Mutex
	gw.NewID = func() string {
		mu.Lock()
		defer mu.Unlock()
		seq++
		return fmt.Sprintf("doc-%d", seq)
	}
	gw.Now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return &harness{gw: gw, store: store, repo: repo, trigger: trigger}
}

func TestIngestPDFCompletesSynchronously(t *testing.T) {
	h := newHarness(t)

	res, err := h.gw.Ingest(context.Background(), Submission{
		OwnerID:   "owner-1",
		FileName:  "invoice.pdf",
		MediaType: "application/pdf",
		Data:      fixture(t, "sample.pdf"),
		RequestID: "req-1",
	})
	require.NoError(t, err)
	h.gw.Wait()

	assert.Equal(t, FormatPDF, res.Format)
	assert.Equal(t, documents.StatusCompleted, res.Document.Status)
	require.NotNil(t, res.Document.Content)
	assert.Contains(t, res.Document.Content.Text, "Hello")
	assert.Equal(t, "invoice.pdf", res.Document.Content.OriginalName)
	assert.Equal(t, "owner-1/doc-1.pdf", res.Document.ArtifactPath)
	assert.False(t, res.Triggered)

	stored, err := h.repo.GetByID(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, documents.StatusCompleted, stored.Status)
	require.Len(t, stored.Transitions, 1)
	assert.Equal(t, documents.ActorGateway, stored.Transitions[0].Actor)
	assert.Equal(t, documents.StatusProcessing, stored.Transitions[0].From)

	assert.Equal(t, 1, h.store.putCount())
	assert.Equal(t, "application/pdf", h.store.types["owner-1/doc-1.pdf"])
	assert.Empty(t, h.trigger.jobs)
}

func TestIngestDOCXProducesHTML(t *testing.T) {
	h := newHarness(t)

	res, err := h.gw.Ingest(context.Background(), Submission{
		OwnerID:   "owner-1",
		FileName:  "report.docx",
		MediaType: "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		Data:      fixture(t, "sample.docx"),
	})
	require.NoError(t, err)

	assert.Equal(t, documents.StatusCompleted, res.Document.Status)
	assert.Contains(t, res.Document.Content.HTML, "<h1>Quarterly Report</h1>")
	assert.Contains(t, res.Document.Content.HTML, "<strong>Revenue</strong>")
	assert.Equal(t, "owner-1/doc-1.docx", res.Document.ArtifactPath)
}

func TestIngestImageTriggersAfterCommit(t *testing.T) {
	h := newHarness(t)
	original := fixture(t, "sample.png")

	res, err := h.gw.Ingest(context.Background(), Submission{
		OwnerID:   "guest:abc",
		FileName:  "receipt.png",
		MediaType: "image/png",
		Data:      original,
		RequestID: "req-9",
	})
	require.NoError(t, err)
	h.gw.Wait()

	assert.Equal(t, FormatImage, res.Format)
	assert.Equal(t, documents.StatusProcessing, res.Document.Status)
	assert.Nil(t, res.Document.Content)
	assert.True(t, res.Triggered)
	assert.Equal(t, "guest:abc/doc-1.jpg", res.Document.ArtifactPath)
	assert.Equal(t, "image/jpeg", res.Document.MediaType)
	assert.Equal(t, int64(len(original)), res.OriginalSize)

	stored := h.store.values[res.Document.ArtifactPath]
	_, format, err := image.DecodeConfig(bytes.NewReader(stored))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, int64(len(stored)), res.StoredSize)

	require.Len(t, h.trigger.jobs, 1)
	assert.True(t, h.trigger.rowFound[0], "trigger ran before the row was committed")
	job := h.trigger.jobs[0]
	assert.Equal(t, "doc-1", job.DocumentID)
	assert.Equal(t, "req-9", job.RequestID)
	assert.Equal(t, queue.JobVersion, job.Version)
}

func TestIngestSecondImageIsRejectedBeforeUpload(t *testing.T) {
	h := newHarness(t)
	sub := Submission{OwnerID: "owner-1", FileName: "a.png", MediaType: "image/png", Data: fixture(t, "sample.png")}

	_, err := h.gw.Ingest(context.Background(), sub)
	require.NoError(t, err)
	_, err = h.gw.Ingest(context.Background(), sub)
	require.ErrorIs(t, err, ErrQuotaExceeded)
	h.gw.Wait()

	assert.Equal(t, 1, h.store.putCount())
	docs, err := h.repo.Query(context.Background(), documents.Filter{OwnerID: "owner-1"})
	require.NoError(t, err)
	assert.Len(t, docs, 1)

	// Other formats are unaffected by the image quota.
	_, err = h.gw.Ingest(context.Background(), Submission{OwnerID: "owner-1", FileName: "a.pdf", MediaType: "application/pdf", Data: fixture(t, "sample.pdf")})
	require.NoError(t, err)
}

func TestIngestConcurrentImagesAdmitExactlyOne(t *testing.T) {
	h := newHarness(t)
	data := fixture(t, "sample.png")

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.gw.Ingest(context.Background(), Submission{OwnerID: "owner-1", FileName: "a.png", MediaType: "image/png", Data: data})
		}(i)
	}
	wg.Wait()
	h.gw.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		require.ErrorIs(t, err, ErrQuotaExceeded)
	}
	assert.Equal(t, 1, ok)
	has, err := h.repo.HasImage(context.Background(), "owner-1")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestIngestRejectionsLeaveNoTrace(t *testing.T) {
	tests := []struct {
		name    string
		sub     Submission
		wantErr error
	}{
		{"missing owner", Submission{FileName: "a.pdf", MediaType: "application/pdf", Data: []byte("%PDF")}, ErrMissingOwner},
		{"dot owner", Submission{OwnerID: "..", FileName: "a.pdf", MediaType: "application/pdf", Data: []byte("%PDF")}, ErrMissingOwner},
		{"empty file", Submission{OwnerID: "o", FileName: "a.pdf", MediaType: "application/pdf"}, ErrNoFile},
		{"unsupported", Submission{OwnerID: "o", FileName: "a.txt", MediaType: "text/plain", Data: []byte("hi")}, ErrUnsupportedType},
		{"bad pdf", Submission{OwnerID: "o", FileName: "a.pdf", MediaType: "application/pdf", Data: []byte("not a pdf")}, ErrParse},
		{"bad docx", Submission{OwnerID: "o", FileName: "a.docx", MediaType: "application/vnd.openxmlformats-officedocument.wordprocessingml.document", Data: []byte("PK?")}, ErrParse},
		{"bad image", Submission{OwnerID: "o", FileName: "a.png", MediaType: "image/png", Data: []byte("png?")}, ErrParse},
		{"too large", Submission{OwnerID: "o", FileName: "a.pdf", MediaType: "application/pdf", Data: bytes.Repeat([]byte("x"), DefaultMaxBytes+1)}, ErrTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			_, err := h.gw.Ingest(context.Background(), tt.sub)
			require.ErrorIs(t, err, tt.wantErr)
			h.gw.Wait()

			assert.Equal(t, 0, h.store.putCount())
			stats, err := h.repo.Stats(context.Background(), strings.TrimSpace(tt.sub.OwnerID))
			require.NoError(t, err)
			assert.Zero(t, stats.Total)
			assert.Empty(t, h.trigger.jobs)
		})
	}
}

func TestIngestStorageFailureSkipsRow(t *testing.T) {
	h := newHarness(t)
	h.store.err = errors.New("bucket unavailable")

	_, err := h.gw.Ingest(context.Background(), Submission{OwnerID: "o", FileName: "a.png", MediaType: "image/png", Data: fixture(t, "sample.png")})
	require.ErrorIs(t, err, ErrStorage)
	h.gw.Wait()

	has, err := h.repo.HasImage(context.Background(), "o")
	require.NoError(t, err)
	assert.False(t, has)
	assert.Empty(t, h.trigger.jobs)
}

func TestIngestMetadataFailureOrphansArtifact(t *testing.T) {
	h := newHarness(t)
	h.gw.Repo = &failingRepo{MemoryRepo: h.repo, insertErr: errors.New("connection reset")}

	_, err := h.gw.Ingest(context.Background(), Submission{OwnerID: "o", FileName: "a.png", MediaType: "image/png", Data: fixture(t, "sample.png")})
	require.ErrorIs(t, err, ErrMetadata)
	h.gw.Wait()

	assert.Equal(t, 1, h.store.putCount())
	assert.Empty(t, h.trigger.jobs)
}

func TestIngestQuotaRaceLostAtInsert(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.gw.Ingest(ctx, Submission{OwnerID: "o", FileName: "a.png", MediaType: "image/png", Data: fixture(t, "sample.png")})
	require.NoError(t, err)

	// The pre-check misses the first image, so the store constraint decides.
	h.gw.Repo = &failingRepo{MemoryRepo: h.repo, hideImage: true}
	h.gw.Quota = QuotaGuard{Images: h.gw.Repo}

	_, err = h.gw.Ingest(ctx, Submission{OwnerID: "o", FileName: "b.png", MediaType: "image/png", Data: fixture(t, "sample.png")})
	require.ErrorIs(t, err, ErrQuotaExceeded)
	h.gw.Wait()

	assert.Equal(t, 2, h.store.putCount())
	assert.Len(t, h.trigger.jobs, 1)
}

func TestIngestTriggerFailureKeepsRow(t *testing.T) {
	h := newHarness(t)
	h.trigger.err = errors.New("queue unavailable")

	res, err := h.gw.Ingest(context.Background(), Submission{OwnerID: "o", FileName: "a.png", MediaType: "image/png", Data: fixture(t, "sample.png")})
	require.NoError(t, err)
	h.gw.Wait()

	stored, err := h.repo.GetByID(context.Background(), res.Document.ID)
	require.NoError(t, err)
	assert.Equal(t, documents.StatusProcessing, stored.Status)
}

func TestIngestTriggerOutlivesRequestContext(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())

	_, err := h.gw.Ingest(ctx, Submission{OwnerID: "o", FileName: "a.png", MediaType: "image/png", Data: fixture(t, "sample.png")})
	require.NoError(t, err)
	cancel()
	h.gw.Wait()

	require.Len(t, h.trigger.jobs, 1)
	assert.True(t, h.trigger.rowFound[0])
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "scan.pdf", displayName("scan.pdf", ".pdf"))
	assert.Equal(t, "b.pdf", displayName("dir/b.pdf", ".pdf"))
	assert.Equal(t, "upload.jpg", displayName("", ".jpg"))
	assert.Equal(t, "upload.pdf", displayName("x..pdf", ".pdf"))
}

func TestReason(t *testing.T) {
	assert.Equal(t, "quota", Reason(ErrQuotaExceeded))
	assert.Equal(t, "parse", Reason(fmt.Errorf("wrap: %w", ErrParse)))
	assert.Equal(t, "metadata", Reason(fmt.Errorf("%w: %w", ErrMetadata, errors.New("x"))))
	assert.Equal(t, "internal", Reason(errors.New("other")))
}
