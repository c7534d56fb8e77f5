package documents_test

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"docparse-backend/internal/bootstrap"
	"docparse-backend/internal/documents"
	"docparse-backend/internal/poller"
	"docparse-backend/internal/shared/config"
)

func newTestApp(t *testing.T) *bootstrap.App {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Config{
		Port:            "0",
		CORSAllowOrigin: []string{"http://localhost:5173"},
		LocalStoreDir:   t.TempDir(),
		Env:             "dev",
		MetadataStore:   "memory",
		ObjectStoreType: "local",
		MaxUploadBytes:  8 << 20,
		WorkerToken:     "secret",
	}

	app, err := bootstrap.Build(cfg)
	if err != nil {
		t.Fatalf("bootstrap build: %v", err)
	}
	t.Cleanup(func() { _ = app.Close() })
	return app
}

func TestImageUploadCompletedByWorkerCallback(t *testing.T) {
	app := newTestApp(t)
	router := app.Router

	resp := upload(t, router, "receipt.png", "image/png", samplePNG(t), "test-guest")
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", resp.Code, resp.Body.String())
	}
	var accepted struct {
		DocumentID   string `json:"documentId"`
		ArtifactPath string `json:"artifactPath"`
		Status       string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
		t.Fatalf("decode upload response: %v", err)
	}
	if accepted.DocumentID == "" || accepted.Status != "processing" {
		t.Fatalf("unexpected upload response %+v", accepted)
	}
	if !strings.HasSuffix(accepted.ArtifactPath, ".jpg") {
		t.Fatalf("expected normalized jpeg artifact, got %s", accepted.ArtifactPath)
	}

	doc := getDocument(t, router, accepted.DocumentID, "test-guest", http.StatusOK)
	if doc.Status != "processing" || doc.ExtractedContent != nil {
		t.Fatalf("expected processing without content, got %+v", doc)
	}

	callback := `{"status":"completed","content":{"fields":[{"label":"total","value":"12.50"}]}}`
	if code := postCallback(router, accepted.DocumentID, "wrong", callback); code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 for bad worker token, got %d", code)
	}
	if code := postCallback(router, accepted.DocumentID, "secret", callback); code != http.StatusOK {
		t.Fatalf("expected status 200 for callback, got %d", code)
	}

	doc = getDocument(t, router, accepted.DocumentID, "test-guest", http.StatusOK)
	if doc.Status != "completed" {
		t.Fatalf("expected completed, got %s", doc.Status)
	}
	if doc.ExtractedContent == nil || len(doc.ExtractedContent.Fields) != 1 || doc.ExtractedContent.Fields[0].Value != "12.50" {
		t.Fatalf("unexpected content %+v", doc.ExtractedContent)
	}

	late := `{"status":"failed","reason":"late"}`
	if code := postCallback(router, accepted.DocumentID, "secret", late); code != http.StatusConflict {
		t.Fatalf("expected status 409 for terminal document, got %d", code)
	}

	getDocument(t, router, accepted.DocumentID, "someone-else", http.StatusNotFound)
}

// observingSource records every snapshot the poller sees.
type observingSource struct {
	src poller.Source

	mu    sync.Mutex
	seen  []poller.Snapshot
	first chan struct{}
	once  sync.Once
}

func (o *observingSource) Status(ctx context.Context, id string) (poller.Snapshot, error) {
	snap, err := o.src.Status(ctx, id)
	if err == nil {
		o.mu.Lock()
		o.seen = append(o.seen, snap)
		o.mu.Unlock()
		o.once.Do(func() { close(o.first) })
	}
	return snap, err
}

func (o *observingSource) snapshots() []poller.Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]poller.Snapshot(nil), o.seen...)
}

func TestImageUploadCallbackObservedByPoller(t *testing.T) {
	app := newTestApp(t)

	resp := upload(t, app.Router, "receipt.png", "image/png", samplePNG(t), "poll-guest")
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", resp.Code, resp.Body.String())
	}
	var accepted struct {
		DocumentID string `json:"documentId"`
		Status     string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
		t.Fatalf("decode upload response: %v", err)
	}
	if accepted.Status != "processing" {
		t.Fatalf("expected processing, got %s", accepted.Status)
	}

	src := &observingSource{src: poller.RepoSource{Repo: app.DocumentsRepo}, first: make(chan struct{})}
	p := &poller.Poller{Source: src, Interval: 10 * time.Millisecond, MaxAttempts: 500}

	type result struct {
		outcome poller.Outcome
		snap    poller.Snapshot
		err     error
	}
	done := make(chan result, 1)
	go func() {
		outcome, snap, err := p.PollSnapshot(context.Background(), accepted.DocumentID)
		done <- result{outcome, snap, err}
	}()

	select {
	case <-src.first:
	case <-time.After(2 * time.Second):
		t.Fatal("poller never queried the document")
	}
	time.Sleep(50 * time.Millisecond)
	select {
	case r := <-done:
		t.Fatalf("poller finished before the callback: %+v", r)
	default:
	}
	before := src.snapshots()
	for _, snap := range before {
		if snap.Status != documents.StatusProcessing || snap.Content != nil {
			t.Fatalf("expected processing without content before the callback, got %+v", snap)
		}
	}

	callback := `{"status":"completed","content":{"fields":[{"label":"total","value":"12.50"}]}}`
	if code := postCallback(app.Router, accepted.DocumentID, "secret", callback); code != http.StatusOK {
		t.Fatalf("expected status 200 for callback, got %d", code)
	}

	var r result
	select {
	case r = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("poller did not observe the completion")
	}
	if r.err != nil || r.outcome != poller.OutcomeCompleted {
		t.Fatalf("expected completed outcome, got %s err=%v", r.outcome, r.err)
	}
	if r.snap.Content == nil || len(r.snap.Content.Fields) != 1 || r.snap.Content.Fields[0].Value != "12.50" {
		t.Fatalf("unexpected final content %+v", r.snap.Content)
	}
}

func TestSecondImageRejected(t *testing.T) {
	app := newTestApp(t)

	if resp := upload(t, app.Router, "a.png", "image/png", samplePNG(t), "test-guest"); resp.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d", resp.Code)
	}
	resp := upload(t, app.Router, "b.png", "image/png", samplePNG(t), "test-guest")
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", resp.Code)
	}
}

func TestPDFListedAndCounted(t *testing.T) {
	app := newTestApp(t)
	router := app.Router

	pdf, err := os.ReadFile("../ingest/testdata/sample.pdf")
	if err != nil {
		t.Fatalf("read sample pdf: %v", err)
	}
	resp := upload(t, router, "invoice.pdf", "application/pdf", pdf, "test-guest")
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var created struct {
		DocumentID string `json:"documentId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode upload response: %v", err)
	}

	doc := getDocument(t, router, created.DocumentID, "test-guest", http.StatusOK)
	if doc.Status != "completed" || doc.ExtractedContent == nil || !strings.Contains(doc.ExtractedContent.Text, "Hello") {
		t.Fatalf("unexpected document %+v", doc)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents?status=completed", nil)
	addGuestHeader(req, "test-guest")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 for list, got %d", rec.Code)
	}
	var list struct {
		Items []struct {
			DocumentID string `json:"documentId"`
		} `json:"items"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Items) != 1 || list.Items[0].DocumentID != created.DocumentID {
		t.Fatalf("unexpected list %+v", list)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/documents/stats", nil)
	addGuestHeader(req, "test-guest")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 for stats, got %d", rec.Code)
	}
	var stats struct {
		Total    int            `json:"total"`
		ByStatus map[string]int `json:"byStatus"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Total != 1 || stats.ByStatus["completed"] != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestHealthAndMetricsArePublic(t *testing.T) {
	app := newTestApp(t)

	for _, path := range []string{"/api/v1/health", "/metrics"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		app.Router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected status 200, got %d", path, rec.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents", nil)
	rec := httptest.NewRecorder()
	app.Router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 without identity, got %d", rec.Code)
	}
}

type documentView struct {
	DocumentID       string `json:"documentId"`
	Status           string `json:"status"`
	ExtractedContent *struct {
		Text   string `json:"text"`
		Fields []struct {
			Label string `json:"label"`
			Value string `json:"value"`
		} `json:"fields"`
	} `json:"extractedContent"`
}

func upload(t *testing.T, router http.Handler, name, mediaType string, data []byte, guest string) *httptest.ResponseRecorder {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	header := make(map[string][]string)
	header["Content-Disposition"] = []string{`form-data; name="file"; filename="` + name + `"`}
	header["Content-Type"] = []string{mediaType}
	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	addGuestHeader(req, guest)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func getDocument(t *testing.T, router http.Handler, id, guest string, wantCode int) documentView {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents/"+id, nil)
	addGuestHeader(req, guest)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != wantCode {
		t.Fatalf("GET %s: expected status %d, got %d", id, wantCode, resp.Code)
	}
	var doc documentView
	if wantCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
			t.Fatalf("decode document: %v", err)
		}
	}
	return doc
}

func postCallback(router http.Handler, id, token, body string) int {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/internal/documents/"+id+"/extraction", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Worker-Token", token)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp.Code
}

func samplePNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 32, 24))
	for y := 0; y < 24; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 8), G: uint8(y * 10), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func addGuestHeader(req *http.Request, guest string) {
	req.Header.Set("X-Guest-Id", guest)
}
