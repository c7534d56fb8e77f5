package poller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docparse-backend/internal/documents"
)

// scriptedSource replays snapshots, repeating the last one.
type scriptedSource struct {
	mu    sync.Mutex
	steps []step
	calls int
}

type step struct {
	snap Snapshot
	err  error
}

func (s *scriptedSource) Status(ctx context.Context, id string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	s.calls++
	return s.steps[i].snap, s.steps[i].err
}

func (s *scriptedSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func fastPoller(src Source, attempts int) *Poller {
	return &Poller{Source: src, Interval: time.Millisecond, MaxAttempts: attempts}
}

var processing = step{snap: Snapshot{Status: documents.StatusProcessing}}

func TestPollCompletesWhenContentAppears(t *testing.T) {
	src := &scriptedSource{steps: []step{
		processing,
		processing,
		{snap: Snapshot{Status: documents.StatusCompleted, Content: &documents.Content{Text: "done"}}},
	}}

	outcome, snap, err := fastPoller(src, 10).PollSnapshot(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)
	assert.Equal(t, "done", snap.Content.Text)
	assert.Equal(t, 3, src.callCount())
}

func TestPollReportsFailure(t *testing.T) {
	src := &scriptedSource{steps: []step{
		processing,
		{snap: Snapshot{Status: documents.StatusFailed, FailureReason: "unreadable"}},
	}}

	outcome, snap, err := fastPoller(src, 10).PollSnapshot(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Equal(t, "unreadable", snap.FailureReason)
}

func TestPollTimesOutAfterBudget(t *testing.T) {
	src := &scriptedSource{steps: []step{processing}}

	outcome, err := fastPoller(src, 5).Poll(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeTimeout, outcome)
	assert.NotEqual(t, OutcomeFailed, outcome)
	assert.Equal(t, 5, src.callCount())
}

func TestPollCountsErrorsAsAttempts(t *testing.T) {
	src := &scriptedSource{steps: []step{
		{err: errors.New("connection refused")},
		{err: errors.New("connection refused")},
		{snap: Snapshot{Status: documents.StatusCompleted, Content: &documents.Content{HTML: "<p>x</p>"}}},
	}}

	outcome, err := fastPoller(src, 3).Poll(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)

	src = &scriptedSource{steps: []step{{err: errors.New("boom")}}}
	outcome, err = fastPoller(src, 4).Poll(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeTimeout, outcome)
	assert.Equal(t, 4, src.callCount())
}

func TestPollIgnoresEmptyContent(t *testing.T) {
	src := &scriptedSource{steps: []step{
		{snap: Snapshot{Status: documents.StatusProcessing, Content: &documents.Content{Text: "  "}}},
	}}

	outcome, err := fastPoller(src, 3).Poll(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeTimeout, outcome)
}

func TestPollStopsOnCancel(t *testing.T) {
	src := &scriptedSource{steps: []step{processing}}
	p := &Poller{Source: src, Interval: 5 * time.Millisecond, MaxAttempts: 1000}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := p.Poll(ctx, "doc-1")
		done <- err
	}()

	require.Eventually(t, func() bool { return src.callCount() >= 2 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("poll did not stop")
	}
	stopped := src.callCount()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, src.callCount(), "source queried after cancel")
}

func TestRepoSource(t *testing.T) {
	repo := documents.NewMemoryRepo()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Insert(context.Background(), documents.Document{
		ID: "img-1", OwnerID: "o", ArtifactPath: "o/img-1.jpg", MediaType: "image/jpeg",
		Category: documents.CategoryImage, Status: documents.StatusProcessing, CreatedAt: now, UpdatedAt: now,
	}))
	_, err := repo.Transition(context.Background(), "img-1", documents.TransitionRequest{
		To: documents.StatusFailed, Actor: documents.ActorWorker, Reason: "blurry", At: now,
	})
	require.NoError(t, err)

	outcome, snap, err := fastPoller(RepoSource{Repo: repo}, 3).PollSnapshot(context.Background(), "img-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Equal(t, "blurry", snap.FailureReason)
}

func TestHTTPSource(t *testing.T) {
	var hits int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		n := hits
		mu.Unlock()
		if r.URL.Path != "/api/v1/documents/doc-9" || r.Header.Get("X-Guest-Id") != "abc" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		resp := documents.DocumentResponse{DocumentID: "doc-9", Status: documents.StatusProcessing}
		if n >= 3 {
			resp.Status = documents.StatusCompleted
			resp.ExtractedContent = &documents.Content{Text: "total 4.20"}
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	src := HTTPSource{BaseURL: srv.URL + "/", Header: http.Header{"X-Guest-Id": []string{"abc"}}}
	outcome, snap, err := fastPoller(src, 10).PollSnapshot(context.Background(), "doc-9")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)
	assert.Equal(t, "total 4.20", snap.Content.Text)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, hits)
}
