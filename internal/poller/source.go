package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"docparse-backend/internal/documents"
)

// DocumentReader loads a document by id.
type DocumentReader interface {
	GetByID(ctx context.Context, id string) (documents.Document, error)
}

// RepoSource reads status straight from the metadata store.
type RepoSource struct {
	Repo DocumentReader
}

// Status implements Source.
func (s RepoSource) Status(ctx context.Context, documentID string) (Snapshot, error) {
	doc, err := s.Repo.GetByID(ctx, documentID)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Status: doc.Status, Content: doc.Content, FailureReason: doc.FailureReason}, nil
}

// HTTPSource reads status through GET /api/v1/documents/:id.
type HTTPSource struct {
	BaseURL string
	Client  *http.Client
	Header  http.Header
}

// Status implements Source.
func (s HTTPSource) Status(ctx context.Context, documentID string) (Snapshot, error) {
	endpoint := strings.TrimRight(s.BaseURL, "/") + "/api/v1/documents/" + url.PathEscape(documentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Snapshot{}, err
	}
	for k, values := range s.Header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Snapshot{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Snapshot{}, fmt.Errorf("status query returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var doc documents.DocumentResponse
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return Snapshot{}, fmt.Errorf("decode status: %w", err)
	}
	return Snapshot{Status: doc.Status, Content: doc.ExtractedContent, FailureReason: doc.FailureReason}, nil
}
