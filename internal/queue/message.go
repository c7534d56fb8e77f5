package queue

import (
	"encoding/json"

	"docparse-backend/internal/documents"
)

// JobVersion is the current Job payload version.
const JobVersion = 1

// Job is the payload sent to the extraction worker for a stored image.
type Job struct {
	DocumentID   string `json:"documentId"`
	OwnerID      string `json:"ownerId"`
	ArtifactPath string `json:"artifactPath"`
	MediaType    string `json:"mediaType"`
	RequestID    string `json:"requestId,omitempty"`
	EnqueuedAt   string `json:"enqueuedAt"`
	Version      int    `json:"version"`
}

// Completion is the outcome a worker reports back for a Job.
type Completion struct {
	DocumentID string             `json:"documentId"`
	Status     string             `json:"status"`
	Content    *documents.Content `json:"content,omitempty"`
	Reason     string             `json:"reason,omitempty"`
	RequestID  string             `json:"requestId,omitempty"`
	Version    int                `json:"version"`
}

// EncodeJob returns the JSON representation of a job.
func EncodeJob(job Job) ([]byte, error) {
	return json.Marshal(job)
}

// DecodeJob parses a JSON payload into a Job.
func DecodeJob(payload []byte) (Job, error) {
	var job Job
	if err := json.Unmarshal(payload, &job); err != nil {
		return Job{}, err
	}
	return job, nil
}

// EncodeCompletion returns the JSON representation of a completion.
func EncodeCompletion(msg Completion) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeCompletion parses a JSON payload into a Completion.
func DecodeCompletion(payload []byte) (Completion, error) {
	var msg Completion
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Completion{}, err
	}
	return msg, nil
}
