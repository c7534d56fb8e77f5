package documents

import "time"

// DocumentResponse is the outward-facing representation of a document.
type DocumentResponse struct {
	DocumentID       string       `json:"documentId"`
	Status           Status       `json:"status"`
	Category         Category     `json:"category"`
	FileType         string       `json:"fileType"`
	FileName         string       `json:"fileName,omitempty"`
	ArtifactPath     string       `json:"artifactPath"`
	SizeBytes        int64        `json:"sizeBytes"`
	ExtractedContent *Content     `json:"extractedContent"`
	FailureReason    string       `json:"failureReason,omitempty"`
	Transitions      []Transition `json:"transitions,omitempty"`
	CreatedAt        time.Time    `json:"createdAt"`
	UpdatedAt        time.Time    `json:"updatedAt"`
}

// ListResponse wraps a page of documents.
type ListResponse struct {
	Items  []DocumentResponse `json:"items"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`
}

// ExtractionResultRequest is the worker callback body.
type ExtractionResultRequest struct {
	Status  string   `json:"status"`
	Content *Content `json:"content,omitempty"`
	Reason  string   `json:"reason,omitempty"`
}

// ToResponse converts a document into its API shape.
func ToResponse(doc Document) DocumentResponse {
	return DocumentResponse{
		DocumentID:       doc.ID,
		Status:           doc.Status,
		Category:         doc.Category,
		FileType:         doc.MediaType,
		FileName:         doc.OriginalName,
		ArtifactPath:     doc.ArtifactPath,
		SizeBytes:        doc.SizeBytes,
		ExtractedContent: doc.Content,
		FailureReason:    doc.FailureReason,
		Transitions:      doc.Transitions,
		CreatedAt:        doc.CreatedAt,
		UpdatedAt:        doc.UpdatedAt,
	}
}
