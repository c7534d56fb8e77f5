package ingest

import (
	"fmt"

	"docparse-backend/internal/documents"
)

// SyncResponse is returned for uploads extracted during the request.
type SyncResponse struct {
	Success          bool               `json:"success"`
	DocumentID       string             `json:"documentId"`
	ExtractedContent *documents.Content `json:"extractedContent"`
	FileType         string             `json:"fileType"`
	FileName         string             `json:"fileName"`
}

// AsyncResponse is returned for uploads handed to the extraction worker.
type AsyncResponse struct {
	Success        bool   `json:"success"`
	DocumentID     string `json:"documentId"`
	ArtifactPath   string `json:"artifactPath"`
	Status         string `json:"status"`
	OriginalSize   string `json:"originalSize"`
	CompressedSize string `json:"compressedSize"`
}

func toSyncResponse(res Result) SyncResponse {
	return SyncResponse{
		Success:          true,
		DocumentID:       res.Document.ID,
		ExtractedContent: res.Document.Content,
		FileType:         res.Document.MediaType,
		FileName:         res.Document.OriginalName,
	}
}

func toAsyncResponse(res Result) AsyncResponse {
	return AsyncResponse{
		Success:        true,
		DocumentID:     res.Document.ID,
		ArtifactPath:   res.Document.ArtifactPath,
		Status:         string(res.Document.Status),
		OriginalSize:   formatKB(res.OriginalSize),
		CompressedSize: formatKB(res.StoredSize),
	}
}

func formatKB(n int64) string {
	return fmt.Sprintf("%.2f KB", float64(n)/1024)
}
