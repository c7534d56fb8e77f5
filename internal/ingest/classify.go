package ingest

import (
	"mime"
	"path/filepath"
	"strings"

	"docparse-backend/internal/documents"
	"docparse-backend/internal/extract"
)

// Format is the extraction family an upload belongs to.
type Format string

const (
	FormatPDF         Format = "pdf"
	FormatDOCX        Format = "docx"
	FormatImage       Format = "image"
	FormatUnsupported Format = "unsupported"
)

// Category maps a supported format to the stored document category.
func (f Format) Category() (documents.Category, bool) {
	switch f {
	case FormatPDF:
		return documents.CategoryPDF, true
	case FormatDOCX:
		return documents.CategoryDOCX, true
	case FormatImage:
		return documents.CategoryImage, true
	default:
		return "", false
	}
}

// Synchronous reports whether the format is extracted during the request.
func (f Format) Synchronous() bool {
	return f == FormatPDF || f == FormatDOCX
}

var extensionFormats = map[string]Format{
	".pdf":  FormatPDF,
	".docx": FormatDOCX,
	".png":  FormatImage,
	".jpg":  FormatImage,
	".jpeg": FormatImage,
	".gif":  FormatImage,
	".webp": FormatImage,
	".bmp":  FormatImage,
	".tif":  FormatImage,
	".tiff": FormatImage,
}

// Classify maps a declared media type to a Format. Generic or missing types
// fall back to the file extension. Classify is pure: the same inputs always
// give the same Format.
func Classify(mediaType, fileName string) Format {
	mt := normalizeMediaType(mediaType)
	switch {
	case mt == extract.MimePDF:
		return FormatPDF
	case mt == extract.MimeDOCX:
		return FormatDOCX
	case strings.HasPrefix(mt, "image/"):
		return FormatImage
	}

	ext := strings.ToLower(filepath.Ext(strings.TrimSpace(fileName)))
	switch mt {
	case "", "application/octet-stream", "binary/octet-stream":
		if f, ok := extensionFormats[ext]; ok {
			return f
		}
	case "application/zip", "application/x-zip-compressed":
		if ext == ".docx" {
			return FormatDOCX
		}
	}
	return FormatUnsupported
}

func normalizeMediaType(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if mt, _, err := mime.ParseMediaType(raw); err == nil {
		return strings.ToLower(mt)
	}
	if i := strings.IndexByte(raw, ';'); i >= 0 {
		raw = raw[:i]
	}
	return strings.ToLower(strings.TrimSpace(raw))
}
