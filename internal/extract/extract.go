// Package extract converts uploaded bytes into text, HTML or a normalized image.
package extract

import "errors"

const (
	MimePDF  = "application/pdf"
	MimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MimeJPEG = "image/jpeg"
)

// ErrParse marks input that passed type checks but could not be parsed.
var ErrParse = errors.New("unable to parse document")
