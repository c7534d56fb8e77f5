package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

var disablePDFConfigDir sync.Once

type pdfResult struct {
	text string
	err  error
}

// PDF extracts the raw text of a PDF. Parsing runs on its own goroutine which
// delivers exactly one result on a buffered channel, so returning early on a
// canceled ctx never strands it.
func PDF(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	results := make(chan pdfResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				results <- pdfResult{err: fmt.Errorf("%w: pdf parser panic: %v", ErrParse, r)}
			}
		}()
		text, err := parsePDF(data)
		results <- pdfResult{text: text, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-results:
		return res.text, res.err
	}
}

func parsePDF(data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty pdf", ErrParse)
	}

	disablePDFConfigDir.Do(api.DisableConfigDir)
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	pages, err := api.PageCount(bytes.NewReader(data), conf)
	if err != nil {
		return "", fmt.Errorf("%w: validate pdf: %v", ErrParse, err)
	}
	if pages == 0 {
		return "", fmt.Errorf("%w: pdf has no pages", ErrParse)
	}

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: open pdf: %v", ErrParse, err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("%w: read pdf text: %v", ErrParse, err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", fmt.Errorf("%w: read pdf text: %v", ErrParse, err)
	}

	text := strings.TrimSpace(buf.String())
	if text == "" {
		return "", fmt.Errorf("%w: pdf contains no extractable text", ErrParse)
	}
	return text, nil
}
