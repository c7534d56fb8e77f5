package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var uploadWait bool

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a PDF, DOCX or image",
	Args:  cobra.ExactArgs(1),
	RunE:  runUpload,
}

func init() {
	uploadCmd.Flags().BoolVarP(&uploadWait, "wait", "w", true, "poll until an image finishes extraction")
	rootCmd.AddCommand(uploadCmd)
}

type uploadResponse struct {
	DocumentID       string          `json:"documentId"`
	Status           string          `json:"status"`
	ArtifactPath     string          `json:"artifactPath"`
	FileType         string          `json:"fileType"`
	FileName         string          `json:"fileName"`
	ExtractedContent json.RawMessage `json:"extractedContent"`
	OriginalSize     string          `json:"originalSize"`
	CompressedSize   string          `json:"compressedSize"`
	Error            string          `json:"error"`
}

func runUpload(cmd *cobra.Command, args []string) error {
	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	body, contentType, err := multipartBody(filepath.Base(path), data)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, strings.TrimRight(baseURL, "/")+"/api/v1/documents", body)
	if err != nil {
		return err
	}
	req.Header = authHeader()
	req.Header.Set("Content-Type", contentType)

	spin := newSpinner("Uploading " + filepath.Base(path))
	spin.Start()
	resp, err := httpClient().Do(req)
	spin.Stop()
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	var out uploadResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("decode response (%d): %w", resp.StatusCode, err)
	}

	switch resp.StatusCode {
	case http.StatusCreated:
		success("extracted %s (%s)", out.DocumentID, out.FileType)
		printJSON(cmd.OutOrStdout(), out.ExtractedContent)
		return nil
	case http.StatusAccepted:
		info("stored %s at %s (%s -> %s)", out.DocumentID, out.ArtifactPath, out.OriginalSize, out.CompressedSize)
		if !uploadWait {
			return nil
		}
		return pollAndReport(cmd, out.DocumentID)
	default:
		return fmt.Errorf("upload rejected (%d): %s", resp.StatusCode, out.Error)
	}
}

func multipartBody(name string, data []byte) (*bytes.Buffer, string, error) {
	mediaType := mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))
	if mediaType == "" {
		mediaType = http.DetectContentType(data)
	}

	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	header.Set("Content-Type", mediaType)
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}
