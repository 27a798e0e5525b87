package gateway

import (
	"bytes"
	"context"
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

	"docchat/internal/chat"
)

// UploadMetadata is sent alongside uploaded files.
type UploadMetadata struct {
	Title       string
	Description string
	Tags        []string
	Visibility  string
}

// UploadResult is the backend's per-file outcome. Uploads are multi-status:
// some files can be accepted while others are rejected.
type UploadResult struct {
	Filename string
	Success  bool
	Message  string
	Error    string
	Document *chat.Document
}

var uploadTypes = map[string]string{
	".pdf":  "application/pdf",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".txt":  "text/plain",
}

func contentTypeFor(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ct, ok := uploadTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func (c *Client) ListDocuments(ctx context.Context) ([]chat.Document, error) {
	var out []wireDocument
	err := c.do(ctx, request{
		op:     "list documents",
		method: http.MethodGet,
		url:    c.endpoint("documents"),
	}, &out)
	if err != nil {
		return nil, err
	}
	docs := make([]chat.Document, 0, len(out))
	for _, w := range out {
		docs = append(docs, w.document())
	}
	return docs, nil
}

func (c *Client) DeleteDocument(ctx context.Context, id chat.ID) error {
	if id.IsZero() {
		return &ExchangeError{Op: "delete document", Err: fmt.Errorf("document id is required")}
	}
	return c.do(ctx, request{
		op:     "delete document",
		method: http.MethodDelete,
		url:    c.endpoint("documents", id.String()),
	}, nil)
}

// UploadDocuments posts files as one multipart request with a "files" part
// per file and a JSON "metadata" field.
func (c *Client) UploadDocuments(ctx context.Context, paths []string, meta UploadMetadata) ([]UploadResult, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range paths {
		if err := addFilePart(mw, p); err != nil {
			return nil, &ExchangeError{Op: "upload documents", Err: err}
		}
	}
	if meta.Visibility == "" {
		meta.Visibility = "private"
	}
	rawMeta, err := json.Marshal(uploadMetadata{
		Title:       meta.Title,
		Description: meta.Description,
		Tags:        meta.Tags,
		Visibility:  meta.Visibility,
	})
	if err != nil {
		return nil, &ExchangeError{Op: "upload documents", Err: err}
	}
	if err := mw.WriteField("metadata", string(rawMeta)); err != nil {
		return nil, &ExchangeError{Op: "upload documents", Err: err}
	}
	if err := mw.Close(); err != nil {
		return nil, &ExchangeError{Op: "upload documents", Err: err}
	}

	var out []wireUploadResult
	err = c.do(ctx, request{
		op:          "upload documents",
		method:      http.MethodPost,
		url:         c.endpoint("documents"),
		body:        &buf,
		contentType: mw.FormDataContentType(),
	}, &out)
	if err != nil {
		return nil, err
	}
	results := make([]UploadResult, 0, len(out))
	for _, w := range out {
		r := UploadResult{
			Filename: w.Filename,
			Success:  w.Success,
			Message:  w.Message,
			Error:    w.Error,
		}
		if w.Document != nil {
			d := w.Document.document()
			r.Document = &d
			if r.Filename == "" {
				r.Filename = d.OriginalFilename
			}
		}
		results = append(results, r)
	}
	return results, nil
}

func addFilePart(mw *multipart.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, filepath.Base(path)))
	h.Set("Content-Type", contentTypeFor(path))
	part, err := mw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create part for %s: %w", path, err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("copy %s: %w", path, err)
	}
	return nil
}
