// Package api talks to the remote document indexing service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"docrag-desktop/internal/models"

	"github.com/go-resty/resty/v2"
)

const (
	uploadEndpoint    = "ingest/upload"
	documentsEndpoint = "documents"
	uploadFieldName   = "file"
	nameCacheSize     = 1000
)

// Client represents an indexing service client
type Client struct {
	baseURL   string
	http      *resty.Client // JSON calls, retried
	upload    *resty.Client // streaming uploads, never retried
	nameCache *lruCache[string, string]
}

// NewClient creates a client for the service rooted at baseURL (…/api/v1).
// token may be empty when the service does not require authentication.
func NewClient(baseURL, token string) *Client {
	client := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		nameCache: newLRUCache[string, string](nameCacheSize),
	}

	client.http = resty.New().
		SetHeader("Accept", "application/json").
		SetTimeout(30 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			// Retry on 429 (Too Many Requests) and 5xx server errors
			return r.StatusCode() == 429 || (r.StatusCode() >= 500 && r.StatusCode() <= 504)
		})

	// Indexing a large document can take minutes, so uploads carry no timeout.
	// A request body stream cannot be replayed, so uploads are never retried.
	client.upload = resty.New().
		SetHeader("Accept", "application/json")

	if token != "" {
		client.http.SetAuthToken(token)
		client.upload.SetAuthToken(token)
	}

	return client
}

// BaseURL returns the service root this client targets
func (c *Client) BaseURL() string {
	return c.baseURL
}

// UploadError describes a failed upload. StatusCode is zero for transport failures.
type UploadError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *UploadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// StatusError is a non-2xx answer to a document listing or deletion
type StatusError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("failed to %s: %s", e.Op, e.Message)
}

// UploadDocument streams body to the service as a multipart "file" field.
// onProgress, when non-nil, receives the percentage of the file sent so far.
func (c *Client) UploadDocument(ctx context.Context, name string, size int64, body io.Reader, onProgress func(int)) (*models.UploadResult, error) {
	pr, pw := io.Pipe()

	mw := multipart.NewWriter(pw)
	src := &progressReader{r: body, total: size, onProgress: onProgress}

	// body and onProgress belong to the caller again once we return
	written := make(chan struct{})
	defer func() {
		pr.Close()
		<-written
	}()

	go func() {
		defer close(written)
		part, err := mw.CreateFormFile(uploadFieldName, name)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, src); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	resp, err := c.upload.R().
		SetContext(ctx).
		SetHeader("Content-Type", mw.FormDataContentType()).
		SetBody(pr).
		Post(c.buildURL(uploadEndpoint))
	if err != nil {
		return nil, &UploadError{Message: "Network error", Err: err}
	}

	if !resp.IsSuccess() {
		return nil, &UploadError{
			StatusCode: resp.StatusCode(),
			Message:    errorDetail(resp, "Upload failed"),
		}
	}

	var result models.UploadResult
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, &UploadError{StatusCode: resp.StatusCode(), Message: "Invalid JSON response"}
	}

	return &result, nil
}

// ListDocuments returns every indexed document and refreshes the name cache
func (c *Client) ListDocuments(ctx context.Context) ([]models.Document, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		Get(c.buildURL(documentsEndpoint))
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, &StatusError{Op: "list documents", StatusCode: resp.StatusCode(), Message: errorDetail(resp, "status")}
	}

	var payload struct {
		Documents []models.Document `json:"documents"`
	}
	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		return nil, fmt.Errorf("failed to parse document list: %w", err)
	}

	for _, doc := range payload.Documents {
		c.nameCache.Put(doc.DocumentID, doc.FileName)
	}

	if payload.Documents == nil {
		return []models.Document{}, nil
	}
	return payload.Documents, nil
}

// DeleteDocument removes a document and its chunks from the index
func (c *Client) DeleteDocument(ctx context.Context, documentID string) error {
	if documentID == "" {
		return errors.New("document id is required")
	}

	resp, err := c.http.R().
		SetContext(ctx).
		Delete(c.buildURL(documentsEndpoint + "/" + url.PathEscape(documentID)))
	if err != nil {
		return fmt.Errorf("failed to delete document %s: %w", documentID, err)
	}
	if !resp.IsSuccess() {
		return &StatusError{Op: "delete document " + documentID, StatusCode: resp.StatusCode(), Message: errorDetail(resp, "status")}
	}

	c.nameCache.Delete(documentID)
	return nil
}

// DocumentName resolves a document id to the file name seen in the last
// listing, falling back to the id itself
func (c *Client) DocumentName(documentID string) string {
	if name, ok := c.nameCache.Get(documentID); ok && name != "" {
		return name
	}
	return documentID
}

// buildURL constructs the full URL for an endpoint
func (c *Client) buildURL(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "/")
	return fmt.Sprintf("%s/%s", c.baseURL, endpoint)
}

// errorDetail extracts the service's {"detail": "..."} message, or formats
// "<prefix>: <status text>" when the body carries none
func errorDetail(resp *resty.Response, prefix string) string {
	var body struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err == nil && len(body.Detail) > 0 {
		var text string
		if json.Unmarshal(body.Detail, &text) == nil && text != "" {
			return text
		}
	}

	status := http.StatusText(resp.StatusCode())
	if status == "" {
		status = fmt.Sprintf("%d", resp.StatusCode())
	}
	return fmt.Sprintf("%s: %s", prefix, status)
}

// progressReader reports round(read/total*100) whenever the percentage changes
type progressReader struct {
	r          io.Reader
	total      int64
	read       int64
	last       int
	onProgress func(int)
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	p.read += int64(n)

	if p.onProgress != nil && p.total > 0 {
		percent := int((p.read*100 + p.total/2) / p.total)
		if percent > 100 {
			percent = 100
		}
		if percent != p.last {
			p.last = percent
			p.onProgress(percent)
		}
	}
	return n, err
}
