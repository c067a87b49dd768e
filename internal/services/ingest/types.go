package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"docrag-desktop/internal/models"
)

// Status is the lifecycle state of a queued upload
type Status string

const (
	StatusPending    Status = "pending"
	StatusUploading  Status = "uploading"
	StatusProcessing Status = "processing" // bytes sent, service still indexing
	StatusDone       Status = "done"
	StatusError      Status = "error"
)

// IsTerminal reports whether no further transition can happen
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusError
}

// CanTransitionTo reports whether an item in state s may be replaced by one in
// state next. uploading → uploading is the progress update.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusUploading
	case StatusUploading:
		return next == StatusUploading || next == StatusProcessing || next == StatusError
	case StatusProcessing:
		return next == StatusDone || next == StatusError
	default:
		return false
	}
}

// File is an immutable reference to an upload payload
type File struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Size int64  `json:"size"`

	open func() (io.ReadCloser, error)
}

// NewFile describes a payload that open can read from the start each time it is called
func NewFile(name, path string, size int64, open func() (io.ReadCloser, error)) File {
	return File{Name: name, Path: path, Size: size, open: open}
}

// Open returns a fresh reader over the payload
func (f File) Open() (io.ReadCloser, error) {
	if f.open == nil {
		return nil, fmt.Errorf("file %s has no content source", f.Name)
	}
	return f.open()
}

// Item is one unit of work in the upload queue. Items are replaced wholesale,
// never mutated in place.
type Item struct {
	ID       string `json:"id"`
	File     File   `json:"file"`
	Status   Status `json:"status"`
	Progress int    `json:"progress"` // 0-100, meaningful while uploading
	Error    string `json:"error,omitempty"`
}

// NotificationLevel classifies user-facing notifications
type NotificationLevel string

const (
	LevelSuccess NotificationLevel = "success"
	LevelWarning NotificationLevel = "warning"
	LevelError   NotificationLevel = "error"
)

// Notification is a fire-and-forget message for the user
type Notification struct {
	Level   NotificationLevel `json:"level"`
	Message string            `json:"message"`
}

// EnqueueResult reports what EnqueueFiles did with each file
type EnqueueResult struct {
	Accepted []Item  `json:"accepted"`
	Rejected []error `json:"-"`
}

// ItemFailure names one file that ended in error
type ItemFailure struct {
	FileName string `json:"file_name"`
	Error    string `json:"error"`
}

// RunSummary describes one finished run
type RunSummary struct {
	ID          string        `json:"id"`
	Total       int           `json:"total"`
	Succeeded   int           `json:"succeeded"`
	Failed      int           `json:"failed"`
	Failures    []ItemFailure `json:"failures,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
}

// Backend is the remote indexing service
type Backend interface {
	UploadDocument(ctx context.Context, name string, size int64, body io.Reader, onProgress func(int)) (*models.UploadResult, error)
	ListDocuments(ctx context.Context) ([]models.Document, error)
}

// Observer receives queue snapshots, refreshed listings and notifications.
// Calls are made outside the queue lock; implementations must not block for long.
type Observer interface {
	QueueChanged(items []Item)
	DocumentsRefreshed(docs []models.Document)
	Notify(n Notification)
}

// RunRecorder persists run summaries
type RunRecorder interface {
	RecordRun(ctx context.Context, summary RunSummary) error
}

var (
	// ErrFileTooLarge matches every *SizeLimitError
	ErrFileTooLarge = errors.New("file exceeds size limit")

	ErrItemNotFound      = errors.New("queue item not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// SizeLimitError rejects a file before it becomes a queue item
type SizeLimitError struct {
	FileName string
	Size     int64
	Limit    int64
}

func (e *SizeLimitError) Error() string {
	return fmt.Sprintf("%s is too large (max %s)", e.FileName, formatSize(e.Limit))
}

func formatSize(n int64) string {
	switch {
	case n >= 1<<20 && n%(1<<20) == 0:
		return fmt.Sprintf("%d MB", n>>20)
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%d KB", n>>10)
	default:
		return fmt.Sprintf("%d bytes", n)
	}
}

func (e *SizeLimitError) Is(target error) bool {
	return target == ErrFileTooLarge
}
