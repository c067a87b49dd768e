package scheduler

import (
	"fmt"

	"docrag-desktop/internal/services/ingest"
)

// Enqueuer accepts collected files for upload
type Enqueuer interface {
	EnqueueFiles(files []ingest.File) ingest.EnqueueResult
}

// JobListResponse represents a scheduled folder sync in list responses
type JobListResponse struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Folder    string  `json:"folder"`
	Cron      string  `json:"cron"`
	Timezone  string  `json:"timezone"`
	Enabled   bool    `json:"enabled"`
	LastRunAt *string `json:"last_run_at"` // ISO 8601 format
	NextRun   *string `json:"next_run"`    // ISO 8601 format
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
}

// UpsertJobRequest creates or updates a folder sync by name
type UpsertJobRequest struct {
	Name     string `json:"name"`
	Folder   string `json:"folder"`
	Cron     string `json:"cron"` // 5 or 6 fields
	Timezone string `json:"timezone"`
	Enabled  bool   `json:"enabled"`
}

// RunResult reports what one execution of a job enqueued
type RunResult struct {
	JobID     string `json:"job_id"`
	Collected int    `json:"collected"`
	Accepted  int    `json:"accepted"`
	Rejected  int    `json:"rejected"`
}

// ValidationError represents a validation error with field context
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}
