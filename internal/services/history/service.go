// Package history persists finished ingest runs.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"docrag-desktop/internal/models"
	"docrag-desktop/internal/services/ingest"

	"gorm.io/gorm"
)

const (
	StatusCompleted = "completed" // every item succeeded
	StatusPartial   = "partial"   // some items failed
	StatusFailed    = "failed"    // nothing succeeded
)

const defaultListLimit = 50

// Service stores run summaries in the ingest_runs table
type Service struct {
	db *gorm.DB
}

// NewService creates a history service
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// RunView is an ingest run as shown to the user
type RunView struct {
	models.IngestRun
	FailureList []ingest.ItemFailure `json:"failure_list"`
	Summary     string               `json:"summary"`
}

// RecordRun implements ingest.RunRecorder
func (s *Service) RecordRun(ctx context.Context, summary ingest.RunSummary) error {
	failures, err := json.Marshal(summary.Failures)
	if err != nil {
		return fmt.Errorf("failed to encode failures: %w", err)
	}

	run := models.IngestRun{
		ID:          summary.ID,
		Status:      runStatus(summary),
		Total:       summary.Total,
		Succeeded:   summary.Succeeded,
		Failed:      summary.Failed,
		Failures:    string(failures),
		StartedAt:   summary.StartedAt,
		CompletedAt: summary.CompletedAt,
	}

	if err := s.db.WithContext(ctx).Create(&run).Error; err != nil {
		return fmt.Errorf("failed to save ingest run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs first. limit <= 0 uses a default of 50.
func (s *Service) ListRuns(ctx context.Context, limit int) ([]RunView, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	var runs []models.IngestRun
	if err := s.db.WithContext(ctx).Order("completed_at DESC").Limit(limit).Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("failed to list ingest runs: %w", err)
	}

	views := make([]RunView, 0, len(runs))
	for _, run := range runs {
		views = append(views, toView(run))
	}
	return views, nil
}

// GetRun loads one run by id
func (s *Service) GetRun(ctx context.Context, id string) (*RunView, error) {
	var run models.IngestRun
	if err := s.db.WithContext(ctx).First(&run, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("ingest run %s: %w", id, err)
	}
	view := toView(run)
	return &view, nil
}

// Prune keeps the newest keep runs and deletes the rest
func (s *Service) Prune(ctx context.Context, keep int) (int64, error) {
	query := s.db.WithContext(ctx)

	if keep > 0 {
		var keepIDs []string
		if err := s.db.WithContext(ctx).Model(&models.IngestRun{}).
			Order("completed_at DESC").Limit(keep).Pluck("id", &keepIDs).Error; err != nil {
			return 0, fmt.Errorf("failed to select runs to keep: %w", err)
		}
		if len(keepIDs) > 0 {
			query = query.Where("id NOT IN ?", keepIDs)
		}
	}

	result := query.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.IngestRun{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to prune ingest runs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func runStatus(summary ingest.RunSummary) string {
	switch {
	case summary.Failed == 0:
		return StatusCompleted
	case summary.Succeeded == 0:
		return StatusFailed
	default:
		return StatusPartial
	}
}

func toView(run models.IngestRun) RunView {
	view := RunView{IngestRun: run, FailureList: []ingest.ItemFailure{}}
	if run.Failures != "" {
		if err := json.Unmarshal([]byte(run.Failures), &view.FailureList); err != nil {
			log.Printf("WARNING: Failed to decode failures of ingest run %s: %v", run.ID, err)
		}
		if view.FailureList == nil {
			view.FailureList = []ingest.ItemFailure{}
		}
	}
	view.Summary = summarize(run, view.FailureList)
	return view
}

func summarize(run models.IngestRun, failures []ingest.ItemFailure) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d of %d file(s) indexed", run.Succeeded, run.Total)
	if run.Failed > 0 {
		names := make([]string, 0, len(failures))
		for _, f := range failures {
			names = append(names, f.FileName)
		}
		fmt.Fprintf(&b, ", %d failed", run.Failed)
		if len(names) > 0 {
			fmt.Fprintf(&b, " (%s)", strings.Join(names, ", "))
		}
	}
	fmt.Fprintf(&b, " in %s", run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond))
	return b.String()
}
