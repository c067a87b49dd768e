// Package scheduler runs cron-driven folder syncs that feed the ingest service.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"docrag-desktop/internal/models"
	"docrag-desktop/internal/services/ingest"
)

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Service handles scheduled job management and execution
type Service struct {
	db        *gorm.DB
	ctx       context.Context
	cron      *cron.Cron
	jobs      map[string]cron.EntryID // jobID -> cron entry ID
	jobsMu    sync.RWMutex
	enqueuer  Enqueuer
	collector *ingest.Collector
}

// NewService creates a new scheduler service
func NewService(db *gorm.DB, ctx context.Context, enqueuer Enqueuer, collector *ingest.Collector) *Service {
	// Create cron scheduler with seconds support
	c := cron.New(cron.WithSeconds())

	return &Service{
		db:        db,
		ctx:       ctx,
		cron:      c,
		jobs:      make(map[string]cron.EntryID),
		enqueuer:  enqueuer,
		collector: collector,
	}
}

// Start initializes the scheduler and loads enabled jobs from database
func (s *Service) Start() error {
	log.Println("Starting scheduler...")

	if err := s.db.AutoMigrate(&models.ScheduledJob{}); err != nil {
		return fmt.Errorf("failed to migrate scheduled_jobs table: %w", err)
	}

	s.cron.Start()

	var jobs []models.ScheduledJob
	if err := s.db.Where("enabled = ?", true).Find(&jobs).Error; err != nil {
		return fmt.Errorf("failed to load scheduled jobs: %w", err)
	}

	for i := range jobs {
		job := &jobs[i]
		if err := s.scheduleJob(job); err != nil {
			log.Printf("WARNING: Failed to schedule job %s (%s): %v", job.Name, job.ID, err)
		} else {
			log.Printf("Scheduled folder sync: %s (%s) with cron: %s", job.Name, job.Folder, job.Cron)
		}
	}

	log.Printf("Scheduler started with %d enabled jobs", len(jobs))
	return nil
}

// Stop waits for running jobs and stops the scheduler
func (s *Service) Stop() {
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
		log.Println("Scheduler stopped")
	}
}

// ListJobs retrieves all scheduled jobs
func (s *Service) ListJobs() ([]JobListResponse, error) {
	var jobs []models.ScheduledJob
	if err := s.db.Order("created_at DESC").Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	responses := make([]JobListResponse, len(jobs))
	for i := range jobs {
		responses[i] = toJobListResponse(&jobs[i])
	}
	return responses, nil
}

// UpsertJob creates or updates a folder sync keyed by name
func (s *Service) UpsertJob(req UpsertJobRequest) (string, error) {
	if err := validateUpsert(&req); err != nil {
		return "", err
	}

	var job models.ScheduledJob
	err := s.db.Where("name = ?", req.Name).First(&job).Error
	isNew := errors.Is(err, gorm.ErrRecordNotFound)
	if err != nil && !isNew {
		return "", fmt.Errorf("failed to query job: %w", err)
	}

	job.Name = req.Name
	job.Folder = req.Folder
	job.Cron = req.Cron
	job.Timezone = req.Timezone
	job.Enabled = req.Enabled

	next, err := nextRun(&job, time.Now())
	if err != nil {
		return "", err
	}
	job.NextRunAt = &next

	if isNew {
		err = s.db.Create(&job).Error
	} else {
		err = s.db.Save(&job).Error
	}
	if err != nil {
		return "", fmt.Errorf("failed to save job: %w", err)
	}

	if err := s.rescheduleJob(job.ID); err != nil {
		return "", fmt.Errorf("failed to reschedule job: %w", err)
	}

	return job.ID, nil
}

// DeleteJob removes a scheduled job
func (s *Service) DeleteJob(jobID string) error {
	s.unschedule(jobID)

	if err := s.db.Delete(&models.ScheduledJob{}, "id = ?", jobID).Error; err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}

// RunJobNow executes a job immediately, outside its schedule
func (s *Service) RunJobNow(jobID string) (*RunResult, error) {
	return s.executeJob(jobID)
}

func (s *Service) scheduleJob(job *models.ScheduledJob) error {
	s.unschedule(job.ID)
	if !job.Enabled {
		return nil
	}

	jobID := job.ID
	entryID, err := s.cron.AddFunc(cronSpec(job), func() {
		if _, err := s.executeJob(jobID); err != nil {
			log.Printf("ERROR: Scheduled folder sync %s failed: %v", jobID, err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.jobsMu.Lock()
	s.jobs[jobID] = entryID
	s.jobsMu.Unlock()
	return nil
}

func (s *Service) unschedule(jobID string) {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	if entryID, exists := s.jobs[jobID]; exists {
		s.cron.Remove(entryID)
		delete(s.jobs, jobID)
	}
}

func (s *Service) rescheduleJob(jobID string) error {
	var job models.ScheduledJob
	if err := s.db.First(&job, "id = ?", jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.unschedule(jobID)
			return nil
		}
		return fmt.Errorf("failed to load job: %w", err)
	}

	return s.scheduleJob(&job)
}

// executeJob collects the job's folder and hands every file to the enqueuer.
// A run already in progress absorbs the new files.
func (s *Service) executeJob(jobID string) (*RunResult, error) {
	var job models.ScheduledJob
	if err := s.db.First(&job, "id = ?", jobID).Error; err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", jobID, err)
	}

	log.Printf("Executing folder sync %s: %s", job.Name, job.Folder)

	now := time.Now()
	job.LastRunAt = &now
	if next, err := nextRun(&job, now); err != nil {
		log.Printf("WARNING: Failed to parse cron for next run: %v", err)
	} else {
		job.NextRunAt = &next
	}
	if err := s.db.Model(&job).Updates(map[string]any{
		"last_run_at": job.LastRunAt,
		"next_run_at": job.NextRunAt,
	}).Error; err != nil {
		log.Printf("WARNING: Failed to update job run times: %v", err)
	}

	files := s.collector.Collect(s.ctx, []ingest.Entry{ingest.OSEntry(job.Folder)})
	result := &RunResult{JobID: job.ID, Collected: len(files)}
	if len(files) == 0 {
		log.Printf("Folder sync %s: nothing to upload in %s", job.Name, job.Folder)
		return result, nil
	}

	enqueued := s.enqueuer.EnqueueFiles(files)
	result.Accepted = len(enqueued.Accepted)
	result.Rejected = len(enqueued.Rejected)

	log.Printf("Folder sync %s: %d collected, %d queued, %d rejected", job.Name, result.Collected, result.Accepted, result.Rejected)
	return result, nil
}

func validateUpsert(req *UpsertJobRequest) error {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return &ValidationError{"Name", "required"}
	}

	req.Folder = strings.TrimSpace(req.Folder)
	if req.Folder == "" {
		return &ValidationError{"Folder", "required"}
	}
	info, err := os.Stat(req.Folder)
	if err != nil {
		return &ValidationError{"Folder", fmt.Sprintf("not accessible: %v", err)}
	}
	if !info.IsDir() {
		return &ValidationError{"Folder", "not a directory"}
	}

	normalized, err := normalizeCron(req.Cron)
	if err != nil {
		return &ValidationError{"Cron", err.Error()}
	}
	req.Cron = normalized

	if req.Timezone == "" {
		req.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(req.Timezone); err != nil {
		return &ValidationError{"Timezone", fmt.Sprintf("unknown timezone %q", req.Timezone)}
	}
	return nil
}

// cronSpec prefixes the stored expression with the job's timezone
func cronSpec(job *models.ScheduledJob) string {
	if job.Timezone == "" || job.Timezone == "UTC" {
		return "CRON_TZ=UTC " + job.Cron
	}
	return "CRON_TZ=" + job.Timezone + " " + job.Cron
}

func nextRun(job *models.ScheduledJob, from time.Time) (time.Time, error) {
	schedule, err := cronParser.Parse(cronSpec(job))
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse cron for next run: %w", err)
	}
	return schedule.Next(from), nil
}

// normalizeCron converts 5-field cron to 6-field format by prepending seconds
// 5-field: "minute hour day month dow" (standard cron)
// 6-field: "second minute hour day month dow" (robfig/cron with WithSeconds)
func normalizeCron(cronExpr string) (string, error) {
	cronExpr = strings.TrimSpace(cronExpr)
	fields := strings.Fields(cronExpr)

	switch len(fields) {
	case 6:
		if _, err := cronParser.Parse(cronExpr); err != nil {
			return "", fmt.Errorf("invalid 6-field cron expression: %w", err)
		}
		return strings.Join(fields, " "), nil
	case 5:
		if _, err := cron.ParseStandard(cronExpr); err != nil {
			return "", fmt.Errorf("invalid 5-field cron expression: %w", err)
		}
		// Prepend seconds (0 = run at 0 seconds of the minute)
		return "0 " + strings.Join(fields, " "), nil
	default:
		return "", fmt.Errorf("invalid cron expression: expected 5 or 6 fields, got %d", len(fields))
	}
}

func toJobListResponse(job *models.ScheduledJob) JobListResponse {
	resp := JobListResponse{
		ID:        job.ID,
		Name:      job.Name,
		Folder:    job.Folder,
		Cron:      job.Cron,
		Timezone:  job.Timezone,
		Enabled:   job.Enabled,
		CreatedAt: job.CreatedAt.Format(time.RFC3339),
		UpdatedAt: job.UpdatedAt.Format(time.RFC3339),
	}

	if job.LastRunAt != nil {
		lastRun := job.LastRunAt.Format(time.RFC3339)
		resp.LastRunAt = &lastRun
	}
	if job.NextRunAt != nil {
		nextRun := job.NextRunAt.Format(time.RFC3339)
		resp.NextRun = &nextRun
	}
	return resp
}
