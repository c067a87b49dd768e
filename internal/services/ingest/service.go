// Package ingest uploads collected files to the indexing service with
// bounded concurrency, tracking every file through its lifecycle.
package ingest

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"docrag-desktop/internal/config"
	"docrag-desktop/internal/models"

	"github.com/google/uuid"
)

// Service owns the upload queue and drives runs over it
type Service struct {
	ctx      context.Context
	backend  Backend
	queue    *Queue
	pool     *Pool
	observer Observer
	recorder RunRecorder

	maxFileSize int64
	graceDelay  time.Duration

	guard runGuard
	wake  chan struct{} // signalled when files arrive while a run is active

	mu        sync.Mutex
	done      chan struct{} // closed when the active run ends; nil when idle
	documents []models.Document
}

// Option customises a Service
type Option func(*Service)

// WithObserver routes queue snapshots and notifications to o
func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

// WithRecorder persists a summary of every finished run
func WithRecorder(r RunRecorder) Option {
	return func(s *Service) { s.recorder = r }
}

// NewService creates the ingest service. ctx bounds every upload and should
// only be cancelled at shutdown.
func NewService(ctx context.Context, backend Backend, cfg config.Config, opts ...Option) *Service {
	s := &Service{
		ctx:         ctx,
		backend:     backend,
		queue:       NewQueue(),
		observer:    LogObserver{},
		maxFileSize: cfg.MaxFileSize,
		graceDelay:  cfg.GraceDelay,
		wake:        make(chan struct{}, 1),
		documents:   []models.Document{},
	}
	for _, opt := range opts {
		opt(s)
	}

	s.pool = NewPool(s.queue, backend, cfg.Concurrency)
	s.queue.OnChange(func(items []Item) {
		s.observer.QueueChanged(items)
	})

	return s
}

// EnqueueFiles queues every file within the size limit and starts a run
// unless one is already active, in which case its workers pick the new
// items up. Oversized files are rejected with a notification each.
func (s *Service) EnqueueFiles(files []File) EnqueueResult {
	var result EnqueueResult

	for _, f := range files {
		if s.maxFileSize > 0 && f.Size > s.maxFileSize {
			err := &SizeLimitError{FileName: f.Name, Size: f.Size, Limit: s.maxFileSize}
			result.Rejected = append(result.Rejected, err)
			s.observer.Notify(Notification{Level: LevelError, Message: err.Error()})
			log.Printf("Ingest: rejected %s: %d bytes exceeds %d", f.Name, f.Size, s.maxFileSize)
			continue
		}

		result.Accepted = append(result.Accepted, Item{
			ID:     uuid.New().String(),
			File:   f,
			Status: StatusPending,
		})
	}

	if len(result.Accepted) == 0 {
		return result
	}

	s.queue.Append(result.Accepted...)
	log.Printf("Ingest: queued %d file(s)", len(result.Accepted))

	if !s.start() {
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
	return result
}

// start launches a run if none is active
func (s *Service) start() bool {
	if !s.guard.TryAcquire() {
		return false
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.done = done
	s.mu.Unlock()

	go s.run(done)
	return true
}

func (s *Service) run(done chan struct{}) {
	for {
		if s.runOnce() {
			// files queued during the grace delay are already in flight
			continue
		}

		// Items appended after the last claim but before Release saw the
		// guard held, so look again before giving up ownership for good.
		s.guard.Release()
		if s.ctx.Err() != nil || !s.queue.HasClaimable() || !s.guard.TryAcquire() {
			break
		}
		log.Printf("Ingest: late items found, starting another run")
	}

	s.mu.Lock()
	if s.done == done {
		s.done = nil
	}
	s.mu.Unlock()
	close(done)
}

// runOnce drains the queue, then finalizes. It reports whether files queued
// during the grace delay were started and still need a run of their own.
func (s *Service) runOnce() bool {
	startedAt := time.Now()
	runID := uuid.New().String()
	log.Printf("[%s] Ingest run started", shortID(runID))

	for {
		if err := s.pool.Run(s.ctx); err != nil {
			log.Printf("[%s] Ingest run interrupted: %v", shortID(runID), err)
			return false
		}
		if !s.queue.HasClaimable() {
			break
		}
	}

	return s.finalize(runID, startedAt)
}

func (s *Service) finalize(runID string, startedAt time.Time) bool {
	summary := RunSummary{ID: runID, StartedAt: startedAt}
	var finished []string
	for _, it := range s.queue.Snapshot() {
		switch it.Status {
		case StatusDone:
			summary.Succeeded++
		case StatusError:
			summary.Failed++
			summary.Failures = append(summary.Failures, ItemFailure{FileName: it.File.Name, Error: it.Error})
		default:
			continue
		}
		finished = append(finished, it.ID)
	}
	summary.Total = summary.Succeeded + summary.Failed
	summary.CompletedAt = time.Now()

	if _, err := s.RefreshDocuments(s.ctx); err != nil {
		log.Printf("[%s] Document refresh failed: %v", shortID(runID), err)
	}

	if summary.Succeeded > 0 {
		s.observer.Notify(Notification{
			Level:   LevelSuccess,
			Message: fmt.Sprintf("%d file(s) indexed successfully", summary.Succeeded),
		})
	}

	if s.recorder != nil {
		if err := s.recorder.RecordRun(s.ctx, summary); err != nil {
			log.Printf("[%s] Failed to record run: %v", shortID(runID), err)
		}
	}

	log.Printf("[%s] Ingest run finished: %d succeeded, %d failed", shortID(runID), summary.Succeeded, summary.Failed)

	// Let the UI show the finished queue before it is cleared
	late, lateDone := s.awaitGrace(runID)
	s.queue.Drain(finished)

	if lateDone != nil {
		if err := <-lateDone; err != nil {
			log.Printf("[%s] Late uploads interrupted: %v", shortID(runID), err)
		}
	}
	return late
}

// awaitGrace waits out the grace delay, starting workers for files queued in
// the meantime. started reports whether that happened; lateDone, when non-nil,
// yields the result of workers still running when the delay ended.
func (s *Service) awaitGrace(runID string) (started bool, lateDone <-chan error) {
	if s.graceDelay <= 0 {
		return false, nil
	}

	timer := time.NewTimer(s.graceDelay)
	defer timer.Stop()

	var running chan error
	launch := func() {
		if running != nil || !s.queue.HasClaimable() {
			return
		}
		log.Printf("[%s] Files queued during grace delay, uploading now", shortID(runID))
		running = make(chan error, 1)
		go func(ch chan error) { ch <- s.pool.Run(s.ctx) }(running)
		started = true
	}

	for {
		select {
		case <-timer.C:
			return started, running
		case <-s.ctx.Done():
			return started, running
		case <-s.wake:
			launch()
		case err := <-running:
			running = nil
			if err != nil {
				return started, nil
			}
			launch()
		}
	}
}

// RefreshDocuments fetches the document listing and publishes it
func (s *Service) RefreshDocuments(ctx context.Context) ([]models.Document, error) {
	docs, err := s.backend.ListDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh documents: %w", err)
	}

	s.mu.Lock()
	s.documents = docs
	s.mu.Unlock()

	s.observer.DocumentsRefreshed(docs)
	return docs, nil
}

// Documents returns the listing from the last successful refresh
func (s *Service) Documents() []models.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Document, len(s.documents))
	copy(out, s.documents)
	return out
}

// Queue returns a snapshot of the current queue
func (s *Service) Queue() []Item {
	snap := s.queue.Snapshot()
	out := make([]Item, len(snap))
	copy(out, snap)
	return out
}

// Running reports whether a run is active
func (s *Service) Running() bool {
	return s.guard.Held()
}

// Wait blocks until no run is active
func (s *Service) Wait() {
	for {
		s.mu.Lock()
		done := s.done
		s.mu.Unlock()

		if done == nil {
			return
		}
		<-done
	}
}

// LogObserver writes queue activity to the standard logger
type LogObserver struct{}

func (LogObserver) QueueChanged([]Item) {}

func (LogObserver) DocumentsRefreshed(docs []models.Document) {
	log.Printf("Ingest: %d document(s) indexed", len(docs))
}

func (LogObserver) Notify(n Notification) {
	log.Printf("Ingest notification [%s]: %s", n.Level, n.Message)
}
