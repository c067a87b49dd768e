package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"docrag-desktop/internal/models"
	"docrag-desktop/internal/services/ingest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestNormalizeCron(t *testing.T) {
	t.Run("Should convert 5-field to 6-field cron", func(t *testing.T) {
		tests := []struct {
			name     string
			input    string
			expected string
		}{
			{
				name:     "Daily at 2 AM",
				input:    "0 2 * * *",
				expected: "0 0 2 * * *",
			},
			{
				name:     "Every 15 minutes",
				input:    "*/15 * * * *",
				expected: "0 */15 * * * *",
			},
			{
				name:     "Every Monday at 9 AM",
				input:    "0 9 * * 1",
				expected: "0 0 9 * * 1",
			},
			{
				name:     "First day of month at midnight",
				input:    "0 0 1 * *",
				expected: "0 0 0 1 * *",
			},
			{
				name:     "Every 5 minutes",
				input:    "*/5 * * * *",
				expected: "0 */5 * * * *",
			},
			{
				name:     "At 3:30 PM every day",
				input:    "30 15 * * *",
				expected: "0 30 15 * * *",
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				result, err := normalizeCron(tt.input)
				require.NoError(t, err)
				assert.Equal(t, tt.expected, result)
			})
		}
	})

	t.Run("Should keep 6-field cron unchanged", func(t *testing.T) {
		tests := []struct {
			name  string
			input string
		}{
			{
				name:  "6-field daily at 2 AM",
				input: "0 0 2 * * *",
			},
			{
				name:  "6-field every 15 minutes",
				input: "0 */15 * * * *",
			},
			{
				name:  "6-field with seconds",
				input: "30 0 2 * * 1",
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				result, err := normalizeCron(tt.input)
				require.NoError(t, err)
				assert.Equal(t, tt.input, result)
			})
		}
	})

	t.Run("Should fail with invalid field count", func(t *testing.T) {
		tests := []struct {
			name  string
			input string
		}{
			{
				name:  "Too few fields (4)",
				input: "0 2 * *",
			},
			{
				name:  "Too many fields (7)",
				input: "0 0 2 * * * 2025",
			},
			{
				name:  "Empty string",
				input: "",
			},
			{
				name:  "Single field",
				input: "*",
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := normalizeCron(tt.input)
				assert.Error(t, err)
				assert.Contains(t, err.Error(), "invalid cron expression")
			})
		}
	})

	t.Run("Should collapse extra whitespace", func(t *testing.T) {
		result, err := normalizeCron("  0   2   *   *   *  ")
		require.NoError(t, err)
		assert.Equal(t, "0 0 2 * * *", result)
	})

	t.Run("Should reject out-of-range fields", func(t *testing.T) {
		_, err := normalizeCron("0 25 * * *")
		assert.Error(t, err)

		_, err = normalizeCron("0 0 25 * * *")
		assert.Error(t, err)
	})
}

type fakeEnqueuer struct {
	mu    sync.Mutex
	calls [][]ingest.File
}

func (f *fakeEnqueuer) EnqueueFiles(files []ingest.File) ingest.EnqueueResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, files)

	var result ingest.EnqueueResult
	for _, file := range files {
		result.Accepted = append(result.Accepted, ingest.Item{ID: file.Path, File: file, Status: ingest.StatusPending})
	}
	return result
}

func setupService(t *testing.T) (*Service, *fakeEnqueuer) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	enq := &fakeEnqueuer{}
	svc := NewService(db, context.Background(), enq, ingest.NewCollector(100))
	require.NoError(t, svc.Start())
	t.Cleanup(func() {
		svc.Stop()
		_ = sqlDB.Close()
	})
	return svc, enq
}

func writeTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "reports", ".cache"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.pdf"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "reports", "q1.md"), []byte("q1"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "reports", ".cache", "tmp"), []byte("x"), 0o644))
	return root
}

func TestFolderSyncJobs(t *testing.T) {
	t.Run("Should create, list and reschedule a folder sync", func(t *testing.T) {
		svc, _ := setupService(t)
		folder := writeTree(t)

		id, err := svc.UpsertJob(UpsertJobRequest{Name: "nightly", Folder: folder, Cron: "0 2 * * *", Enabled: true})
		require.NoError(t, err)
		require.NotEmpty(t, id)

		jobs, err := svc.ListJobs()
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, "0 0 2 * * *", jobs[0].Cron)
		assert.Equal(t, "UTC", jobs[0].Timezone)
		assert.NotNil(t, jobs[0].NextRun)

		svc.jobsMu.RLock()
		_, scheduled := svc.jobs[id]
		svc.jobsMu.RUnlock()
		assert.True(t, scheduled)

		sameID, err := svc.UpsertJob(UpsertJobRequest{Name: "nightly", Folder: folder, Cron: "*/5 * * * *", Enabled: false})
		require.NoError(t, err)
		assert.Equal(t, id, sameID)

		svc.jobsMu.RLock()
		_, scheduled = svc.jobs[id]
		svc.jobsMu.RUnlock()
		assert.False(t, scheduled, "disabled jobs are removed from cron")
	})

	t.Run("Should validate requests", func(t *testing.T) {
		svc, _ := setupService(t)
		folder := writeTree(t)
		file := filepath.Join(folder, "a.pdf")

		tests := []struct {
			name  string
			req   UpsertJobRequest
			field string
		}{
			{"missing name", UpsertJobRequest{Folder: folder, Cron: "0 2 * * *"}, "Name"},
			{"missing folder", UpsertJobRequest{Name: "x", Cron: "0 2 * * *"}, "Folder"},
			{"folder is a file", UpsertJobRequest{Name: "x", Folder: file, Cron: "0 2 * * *"}, "Folder"},
			{"bad cron", UpsertJobRequest{Name: "x", Folder: folder, Cron: "every day"}, "Cron"},
			{"bad timezone", UpsertJobRequest{Name: "x", Folder: folder, Cron: "0 2 * * *", Timezone: "Mars/Olympus"}, "Timezone"},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := svc.UpsertJob(tt.req)
				var vErr *ValidationError
				require.True(t, errors.As(err, &vErr), "got %v", err)
				assert.Equal(t, tt.field, vErr.Field)
			})
		}
	})

	t.Run("Should enqueue every visible file when run", func(t *testing.T) {
		svc, enq := setupService(t)
		folder := writeTree(t)

		id, err := svc.UpsertJob(UpsertJobRequest{Name: "docs", Folder: folder, Cron: "0 2 * * *", Timezone: "Europe/Berlin", Enabled: true})
		require.NoError(t, err)

		result, err := svc.RunJobNow(id)
		require.NoError(t, err)
		assert.Equal(t, 2, result.Collected)
		assert.Equal(t, 2, result.Accepted)

		require.Len(t, enq.calls, 1)
		var names []string
		for _, f := range enq.calls[0] {
			names = append(names, f.Name)
		}
		assert.ElementsMatch(t, []string{"a.pdf", "q1.md"}, names)

		jobs, err := svc.ListJobs()
		require.NoError(t, err)
		assert.NotNil(t, jobs[0].LastRunAt)
	})

	t.Run("Should skip the enqueuer for an empty folder", func(t *testing.T) {
		svc, enq := setupService(t)

		id, err := svc.UpsertJob(UpsertJobRequest{Name: "empty", Folder: t.TempDir(), Cron: "0 2 * * *", Enabled: true})
		require.NoError(t, err)

		result, err := svc.RunJobNow(id)
		require.NoError(t, err)
		assert.Zero(t, result.Collected)
		assert.Empty(t, enq.calls)
	})

	t.Run("Should delete jobs", func(t *testing.T) {
		svc, _ := setupService(t)

		id, err := svc.UpsertJob(UpsertJobRequest{Name: "gone", Folder: t.TempDir(), Cron: "0 2 * * *", Enabled: true})
		require.NoError(t, err)
		require.NoError(t, svc.DeleteJob(id))

		jobs, err := svc.ListJobs()
		require.NoError(t, err)
		assert.Empty(t, jobs)

		_, err = svc.RunJobNow(id)
		assert.Error(t, err)
	})
}

func TestCronSpec(t *testing.T) {
	t.Run("Should compute next run in the job timezone", func(t *testing.T) {
		job := &models.ScheduledJob{Cron: "0 0 2 * * *", Timezone: "America/New_York"}
		from := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

		next, err := nextRun(job, from)
		require.NoError(t, err)

		loc, _ := time.LoadLocation("America/New_York")
		local := next.In(loc)
		assert.Equal(t, 2, local.Hour())
		assert.Equal(t, 11, local.Day())
	})
}
