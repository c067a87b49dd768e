package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"docrag-desktop/internal/api"
	"docrag-desktop/internal/config"
	"docrag-desktop/internal/crypto"
	"docrag-desktop/internal/database"
	"docrag-desktop/internal/models"
	"docrag-desktop/internal/services/history"
	"docrag-desktop/internal/services/ingest"
	"docrag-desktop/internal/services/scheduler"

	"github.com/wailsapp/wails/v2/pkg/runtime"
	"gorm.io/gorm"
)

// Frontend event names
const (
	eventQueue        = "ingest:queue"
	eventDocuments    = "documents:updated"
	eventNotification = "notification"
)

// App struct - main application state
type App struct {
	ctx              context.Context
	cfg              config.Config
	db               *gorm.DB
	backend          *api.Switchable
	selectedProfile  *models.BackendProfile
	profileMu        sync.RWMutex
	collector        *ingest.Collector
	ingestService    *ingest.Service
	historyService   *history.Service
	schedulerService *scheduler.Service
}

// NewApp creates a new App application struct
func NewApp() *App {
	return &App{
		backend: &api.Switchable{},
	}
}

// startup is called when the app starts. The context is saved
// so we can call the runtime methods
func (a *App) startup(ctx context.Context) {
	a.ctx = ctx
	log.Println("Application starting up...")

	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	a.cfg = cfg

	// Profiles store API tokens encrypted, so there is no point starting without a key
	if err := crypto.InitEncryption(); err != nil {
		log.Fatalf("FATAL: Encryption initialization failed: %v\nProfiles cannot be saved without encryption.", err)
	}
	if crypto.IsKeyStored() {
		log.Println("Encryption key loaded from OS keychain")
	}

	db, err := database.Init(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	a.db = db

	// Until a profile is selected the configured endpoint is used
	a.backend.Set(api.NewClient(cfg.APIBaseURL, cfg.APIToken))

	a.historyService = history.NewService(db)
	a.collector = ingest.NewCollector(cfg.DirBatchSize)
	a.ingestService = ingest.NewService(ctx, a.backend, cfg,
		ingest.WithObserver(&eventObserver{ctx: ctx}),
		ingest.WithRecorder(a.historyService),
	)
	log.Printf("Ingest service initialized (%d workers, %d MB limit)", cfg.Concurrency, cfg.MaxFileSize>>20)

	a.schedulerService = scheduler.NewService(db, ctx, a.ingestService, a.collector)
	if err := a.schedulerService.Start(); err != nil {
		log.Printf("WARNING: Failed to start scheduler: %v", err)
	}

	runtime.OnFileDrop(ctx, func(x, y int, paths []string) {
		summary := a.EnqueuePaths(paths)
		log.Printf("Dropped %d path(s): %d file(s) queued", len(paths), summary.Accepted)
	})

	go func() {
		if _, err := a.ingestService.RefreshDocuments(ctx); err != nil {
			log.Printf("WARNING: Initial document refresh failed: %v", err)
		}
	}()

	log.Println("Startup complete")
}

// shutdown is called when the app is closing
func (a *App) shutdown(ctx context.Context) {
	log.Println("Application shutting down...")

	if a.schedulerService != nil {
		a.schedulerService.Stop()
	}

	if err := database.Close(); err != nil {
		log.Printf("Error closing database: %v", err)
	}

	log.Println("Shutdown complete")
}

// ====================================================================================
// WAILS-BOUND METHODS - Exposed to Frontend
// ====================================================================================

// Profile Management Methods

// ListProfiles returns all backend profiles
func (a *App) ListProfiles() ([]models.BackendProfile, error) {
	var profiles []models.BackendProfile
	if err := a.db.Order("name").Find(&profiles).Error; err != nil {
		return nil, err
	}
	return profiles, nil
}

// GetProfile retrieves a backend profile by ID
func (a *App) GetProfile(profileID string) (*models.BackendProfile, error) {
	var profile models.BackendProfile
	if err := a.db.Where("id = ?", profileID).First(&profile).Error; err != nil {
		return nil, err
	}
	return &profile, nil
}

// CreateProfile saves a new backend profile. The frontend should call
// TestConnection first.
func (a *App) CreateProfile(req ProfileRequest) (string, error) {
	if err := req.validate(); err != nil {
		return "", err
	}
	if !crypto.IsInitialized() {
		return "", errors.New("encryption system not initialized - cannot save profiles")
	}

	tokenEnc, err := crypto.EncryptToken(req.Token)
	if err != nil {
		return "", err
	}

	profile := &models.BackendProfile{
		Name:     req.Name,
		BaseURL:  req.BaseURL,
		TokenEnc: tokenEnc,
	}
	if err := a.db.Create(profile).Error; err != nil {
		return "", fmt.Errorf("failed to create profile: %w", err)
	}
	return profile.ID, nil
}

// UpdateProfile updates a profile; an empty token keeps the stored one
func (a *App) UpdateProfile(profileID string, req ProfileRequest) error {
	if err := req.validate(); err != nil {
		return err
	}

	var profile models.BackendProfile
	if err := a.db.Where("id = ?", profileID).First(&profile).Error; err != nil {
		return err
	}

	profile.Name = req.Name
	profile.BaseURL = req.BaseURL
	if req.Token != "" {
		tokenEnc, err := crypto.EncryptToken(req.Token)
		if err != nil {
			return err
		}
		profile.TokenEnc = tokenEnc
	}

	if err := a.db.Save(&profile).Error; err != nil {
		return err
	}

	a.profileMu.RLock()
	selected := a.selectedProfile != nil && a.selectedProfile.ID == profileID
	a.profileMu.RUnlock()
	if selected {
		return a.SelectProfile(profileID)
	}
	return nil
}

// DeleteProfile deletes a backend profile
func (a *App) DeleteProfile(profileID string) error {
	if err := a.db.Where("id = ?", profileID).Delete(&models.BackendProfile{}).Error; err != nil {
		return err
	}

	a.profileMu.Lock()
	defer a.profileMu.Unlock()
	if a.selectedProfile != nil && a.selectedProfile.ID == profileID {
		a.selectedProfile = nil
		a.backend.Set(api.NewClient(a.cfg.APIBaseURL, a.cfg.APIToken))
	}
	return nil
}

// SelectProfile points uploads and document calls at the profile's service
func (a *App) SelectProfile(profileID string) error {
	var profile models.BackendProfile
	if err := a.db.Where("id = ?", profileID).First(&profile).Error; err != nil {
		return err
	}

	token, err := crypto.DecryptToken(profile.TokenEnc)
	if err != nil {
		return fmt.Errorf("failed to decrypt token: %w", err)
	}

	a.profileMu.Lock()
	a.selectedProfile = &profile
	a.backend.Set(api.NewClient(profile.BaseURL, token))
	a.profileMu.Unlock()

	log.Printf("Selected profile: %s (%s, token %s)", profile.Name, profile.BaseURL, crypto.MaskToken(token))

	go func() {
		if _, err := a.ingestService.RefreshDocuments(a.ctx); err != nil {
			log.Printf("WARNING: Document refresh after profile switch failed: %v", err)
		}
	}()
	return nil
}

// GetSelectedProfile returns the currently selected profile
func (a *App) GetSelectedProfile() (*models.BackendProfile, error) {
	a.profileMu.RLock()
	defer a.profileMu.RUnlock()
	return a.selectedProfile, nil
}

// GetBackendURL returns the base URL uploads currently go to
func (a *App) GetBackendURL() string {
	client, err := a.backend.Current()
	if err != nil {
		return ""
	}
	return client.BaseURL()
}

// TestConnection checks a service URL and token without saving anything
func (a *App) TestConnection(req TestConnectionRequest) TestConnectionResponse {
	ctx, cancel := context.WithTimeout(a.ctx, 15*time.Second)
	defer cancel()

	docs, err := api.NewClient(req.BaseURL, req.Token).ListDocuments(ctx)
	if err != nil {
		return TestConnectionResponse{Success: false, Error: describeConnectionError(err)}
	}
	return TestConnectionResponse{Success: true, DocumentCount: len(docs)}
}

// Ingest Methods

// EnqueuePaths collects dropped or picked paths and queues their files
func (a *App) EnqueuePaths(paths []string) EnqueueSummary {
	entries := make([]ingest.Entry, 0, len(paths))
	for _, p := range paths {
		if p = strings.TrimSpace(p); p != "" {
			entries = append(entries, ingest.OSEntry(p))
		}
	}

	files := a.collector.Collect(a.ctx, entries)
	result := a.ingestService.EnqueueFiles(files)
	return summarizeEnqueue(len(files), result)
}

// OpenFilesDialog lets the user pick files to upload
func (a *App) OpenFilesDialog() (EnqueueSummary, error) {
	paths, err := runtime.OpenMultipleFilesDialog(a.ctx, runtime.OpenDialogOptions{
		Title: "Add documents",
	})
	if err != nil {
		return EnqueueSummary{}, err
	}
	return a.EnqueuePaths(paths), nil
}

// OpenFolderDialog lets the user pick a folder to upload recursively
func (a *App) OpenFolderDialog() (EnqueueSummary, error) {
	dir, err := runtime.OpenDirectoryDialog(a.ctx, runtime.OpenDialogOptions{
		Title: "Add a folder",
	})
	if err != nil {
		return EnqueueSummary{}, err
	}
	if dir == "" {
		return EnqueueSummary{}, nil
	}
	return a.EnqueuePaths([]string{dir}), nil
}

// GetQueue returns the current upload queue
func (a *App) GetQueue() []ingest.Item {
	return a.ingestService.Queue()
}

// IsIngesting reports whether uploads are in progress
func (a *App) IsIngesting() bool {
	return a.ingestService.Running()
}

// Document Methods

// ListDocuments returns the last fetched document listing
func (a *App) ListDocuments() []models.Document {
	return a.ingestService.Documents()
}

// RefreshDocuments fetches the document listing from the service
func (a *App) RefreshDocuments() ([]models.Document, error) {
	return a.ingestService.RefreshDocuments(a.ctx)
}

// DeleteDocument removes a document and returns a confirmation message
func (a *App) DeleteDocument(documentID string) (string, error) {
	name := a.backend.DocumentName(documentID)
	if err := a.backend.DeleteDocument(a.ctx, documentID); err != nil {
		return "", err
	}

	if _, err := a.ingestService.RefreshDocuments(a.ctx); err != nil {
		log.Printf("WARNING: Document refresh after delete failed: %v", err)
	}
	return fmt.Sprintf("%s removed from the knowledge base", name), nil
}

// ListRuns retrieves recent ingest runs
func (a *App) ListRuns(limit int) ([]history.RunView, error) {
	return a.historyService.ListRuns(a.ctx, limit)
}

// GetRun retrieves one ingest run with its failures
func (a *App) GetRun(runID string) (*history.RunView, error) {
	return a.historyService.GetRun(a.ctx, runID)
}

// PruneRuns keeps the newest keep runs and deletes older history
func (a *App) PruneRuns(keep int) (int64, error) {
	if keep < 0 {
		return 0, fmt.Errorf("keep must be non-negative, got %d", keep)
	}
	return a.historyService.Prune(a.ctx, keep)
}

// Scheduler Methods

// ListScheduledJobs returns all folder sync jobs
func (a *App) ListScheduledJobs() ([]scheduler.JobListResponse, error) {
	return a.schedulerService.ListJobs()
}

// UpsertScheduledJob creates or updates a folder sync job
func (a *App) UpsertScheduledJob(req scheduler.UpsertJobRequest) (string, error) {
	return a.schedulerService.UpsertJob(req)
}

// DeleteScheduledJob removes a folder sync job
func (a *App) DeleteScheduledJob(jobID string) error {
	return a.schedulerService.DeleteJob(jobID)
}

// RunScheduledJobNow runs a folder sync immediately
func (a *App) RunScheduledJobNow(jobID string) (*scheduler.RunResult, error) {
	return a.schedulerService.RunJobNow(jobID)
}

// ====================================================================================
// REQUEST/RESPONSE TYPES
// ====================================================================================

// ProfileRequest represents a request to create/update a backend profile
type ProfileRequest struct {
	Name    string `json:"name"`
	BaseURL string `json:"base_url"`
	Token   string `json:"token"` // Plain text, will be encrypted
}

func (r *ProfileRequest) validate() error {
	r.Name = strings.TrimSpace(r.Name)
	r.BaseURL = strings.TrimRight(strings.TrimSpace(r.BaseURL), "/")
	if r.Name == "" {
		return errors.New("profile name is required")
	}
	if !strings.HasPrefix(r.BaseURL, "http://") && !strings.HasPrefix(r.BaseURL, "https://") {
		return fmt.Errorf("base URL must start with http:// or https://, got %q", r.BaseURL)
	}
	return nil
}

// TestConnectionRequest represents a connection test request
type TestConnectionRequest struct {
	BaseURL string `json:"base_url"`
	Token   string `json:"token"`
}

// TestConnectionResponse represents the test result
type TestConnectionResponse struct {
	Success       bool   `json:"success"`
	Error         string `json:"error,omitempty"`
	DocumentCount int    `json:"document_count"`
}

// EnqueueSummary reports the outcome of a drop or pick
type EnqueueSummary struct {
	Collected int      `json:"collected"`
	Accepted  int      `json:"accepted"`
	Rejected  []string `json:"rejected"`
}

func summarizeEnqueue(collected int, result ingest.EnqueueResult) EnqueueSummary {
	summary := EnqueueSummary{
		Collected: collected,
		Accepted:  len(result.Accepted),
		Rejected:  make([]string, 0, len(result.Rejected)),
	}
	for _, err := range result.Rejected {
		summary.Rejected = append(summary.Rejected, err.Error())
	}
	return summary
}

func describeConnectionError(err error) string {
	var statusErr *api.StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return "Invalid or missing API token"
		case http.StatusNotFound:
			return "Indexing service not found at this URL (expected the /api/v1 root)"
		default:
			return fmt.Sprintf("HTTP %d: %s", statusErr.StatusCode, statusErr.Message)
		}
	}
	return fmt.Sprintf("Connection failed: %v", err)
}

// eventObserver forwards ingest activity to the frontend
type eventObserver struct {
	ctx context.Context
}

func (o *eventObserver) QueueChanged(items []ingest.Item) {
	runtime.EventsEmit(o.ctx, eventQueue, items)
}

func (o *eventObserver) DocumentsRefreshed(docs []models.Document) {
	runtime.EventsEmit(o.ctx, eventDocuments, docs)
}

func (o *eventObserver) Notify(n ingest.Notification) {
	log.Printf("Notification [%s]: %s", n.Level, n.Message)
	runtime.EventsEmit(o.ctx, eventNotification, n)
}
