// Package server exposes the ingest service over HTTP for headless use.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"docrag-desktop/internal/models"
	"docrag-desktop/internal/services/history"
	"docrag-desktop/internal/services/ingest"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"
)

// IngestService is the part of the ingest service the handlers drive
type IngestService interface {
	EnqueueFiles(files []ingest.File) ingest.EnqueueResult
	Queue() []ingest.Item
	Documents() []models.Document
	RefreshDocuments(ctx context.Context) ([]models.Document, error)
	Running() bool
}

// FileCollector expands paths into files
type FileCollector interface {
	Collect(ctx context.Context, entries []ingest.Entry) []ingest.File
}

// DocumentStore deletes indexed documents
type DocumentStore interface {
	DeleteDocument(ctx context.Context, documentID string) error
	DocumentName(documentID string) string
}

// RunLister reads finished runs
type RunLister interface {
	ListRuns(ctx context.Context, limit int) ([]history.RunView, error)
	GetRun(ctx context.Context, id string) (*history.RunView, error)
}

// Handler serves the daemon API
type Handler struct {
	ingest    IngestService
	collector FileCollector
	documents DocumentStore
	runs      RunLister
	version   string
}

// NewHandler creates the API handler. runs may be nil when history is disabled.
func NewHandler(svc IngestService, collector FileCollector, documents DocumentStore, runs RunLister, version string) *Handler {
	return &Handler{
		ingest:    svc,
		collector: collector,
		documents: documents,
		runs:      runs,
		version:   version,
	}
}

// IngestRequest lists local paths (files or folders) to upload
type IngestRequest struct {
	Paths []string `json:"paths"`
}

// IngestResponse reports what was queued
type IngestResponse struct {
	Collected int           `json:"collected"`
	Accepted  []ingest.Item `json:"accepted"`
	Rejected  []string      `json:"rejected"`
}

// HandleIngest collects the requested paths and queues their files
func (h *Handler) HandleIngest(c echo.Context) error {
	var req IngestRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}

	entries := make([]ingest.Entry, 0, len(req.Paths))
	for _, p := range req.Paths {
		if p = strings.TrimSpace(p); p != "" {
			entries = append(entries, ingest.OSEntry(p))
		}
	}
	if len(entries) == 0 {
		return NewBadRequestError("at least one path is required", nil)
	}

	files := h.collector.Collect(c.Request().Context(), entries)
	result := h.ingest.EnqueueFiles(files)

	resp := IngestResponse{
		Collected: len(files),
		Accepted:  result.Accepted,
		Rejected:  make([]string, 0, len(result.Rejected)),
	}
	if resp.Accepted == nil {
		resp.Accepted = []ingest.Item{}
	}
	for _, err := range result.Rejected {
		resp.Rejected = append(resp.Rejected, err.Error())
	}

	return c.JSON(http.StatusAccepted, resp)
}

// HandleQueue returns the current queue
func (h *Handler) HandleQueue(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"running": h.ingest.Running(),
		"items":   h.ingest.Queue(),
	})
}

// HandleDocuments returns the document listing; ?refresh=true fetches it first
func (h *Handler) HandleDocuments(c echo.Context) error {
	if refresh, _ := strconv.ParseBool(c.QueryParam("refresh")); refresh {
		docs, err := h.ingest.RefreshDocuments(c.Request().Context())
		if err != nil {
			return NewUpstreamError("failed to refresh documents", err)
		}
		return c.JSON(http.StatusOK, map[string]interface{}{"documents": docs})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{"documents": h.ingest.Documents()})
}

// HandleDeleteDocument removes one document from the index
func (h *Handler) HandleDeleteDocument(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewBadRequestError("document id is required", nil)
	}

	name := h.documents.DocumentName(id)
	if err := h.documents.DeleteDocument(c.Request().Context(), id); err != nil {
		return NewUpstreamError("failed to delete document", err)
	}

	if _, err := h.ingest.RefreshDocuments(c.Request().Context()); err != nil {
		c.Logger().Warnf("document refresh after delete failed: %v", err)
	}

	return c.JSON(http.StatusOK, map[string]string{
		"document_id": id,
		"message":     name + " removed from the knowledge base",
	})
}

// HandleRuns lists recent ingest runs; ?limit= caps the count
func (h *Handler) HandleRuns(c echo.Context) error {
	if h.runs == nil {
		return c.JSON(http.StatusOK, map[string]interface{}{"runs": []history.RunView{}})
	}

	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return NewBadRequestError("limit must be a non-negative integer", err)
		}
		limit = n
	}

	runs, err := h.runs.ListRuns(c.Request().Context(), limit)
	if err != nil {
		return NewInternalError("failed to list runs", err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"runs": runs})
}

// HandleRun returns one ingest run
func (h *Handler) HandleRun(c echo.Context) error {
	id := c.Param("id")
	if h.runs == nil {
		return NewNotFoundError("ingest run", id)
	}

	run, err := h.runs.GetRun(c.Request().Context(), id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return NewNotFoundError("ingest run", id)
	}
	if err != nil {
		return NewInternalError("failed to load run", err)
	}
	return c.JSON(http.StatusOK, run)
}

// HandleHealth returns server health status
func (h *Handler) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"version": h.version,
		"running": h.ingest.Running(),
	})
}
