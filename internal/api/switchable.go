package api

import (
	"context"
	"errors"
	"io"
	"sync"

	"docrag-desktop/internal/models"
)

// ErrNoBackend is returned while no backend profile is selected
var ErrNoBackend = errors.New("no indexing service selected")

// Switchable forwards to whichever Client is currently selected, so the
// ingest service can outlive a profile change. An upload already in flight
// finishes against the client it started with.
type Switchable struct {
	mu     sync.RWMutex
	client *Client
}

// Set selects the client used by subsequent calls; nil deselects
func (s *Switchable) Set(c *Client) {
	s.mu.Lock()
	s.client = c
	s.mu.Unlock()
}

// Current returns the selected client or ErrNoBackend
func (s *Switchable) Current() (*Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.client == nil {
		return nil, ErrNoBackend
	}
	return s.client, nil
}

func (s *Switchable) UploadDocument(ctx context.Context, name string, size int64, body io.Reader, onProgress func(int)) (*models.UploadResult, error) {
	c, err := s.Current()
	if err != nil {
		return nil, err
	}
	return c.UploadDocument(ctx, name, size, body, onProgress)
}

func (s *Switchable) ListDocuments(ctx context.Context) ([]models.Document, error) {
	c, err := s.Current()
	if err != nil {
		return nil, err
	}
	return c.ListDocuments(ctx)
}

func (s *Switchable) DeleteDocument(ctx context.Context, documentID string) error {
	c, err := s.Current()
	if err != nil {
		return err
	}
	return c.DeleteDocument(ctx, documentID)
}

func (s *Switchable) DocumentName(documentID string) string {
	c, err := s.Current()
	if err != nil {
		return documentID
	}
	return c.DocumentName(documentID)
}
