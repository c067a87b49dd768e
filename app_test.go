package main

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"docrag-desktop/internal/api"
	"docrag-desktop/internal/services/ingest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfileRequestValidate(t *testing.T) {
	t.Run("Should normalize name and URL", func(t *testing.T) {
		req := ProfileRequest{Name: "  Local  ", BaseURL: " http://localhost:8000/api/v1/ "}
		require.NoError(t, req.validate())
		assert.Equal(t, "Local", req.Name)
		assert.Equal(t, "http://localhost:8000/api/v1", req.BaseURL)
	})

	t.Run("Should reject missing name or scheme", func(t *testing.T) {
		req := ProfileRequest{BaseURL: "http://x"}
		assert.Error(t, req.validate())

		req = ProfileRequest{Name: "x", BaseURL: "localhost:8000"}
		assert.Error(t, req.validate())
	})
}

func TestDescribeConnectionError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"unauthorized", &api.StatusError{Op: "list documents", StatusCode: http.StatusUnauthorized}, "Invalid or missing API token"},
		{"wrapped not found", fmt.Errorf("probe: %w", &api.StatusError{StatusCode: http.StatusNotFound}), "Indexing service not found at this URL (expected the /api/v1 root)"},
		{"server error", &api.StatusError{StatusCode: 500, Message: "status: Internal Server Error"}, "HTTP 500: status: Internal Server Error"},
		{"transport", errors.New("dial tcp: refused"), "Connection failed: dial tcp: refused"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, describeConnectionError(tt.err))
		})
	}
}

func TestSummarizeEnqueue(t *testing.T) {
	t.Run("Should render rejections as messages", func(t *testing.T) {
		result := ingest.EnqueueResult{
			Accepted: []ingest.Item{{ID: "1"}},
			Rejected: []error{&ingest.SizeLimitError{FileName: "big.pdf", Size: 30 << 20, Limit: 20 << 20}},
		}

		summary := summarizeEnqueue(2, result)
		assert.Equal(t, 2, summary.Collected)
		assert.Equal(t, 1, summary.Accepted)
		assert.Equal(t, []string{"big.pdf is too large (max 20 MB)"}, summary.Rejected)
	})
}
