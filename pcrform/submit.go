package pcrform

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Jacob-Maurice/PCR/snapshot"
)

// Submitter finalizes a report. Submission is distinct from draft saving:
// it targets its own endpoint and, on success, authorizes destroying the
// draft record.
type Submitter interface {
	Submit(ctx context.Context, snap snapshot.Snapshot) error
}

// pathSubmit is the server's finalization endpoint.
const pathSubmit = "/api/submit"

// HTTPSubmitter posts the snapshot to the report server.
type HTTPSubmitter struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPSubmitter creates a Submitter targeting the server at baseURL.
func NewHTTPSubmitter(baseURL, token string) *HTTPSubmitter {
	return &HTTPSubmitter{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// Submit POSTs the full snapshot. Any non-2xx status is a failure: the
// caller leaves all state untouched so nothing is lost.
func (s *HTTPSubmitter) Submit(ctx context.Context, snap snapshot.Snapshot) error {
	body, err := snapshot.Marshal(snap)
	if err != nil {
		return fmt.Errorf("pcrform: marshal submission: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+pathSubmit, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("pcrform: submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("pcrform: submit: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("pcrform: submit: status %d", resp.StatusCode)
	}
	return nil
}
