package draftstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Jacob-Maurice/PCR/snapshot"
)

// Server paths the remote store speaks to. The draft endpoints are distinct
// from the submission endpoint on purpose: submitting is not saving.
const (
	pathSubmitDraft = "/submit_draft"
	pathGetDraft    = "/get_draft"
	pathClearDraft  = "/api/clear_draft"
)

// Remote persists drafts on the report server over HTTP. The server scopes
// records to the authenticated session, so Remote carries no user key,
// only the bearer credential.
type Remote struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *slog.Logger
}

// RemoteOption configures a Remote store.
type RemoteOption func(*Remote)

// WithHTTPClient replaces the default client (10s timeout).
func WithHTTPClient(c *http.Client) RemoteOption {
	return func(r *Remote) { r.client = c }
}

// WithToken sets the bearer token attached to every request.
func WithToken(token string) RemoteOption {
	return func(r *Remote) { r.token = token }
}

// WithRemoteLogger sets a custom logger.
func WithRemoteLogger(l *slog.Logger) RemoteOption {
	return func(r *Remote) { r.logger = l }
}

// NewRemote creates a Remote store targeting the server at baseURL.
func NewRemote(baseURL string, opts ...RemoteOption) *Remote {
	r := &Remote{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Save POSTs the full snapshot to the draft endpoint.
func (r *Remote) Save(ctx context.Context, snap snapshot.Snapshot) error {
	body, err := snapshot.Marshal(snap)
	if err != nil {
		return fmt.Errorf("draftstore: marshal: %w", err)
	}

	resp, err := r.do(ctx, http.MethodPost, pathSubmitDraft, body)
	if err != nil {
		return fmt.Errorf("draftstore: save: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("draftstore: save: status %d", resp.StatusCode)
	}
	return nil
}

// SaveAsync transmits the snapshot without waiting for the response. This is
// the unload/logout path: navigation must not be delayed by a slow save, and
// a failure is only logged since the record will be overwritten by the next
// save anyway.
func (r *Remote) SaveAsync(snap snapshot.Snapshot) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.Save(ctx, snap); err != nil {
			r.logger.Warn("draftstore: async save failed", "error", err)
		}
	}()
}

// Load fetches the stored draft. A 404 means no draft exists and maps to
// ErrNoDraft; so does a stored payload that does not parse, because a
// corrupt draft must never fail the page load.
func (r *Remote) Load(ctx context.Context) (snapshot.Snapshot, error) {
	resp, err := r.do(ctx, http.MethodGet, pathGetDraft, nil)
	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("draftstore: load: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return snapshot.Snapshot{}, ErrNoDraft
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return snapshot.Snapshot{}, fmt.Errorf("draftstore: load: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("draftstore: load: read body: %w", err)
	}

	var envelope struct {
		Draft *string `json:"draft"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		r.logger.Warn("draftstore: malformed draft envelope, treating as absent", "error", err)
		return snapshot.Snapshot{}, ErrNoDraft
	}
	if envelope.Draft == nil || *envelope.Draft == "" {
		return snapshot.Snapshot{}, ErrNoDraft
	}

	snap, err := snapshot.Unmarshal([]byte(*envelope.Draft))
	if err != nil {
		r.logger.Warn("draftstore: malformed stored draft, treating as absent", "error", err)
		return snapshot.Snapshot{}, ErrNoDraft
	}
	return snap, nil
}

// Clear deletes the server-held draft. Idempotent: the server answers 2xx
// whether or not a record existed.
func (r *Remote) Clear(ctx context.Context) error {
	resp, err := r.do(ctx, http.MethodPost, pathClearDraft, nil)
	if err != nil {
		return fmt.Errorf("draftstore: clear: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := readErrorMessage(resp.Body)
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return fmt.Errorf("draftstore: clear: %s", msg)
	}
	return nil
}

func (r *Remote) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	return r.client.Do(req)
}

// readErrorMessage extracts the server-provided error text from a JSON error
// body, preferring it over a generic fallback.
func readErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil {
		return ""
	}
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return ""
	}
	if payload.Error != "" {
		return payload.Error
	}
	return payload.Message
}
