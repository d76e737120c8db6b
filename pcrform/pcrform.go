// Package pcrform orchestrates the patient care report form session: it
// owns the document, the injury sketch, the draft store and the autosave
// scheduler, restores persisted state on startup, and drives explicit
// clear, submit and logout.
//
// The session is the single owner of mutable form state. All access runs
// behind its lock; asynchronous work (image decode, store I/O, the debounce
// timer) interleaves but never runs concurrently against the document.
package pcrform

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Jacob-Maurice/PCR/dbopen"
	"github.com/Jacob-Maurice/PCR/draftstore"
	"github.com/Jacob-Maurice/PCR/field"
	"github.com/Jacob-Maurice/PCR/pcrform/internal/autosave"
	"github.com/Jacob-Maurice/PCR/sketch"
	"github.com/Jacob-Maurice/PCR/snapshot"
)

// State is the session lifecycle state.
type State string

const (
	StateInitializing State = "initializing"
	StateReady        State = "ready"
	StateSaving       State = "saving"
	StateRestoring    State = "restoring"
	StateSubmitted    State = "submitted"
	StateCleared      State = "cleared"
)

// asyncSaver is implemented by stores that can transmit without waiting,
// preferred on unload and logout paths.
type asyncSaver interface {
	SaveAsync(snap snapshot.Snapshot)
}

// Session is the lifecycle controller for one form instance.
type Session struct {
	cfg    *Config
	logger *slog.Logger

	mu    sync.Mutex
	state State
	form  *field.Form
	layer *sketch.Layer

	store     draftstore.Store
	submitter Submitter
	deb       *autosave.Debouncer
	ownedDB   *sql.DB // set when the session opened the local store itself
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithStore overrides the store built from configuration.
func WithStore(s draftstore.Store) SessionOption {
	return func(sess *Session) { sess.store = s }
}

// WithSubmitter overrides the submitter built from configuration.
func WithSubmitter(s Submitter) SessionOption {
	return func(sess *Session) { sess.submitter = s }
}

// WithSchema replaces the default form schema.
func WithSchema(schema *field.Schema) SessionOption {
	return func(sess *Session) { sess.form = field.NewForm(schema) }
}

// New creates a Session from configuration. Local-backend sessions open
// their store database themselves; the caller must blank-import
// modernc.org/sqlite.
func New(cfg *Config, logger *slog.Logger, opts ...SessionOption) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	layer, err := sketch.NewLayer(cfg.Image.Path, cfg.Image.Width, cfg.Image.Height)
	if err != nil {
		return nil, err
	}

	s := &Session{
		cfg:    cfg,
		logger: logger,
		state:  StateInitializing,
		form:   field.NewForm(field.DefaultSchema()),
		layer:  layer,
	}
	for _, o := range opts {
		o(s)
	}

	if s.store == nil {
		switch cfg.Backend {
		case BackendRemote:
			s.store = draftstore.NewRemote(cfg.ServerURL,
				draftstore.WithToken(cfg.Token),
				draftstore.WithRemoteLogger(logger))
		case BackendLocal:
			db, err := dbopen.Open(cfg.StorePath,
				dbopen.WithMkdirAll(),
				dbopen.WithSchema(draftstore.Schema()))
			if err != nil {
				return nil, fmt.Errorf("pcrform: open local store: %w", err)
			}
			s.ownedDB = db
			s.store = draftstore.NewLocal(db, cfg.SchemaVersion, cfg.User,
				draftstore.WithLocalLogger(logger))
		}
	}
	if s.submitter == nil && cfg.ServerURL != "" {
		s.submitter = NewHTTPSubmitter(cfg.ServerURL, cfg.Token)
	}

	s.deb = autosave.New(s.capture, s.persist,
		autosave.WithWindow(cfg.Debounce.Window),
		autosave.WithLogger(logger))

	// Every successful document mutation schedules an autosave.
	s.form.OnChange(func(string) { s.deb.Trigger() })

	return s, nil
}

// Start paints the base image, then fetches and applies the persisted
// draft. Restoration is sequenced strictly after the image paint completed,
// so restored markers are never wiped by the base paint. A missing or
// unparseable draft leaves the form blank without error.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.layer.Load(ctx); err != nil {
		return fmt.Errorf("pcrform: start: %w", err)
	}

	snap, err := s.store.Load(ctx)
	if errors.Is(err, draftstore.ErrNoDraft) {
		s.state = StateReady
		return nil
	}
	if err != nil {
		// Transient load failure: proceed blank rather than failing the
		// session; the draft is still on the backend for the next start.
		s.logger.Warn("pcrform: draft load failed, starting blank", "error", err)
		s.state = StateReady
		return nil
	}

	s.state = StateRestoring
	s.restoreLocked(snap)
	s.state = StateReady
	return nil
}

// restoreLocked applies a snapshot without scheduling autosaves: restoring
// persisted state must not immediately re-persist it.
func (s *Session) restoreLocked(snap snapshot.Snapshot) {
	s.form.OnChange(nil)
	defer s.form.OnChange(func(string) { s.deb.Trigger() })

	points, dropped := snapshot.Restore(s.form, snap)
	if dropped > 0 {
		s.logger.Debug("pcrform: snapshot keys dropped on restore", "dropped", dropped)
	}
	s.layer.SetPoints(points)
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Form exposes the live document for reads. Mutate through the session.
func (s *Session) Form() *field.Form { return s.form }

// Layer exposes the sketch layer for reads and rendering.
func (s *Session) Layer() *sketch.Layer { return s.layer }

// SetText writes a text control or cell value and schedules an autosave.
func (s *Session) SetText(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.edit(func() error { return s.form.SetText(key, value) })
}

// SetRadio selects a radio option and schedules an autosave.
func (s *Session) SetRadio(key, option string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.edit(func() error { return s.form.SetRadio(key, option) })
}

// SetCheck toggles a checkbox option and schedules an autosave.
func (s *Session) SetCheck(key, option string, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.edit(func() error { return s.form.SetCheck(key, option, on) })
}

// AddPoint appends an injury marker and schedules an autosave.
func (s *Session) AddPoint(x, y int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.edit(func() error {
		if err := s.layer.Add(x, y); err != nil {
			return err
		}
		s.deb.Trigger()
		return nil
	})
}

// edit applies a mutation and, from a resting Submitted/Cleared state,
// returns the session to Ready.
func (s *Session) edit(apply func() error) error {
	if err := apply(); err != nil {
		return err
	}
	if s.state == StateSubmitted || s.state == StateCleared {
		s.state = StateReady
	}
	return nil
}

// Flush persists the current snapshot immediately, bypassing the debounce.
// This is the page-hide path.
func (s *Session) Flush(ctx context.Context) error {
	return s.deb.Flush(ctx)
}

// FlushAsync transmits the current snapshot without waiting, preferring the
// store's non-blocking path when it has one. This is the pre-navigation
// path: it must never delay the caller.
func (s *Session) FlushAsync() {
	snap := s.capture()
	if as, ok := s.store.(asyncSaver); ok {
		as.SaveAsync(snap)
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.store.Save(ctx, snap); err != nil {
			s.logger.Warn("pcrform: async flush failed", "error", err)
		}
	}()
}

// Clear destroys the persisted record and wipes all visible state. The
// pending autosave is pre-empted first and triggers stay suppressed for the
// grace window, so the cleared state cannot be raced by a save of pre-clear
// state. If the backend clear fails nothing is touched and the error is
// returned for visible reporting; clearing the UI while the record survives
// would desynchronize it from persisted truth.
func (s *Session) Clear(ctx context.Context) error {
	s.deb.Suppress(s.cfg.Debounce.Grace)

	if err := s.store.Clear(ctx); err != nil {
		s.deb.Release()
		return fmt.Errorf("pcrform: clear: %w", err)
	}

	s.mu.Lock()
	s.wipeLocked(ctx)
	s.state = StateCleared
	s.mu.Unlock()
	return nil
}

// wipeLocked resets every control group explicitly: the document-wide
// reset, then each other-field blanked individually, then the sketch reset
// back to the pristine base image.
func (s *Session) wipeLocked(ctx context.Context) {
	s.form.OnChange(nil)
	defer s.form.OnChange(func(string) { s.deb.Trigger() })

	s.form.Reset()
	for _, key := range s.form.Schema().OtherFields() {
		_ = s.form.SetText(key, "")
	}
	if err := s.layer.Reset(ctx); err != nil {
		s.logger.Warn("pcrform: sketch reset failed", "error", err)
	}
}

// Submit serializes the current state and sends it to the submission
// endpoint. On success the draft record is destroyed and visible state is
// reset exactly as in Clear. On failure everything is left untouched, the
// draft stays restorable, and the error is returned for visible reporting.
func (s *Session) Submit(ctx context.Context) error {
	if s.submitter == nil {
		return fmt.Errorf("pcrform: no submitter configured")
	}

	s.mu.Lock()
	s.state = StateSaving
	snap := s.captureLocked()
	s.mu.Unlock()

	if err := s.submitter.Submit(ctx, snap); err != nil {
		s.mu.Lock()
		s.state = StateReady
		s.mu.Unlock()
		return err
	}

	s.deb.Suppress(s.cfg.Debounce.Grace)
	if err := s.store.Clear(ctx); err != nil {
		// The submission is durable; a failed draft cleanup only means a
		// stale draft overwritten on the next session.
		s.logger.Warn("pcrform: draft cleanup after submit failed", "error", err)
	}

	s.mu.Lock()
	s.wipeLocked(ctx)
	s.state = StateSubmitted
	s.mu.Unlock()
	return nil
}

// Logout flushes the current snapshot best-effort on the non-blocking path.
// It never blocks and never fails: navigation away must not be held up by a
// slow or failed save.
func (s *Session) Logout() {
	s.deb.Stop()
	s.FlushAsync()
}

// Close cancels pending autosave work and releases resources the session
// opened itself.
func (s *Session) Close() error {
	s.deb.Stop()
	if s.ownedDB != nil {
		return s.ownedDB.Close()
	}
	return nil
}

// capture serializes the current state. It is the debouncer's snapshot
// function: called at fire time so the persisted snapshot reflects the
// last mutation, not the first.
func (s *Session) capture() snapshot.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.captureLocked()
}

func (s *Session) captureLocked() snapshot.Snapshot {
	return snapshot.Serialize(s.form, s.layer.Points(), s.cfg.User)
}

// persist is the debouncer's save function.
func (s *Session) persist(ctx context.Context, snap snapshot.Snapshot) error {
	return s.store.Save(ctx, snap)
}
