// Package autosave collapses high-frequency form mutations into a bounded
// rate of persistence calls via a single-slot debounce.
package autosave

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Jacob-Maurice/PCR/snapshot"
)

// DefaultWindow is the quiet interval after the last trigger before a save
// fires.
const DefaultWindow = 350 * time.Millisecond

// SnapshotFunc captures the current form state. Called at fire time, not at
// trigger time, so the persisted snapshot is the one as of the last event.
type SnapshotFunc func() snapshot.Snapshot

// SaveFunc persists a snapshot.
type SaveFunc func(ctx context.Context, snap snapshot.Snapshot) error

// Debouncer schedules at most one pending save at a time. Each trigger
// cancels the pending timer outright and schedules a new one; overlapping
// triggers collapse into the most recent state. Save failures are logged
// and absorbed; the next trigger or flush attempts again.
type Debouncer struct {
	mu         sync.Mutex
	window     time.Duration
	timer      *time.Timer
	suppressed time.Time // triggers are no-ops until this instant
	takeSnap   SnapshotFunc
	save       SaveFunc
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures a Debouncer.
type Option func(*Debouncer)

// WithWindow sets the debounce window. Default: DefaultWindow.
func WithWindow(d time.Duration) Option {
	return func(db *Debouncer) {
		if d > 0 {
			db.window = d
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(db *Debouncer) { db.logger = l }
}

// New creates a Debouncer over the given capture and persist functions.
func New(takeSnap SnapshotFunc, save SaveFunc, opts ...Option) *Debouncer {
	d := &Debouncer{
		window:   DefaultWindow,
		takeSnap: takeSnap,
		save:     save,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Trigger records a mutation event. Any pending save is cancelled before a
// new one is scheduled, so no partial save executes. During a suppression
// window the event is a no-op.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.now().Before(d.suppressed) {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.fire)
}

// Flush cancels any pending timer and persists immediately, bypassing the
// debounce. Used on page-hide and before navigation. Unlike autosave, the
// error is returned so explicit flush paths can report it.
func (d *Debouncer) Flush(ctx context.Context) error {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()

	// Capture outside the lock: the snapshot function takes the session's
	// own lock and the session calls back into this type.
	return d.save(ctx, d.takeSnap())
}

// Suppress makes triggers no-ops until the given duration elapses and
// cancels any pending save, so an in-progress reset cannot race an autosave
// that would re-persist pre-reset state. The window must outlast the
// cancelled save it pre-empts.
func (d *Debouncer) Suppress(grace time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.suppressed = d.now().Add(grace)
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// Release ends an active suppression window early.
func (d *Debouncer) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.suppressed = time.Time{}
}

// Stop cancels any pending save. The debouncer stays usable.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	if d.now().Before(d.suppressed) {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.save(ctx, d.takeSnap()); err != nil {
		// Absorbed: autosave failures never interrupt the user. The next
		// keystroke or forced flush tries again.
		d.logger.Warn("autosave: save failed", "error", err)
	}
}
