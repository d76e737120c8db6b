package draftstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Jacob-Maurice/PCR/snapshot"
)

// localSchema holds one JSON-serialised snapshot per key. The key encodes
// schema version and user identity; see Key.
const localSchema = `
CREATE TABLE IF NOT EXISTS pcr_drafts (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// Local persists drafts in a device-local SQLite keyed store. Operations
// are synchronous. The device is single-tenant: on Load, records belonging
// to other identities that previously used this device are evicted before
// reading, so at most one user's draft survives on disk.
type Local struct {
	db     *sql.DB
	key    string
	prefix string
	logger *slog.Logger
}

// LocalOption configures a Local store.
type LocalOption func(*Local)

// WithLocalLogger sets a custom logger.
func WithLocalLogger(l *slog.Logger) LocalOption {
	return func(s *Local) { s.logger = l }
}

// NewLocal creates a Local store for one (schema version, user) pair over an
// open database. The caller owns the database handle; Schema() must have
// been applied (dbopen.WithSchema(draftstore.Schema()) does both at once).
func NewLocal(db *sql.DB, schemaVersion, user string, opts ...LocalOption) *Local {
	if user == "" {
		user = "anon"
	}
	s := &Local{
		db:     db,
		key:    Key(schemaVersion, user),
		prefix: VersionPrefix(schemaVersion),
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Schema returns the SQL applied before first use.
func Schema() string { return localSchema }

// Save overwrites this user's record with the snapshot.
func (s *Local) Save(ctx context.Context, snap snapshot.Snapshot) error {
	data, err := snapshot.Marshal(snap)
	if err != nil {
		return fmt.Errorf("draftstore: marshal: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pcr_drafts (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		s.key, string(data), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("draftstore: save: %w", err)
	}
	return nil
}

// Load evicts stale records of other identities sharing the namespace, then
// reads this user's record. Absent and unparseable both map to ErrNoDraft.
func (s *Local) Load(ctx context.Context) (snapshot.Snapshot, error) {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM pcr_drafts WHERE key LIKE ? || '%' AND key != ?`, s.prefix, s.key); err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("draftstore: evict: %w", err)
	}

	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM pcr_drafts WHERE key = ?`, s.key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return snapshot.Snapshot{}, ErrNoDraft
	}
	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("draftstore: load: %w", err)
	}

	snap, err := snapshot.Unmarshal([]byte(value))
	if err != nil {
		s.logger.Warn("draftstore: malformed stored draft, treating as absent", "error", err)
		return snapshot.Snapshot{}, ErrNoDraft
	}
	return snap, nil
}

// Clear destroys this user's record. Idempotent.
func (s *Local) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM pcr_drafts WHERE key = ?`, s.key); err != nil {
		return fmt.Errorf("draftstore: clear: %w", err)
	}
	return nil
}
