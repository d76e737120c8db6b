// Package draftstore persists one report snapshot per user identity.
//
// Two interchangeable backends implement the same three-operation contract:
// Remote round-trips to the report server, Local writes a device-local
// SQLite keyed store. Exactly one is active per deployment; the form
// session is agnostic to which.
package draftstore

import (
	"context"
	"errors"

	"github.com/Jacob-Maurice/PCR/snapshot"
)

// ErrNoDraft reports that no persisted draft exists for the user. It is a
// normal outcome, distinct from a load failure: callers proceed with a
// blank form and no visible error.
var ErrNoDraft = errors.New("draftstore: no draft")

// Store is the persistence contract shared by both backends.
//
// Save overwrites the user's record with a full snapshot (no history).
// Load returns ErrNoDraft when no record exists; a stored representation
// that cannot be parsed is treated the same way, never as a failure.
// Clear destroys the record and is idempotent: clearing twice is not an
// error.
type Store interface {
	Save(ctx context.Context, snap snapshot.Snapshot) error
	Load(ctx context.Context) (snapshot.Snapshot, error)
	Clear(ctx context.Context) error
}

// KeyPrefix is the namespace every local draft key lives under.
const KeyPrefix = "pcr"

// Key derives the storage key for (schema version, user identity). The
// derivation is deterministic so eviction of stale sibling records can
// match on the shared prefix.
func Key(schemaVersion, user string) string {
	return KeyPrefix + ":" + schemaVersion + ":user:" + user
}

// VersionPrefix returns the namespace prefix shared by every user's key for
// one schema version.
func VersionPrefix(schemaVersion string) string {
	return KeyPrefix + ":" + schemaVersion + ":user:"
}
