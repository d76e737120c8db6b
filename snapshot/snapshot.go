// Package snapshot defines the unit of persistence for the report form and
// the codec between it and the live document. A snapshot is a flat mapping
// from field key to value; it is the wire format shared with the draft
// stores and the submission endpoint, so its JSON shape is a contract.
package snapshot

import (
	"encoding/json"
	"fmt"

	"github.com/Jacob-Maurice/PCR/field"
	"github.com/Jacob-Maurice/PCR/sketch"
)

// Snapshot maps field keys to values. Values are scalar strings, []string
// for multi groups, or the point list under field.KeyPoints. The codec
// produces a fresh Snapshot per save; treat a Snapshot handed to a store as
// immutable.
type Snapshot struct {
	Scalars map[string]string
	Multis  map[string][]string
	Points  []sketch.Point
	SavedBy string
}

// New returns an empty snapshot.
func New() Snapshot {
	return Snapshot{
		Scalars: make(map[string]string),
		Multis:  make(map[string][]string),
	}
}

// Empty reports whether the snapshot carries no field values and no points.
// The identity stamp alone does not make a snapshot non-empty.
func (s Snapshot) Empty() bool {
	return len(s.Scalars) == 0 && len(s.Multis) == 0 && len(s.Points) == 0
}

// MarshalJSON encodes the flat wire object: scalar entries as strings, multi
// entries under their suffixed keys, the point list under "injuryPoints" and
// the identity stamp under "savedBy".
func (s Snapshot) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(s.Scalars)+len(s.Multis)+2)
	for k, v := range s.Scalars {
		flat[k] = v
	}
	for k, v := range s.Multis {
		flat[k] = v
	}
	if s.Points != nil {
		flat[field.KeyPoints] = s.Points
	}
	if s.SavedBy != "" {
		flat[field.KeySavedBy] = s.SavedBy
	}
	return json.Marshal(flat)
}

// UnmarshalJSON decodes the flat wire object. Multi entries are recognised
// by JSON array shape, not by the key suffix, so a malformed key cannot
// corrupt typed decoding; the restore pass matches keys against the schema.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var flat map[string]json.RawMessage
	if err := json.Unmarshal(data, &flat); err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}

	out := New()
	for k, raw := range flat {
		switch k {
		case field.KeyPoints:
			if err := json.Unmarshal(raw, &out.Points); err != nil {
				return fmt.Errorf("snapshot: %s: %w", field.KeyPoints, err)
			}
		case field.KeySavedBy:
			if err := json.Unmarshal(raw, &out.SavedBy); err != nil {
				return fmt.Errorf("snapshot: %s: %w", field.KeySavedBy, err)
			}
		default:
			var scalar string
			if err := json.Unmarshal(raw, &scalar); err == nil {
				out.Scalars[k] = scalar
				continue
			}
			var list []string
			if err := json.Unmarshal(raw, &list); err == nil {
				out.Multis[k] = list
				continue
			}
			// Unknown shape from another schema revision: ignored.
		}
	}

	*s = out
	return nil
}

// Marshal serialises a snapshot to its JSON wire form.
func Marshal(s Snapshot) ([]byte, error) {
	return json.Marshal(s)
}

// Unmarshal parses the JSON wire form. Callers treat an error as "no draft":
// a stored representation that cannot be parsed must never fail a page load.
func Unmarshal(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, err
	}
	return s, nil
}
