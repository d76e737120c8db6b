// Package field defines the typed schema and live document model for the
// patient care report form. The schema is a fixed enumeration of field
// descriptors validated once at construction; nothing is inferred from key
// naming at runtime.
package field

import (
	"fmt"
	"strings"
)

// Kind classifies how a field stores and restores its value.
type Kind string

const (
	KindText  Kind = "text"  // single native text control
	KindRadio Kind = "radio" // exclusive option group, at most one selected
	KindMulti Kind = "multi" // checkbox group, ordered subset of options
	KindCell  Kind = "cell"  // editable text cell not backed by a native control
)

// Reserved snapshot keys. They never appear in a schema; the codec owns them.
const (
	KeyPoints  = "injuryPoints"
	KeySavedBy = "savedBy"
)

// MultiSuffix marks multi-valued keys in the persisted wire format. It is
// part of the storage contract with previously saved drafts; in-process the
// kind always comes from the descriptor.
const MultiSuffix = "[]"

// Desc describes one form field.
type Desc struct {
	// Key is the snapshot key. Multi keys carry the "[]" suffix.
	Key string
	// Kind selects the storage behaviour.
	Kind Kind
	// Options are the allowed values for radio and multi groups, in
	// declaration order. Serialization preserves this order.
	Options []string
	// Other marks a free-text field that explicit clear blanks individually
	// in addition to the full reset.
	Other bool
}

// Schema is a validated, immutable set of field descriptors.
type Schema struct {
	descs  []Desc
	byKey  map[string]int
}

// NewSchema validates the descriptors and builds a schema.
func NewSchema(descs []Desc) (*Schema, error) {
	s := &Schema{
		descs: make([]Desc, len(descs)),
		byKey: make(map[string]int, len(descs)),
	}
	copy(s.descs, descs)

	for i, d := range s.descs {
		if d.Key == "" {
			return nil, fmt.Errorf("field: descriptor %d has empty key", i)
		}
		if d.Key == KeyPoints || d.Key == KeySavedBy {
			return nil, fmt.Errorf("field: %q is a reserved key", d.Key)
		}
		if _, dup := s.byKey[d.Key]; dup {
			return nil, fmt.Errorf("field: duplicate key %q", d.Key)
		}

		switch d.Kind {
		case KindMulti:
			if !strings.HasSuffix(d.Key, MultiSuffix) {
				return nil, fmt.Errorf("field: multi key %q must end in %q", d.Key, MultiSuffix)
			}
			if len(d.Options) == 0 {
				return nil, fmt.Errorf("field: multi key %q has no options", d.Key)
			}
		case KindRadio:
			if strings.HasSuffix(d.Key, MultiSuffix) {
				return nil, fmt.Errorf("field: radio key %q must not end in %q", d.Key, MultiSuffix)
			}
			if len(d.Options) == 0 {
				return nil, fmt.Errorf("field: radio key %q has no options", d.Key)
			}
		case KindText, KindCell:
			if strings.HasSuffix(d.Key, MultiSuffix) {
				return nil, fmt.Errorf("field: %s key %q must not end in %q", d.Kind, d.Key, MultiSuffix)
			}
			if len(d.Options) != 0 {
				return nil, fmt.Errorf("field: %s key %q must not declare options", d.Kind, d.Key)
			}
		default:
			return nil, fmt.Errorf("field: key %q has unknown kind %q", d.Key, d.Kind)
		}

		seen := make(map[string]bool, len(d.Options))
		for _, opt := range d.Options {
			if opt == "" {
				return nil, fmt.Errorf("field: key %q has an empty option", d.Key)
			}
			if seen[opt] {
				return nil, fmt.Errorf("field: key %q has duplicate option %q", d.Key, opt)
			}
			seen[opt] = true
		}

		s.byKey[d.Key] = i
	}

	return s, nil
}

// MustSchema is NewSchema that panics on error. For package-level schemas.
func MustSchema(descs []Desc) *Schema {
	s, err := NewSchema(descs)
	if err != nil {
		panic(err)
	}
	return s
}

// Lookup returns the descriptor for key.
func (s *Schema) Lookup(key string) (Desc, bool) {
	i, ok := s.byKey[key]
	if !ok {
		return Desc{}, false
	}
	return s.descs[i], true
}

// Descs returns the descriptors in declaration order.
func (s *Schema) Descs() []Desc {
	out := make([]Desc, len(s.descs))
	copy(out, s.descs)
	return out
}

// Cells returns the keys of all editable cells, in declaration order.
// This is the field registry of the report sheet: cells are not backed by
// native controls and are restored by writing text content directly.
func (s *Schema) Cells() []string {
	var keys []string
	for _, d := range s.descs {
		if d.Kind == KindCell {
			keys = append(keys, d.Key)
		}
	}
	return keys
}

// OtherFields returns the keys flagged Other, in declaration order.
func (s *Schema) OtherFields() []string {
	var keys []string
	for _, d := range s.descs {
		if d.Other {
			keys = append(keys, d.Key)
		}
	}
	return keys
}

// DefaultSchema returns the fixed PCR form shape.
func DefaultSchema() *Schema {
	return MustSchema([]Desc{
		{Key: "patientName", Kind: KindText},
		{Key: "dob", Kind: KindText},
		{Key: "location", Kind: KindText},
		{Key: "callNumber", Kind: KindText},
		{Key: "reportNumber", Kind: KindText},
		{Key: "chiefComplaint", Kind: KindText},

		{Key: "consciousness", Kind: KindRadio,
			Options: []string{"alert", "verbal", "pain", "unresponsive"}},
		{Key: "priority", Kind: KindRadio,
			Options: []string{"low", "medium", "high", "critical"}},

		{Key: "airwayManagement[]", Kind: KindMulti,
			Options: []string{"opa", "npa", "suction", "bvm", "oxygen", "intubation"}},
		{Key: "symptoms[]", Kind: KindMulti,
			Options: []string{"nausea", "dizziness", "chest pain", "shortness of breath", "bleeding", "fracture"}},

		{Key: "bloodPressure", Kind: KindCell},
		{Key: "pulse", Kind: KindCell},
		{Key: "respiratoryRate", Kind: KindCell},
		{Key: "spo2", Kind: KindCell},
		{Key: "temperature", Kind: KindCell},
		{Key: "glucose", Kind: KindCell},

		{Key: "otherFindings", Kind: KindText, Other: true},
		{Key: "otherTreatment", Kind: KindText, Other: true},
	})
}
