package snapshot

import (
	"strings"

	"github.com/Jacob-Maurice/PCR/field"
	"github.com/Jacob-Maurice/PCR/sketch"
)

// Serialize captures the live document into a fresh snapshot: one entry per
// native control group (text controls always, radio groups only when an
// option is selected), one entry per editable cell with non-empty content,
// the point list verbatim, and the identity stamp. No validation happens
// here; a snapshot records whatever the form holds.
func Serialize(f *field.Form, points []sketch.Point, savedBy string) Snapshot {
	snap := New()
	for _, d := range f.Schema().Descs() {
		switch d.Kind {
		case field.KindText:
			snap.Scalars[d.Key] = f.Text(d.Key)
		case field.KindRadio:
			if v := f.Radio(d.Key); v != "" {
				snap.Scalars[d.Key] = v
			}
		case field.KindMulti:
			snap.Multis[d.Key] = f.CheckedValues(d.Key)
		case field.KindCell:
			if v := f.Text(d.Key); v != "" {
				snap.Scalars[d.Key] = v
			}
		}
	}
	snap.Points = append([]sketch.Point(nil), points...)
	snap.SavedBy = savedBy
	return snap
}

// Restore applies a snapshot to the live document in three passes ordered by
// dependency: multi groups first, then scalars (radio by value, then text),
// then editable cells. Cells absent from the snapshot keep their current
// content; restoration merges into the document, it does not reset it.
// Unknown keys and unmatched option values are silently dropped so drafts
// from older schema revisions restore cleanly; the count of dropped keys is
// returned for diagnostic logging. The point list is returned for the
// caller to hand to the sketch layer once the base image has painted.
// Applying the same snapshot twice yields the same document state.
func Restore(f *field.Form, snap Snapshot) (points []sketch.Point, dropped int) {
	schema := f.Schema()

	// Pass 1: multi-valued entries, exact option match.
	for key, values := range snap.Multis {
		d, ok := schema.Lookup(key)
		if !ok || d.Kind != field.KindMulti {
			dropped++
			continue
		}
		for _, v := range values {
			_ = f.SetCheck(key, v, true)
		}
	}

	// Pass 2: scalar entries. Radio groups are tried by value first; the
	// reserved keys never reach here and cell keys are deferred to pass 3.
	for key, value := range snap.Scalars {
		d, ok := schema.Lookup(key)
		if !ok {
			dropped++
			continue
		}
		switch d.Kind {
		case field.KindRadio:
			_ = f.SetRadio(key, value)
		case field.KindText:
			_ = f.SetText(key, value)
		case field.KindCell:
			// pass 3
		default:
			dropped++
		}
	}

	// Pass 3: editable cells present in the snapshot only.
	for _, key := range schema.Cells() {
		if value, ok := snap.Scalars[key]; ok {
			_ = f.SetText(key, value)
		}
	}

	return append([]sketch.Point(nil), snap.Points...), dropped
}

// IsMultiKey reports whether a wire key carries the multi-valued suffix.
// Only diagnostics use this; restoration matches kinds via the schema.
func IsMultiKey(key string) bool {
	return strings.HasSuffix(key, field.MultiSuffix)
}
