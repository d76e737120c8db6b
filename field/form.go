package field

import "fmt"

// Form is the live document: the current value of every schema field.
// It is not safe for concurrent use; the owning session serializes access.
type Form struct {
	schema   *Schema
	text     map[string]string          // text + cell values, keyed by field key
	radio    map[string]string          // selected option per radio group, "" = none
	checked  map[string]map[string]bool // multi group -> option -> checked
	onChange func(key string)
}

// NewForm creates an empty form over the schema.
func NewForm(schema *Schema) *Form {
	f := &Form{
		schema:  schema,
		text:    make(map[string]string),
		radio:   make(map[string]string),
		checked: make(map[string]map[string]bool),
	}
	for _, d := range schema.Descs() {
		if d.Kind == KindMulti {
			f.checked[d.Key] = make(map[string]bool, len(d.Options))
		}
	}
	return f
}

// Schema returns the schema the form was built over.
func (f *Form) Schema() *Schema { return f.schema }

// OnChange registers a hook invoked after every successful mutation with the
// key that changed. At most one hook; nil unregisters.
func (f *Form) OnChange(fn func(key string)) { f.onChange = fn }

func (f *Form) changed(key string) {
	if f.onChange != nil {
		f.onChange(key)
	}
}

// SetText writes a text control or editable cell value.
func (f *Form) SetText(key, value string) error {
	d, ok := f.schema.Lookup(key)
	if !ok {
		return fmt.Errorf("field: unknown key %q", key)
	}
	if d.Kind != KindText && d.Kind != KindCell {
		return fmt.Errorf("field: key %q is %s, not text", key, d.Kind)
	}
	f.text[key] = value
	f.changed(key)
	return nil
}

// Text returns the current value of a text control or cell.
func (f *Form) Text(key string) string { return f.text[key] }

// SetRadio selects an option in a radio group. An option not declared for
// the group is silently dropped: stored drafts from other schema revisions
// must not fail restoration.
func (f *Form) SetRadio(key, option string) error {
	d, ok := f.schema.Lookup(key)
	if !ok {
		return fmt.Errorf("field: unknown key %q", key)
	}
	if d.Kind != KindRadio {
		return fmt.Errorf("field: key %q is %s, not radio", key, d.Kind)
	}
	if !hasOption(d.Options, option) {
		return nil
	}
	f.radio[key] = option
	f.changed(key)
	return nil
}

// Radio returns the selected option of a radio group, or "" when none is.
func (f *Form) Radio(key string) string { return f.radio[key] }

// SetCheck checks or unchecks one option of a multi group. Unknown options
// are silently dropped, as with SetRadio.
func (f *Form) SetCheck(key, option string, on bool) error {
	d, ok := f.schema.Lookup(key)
	if !ok {
		return fmt.Errorf("field: unknown key %q", key)
	}
	if d.Kind != KindMulti {
		return fmt.Errorf("field: key %q is %s, not multi", key, d.Kind)
	}
	if !hasOption(d.Options, option) {
		return nil
	}
	f.checked[key][option] = on
	f.changed(key)
	return nil
}

// Checked reports whether one option of a multi group is checked.
func (f *Form) Checked(key, option string) bool {
	g, ok := f.checked[key]
	return ok && g[option]
}

// CheckedValues returns the checked options of a multi group in option
// declaration order. nil when none are checked.
func (f *Form) CheckedValues(key string) []string {
	d, ok := f.schema.Lookup(key)
	if !ok || d.Kind != KindMulti {
		return nil
	}
	var out []string
	for _, opt := range d.Options {
		if f.checked[key][opt] {
			out = append(out, opt)
		}
	}
	return out
}

// Reset wipes the whole document: blanks every text and cell value, clears
// every radio selection, and unchecks every option of every multi group.
// Each group is unchecked explicitly rather than replaced wholesale so the
// wipe is observable per key through the change hook.
func (f *Form) Reset() {
	for _, d := range f.schema.Descs() {
		switch d.Kind {
		case KindText, KindCell:
			if f.text[d.Key] != "" {
				f.text[d.Key] = ""
				f.changed(d.Key)
			}
		case KindRadio:
			if f.radio[d.Key] != "" {
				f.radio[d.Key] = ""
				f.changed(d.Key)
			}
		case KindMulti:
			g := f.checked[d.Key]
			dirty := false
			for _, opt := range d.Options {
				if g[opt] {
					g[opt] = false
					dirty = true
				}
			}
			if dirty {
				f.changed(d.Key)
			}
		}
	}
}

func hasOption(options []string, v string) bool {
	for _, o := range options {
		if o == v {
			return true
		}
	}
	return false
}
