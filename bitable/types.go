package bitable

// FieldType is the closed set of logical field kinds this module writes.
// Each maps to one numeric type code on the remote store.
type FieldType int

const (
	FieldText FieldType = iota
	FieldNumber
	FieldSingleSelect
	FieldMultiSelect
	FieldDateTime
)

// Remote type codes, per the store's field-create payload.
const (
	codeText         = 1
	codeNumber       = 2
	codeSingleSelect = 3
	codeMultiSelect  = 4
	codeDateTime     = 5
)

func (t FieldType) code() int {
	switch t {
	case FieldNumber:
		return codeNumber
	case FieldSingleSelect:
		return codeSingleSelect
	case FieldMultiSelect:
		return codeMultiSelect
	case FieldDateTime:
		return codeDateTime
	default:
		return codeText
	}
}

// SelectOption is one choice of a select field.
type SelectOption struct {
	Name string `json:"name"`
}

// FieldSpec describes one field to ensure on a remote table.
type FieldSpec struct {
	Name      string
	Type      FieldType
	Options   []SelectOption // select kinds only
	Formatter string         // optional display formatter for Number fields
}

// Text, Number, DateTime, SingleSelect and MultiSelect build FieldSpecs for
// the canonical table schemas without call sites re-declaring wire details.
func Text(name string) FieldSpec     { return FieldSpec{Name: name, Type: FieldText} }
func Number(name string) FieldSpec   { return FieldSpec{Name: name, Type: FieldNumber} }
func DateTime(name string) FieldSpec { return FieldSpec{Name: name, Type: FieldDateTime} }

func SingleSelect(name string, options ...string) FieldSpec {
	return FieldSpec{Name: name, Type: FieldSingleSelect, Options: selectOptions(options)}
}

func MultiSelect(name string, options ...string) FieldSpec {
	return FieldSpec{Name: name, Type: FieldMultiSelect, Options: selectOptions(options)}
}

// Percent is a Number field displayed as a percentage. Values are written
// as raw ratios; formatting is a view concern on the remote side.
func Percent(name string) FieldSpec {
	return FieldSpec{Name: name, Type: FieldNumber, Formatter: "0.00%"}
}

func selectOptions(names []string) []SelectOption {
	opts := make([]SelectOption, 0, len(names))
	for _, n := range names {
		opts = append(opts, SelectOption{Name: n})
	}
	return opts
}

// wireField is the field-create payload.
type wireField struct {
	FieldName string         `json:"field_name"`
	Type      int            `json:"type"`
	Property  map[string]any `json:"property,omitempty"`
}

// toWire resolves a FieldSpec to its concrete remote shape. Select kinds
// without an option list degrade to Text so the remote validation cannot
// reject the create.
func (s FieldSpec) toWire() wireField {
	w := wireField{FieldName: s.Name, Type: s.Type.code()}
	switch s.Type {
	case FieldSingleSelect, FieldMultiSelect:
		if len(s.Options) == 0 {
			w.Type = codeText
			return w
		}
		w.Property = map[string]any{"options": s.Options}
	case FieldNumber:
		if s.Formatter != "" {
			w.Property = map[string]any{"formatter": s.Formatter}
		}
	}
	return w
}

// App is a remote workspace.
type App struct {
	AppToken       string `json:"app_token"`
	Name           string `json:"name"`
	DefaultTableID string `json:"default_table_id"`
	FolderToken    string `json:"folder_token"`
	URL            string `json:"url"`
}

// Table identifies one table within an app.
type Table struct {
	ID   string `json:"table_id"`
	Name string `json:"name"`
}

// Field is one existing remote field.
type Field struct {
	ID   string `json:"field_id"`
	Name string `json:"field_name"`
	Type int    `json:"type"`
}

// Record is one remote record with its field values.
type Record struct {
	ID     string         `json:"record_id"`
	Fields map[string]any `json:"fields"`
}

// SortOrder for view sorting.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// View is one view of a table.
type View struct {
	ID   string `json:"view_id"`
	Name string `json:"view_name"`
	Type string `json:"view_type"`
}
