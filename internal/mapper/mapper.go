// Package mapper converts untyped remote records into entities using a
// declarative per-type field table.
package mapper

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/invoicehub/mirror/internal/entity"
	"github.com/invoicehub/mirror/internal/remote"
	"github.com/ohler55/ojg/jp"
	"gopkg.in/yaml.v3"
)

//go:embed mappings.yaml
var defaultMappings []byte

var (
	ErrMissingID    = errors.New("mapper: record has no _id")
	ErrUnmappedType = errors.New("mapper: no mapping for type")
)

// MappingError isolates a failure to one record.
type MappingError struct {
	Type     entity.Type
	RemoteID string
	Field    string
	Err      error
}

func (e *MappingError) Error() string {
	if e.RemoteID == "" {
		return fmt.Sprintf("map %s: field %q: %v", e.Type, e.Field, e.Err)
	}
	return fmt.Sprintf("map %s %s: field %q: %v", e.Type, e.RemoteID, e.Field, e.Err)
}

func (e *MappingError) Unwrap() error { return e.Err }

// Field is one row of the mapping table.
type Field struct {
	Remote   string           `yaml:"remote"`
	Path     string           `yaml:"path"`
	Column   string           `yaml:"column"`
	Type     entity.FieldType `yaml:"type"`
	Relation entity.Type      `yaml:"relation"`
	Overflow bool             `yaml:"overflow"`

	expr jp.Expr
}

// source is the top-level remote key the field reads from
func (f *Field) source() string {
	if f.Path == "" {
		return f.Remote
	}
	for _, frag := range f.expr {
		switch x := frag.(type) {
		case jp.Root, jp.Bracket:
			continue
		case jp.Child:
			return string(x)
		}
		break
	}
	return ""
}

type typeTable struct {
	Remote string  `yaml:"remote"`
	Fields []Field `yaml:"fields"`

	consumed map[string]bool
	columns  map[string]entity.FieldType
}

// Mapper is immutable after construction and safe for concurrent use.
type Mapper struct {
	types map[entity.Type]*typeTable
}

// Default returns the mapper built from the embedded table.
func Default() (*Mapper, error) {
	return New(defaultMappings)
}

func New(raw []byte) (*Mapper, error) {
	var doc map[entity.Type]*typeTable
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("mapper: parse table: %w", err)
	}

	for t, tt := range doc {
		if !t.Valid() {
			return nil, fmt.Errorf("mapper: unknown type %q", t)
		}
		tt.consumed = map[string]bool{
			remote.FieldID:           true,
			remote.FieldModifiedDate: true,
		}
		tt.columns = map[string]entity.FieldType{}
		for i := range tt.Fields {
			f := &tt.Fields[i]
			if f.Remote == "" && f.Path == "" {
				return nil, fmt.Errorf("mapper: %s field %d has neither remote nor path", t, i)
			}
			if f.Path != "" {
				expr, err := jp.ParseString(f.Path)
				if err != nil {
					return nil, fmt.Errorf("mapper: %s path %q: %w", t, f.Path, err)
				}
				f.expr = expr
			}
			if src := f.source(); src != "" {
				tt.consumed[src] = true
			}
			if f.Overflow {
				continue
			}
			if f.Column == "" || entity.IsSystemColumn(f.Column) {
				return nil, fmt.Errorf("mapper: %s field %q has invalid column %q", t, f.Remote+f.Path, f.Column)
			}
			if f.Type == "" {
				f.Type = entity.String
			}
			if f.Relation != "" && !f.Relation.Valid() {
				return nil, fmt.Errorf("mapper: %s field %q relates to unknown type %q", t, f.Column, f.Relation)
			}
			tt.columns[f.Column] = f.Type
		}
	}

	return &Mapper{types: doc}, nil
}

func (m *Mapper) table(t entity.Type) (*typeTable, error) {
	tt, ok := m.types[t]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnmappedType, t)
	}
	return tt, nil
}

// RemoteNames lists the remote collection name of every mapped type.
func (m *Mapper) RemoteNames() map[entity.Type]string {
	out := make(map[entity.Type]string, len(m.types))
	for t, tt := range m.types {
		if tt.Remote != "" {
			out[t] = tt.Remote
		}
	}
	return out
}

// Map converts one remote record. It never mutates rec and mapping the same
// record twice yields equal entities.
func (m *Mapper) Map(t entity.Type, rec remote.Record) (*entity.Entity, error) {
	tt, err := m.table(t)
	if err != nil {
		return nil, &MappingError{Type: t, Err: err}
	}

	id := rec.ID()
	if id == "" {
		return nil, &MappingError{Type: t, Field: remote.FieldID, Err: ErrMissingID}
	}

	e := entity.New(t, id)
	if ts, ok := rec.ModifiedAt(); ok {
		e.ModifiedAt = ts
	} else if ts, ok := ToTime(rec[remote.FieldModifiedDate]); ok {
		e.ModifiedAt = ts
	}

	for i := range tt.Fields {
		f := &tt.Fields[i]
		v := lookup(f, rec)
		if f.Overflow {
			if v != nil {
				e.Overflow[f.Remote+f.Path] = v
			}
			continue
		}
		e.Fields[f.Column] = coerce(f.Type, v)
	}

	for key, v := range rec {
		if tt.consumed[key] || v == nil {
			continue
		}
		col := NormalizeColumn(key)
		if col == "" || entity.IsSystemColumn(col) {
			e.Overflow[key] = v
			continue
		}
		if _, declared := tt.columns[col]; declared {
			e.Overflow[key] = v
			continue
		}
		if _, seen := e.Extra[col]; seen {
			// two remote keys normalized to the same column
			e.Overflow[key] = v
			continue
		}
		e.Extra[col] = Infer(v)
	}

	return e, nil
}

func lookup(f *Field, rec remote.Record) any {
	if f.expr == nil {
		return rec[f.Remote]
	}
	results := f.expr.Get(map[string]any(rec))
	if len(results) == 0 {
		return nil
	}
	return results[0]
}

func coerce(ft entity.FieldType, v any) any {
	if v == nil {
		return nil
	}
	switch ft {
	case entity.Integer:
		if n, ok := ToInt(v); ok {
			return n
		}
	case entity.Numeric:
		if f, ok := ToNumeric(v); ok {
			return f
		}
	case entity.Boolean:
		if b, ok := ToBool(v); ok {
			return b
		}
	case entity.Timestamp:
		if t, ok := ToTime(v); ok {
			return t
		}
	case entity.Array:
		if a, ok := ToArray(v); ok {
			return a
		}
	default:
		if s, ok := ToString(v); ok {
			return strings.TrimSpace(s)
		}
	}
	return nil
}
