package entity

import (
	"maps"
	"strings"
	"time"
)

// Values maps a local column to a coerced value: string, int64, float64,
// bool, time.Time, []string, []any, map[string]any or nil.
type Values map[string]any

// Entity is one mapped record, ready to be written to its table.
type Entity struct {
	Type       Type
	RemoteID   string
	ModifiedAt time.Time // remote last-modified
	SyncedAt   time.Time // set only on rows read back from the store

	// Fields holds declared columns.
	Fields Values
	// Extra holds columns for remote keys without a declared mapping. They
	// are written only once the schema reflector has added the column.
	Extra Values
	// Overflow keeps remote keys that are intentionally unmapped, plus any
	// extra key whose column could not be added.
	Overflow map[string]any
}

func New(t Type, remoteID string) *Entity {
	return &Entity{
		Type:     t,
		RemoteID: remoteID,
		Fields:   Values{},
		Extra:    Values{},
		Overflow: map[string]any{},
	}
}

// Columns merges declared and extra columns; declared columns win.
func (e *Entity) Columns() Values {
	out := make(Values, len(e.Fields)+len(e.Extra))
	maps.Copy(out, e.Extra)
	maps.Copy(out, e.Fields)
	return out
}

func (e *Entity) String(col string) string {
	if s, ok := e.Fields[col].(string); ok {
		return s
	}
	return ""
}

func (e *Entity) Strings(col string) []string {
	switch v := e.Fields[col].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// LastKnown is the timestamp newer-wins compares against: when the engine last
// wrote the row, or the copied remote timestamp for rows written before that
// column existed.
func (e *Entity) LastKnown() time.Time {
	if !e.SyncedAt.IsZero() {
		return e.SyncedAt
	}
	return e.ModifiedAt
}

// IsEmpty reports whether a stored value counts as missing. Zero numbers and
// false are real values.
func IsEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case []string:
		return len(x) == 0
	case []any:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	case time.Time:
		return x.IsZero()
	}
	return false
}
