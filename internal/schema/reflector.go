// Package schema adds columns to mirrored tables when remote records carry
// fields the local store has not seen yet. Changes are additive only.
package schema

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/invoicehub/mirror/internal/entity"
	"github.com/jmoiron/sqlx"
)

var (
	ErrUnknownTable  = errors.New("schema: unknown table")
	ErrInvalidColumn = errors.New("schema: invalid column name")
)

var validColumn = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// PatchResult summarizes one reflection pass.
type PatchResult struct {
	Table    string            `json:"table"`
	Existing []string          `json:"existing"`
	Missing  []string          `json:"missing"`
	Added    []string          `json:"added"`
	Errors   map[string]string `json:"errors,omitempty"`
}

// Merge folds a later pass over the same table into r. A column added by
// either pass is reported as added only.
func (r *PatchResult) Merge(later *PatchResult) {
	added := union(r.Added, later.Added)
	r.Added = added
	r.Missing = union(r.Missing, later.Missing)
	r.Existing = slices.DeleteFunc(union(r.Existing, later.Existing), func(col string) bool {
		return slices.Contains(added, col)
	})
	for col, msg := range later.Errors {
		if r.Errors == nil {
			r.Errors = map[string]string{}
		}
		r.Errors[col] = msg
	}
}

func union(a, b []string) []string {
	out := slices.Concat(a, b)
	slices.Sort(out)
	return slices.Compact(out)
}

// Failed lists columns that could not be added.
func (r *PatchResult) Failed() []string {
	return slices.Sorted(maps.Keys(r.Errors))
}

type columnInfo struct {
	CID     int            `db:"cid"`
	Name    string         `db:"name"`
	Type    string         `db:"type"`
	NotNull int            `db:"notnull"`
	Default sql.NullString `db:"dflt_value"`
	PK      int            `db:"pk"`
}

// Reflector caches table columns and their declared types.
type Reflector struct {
	db    *sqlx.DB
	mu    sync.Mutex
	cache map[string]map[string]string
}

func NewReflector(db *sqlx.DB) *Reflector {
	return &Reflector{
		db:    db,
		cache: make(map[string]map[string]string),
	}
}

// Columns returns column name to declared type for the table of t.
func (r *Reflector) Columns(ctx context.Context, t entity.Type) (map[string]string, error) {
	table := t.Table()
	if table == "" {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTable, t)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cols, err := r.columnsLocked(ctx, table)
	if err != nil {
		return nil, err
	}
	return maps.Clone(cols), nil
}

func (r *Reflector) columnsLocked(ctx context.Context, table string) (map[string]string, error) {
	if cols, ok := r.cache[table]; ok {
		return cols, nil
	}
	return r.refreshLocked(ctx, table)
}

func (r *Reflector) refreshLocked(ctx context.Context, table string) (map[string]string, error) {
	var infos []columnInfo
	if err := r.db.SelectContext(ctx, &infos, fmt.Sprintf("PRAGMA table_info(%q)", table)); err != nil {
		return nil, fmt.Errorf("schema: table info %s: %w", table, err)
	}
	if len(infos) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}

	cols := make(map[string]string, len(infos))
	for _, c := range infos {
		cols[c.Name] = strings.ToUpper(c.Type)
	}
	r.cache[table] = cols
	return cols, nil
}

// PatchSchema adds a column for every key the batch carries that the table
// lacks. A failing column is recorded in the result and the others are
// still attempted; the error return is reserved for not being able to read
// the table at all.
func (r *Reflector) PatchSchema(ctx context.Context, t entity.Type, batch []*entity.Entity) (*PatchResult, error) {
	table := t.Table()
	if table == "" {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTable, t)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cols, err := r.columnsLocked(ctx, table)
	if err != nil {
		return nil, err
	}

	samples := sampleColumns(batch)
	result := &PatchResult{Table: table, Errors: map[string]string{}}
	for _, col := range slices.Sorted(maps.Keys(samples)) {
		if entity.IsSystemColumn(col) {
			continue
		}
		if _, ok := cols[col]; ok {
			result.Existing = append(result.Existing, col)
			continue
		}
		result.Missing = append(result.Missing, col)
	}

	if len(result.Missing) == 0 {
		return result, nil
	}

	start := time.Now()
	for _, col := range result.Missing {
		if err := ctx.Err(); err != nil {
			result.Errors[col] = err.Error()
			continue
		}
		if !validColumn.MatchString(col) {
			result.Errors[col] = ErrInvalidColumn.Error()
			continue
		}
		sqlType := InferType(samples[col])
		stmt := fmt.Sprintf("ALTER TABLE %q ADD COLUMN %q %s", table, col, sqlType)
		if _, err := r.db.ExecContext(ctx, stmt); err != nil && !isDuplicateColumn(err) {
			slog.Warn("schema add column", "table", table, "column", col, "type", sqlType, "error", err)
			result.Errors[col] = err.Error()
			continue
		}
		result.Added = append(result.Added, col)
	}

	if _, err := r.refreshLocked(ctx, table); err != nil {
		// keep the stale cache; the next call retries
		delete(r.cache, table)
	}

	slog.Info("schema patched", "table", table, "added", len(result.Added), "failed", len(result.Errors), "took", time.Since(start))
	return result, nil
}

// sampleColumns picks the first non-null value seen for every column.
func sampleColumns(batch []*entity.Entity) map[string]any {
	samples := map[string]any{}
	for _, e := range batch {
		for col, v := range e.Columns() {
			if cur, seen := samples[col]; !seen || cur == nil {
				samples[col] = v
			}
		}
	}
	return samples
}

// InferType maps a sample value to a declared column type. Arrays carry
// their element type as a suffix so they can be decoded again.
func InferType(v any) string {
	switch x := v.(type) {
	case int64, int:
		return "INTEGER"
	case float64:
		return "REAL"
	case bool:
		return "BOOLEAN"
	case time.Time:
		return "TIMESTAMP"
	case []string:
		return "TEXT_ARRAY"
	case []any:
		for _, item := range x {
			if item == nil {
				continue
			}
			return elementType(item) + "_ARRAY"
		}
		return "TEXT_ARRAY"
	case map[string]any:
		return "JSON"
	}
	return "TEXT"
}

func elementType(v any) string {
	switch x := v.(type) {
	case float64:
		if x == float64(int64(x)) {
			return "INTEGER"
		}
		return "REAL"
	case bool:
		return "BOOLEAN"
	case map[string]any, []any:
		return "JSON"
	}
	return "TEXT"
}

func isDuplicateColumn(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "duplicate column")
}
