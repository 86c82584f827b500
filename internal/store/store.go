// Package store reads and writes mirrored rows. Every table is keyed by the
// remote identifier; the local integer id never leaves this package.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/invoicehub/mirror/internal/entity"
	"github.com/invoicehub/mirror/internal/schema"
	"github.com/jmoiron/sqlx"
)

var ErrNotFound = errors.New("store: row not found")

// SQLite caps bound parameters per statement
const maxParams = 500

// WriteResult describes one row write.
type WriteResult struct {
	Inserted bool
	// Dropped lists columns the table lacks; their values went to extra_json.
	Dropped []string
}

type Store struct {
	db     *sqlx.DB
	schema *schema.Reflector
	now    func() time.Time
}

type Option func(*Store)

// WithClock replaces the clock used for last_synced_at.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func New(db *sqlx.DB, reflector *schema.Reflector, opts ...Option) *Store {
	s := &Store{
		db:     db,
		schema: reflector,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Schema() *schema.Reflector { return s.schema }

// Get loads one row by remote identifier.
func (s *Store) Get(ctx context.Context, t entity.Type, remoteID string) (*entity.Entity, error) {
	cols, err := s.schema.Columns(ctx, t)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryxContext(ctx, fmt.Sprintf("SELECT * FROM %q WHERE remote_id = ?", t.Table()), remoteID)
	if err != nil {
		return nil, fmt.Errorf("store: get %s %s: %w", t, remoteID, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("store: get %s %s: %w", t, remoteID, err)
		}
		return nil, fmt.Errorf("%s %s: %w", t, remoteID, ErrNotFound)
	}
	return scanEntity(t, rows, cols)
}

// List loads up to limit rows in insertion order. A limit <= 0 loads all.
func (s *Store) List(ctx context.Context, t entity.Type, limit int) ([]*entity.Entity, error) {
	cols, err := s.schema.Columns(ctx, t)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT * FROM %q ORDER BY id", t.Table())
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: list %s: %w", t, err)
	}
	defer rows.Close()

	var out []*entity.Entity
	for rows.Next() {
		e, err := scanEntity(t, rows, cols)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEntity(t entity.Type, rows *sqlx.Rows, cols map[string]string) (*entity.Entity, error) {
	raw := map[string]any{}
	if err := rows.MapScan(raw); err != nil {
		return nil, fmt.Errorf("store: scan %s: %w", t, err)
	}

	e := entity.New(t, "")
	for col, v := range raw {
		switch col {
		case entity.ColID, entity.ColCreatedAt:
		case entity.ColRemoteID:
			e.RemoteID, _ = decode("TEXT", v).(string)
		case entity.ColRemoteModifiedAt:
			e.ModifiedAt = toTime(decode("TIMESTAMP", v))
		case entity.ColLastSyncedAt:
			e.SyncedAt = toTime(decode("TIMESTAMP", v))
		case entity.ColExtraJSON:
			if s, ok := decode("TEXT", v).(string); ok && s != "" {
				if err := jsonUnmarshal([]byte(s), &e.Overflow); err != nil {
					return nil, fmt.Errorf("store: decode extra_json of %s %s: %w", t, e.RemoteID, err)
				}
			}
		default:
			e.Fields[col] = decode(cols[col], v)
		}
	}
	return e, nil
}

// Upsert writes every column of e, replacing what the row held.
func (s *Store) Upsert(ctx context.Context, e *entity.Entity) (*WriteResult, error) {
	cols, err := s.schema.Columns(ctx, e.Type)
	if err != nil {
		return nil, err
	}

	result := &WriteResult{}
	overflow := maps.Clone(e.Overflow)
	values := map[string]any{}
	for col, v := range e.Columns() {
		if entity.IsSystemColumn(col) {
			continue
		}
		if _, ok := cols[col]; !ok {
			if v != nil {
				if overflow == nil {
					overflow = map[string]any{}
				}
				overflow[col] = v
			}
			result.Dropped = append(result.Dropped, col)
			continue
		}
		enc, err := encode(v)
		if err != nil {
			return nil, fmt.Errorf("store: encode %s.%s: %w", e.Type, col, err)
		}
		values[col] = enc
	}
	slices.Sort(result.Dropped)

	extra, err := encodeOverflow(overflow)
	if err != nil {
		return nil, fmt.Errorf("store: encode extra_json of %s %s: %w", e.Type, e.RemoteID, err)
	}
	modified, _ := encode(e.ModifiedAt)
	synced, _ := encode(s.now())

	names := []string{entity.ColRemoteID, entity.ColRemoteModifiedAt, entity.ColLastSyncedAt, entity.ColExtraJSON}
	args := []any{e.RemoteID, modified, synced, extra}
	for _, col := range slices.Sorted(maps.Keys(values)) {
		names = append(names, col)
		args = append(args, values[col])
	}

	quoted := make([]string, len(names))
	updates := make([]string, 0, len(names)-1)
	for i, n := range names {
		quoted[i] = fmt.Sprintf("%q", n)
		if i > 0 {
			updates = append(updates, fmt.Sprintf("%q = excluded.%q", n, n))
		}
	}

	query := fmt.Sprintf(
		"INSERT INTO %q (%s) VALUES (%s) ON CONFLICT(remote_id) DO UPDATE SET %s",
		e.Type.Table(),
		strings.Join(quoted, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", "),
		strings.Join(updates, ", "),
	)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	var n int
	if err := tx.GetContext(ctx, &n, fmt.Sprintf("SELECT COUNT(*) FROM %q WHERE remote_id = ?", e.Type.Table()), e.RemoteID); err != nil {
		return nil, fmt.Errorf("store: upsert %s %s: %w", e.Type, e.RemoteID, err)
	}
	result.Inserted = n == 0

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("store: upsert %s %s: %w", e.Type, e.RemoteID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit: %w", err)
	}
	return result, nil
}

// UpdateFields sets only the given columns on an existing row. Columns the
// table lacks are skipped and returned.
func (s *Store) UpdateFields(ctx context.Context, t entity.Type, remoteID string, values entity.Values) ([]string, error) {
	cols, err := s.schema.Columns(ctx, t)
	if err != nil {
		return nil, err
	}

	var skipped []string
	sets := []string{fmt.Sprintf("%q = ?", entity.ColLastSyncedAt)}
	synced, _ := encode(s.now())
	args := []any{synced}
	for _, col := range slices.Sorted(maps.Keys(values)) {
		if _, ok := cols[col]; !ok || entity.IsSystemColumn(col) {
			skipped = append(skipped, col)
			continue
		}
		enc, err := encode(values[col])
		if err != nil {
			return nil, fmt.Errorf("store: encode %s.%s: %w", t, col, err)
		}
		sets = append(sets, fmt.Sprintf("%q = ?", col))
		args = append(args, enc)
	}
	args = append(args, remoteID)

	res, err := s.db.ExecContext(ctx, fmt.Sprintf("UPDATE %q SET %s WHERE remote_id = ?", t.Table(), strings.Join(sets, ", ")), args...)
	if err != nil {
		return nil, fmt.Errorf("store: update %s %s: %w", t, remoteID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%s %s: %w", t, remoteID, ErrNotFound)
	}
	return skipped, nil
}

// LastKnown returns, for every id that has a row, the time newer-wins
// compares against. Ids without a row are absent from the map.
func (s *Store) LastKnown(ctx context.Context, t entity.Type, remoteIDs []string) (map[string]time.Time, error) {
	out := make(map[string]time.Time, len(remoteIDs))
	for chunk := range slices.Chunk(remoteIDs, maxParams) {
		query, args, err := sqlx.In(fmt.Sprintf("SELECT remote_id, remote_modified_at, last_synced_at FROM %q WHERE remote_id IN (?)", t.Table()), chunk)
		if err != nil {
			return nil, err
		}
		rows, err := s.db.QueryxContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("store: timestamps %s: %w", t, err)
		}
		for rows.Next() {
			var (
				id               string
				modified, synced any
			)
			if err := rows.Scan(&id, &modified, &synced); err != nil {
				rows.Close()
				return nil, fmt.Errorf("store: scan timestamps %s: %w", t, err)
			}
			e := entity.Entity{ModifiedAt: toTime(modified), SyncedAt: toTime(synced)}
			out[id] = e.LastKnown()
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// SumColumn adds up a numeric column over the rows matching remoteIDs and
// reports how many rows contributed.
func (s *Store) SumColumn(ctx context.Context, t entity.Type, col string, remoteIDs []string) (float64, int, error) {
	if len(remoteIDs) == 0 {
		return 0, 0, nil
	}
	var (
		total float64
		found int
	)
	for chunk := range slices.Chunk(remoteIDs, maxParams) {
		query, args, err := sqlx.In(fmt.Sprintf("SELECT COALESCE(SUM(%q), 0), COUNT(%q) FROM %q WHERE remote_id IN (?)", col, col, t.Table()), chunk)
		if err != nil {
			return 0, 0, err
		}
		var (
			sum sql.NullFloat64
			n   int
		)
		if err := s.db.QueryRowxContext(ctx, query, args...).Scan(&sum, &n); err != nil {
			return 0, 0, fmt.Errorf("store: sum %s.%s: %w", t, col, err)
		}
		total += sum.Float64
		found += n
	}
	return total, found, nil
}

// ListIDs returns every remote identifier stored for t.
func (s *Store) ListIDs(ctx context.Context, t entity.Type) ([]string, error) {
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, fmt.Sprintf("SELECT remote_id FROM %q ORDER BY id", t.Table())); err != nil {
		return nil, fmt.Errorf("store: list ids %s: %w", t, err)
	}
	return ids, nil
}

// DeleteMissing removes every row whose remote identifier is not in keep
// and returns the removed identifiers. The comparison runs in one
// transaction against a temporary table.
func (s *Store) DeleteMissing(ctx context.Context, t entity.Type, keep []string) (deleted []string, err error) {
	table := t.Table()
	if table == "" {
		return nil, fmt.Errorf("store: unknown type %q", t)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `CREATE TEMPORARY TABLE temp_remote_ids (remote_id TEXT PRIMARY KEY)`); err != nil {
		return nil, fmt.Errorf("store: create temporary table: %w", err)
	}

	insertStmt, err := tx.PreparexContext(ctx, `INSERT OR IGNORE INTO temp_remote_ids (remote_id) VALUES (?)`)
	if err != nil {
		return nil, fmt.Errorf("store: prepare statement: %w", err)
	}
	for _, id := range keep {
		if _, err = insertStmt.ExecContext(ctx, id); err != nil {
			insertStmt.Close()
			return nil, fmt.Errorf("store: insert %s into temp table: %w", id, err)
		}
	}
	insertStmt.Close()

	err = tx.SelectContext(ctx, &deleted, fmt.Sprintf(`
		SELECT l.remote_id FROM %q l
		LEFT JOIN temp_remote_ids r ON l.remote_id = r.remote_id
		WHERE r.remote_id IS NULL
		ORDER BY l.id
	`, table))
	if err != nil {
		return nil, fmt.Errorf("store: select stale rows: %w", err)
	}

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM %q
		WHERE remote_id IN (
			SELECT l.remote_id FROM %q l
			LEFT JOIN temp_remote_ids r ON l.remote_id = r.remote_id
			WHERE r.remote_id IS NULL
		)
	`, table, table))
	if err != nil {
		return nil, fmt.Errorf("store: delete stale rows: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `DROP TABLE temp_remote_ids`); err != nil {
		return nil, fmt.Errorf("store: drop temporary table: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit: %w", err)
	}
	return deleted, nil
}

func encodeOverflow(m map[string]any) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	raw, err := jsonMarshal(m)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}
