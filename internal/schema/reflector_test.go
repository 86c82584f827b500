package schema

import (
	"context"
	"testing"
	"time"

	"github.com/invoicehub/mirror/internal/db"
	"github.com/invoicehub/mirror/internal/entity"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupDB(t *testing.T) *sqlx.DB {
	t.Helper()
	database, err := db.Open(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func withExtra(id string, extra entity.Values) *entity.Entity {
	e := entity.New(entity.Invoice, id)
	e.Extra = extra
	return e
}

func TestPatchSchema_AddsUnseenColumnOnce(t *testing.T) {
	r := NewReflector(setupDB(t))
	ctx := context.Background()
	batch := []*entity.Entity{withExtra("a", entity.Values{"seats": int64(3)})}

	first, err := r.PatchSchema(ctx, entity.Invoice, batch)
	require.NoError(t, err)
	assert.Equal(t, []string{"seats"}, first.Added)
	assert.Empty(t, first.Errors)

	second, err := r.PatchSchema(ctx, entity.Invoice, batch)
	require.NoError(t, err)
	assert.Empty(t, second.Added)
	assert.Equal(t, []string{"seats"}, second.Existing)

	cols, err := r.Columns(ctx, entity.Invoice)
	require.NoError(t, err)
	assert.Equal(t, "INTEGER", cols["seats"])
}

func TestPatchSchema_InfersTypesFromFirstNonNull(t *testing.T) {
	r := NewReflector(setupDB(t))
	ctx := context.Background()

	batch := []*entity.Entity{
		withExtra("a", entity.Values{"rate": nil}),
		withExtra("b", entity.Values{
			"rate":      2.5,
			"flag":      true,
			"seen_at":   time.Now(),
			"codes":     []any{1.0, 2.0},
			"labels":    []any{"x"},
			"meta":      map[string]any{"k": "v"},
			"free_text": "hi",
		}),
	}

	res, err := r.PatchSchema(ctx, entity.Invoice, batch)
	require.NoError(t, err)
	assert.Len(t, res.Added, 7)

	cols, err := r.Columns(ctx, entity.Invoice)
	require.NoError(t, err)
	assert.Equal(t, "REAL", cols["rate"])
	assert.Equal(t, "BOOLEAN", cols["flag"])
	assert.Equal(t, "TIMESTAMP", cols["seen_at"])
	assert.Equal(t, "INTEGER_ARRAY", cols["codes"])
	assert.Equal(t, "TEXT_ARRAY", cols["labels"])
	assert.Equal(t, "JSON", cols["meta"])
	assert.Equal(t, "TEXT", cols["free_text"])
}

func TestPatchSchema_SkipsSystemAndDeclaredColumns(t *testing.T) {
	r := NewReflector(setupDB(t))

	e := entity.New(entity.Invoice, "a")
	e.Fields["invoice_number"] = "INV-1"
	e.Extra["extra_json"] = "nope"

	res, err := r.PatchSchema(context.Background(), entity.Invoice, []*entity.Entity{e})
	require.NoError(t, err)
	assert.Empty(t, res.Added)
	assert.Empty(t, res.Missing)
	assert.Contains(t, res.Existing, "invoice_number")
}

func TestPatchSchema_RecordsPerColumnFailure(t *testing.T) {
	r := NewReflector(setupDB(t))

	res, err := r.PatchSchema(context.Background(), entity.Invoice, []*entity.Entity{
		withExtra("a", entity.Values{"Bad Column": "x", "good": "y"}),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"good"}, res.Added)
	assert.Equal(t, []string{"Bad Column"}, res.Failed())
}

func TestPatchSchema_ConcurrentCallsAreSafe(t *testing.T) {
	r := NewReflector(setupDB(t))
	ctx := context.Background()

	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			_, err := r.PatchSchema(ctx, entity.Customer, []*entity.Entity{
				{Type: entity.Customer, RemoteID: "c", Extra: entity.Values{"loyalty_points": int64(1)}},
			})
			errs <- err
		}()
	}
	for i := 0; i < 8; i++ {
		require.NoError(t, <-errs)
	}

	cols, err := r.Columns(ctx, entity.Customer)
	require.NoError(t, err)
	assert.Contains(t, cols, "loyalty_points")
}

func TestInferType(t *testing.T) {
	assert.Equal(t, "TEXT", InferType(nil))
	assert.Equal(t, "INTEGER", InferType(int64(1)))
	assert.Equal(t, "TEXT_ARRAY", InferType([]string{"a"}))
	assert.Equal(t, "REAL_ARRAY", InferType([]any{nil, 1.5}))
}
