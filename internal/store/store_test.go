package store

import (
	"context"
	"testing"
	"time"

	"github.com/invoicehub/mirror/internal/db"
	"github.com/invoicehub/mirror/internal/entity"
	"github.com/invoicehub/mirror/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var clock = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func setupStore(t *testing.T) *Store {
	t.Helper()
	database, err := db.Open(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return New(database, schema.NewReflector(database), WithClock(func() time.Time { return clock }))
}

func invoice(id string) *entity.Entity {
	e := entity.New(entity.Invoice, id)
	e.ModifiedAt = time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	e.Fields["invoice_number"] = "INV-" + id
	e.Fields["total_amount"] = 120.5
	e.Fields["is_paid"] = true
	e.Fields["issue_date"] = time.Date(2025, 4, 30, 0, 0, 0, 0, time.UTC)
	e.Fields["payment_ids"] = []string{"p1", "p2"}
	e.Fields["agent_id"] = nil
	e.Overflow["Percent of Total Amount"] = 15.0
	return e
}

func TestUpsert_RoundTrip(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	res, err := s.Upsert(ctx, invoice("a"))
	require.NoError(t, err)
	assert.True(t, res.Inserted)
	assert.Empty(t, res.Dropped)

	got, err := s.Get(ctx, entity.Invoice, "a")
	require.NoError(t, err)
	assert.Equal(t, "a", got.RemoteID)
	assert.True(t, got.ModifiedAt.Equal(time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)))
	assert.True(t, got.SyncedAt.Equal(clock))
	assert.Equal(t, "INV-a", got.Fields["invoice_number"])
	assert.Equal(t, 120.5, got.Fields["total_amount"])
	assert.Equal(t, true, got.Fields["is_paid"])
	assert.Equal(t, []string{"p1", "p2"}, got.Fields["payment_ids"])
	assert.Nil(t, got.Fields["agent_id"])
	issued, ok := got.Fields["issue_date"].(time.Time)
	require.True(t, ok)
	assert.True(t, issued.Equal(time.Date(2025, 4, 30, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 15.0, got.Overflow["Percent of Total Amount"])
}

func TestUpsert_IsIdempotent(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	_, err := s.Upsert(ctx, invoice("a"))
	require.NoError(t, err)
	first, err := s.Get(ctx, entity.Invoice, "a")
	require.NoError(t, err)

	res, err := s.Upsert(ctx, invoice("a"))
	require.NoError(t, err)
	assert.False(t, res.Inserted)

	second, err := s.Get(ctx, entity.Invoice, "a")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	ids, err := s.ListIDs(ctx, entity.Invoice)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids)
}

func TestUpsert_UnknownColumnGoesToOverflow(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	e := invoice("a")
	e.Extra["discount_code"] = "SPRING"
	res, err := s.Upsert(ctx, e)
	require.NoError(t, err)
	assert.Equal(t, []string{"discount_code"}, res.Dropped)

	got, err := s.Get(ctx, entity.Invoice, "a")
	require.NoError(t, err)
	assert.Equal(t, "SPRING", got.Overflow["discount_code"])

	// once reflected the column is written directly
	_, err = s.Schema().PatchSchema(ctx, entity.Invoice, []*entity.Entity{e})
	require.NoError(t, err)
	res, err = s.Upsert(ctx, e)
	require.NoError(t, err)
	assert.Empty(t, res.Dropped)

	got, err = s.Get(ctx, entity.Invoice, "a")
	require.NoError(t, err)
	assert.Equal(t, "SPRING", got.Fields["discount_code"])
	assert.NotContains(t, got.Overflow, "discount_code")
}

func TestGet_NotFound(t *testing.T) {
	s := setupStore(t)
	_, err := s.Get(context.Background(), entity.Customer, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateFields(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	_, err := s.Upsert(ctx, invoice("a"))
	require.NoError(t, err)

	skipped, err := s.UpdateFields(ctx, entity.Invoice, "a", entity.Values{"notes": "late", "nope": 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"nope"}, skipped)

	got, err := s.Get(ctx, entity.Invoice, "a")
	require.NoError(t, err)
	assert.Equal(t, "late", got.Fields["notes"])
	assert.Equal(t, "INV-a", got.Fields["invoice_number"])

	_, err = s.UpdateFields(ctx, entity.Invoice, "zzz", entity.Values{"notes": "x"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLastKnown(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	_, err := s.Upsert(ctx, invoice("a"))
	require.NoError(t, err)

	got, err := s.LastKnown(ctx, entity.Invoice, []string{"a", "b"})
	require.NoError(t, err)
	require.Contains(t, got, "a")
	assert.NotContains(t, got, "b")
	assert.True(t, got["a"].Equal(clock))
}

func TestSumColumn(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	for id, amount := range map[string]float64{"l1": 100, "l2": 250.25, "l3": 7} {
		e := entity.New(entity.LineItem, id)
		e.Fields["amount"] = amount
		_, err := s.Upsert(ctx, e)
		require.NoError(t, err)
	}

	sum, found, err := s.SumColumn(ctx, entity.LineItem, "amount", []string{"l1", "l2", "missing"})
	require.NoError(t, err)
	assert.Equal(t, 2, found)
	assert.InDelta(t, 350.25, sum, 1e-9)

	sum, found, err = s.SumColumn(ctx, entity.LineItem, "amount", nil)
	require.NoError(t, err)
	assert.Zero(t, found)
	assert.Zero(t, sum)
}

func TestDeleteMissing(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	for _, id := range []string{"1", "2", "3"} {
		_, err := s.Upsert(ctx, entity.New(entity.SubmittedPayment, id))
		require.NoError(t, err)
	}

	deleted, err := s.DeleteMissing(ctx, entity.SubmittedPayment, []string{"1", "2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"3"}, deleted)

	deleted, err = s.DeleteMissing(ctx, entity.SubmittedPayment, []string{"1", "2"})
	require.NoError(t, err)
	assert.Empty(t, deleted)

	ids, err := s.ListIDs(ctx, entity.SubmittedPayment)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, ids)
}

func TestList_AfterDeleteMissing(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	for _, id := range []string{"x", "y", "z"} {
		_, err := s.Upsert(ctx, entity.New(entity.Template, id))
		require.NoError(t, err)
	}

	deleted, err := s.DeleteMissing(ctx, entity.Template, []string{"y", "z", "nope"})
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, deleted)

	rows, err := s.List(ctx, entity.Template, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "y", rows[0].RemoteID)
}
