package fallback

import (
	"context"
	"errors"
	"testing"

	"github.com/invoicehub/mirror/internal/entity"
	"github.com/stretchr/testify/assert"
)

func constant(v any, err error) Derivation {
	return func(context.Context, []string) (any, error) { return v, err }
}

type fakeSummer struct {
	sum   float64
	found int
}

func (f fakeSummer) SumColumn(context.Context, entity.Type, string, []string) (float64, int, error) {
	return f.sum, f.found, nil
}

func TestResolve_Priority(t *testing.T) {
	ctx := context.Background()
	ids := []string{"l1"}

	v, src := Resolve(ctx, 100.0, ids, "500", constant(42.0, nil))
	assert.Equal(t, 100.0, v)
	assert.Equal(t, FromRemote, src)

	// zero from the remote is still a value
	v, src = Resolve(ctx, 0.0, ids, "500", constant(42.0, nil))
	assert.Equal(t, 0.0, v)
	assert.Equal(t, FromRemote, src)

	v, src = Resolve(ctx, "", ids, "500", constant(42.0, nil))
	assert.Equal(t, 42.0, v)
	assert.Equal(t, FromDerived, src)

	v, src = Resolve(ctx, nil, ids, "500", constant(0.0, nil))
	assert.Equal(t, "500", v)
	assert.Equal(t, FromPrevious, src)

	v, src = Resolve(ctx, nil, ids, nil, constant(nil, errors.New("db down")))
	assert.Nil(t, v)
	assert.Equal(t, FromNone, src)

	v, src = Resolve(ctx, nil, nil, 7.0, constant(42.0, nil))
	assert.Equal(t, 7.0, v)
	assert.Equal(t, FromPrevious, src)
}

func TestApply_InvoiceTotal(t *testing.T) {
	ctx := context.Background()
	r := NewResolver(InvoiceTotal(fakeSummer{sum: 350, found: 2}))

	e := entity.New(entity.Invoice, "inv")
	e.Fields[entity.ColTotalAmount] = nil
	e.Fields[entity.ColLineItemIDs] = []string{"l1", "l2"}

	got := r.Apply(ctx, e, nil)
	assert.Equal(t, FromDerived, got[entity.ColTotalAmount])
	assert.Equal(t, 350.0, e.Fields[entity.ColTotalAmount])

	assert.True(t, r.Has(entity.Invoice))
	assert.False(t, r.Has(entity.Payment))
	assert.Nil(t, r.Apply(ctx, entity.New(entity.Payment, "p"), nil))
}

func TestApply_KeepsPreviousWhenNothingDerived(t *testing.T) {
	ctx := context.Background()
	r := NewResolver(InvoiceTotal(fakeSummer{}))

	prev := entity.New(entity.Invoice, "inv")
	prev.Fields[entity.ColTotalAmount] = 900.0

	e := entity.New(entity.Invoice, "inv")
	e.Fields[entity.ColLineItemIDs] = []string{"gone"}

	got := r.Apply(ctx, e, prev)
	assert.Equal(t, FromPrevious, got[entity.ColTotalAmount])
	assert.Equal(t, 900.0, e.Fields[entity.ColTotalAmount])
}
