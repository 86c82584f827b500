package fallback

import (
	"context"

	"github.com/invoicehub/mirror/internal/entity"
)

// Summer is the store capability SumOf needs.
type Summer interface {
	SumColumn(ctx context.Context, t entity.Type, col string, remoteIDs []string) (float64, int, error)
}

// SumOf derives a value by adding up col over the local rows of t. When
// none of the related rows exist locally nothing is derived.
func SumOf(s Summer, t entity.Type, col string) Derivation {
	return func(ctx context.Context, relatedIDs []string) (any, error) {
		sum, found, err := s.SumColumn(ctx, t, col, relatedIDs)
		if err != nil {
			return nil, err
		}
		if found == 0 {
			return nil, nil
		}
		return sum, nil
	}
}

// InvoiceTotal fills invoices.total_amount from the invoice's line items.
func InvoiceTotal(s Summer) Rule {
	return Rule{
		Type:          entity.Invoice,
		Column:        entity.ColTotalAmount,
		RelatedColumn: entity.ColLineItemIDs,
		Derive:        SumOf(s, entity.LineItem, entity.ColAmount),
	}
}
