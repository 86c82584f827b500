// Package fallback fills a column the remote API left empty, first from a
// value derived from related rows, then from what the local row held.
package fallback

import (
	"context"
	"log/slog"
	"strings"

	"github.com/invoicehub/mirror/internal/entity"
)

// Source tells where a resolved value came from.
type Source string

const (
	FromRemote   Source = "remote"
	FromDerived  Source = "derived"
	FromPrevious Source = "previous"
	FromNone     Source = "none"
)

// Derivation computes a value from related identifiers. A nil value means
// nothing could be derived.
type Derivation func(ctx context.Context, relatedIDs []string) (any, error)

// Rule attaches a derivation to one column of one type.
type Rule struct {
	Type entity.Type
	// Column is the value being resolved.
	Column string
	// RelatedColumn holds the identifiers passed to Derive.
	RelatedColumn string
	Derive        Derivation
}

type Resolver struct {
	rules []Rule
}

func NewResolver(rules ...Rule) *Resolver {
	return &Resolver{rules: rules}
}

// Resolve picks the remote value when present, else a meaningful derived
// value, else the previous local value, else nil.
func Resolve(ctx context.Context, remote any, relatedIDs []string, previous any, derive Derivation) (any, Source) {
	if present(remote) {
		return remote, FromRemote
	}
	if derive != nil && len(relatedIDs) > 0 {
		v, err := derive(ctx, relatedIDs)
		if err != nil {
			slog.Debug("fallback derivation failed", "related", len(relatedIDs), "error", err)
		} else if meaningful(v) {
			return v, FromDerived
		}
	}
	if present(previous) {
		return previous, FromPrevious
	}
	return nil, FromNone
}

// Apply resolves every rule of e's type in place. previous is the row
// currently stored and may be nil.
func (r *Resolver) Apply(ctx context.Context, e, previous *entity.Entity) map[string]Source {
	var out map[string]Source
	for _, rule := range r.rules {
		if rule.Type != e.Type {
			continue
		}
		var prev any
		if previous != nil {
			prev = previous.Fields[rule.Column]
		}
		v, src := Resolve(ctx, e.Fields[rule.Column], e.Strings(rule.RelatedColumn), prev, rule.Derive)
		e.Fields[rule.Column] = v
		if out == nil {
			out = map[string]Source{}
		}
		out[rule.Column] = src
	}
	return out
}

// Has reports whether any rule applies to t.
func (r *Resolver) Has(t entity.Type) bool {
	for _, rule := range r.rules {
		if rule.Type == t {
			return true
		}
	}
	return false
}

func present(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(x) != ""
	}
	return true
}

func meaningful(v any) bool {
	switch x := v.(type) {
	case float64:
		return x != 0
	case int64:
		return x != 0
	case int:
		return x != 0
	}
	return present(v) && !entity.IsEmpty(v)
}
