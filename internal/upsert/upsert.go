// Package upsert holds the merge disciplines used to write a mapped entity
// over whatever the local store already holds.
package upsert

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/invoicehub/mirror/internal/entity"
	"github.com/invoicehub/mirror/internal/store"
)

type Kind string

const (
	Inserted Kind = "inserted"
	Updated  Kind = "updated"
	Skipped  Kind = "skipped"
	Merged   Kind = "merged"
)

// Skip reasons.
const (
	ReasonLocalNewer    = "local_newer"
	ReasonSameTimestamp = "same_timestamp"
)

// Outcome is what a strategy did with one entity.
type Outcome struct {
	Kind   Kind     `json:"kind"`
	Reason string   `json:"reason,omitempty"`
	Filled []string `json:"filled,omitempty"`
	// Dropped lists columns the table lacks; their values went to extra_json.
	Dropped []string `json:"dropped,omitempty"`
}

// Wrote reports whether the outcome changed the store.
func (o Outcome) Wrote() bool {
	switch o.Kind {
	case Inserted, Updated:
		return true
	case Merged:
		return len(o.Filled) > 0
	}
	return false
}

func (o Outcome) String() string {
	switch o.Kind {
	case Skipped:
		return fmt.Sprintf("skipped(%s)", o.Reason)
	case Merged:
		return fmt.Sprintf("merged(%d)", len(o.Filled))
	}
	return string(o.Kind)
}

// Writer is the store capability the strategies need.
type Writer interface {
	Get(ctx context.Context, t entity.Type, remoteID string) (*entity.Entity, error)
	Upsert(ctx context.Context, e *entity.Entity) (*store.WriteResult, error)
	UpdateFields(ctx context.Context, t entity.Type, remoteID string, values entity.Values) ([]string, error)
	LastKnown(ctx context.Context, t entity.Type, remoteIDs []string) (map[string]time.Time, error)
}

type Strategy interface {
	Name() string
	Apply(ctx context.Context, e *entity.Entity) (Outcome, error)
}

// ForType returns the strategy for t. Registrations always merge. Other
// types are overwritten, or written newer-wins when checkStaleness is set.
func ForType(t entity.Type, checkStaleness bool, w Writer) Strategy {
	switch {
	case t == entity.Registration:
		return NewMergeFillEmpty(w)
	case checkStaleness:
		return NewNewerWins(w)
	default:
		return NewOverwrite(w)
	}
}

// Decide reports whether a remote record modified at remote should replace
// a local row last known at local. A missing row is always written.
func Decide(remote, local time.Time, exists bool) (bool, string) {
	switch {
	case !exists:
		return true, ""
	case remote.After(local):
		return true, ""
	case remote.Equal(local):
		return false, ReasonSameTimestamp
	default:
		return false, ReasonLocalNewer
	}
}

// Overwrite replaces the whole row.
type Overwrite struct {
	w Writer
}

func NewOverwrite(w Writer) *Overwrite { return &Overwrite{w: w} }

func (s *Overwrite) Name() string { return "overwrite" }

func (s *Overwrite) Apply(ctx context.Context, e *entity.Entity) (Outcome, error) {
	res, err := s.w.Upsert(ctx, e)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{Kind: Updated, Dropped: res.Dropped}
	if res.Inserted {
		out.Kind = Inserted
	}
	return out, nil
}

// NewerWins overwrites only when the remote record is strictly newer than
// the local row.
type NewerWins struct {
	w         Writer
	overwrite *Overwrite
}

func NewNewerWins(w Writer) *NewerWins {
	return &NewerWins{w: w, overwrite: NewOverwrite(w)}
}

func (s *NewerWins) Name() string { return "newer_wins" }

func (s *NewerWins) Apply(ctx context.Context, e *entity.Entity) (Outcome, error) {
	known, err := s.w.LastKnown(ctx, e.Type, []string{e.RemoteID})
	if err != nil {
		return Outcome{}, err
	}
	local, exists := known[e.RemoteID]
	if write, reason := Decide(e.ModifiedAt, local, exists); !write {
		return Outcome{Kind: Skipped, Reason: reason}, nil
	}
	return s.overwrite.Apply(ctx, e)
}

// MergeFillEmpty inserts missing rows wholesale and otherwise only fills
// columns that are empty locally and set remotely. It reads then writes
// without a transaction; a concurrent writer between the two can be
// overwritten for the filled columns only.
type MergeFillEmpty struct {
	w Writer
}

func NewMergeFillEmpty(w Writer) *MergeFillEmpty { return &MergeFillEmpty{w: w} }

func (s *MergeFillEmpty) Name() string { return "merge_fill_empty" }

func (s *MergeFillEmpty) Apply(ctx context.Context, e *entity.Entity) (Outcome, error) {
	local, err := s.w.Get(ctx, e.Type, e.RemoteID)
	if errors.Is(err, store.ErrNotFound) {
		res, err := s.w.Upsert(ctx, e)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Kind: Inserted, Dropped: res.Dropped}, nil
	}
	if err != nil {
		return Outcome{}, err
	}

	fill := entity.Values{}
	for col, v := range e.Columns() {
		if entity.IsEmpty(v) {
			continue
		}
		if cur, ok := local.Fields[col]; ok && !entity.IsEmpty(cur) {
			continue
		}
		fill[col] = v
	}
	if len(fill) == 0 {
		return Outcome{Kind: Merged}, nil
	}

	skipped, err := s.w.UpdateFields(ctx, e.Type, e.RemoteID, fill)
	if err != nil {
		return Outcome{}, err
	}
	for _, col := range skipped {
		delete(fill, col)
	}
	return Outcome{Kind: Merged, Filled: slices.Sorted(maps.Keys(fill)), Dropped: skipped}, nil
}
