package engine

import (
	"sync"
	"time"

	"github.com/invoicehub/mirror/internal/entity"
	"github.com/invoicehub/mirror/internal/schema"
	"github.com/invoicehub/mirror/internal/upsert"
)

// State is the phase an orchestrated run is in.
type State string

const (
	StateFetching         State = "fetching"
	StateDeciding         State = "deciding"
	StateSyncingRelations State = "syncing_relations"
	StateSyncingRoot      State = "syncing_root"
	StateSyncingSecondary State = "syncing_secondary"
	StateCompleted        State = "completed"
	StateError            State = "error"
)

// Counts tallies strategy outcomes.
type Counts struct {
	Fetched  int `json:"fetched"`
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
	Merged   int `json:"merged"`
	Failed   int `json:"failed"`
}

func (c *Counts) add(o upsert.Outcome) {
	switch o.Kind {
	case upsert.Inserted:
		c.Inserted++
	case upsert.Updated:
		c.Updated++
	case upsert.Merged:
		if o.Wrote() {
			c.Merged++
		} else {
			c.Skipped++
		}
	default:
		c.Skipped++
	}
}

// Written is the number of rows the run changed.
func (c Counts) Written() int {
	return c.Inserted + c.Updated + c.Merged
}

// errorList is a concurrency safe accumulator.
type errorList struct {
	mu   sync.Mutex
	errs []*SyncError
}

func (l *errorList) add(err *SyncError) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs = append(l.errs, err)
}

func (l *errorList) list() []*SyncError {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*SyncError(nil), l.errs...)
}

// TypeResult is the outcome of syncing one entity type.
type TypeResult struct {
	Type     entity.Type         `json:"type"`
	Strategy string              `json:"strategy"`
	Counts   Counts              `json:"counts"`
	Partial  bool                `json:"partial"`
	Schema   *schema.PatchResult `json:"schema,omitempty"`
	Errors   []*SyncError        `json:"errors"`
	Duration time.Duration       `json:"duration"`
}

// SyncResult is the outcome of a full sync. Success is false only when the
// run could not finish; per record failures are listed in Errors.
type SyncResult struct {
	SessionID string        `json:"session_id"`
	Success   bool          `json:"success"`
	State     State         `json:"state"`
	Types     []*TypeResult `json:"types"`
	Errors    []*SyncError  `json:"errors"`
	Duration  time.Duration `json:"duration"`
}

// InvoiceSyncResult is the outcome of a relation-aware invoice sync.
type InvoiceSyncResult struct {
	SessionID  string              `json:"session_id"`
	Success    bool                `json:"success"`
	State      State               `json:"state"`
	From       time.Time           `json:"from"`
	To         time.Time           `json:"to"`
	Partial    bool                `json:"partial"`
	Considered int                 `json:"considered"`
	NeedsSync  int                 `json:"needs_sync"`
	Roots      Counts              `json:"roots"`
	Relations  Counts              `json:"relations"`
	Templates  Counts              `json:"templates"`
	Schema     *schema.PatchResult `json:"schema,omitempty"`
	Errors     []*SyncError        `json:"errors"`
	Duration   time.Duration       `json:"duration"`
}

// Candidate is one record the caller believes changed remotely.
type Candidate struct {
	Type             entity.Type `json:"type"`
	ID               string      `json:"id"`
	RemoteModifiedAt time.Time   `json:"remote_modified_at"`
}

// IDSyncResult is the outcome of a differential id-set sync.
type IDSyncResult struct {
	SessionID string       `json:"session_id"`
	Success   bool         `json:"success"`
	Synced    int          `json:"synced"`
	Skipped   int          `json:"skipped"`
	Errors    []*SyncError `json:"errors"`
}

// BatchResult is the outcome of a validated batch upload.
type BatchResult struct {
	Success         bool                `json:"success"`
	Processed       int                 `json:"processed"`
	Synced          int                 `json:"synced"`
	Skipped         int                 `json:"skipped"`
	Errors          []*SyncError        `json:"errors"`
	ValidationError *SyncError          `json:"validation_error,omitempty"`
	Schema          *schema.PatchResult `json:"schema,omitempty"`
}

// ReconcileResult lists the rows a deletion reconciliation removed.
type ReconcileResult struct {
	Type    entity.Type `json:"type"`
	Remote  int         `json:"remote"`
	Local   int         `json:"local"`
	Deleted []string    `json:"deleted"`
	DryRun  bool        `json:"dry_run"`
}
