package engine

import (
	"errors"
	"fmt"

	"github.com/invoicehub/mirror/internal/entity"
)

var (
	ErrNotReconcilable  = errors.New("engine: entity type is not reconcilable")
	ErrPartialRemoteSet = errors.New("engine: remote id set is partial, refusing to delete")
	ErrEmptyBatch       = errors.New("engine: empty batch")
)

// ErrorKind tags where in the pipeline a failure happened.
type ErrorKind string

const (
	KindFetch      ErrorKind = "fetch"
	KindNotFound   ErrorKind = "not_found"
	KindMapping    ErrorKind = "mapping"
	KindSchema     ErrorKind = "schema"
	KindValidation ErrorKind = "validation"
	KindWrite      ErrorKind = "write"
)

// SyncError is one failure isolated to a type or a record.
type SyncError struct {
	Kind     ErrorKind   `json:"kind"`
	Type     entity.Type `json:"type"`
	RemoteID string      `json:"remote_id,omitempty"`
	Err      error       `json:"-"`
}

func newError(kind ErrorKind, t entity.Type, remoteID string, err error) *SyncError {
	return &SyncError{Kind: kind, Type: t, RemoteID: remoteID, Err: err}
}

func (e *SyncError) Error() string {
	if e.RemoteID == "" {
		return fmt.Sprintf("%s %s: %v", e.Kind, e.Type, e.Err)
	}
	return fmt.Sprintf("%s %s %s: %v", e.Kind, e.Type, e.RemoteID, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// Message is the wrapped error text, for JSON output.
func (e *SyncError) Message() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e *SyncError) MarshalJSON() ([]byte, error) {
	return jsonMarshal(struct {
		Kind     ErrorKind   `json:"kind"`
		Type     entity.Type `json:"type"`
		RemoteID string      `json:"remote_id,omitempty"`
		Message  string      `json:"message"`
	}{e.Kind, e.Type, e.RemoteID, e.Message()})
}
