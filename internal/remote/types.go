package remote

import (
	"strings"
	"time"

	"github.com/invoicehub/mirror/internal/utils"
)

// System fields maintained by the record API itself.
const (
	FieldID           = "_id"
	FieldCreatedDate  = "Created Date"
	FieldModifiedDate = "Modified Date"
)

// Record is one untyped record as returned by the API. It never leaves the
// mapper boundary.
type Record map[string]any

// ID returns the remote identifier or "" when missing.
func (r Record) ID() string {
	s, _ := r[FieldID].(string)
	return strings.TrimSpace(s)
}

// ModifiedAt parses the remote last-modified timestamp with the same rules
// the mapper applies to timestamp fields.
func (r Record) ModifiedAt() (time.Time, bool) {
	return utils.ParseTime(r[FieldModifiedDate])
}

// Constraint narrows a collection fetch on a non-system field.
type Constraint struct {
	Key   string `json:"key"`
	Type  string `json:"constraint_type"`
	Value any    `json:"value,omitempty"`
}

func Equals(key string, value any) Constraint {
	return Constraint{Key: key, Type: "equals", Value: value}
}

// Page is one slice of a collection.
type Page struct {
	Cursor    int      `json:"cursor"`
	Results   []Record `json:"results"`
	Remaining int      `json:"remaining"`
	Count     int      `json:"count"`
}

type pageEnvelope struct {
	Response Page `json:"response"`
}

type recordEnvelope struct {
	Response Record `json:"response"`
}

// Collection is everything a paginated fetch accumulated. Partial is set
// when pagination halted early; Err carries the reason.
type Collection struct {
	Records []Record
	Partial bool
	Err     error
}

// IDSet is the identifier projection of a collection.
type IDSet struct {
	IDs     []string
	Partial bool
	Err     error
}
