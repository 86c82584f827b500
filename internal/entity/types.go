// Package entity holds the strongly-typed form of mirrored records. Values
// arriving from the remote API are converted into an Entity by the mapper and
// nothing past that boundary sees the raw record shape.
package entity

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Type names one mirrored entity collection.
type Type string

const (
	Invoice          Type = "invoice"
	Customer         Type = "customer"
	Agent            Type = "agent"
	User             Type = "user"
	Payment          Type = "payment"
	SubmittedPayment Type = "submitted_payment"
	Registration     Type = "registration"
	LineItem         Type = "line_item"
	Template         Type = "template"
)

// SyncOrder is the dependency order of a full sync: entities that are
// referenced come before the entities referencing them.
var SyncOrder = []Type{
	Agent,
	User,
	Customer,
	Invoice,
	Registration,
	Template,
	Payment,
	SubmittedPayment,
}

// All lists every known type, including line items which are only synced
// as part of an invoice package.
var All = append(slices.Clone(SyncOrder), LineItem)

func (t Type) String() string { return string(t) }

// Table is the local table holding rows of this type.
func (t Type) Table() string {
	switch t {
	case Invoice:
		return "invoices"
	case Customer:
		return "customers"
	case Agent:
		return "agents"
	case User:
		return "users"
	case Payment:
		return "payments"
	case SubmittedPayment:
		return "submitted_payments"
	case Registration:
		return "registrations"
	case LineItem:
		return "line_items"
	case Template:
		return "templates"
	}
	return ""
}

func (t Type) Valid() bool {
	return slices.Contains(All, t)
}

// ParseType accepts the canonical name, the table name or a loose spelling
// such as "SubmittedPayment".
func ParseType(s string) (Type, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.ReplaceAll(norm, "-", "_")
	for _, t := range All {
		if norm == string(t) || norm == t.Table() || norm == strings.ReplaceAll(string(t), "_", "") {
			return t, nil
		}
	}
	return "", fmt.Errorf("entity: unknown type %q", s)
}

// FieldType is the coercion applied to a remote value.
type FieldType string

const (
	String    FieldType = "string"
	Integer   FieldType = "integer"
	Numeric   FieldType = "numeric"
	Boolean   FieldType = "boolean"
	Timestamp FieldType = "timestamp"
	Array     FieldType = "array"
)

// System columns present on every mirrored table.
const (
	ColID               = "id"
	ColRemoteID         = "remote_id"
	ColRemoteModifiedAt = "remote_modified_at"
	ColLastSyncedAt     = "last_synced_at"
	ColCreatedAt        = "created_at"
	ColExtraJSON        = "extra_json"
)

// SystemColumns can never be written from record data or added by reflection.
var SystemColumns = []string{
	ColID,
	ColRemoteID,
	ColRemoteModifiedAt,
	ColLastSyncedAt,
	ColCreatedAt,
	ColExtraJSON,
}

func IsSystemColumn(col string) bool {
	return slices.Contains(SystemColumns, col)
}

// TimeLayout is how timestamps are stored in the local database.
const TimeLayout = time.RFC3339Nano
