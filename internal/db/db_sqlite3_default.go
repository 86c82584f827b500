//go:build !sqlite3_cgo

package db

import (
	"fmt"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

const (
	driverID   = "ncruces/go-sqlite3"
	driverName = "sqlite3"
)

// busyTimeoutParam is the DSN parameter that sets busy_timeout on every
// pooled connection.
func busyTimeoutParam(d time.Duration) string {
	return fmt.Sprintf("_pragma=busy_timeout(%d)", d.Milliseconds())
}
