//go:build cgo && sqlite3_cgo

package db

import (
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	driverID   = "mattn/go-sqlite3"
	driverName = "sqlite3"
)

func busyTimeoutParam(d time.Duration) string {
	return fmt.Sprintf("_busy_timeout=%d", d.Milliseconds())
}
