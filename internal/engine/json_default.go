//go:build !sonic

package engine

import (
	"github.com/goccy/go-json"
)

var jsonMarshal = json.Marshal
