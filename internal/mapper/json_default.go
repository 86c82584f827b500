//go:build !sonic

package mapper

import (
	"github.com/goccy/go-json"
)

var jsonMarshal = json.Marshal
