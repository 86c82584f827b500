//go:build sonic

package engine

import (
	"github.com/bytedance/sonic"
)

var jsonMarshal = sonic.Marshal
