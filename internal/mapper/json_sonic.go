//go:build sonic

package mapper

import (
	"github.com/bytedance/sonic"
)

var jsonMarshal = sonic.Marshal
