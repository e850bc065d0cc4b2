//go:build sonic

package metadata

import "github.com/bytedance/sonic"

var (
	jsonMarshal   = sonic.ConfigStd.Marshal
	jsonUnmarshal = sonic.ConfigStd.Unmarshal
)
