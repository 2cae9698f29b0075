//go:build sonic

package urlcache

import "github.com/bytedance/sonic"

var (
	jsonMarshal   = sonic.Marshal
	jsonUnmarshal = sonic.Unmarshal
)
