//go:build !sonic

package urlcache

import "github.com/goccy/go-json"

var (
	jsonMarshal   = json.Marshal
	jsonUnmarshal = json.Unmarshal
)
