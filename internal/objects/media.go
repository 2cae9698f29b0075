package objects

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultImagePatterns select the keys shown in the gallery.
var DefaultImagePatterns = []string{
	"**/*.{png,jpg,jpeg,gif,webp,svg,bmp,avif,ico}",
}

// MediaMatcher decides whether an object key belongs to the gallery media type.
// Matching is case-insensitive on the key.
type MediaMatcher struct {
	patterns []string
}

func NewMediaMatcher(patterns ...string) (*MediaMatcher, error) {
	if len(patterns) == 0 {
		patterns = DefaultImagePatterns
	}

	normalized := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid media pattern %q", p)
		}
		normalized = append(normalized, p)
	}

	if len(normalized) == 0 {
		return nil, fmt.Errorf("no media patterns")
	}

	return &MediaMatcher{patterns: normalized}, nil
}

// DefaultMediaMatcher matches the common image extensions.
func DefaultMediaMatcher() *MediaMatcher {
	m, _ := NewMediaMatcher(DefaultImagePatterns...)
	return m
}

func (m *MediaMatcher) Match(key string) bool {
	key = strings.ToLower(strings.TrimPrefix(key, "/"))
	for _, p := range m.patterns {
		// "**/" also matches zero directories, so root level keys are covered
		if ok, _ := doublestar.Match(p, key); ok {
			return true
		}
	}
	return false
}

// Filter returns the objects whose key matches, preserving order.
func (m *MediaMatcher) Filter(objs []RemoteObject) []RemoteObject {
	out := make([]RemoteObject, 0, len(objs))
	for _, o := range objs {
		if m.Match(o.Name) {
			out = append(out, o)
		}
	}
	return out
}
