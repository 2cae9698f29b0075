package search

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
)

// regexMeta are the characters that make a query a real regular expression
// rather than a simplified wildcard. A leading or trailing '*' is allowed in
// wildcards and handled separately. '.' is taken literally in wildcards so
// "*.png" works as a suffix match.
const regexMeta = `^$+?()[]{}|\`

// PatternError is returned when a regex mode query does not compile.
type PatternError struct {
	Query string
	Err   error
}

func (e *PatternError) Error() string {
	return fmt.Sprintf("invalid search pattern %q: %v", e.Query, e.Err)
}

func (e *PatternError) Unwrap() error {
	return e.Err
}

// matcher tests a resolved URL against a query.
type matcher interface {
	match(rawURL string) bool
}

type substringMatcher struct {
	needle string
}

func (m substringMatcher) match(rawURL string) bool {
	return strings.Contains(strings.ToLower(rawURL), m.needle)
}

// wildcardMatcher matches against the full URL or the file name at the end of
// its path. The file name makes prefix and suffix wildcards useful against
// absolute URLs.
type wildcardMatcher struct {
	re *regexp.Regexp
}

func (m wildcardMatcher) match(rawURL string) bool {
	return m.re.MatchString(rawURL) || m.re.MatchString(urlBaseName(rawURL))
}

type regexMatcher struct {
	re *regexp.Regexp
}

func (m regexMatcher) match(rawURL string) bool {
	return m.re.MatchString(rawURL)
}

func newMatcher(query string, useRegex bool) (matcher, error) {
	if !useRegex {
		return substringMatcher{needle: strings.ToLower(query)}, nil
	}

	if expr, ok := wildcardToRegex(query); ok {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, &PatternError{Query: query, Err: err}
		}
		return wildcardMatcher{re: re}, nil
	}

	re, err := regexp.Compile("(?i)" + query)
	if err != nil {
		return nil, &PatternError{Query: query, Err: err}
	}
	return regexMatcher{re: re}, nil
}

// isWildcard reports whether query has no regex metacharacters and uses '*'
// only as its first and/or last character.
func isWildcard(query string) bool {
	if strings.ContainsAny(query, regexMeta) {
		return false
	}
	core := trimStars(query)
	return core != "" && !strings.Contains(core, "*")
}

// wildcardToRegex rewrites a simplified wildcard: "*x*" contains x, "*x" ends
// with x, "x*" starts with x. Matching is case-insensitive.
func wildcardToRegex(query string) (string, bool) {
	if !isWildcard(query) {
		return "", false
	}

	leading := strings.HasPrefix(query, "*")
	trailing := strings.HasSuffix(query, "*")
	core := regexp.QuoteMeta(trimStars(query))

	switch {
	case leading && trailing:
		return "(?i)" + core, true
	case leading:
		return "(?i)" + core + "$", true
	case trailing:
		return "(?i)^" + core, true
	default:
		return "(?i)" + core, true
	}
}

func trimStars(s string) string {
	s = strings.TrimPrefix(s, "*")
	return strings.TrimSuffix(s, "*")
}

// urlBaseName returns the last path segment of rawURL without query or
// fragment, unescaped when possible.
func urlBaseName(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	} else if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return ""
	}
	return path.Base(p)
}
