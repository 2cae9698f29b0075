package lazyload

import (
	"context"
	"errors"
	"fmt"
)

// Handle identifies one rendered item. The gallery uses the object key.
type Handle string

// State of a rendered item.
type State int

const (
	StatePlaceholder State = iota
	StateVisiblePending
	StateLoading
	StateLoaded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePlaceholder:
		return "placeholder"
	case StateVisiblePending:
		return "visible_pending"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

var (
	ErrLoadTimeout = errors.New("load timed out")
	ErrNotImage    = errors.New("resource is not an image")
)

// StatusError is returned by a loader when the server answers with a non 2xx status.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("load %s: unexpected status %d", e.URL, e.StatusCode)
}

// VisibilitySource reports when observed handles come near the viewport.
type VisibilitySource interface {
	Observe(h Handle)
	Unobserve(h Handle)
	Visible() <-chan Handle
}

// RenderTarget is the surface the scheduler draws on.
type RenderTarget interface {
	Reset()
	SetPlaceholder(h Handle, src string)
	SetResolved(h Handle, url string)
	SetFailed(h Handle, src string)
}

// LoadResult describes a successfully fetched resource.
type LoadResult struct {
	ContentType string
	Size        int64
}

// Loader fetches the real resource behind a URL.
type Loader interface {
	Load(ctx context.Context, url string) (*LoadResult, error)
}
