package lazyload

import (
	"context"
	"fmt"
	"io"
	"mime"
	"runtime"
	"strings"

	"github.com/imroc/req/v3"
	"github.com/openmined/bucketgallery/internal/version"
)

var userAgent = fmt.Sprintf("%s/%s (%s; %s; %s)", version.AppName, version.Version, version.Revision, runtime.GOOS, runtime.GOARCH)

// HTTPLoader fetches images over HTTP. It does not retry on its own, retries
// are owned by the Scheduler.
type HTTPLoader struct {
	client *req.Client
}

func NewHTTPLoader() *HTTPLoader {
	return &HTTPLoader{
		client: req.C().
			SetUserAgent(userAgent).
			SetRedirectPolicy(req.MaxRedirectPolicy(5)),
	}
}

func (l *HTTPLoader) Load(ctx context.Context, url string) (*LoadResult, error) {
	resp, err := l.client.R().
		SetContext(ctx).
		DisableAutoReadResponse().
		Get(url)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.IsErrorState() {
		return nil, &StatusError{URL: url, StatusCode: resp.GetStatusCode()}
	}

	contentType := resp.GetContentType()
	if !isImageContentType(contentType) {
		return nil, fmt.Errorf("load %s: %w: %q", url, ErrNotImage, contentType)
	}

	n, err := io.Copy(io.Discard, resp.Body)
	if err != nil {
		return nil, fmt.Errorf("load %s: read body: %w", url, err)
	}

	return &LoadResult{ContentType: contentType, Size: n}, nil
}

// isImageContentType accepts image/* plus the generic types some buckets
// serve objects with when no metadata was set on upload.
func isImageContentType(contentType string) bool {
	if contentType == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mediaType, "image/") ||
		mediaType == "application/octet-stream" ||
		mediaType == "binary/octet-stream"
}

var _ Loader = (*HTTPLoader)(nil)
