package blob

import (
	"context"
	"net/url"
	"strings"

	"github.com/openmined/bucketgallery/internal/objects"
)

// Client is the subset of bucket operations the gallery needs.
type Client interface {
	ListObjects(ctx context.Context) ([]objects.RemoteObject, error)
	DeleteObject(ctx context.Context, key string) error
	ObjectURL(ctx context.Context, key string) (string, error)
}

// PublicObjectURL joins base and key, escaping each key segment.
func PublicObjectURL(base, key string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", err
	}

	segments := strings.Split(strings.TrimLeft(key, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	escaped := strings.Join(segments, "/")

	u.RawPath = u.EscapedPath() + "/" + escaped
	u.Path, err = url.PathUnescape(u.RawPath)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}
