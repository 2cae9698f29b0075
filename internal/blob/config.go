package blob

import (
	"errors"
	"net/url"
	"time"
)

const (
	// SigV4 presigned URLs are capped at seven days.
	MaxPresignExpiry     = 7 * 24 * time.Hour
	DefaultPresignExpiry = MaxPresignExpiry
	defaultRegion        = "us-east-1"
)

// Config describes the bucket the gallery mirrors.
type Config struct {
	Bucket    string
	Region    string
	Endpoint  string // optional, for S3 compatible stores
	AccessKey string
	SecretKey string
	PathStyle bool

	// Prefix limits listing to keys under it.
	Prefix string

	// PublicURL, when set, is used as the base of access URLs instead of
	// presigning, e.g. a CDN or custom domain in front of the bucket.
	PublicURL     string
	PresignExpiry time.Duration
}

func (c *Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("bucket is required")
	}
	if c.Region == "" {
		c.Region = defaultRegion
	}
	if c.Endpoint != "" {
		if _, err := url.ParseRequestURI(c.Endpoint); err != nil {
			return errors.New("invalid endpoint url")
		}
	}
	if c.PublicURL != "" {
		u, err := url.ParseRequestURI(c.PublicURL)
		if err != nil || u.Host == "" {
			return errors.New("invalid public url")
		}
	}
	if c.PresignExpiry <= 0 {
		c.PresignExpiry = DefaultPresignExpiry
	} else if c.PresignExpiry > MaxPresignExpiry {
		return errors.New("presign expiry exceeds 7 days")
	}
	return nil
}
