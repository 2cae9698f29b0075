package blob

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/openmined/bucketgallery/internal/objects"
)

// S3Client talks to an S3 (or S3 compatible) bucket.
type S3Client struct {
	s3Client    *s3.Client
	s3Presigner *s3.PresignClient
	config      *Config
}

func NewS3Client(s3Client *s3.Client, cfg *Config) *S3Client {
	return &S3Client{
		s3Client:    s3Client,
		s3Presigner: s3.NewPresignClient(s3Client),
		config:      cfg,
	}
}

// NewS3ClientWithConfig builds the AWS client from static credentials.
func NewS3ClientWithConfig(ctx context.Context, cfg *Config) (*S3Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          32,
			MaxIdleConnsPerHost:   16,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ForceAttemptHTTP2:     true,
		},
		Timeout: 60 * time.Second,
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
		config.WithHTTPClient(httpClient),
	}
	if cfg.AccessKey != "" || cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	slog.Debug("s3 client", "bucket", cfg.Bucket, "region", cfg.Region, "endpoint", cfg.Endpoint, "pathStyle", cfg.PathStyle)
	return NewS3Client(client, cfg), nil
}

// ListObjects returns every object under the configured prefix. All pages are
// fetched before returning; a failure on any page fails the whole call.
func (s *S3Client) ListObjects(ctx context.Context) ([]objects.RemoteObject, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: &s.config.Bucket,
	}
	if s.config.Prefix != "" {
		input.Prefix = aws.String(s.config.Prefix)
	}

	var objs []objects.RemoteObject
	paginator := s3.NewListObjectsV2Paginator(s.s3Client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}

		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			// "folder" placeholders created by some consoles
			if key == "" || strings.HasSuffix(key, "/") {
				continue
			}
			objs = append(objs, objects.RemoteObject{
				Name:         key,
				LastModified: aws.ToTime(obj.LastModified),
				Size:         aws.ToInt64(obj.Size),
				ETag:         strings.ReplaceAll(aws.ToString(obj.ETag), "\"", ""),
			})
		}
	}

	return objs, nil
}

func (s *S3Client) DeleteObject(ctx context.Context, key string) error {
	_, err := s.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &s.config.Bucket,
		Key:    &key,
	})
	return err
}

// ObjectURL derives the access URL for key: the public base URL when one is
// configured, a presigned GET URL otherwise.
func (s *S3Client) ObjectURL(ctx context.Context, key string) (string, error) {
	if s.config.PublicURL != "" {
		return PublicObjectURL(s.config.PublicURL, key)
	}

	req, err := s.s3Presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.config.Bucket,
		Key:    &key,
	}, func(opts *s3.PresignOptions) {
		opts.Expires = s.config.PresignExpiry
	})
	if err != nil {
		return "", err
	}
	return req.URL, nil
}

var _ Client = (*S3Client)(nil)
