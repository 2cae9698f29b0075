package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/imroc/req/v3"
	"github.com/openmined/bucketgallery/internal/localhttp"
	"github.com/openmined/bucketgallery/internal/version"
)

// APIError is an error body returned by a running `gallery serve`.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: %s - %s", e.Code, e.Message)
}

// apiClient talks to the local http api of a running `gallery serve`.
type apiClient struct {
	client *req.Client
}

func newAPIClient(addr string) *apiClient {
	base := addr
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	return &apiClient{
		client: req.C().
			SetBaseURL(base).
			SetTimeout(30*time.Second).
			SetUserAgent(version.AppName+"-cli/"+version.Version).
			SetCommonErrorResult(&APIError{}),
	}
}

func (a *apiClient) Gallery(ctx context.Context) (res *localhttp.GalleryResponse, err error) {
	resp, err := a.client.R().
		SetContext(ctx).
		SetSuccessResult(&res).
		Get("/v1/gallery")

	if err := handleAPIError(resp, err, "get gallery"); err != nil {
		return nil, err
	}
	return res, nil
}

func (a *apiClient) Sync(ctx context.Context, force bool) (res *localhttp.SyncResponse, err error) {
	r := a.client.R().
		SetContext(ctx).
		SetSuccessResult(&res)
	if force {
		r.SetQueryParam("force", "true")
	}
	resp, err := r.Post("/v1/gallery/sync")

	if err := handleAPIError(resp, err, "sync"); err != nil {
		return nil, err
	}
	return res, nil
}

func (a *apiClient) CacheStats(ctx context.Context) (res *localhttp.CacheStatsResponse, err error) {
	resp, err := a.client.R().
		SetContext(ctx).
		SetSuccessResult(&res).
		Get("/v1/cache/stats")

	if err := handleAPIError(resp, err, "cache stats"); err != nil {
		return nil, err
	}
	return res, nil
}

func handleAPIError(resp *req.Response, requestErr error, operation string) error {
	if requestErr != nil {
		return fmt.Errorf("%s: %w", operation, requestErr)
	}

	if resp.IsErrorState() {
		if apiErr, ok := resp.ErrorResult().(*APIError); ok && apiErr.Code != "" {
			return fmt.Errorf("%s: %w", operation, apiErr)
		}
		return fmt.Errorf("%s: unexpected status %d", operation, resp.GetStatusCode())
	}
	return nil
}
