package localhttp

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/openmined/bucketgallery/internal/bucketsync"
	"github.com/openmined/bucketgallery/internal/gallery"
	"github.com/openmined/bucketgallery/internal/objects"
	"github.com/openmined/bucketgallery/internal/urlcache"
	"github.com/openmined/bucketgallery/internal/version"
)

// Gallery is the coordinator surface the HTTP layer drives.
type Gallery interface {
	Snapshot() gallery.State
	Refresh(ctx context.Context, force bool) (*bucketsync.SyncDelta, error)
	Search(ctx context.Context, query string, useRegex bool) error
	Render()
	GetObjectURL(ctx context.Context, name string) (string, error)
	Delete(ctx context.Context, name string) error
	CacheStats() urlcache.Stats
	ClearCache()
	Oversized() []string
}

type HealthResponse struct {
	Status  string    `json:"status"`
	Version string    `json:"version"`
	Time    time.Time `json:"time"`
}

type GalleryResponse struct {
	Visible     []objects.RemoteObject `json:"visible"`
	Known       int                    `json:"known"`
	SearchQuery string                 `json:"searchQuery"`
	UseRegex    bool                   `json:"useRegex"`
	IsSyncing   bool                   `json:"isSyncing"`
	Version     uint64                 `json:"version"`
	LastSync    time.Time              `json:"lastSync"`
	Oversized   []string               `json:"oversized"`
}

type SyncResponse struct {
	Added    int  `json:"added"`
	Modified int  `json:"modified"`
	Removed  int  `json:"removed"`
	Changed  bool `json:"changed"`
}

type SearchRequest struct {
	Query string `json:"query"`
	Regex bool   `json:"regex"`
}

type ObjectURLResponse struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type CacheStatsResponse struct {
	Count     int   `json:"count"`
	TotalSize int64 `json:"totalSizeBytes"`
}

type ObjectQuery struct {
	Name string `form:"name" binding:"required"`
}

func HealthHandler(ctx *gin.Context) {
	ctx.PureJSON(http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: version.Short(),
		Time:    time.Now(),
	})
}

type GalleryHandler struct {
	gallery Gallery
}

func NewGalleryHandler(g Gallery) *GalleryHandler {
	return &GalleryHandler{gallery: g}
}

func (h *GalleryHandler) Get(ctx *gin.Context) {
	s := h.gallery.Snapshot()
	visible := s.Visible
	if visible == nil {
		visible = []objects.RemoteObject{}
	}
	oversized := h.gallery.Oversized()
	if oversized == nil {
		oversized = []string{}
	}

	ctx.PureJSON(http.StatusOK, GalleryResponse{
		Visible:     visible,
		Known:       len(s.Known),
		SearchQuery: s.SearchQuery,
		UseRegex:    s.UseRegex,
		IsSyncing:   s.IsSyncing,
		Version:     s.Version,
		LastSync:    s.LastSync,
		Oversized:   oversized,
	})
}

func (h *GalleryHandler) Sync(ctx *gin.Context) {
	force := ctx.Query("force") == "true"

	delta, err := h.gallery.Refresh(ctx.Request.Context(), force)
	if err != nil {
		abortWithGalleryError(ctx, err, ErrCodeSyncFailed)
		return
	}

	ctx.PureJSON(http.StatusOK, SyncResponse{
		Added:    len(delta.Added),
		Modified: len(delta.Modified),
		Removed:  len(delta.RemovedKeys),
		Changed:  delta.HasChanges,
	})
}

func (h *GalleryHandler) Search(ctx *gin.Context) {
	var req SearchRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		AbortWithError(ctx, http.StatusBadRequest, ErrCodeBadRequest, err)
		return
	}

	if err := h.gallery.Search(ctx.Request.Context(), req.Query, req.Regex); err != nil {
		abortWithGalleryError(ctx, err, ErrCodeUnknownError)
		return
	}

	h.Get(ctx)
}

func (h *GalleryHandler) Render(ctx *gin.Context) {
	h.gallery.Render()
	ctx.PureJSON(http.StatusAccepted, Response{Code: CodeOk})
}

type ObjectsHandler struct {
	gallery Gallery
}

func NewObjectsHandler(g Gallery) *ObjectsHandler {
	return &ObjectsHandler{gallery: g}
}

func (h *ObjectsHandler) URL(ctx *gin.Context) {
	var q ObjectQuery
	if err := ctx.ShouldBindQuery(&q); err != nil {
		AbortWithError(ctx, http.StatusBadRequest, ErrCodeBadRequest, err)
		return
	}

	u, err := h.gallery.GetObjectURL(ctx.Request.Context(), q.Name)
	if err != nil {
		abortWithGalleryError(ctx, fmt.Errorf("object url: %w", err), ErrCodeUnknownError)
		return
	}

	ctx.PureJSON(http.StatusOK, ObjectURLResponse{Name: q.Name, URL: u})
}

func (h *ObjectsHandler) Delete(ctx *gin.Context) {
	var q ObjectQuery
	if err := ctx.ShouldBindQuery(&q); err != nil {
		AbortWithError(ctx, http.StatusBadRequest, ErrCodeBadRequest, err)
		return
	}

	if err := h.gallery.Delete(ctx.Request.Context(), q.Name); err != nil {
		abortWithGalleryError(ctx, err, ErrCodeDeleteFailed)
		return
	}

	ctx.PureJSON(http.StatusOK, Response{Code: CodeOk})
}

type CacheHandler struct {
	gallery Gallery
}

func NewCacheHandler(g Gallery) *CacheHandler {
	return &CacheHandler{gallery: g}
}

func (h *CacheHandler) Stats(ctx *gin.Context) {
	s := h.gallery.CacheStats()
	ctx.PureJSON(http.StatusOK, CacheStatsResponse{Count: s.Count, TotalSize: s.TotalSize})
}

func (h *CacheHandler) Clear(ctx *gin.Context) {
	h.gallery.ClearCache()
	ctx.PureJSON(http.StatusOK, Response{Code: CodeOk})
}
