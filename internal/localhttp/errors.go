package localhttp

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/openmined/bucketgallery/internal/gallery"
	"github.com/openmined/bucketgallery/internal/search"
)

const (
	CodeOk                string = "OK"
	ErrCodeBadRequest     string = "ERR_BAD_REQUEST"
	ErrCodeBadPattern     string = "ERR_BAD_PATTERN"
	ErrCodeNotFound       string = "ERR_NOT_FOUND"
	ErrCodeSyncInProgress string = "ERR_SYNC_IN_PROGRESS"
	ErrCodeThrottled      string = "ERR_THROTTLED"
	ErrCodeDeleteFailed   string = "ERR_DELETE_FAILED"
	ErrCodeSyncFailed     string = "ERR_SYNC_FAILED"
	ErrCodeUnknownError   string = "ERR_UNKNOWN_ERROR"
)

type Response struct {
	Code string `json:"code"`
}

type ErrorResponse struct {
	ErrorCode string `json:"code"`
	Error     string `json:"error"`
}

func AbortWithError(c *gin.Context, status int, code string, err error) {
	c.Abort()
	c.Error(err)
	c.PureJSON(status, ErrorResponse{
		ErrorCode: code,
		Error:     err.Error(),
	})
}

// abortWithGalleryError maps coordinator errors to a status and code.
// fallbackCode is used for errors without a dedicated mapping.
func abortWithGalleryError(c *gin.Context, err error, fallbackCode string) {
	var patternErr *search.PatternError
	var deleteErr *gallery.DeleteError

	switch {
	case errors.As(err, &patternErr):
		AbortWithError(c, http.StatusBadRequest, ErrCodeBadPattern, err)
	case errors.As(err, &deleteErr):
		AbortWithError(c, http.StatusBadGateway, ErrCodeDeleteFailed, err)
	case errors.Is(err, gallery.ErrObjectNotFound):
		AbortWithError(c, http.StatusNotFound, ErrCodeNotFound, err)
	case errors.Is(err, gallery.ErrSyncInProgress):
		AbortWithError(c, http.StatusConflict, ErrCodeSyncInProgress, err)
	case errors.Is(err, gallery.ErrRefreshThrottled):
		AbortWithError(c, http.StatusTooManyRequests, ErrCodeThrottled, err)
	case errors.Is(err, context.DeadlineExceeded):
		AbortWithError(c, http.StatusGatewayTimeout, fallbackCode, err)
	default:
		AbortWithError(c, http.StatusInternalServerError, fallbackCode, err)
	}
}
