package localhttp

import (
	"log/slog"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-contrib/secure"
	"github.com/gin-gonic/gin"
	slogGin "github.com/samber/slog-gin"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
)

var (
	excludedPaths = []string{
		"/health",
		"/v1/events",
	}
	excludedExtensions = []string{
		".png", ".gif", ".jpeg", ".jpg", ".webp", ".avif", ".mp4", ".mov", ".pdf", ".zip", ".tar.gz",
	}
)

func Logger() gin.HandlerFunc {
	httpLogger := slog.Default().WithGroup("http")

	return slogGin.NewWithConfig(httpLogger, slogGin.Config{
		DefaultLevel:     slog.LevelDebug,
		ClientErrorLevel: slog.LevelWarn,
		ServerErrorLevel: slog.LevelError,
		WithRequestID:    true,
		Filters: []slogGin.Filter{
			slogGin.IgnorePath("/health"),
		},
	})
}

// CORS allows the configured origins, or any origin when none are set.
func CORS(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowHeaders:    []string{"Origin", "Content-Type", "Content-Length", "Accept-Encoding"},
		AllowMethods:    []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowWebSockets: true,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}

// SecureHeaders sets the browser hardening headers. The server is plain
// http on loopback, so there is no ssl redirect or hsts.
func SecureHeaders() gin.HandlerFunc {
	return secure.New(secure.Config{
		IsDevelopment:         false,
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		IENoOpen:              true,
		ReferrerPolicy:        "no-referrer",
		ContentSecurityPolicy: "default-src 'none'; img-src * data:",
	})
}

func Gzip() gin.HandlerFunc {
	return gzip.Gzip(
		gzip.DefaultCompression,
		gzip.WithExcludedPaths(excludedPaths),
		gzip.WithExcludedExtensions(excludedExtensions),
	)
}

// RateLimiter limits requests per client IP. formattedRate uses the limiter
// notation, e.g. "20-S" for 20 requests per second.
func RateLimiter(formattedRate string) (gin.HandlerFunc, error) {
	rate, err := limiter.NewRateFromFormatted(formattedRate)
	if err != nil {
		return nil, err
	}

	l := limiter.New(memory.NewStore(), rate)
	return mgin.NewMiddleware(
		l,
		mgin.WithLimitReachedHandler(func(c *gin.Context) {
			c.PureJSON(http.StatusTooManyRequests, ErrorResponse{
				ErrorCode: ErrCodeThrottled,
				Error:     "rate limit exceeded",
			})
		}),
		mgin.WithErrorHandler(func(c *gin.Context, err error) {
			c.PureJSON(http.StatusInternalServerError, ErrorResponse{
				ErrorCode: ErrCodeUnknownError,
				Error:     err.Error(),
			})
		}),
	), nil
}
