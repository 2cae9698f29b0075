package localhttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	DefaultAddr      = "127.0.0.1:7938"
	DefaultRateLimit = "50-S"
)

type Config struct {
	Addr string
	// RateLimit in limiter notation, e.g. "50-S". Empty disables it.
	RateLimit      string
	AllowedOrigins []string
}

// Server serves the gallery API and the render event stream.
type Server struct {
	config   Config
	handler  http.Handler
	server   *http.Server
	listener net.Listener
	bridge   *Bridge
}

func New(config Config, g Gallery, bridge *Bridge) (*Server, error) {
	if config.Addr == "" {
		config.Addr = DefaultAddr
	}

	gin.SetMode(gin.ReleaseMode)
	handler, err := SetupRoutes(g, bridge, &config)
	if err != nil {
		return nil, err
	}

	return &Server{
		config:  config,
		handler: handler,
		bridge:  bridge,
	}, nil
}

func SetupRoutes(g Gallery, bridge *Bridge, config *Config) (http.Handler, error) {
	r := gin.New()

	r.Use(Logger())
	r.Use(gin.Recovery())
	r.Use(SecureHeaders())
	r.Use(CORS(config.AllowedOrigins))
	r.Use(Gzip())
	if config.RateLimit != "" {
		rl, err := RateLimiter(config.RateLimit)
		if err != nil {
			return nil, fmt.Errorf("rate limit %q: %w", config.RateLimit, err)
		}
		r.Use(rl)
	}

	galleryH := NewGalleryHandler(g)
	objectsH := NewObjectsHandler(g)
	cacheH := NewCacheHandler(g)

	r.GET("/health", HealthHandler)

	v1 := r.Group("/v1")
	{
		v1.GET("/gallery", galleryH.Get)
		v1.POST("/gallery/sync", galleryH.Sync)
		v1.POST("/gallery/search", galleryH.Search)
		v1.POST("/gallery/render", galleryH.Render)

		v1.GET("/objects/url", objectsH.URL)
		v1.DELETE("/objects", objectsH.Delete)

		v1.GET("/cache/stats", cacheH.Stats)
		v1.DELETE("/cache", cacheH.Clear)

		v1.GET("/events", bridge.WebsocketHandler)
	}

	return r, nil
}

// Start listens on the configured address and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.Addr, err)
	}
	s.listener = listener
	s.server = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("http server start", "addr", listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-errCh:
		return err
	}
}

// Addr returns the bound address once Start is listening.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.config.Addr
	}
	return s.listener.Addr().String()
}

func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	slog.Info("http server stop")
	// websocket connections are hijacked, Shutdown does not wait for them
	s.bridge.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("stop http server: %w", err)
	}
	return nil
}
