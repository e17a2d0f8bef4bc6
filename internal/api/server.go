// Package api provides the HTTP query API: health, watcher status, the
// traffic and object count lookups and live frame grabs.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/mikeyg42/hypersight/internal/config"
	"github.com/mikeyg42/hypersight/internal/frames"
	"github.com/mikeyg42/hypersight/internal/metrics"
	"github.com/mikeyg42/hypersight/internal/storage"
	"github.com/mikeyg42/hypersight/internal/supervisor"
	"github.com/mikeyg42/hypersight/internal/watchlog"
)

// Store is the read side of storage.SQLStore used by the handlers
type Store interface {
	GetCamera(ctx context.Context, id int64) (*storage.Camera, error)
	ListCameras(ctx context.Context) ([]storage.Camera, error)
	GetProcessor(ctx context.Context, id int64) (*storage.ProcessorConfig, error)
	TrafficSum(ctx context.Context, processorID int64, from, to time.Time) (*storage.TrafficSummary, error)
	LatestEvent(ctx context.Context, processorID int64, at time.Time) (*storage.Event, error)
	HealthCheck(ctx context.Context) error
}

// StatusProvider reports running watchers. *supervisor.Supervisor satisfies it.
type StatusProvider interface {
	Status() []supervisor.CameraStatus
}

// FrameGrabber stores one live frame of a camera. *frames.Grabber satisfies it.
type FrameGrabber interface {
	Grab(ctx context.Context, cameraID int64, streamURL string) (*frames.Snapshot, error)
}

// Deps are the handlers' collaborators
type Deps struct {
	Store   Store
	Status  StatusProvider     // optional
	Metrics *metrics.Collector // optional
	Frames  FrameGrabber       // optional, needs object storage
	Logger  watchlog.Logger
}

// Server is an HTTP API server
type Server struct {
	httpServer *http.Server
	limiter    *RateLimiter
	deps       Deps
	logger     watchlog.Logger
	now        func() time.Time
}

// NewServer creates a new API server
func NewServer(cfg config.APIConfig, metricsCfg config.MetricsConfig, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = watchlog.L()
	}
	s := &Server{
		deps:   deps,
		logger: deps.Logger.Named("api"),
		now:    time.Now,
	}

	mux := http.NewServeMux()
	s.limiter = NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow)

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/status", s.limiter.Middleware(s.handleStatus))
	mux.HandleFunc("POST /api/traffic", s.limiter.Middleware(s.handleTraffic))
	mux.HandleFunc("POST /api/objects", s.limiter.Middleware(s.handleObjects))
	mux.HandleFunc("POST /api/frame", s.limiter.Middleware(s.handleFrame))

	if metricsCfg.Enabled && deps.Metrics != nil {
		path := metricsCfg.Path
		if path == "" {
			path = "/metrics"
		}
		mux.Handle("GET "+path, deps.Metrics.Handler())
	}

	s.httpServer = &http.Server{
		Addr:           cfg.ListenAddr,
		Handler:        corsMiddleware(cfg.CORSOrigins, mux),
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		MaxHeaderBytes: 1 << 20, // 1 MB
	}
	return s
}

// Handler exposes the routed handler for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// corsMiddleware adds CORS headers for whitelisted origins
func corsMiddleware(origins []string, next http.Handler) http.Handler {
	allowedOrigins := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowedOrigins[o] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if origin != "" && (allowedOrigins[origin] || allowedOrigins["*"]) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}

		// Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting API server", watchlog.String("addr", s.httpServer.Addr))
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.limiter.Stop()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	s.limiter.Stop()
	return s.httpServer.Shutdown(ctx)
}
