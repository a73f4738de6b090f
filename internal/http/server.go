package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"orcamento/internal/core"
	applog "orcamento/internal/log"
	"orcamento/internal/middleware/ratelimit"
	"orcamento/internal/middleware/security"
	"orcamento/internal/middleware/trace"
	"orcamento/internal/services"
)

// DefaultMaxUploadBytes bounds an upload request body.
const DefaultMaxUploadBytes = 10 << 20

// ImportSubmitter is the service behind the API.
type ImportSubmitter interface {
	Submit(ctx context.Context, u services.Upload) (core.Import, error)
	Get(ctx context.Context, id string) (core.Import, error)
}

// Config configures the API server.
type Config struct {
	Addr           string
	MaxUploadBytes int64
	RateLimit      ratelimit.Config
	TrustedProxies []string
	// Ready reports backend readiness for /readyz; nil means always ready.
	Ready func(ctx context.Context) error
}

// Server serves the import trigger API.
type Server struct {
	http.Server
	imports   ImportSubmitter
	limiter   *ratelimit.Limiter
	maxUpload int64
	ready     func(ctx context.Context) error
	logger    *applog.Logger

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(cfg Config, imports ImportSubmitter, logger *applog.Logger) (*Server, error) {
	if logger == nil {
		logger = applog.WithComponent(applog.ComponentHTTP)
	}
	clientIP, err := security.NewClientIP(cfg.TrustedProxies...)
	if err != nil {
		return nil, err
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}

	s := &Server{
		imports:   imports,
		limiter:   ratelimit.NewLimiter(cfg.RateLimit),
		maxUpload: cfg.MaxUploadBytes,
		ready:     cfg.Ready,
		logger:    logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/imports", s.handleCreateImport)
	mux.HandleFunc("GET /api/imports/{id}", s.handleGetImport)
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	var handler http.Handler = mux
	handler = s.limiter.Middleware(clientIP.Extract, http.MethodPost)(handler)
	handler = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(handler)
	handler = trace.NewMiddleware(logger, clientIP.Extract).Middleware(handler)

	s.Server = http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}
	return s, nil
}

// Shutdown gracefully shuts down the server and the limiter cleanup.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			applog.FromContext(r.Context()).WarnContext(r.Context(), "Readiness check failed", applog.FieldError, err)
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
