package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"docchat/internal/config"
	"docchat/internal/models"
)

const (
	defaultMaxUploadMB = 50
	maxChatBodySize    = 1 << 20
)

// Pipeline is the session scoped ingestion and answering engine.
type Pipeline interface {
	Ingest(ctx context.Context, sessionID, text, filename string) (int, error)
	Answer(ctx context.Context, sessionID, query string) (*models.Answer, error)
	Records(ctx context.Context, sessionID string) (int, error)
}

// Extractor turns an uploaded file into plain text.
type Extractor interface {
	Supports(filePath string) bool
	Extensions() []string
	Extract(ctx context.Context, filePath string) (string, error)
}

type Server struct {
	cfg       config.ServerConfig
	pipeline  Pipeline
	extractor Extractor
	maxUpload int64
	limiter   *rate.Limiter

	httpServer *http.Server
}

func New(cfg config.ServerConfig, pipeline Pipeline, extractor Extractor) *Server {
	mb := cfg.MaxUploadMB
	if mb <= 0 {
		mb = defaultMaxUploadMB
	}
	s := &Server{
		cfg:       cfg,
		pipeline:  pipeline,
		extractor: extractor,
		maxUpload: mb << 20,
	}
	if cfg.RateLimitRPS > 0 {
		burst := cfg.RateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), burst)
	}
	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  seconds(cfg.ReadTimeoutSecs),
		WriteTimeout: seconds(cfg.WriteTimeoutSecs),
	}
	return s
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// RegisterRoutes registers the API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/upload", withRateLimit(s.limiter, s.handleUpload))
	mux.HandleFunc("POST /api/chat", withRateLimit(s.limiter, s.handleChat))
	mux.HandleFunc("GET /api/sessions/{id}", s.handleSession)
}

// Handler returns the routes wrapped in CORS and access logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return withLogging(withCORS(s.cfg.AllowedOrigins, mux))
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.cfg.Addr).Msg("HTTP server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := seconds(s.cfg.ShutdownTimeoutSecs)
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	log.Info().Msg("Shutting down HTTP server")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
