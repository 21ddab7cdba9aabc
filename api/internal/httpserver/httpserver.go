package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"receipt-proxy/api/internal/handle"
)

const AnalyzePath = "/api/analyze-receipt"

type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
}

type Server struct {
	logger *zerolog.Logger
	server *http.Server
	cfg    Config
}

// NewRouter wires the receipt endpoint. CORS is outermost so every response carries it.
func NewRouter(logger zerolog.Logger, h *handle.Handle) *chi.Mux {
	router := chi.NewRouter()

	router.Use(CORS)
	router.Use(Logger(&logger))
	router.Use(Recoverer)

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.HandleFunc(AnalyzePath, h.AnalyzeReceipt)

	return router
}

func New(logger zerolog.Logger, cfg Config, handler http.Handler) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	return &Server{
		logger: &logger,
		cfg:    cfg,
		server: &http.Server{
			Addr:              cfg.Addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Start serves until ctx is cancelled, then drains outstanding requests.
func (s *Server) Start(ctx context.Context) error {
	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info().Str("addr", s.server.Addr).Msg("starting server")
		serverErrors <- s.server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.logger.Info().Msg("shutdown initiated")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error().Err(err).Msg("graceful shutdown failed")
			return s.server.Close()
		}
	}
	return nil
}
