package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"order-payments/internal/config"
	"order-payments/internal/infra/api/apiv1"
	"order-payments/internal/infra/logging"
	"order-payments/internal/infra/metrics"
)

// Server is the public HTTP surface: operator API, gateway webhook, health
// and metrics.
type Server struct {
	srv *http.Server
	log *zerolog.Logger
}

// NewRouter assembles the routes. A nil auth leaves operator routes open and
// is only accepted in dev mode by config validation.
func NewRouter(cfg config.ServerConfig, v1 *apiv1.Server, auth *Authenticator, limiter Limiter, logger *zerolog.Logger) http.Handler {
	log := logging.Component(logger, "HTTP")
	r := chi.NewRouter()
	r.Use(TraceID(), RequestLog(log), Recover(log), Timeout(cfg.RequestTimeout))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	apiv1.RegisterWebhook(r, v1)

	r.Group(func(r chi.Router) {
		if auth != nil {
			r.Use(auth.RequireOperator(log))
		} else {
			log.Warn().Msg("operator routes are not authenticated")
		}
		r.Use(RateLimit(limiter, cfg.RateLimitPerMin, log))
		apiv1.RegisterAPIV1(r, v1)
	})
	return r
}

func NewServer(cfg config.ServerConfig, handler http.Handler, logger *zerolog.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:         cfg.Addr,
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		log: logging.Component(logger, "HTTP"),
	}
}

// Start blocks until the server stops. A graceful shutdown returns nil.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("http server listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
