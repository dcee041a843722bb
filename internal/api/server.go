package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/richytech/webhookrelay/internal/config"
	"github.com/richytech/webhookrelay/internal/metrics"
	"github.com/richytech/webhookrelay/internal/queue"
	"github.com/richytech/webhookrelay/internal/storage"
)

type Server struct {
	cfg    config.ServerConfig
	store  storage.Store
	queue  queue.Queue
	router *chi.Mux
	log    zerolog.Logger
	http   *http.Server
}

func NewServer(cfg config.ServerConfig, store storage.Store, q queue.Queue, log zerolog.Logger) *Server {
	s := &Server{
		cfg:   cfg,
		store: store,
		queue: q,
		log:   log,
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware(s.log))

	receiver := NewReceiverHandler(s.store, s.queue, s.log)
	acctHandler := NewAccountHandler(s.store)
	epHandler := NewEndpointHandler(s.store)
	whHandler := NewWebhookHandler(s.store, s.queue)
	statsHandler := NewStatsHandler(s.store)

	r.Get("/health", statsHandler.Health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	// Public receiver — external services post here; validation is internal.
	r.Post("/webhook/{accountID}/{endpointID}", receiver.Receive)

	r.Route("/api/v1", func(r chi.Router) {
		// Account management — admin routes, no bearer auth
		r.Post("/accounts", acctHandler.Create)
		r.Get("/accounts", acctHandler.List)
		r.Get("/accounts/{id}", acctHandler.Get)
		r.Post("/accounts/{id}/rotate-key", acctHandler.RotateKey)

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(s.store))

			r.Get("/account", acctHandler.Me)

			// Endpoints
			r.Post("/endpoints", epHandler.Create)
			r.Get("/endpoints", epHandler.List)
			r.Get("/endpoints/{id}", epHandler.Get)
			r.Put("/endpoints/{id}", epHandler.Update)
			r.Delete("/endpoints/{id}", epHandler.Delete)
			r.Patch("/endpoints/{id}/toggle", epHandler.Toggle)
			r.Post("/endpoints/{id}/rotate-secret", epHandler.RotateSecret)
			r.Get("/endpoints/{id}/stats", epHandler.Stats)

			// Delivery records
			r.Get("/webhooks", whHandler.List)
			r.Get("/webhooks/{id}", whHandler.Get)
			r.Post("/webhooks/{id}/retry", whHandler.Retry)

			// Stats
			r.Get("/stats", statsHandler.Stats)
		})
	})

	return r
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.log.Info().Str("addr", addr).Msg("starting HTTP server")
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}
