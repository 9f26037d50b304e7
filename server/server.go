package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	enginex "github.com/dmelendez/enerbot/agent/engine"
	sessionx "github.com/dmelendez/enerbot/agent/session"
)

// Agent is the engine surface the HTTP layer needs. Narrowed to an interface
// so handler tests can run against a fake.
type Agent interface {
	Run(ctx context.Context, in sessionx.Inbound) (*enginex.Result, error)
	ListConversations(ctx context.Context, limit int, status string) ([]enginex.ConversationSummary, error)
	ConversationDetail(ctx context.Context, contactID string) (*enginex.ConversationDetail, error)
	Flag(ctx context.Context, contactID, reason string) error
	Metrics() enginex.MetricsSnapshot
}

// Server exposes the webhook intake and the operator admin surface.
type Server struct {
	cfg   Config
	agent Agent
}

func New(cfg Config, agent Agent) *Server {
	return &Server{cfg: cfg, agent: agent}
}

// Router builds the chi handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/health"))

	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/ghl", s.handleGHLWebhook)
		r.Get("/meta", s.handleMetaVerify)
		r.Post("/meta", s.handleMetaWebhook)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Get("/conversations", s.handleListConversations)
		r.Get("/conversations/{contactID}", s.handleConversationDetail)
		r.Post("/conversations/{contactID}/flag", s.handleFlagConversation)
		r.Get("/metrics", s.handleMetrics)
	})

	return r
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         ":" + s.cfg.Port,
		Handler:      s.Router(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("component", "server").Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("encoding response failed")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
