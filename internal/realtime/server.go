package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/acme/voice-dialer/internal/config"
	"github.com/acme/voice-dialer/pkg/logger"
)

// Server exposes the dashboard socket endpoint.
type Server struct {
	hub      *Hub
	auth     *Authenticator
	upgrader websocket.Upgrader
	http     *http.Server
	log      *logger.Logger
	ctx      context.Context
}

// NewServer builds the chi router for /ws, /metrics and /healthz.
func NewServer(cfg config.RealtimeConfig, hub *Hub, auth *Authenticator, gatherer prometheus.Gatherer, log *logger.Logger) *Server {
	if log == nil {
		log = logger.NewNop()
	}
	s := &Server{hub: hub, auth: auth, log: log, ctx: context.Background()}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/ws", s.handleSocket)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "clients": hub.ClientCount()})
	})
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the router, for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Run serves until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	s.ctx = ctx
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("realtime: listening", zap.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("realtime: serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	id, err := s.auth.Verify(TokenFromRequest(r))
	if err != nil {
		s.log.Debug("realtime: handshake rejected", zap.String("remote", r.RemoteAddr), zap.Error(err))
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("realtime: upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(s.hub, conn, id)
	s.hub.Register(client)
	client.Start(s.ctx)
	s.hub.reply(client, ReplyConnected, map[string]any{
		"userId":    id.UserID.String(),
		"accountId": id.AccountID.String(),
		"role":      id.Role,
		"rooms":     baseRooms(id),
	})
}

// originChecker allows the configured origins, or only the serving host when
// none are configured. "*" allows any origin.
func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.TrimRight(strings.ToLower(o), "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if len(set) == 0 {
			u, err := url.Parse(origin)
			return err == nil && strings.EqualFold(u.Host, r.Host)
		}
		_, ok := set[strings.ToLower(origin)]
		return ok
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
