// Package http exposes the interview service over HTTP and WebSocket.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"ai-interview-voice-service/internal/app"
	"ai-interview-voice-service/internal/observability/logging"
	"ai-interview-voice-service/internal/userinfo"
)

const maxBodyBytes = 1 << 20

type ctxKey int

const userKey ctxKey = iota

type server struct {
	app      *app.Application
	limiter  *rate.Limiter
	upgrader websocket.Upgrader
	origins  map[string]bool
	log      zerolog.Logger
	now      func() time.Time
}

func newServer(a *app.Application) *server {
	cfg := a.Cfg.HTTP
	s := &server{
		app:     a,
		log:     logging.WithComponent("http"),
		now:     time.Now,
		origins: make(map[string]bool, len(cfg.AllowedOrigins)),
	}
	for _, o := range cfg.AllowedOrigins {
		s.origins[o] = true
	}

	limit := rate.Inf
	if cfg.RateLimitRPS > 0 {
		limit = rate.Limit(cfg.RateLimitRPS)
	}
	burst := cfg.RateLimitBurst
	if burst <= 0 {
		burst = 1
	}
	s.limiter = rate.NewLimiter(limit, burst)

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// checkOrigin accepts every origin when none are configured.
func (s *server) checkOrigin(r *http.Request) bool {
	if len(s.origins) == 0 {
		return true
	}
	return s.origins[r.Header.Get("Origin")]
}

func (s *server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "Too many requests", "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireUser rejects requests without the interviewee cookie.
func (s *server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, err := userinfo.Get(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "User info is required", err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, info)))
	})
}

func userFrom(ctx context.Context) userinfo.Info {
	info, _ := ctx.Value(userKey).(userinfo.Info)
	return info
}

func (s *server) readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.app.Ready(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Readiness check failed")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// decode reads a JSON body into v and validates it.
func (s *server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid JSON body", err.Error())
		return false
	}
	if err := s.app.Validator.Validate(v); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "")
		return false
	}
	return true
}

type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg, details string) {
	writeJSON(w, status, errorBody{Error: msg, Details: details})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
