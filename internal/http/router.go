package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"ai-interview-voice-service/internal/app"
	"ai-interview-voice-service/internal/observability"
)

// NewRouter constructs the HTTP router for the service.
func NewRouter(application *app.Application) http.Handler {
	s := newServer(application)
	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if application.Metrics != nil {
		r.Use(observability.HTTPMiddleware(application.Metrics))
	}

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", s.readiness)

	r.Route("/api", func(r chi.Router) {
		r.Post("/user-info", s.setUserInfo)
		r.Get("/user-info", s.getUserInfo)
		r.Delete("/user-info", s.clearUserInfo)

		// provider proxies share one limiter
		r.Group(func(r chi.Router) {
			r.Use(s.rateLimit)
			r.Post("/chat", s.chat)
			r.Post("/tts", s.tts)
			r.Post("/interview-summary", s.interviewSummary)
		})

		r.Post("/upload", s.upload)
		if application.Cfg.HTTP.QueryAPI {
			r.Post("/query", s.query)
			r.Get("/query", s.queryCheck)
		}

		r.Route("/conversations", func(r chi.Router) {
			r.Use(s.requireUser)
			r.Post("/", s.createConversation)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.getConversation)
				r.Delete("/", s.deleteConversation)
				r.Post("/start", s.startConversation)
				r.Post("/stop", s.stopConversation)
				r.Post("/end", s.endConversation)
				r.Post("/microphone", s.toggleMicrophone)
				r.Post("/messages", s.sendMessage)
			})
		})
	})

	r.With(s.requireUser).Get("/ws/conversation", s.conversationSocket)

	return r
}
