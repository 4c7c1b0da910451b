// Package session keeps one conversation per client connection. Every
// session owns its own store, recognition session and orchestrator.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"ai-interview-voice-service/internal/config"
	"ai-interview-voice-service/internal/errorhandler"
	"ai-interview-voice-service/internal/observability/logging"
	"ai-interview-voice-service/internal/observability/metrics"
	"ai-interview-voice-service/internal/service/conversation"
	"ai-interview-voice-service/internal/service/recognition"
	"ai-interview-voice-service/internal/service/recognition/google"
	"ai-interview-voice-service/internal/service/recognition/mock"
	"ai-interview-voice-service/internal/service/recognition/relay"
	"ai-interview-voice-service/internal/state"
	"ai-interview-voice-service/internal/userinfo"
)

var (
	ErrTooManySessions   = errors.New("too many active sessions")
	ErrNotFound          = errors.New("session not found")
	ErrTransportRequired = errors.New("recognition provider needs a client connection")
)

// Transport is the client connection of a session. It relays recognizer
// commands and plays audio. REST sessions have none.
type Transport interface {
	relay.Sender
	conversation.Player
}

// Services are shared by every session.
type Services struct {
	Chat        conversation.ChatProvider
	Synthesizer conversation.Synthesizer
	Summarizer  conversation.Summarizer
	Persister   conversation.Persister
	Events      conversation.EventSink
	Errors      *errorhandler.Handler
	Metrics     *metrics.Metrics
}

// Config sizes the manager and configures new sessions.
type Config struct {
	Conversation conversation.Config
	STT          config.STTConfig
	MaxSessions  int
}

// ConfigFrom derives the session settings from the service configuration.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Conversation: conversation.ConfigFrom(cfg),
		STT:          cfg.STT,
		MaxSessions:  cfg.HTTP.MaxSessions,
	}
}

// EngineSource builds the recognition engine factory for a session.
type EngineSource func(t Transport) (recognition.Factory, error)

// NewEngineSource picks the engine named by cfg.Provider. client is only
// used by the google provider.
func NewEngineSource(cfg config.STTConfig, client *speech.Client) (EngineSource, error) {
	switch cfg.Provider {
	case "", "mock":
		f := mock.NewFactory(mock.DefaultConfig())
		return func(Transport) (recognition.Factory, error) { return f, nil }, nil
	case "google":
		if client == nil {
			return nil, errors.New("google recognition requires a speech client")
		}
		gcfg := google.Config{
			LanguageCode:   cfg.LanguageCode,
			SampleRateHz:   int32(cfg.SampleRateHz),
			InterimResults: cfg.InterimResults,
			AudioEncoding:  cfg.AudioEncoding,
		}
		f := google.NewFactory(client, gcfg)
		return func(Transport) (recognition.Factory, error) { return f, nil }, nil
	case "relay":
		return func(t Transport) (recognition.Factory, error) {
			if t == nil {
				return nil, ErrTransportRequired
			}
			return relay.NewFactory(t), nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown STT provider %q", cfg.Provider)
	}
}

// Session is one client's conversation.
type Session struct {
	ID           string
	Store        *state.Store
	Recognition  *recognition.Session
	Conversation *conversation.Orchestrator
	CreatedAt    time.Time
}

// WriteAudio forwards client audio to the recognizer.
func (s *Session) WriteAudio(ctx context.Context, audio []byte) error {
	return s.Recognition.WriteAudio(ctx, audio)
}

// Relay forwards a client recognizer event.
func (s *Session) Relay(ev recognition.RelayEvent) {
	s.Recognition.Relay(ev)
}

// Manager is the registry of live sessions.
type Manager struct {
	cfg     Config
	svc     Services
	engines EngineSource
	log     zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(cfg Config, svc Services, engines EngineSource) *Manager {
	if svc.Metrics == nil {
		svc.Metrics = metrics.DefaultMetrics
	}
	if svc.Errors == nil {
		svc.Errors = errorhandler.New()
	}
	return &Manager{
		cfg:      cfg,
		svc:      svc,
		engines:  engines,
		log:      logging.WithComponent("session"),
		sessions: make(map[string]*Session),
	}
}

// Create starts a session for identity. t may be nil when the provider
// does not need a client connection.
func (m *Manager) Create(t Transport, identity userinfo.Info) (*Session, error) {
	m.mu.Lock()
	if m.cfg.MaxSessions > 0 && len(m.sessions) >= m.cfg.MaxSessions {
		m.mu.Unlock()
		return nil, ErrTooManySessions
	}
	m.mu.Unlock()

	factory, err := m.engines(t)
	if err != nil {
		return nil, err
	}

	lang := m.cfg.Conversation.Silence.Options.Language
	if lang == "" {
		lang = recognition.DefaultOptions().Language
	}
	store := state.New(lang)
	rec := recognition.NewSession(factory, m.cfg.STT.StartTimeout, m.svc.Metrics)

	deps := conversation.Deps{
		Store:       store,
		Session:     rec,
		Chat:        m.svc.Chat,
		Synthesizer: m.svc.Synthesizer,
		Summarizer:  m.svc.Summarizer,
		Persister:   m.svc.Persister,
		Events:      m.svc.Events,
		Errors:      m.svc.Errors,
		Metrics:     m.svc.Metrics,
	}
	if t != nil {
		deps.Player = t
	}
	orch, err := conversation.New(m.cfg.Conversation, deps)
	if err != nil {
		return nil, err
	}
	orch.SetIdentity(identity)

	s := &Session{
		ID:           ulid.Make().String(),
		Store:        store,
		Recognition:  rec,
		Conversation: orch,
		CreatedAt:    time.Now().UTC(),
	}

	m.mu.Lock()
	if m.cfg.MaxSessions > 0 && len(m.sessions) >= m.cfg.MaxSessions {
		m.mu.Unlock()
		orch.Close()
		return nil, ErrTooManySessions
	}
	m.sessions[s.ID] = s
	n := len(m.sessions)
	m.mu.Unlock()

	m.log.Info().Str("sessionId", s.ID).Int("active", n).Msg("Session created")
	return s, nil
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Close ends and removes a session.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	s.Conversation.EndConversation()
	s.Conversation.Close()
	m.log.Info().Str("sessionId", id).Msg("Session closed")
	return nil
}

// CloseAll ends every session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		_ = m.Close(id)
	}
}

func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
