package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"ai-interview-voice-service/internal/config"
	"ai-interview-voice-service/internal/models"
	"ai-interview-voice-service/internal/observability/metrics"
	"ai-interview-voice-service/internal/service/conversation"
	"ai-interview-voice-service/internal/service/recognition"
	"ai-interview-voice-service/internal/service/recognition/recognitiontest"
	"ai-interview-voice-service/internal/service/recognition/relay"
	"ai-interview-voice-service/internal/service/summary"
	"ai-interview-voice-service/internal/service/tts"
	"ai-interview-voice-service/internal/userinfo"
)

type stubChat struct{}

func (stubChat) Complete(context.Context, []models.ChatMessage) (string, error) {
	return "好的。", nil
}

type stubSummarizer struct{}

func (stubSummarizer) Summarize(context.Context, []models.ChatMessage) (summary.Result, error) {
	return summary.Result{Summary: "ok"}, nil
}

type stubTransport struct{}

func (stubTransport) SendCommand(context.Context, relay.Command) error { return nil }
func (stubTransport) Play(context.Context, tts.Audio) error            { return nil }

func newManager(t *testing.T, max int) (*Manager, *recognitiontest.Factory) {
	t.Helper()
	f := &recognitiontest.Factory{}
	cfg := Config{
		Conversation: conversation.DefaultConfig(),
		STT:          config.STTConfig{StartTimeout: time.Second},
		MaxSessions:  max,
	}
	m := NewManager(cfg, Services{
		Chat:       stubChat{},
		Summarizer: stubSummarizer{},
		Metrics:    metrics.NewMetrics(prometheus.NewRegistry()),
	}, func(Transport) (recognition.Factory, error) { return f.New, nil })
	t.Cleanup(m.CloseAll)
	return m, f
}

func TestManager_CreateGetClose(t *testing.T) {
	m, _ := newManager(t, 0)
	info := userinfo.Info{Name: "李明", Email: "li@example.com"}

	s, err := m.Create(nil, info)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if s.ID == "" || s.Store == nil || s.Conversation == nil {
		t.Fatalf("incomplete session %+v", s)
	}
	if got := s.Conversation.Identity(); got != info {
		t.Errorf("identity = %+v", got)
	}

	got, err := m.Get(s.ID)
	if err != nil || got != s {
		t.Fatalf("Get = %v, %v", got, err)
	}
	if err := m.Close(s.ID); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := m.Get(s.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := m.Close(s.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second close, got %v", err)
	}
}

func TestManager_SessionsAreIndependent(t *testing.T) {
	m, f := newManager(t, 0)
	a, _ := m.Create(nil, userinfo.Info{})
	b, _ := m.Create(nil, userinfo.Info{})

	if err := a.Conversation.StartConversation(context.Background()); err != nil {
		t.Fatalf("StartConversation: %v", err)
	}
	if !a.Store.Flags().CallActive || b.Store.Flags().CallActive {
		t.Error("expected only the first session to be active")
	}
	if f.Count() != 1 {
		t.Errorf("expected one engine, got %d", f.Count())
	}
}

func TestManager_MaxSessions(t *testing.T) {
	m, _ := newManager(t, 1)
	if _, err := m.Create(nil, userinfo.Info{}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := m.Create(nil, userinfo.Info{}); !errors.Is(err, ErrTooManySessions) {
		t.Errorf("expected ErrTooManySessions, got %v", err)
	}
	if m.Count() != 1 {
		t.Errorf("Count = %d", m.Count())
	}
}

func TestNewEngineSource(t *testing.T) {
	if _, err := NewEngineSource(config.STTConfig{Provider: "bogus"}, nil); err == nil {
		t.Error("expected unknown provider error")
	}
	if _, err := NewEngineSource(config.STTConfig{Provider: "google"}, nil); err == nil {
		t.Error("expected error without a speech client")
	}

	src, err := NewEngineSource(config.STTConfig{Provider: "relay"}, nil)
	if err != nil {
		t.Fatalf("NewEngineSource: %v", err)
	}
	if _, err := src(nil); !errors.Is(err, ErrTransportRequired) {
		t.Errorf("expected ErrTransportRequired, got %v", err)
	}
	if f, err := src(stubTransport{}); err != nil || f == nil {
		t.Errorf("expected relay factory, got %v", err)
	}

	mockSrc, err := NewEngineSource(config.STTConfig{Provider: "mock"}, nil)
	if err != nil {
		t.Fatalf("NewEngineSource(mock): %v", err)
	}
	if f, err := mockSrc(nil); err != nil || f == nil {
		t.Errorf("expected mock factory, got %v", err)
	}
}
