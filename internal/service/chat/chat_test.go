package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/genai"

	"ai-interview-voice-service/internal/errorhandler"
	"ai-interview-voice-service/internal/models"
	"ai-interview-voice-service/internal/observability/metrics"
)

func newTestKimi(t *testing.T, handler http.HandlerFunc) *KimiClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewKimiClient(srv.URL+"/v1/", "key", "moonshot-v1-8k", time.Second)
	c.Metrics = metrics.NewMetrics(prometheus.NewRegistry())
	return c
}

func TestKimi_Complete(t *testing.T) {
	var got struct {
		Model    string               `json:"model"`
		Messages []models.ChatMessage `json:"messages"`
		Stream   bool                 `json:"stream"`
	}
	var auth, path string
	c := newTestKimi(t, func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"  你好，请先介绍一下自己。 "}}]}`))
	})

	reply, err := c.Complete(context.Background(), []models.ChatMessage{{Role: models.RoleUser, Content: "你好"}})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if reply != "你好，请先介绍一下自己。" {
		t.Errorf("unexpected reply %q", reply)
	}
	if auth != "Bearer key" || path != "/v1/chat/completions" {
		t.Errorf("unexpected request auth=%q path=%q", auth, path)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != models.RoleSystem {
		t.Fatalf("expected system prompt to be prepended, got %+v", got.Messages)
	}
	if got.Model != "moonshot-v1-8k" || got.Stream {
		t.Errorf("unexpected model/stream %q/%v", got.Model, got.Stream)
	}
}

func TestKimi_CreateCompletionOptions(t *testing.T) {
	var raw map[string]any
	c := newTestKimi(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&raw)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`))
	})

	_, err := c.CreateCompletion(context.Background(), Request{
		Messages:    []models.ChatMessage{{Role: models.RoleSystem, Content: "s"}, {Role: models.RoleUser, Content: "u"}},
		Temperature: Temperature(0.3),
		MaxTokens:   1500,
	})
	if err != nil {
		t.Fatalf("CreateCompletion: %v", err)
	}
	if raw["temperature"] != 0.3 || raw["max_tokens"] != float64(1500) {
		t.Errorf("unexpected options %v", raw)
	}
	if msgs := raw["messages"].([]any); len(msgs) != 2 {
		t.Errorf("system prompt must not be added by CreateCompletion, got %d messages", len(msgs))
	}
}

func TestKimi_Failures(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
		contain string
	}{
		{"status_401", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(401); _, _ = w.Write([]byte("bad key")) }, "authentication"},
		{"status_429", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(429) }, "rate limit"},
		{"status_500", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(500); _, _ = w.Write([]byte("oops")) }, "status=500"},
		{"status_400", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(400)
			_, _ = w.Write([]byte(`{"error":{"message":"bad model","type":"invalid_request_error"}}`))
		}, "invalid request"},
		{"bad_json", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("not-json")) }, "invalid response"},
		{"empty_choices", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(`{"choices":[]}`)) }, "no choices"},
		{"blank_reply", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"   "}}]}`))
		}, "empty response"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestKimi(t, tc.handler)
			_, err := c.Complete(context.Background(), []models.ChatMessage{{Role: models.RoleUser, Content: "hi"}})
			if err == nil || !strings.Contains(err.Error(), tc.contain) {
				t.Fatalf("expected error containing %q, got %v", tc.contain, err)
			}
		})
	}
}

func TestKimi_NotConfigured(t *testing.T) {
	c := NewKimiClient("https://api.moonshot.cn/v1", "", "m", time.Second)
	_, err := c.Complete(context.Background(), []models.ChatMessage{{Role: models.RoleUser, Content: "hi"}})
	if !errors.Is(err, errorhandler.ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
	if _, err := c.Complete(context.Background(), nil); !errors.Is(err, ErrEmptyMessages) {
		t.Errorf("expected ErrEmptyMessages, got %v", err)
	}
}

func TestWithSystemPrompt(t *testing.T) {
	user := []models.ChatMessage{{Role: models.RoleUser, Content: "u"}}
	if got := withSystemPrompt("p", user); len(got) != 2 || got[0].Content != "p" {
		t.Errorf("expected prompt prepended, got %+v", got)
	}
	sys := []models.ChatMessage{{Role: models.RoleSystem, Content: "own"}, {Role: models.RoleUser, Content: "u"}}
	if got := withSystemPrompt("p", sys); len(got) != 2 || got[0].Content != "own" {
		t.Errorf("expected existing system prompt kept, got %+v", got)
	}
	if got := withSystemPrompt("", user); len(got) != 1 {
		t.Errorf("expected no prompt, got %+v", got)
	}
}

func TestToContents(t *testing.T) {
	system, contents := toContents([]models.ChatMessage{
		{Role: models.RoleSystem, Content: "be brief"},
		{Role: models.RoleUser, Content: "你好"},
		{Role: models.RoleAssistant, Content: "请介绍一下自己"},
	})
	if system != "be brief" {
		t.Errorf("unexpected system %q", system)
	}
	if len(contents) != 2 {
		t.Fatalf("expected 2 contents, got %d", len(contents))
	}
	if contents[0].Role != string(genai.RoleUser) || contents[1].Role != string(genai.RoleModel) {
		t.Errorf("unexpected roles %q, %q", contents[0].Role, contents[1].Role)
	}
	if contents[1].Parts[0].Text != "请介绍一下自己" {
		t.Errorf("unexpected text %q", contents[1].Parts[0].Text)
	}
}

func TestNewGeminiClient_NotConfigured(t *testing.T) {
	if _, err := NewGeminiClient(context.Background(), "", "gemini-2.5-flash"); !errors.Is(err, errorhandler.ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}
