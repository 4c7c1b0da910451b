package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"ai-interview-voice-service/internal/errorhandler"
	"ai-interview-voice-service/internal/models"
	"ai-interview-voice-service/internal/observability/metrics"
)

// GeminiClient is the Gemini backend.
type GeminiClient struct {
	client       *genai.Client
	model        string
	SystemPrompt string
	Metrics      *metrics.Metrics
}

// NewGeminiClient creates a client for the Gemini API.
func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	if apiKey == "" || model == "" {
		return nil, fmt.Errorf("gemini: %w", errorhandler.ErrNotConfigured)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiClient{
		client:       client,
		model:        model,
		SystemPrompt: DefaultSystemPrompt,
		Metrics:      metrics.DefaultMetrics,
	}, nil
}

func (c *GeminiClient) Complete(ctx context.Context, msgs []models.ChatMessage) (string, error) {
	if len(msgs) == 0 {
		return "", ErrEmptyMessages
	}
	return c.CreateCompletion(ctx, Request{Messages: withSystemPrompt(c.SystemPrompt, msgs)})
}

func (c *GeminiClient) CreateCompletion(ctx context.Context, req Request) (reply string, err error) {
	if len(req.Messages) == 0 {
		return "", ErrEmptyMessages
	}
	start := time.Now()
	defer func() { c.Metrics.ObserveProvider("gemini", "chat", start, err) }()

	system, contents := toContents(req.Messages)
	cfg := &genai.GenerateContentConfig{}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if req.Temperature != nil {
		t := float32(*req.Temperature)
		cfg.Temperature = &t
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("gemini API error: %w", err)
	}
	return cleanReply(resp.Text())
}

// toContents splits system messages out of the history and maps the
// assistant role onto Gemini's model role.
func toContents(msgs []models.ChatMessage) (string, []*genai.Content) {
	var system []string
	contents := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case models.RoleSystem:
			system = append(system, m.Content)
		case models.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	return strings.Join(system, "\n\n"), contents
}
