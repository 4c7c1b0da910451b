package chat

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"ai-interview-voice-service/internal/errorhandler"
	"ai-interview-voice-service/internal/models"
	"ai-interview-voice-service/internal/observability/metrics"
)

// KimiClient calls an OpenAI-compatible chat completions endpoint.
type KimiClient struct {
	client       *openai.Client
	baseURL      string
	apiKey       string
	Model        string
	SystemPrompt string
	Metrics      *metrics.Metrics
}

func NewKimiClient(baseURL, apiKey, model string, timeout time.Duration) *KimiClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	baseURL = strings.TrimRight(baseURL, "/")
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	cfg.HTTPClient = &http.Client{Timeout: timeout}
	return &KimiClient{
		client:       openai.NewClientWithConfig(cfg),
		baseURL:      baseURL,
		apiKey:       apiKey,
		Model:        model,
		SystemPrompt: DefaultSystemPrompt,
		Metrics:      metrics.DefaultMetrics,
	}
}

// Complete returns the interviewer's next reply for the history.
func (c *KimiClient) Complete(ctx context.Context, msgs []models.ChatMessage) (string, error) {
	if len(msgs) == 0 {
		return "", ErrEmptyMessages
	}
	return c.CreateCompletion(ctx, Request{Messages: withSystemPrompt(c.SystemPrompt, msgs)})
}

func (c *KimiClient) CreateCompletion(ctx context.Context, req Request) (reply string, err error) {
	if c.apiKey == "" || c.baseURL == "" || c.Model == "" {
		return "", fmt.Errorf("kimi credentials: %w", errorhandler.ErrNotConfigured)
	}
	if len(req.Messages) == 0 {
		return "", ErrEmptyMessages
	}
	m := c.Metrics
	if m == nil {
		m = metrics.DefaultMetrics
	}
	start := time.Now()
	defer func() { m.ObserveProvider("kimi", "chat", start, err) }()

	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: msg.Role, Content: msg.Content})
	}
	creq := openai.ChatCompletionRequest{
		Model:     c.Model,
		Messages:  msgs,
		MaxTokens: req.MaxTokens,
	}
	if req.Temperature != nil {
		creq.Temperature = float32(*req.Temperature)
	}

	resp, err := c.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		return "", completionError(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("invalid response format from chat API: no choices")
	}
	return cleanReply(resp.Choices[0].Message.Content)
}

// completionError keeps the wrapped error so errorhandler can still
// classify network and timeout failures.
func completionError(err error) error {
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	code := 0
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		code = reqErr.HTTPStatusCode
	default:
		var netErr net.Error
		if errors.As(err, &netErr) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("chat network error: %w", err)
		}
		return fmt.Errorf("invalid response format from chat API: %w", err)
	}

	switch code {
	case http.StatusBadRequest:
		return fmt.Errorf("invalid request to chat API: %w", err)
	case http.StatusUnauthorized:
		return fmt.Errorf("chat API authentication failed, check credentials: %w", err)
	case http.StatusTooManyRequests:
		return fmt.Errorf("chat API rate limit exceeded: %w", err)
	default:
		return fmt.Errorf("chat API error: status=%d: %w", code, err)
	}
}
