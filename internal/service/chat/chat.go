// Package chat talks to the language model that conducts the interview.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ai-interview-voice-service/internal/config"
	"ai-interview-voice-service/internal/models"
)

// DefaultSystemPrompt asks the model to interview the user in Chinese and
// to finish its last reply with the end marker.
const DefaultSystemPrompt = `你是一位专业、温和的中文采访者，正在通过语音与一位真实用户进行深度访谈，目的是了解对方的成长经历、教育背景、职业路径、项目经验、能力倾向和价值观。

规则：
1. 每次只问一个问题，问题简短口语化，适合朗读。
2. 根据对方的回答自然追问细节，按时间顺序推进。
3. 不要使用 Markdown、列表或表情符号。
4. 当你认为信息已经足够完整，或对方希望结束时，礼貌地道别，并在回复末尾加上 </end>。`

var (
	ErrEmptyMessages = errors.New("messages are required")
	ErrEmptyReply    = errors.New("empty response from AI")
)

// Request is one completion call.
type Request struct {
	Messages    []models.ChatMessage
	Temperature *float64
	MaxTokens   int
}

// Completer performs a raw completion.
type Completer interface {
	CreateCompletion(ctx context.Context, req Request) (string, error)
}

// Temperature is a helper for Request.Temperature.
func Temperature(t float64) *float64 {
	return &t
}

// withSystemPrompt prepends prompt unless the history already starts with a
// system message.
func withSystemPrompt(prompt string, msgs []models.ChatMessage) []models.ChatMessage {
	if prompt == "" || (len(msgs) > 0 && msgs[0].Role == models.RoleSystem) {
		return msgs
	}
	out := make([]models.ChatMessage, 0, len(msgs)+1)
	out = append(out, models.ChatMessage{Role: models.RoleSystem, Content: prompt})
	return append(out, msgs...)
}

func cleanReply(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrEmptyReply
	}
	return s, nil
}

// Client is a chat backend.
type Client interface {
	Completer
	Complete(ctx context.Context, msgs []models.ChatMessage) (string, error)
}

// NewFromConfig selects the backend named by cfg.Chat.Provider.
func NewFromConfig(ctx context.Context, cfg *config.Config) (Client, error) {
	prompt := cfg.Chat.SystemPrompt
	if prompt == "" {
		prompt = DefaultSystemPrompt
	}
	switch cfg.Chat.Provider {
	case "gemini":
		c, err := NewGeminiClient(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model)
		if err != nil {
			return nil, err
		}
		c.SystemPrompt = prompt
		return c, nil
	case "kimi", "":
		c := NewKimiClient(cfg.Chat.BaseURL, cfg.Chat.APIKey, cfg.Chat.Model, cfg.Chat.Timeout)
		c.SystemPrompt = prompt
		return c, nil
	default:
		return nil, fmt.Errorf("unknown chat provider %q", cfg.Chat.Provider)
	}
}
