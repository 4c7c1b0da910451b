// Package tts turns assistant replies into audio.
package tts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ai-interview-voice-service/internal/config"
)

var ErrEmptyText = errors.New("text is required")

// Audio is a complete synthesized clip.
type Audio struct {
	Data     []byte
	MIMEType string
}

// Synthesizer produces audio for text.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (Audio, error)
}

// NewFromConfig selects the backend named by cfg.TTS.Provider. It returns
// nil for "none", which makes replies text-only.
func NewFromConfig(cfg *config.Config) (Synthesizer, error) {
	switch strings.ToLower(cfg.TTS.Provider) {
	case "minimax", "":
		c := NewMinimaxClient(cfg.TTS.MinimaxBaseURL, cfg.TTS.MinimaxGroupID, cfg.TTS.MinimaxAPIKey, cfg.TTS.Timeout)
		if cfg.TTS.MinimaxModel != "" {
			c.Model = cfg.TTS.MinimaxModel
		}
		if cfg.TTS.VoiceID != "" {
			c.VoiceID = cfg.TTS.VoiceID
		}
		return c, nil
	case "deepgram":
		return NewDeepgramClient(cfg.TTS.DeepgramAPIKey, cfg.TTS.DeepgramModel), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown tts provider %q", cfg.TTS.Provider)
	}
}
