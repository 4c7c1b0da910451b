package conversation

import (
	"context"

	"ai-interview-voice-service/internal/models"
	"ai-interview-voice-service/internal/service/persistence"
	"ai-interview-voice-service/internal/service/summary"
	"ai-interview-voice-service/internal/service/tts"
)

// ChatProvider returns the interviewer's next reply.
type ChatProvider interface {
	Complete(ctx context.Context, msgs []models.ChatMessage) (string, error)
}

// Synthesizer turns a reply into audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (tts.Audio, error)
}

// Player plays a clip and blocks until playback ends. Canceling ctx
// aborts playback.
type Player interface {
	Play(ctx context.Context, audio tts.Audio) error
}

// Summarizer condenses the finished interview.
type Summarizer interface {
	Summarize(ctx context.Context, msgs []models.ChatMessage) (summary.Result, error)
}

// Persister stores a finished interview in the background.
type Persister interface {
	Submit(a persistence.Agent)
}

// EventSink receives domain events.
type EventSink interface {
	PublishTurn(ctx context.Context, e models.TurnEvent) error
	PublishSummary(ctx context.Context, e models.SummaryEvent) error
}
