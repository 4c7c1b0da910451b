// Package relay drives a recognizer that runs inside the client, such as the
// browser Web Speech API, over the client's WebSocket.
package relay

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ai-interview-voice-service/internal/observability/logging"
	"ai-interview-voice-service/internal/service/recognition"
)

// Command types sent to the client.
const (
	CommandStart = "recognition.start"
	CommandStop  = "recognition.stop"
	CommandAbort = "recognition.abort"
)

const commandTimeout = 2 * time.Second

// Command instructs the client-side recognizer.
type Command struct {
	Type           string `json:"type"`
	InstanceID     string `json:"instanceId"`
	Language       string `json:"language,omitempty"`
	Continuous     bool   `json:"continuous,omitempty"`
	InterimResults bool   `json:"interimResults,omitempty"`
}

// Sender delivers commands to the client.
type Sender interface {
	SendCommand(ctx context.Context, cmd Command) error
}

// NewFactory returns a factory whose engines talk through sender.
func NewFactory(sender Sender) recognition.Factory {
	return func() (recognition.Engine, error) {
		return New(sender), nil
	}
}

// Engine is one client-side recognizer instance, identified by a fresh id.
type Engine struct {
	id     string
	sender Sender
	log    zerolog.Logger

	mu   sync.Mutex
	sink recognition.Sink
	done bool
}

// New creates an engine with a new instance id.
func New(sender Sender) *Engine {
	id := uuid.NewString()
	return &Engine{
		id:     id,
		sender: sender,
		log:    logging.WithProvider("recognition", "relay").With().Str("instanceId", id).Logger(),
	}
}

// InstanceID identifies this engine in client events.
func (e *Engine) InstanceID() string {
	return e.id
}

// Start asks the client to start. Confirmation arrives later as a start event.
func (e *Engine) Start(ctx context.Context, opts recognition.Options, sink recognition.Sink) error {
	e.mu.Lock()
	e.sink = sink
	e.mu.Unlock()

	err := e.sender.SendCommand(ctx, Command{
		Type:           CommandStart,
		InstanceID:     e.id,
		Language:       opts.Language,
		Continuous:     opts.Continuous,
		InterimResults: opts.InterimResults,
	})
	if err != nil {
		return recognition.NewError(recognition.CodeNetwork, err.Error())
	}
	return nil
}

func (e *Engine) Stop() error {
	return e.finish(CommandStop)
}

func (e *Engine) Abort() error {
	return e.finish(CommandAbort)
}

func (e *Engine) finish(cmdType string) error {
	e.mu.Lock()
	if e.done {
		e.mu.Unlock()
		return nil
	}
	e.done = true
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	return e.sender.SendCommand(ctx, Command{Type: cmdType, InstanceID: e.id})
}

// Relay dispatches a client event. Events for other instances are discarded.
func (e *Engine) Relay(ev recognition.RelayEvent) {
	if ev.InstanceID != e.id {
		e.log.Debug().Str("foreignId", ev.InstanceID).Msg("Discarding event for another recognizer")
		return
	}

	e.mu.Lock()
	sink := e.sink
	e.mu.Unlock()
	if sink == nil {
		return
	}

	switch ev.Type {
	case recognition.RelayStart:
		sink.OnStart()
	case recognition.RelayResult:
		if ev.Result != nil {
			sink.OnResult(*ev.Result)
		}
	case recognition.RelayError:
		code := ev.Code
		if code == "" {
			code = recognition.CodeNetwork
		}
		sink.OnError(recognition.NewError(code, ev.Message))
	case recognition.RelayEnd:
		sink.OnEnd()
	default:
		e.log.Warn().Str("type", string(ev.Type)).Msg("Unknown recognizer event")
	}
}
