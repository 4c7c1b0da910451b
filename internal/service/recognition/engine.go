// Package recognition wraps a speech recognition engine behind a session
// that owns exactly one engine instance per listening attempt.
package recognition

import "context"

// Result is one recognition fragment.
type Result struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
	IsFinal    bool    `json:"isFinal"`
}

// Options configure a recognition attempt.
type Options struct {
	Language        string
	Continuous      bool
	InterimResults  bool
	MaxAlternatives int
}

// DefaultOptions returns the options used for interviews.
func DefaultOptions() Options {
	return Options{
		Language:        "zh-CN",
		Continuous:      true,
		InterimResults:  true,
		MaxAlternatives: 1,
	}
}

// Sink receives engine events.
type Sink interface {
	OnStart()
	OnResult(Result)
	OnError(err error)
	OnEnd()
}

// Engine is a single-use recognizer. A new one is created for every start.
//
// ctx passed to Start only bounds the start handshake; the engine must keep
// running after it is canceled until Stop or Abort is called.
type Engine interface {
	Start(ctx context.Context, opts Options, sink Sink) error
	// Stop ends recognition and lets pending results flush.
	Stop() error
	// Abort ends recognition and discards pending results.
	Abort() error
}

// Factory produces a fresh engine.
type Factory func() (Engine, error)

// AudioWriter is implemented by engines that receive audio from the server.
type AudioWriter interface {
	WriteAudio(ctx context.Context, audio []byte) error
}

// RelayEventType enumerates events a browser-side recognizer sends back.
type RelayEventType string

const (
	RelayStart  RelayEventType = "start"
	RelayResult RelayEventType = "result"
	RelayError  RelayEventType = "error"
	RelayEnd    RelayEventType = "end"
)

// RelayEvent is an event reported by a recognizer running in the client.
type RelayEvent struct {
	InstanceID string         `json:"instanceId"`
	Type       RelayEventType `json:"type"`
	Result     *Result        `json:"result,omitempty"`
	Code       Code           `json:"code,omitempty"`
	Message    string         `json:"message,omitempty"`
}

// Relayer is implemented by engines driven by a remote client.
type Relayer interface {
	Relay(ev RelayEvent)
}

// Handlers are the session owner's callbacks. Any field may be nil.
type Handlers struct {
	OnStart  func()
	OnResult func(Result)
	OnError  func(err error)
	OnEnd    func()
}
