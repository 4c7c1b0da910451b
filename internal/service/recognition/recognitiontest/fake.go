// Package recognitiontest provides a scriptable recognition engine for tests.
package recognitiontest

import (
	"context"
	"sync"

	"ai-interview-voice-service/internal/service/recognition"
)

// Engine is a fake recognition engine. Tests drive it with the Emit methods.
type Engine struct {
	// ManualStart disables the automatic OnStart call in Start.
	ManualStart bool
	// StartErr is returned from Start when set.
	StartErr error

	mu      sync.Mutex
	sink    recognition.Sink
	opts    recognition.Options
	stopped bool
	aborted bool
	audio   [][]byte
	relayed []recognition.RelayEvent
}

func (e *Engine) Start(ctx context.Context, opts recognition.Options, sink recognition.Sink) error {
	if e.StartErr != nil {
		return e.StartErr
	}
	e.mu.Lock()
	e.sink = sink
	e.opts = opts
	e.mu.Unlock()
	if !e.ManualStart {
		sink.OnStart()
	}
	return nil
}

func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopped = true
	return nil
}

func (e *Engine) Abort() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.aborted = true
	return nil
}

func (e *Engine) WriteAudio(ctx context.Context, audio []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.audio = append(e.audio, audio)
	return nil
}

func (e *Engine) Relay(ev recognition.RelayEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.relayed = append(e.relayed, ev)
}

func (e *Engine) currentSink() recognition.Sink {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sink
}

// EmitStart confirms start when ManualStart is set.
func (e *Engine) EmitStart() {
	if s := e.currentSink(); s != nil {
		s.OnStart()
	}
}

// EmitResult delivers a fragment.
func (e *Engine) EmitResult(text string, final bool) {
	if s := e.currentSink(); s != nil {
		s.OnResult(recognition.Result{Transcript: text, Confidence: 0.9, IsFinal: final})
	}
}

// EmitError delivers an error.
func (e *Engine) EmitError(err error) {
	if s := e.currentSink(); s != nil {
		s.OnError(err)
	}
}

// EmitEnd reports that the engine ended on its own.
func (e *Engine) EmitEnd() {
	if s := e.currentSink(); s != nil {
		s.OnEnd()
	}
}

// Bound reports whether Start has handed the engine a sink.
func (e *Engine) Bound() bool {
	return e.currentSink() != nil
}

func (e *Engine) Options() recognition.Options {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opts
}

func (e *Engine) Stopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopped
}

func (e *Engine) Aborted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.aborted
}

func (e *Engine) Audio() [][]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([][]byte(nil), e.audio...)
}

func (e *Engine) Relayed() []recognition.RelayEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]recognition.RelayEvent(nil), e.relayed...)
}

// Factory records every engine it creates.
type Factory struct {
	// Configure is applied to each new engine before it is returned.
	Configure func(n int, e *Engine)
	// Err makes New fail.
	Err error

	mu      sync.Mutex
	engines []*Engine
}

// New implements recognition.Factory.
func (f *Factory) New() (recognition.Engine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	e := &Engine{}
	if f.Configure != nil {
		f.Configure(len(f.engines), e)
	}
	f.engines = append(f.engines, e)
	return e, nil
}

// Count returns how many engines were created.
func (f *Factory) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.engines)
}

// Last returns the most recent engine, or nil.
func (f *Factory) Last() *Engine {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.engines) == 0 {
		return nil
	}
	return f.engines[len(f.engines)-1]
}

// Engine returns the i-th created engine.
func (f *Factory) Engine(i int) *Engine {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.engines[i]
}
