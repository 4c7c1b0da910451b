package recognition

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"ai-interview-voice-service/internal/observability/logging"
	"ai-interview-voice-service/internal/observability/metrics"
)

// DefaultStartTimeout bounds how long Start waits for engine confirmation.
const DefaultStartTimeout = 5 * time.Second

// Session owns at most one engine at a time.
//
// Every engine is bound to the session through a binding. Stop, Abort and
// runtime errors detach the binding before touching the engine, so events
// an engine emits after it was replaced never reach the handlers.
type Session struct {
	factory      Factory
	startTimeout time.Duration
	metrics      *metrics.Metrics
	log          zerolog.Logger

	mu        sync.Mutex
	binding   *binding
	listening bool
}

// NewSession creates a session. A nil m uses the default metrics.
func NewSession(factory Factory, startTimeout time.Duration, m *metrics.Metrics) *Session {
	if startTimeout <= 0 {
		startTimeout = DefaultStartTimeout
	}
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Session{
		factory:      factory,
		startTimeout: startTimeout,
		metrics:      m,
		log:          logging.WithComponent("recognition"),
	}
}

// Start creates a fresh engine and blocks until it confirms start.
// It returns nil without doing anything when already listening or starting.
// Errors reported before confirmation are returned, not sent to OnError.
func (s *Session) Start(ctx context.Context, h Handlers, opts Options) error {
	b := &binding{
		session:  s,
		handlers: h,
		started:  make(chan struct{}),
		startErr: make(chan error, 1),
		detached: make(chan struct{}),
	}

	s.mu.Lock()
	if s.binding != nil {
		s.mu.Unlock()
		return nil
	}
	s.binding = b
	s.mu.Unlock()

	eng, err := s.factory()
	if err != nil {
		s.release(b)
		return fmt.Errorf("create recognition engine: %w", err)
	}

	s.mu.Lock()
	if s.binding != b {
		s.mu.Unlock()
		_ = eng.Abort()
		return NewError(CodeAborted, "stopped while starting")
	}
	b.engine = eng
	s.mu.Unlock()

	opts.Continuous = true
	opts.InterimResults = true

	startCtx, cancel := context.WithTimeout(ctx, s.startTimeout)
	defer cancel()

	if err := eng.Start(startCtx, opts, b); err != nil {
		s.abortBinding(b)
		return err
	}

	select {
	case <-b.started:
		s.metrics.RecordRecognitionStart()
		s.log.Debug().Str("language", opts.Language).Msg("Recognition started")
		return nil
	case err := <-b.startErr:
		s.abortBinding(b)
		return err
	case <-b.detached:
		return NewError(CodeAborted, "stopped while starting")
	case <-startCtx.Done():
		s.abortBinding(b)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return NewError(CodeStartTimeout, fmt.Sprintf("engine did not start within %s", s.startTimeout))
	}
}

// Stop ends recognition gracefully.
func (s *Session) Stop() error {
	eng := s.detachCurrent()
	if eng == nil {
		return nil
	}
	return eng.Stop()
}

// Abort ends recognition immediately.
func (s *Session) Abort() error {
	eng := s.detachCurrent()
	if eng == nil {
		return nil
	}
	return eng.Abort()
}

// IsListening reports whether an engine confirmed start and is still bound.
func (s *Session) IsListening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listening
}

// WriteAudio forwards audio to the bound engine. Audio is dropped when no
// engine is bound or the engine does not take server-side audio.
func (s *Session) WriteAudio(ctx context.Context, audio []byte) error {
	w, ok := s.currentEngine().(AudioWriter)
	if !ok {
		return nil
	}
	return w.WriteAudio(ctx, audio)
}

// Relay forwards a client-side recognizer event to the bound engine.
func (s *Session) Relay(ev RelayEvent) {
	if r, ok := s.currentEngine().(Relayer); ok {
		r.Relay(ev)
	}
}

func (s *Session) currentEngine() Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.binding == nil {
		return nil
	}
	return s.binding.engine
}

func (s *Session) detachCurrent() Engine {
	s.mu.Lock()
	b := s.binding
	s.mu.Unlock()
	if b == nil {
		return nil
	}
	return s.release(b)
}

// release detaches b and, if it is still current, clears the session.
// It returns the engine that was bound.
func (s *Session) release(b *binding) Engine {
	b.detach()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.binding != b {
		return nil
	}
	eng := b.engine
	s.binding = nil
	s.listening = false
	return eng
}

func (s *Session) abortBinding(b *binding) {
	if eng := s.release(b); eng != nil {
		if err := eng.Abort(); err != nil {
			s.log.Debug().Err(err).Msg("Engine abort failed")
		}
	}
}

func (s *Session) markListening(b *binding) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.binding != b {
		return false
	}
	s.listening = true
	return true
}

// binding adapts one engine's events to the session handlers.
type binding struct {
	session  *Session
	handlers Handlers
	engine   Engine

	isDetached atomic.Bool
	detachOnce sync.Once
	detached   chan struct{}

	confirmed atomic.Bool
	started   chan struct{}
	startErr  chan error
}

func (b *binding) detach() {
	b.detachOnce.Do(func() {
		b.isDetached.Store(true)
		close(b.detached)
	})
}

func (b *binding) OnStart() {
	if b.isDetached.Load() || !b.confirmed.CompareAndSwap(false, true) {
		return
	}
	if !b.session.markListening(b) {
		return
	}
	close(b.started)
	if b.handlers.OnStart != nil {
		b.handlers.OnStart()
	}
}

func (b *binding) OnResult(r Result) {
	if b.isDetached.Load() {
		return
	}
	if b.handlers.OnResult != nil {
		b.handlers.OnResult(r)
	}
}

func (b *binding) OnError(err error) {
	if b.isDetached.Load() {
		return
	}
	if err == nil {
		err = NewError(CodeNetwork, "unknown engine error")
	}
	if !b.confirmed.Load() {
		b.failStart(err)
		return
	}

	s := b.session
	eng := s.release(b)
	if eng == nil {
		return
	}
	if aerr := eng.Abort(); aerr != nil {
		s.log.Debug().Err(aerr).Msg("Engine abort failed")
	}

	code := CodeOf(err)
	s.metrics.RecordRecognitionError(string(code))
	s.log.Warn().Err(err).Str("code", string(code)).Msg("Recognition error")

	if b.handlers.OnError != nil {
		b.handlers.OnError(err)
	}
}

func (b *binding) OnEnd() {
	if b.isDetached.Load() {
		return
	}
	if !b.confirmed.Load() {
		b.failStart(NewError(CodeAborted, "engine ended before start"))
		return
	}
	if b.session.release(b) == nil {
		return
	}
	b.session.log.Debug().Msg("Recognition ended by engine")
	if b.handlers.OnEnd != nil {
		b.handlers.OnEnd()
	}
}

func (b *binding) failStart(err error) {
	select {
	case b.startErr <- err:
	default:
	}
}
