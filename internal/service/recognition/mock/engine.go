// Package mock provides a mock recognition engine for running without cloud
// credentials. It simulates interview answers with progressive interim
// results and exactly one final result per utterance.
package mock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"ai-interview-voice-service/internal/service/recognition"
)

// SimulatedUtterance represents a mock utterance with progressive transcripts.
type SimulatedUtterance struct {
	Partials   []string // Progressive interim transcripts
	Final      string
	Confidence float64
}

// DefaultUtterances provides sample interview answers.
var DefaultUtterances = []SimulatedUtterance{
	{
		Partials:   []string{"我叫", "我叫李明", "我叫李明，是一名"},
		Final:      "我叫李明，是一名产品经理",
		Confidence: 0.94,
	},
	{
		Partials:   []string{"我在", "我在互联网行业", "我在互联网行业工作了"},
		Final:      "我在互联网行业工作了八年",
		Confidence: 0.92,
	},
	{
		Partials:   []string{"最难忘的", "最难忘的是第一次", "最难忘的是第一次带团队"},
		Final:      "最难忘的是第一次带团队上线产品",
		Confidence: 0.9,
	},
	{
		Partials:   []string{"我的邮箱是"},
		Final:      "我的邮箱是 liming@example.com",
		Confidence: 0.88,
	},
	{
		Partials:   []string{"没有了", "没有了，谢谢"},
		Final:      "没有了，谢谢您",
		Confidence: 0.97,
	},
}

// Config controls the simulation timing.
type Config struct {
	Utterances []SimulatedUtterance
	// FragmentInterval is the delay between consecutive fragments.
	FragmentInterval time.Duration
	// Pause is the silence after each final result.
	Pause time.Duration
	// EndAfter makes the engine end itself after that many utterances.
	// Zero never ends.
	EndAfter int
}

// DefaultConfig pauses longer than the silence timeout after each answer.
func DefaultConfig() Config {
	return Config{
		Utterances:       DefaultUtterances,
		FragmentInterval: 300 * time.Millisecond,
		Pause:            6 * time.Second,
	}
}

// NewFactory returns a factory that cycles through cfg.Utterances across
// engines, so each restart continues where the previous engine stopped.
func NewFactory(cfg Config) recognition.Factory {
	if len(cfg.Utterances) == 0 {
		cfg.Utterances = DefaultUtterances
	}
	var counter atomic.Uint64
	return func() (recognition.Engine, error) {
		return &Engine{cfg: cfg, counter: &counter}, nil
	}
}

// Engine implements recognition.Engine with simulated results.
type Engine struct {
	cfg     Config
	counter *atomic.Uint64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Start confirms immediately and begins emitting fragments.
func (e *Engine) Start(ctx context.Context, opts recognition.Options, sink recognition.Sink) error {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	e.mu.Lock()
	e.cancel = cancel
	e.done = make(chan struct{})
	done := e.done
	e.mu.Unlock()

	sink.OnStart()
	go func() {
		defer close(done)
		e.run(runCtx, sink, opts.InterimResults)
	}()
	return nil
}

func (e *Engine) run(ctx context.Context, sink recognition.Sink, interim bool) {
	emitted := 0
	for {
		utt := e.next()
		if interim {
			for _, p := range utt.Partials {
				if !sleep(ctx, e.cfg.FragmentInterval) {
					return
				}
				sink.OnResult(recognition.Result{Transcript: p, Confidence: utt.Confidence, IsFinal: false})
			}
		}
		if !sleep(ctx, e.cfg.FragmentInterval) {
			return
		}
		sink.OnResult(recognition.Result{Transcript: utt.Final, Confidence: utt.Confidence, IsFinal: true})
		emitted++

		if e.cfg.EndAfter > 0 && emitted >= e.cfg.EndAfter {
			if sleep(ctx, e.cfg.FragmentInterval) {
				sink.OnEnd()
			}
			return
		}
		if !sleep(ctx, e.cfg.Pause) {
			return
		}
	}
}

func (e *Engine) next() SimulatedUtterance {
	idx := e.counter.Add(1) - 1
	return e.cfg.Utterances[idx%uint64(len(e.cfg.Utterances))]
}

// Stop ends the simulation.
func (e *Engine) Stop() error {
	return e.Abort()
}

// Abort ends the simulation.
func (e *Engine) Abort() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
	}
	return nil
}

// Done is closed when the simulation goroutine exits.
func (e *Engine) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
