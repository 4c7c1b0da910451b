// Package silence turns a continuous recognition stream into discrete
// utterances. An utterance ends after a fixed period without new speech.
package silence

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ai-interview-voice-service/internal/observability/logging"
	"ai-interview-voice-service/internal/observability/metrics"
	"ai-interview-voice-service/internal/service/recognition"
)

// Config controls countdown timing and restart behaviour.
type Config struct {
	SilenceTimeout         time.Duration
	ProgressInterval       time.Duration
	MinTranscriptLength    int
	ErrorRestartDelay      time.Duration
	EndRestartDelay        time.Duration
	MaxConsecutiveRestarts int
	Options                recognition.Options
}

// DefaultConfig returns the interview defaults.
func DefaultConfig() Config {
	return Config{
		SilenceTimeout:         4000 * time.Millisecond,
		ProgressInterval:       50 * time.Millisecond,
		MinTranscriptLength:    2,
		ErrorRestartDelay:      1000 * time.Millisecond,
		EndRestartDelay:        100 * time.Millisecond,
		MaxConsecutiveRestarts: 5,
		Options:                recognition.DefaultOptions(),
	}
}

// Callbacks are invoked without the detector lock held. Any field may be nil.
type Callbacks struct {
	OnUtterance func(transcript string)
	// OnStart runs on every confirmed start, including internal restarts.
	OnStart func()
	// OnError reports an engine error. recovering is true when a restart
	// has been scheduled.
	OnError func(err error, recovering bool)
	// OnStop reports that the detector gave up and is no longer active.
	OnStop func(err error)
}

// ProgressSink receives countdown state. It is called with the detector
// locked and must not call back into the detector.
type ProgressSink interface {
	SetWaitingToUpload(bool)
	SetSilenceProgress(float64)
}

type noopProgress struct{}

func (noopProgress) SetWaitingToUpload(bool)    {}
func (noopProgress) SetSilenceProgress(float64) {}

// countdown is one debounce timer plus its progress ticker.
type countdown struct {
	ctx      context.Context
	cancel   context.CancelFunc
	epoch    uint64
	snapshot string
}

// Detector wraps a recognition session with silence-based utterance
// detection and transparent restarts.
//
// Every listening attempt has an epoch and a context. Handlers capture the
// epoch they were created for and drop events once it is no longer current;
// all timers of an attempt are children of its context.
type Detector struct {
	cfg      Config
	session  *recognition.Session
	cb       Callbacks
	progress ProgressSink
	epochs   *EpochGenerator
	metrics  *metrics.Metrics
	log      zerolog.Logger
	now      func() time.Time

	mu            sync.Mutex
	active        bool
	epoch         uint64
	attemptCtx    context.Context
	cancelAttempt context.CancelFunc
	acc           accumulator
	waiting       bool
	countdown     *countdown
	endPending    bool
	restarts      int
}

// New creates a detector. progress and m may be nil.
func New(session *recognition.Session, cfg Config, cb Callbacks, progress ProgressSink, m *metrics.Metrics) *Detector {
	def := DefaultConfig()
	if cfg.SilenceTimeout <= 0 {
		cfg.SilenceTimeout = def.SilenceTimeout
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = def.ProgressInterval
	}
	if cfg.MinTranscriptLength <= 0 {
		cfg.MinTranscriptLength = def.MinTranscriptLength
	}
	if cfg.MaxConsecutiveRestarts <= 0 {
		cfg.MaxConsecutiveRestarts = def.MaxConsecutiveRestarts
	}
	if cfg.Options.Language == "" {
		cfg.Options = def.Options
	}
	if progress == nil {
		progress = noopProgress{}
	}
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Detector{
		cfg:      cfg,
		session:  session,
		cb:       cb,
		progress: progress,
		epochs:   NewEpochGenerator(),
		metrics:  m,
		log:      logging.WithComponent("silence"),
		now:      time.Now,
	}
}

// Start begins listening. It is a no-op when already active and listening;
// otherwise any previous attempt is cleaned up first.
func (d *Detector) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.active && d.session.IsListening() {
		d.mu.Unlock()
		return nil
	}
	d.active = true
	d.restarts = 0
	epoch := d.newAttemptLocked()
	d.mu.Unlock()

	_ = d.session.Abort()

	if err := d.startAttempt(ctx, epoch); err != nil {
		d.mu.Lock()
		if d.epoch == epoch {
			d.stopLocked()
		}
		d.mu.Unlock()
		l := logging.WithEpoch(d.log, epoch)
		l.Warn().Err(err).Msg("Failed to start listening")
		return err
	}
	return nil
}

// Stop ends listening and lets the engine flush.
func (d *Detector) Stop() error {
	d.mu.Lock()
	d.stopLocked()
	d.mu.Unlock()
	return d.session.Stop()
}

// Abort ends listening immediately.
func (d *Detector) Abort() error {
	d.mu.Lock()
	d.stopLocked()
	d.mu.Unlock()
	return d.session.Abort()
}

// IsListening reports whether the detector is active with a live engine.
func (d *Detector) IsListening() bool {
	d.mu.Lock()
	active := d.active
	d.mu.Unlock()
	return active && d.session.IsListening()
}

// IsActive reports whether the detector wants to listen, including while a
// restart is pending.
func (d *Detector) IsActive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

func (d *Detector) IsWaitingForSilence() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.waiting
}

func (d *Detector) CurrentTranscript() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.acc.text()
}

func (d *Detector) Epoch() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.epoch
}

// newAttemptLocked cancels every timer of the previous attempt, clears the
// utterance state and mints a new epoch.
func (d *Detector) newAttemptLocked() uint64 {
	if d.cancelAttempt != nil {
		d.cancelAttempt()
	}
	d.attemptCtx, d.cancelAttempt = context.WithCancel(context.Background())
	d.epoch = d.epochs.Next()
	d.clearCountdownLocked()
	d.endPending = false
	d.acc.reset()
	return d.epoch
}

func (d *Detector) stopLocked() {
	d.active = false
	if d.cancelAttempt != nil {
		d.cancelAttempt()
		d.cancelAttempt = nil
	}
	d.epoch = d.epochs.Next()
	d.clearCountdownLocked()
	d.endPending = false
	d.acc.reset()
}

func (d *Detector) clearCountdownLocked() {
	if d.countdown != nil {
		d.countdown.cancel()
		d.countdown = nil
	}
	d.waiting = false
	d.progress.SetWaitingToUpload(false)
	d.progress.SetSilenceProgress(0)
}

func (d *Detector) startAttempt(ctx context.Context, epoch uint64) error {
	return d.session.Start(ctx, recognition.Handlers{
		OnStart:  func() { d.handleStart(epoch) },
		OnResult: func(r recognition.Result) { d.handleResult(epoch, r) },
		OnError:  func(err error) { d.handleError(epoch, err) },
		OnEnd:    func() { d.handleEnd(epoch) },
	}, d.cfg.Options)
}

func (d *Detector) current(epoch uint64) bool {
	return d.active && d.epoch == epoch
}

func (d *Detector) handleStart(epoch uint64) {
	d.mu.Lock()
	if !d.current(epoch) {
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()

	l := logging.WithEpoch(d.log, epoch)
	l.Debug().Msg("Listening")
	if d.cb.OnStart != nil {
		d.cb.OnStart()
	}
}

func (d *Detector) handleResult(epoch uint64, r recognition.Result) {
	text := strings.TrimSpace(r.Transcript)
	if text == "" {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.current(epoch) {
		return
	}
	d.restarts = 0
	d.acc.update(text, r.IsFinal, d.now())

	// short fragments only extend an utterance whose countdown is running
	if runeLen(text) < d.cfg.MinTranscriptLength && d.countdown == nil {
		return
	}
	d.startCountdownLocked(d.acc.text())
}

// startCountdownLocked replaces any running countdown. This is a debounce:
// the countdown restarts from zero on every qualifying fragment.
func (d *Detector) startCountdownLocked(snapshot string) {
	if d.countdown != nil {
		d.countdown.cancel()
	}
	ctx, cancel := context.WithCancel(d.attemptCtx)
	c := &countdown{ctx: ctx, cancel: cancel, epoch: d.epoch, snapshot: snapshot}
	d.countdown = c
	d.waiting = true
	d.progress.SetWaitingToUpload(true)
	d.progress.SetSilenceProgress(0)
	d.metrics.RecordCountdown()

	go d.runCountdown(c)
}

func (d *Detector) runCountdown(c *countdown) {
	total := d.cfg.SilenceTimeout
	start := time.Now()
	timer := time.NewTimer(total)
	defer timer.Stop()
	ticker := time.NewTicker(d.cfg.ProgressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			p := float64(time.Since(start)) / float64(total) * 100
			if p > 100 {
				p = 100
			}
			d.mu.Lock()
			if d.countdown == c && c.ctx.Err() == nil {
				d.progress.SetSilenceProgress(p)
			}
			d.mu.Unlock()
		case <-timer.C:
			d.fire(c)
			return
		}
	}
}

// fire validates an elapsed countdown and emits the utterance.
func (d *Detector) fire(c *countdown) {
	d.mu.Lock()
	if d.countdown != c || c.ctx.Err() != nil {
		// superseded by a newer fragment or canceled
		d.mu.Unlock()
		return
	}
	transcript := d.acc.text()
	if d.current(c.epoch) && c.snapshot != transcript && runeLen(transcript) >= d.cfg.MinTranscriptLength {
		// the transcript moved on since this countdown began; wait again
		d.startCountdownLocked(transcript)
		d.mu.Unlock()
		return
	}
	d.countdown = nil
	c.cancel()

	valid := d.current(c.epoch) && d.waiting && c.snapshot == transcript
	d.waiting = false
	d.progress.SetWaitingToUpload(false)
	d.progress.SetSilenceProgress(0)

	emit := valid && runeLen(transcript) >= d.cfg.MinTranscriptLength
	if emit {
		d.acc.reset()
	}
	restart := d.endPending && d.active
	d.endPending = false
	epoch := d.epoch
	d.mu.Unlock()

	l := logging.WithEpoch(d.log, epoch)
	if emit {
		l.Info().Int("runes", runeLen(transcript)).Msg("Utterance complete")
		d.metrics.RecordUtterance()
		if d.cb.OnUtterance != nil {
			d.cb.OnUtterance(transcript)
		}
	} else {
		l.Debug().Str("snapshot", c.snapshot).Str("current", transcript).Msg("Discarding stale countdown")
		d.metrics.RecordUtteranceDropped("stale")
	}

	if restart {
		d.scheduleRestart(epoch, d.cfg.EndRestartDelay, "end")
	}
}

func (d *Detector) handleError(epoch uint64, err error) {
	d.mu.Lock()
	if !d.current(epoch) {
		d.mu.Unlock()
		return
	}
	d.clearCountdownLocked()
	d.endPending = false

	l := logging.WithEpoch(d.log, epoch)
	code := recognition.CodeOf(err)
	if code != recognition.CodeNoSpeech {
		d.restarts++
	}

	if recognition.IsFatal(err) || d.restarts > d.cfg.MaxConsecutiveRestarts {
		d.stopLocked()
		d.mu.Unlock()
		l.Error().Err(err).Str("code", string(code)).Msg("Listening stopped")
		if d.cb.OnStop != nil {
			d.cb.OnStop(err)
		}
		return
	}
	d.mu.Unlock()

	l.Warn().Err(err).Str("code", string(code)).Msg("Recognition error, restarting")
	if d.cb.OnError != nil {
		d.cb.OnError(err, true)
	}
	d.scheduleRestart(epoch, d.cfg.ErrorRestartDelay, "error")
}

func (d *Detector) handleEnd(epoch uint64) {
	d.mu.Lock()
	if !d.current(epoch) {
		d.mu.Unlock()
		return
	}
	if d.countdown != nil {
		// let the pending countdown resolve first
		d.endPending = true
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()

	d.scheduleRestart(epoch, d.cfg.EndRestartDelay, "end")
}

// scheduleRestart starts a new attempt after delay, unless the attempt that
// requested it is no longer current by then.
func (d *Detector) scheduleRestart(epoch uint64, delay time.Duration, reason string) {
	d.mu.Lock()
	if !d.current(epoch) {
		d.mu.Unlock()
		return
	}
	waitCtx := d.attemptCtx
	d.mu.Unlock()

	go func() {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-waitCtx.Done():
			return
		case <-t.C:
		}

		d.mu.Lock()
		if !d.current(epoch) {
			d.mu.Unlock()
			return
		}
		next := d.newAttemptLocked()
		startCtx := d.attemptCtx
		d.mu.Unlock()

		d.metrics.RecordRecognitionRestart(reason)
		l := logging.WithEpoch(d.log, next)
		l.Debug().Str("reason", reason).Msg("Restarting recognition")

		_ = d.session.Abort()
		if err := d.startAttempt(startCtx, next); err != nil {
			d.handleError(next, err)
		}
	}()
}
