package silence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"ai-interview-voice-service/internal/observability/metrics"
	"ai-interview-voice-service/internal/service/recognition"
	"ai-interview-voice-service/internal/service/recognition/recognitiontest"
)

type progressRecorder struct {
	mu       sync.Mutex
	waiting  bool
	progress float64
	maxSeen  float64
}

func (p *progressRecorder) SetWaitingToUpload(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.waiting = v
}

func (p *progressRecorder) SetSilenceProgress(v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.progress = v
	if v > p.maxSeen {
		p.maxSeen = v
	}
}

func (p *progressRecorder) get() (bool, float64, float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waiting, p.progress, p.maxSeen
}

type events struct {
	mu         sync.Mutex
	utterances []string
	starts     int
	errors     []error
	stops      []error
}

func (e *events) callbacks() Callbacks {
	return Callbacks{
		OnUtterance: func(s string) {
			e.mu.Lock()
			e.utterances = append(e.utterances, s)
			e.mu.Unlock()
		},
		OnStart: func() {
			e.mu.Lock()
			e.starts++
			e.mu.Unlock()
		},
		OnError: func(err error, _ bool) {
			e.mu.Lock()
			e.errors = append(e.errors, err)
			e.mu.Unlock()
		},
		OnStop: func(err error) {
			e.mu.Lock()
			e.stops = append(e.stops, err)
			e.mu.Unlock()
		},
	}
}

func (e *events) utteranceList() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string{}, e.utterances...)
}

func (e *events) counts() (starts, errs, stops int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.starts, len(e.errors), len(e.stops)
}

type harness struct {
	det      *Detector
	factory  *recognitiontest.Factory
	events   *events
	progress *progressRecorder
	metrics  *metrics.Metrics
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SilenceTimeout = 80 * time.Millisecond
	cfg.ProgressInterval = 10 * time.Millisecond
	cfg.ErrorRestartDelay = 20 * time.Millisecond
	cfg.EndRestartDelay = 10 * time.Millisecond
	return cfg
}

func newHarness(t *testing.T, f *recognitiontest.Factory) *harness {
	t.Helper()
	if f == nil {
		f = &recognitiontest.Factory{}
	}
	m := metrics.NewMetrics(prometheus.NewRegistry())
	session := recognition.NewSession(f.New, time.Second, m)
	h := &harness{
		factory:  f,
		events:   &events{},
		progress: &progressRecorder{},
		metrics:  m,
	}
	h.det = New(session, testConfig(), h.events.callbacks(), h.progress, m)
	t.Cleanup(func() { h.det.Abort() })
	return h
}

func (h *harness) start(t *testing.T) *recognitiontest.Engine {
	t.Helper()
	if err := h.det.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return h.factory.Last()
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestDetector_UtteranceAfterSilence(t *testing.T) {
	h := newHarness(t, nil)
	eng := h.start(t)

	eng.EmitResult("你好", false)

	waitFor(t, time.Second, func() bool { return len(h.events.utteranceList()) == 1 })
	if got := h.events.utteranceList()[0]; got != "你好" {
		t.Errorf("expected 你好, got %q", got)
	}

	waiting, progress, maxSeen := h.progress.get()
	if waiting || progress != 0 {
		t.Errorf("expected cleared countdown state, got waiting=%v progress=%v", waiting, progress)
	}
	if maxSeen <= 0 || maxSeen > 100 {
		t.Errorf("expected progress within (0, 100], saw %v", maxSeen)
	}
	if h.det.CurrentTranscript() != "" {
		t.Error("expected accumulator cleared after emission")
	}
}

func TestDetector_DebounceUsesLatestTranscript(t *testing.T) {
	h := newHarness(t, nil)
	eng := h.start(t)

	eng.EmitResult("我", false)
	time.Sleep(20 * time.Millisecond)
	eng.EmitResult("我想", false)

	waitFor(t, time.Second, func() bool { return len(h.events.utteranceList()) >= 1 })
	time.Sleep(150 * time.Millisecond)

	got := h.events.utteranceList()
	if len(got) != 1 || got[0] != "我想" {
		t.Fatalf("expected a single utterance 我想, got %v", got)
	}
	if n := testutil.ToFloat64(h.metrics.CountdownsStarted); n != 1 {
		t.Errorf("expected exactly one countdown, got %v", n)
	}
}

func TestDetector_OneUtterancePerBurst(t *testing.T) {
	h := newHarness(t, nil)
	eng := h.start(t)

	for _, frag := range []string{"我想", "我想说", "我想说一下", "我想说一下我的经历"} {
		eng.EmitResult(frag, false)
		time.Sleep(20 * time.Millisecond)
	}
	eng.EmitResult("我想说一下我的经历。", true)

	waitFor(t, time.Second, func() bool { return len(h.events.utteranceList()) >= 1 })
	time.Sleep(150 * time.Millisecond)

	got := h.events.utteranceList()
	if len(got) != 1 || got[0] != "我想说一下我的经历。" {
		t.Fatalf("expected one utterance with the latest transcript, got %v", got)
	}
}

func TestDetector_FinalsAreCommitted(t *testing.T) {
	h := newHarness(t, nil)
	eng := h.start(t)

	eng.EmitResult("我叫李明", true)
	eng.EmitResult("是产品", false)
	eng.EmitResult("是产品经理", true)

	waitFor(t, time.Second, func() bool { return len(h.events.utteranceList()) == 1 })
	if got := h.events.utteranceList()[0]; got != "我叫李明是产品经理" {
		t.Errorf("unexpected transcript %q", got)
	}
}

func TestDetector_ShortTranscriptNeverFires(t *testing.T) {
	h := newHarness(t, nil)
	eng := h.start(t)

	eng.EmitResult("嗯", true)
	time.Sleep(250 * time.Millisecond)

	if got := h.events.utteranceList(); len(got) != 0 {
		t.Fatalf("expected no utterance, got %v", got)
	}
	if h.det.IsWaitingForSilence() {
		t.Error("short fragments must not start a countdown")
	}
}

func TestDetector_ShortFragmentExtendsPendingUtterance(t *testing.T) {
	h := newHarness(t, nil)
	eng := h.start(t)

	eng.EmitResult("你好", true)
	time.Sleep(20 * time.Millisecond)
	eng.EmitResult("吗", true)

	waitFor(t, time.Second, func() bool { return len(h.events.utteranceList()) == 1 })
	time.Sleep(150 * time.Millisecond)

	if got := h.events.utteranceList(); len(got) != 1 || got[0] != "你好吗" {
		t.Fatalf("expected one utterance 你好吗, got %v", got)
	}
	if h.det.CurrentTranscript() != "" || h.det.IsWaitingForSilence() {
		t.Errorf("expected cleared state, transcript=%q waiting=%v",
			h.det.CurrentTranscript(), h.det.IsWaitingForSilence())
	}
}

func TestDetector_ShortRevisionDoesNotEmit(t *testing.T) {
	h := newHarness(t, nil)
	eng := h.start(t)

	eng.EmitResult("你好", false)
	// the recognizer revises its interim guess down to a single rune
	eng.EmitResult("你", false)

	time.Sleep(250 * time.Millisecond)

	if got := h.events.utteranceList(); len(got) != 0 {
		t.Fatalf("expected no utterance, got %v", got)
	}
	waiting, progress, _ := h.progress.get()
	if waiting || progress != 0 {
		t.Errorf("expected reset progress, got waiting=%v progress=%v", waiting, progress)
	}
}

func TestDetector_StaleCountdownWaitsForLatestTranscript(t *testing.T) {
	h := newHarness(t, nil)
	eng := h.start(t)

	eng.EmitResult("我是", true)

	// change the transcript behind the countdown's back, as a fragment
	// racing the timer would
	h.det.mu.Lock()
	h.det.acc.update("工程师", true, time.Now())
	h.det.mu.Unlock()

	waitFor(t, time.Second, func() bool { return len(h.events.utteranceList()) == 1 })
	time.Sleep(150 * time.Millisecond)

	if got := h.events.utteranceList(); len(got) != 1 || got[0] != "我是工程师" {
		t.Fatalf("expected the latest transcript once, got %v", got)
	}
}

func TestDetector_StartIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)
	h.start(t)

	if h.factory.Count() != 1 {
		t.Errorf("expected 1 engine, got %d", h.factory.Count())
	}
	if !h.det.IsListening() {
		t.Error("expected listening")
	}
}

func TestDetector_StartMintsEpoch(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)
	first := h.det.Epoch()

	h.det.Stop()
	h.start(t)

	if h.det.Epoch() <= first {
		t.Errorf("expected a newer epoch, got %d after %d", h.det.Epoch(), first)
	}
}

func TestDetector_LateEventAfterStopIgnored(t *testing.T) {
	h := newHarness(t, nil)
	eng := h.start(t)

	eng.EmitResult("你好", false)
	if err := h.det.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	eng.EmitResult("你好吗", false)
	time.Sleep(200 * time.Millisecond)

	if got := h.events.utteranceList(); len(got) != 0 {
		t.Fatalf("expected no utterance after stop, got %v", got)
	}
	if waiting, progress, _ := h.progress.get(); waiting || progress != 0 {
		t.Errorf("late events must not touch state, got waiting=%v progress=%v", waiting, progress)
	}
	if h.factory.Count() != 1 {
		t.Error("no restart expected after stop")
	}
}

func TestDetector_TransientErrorRestarts(t *testing.T) {
	h := newHarness(t, nil)
	eng := h.start(t)

	eng.EmitError(recognition.NewError(recognition.CodeNetwork, "reset"))

	waitFor(t, time.Second, func() bool { return h.factory.Count() == 2 && h.det.IsListening() })
	starts, errs, stops := h.events.counts()
	if starts != 2 || errs != 1 || stops != 0 {
		t.Errorf("unexpected callbacks: starts=%d errs=%d stops=%d", starts, errs, stops)
	}

	next := h.factory.Last()
	next.EmitResult("继续说", false)
	waitFor(t, time.Second, func() bool { return len(h.events.utteranceList()) == 1 })
}

func TestDetector_FatalErrorStops(t *testing.T) {
	h := newHarness(t, nil)
	eng := h.start(t)

	eng.EmitError(recognition.NewError(recognition.CodeNotAllowed, "denied"))

	waitFor(t, time.Second, func() bool { _, _, stops := h.events.counts(); return stops == 1 })
	time.Sleep(50 * time.Millisecond)

	if h.factory.Count() != 1 {
		t.Errorf("fatal errors must not restart, got %d engines", h.factory.Count())
	}
	if h.det.IsActive() {
		t.Error("expected detector inactive")
	}
}

func TestDetector_GivesUpAfterMaxRestarts(t *testing.T) {
	f := &recognitiontest.Factory{
		Configure: func(n int, e *recognitiontest.Engine) {
			if n > 0 {
				e.StartErr = recognition.NewError(recognition.CodeNetwork, "unavailable")
			}
		},
	}
	h := newHarness(t, f)
	eng := h.start(t)

	eng.EmitError(recognition.NewError(recognition.CodeNetwork, "reset"))

	waitFor(t, 2*time.Second, func() bool { _, _, stops := h.events.counts(); return stops == 1 })
	if got := f.Count(); got != 1+testConfig().MaxConsecutiveRestarts {
		t.Errorf("expected %d engines, got %d", 1+testConfig().MaxConsecutiveRestarts, got)
	}
}

func TestDetector_SelfEndRestarts(t *testing.T) {
	h := newHarness(t, nil)
	eng := h.start(t)

	eng.EmitEnd()

	waitFor(t, time.Second, func() bool { return h.factory.Count() == 2 && h.det.IsListening() })
	if _, errs, _ := h.events.counts(); errs != 0 {
		t.Error("self-end must not surface an error")
	}
}

func TestDetector_SelfEndDuringCountdown(t *testing.T) {
	h := newHarness(t, nil)
	eng := h.start(t)

	eng.EmitResult("我说完了", true)
	eng.EmitEnd()

	time.Sleep(20 * time.Millisecond)
	if h.factory.Count() != 1 {
		t.Fatal("restart must wait for the pending countdown")
	}

	waitFor(t, time.Second, func() bool { return len(h.events.utteranceList()) == 1 })
	waitFor(t, time.Second, func() bool { return h.factory.Count() == 2 })
}

func TestDetector_StopCancelsPendingRestart(t *testing.T) {
	h := newHarness(t, nil)
	eng := h.start(t)

	eng.EmitError(recognition.NewError(recognition.CodeNetwork, "reset"))
	h.det.Stop()
	time.Sleep(80 * time.Millisecond)

	if h.factory.Count() != 1 {
		t.Errorf("expected no restart after stop, got %d engines", h.factory.Count())
	}
}

func TestJoinTranscript(t *testing.T) {
	tests := []struct {
		a, b string
		want string
	}{
		{"", "你好", "你好"},
		{"你好", "", "你好"},
		{"你好", "世界", "你好世界"},
		{"hello", "world", "hello world"},
		{"我用Go", "写代码", "我用Go写代码"},
		{"你好。", "next", "你好。next"},
	}

	for _, tt := range tests {
		if got := joinTranscript(tt.a, tt.b); got != tt.want {
			t.Errorf("joinTranscript(%q, %q) = %q, want %q", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestEpochGenerator(t *testing.T) {
	g := NewEpochGenerator()
	a, b := g.Next(), g.Next()
	if a == 0 || b <= a {
		t.Errorf("expected increasing non-zero epochs, got %d then %d", a, b)
	}
}
