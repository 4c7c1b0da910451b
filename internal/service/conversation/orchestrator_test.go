package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"ai-interview-voice-service/internal/models"
	"ai-interview-voice-service/internal/observability/metrics"
	"ai-interview-voice-service/internal/service/persistence"
	"ai-interview-voice-service/internal/service/recognition"
	"ai-interview-voice-service/internal/service/recognition/recognitiontest"
	"ai-interview-voice-service/internal/service/summary"
	"ai-interview-voice-service/internal/service/tts"
	"ai-interview-voice-service/internal/service/turn"
	"ai-interview-voice-service/internal/state"
	"ai-interview-voice-service/internal/userinfo"
)

type fakeChat struct {
	mu      sync.Mutex
	replies []string
	err     error
	block   chan struct{}
	calls   [][]models.ChatMessage
}

func (f *fakeChat) Complete(ctx context.Context, msgs []models.ChatMessage) (string, error) {
	f.mu.Lock()
	i := len(f.calls)
	f.calls = append(f.calls, append([]models.ChatMessage(nil), msgs...))
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.err != nil {
		return "", f.err
	}
	if i < len(f.replies) {
		return f.replies[i], nil
	}
	return "好的。", nil
}

func (f *fakeChat) callList() [][]models.ChatMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]models.ChatMessage(nil), f.calls...)
}

type fakeSynth struct {
	mu    sync.Mutex
	err   error
	texts []string
}

func (f *fakeSynth) Synthesize(_ context.Context, text string) (tts.Audio, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	if f.err != nil {
		return tts.Audio{}, f.err
	}
	return tts.Audio{Data: []byte("mp3"), MIMEType: "audio/mpeg"}, nil
}

type fakePlayer struct {
	mu    sync.Mutex
	plays int
	hold  bool
}

func (f *fakePlayer) Play(ctx context.Context, _ tts.Audio) error {
	f.mu.Lock()
	f.plays++
	hold := f.hold
	f.mu.Unlock()
	if hold {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (f *fakePlayer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.plays
}

type fakeSummarizer struct {
	res summary.Result
	err error
}

func (f *fakeSummarizer) Summarize(_ context.Context, msgs []models.ChatMessage) (summary.Result, error) {
	if f.err != nil {
		return summary.Result{}, f.err
	}
	r := f.res
	r.MessageCount = len(msgs)
	return r, nil
}

type fakePersister struct {
	mu     sync.Mutex
	agents []persistence.Agent
}

func (f *fakePersister) Submit(a persistence.Agent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.agents = append(f.agents, a)
}

func (f *fakePersister) list() []persistence.Agent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]persistence.Agent(nil), f.agents...)
}

type fakeEvents struct {
	mu        sync.Mutex
	turns     []models.TurnEvent
	summaries []models.SummaryEvent
}

func (f *fakeEvents) PublishTurn(_ context.Context, e models.TurnEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.turns = append(f.turns, e)
	return nil
}

func (f *fakeEvents) PublishSummary(_ context.Context, e models.SummaryEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries = append(f.summaries, e)
	return nil
}

func (f *fakeEvents) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.turns), len(f.summaries)
}

type harness struct {
	o         *Orchestrator
	store     *state.Store
	factory   *recognitiontest.Factory
	chat      *fakeChat
	synth     *fakeSynth
	player    *fakePlayer
	summ      *fakeSummarizer
	persister *fakePersister
	events    *fakeEvents
	metrics   *metrics.Metrics
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ResumeCooldown = 20 * time.Millisecond
	cfg.EndMarkerDelay = 20 * time.Millisecond
	cfg.MicResumeDelay = 20 * time.Millisecond
	cfg.Reveal = RevealConfig{Interval: time.Millisecond, MinInterval: time.Millisecond, LongText: 200}
	cfg.Silence.SilenceTimeout = 60 * time.Millisecond
	cfg.Silence.ProgressInterval = 10 * time.Millisecond
	cfg.Silence.ErrorRestartDelay = 20 * time.Millisecond
	cfg.Silence.EndRestartDelay = 10 * time.Millisecond
	return cfg
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	m := metrics.NewMetrics(prometheus.NewRegistry())
	h := &harness{
		store:     state.New("zh-CN"),
		factory:   &recognitiontest.Factory{},
		chat:      &fakeChat{},
		synth:     &fakeSynth{},
		player:    &fakePlayer{},
		summ:      &fakeSummarizer{res: summary.Result{Summary: "李明是一名产品经理。", Tags: []string{"产品经理"}}},
		persister: &fakePersister{},
		events:    &fakeEvents{},
		metrics:   m,
	}
	o, err := New(testConfig(), Deps{
		Store:       h.store,
		Session:     recognition.NewSession(h.factory.New, time.Second, m),
		Chat:        h.chat,
		Synthesizer: h.synth,
		Player:      h.player,
		Summarizer:  h.summ,
		Persister:   h.persister,
		Events:      h.events,
		Metrics:     m,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.o = o
	t.Cleanup(o.Close)
	return h
}

func (h *harness) start(t *testing.T) *recognitiontest.Engine {
	t.Helper()
	if err := h.o.StartConversation(context.Background()); err != nil {
		t.Fatalf("StartConversation: %v", err)
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

func TestNew_RequiresCollaborators(t *testing.T) {
	if _, err := New(DefaultConfig(), Deps{}); err == nil {
		t.Fatal("expected error for missing deps")
	}
}

func TestStartConversation(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	f := h.store.Flags()
	if !f.CallActive || !f.Recording {
		t.Errorf("expected active recording call, got %+v", f)
	}
	if h.store.ConversationID() == "" {
		t.Error("expected a conversation id")
	}
	if h.o.Phase() != turn.PhaseListening {
		t.Errorf("phase = %s, want LISTENING", h.o.Phase())
	}
	if n := testutil.ToFloat64(h.metrics.ConversationsTotal); n != 1 {
		t.Errorf("expected 1 conversation started, got %v", n)
	}
}

func TestStartConversation_MicrophoneDisabled(t *testing.T) {
	h := newHarness(t)
	h.store.SetMicrophoneEnabled(false)

	if err := h.o.StartConversation(context.Background()); !errors.Is(err, ErrMicrophoneDisabled) {
		t.Fatalf("expected ErrMicrophoneDisabled, got %v", err)
	}
	if h.factory.Count() != 0 {
		t.Error("expected no recognition engine")
	}
}

func TestStartConversation_RecognitionFailure(t *testing.T) {
	h := newHarness(t)
	h.factory.Err = errors.New("no engine")

	if err := h.o.StartConversation(context.Background()); err == nil {
		t.Fatal("expected start error")
	}
	if h.store.Snapshot().Error == "" {
		t.Error("expected a user-facing error")
	}
	if h.o.Phase() != turn.PhaseIdle {
		t.Errorf("phase = %s, want IDLE", h.o.Phase())
	}
}

func TestTurn_RoundTrip(t *testing.T) {
	h := newHarness(t)
	h.chat.replies = []string{"请介绍一下你自己。"}
	eng := h.start(t)

	eng.EmitResult("你好", false)

	waitFor(t, 2*time.Second, func() bool { return len(h.store.Messages()) == 2 })
	msgs := h.store.Messages()
	if msgs[0].Role != state.RoleUser || msgs[0].Content != "你好" {
		t.Errorf("unexpected user message %+v", msgs[0])
	}
	if msgs[1].Role != state.RoleAssistant || msgs[1].Content != "请介绍一下你自己。" {
		t.Errorf("unexpected assistant message %+v", msgs[1])
	}

	calls := h.chat.callList()
	if len(calls) != 1 || len(calls[0]) != 1 || calls[0][0].Content != "你好" {
		t.Fatalf("unexpected chat calls %+v", calls)
	}
	if !eng.Stopped() {
		t.Error("expected recognition stopped before playback")
	}
	if h.player.count() != 1 {
		t.Errorf("expected one playback, got %d", h.player.count())
	}

	// listening resumes with a fresh engine after the cooldown
	waitFor(t, 2*time.Second, func() bool {
		return h.factory.Count() == 2 && h.o.Phase() == turn.PhaseListening
	})
	f := h.store.Flags()
	if f.Processing || f.Speaking || !f.Recording {
		t.Errorf("unexpected flags after resume %+v", f)
	}
	if h.o.IsProcessing() {
		t.Error("expected turn flag released")
	}
	waitFor(t, time.Second, func() bool { n, _ := h.events.counts(); return n == 2 })
}

func TestTurn_HistoryExcludesCurrentUtterance(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	if err := h.o.SendText("第一句"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return !h.o.IsProcessing() && len(h.store.Messages()) == 2 })
	if err := h.o.SendText("第二句"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return len(h.chat.callList()) == 2 })

	second := h.chat.callList()[1]
	if len(second) != 3 {
		t.Fatalf("expected 2 history messages plus the new one, got %+v", second)
	}
	if second[2].Role != models.RoleUser || second[2].Content != "第二句" {
		t.Errorf("unexpected last message %+v", second[2])
	}
}

func TestTurn_DropsUtteranceWhileProcessing(t *testing.T) {
	h := newHarness(t)
	h.chat.block = make(chan struct{})
	eng := h.start(t)

	eng.EmitResult("第一个问题", false)
	waitFor(t, time.Second, func() bool { return len(h.chat.callList()) == 1 })

	if err := h.o.SendText("打断"); !errors.Is(err, ErrTurnInProgress) {
		t.Errorf("expected ErrTurnInProgress, got %v", err)
	}

	eng.EmitResult("第二个问题", false)
	waitFor(t, time.Second, func() bool {
		return testutil.ToFloat64(h.metrics.UtterancesDropped.WithLabelValues("busy")) == 1
	})

	close(h.chat.block)
	waitFor(t, 2*time.Second, func() bool { return !h.o.IsProcessing() })
	if n := len(h.chat.callList()); n != 1 {
		t.Errorf("expected a single chat call, got %d", n)
	}
}

func TestTurn_ChatErrorResumesListening(t *testing.T) {
	h := newHarness(t)
	h.chat.err = errors.New("network error")
	eng := h.start(t)

	eng.EmitResult("你好", false)

	waitFor(t, 2*time.Second, func() bool { return h.store.Snapshot().Error != "" })
	waitFor(t, 2*time.Second, func() bool {
		return h.o.Phase() == turn.PhaseListening && h.store.Flags().Recording
	})
	if msgs := h.store.Messages(); len(msgs) != 1 {
		t.Errorf("expected only the user message, got %+v", msgs)
	}
}

func TestTurn_SpeechFailureStillRevealsText(t *testing.T) {
	h := newHarness(t)
	h.synth.err = errors.New("TTS API error")
	h.chat.replies = []string{"你好，欢迎。"}
	h.start(t)

	if err := h.o.SendText("开始"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return len(h.store.Messages()) == 2 })

	if got := h.store.Messages()[1].Content; got != "你好，欢迎。" {
		t.Errorf("assistant message = %q", got)
	}
	if h.store.Snapshot().Error == "" {
		t.Error("expected speech failure to be reported")
	}
	if h.player.count() != 0 {
		t.Error("expected no playback")
	}
}

func TestTurn_EndMarkerProducesSummary(t *testing.T) {
	h := newHarness(t)
	h.chat.replies = []string{"感谢你的分享，采访到此结束。</end>"}
	h.o.SetIdentity(userinfo.Info{Name: "李明", Email: "li@example.com"})
	h.start(t)

	if err := h.o.SendText("我讲完了"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	waitFor(t, 3*time.Second, func() bool { return h.o.Phase() == turn.PhaseEnded })

	msgs := h.store.Messages()
	if len(msgs) != 3 {
		t.Fatalf("expected user, reply and summary, got %+v", msgs)
	}
	if strings.Contains(msgs[1].Content, "</end>") {
		t.Errorf("end marker leaked into %q", msgs[1].Content)
	}
	if want := DefaultConfig().SummaryHeading + "李明是一名产品经理。"; msgs[2].Content != want {
		t.Errorf("summary message = %q, want %q", msgs[2].Content, want)
	}

	f := h.store.Flags()
	if f.CallActive || f.Processing || f.Recording {
		t.Errorf("expected conversation ended, got %+v", f)
	}
	if h.store.ConversationID() != "" {
		t.Error("expected conversation id cleared")
	}

	agents := h.persister.list()
	if len(agents) != 1 || agents[0].Email != "li@example.com" || agents[0].Bg != "李明是一名产品经理。" {
		t.Errorf("unexpected persisted agents %+v", agents)
	}
	waitFor(t, time.Second, func() bool { _, n := h.events.counts(); return n == 1 })
	if n := testutil.ToFloat64(h.metrics.ConversationsEnded.WithLabelValues("completed")); n != 1 {
		t.Errorf("expected completed conversation metric, got %v", n)
	}
}

func TestTurn_SummaryWithoutIdentityIsNotPersisted(t *testing.T) {
	h := newHarness(t)
	h.chat.replies = []string{"再见</end>"}
	h.start(t)

	_ = h.o.SendText("结束")
	waitFor(t, 3*time.Second, func() bool { return h.o.Phase() == turn.PhaseEnded })
	if n := len(h.persister.list()); n != 0 {
		t.Errorf("expected nothing persisted, got %d", n)
	}
}

func TestTurn_SummaryFailure(t *testing.T) {
	h := newHarness(t)
	h.chat.replies = []string{"再见</end>"}
	h.summ.err = errors.New("summary API error: timeout")
	h.start(t)

	_ = h.o.SendText("结束")
	waitFor(t, 3*time.Second, func() bool { return h.o.Phase() == turn.PhaseIdle && !h.o.IsProcessing() })

	if msg := h.store.Snapshot().Error; !strings.HasPrefix(msg, summaryFailedPrefix) {
		t.Errorf("unexpected error %q", msg)
	}
	if f := h.store.Flags(); f.Processing {
		t.Error("expected processing cleared")
	}
}

func TestSendText_Empty(t *testing.T) {
	h := newHarness(t)
	if err := h.o.SendText("   "); !errors.Is(err, ErrEmptyText) {
		t.Errorf("expected ErrEmptyText, got %v", err)
	}
}

func TestEndConversation_AbortsPlayback(t *testing.T) {
	h := newHarness(t)
	h.player.hold = true
	h.chat.replies = []string{"这是一个很长的回答。"}
	h.start(t)

	_ = h.o.SendText("问题")
	waitFor(t, 2*time.Second, func() bool { return h.player.count() == 1 })

	h.o.EndConversation()
	waitFor(t, 2*time.Second, func() bool { return !h.o.IsProcessing() })

	f := h.store.Flags()
	if f.CallActive || f.Speaking || f.Recording {
		t.Errorf("unexpected flags %+v", f)
	}
	if h.store.HasStreamingMessage() {
		t.Error("expected streaming message cleared")
	}
	if h.o.Phase() != turn.PhaseIdle {
		t.Errorf("phase = %s, want IDLE", h.o.Phase())
	}
	time.Sleep(60 * time.Millisecond)
	if h.factory.Count() != 1 {
		t.Errorf("expected no resume after end, got %d engines", h.factory.Count())
	}
}

func TestToggleMicrophone(t *testing.T) {
	h := newHarness(t)
	eng := h.start(t)

	if h.o.ToggleMicrophone() {
		t.Fatal("expected microphone disabled")
	}
	if !eng.Stopped() {
		t.Error("expected recognition stopped")
	}
	if h.store.Flags().Recording || h.o.Phase() != turn.PhaseIdle {
		t.Errorf("expected idle without recording, got %+v / %s", h.store.Flags(), h.o.Phase())
	}

	if !h.o.ToggleMicrophone() {
		t.Fatal("expected microphone enabled")
	}
	waitFor(t, time.Second, func() bool {
		return h.factory.Count() == 2 && h.store.Flags().Recording
	})
}

func TestToggleMicrophone_NoCallDoesNotListen(t *testing.T) {
	h := newHarness(t)
	h.o.ToggleMicrophone()
	h.o.ToggleMicrophone()

	time.Sleep(60 * time.Millisecond)
	if h.factory.Count() != 0 {
		t.Errorf("expected no engine without a call, got %d", h.factory.Count())
	}
}

func TestStopListening(t *testing.T) {
	h := newHarness(t)
	eng := h.start(t)

	h.o.StopListening()
	if !eng.Stopped() {
		t.Error("expected recognition stopped")
	}
	f := h.store.Flags()
	if f.Recording || f.Processing || f.Speaking || f.WaitingToUpload {
		t.Errorf("unexpected flags %+v", f)
	}
	if !f.CallActive {
		t.Error("expected the call to stay active")
	}
}

func TestClose_Idempotent(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.o.Close()
	h.o.Close()
	if err := h.o.StartConversation(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}
