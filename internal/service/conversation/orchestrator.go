// Package conversation drives the interview: it listens, hands complete
// utterances to the chat provider, reveals and speaks the reply and
// resumes listening, until the interviewer ends the interview with a
// summary.
package conversation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"ai-interview-voice-service/internal/config"
	"ai-interview-voice-service/internal/errorhandler"
	"ai-interview-voice-service/internal/models"
	"ai-interview-voice-service/internal/observability/logging"
	"ai-interview-voice-service/internal/observability/metrics"
	"ai-interview-voice-service/internal/service/persistence"
	"ai-interview-voice-service/internal/service/recognition"
	"ai-interview-voice-service/internal/service/silence"
	"ai-interview-voice-service/internal/service/turn"
	"ai-interview-voice-service/internal/state"
	"ai-interview-voice-service/internal/userinfo"
)

var (
	ErrMicrophoneDisabled = errors.New("microphone is disabled")
	ErrTurnInProgress     = errors.New("a turn is already in progress")
	ErrEmptyText          = errors.New("text is required")
	ErrClosed             = errors.New("conversation closed")

	errInterrupted = errors.New("response interrupted")
)

// Config holds the orchestrator timings.
type Config struct {
	HistoryLimit   int
	ResumeCooldown time.Duration
	EndMarkerDelay time.Duration
	MicResumeDelay time.Duration
	EndMarker      string
	SummaryHeading string
	Reveal         RevealConfig
	Silence        silence.Config
}

func DefaultConfig() Config {
	return Config{
		HistoryLimit:   10,
		ResumeCooldown: 800 * time.Millisecond,
		EndMarkerDelay: 1000 * time.Millisecond,
		MicResumeDelay: 500 * time.Millisecond,
		EndMarker:      "</end>",
		SummaryHeading: "📋 **采访总结**\n\n",
		Reveal:         DefaultRevealConfig(),
		Silence:        silence.DefaultConfig(),
	}
}

// ConfigFrom maps the service configuration onto orchestrator settings.
func ConfigFrom(cfg *config.Config) Config {
	c := DefaultConfig()
	t := cfg.Turn
	c.HistoryLimit = t.HistoryLimit
	c.ResumeCooldown = t.ResumeCooldown
	c.EndMarkerDelay = t.EndMarkerDelay
	c.MicResumeDelay = t.MicResumeDelay
	if t.EndMarker != "" {
		c.EndMarker = t.EndMarker
	}
	c.Silence = silence.Config{
		SilenceTimeout:         t.SilenceTimeout,
		ProgressInterval:       t.ProgressInterval,
		MinTranscriptLength:    t.MinTranscriptLength,
		ErrorRestartDelay:      t.ErrorRestartDelay,
		EndRestartDelay:        t.EndRestartDelay,
		MaxConsecutiveRestarts: t.MaxConsecutiveRestarts,
		Options: recognition.Options{
			Language:        cfg.STT.LanguageCode,
			Continuous:      true,
			InterimResults:  true,
			MaxAlternatives: 1,
		},
	}
	return c
}

// Deps are the collaborators of one conversation. Store, Session, Chat and
// Summarizer are required.
type Deps struct {
	Store       *state.Store
	Session     *recognition.Session
	Chat        ChatProvider
	Synthesizer Synthesizer
	Player      Player
	Summarizer  Summarizer
	Persister   Persister
	Events      EventSink
	Errors      *errorhandler.Handler
	Metrics     *metrics.Metrics
}

// speech is one running reveal plus playback.
type speech struct {
	cancel context.CancelFunc
}

// Orchestrator runs one conversation at a time.
type Orchestrator struct {
	cfg        Config
	store      *state.Store
	chat       ChatProvider
	synth      Synthesizer
	player     Player
	summarizer Summarizer
	persister  Persister
	events     EventSink
	errs       *errorhandler.Handler
	metrics    *metrics.Metrics
	detector   *silence.Detector
	machine    *turn.Machine
	now        func() time.Time

	// processing is the turn flag: set before any provider call and
	// cleared on every exit path.
	processing atomic.Bool
	wg         sync.WaitGroup

	mu         sync.Mutex
	log        zerolog.Logger
	identity   userinfo.Info
	convCtx    context.Context
	cancelConv context.CancelFunc
	speech     *speech
	wantListen bool
	closed     bool
}

// New wires an orchestrator around deps.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.Store == nil || deps.Session == nil || deps.Chat == nil || deps.Summarizer == nil {
		return nil, errors.New("conversation: store, session, chat and summarizer are required")
	}
	def := DefaultConfig()
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = def.HistoryLimit
	}
	if cfg.EndMarker == "" {
		cfg.EndMarker = def.EndMarker
	}
	if cfg.SummaryHeading == "" {
		cfg.SummaryHeading = def.SummaryHeading
	}
	if cfg.Reveal.Interval <= 0 {
		cfg.Reveal = def.Reveal
	}
	if deps.Errors == nil {
		deps.Errors = errorhandler.New()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.DefaultMetrics
	}

	o := &Orchestrator{
		cfg:        cfg,
		store:      deps.Store,
		chat:       deps.Chat,
		synth:      deps.Synthesizer,
		player:     deps.Player,
		summarizer: deps.Summarizer,
		persister:  deps.Persister,
		events:     deps.Events,
		errs:       deps.Errors,
		metrics:    deps.Metrics,
		now:        time.Now,
		log:        logging.WithComponent("conversation"),
	}
	o.convCtx, o.cancelConv = context.WithCancel(context.Background())
	o.machine = turn.NewMachine(func(from, to turn.Phase) {
		o.logger().Debug().Str("from", from.String()).Str("to", to.String()).Msg("Phase changed")
	})
	o.detector = silence.New(deps.Session, cfg.Silence, silence.Callbacks{
		OnUtterance: o.onUtterance,
		OnStart:     func() { o.store.SetRecording(true) },
		OnError: func(err error, recovering bool) {
			o.logger().Debug().Err(err).Bool("recovering", recovering).Msg("Recognition interrupted")
		},
		OnStop: o.onListeningStopped,
	}, deps.Store, deps.Metrics)
	return o, nil
}

// StartConversation begins a new conversation and starts listening. Any
// current conversation is ended first.
func (o *Orchestrator) StartConversation(ctx context.Context) error {
	if !o.store.Flags().MicrophoneEnabled {
		return ErrMicrophoneDisabled
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	o.cancelConv()
	o.convCtx, o.cancelConv = context.WithCancel(context.Background())
	o.wantListen = true
	o.mu.Unlock()

	wasActive := o.store.Flags().CallActive
	o.stopListening()
	if wasActive {
		o.metrics.RecordConversationEnd("restarted")
	}
	o.machine.Reset()

	id := o.store.StartNewConversation()
	o.mu.Lock()
	o.log = logging.WithConversation("conversation", id)
	o.mu.Unlock()
	o.metrics.RecordConversationStart()
	o.logger().Info().Msg("Conversation started")

	if err := ctx.Err(); err != nil {
		return err
	}
	return o.startListening(o.conversationContext())
}

// StopListening stops recognition, playback and the text reveal and clears
// the activity flags. The conversation itself stays open.
func (o *Orchestrator) StopListening() {
	o.setWantListen(false)
	o.stopListening()
	o.store.SetProcessing(false)
	if p := o.machine.Phase(); p == turn.PhaseListening {
		o.transition(turn.PhaseIdle)
	}
}

// EndConversation stops everything, cancels pending timers and provider
// calls and resets the shared state.
func (o *Orchestrator) EndConversation() {
	o.mu.Lock()
	o.wantListen = false
	o.cancelConv()
	o.convCtx, o.cancelConv = context.WithCancel(context.Background())
	o.mu.Unlock()

	o.stopListening()
	active := o.store.Flags().CallActive
	o.store.EndConversation()
	o.machine.Reset()
	if active {
		o.metrics.RecordConversationEnd("user")
	}
	o.logger().Info().Msg("Conversation ended")
}

// SendText runs a typed message through the same pipeline as speech.
func (o *Orchestrator) SendText(text string) error {
	text = trimText(text)
	if text == "" {
		return ErrEmptyText
	}
	if !o.processing.CompareAndSwap(false, true) {
		return ErrTurnInProgress
	}
	if o.machine.Phase().IsTerminal() {
		o.machine.Reset()
	}
	if !o.spawn(func() { o.runTurn(text) }) {
		o.processing.Store(false)
		return ErrClosed
	}
	return nil
}

// ToggleMicrophone flips the microphone and returns the new state.
// Disabling stops listening; enabling during an active idle call resumes
// listening after MicResumeDelay.
func (o *Orchestrator) ToggleMicrophone() bool {
	enabled := !o.store.Flags().MicrophoneEnabled
	o.store.SetMicrophoneEnabled(enabled)

	if !enabled {
		o.setWantListen(false)
		_ = o.detector.Stop()
		o.store.SetRecording(false)
		o.store.SetWaitingToUpload(false)
		o.store.SetSilenceProgress(0)
		if o.machine.Is(turn.PhaseListening) {
			o.transition(turn.PhaseIdle)
		}
		return false
	}

	f := o.store.Flags()
	o.setWantListen(f.CallActive)
	if f.CallActive && !f.Recording && !o.processing.Load() {
		o.after(o.cfg.MicResumeDelay, o.resumeListening)
	}
	return true
}

// SetIdentity records who is being interviewed.
func (o *Orchestrator) SetIdentity(info userinfo.Info) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.identity = info
}

func (o *Orchestrator) Identity() userinfo.Info {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.identity
}

func (o *Orchestrator) Phase() turn.Phase {
	return o.machine.Phase()
}

// IsProcessing reports whether a turn is in flight.
func (o *Orchestrator) IsProcessing() bool {
	return o.processing.Load()
}

// Store exposes the shared state.
func (o *Orchestrator) Store() *state.Store {
	return o.store
}

// Close ends the conversation and waits for background work.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.wantListen = false
	o.cancelConv()
	o.mu.Unlock()

	_ = o.detector.Abort()
	o.cancelSpeech()
	o.wg.Wait()
}

func (o *Orchestrator) onUtterance(text string) {
	if !o.processing.CompareAndSwap(false, true) {
		o.metrics.RecordUtteranceDropped("busy")
		o.logger().Info().Msg("Dropping utterance, a turn is in progress")
		return
	}
	if !o.spawn(func() { o.runTurn(text) }) {
		o.processing.Store(false)
	}
}

func (o *Orchestrator) onListeningStopped(err error) {
	o.fail(err, "Speech Recognition")
	o.store.SetRecording(false)
	if o.machine.Is(turn.PhaseListening) {
		o.transition(turn.PhaseIdle)
	}
}

// runTurn owns the turn flag for its whole duration. The follow-up action
// runs after the flag is released.
func (o *Orchestrator) runTurn(text string) {
	next := o.turn(text)
	o.store.SetProcessing(false)
	o.processing.Store(false)
	if next != nil {
		next()
	}
}

func (o *Orchestrator) turn(text string) func() {
	ctx := o.conversationContext()
	start := o.now()

	history := o.history()
	userMsg := o.store.AddMessage(state.RoleUser, text)
	o.publishTurn(userMsg, false, 0)

	o.store.SetProcessing(true)
	o.store.SetRecording(false)
	o.transition(turn.PhaseProcessing)

	msgs := append(history, models.ChatMessage{Role: models.RoleUser, Content: text})
	reply, err := o.chat.Complete(ctx, msgs)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		o.fail(err, "AI Response")
		return o.resumeAfterCooldown
	}

	content, end := stripEndMarker(reply, o.cfg.EndMarker)
	o.transition(turn.PhaseResponding)
	if content != "" {
		msg, ok, err := o.respond(ctx, content)
		if ok {
			o.publishTurn(msg, end, o.now().Sub(start))
		}
		if errors.Is(err, errInterrupted) {
			return nil
		}
	}
	o.metrics.RecordTurn(o.now().Sub(start))
	if ctx.Err() != nil {
		return nil
	}

	if end {
		o.logger().Info().Msg("Interview end marker detected")
		o.transition(turn.PhaseEnding)
		if !sleep(ctx, o.cfg.EndMarkerDelay) {
			return nil
		}
		o.summarize(ctx)
		return nil
	}
	return o.resumeAfterCooldown
}

// respond reveals the reply while it is synthesized and played. Recognition
// stops before playback starts. An audio failure is reported but the full
// text is still revealed.
func (o *Orchestrator) respond(ctx context.Context, text string) (state.Message, bool, error) {
	_ = o.detector.Stop()
	o.store.SetRecording(false)
	o.store.SetSpeaking(true)
	o.store.StartStreamingMessage(state.RoleAssistant)

	speechCtx, cancel := context.WithCancel(ctx)
	sp := &speech{cancel: cancel}
	o.mu.Lock()
	o.speech = sp
	o.mu.Unlock()
	defer func() {
		cancel()
		o.mu.Lock()
		if o.speech == sp {
			o.speech = nil
		}
		o.mu.Unlock()
	}()

	var audioErr error
	var g errgroup.Group
	g.Go(func() error {
		return reveal(speechCtx, o.cfg.Reveal, text, o.store.AppendToStreamingMessage)
	})
	g.Go(func() error {
		audioErr = o.speak(speechCtx, text)
		return nil
	})
	revealErr := g.Wait()
	interrupted := speechCtx.Err() != nil

	msg, ok := o.store.CompleteStreamingMessage()
	o.store.SetSpeaking(false)

	if interrupted {
		return msg, ok, errInterrupted
	}
	if audioErr != nil {
		o.fail(audioErr, "Text-to-Speech")
	}
	return msg, ok, revealErr
}

func (o *Orchestrator) speak(ctx context.Context, text string) error {
	if o.synth == nil {
		return nil
	}
	audio, err := o.synth.Synthesize(ctx, text)
	if err != nil {
		return err
	}
	if o.player == nil || len(audio.Data) == 0 {
		return nil
	}
	return o.player.Play(ctx, audio)
}

func (o *Orchestrator) resumeAfterCooldown() {
	o.after(o.cfg.ResumeCooldown, o.resumeListening)
}

// resumeListening restarts recognition unless a turn started meanwhile, the
// microphone is off or the call is over.
func (o *Orchestrator) resumeListening() {
	if o.processing.Load() {
		return
	}
	f := o.store.Flags()
	if !f.MicrophoneEnabled || !f.CallActive || !o.wantsListen() {
		switch o.machine.Phase() {
		case turn.PhaseProcessing, turn.PhaseResponding:
			o.transition(turn.PhaseIdle)
		}
		return
	}
	_ = o.startListening(o.conversationContext())
}

func (o *Orchestrator) startListening(ctx context.Context) error {
	o.transition(turn.PhaseListening)
	if err := o.detector.Start(ctx); err != nil {
		o.fail(err, "Speech Recognition")
		o.store.SetRecording(false)
		o.transition(turn.PhaseIdle)
		return err
	}
	if o.detector.IsListening() {
		o.store.SetRecording(true)
	}
	return nil
}

// stopListening stops recognition, aborts playback and finishes any
// partial reply.
func (o *Orchestrator) stopListening() {
	_ = o.detector.Stop()
	o.cancelSpeech()
	if o.store.HasStreamingMessage() {
		o.store.CompleteStreamingMessage()
	}
	o.store.SetRecording(false)
	o.store.SetSpeaking(false)
	o.store.SetWaitingToUpload(false)
	o.store.SetSilenceProgress(0)
}

func (o *Orchestrator) cancelSpeech() {
	o.mu.Lock()
	sp := o.speech
	o.mu.Unlock()
	if sp != nil {
		sp.cancel()
	}
}

// fail logs err, shows its translation and clears the activity flags.
func (o *Orchestrator) fail(err error, where string) {
	o.errs.Handle(err, where)
	o.store.SetError(errorhandler.UserMessage(err))
	o.store.SetRecording(false)
	o.store.SetSpeaking(false)
}

// history returns the last HistoryLimit finished messages.
func (o *Orchestrator) history() []models.ChatMessage {
	msgs := o.store.Messages()
	if len(msgs) > o.cfg.HistoryLimit {
		msgs = msgs[len(msgs)-o.cfg.HistoryLimit:]
	}
	return toChat(msgs)
}

func toChat(msgs []state.Message) []models.ChatMessage {
	out := make([]models.ChatMessage, 0, len(msgs)+1)
	for _, m := range msgs {
		out = append(out, models.ChatMessage{Role: string(m.Role), Content: m.Content})
	}
	return out
}

func (o *Orchestrator) publishTurn(msg state.Message, end bool, latency time.Duration) {
	if o.events == nil {
		return
	}
	ev := models.TurnEvent{
		ConversationID: o.store.ConversationID(),
		MessageID:      msg.ID,
		Role:           string(msg.Role),
		Text:           msg.Content,
		Timestamp:      msg.Timestamp.UnixMilli(),
		EndOfInterview: end,
		LatencyMs:      latency.Milliseconds(),
	}
	o.spawn(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := o.events.PublishTurn(ctx, ev); err != nil {
			o.logger().Warn().Err(err).Msg("Failed to publish turn")
		}
	})
}

func (o *Orchestrator) transition(p turn.Phase) {
	if err := o.machine.Transition(p); err != nil {
		o.logger().Debug().Err(err).Msg("Phase transition rejected")
	}
}

// spawn runs fn in a tracked goroutine unless the orchestrator is closed.
func (o *Orchestrator) spawn(fn func()) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		fn()
	}()
	return true
}

// after runs fn once delay has passed, unless the conversation is ended
// first.
func (o *Orchestrator) after(delay time.Duration, fn func()) {
	ctx := o.conversationContext()
	o.spawn(func() {
		if sleep(ctx, delay) {
			fn()
		}
	})
}

func (o *Orchestrator) conversationContext() context.Context {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.convCtx
}

func (o *Orchestrator) logger() *zerolog.Logger {
	o.mu.Lock()
	defer o.mu.Unlock()
	l := o.log
	return &l
}

func (o *Orchestrator) setWantListen(v bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.wantListen = v
}

func (o *Orchestrator) wantsListen() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.wantListen
}

// sleep waits for d and reports false if ctx ended first.
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

func persistAgent(info userinfo.Info, summary string, now time.Time) persistence.Agent {
	return persistence.Agent{
		Email:     info.Email,
		Name:      info.Name,
		Bg:        summary,
		CreatedAt: now.UTC(),
	}
}
