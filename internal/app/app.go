package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"ai-interview-voice-service/internal/config"
	"ai-interview-voice-service/internal/db"
	"ai-interview-voice-service/internal/errorhandler"
	"ai-interview-voice-service/internal/events"
	"ai-interview-voice-service/internal/observability/logging"
	"ai-interview-voice-service/internal/observability/metrics"
	"ai-interview-voice-service/internal/schema"
	"ai-interview-voice-service/internal/service/chat"
	"ai-interview-voice-service/internal/service/persistence"
	"ai-interview-voice-service/internal/service/recognition/google"
	"ai-interview-voice-service/internal/service/summary"
	"ai-interview-voice-service/internal/service/tts"
	"ai-interview-voice-service/internal/session"
)

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Config

	Registry   *prometheus.Registry
	Metrics    *metrics.Metrics
	Errors     *errorhandler.Handler
	Validator  *schema.Validator
	Chat       chat.Client
	TTS        tts.Synthesizer
	Summarizer *summary.Summarizer
	DB         *db.DB
	Store      persistence.Store
	Uploader   *persistence.Uploader
	Events     *events.Publisher
	Sessions   *session.Manager

	speech *speech.Client
}

// New constructs a new Application from the provided configuration.
func New(cfg *config.Config) *Application {
	logging.Init(logging.Config{
		Level:   cfg.Observability.LogLevel,
		Format:  cfg.Observability.LogFormat,
		Service: "ai-interview-voice-service",
	})
	reg := prometheus.NewRegistry()
	a := &Application{
		Cfg:       cfg,
		Logger:    logging.WithComponent("application"),
		Registry:  reg,
		Metrics:   metrics.NewMetrics(reg),
		Errors:    errorhandler.New(),
		Validator: schema.New(),
	}

	a.Logger.Info().
		Str("method", "New").
		Str("environment", cfg.Service.Env).
		Msg("AI interview voice service application created")
	return a
}

// Start connects the providers and backing stores. Optional backends that
// are not configured are skipped with a warning.
func (a *Application) Start(ctx context.Context) error {
	l := a.Logger.With().Str("method", "Start").Logger()
	a.StartupTime = time.Now().UTC()

	var err error
	if a.Chat, err = chat.NewFromConfig(ctx, a.Cfg); err != nil {
		return fmt.Errorf("chat provider: %w", err)
	}
	if a.TTS, err = tts.NewFromConfig(a.Cfg); err != nil {
		return fmt.Errorf("tts provider: %w", err)
	}
	a.Summarizer = summary.New(a.Chat)

	if err := a.openStore(ctx); err != nil {
		return err
	}
	if a.Store != nil {
		a.Uploader = persistence.NewUploader(a.Store, persistence.UploaderConfig{
			MaxRetries: a.Cfg.Persistence.MaxRetries,
			RetryDelay: a.Cfg.Persistence.RetryDelay,
		}, a.Metrics)
	}

	k := a.Cfg.Kafka
	a.Events = events.New(&events.Config{
		Enabled:        k.Enabled,
		Brokers:        k.Brokers,
		TopicTurns:     k.TopicTurns,
		TopicSummaries: k.TopicSummaries,
		Principal:      k.Principal,
		Metrics:        a.Metrics,
	})

	if a.Cfg.STT.Provider == "google" {
		if a.speech, err = google.NewClient(ctx); err != nil {
			return fmt.Errorf("speech client: %w", err)
		}
	}
	engines, err := session.NewEngineSource(a.Cfg.STT, a.speech)
	if err != nil {
		return err
	}

	svc := session.Services{
		Chat:        a.Chat,
		Summarizer:  a.Summarizer,
		Events:      a.Events,
		Errors:      a.Errors,
		Metrics:     a.Metrics,
	}
	if a.TTS != nil {
		svc.Synthesizer = a.TTS
	}
	if a.Uploader != nil {
		svc.Persister = a.Uploader
	}
	a.Sessions = session.NewManager(session.ConfigFrom(a.Cfg), svc, engines)

	l.Info().
		Time("startupTime", a.StartupTime).
		Str("sttProvider", a.Cfg.STT.Provider).
		Str("chatProvider", a.Cfg.Chat.Provider).
		Str("ttsProvider", a.Cfg.TTS.Provider).
		Str("persistence", a.Cfg.Persistence.Backend).
		Msg("AI interview voice service starting")
	return nil
}

func (a *Application) openStore(ctx context.Context) error {
	l := a.Logger.With().Str("method", "openStore").Logger()

	if a.Cfg.Database.URL != "" {
		d, err := db.Open(ctx, a.Cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		a.DB = d
		if a.Cfg.Database.AutoMigrate {
			if err := d.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
		}
	}

	switch a.Cfg.Persistence.Backend {
	case "postgres":
		if a.DB == nil {
			l.Warn().Msg("DATABASE_URL not set, interview summaries will not be stored")
			return nil
		}
		a.Store = persistence.NewPostgresStore(a.DB)
	case "supabase":
		s, err := persistence.NewSupabaseStore(a.Cfg.Supabase.URL, a.Cfg.Supabase.Key)
		if err != nil {
			if errors.Is(err, db.ErrNotConfigured) {
				l.Warn().Msg("Supabase not configured, interview summaries will not be stored")
				return nil
			}
			return err
		}
		a.Store = s
	case "", "none":
	default:
		return fmt.Errorf("unknown persistence backend %q", a.Cfg.Persistence.Backend)
	}
	return nil
}

// Ready reports whether the backing stores are reachable.
func (a *Application) Ready(ctx context.Context) error {
	if a.Sessions == nil {
		return errors.New("not started")
	}
	if a.DB != nil {
		return a.DB.Ping(ctx)
	}
	return nil
}

// Shutdown ends every conversation and drains background work.
func (a *Application) Shutdown(ctx context.Context) {
	l := a.Logger.With().Str("method", "Shutdown").Logger()
	l.Info().Msg("AI interview voice service shutting down")

	if a.Sessions != nil {
		a.Sessions.CloseAll()
	}

	var g errgroup.Group
	if a.Uploader != nil {
		g.Go(func() error {
			done := make(chan struct{})
			go func() {
				a.Uploader.Wait()
				close(done)
			}()
			select {
			case <-done:
			case <-ctx.Done():
				a.Uploader.Close()
			}
			return nil
		})
	}
	if a.Events != nil {
		g.Go(a.Events.Close)
	}
	if a.speech != nil {
		g.Go(a.speech.Close)
	}
	if err := g.Wait(); err != nil {
		l.Warn().Err(err).Msg("Error during shutdown")
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
