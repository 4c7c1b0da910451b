package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"ai-interview-voice-service/internal/observability/logging"
	"ai-interview-voice-service/internal/observability/metrics"
)

// UploaderConfig controls background retries.
type UploaderConfig struct {
	MaxRetries int
	RetryDelay time.Duration
	Timeout    time.Duration
}

// Uploader persists agents in the background. Failures are logged and
// never reach the conversation.
type Uploader struct {
	store   Store
	cfg     UploaderConfig
	metrics *metrics.Metrics
	log     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewUploader creates an uploader. A nil store makes Submit a no-op.
func NewUploader(store Store, cfg UploaderConfig, m *metrics.Metrics) *Uploader {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if m == nil {
		m = metrics.DefaultMetrics
	}
	ctx, cancel := context.WithCancel(context.Background())
	backend := "none"
	if store != nil {
		backend = store.Backend()
	}
	return &Uploader{
		store:   store,
		cfg:     cfg,
		metrics: m,
		log:     logging.WithProvider("persistence", backend),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Submit stores a in the background and returns immediately.
func (u *Uploader) Submit(a Agent) {
	if u.store == nil {
		u.log.Debug().Str("email", a.Email).Msg("Persistence disabled, dropping summary")
		return
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		if err := u.upload(a); err != nil {
			u.log.Error().Err(err).Str("email", a.Email).Msg("Failed to persist interview summary")
			return
		}
		u.log.Info().Str("email", a.Email).Msg("Interview summary persisted")
	}()
}

func (u *Uploader) upload(a Agent) error {
	ctx, cancel := context.WithTimeout(u.ctx, u.cfg.Timeout)
	defer cancel()

	b := retry.WithMaxRetries(uint64(u.cfg.MaxRetries), retry.NewExponential(u.cfg.RetryDelay))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		_, err := u.store.InsertAgent(ctx, a)
		u.metrics.RecordPersistence(u.store.Backend(), err)
		if err == nil {
			return nil
		}
		if a.Validate() != nil {
			return err
		}
		u.log.Warn().Err(err).Msg("Persist attempt failed")
		return retry.RetryableError(err)
	})
}

// Close cancels pending retries and waits for in-flight uploads.
func (u *Uploader) Close() {
	u.cancel()
	u.wg.Wait()
}

// Wait blocks until every submitted upload has finished.
func (u *Uploader) Wait() {
	u.wg.Wait()
}
