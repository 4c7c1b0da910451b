package conversation

import (
	"context"
	"time"
)

// RevealConfig paces the character-by-character display of a reply.
type RevealConfig struct {
	Interval      time.Duration
	MinInterval   time.Duration
	LongText      int
	SentencePause time.Duration
	ClausePause   time.Duration
}

// DefaultRevealConfig paces text for Chinese reading speed.
func DefaultRevealConfig() RevealConfig {
	return RevealConfig{
		Interval:      50 * time.Millisecond,
		MinInterval:   20 * time.Millisecond,
		LongText:      200,
		SentencePause: 300 * time.Millisecond,
		ClausePause:   150 * time.Millisecond,
	}
}

// intervalFor speeds up long replies by 1ms per 20 characters (fractions
// kept), down to MinInterval.
func (c RevealConfig) intervalFor(length int) time.Duration {
	if length <= c.LongText {
		return c.Interval
	}
	d := c.Interval - time.Duration(float64(length)/20*float64(time.Millisecond))
	if d < c.MinInterval {
		return c.MinInterval
	}
	return d
}

// pauseAfter is the extra delay after r.
func (c RevealConfig) pauseAfter(r rune) time.Duration {
	switch r {
	case '。', '！', '？', '.', '!', '?':
		return c.SentencePause
	case '，', '；', ',', ';':
		return c.ClausePause
	}
	return 0
}

// reveal appends text one rune at a time. It returns ctx.Err() when
// canceled; whatever was appended so far stays.
func reveal(ctx context.Context, cfg RevealConfig, text string, appendFn func(string)) error {
	runes := []rune(text)
	interval := cfg.intervalFor(len(runes))

	t := time.NewTimer(interval)
	defer t.Stop()
	for i, r := range runes {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		appendFn(string(r))
		if i < len(runes)-1 {
			t.Reset(interval + cfg.pauseAfter(r))
		}
	}
	return nil
}
