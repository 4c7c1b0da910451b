package tts

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/speak/v1/websocket/interfaces"
	clientinterfaces "github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces/v1"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/speak"
	"github.com/rs/zerolog"

	"ai-interview-voice-service/internal/errorhandler"
	"ai-interview-voice-service/internal/observability/logging"
	"ai-interview-voice-service/internal/observability/metrics"
)

// DeepgramClient synthesizes over the Deepgram speak websocket and wraps
// the linear16 stream into a WAV clip.
type DeepgramClient struct {
	apiKey     string
	model      string
	sampleRate int
	// IdleWindow ends collection once audio stops arriving.
	IdleWindow time.Duration
	Deadline   time.Duration
	Metrics    *metrics.Metrics
	log        zerolog.Logger
}

func NewDeepgramClient(apiKey, model string) *DeepgramClient {
	if model == "" {
		model = "aura-2-thalia-en"
	}
	return &DeepgramClient{
		apiKey:     apiKey,
		model:      model,
		sampleRate: 24000,
		IdleWindow: 400 * time.Millisecond,
		Deadline:   20 * time.Second,
		Metrics:    metrics.DefaultMetrics,
		log:        logging.WithProvider("tts", "deepgram"),
	}
}

func (d *DeepgramClient) Synthesize(ctx context.Context, text string) (audio Audio, err error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Audio{}, ErrEmptyText
	}
	if d.apiKey == "" {
		return Audio{}, fmt.Errorf("deepgram: %w", errorhandler.ErrNotConfigured)
	}
	start := time.Now()
	defer func() { d.Metrics.ObserveProvider("deepgram", "tts", start, err) }()

	cb := newPCMCollector()
	options := &clientinterfaces.WSSpeakOptions{
		Model:      d.model,
		Encoding:   "linear16",
		SampleRate: d.sampleRate,
	}
	dg, err := speak.NewWSUsingCallback(ctx, d.apiKey, &clientinterfaces.ClientOptions{}, options, cb)
	if err != nil {
		return Audio{}, fmt.Errorf("deepgram: create ws client: %w", err)
	}
	defer dg.Stop()

	if ok := dg.Connect(); !ok {
		return Audio{}, fmt.Errorf("deepgram: connect failed")
	}
	if err := dg.SpeakWithText(text); err != nil {
		return Audio{}, fmt.Errorf("deepgram: speak text: %w", err)
	}
	if err := dg.Flush(); err != nil {
		d.log.Warn().Err(err).Msg("Flush failed")
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.NewTimer(d.Deadline)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return Audio{}, ctx.Err()
		case <-cb.flushed:
			return d.finish(cb)
		case <-deadline.C:
			return d.finish(cb)
		case <-ticker.C:
			if last := cb.lastReceive(); !last.IsZero() && time.Since(last) > d.IdleWindow {
				return d.finish(cb)
			}
		}
	}
}

func (d *DeepgramClient) finish(cb *pcmCollector) (Audio, error) {
	pcm := cb.bytes()
	if len(pcm) == 0 {
		if msg := cb.errorMessage(); msg != "" {
			return Audio{}, fmt.Errorf("deepgram TTS API error: %s", msg)
		}
		return Audio{}, fmt.Errorf("no audio data received from TTS service")
	}
	return Audio{Data: wavFromPCM16(pcm, d.sampleRate, 1), MIMEType: "audio/wav"}, nil
}

// pcmCollector buffers binary frames from the speak websocket.
type pcmCollector struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	last     time.Time
	errMsg   string
	flushed  chan struct{}
	flushOne sync.Once
}

func newPCMCollector() *pcmCollector {
	return &pcmCollector{flushed: make(chan struct{})}
}

func (p *pcmCollector) lastReceive() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

func (p *pcmCollector) bytes() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.buf.Bytes()...)
}

func (p *pcmCollector) errorMessage() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.errMsg
}

func (p *pcmCollector) Open(*msginterfaces.OpenResponse) error         { return nil }
func (p *pcmCollector) Metadata(*msginterfaces.MetadataResponse) error { return nil }
func (p *pcmCollector) Clear(*msginterfaces.ClearedResponse) error     { return nil }
func (p *pcmCollector) Close(*msginterfaces.CloseResponse) error       { return nil }
func (p *pcmCollector) Warning(*msginterfaces.WarningResponse) error   { return nil }
func (p *pcmCollector) UnhandledEvent([]byte) error                    { return nil }

func (p *pcmCollector) Flush(*msginterfaces.FlushedResponse) error {
	p.flushOne.Do(func() { close(p.flushed) })
	return nil
}

func (p *pcmCollector) Error(e *msginterfaces.ErrorResponse) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e != nil {
		p.errMsg = fmt.Sprintf("%+v", e)
	}
	return nil
}

func (p *pcmCollector) Binary(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buf.Write(data)
	p.last = time.Now()
	return nil
}

// wavFromPCM16 prepends a canonical 44-byte RIFF header to little-endian
// 16-bit PCM.
func wavFromPCM16(pcm []byte, sampleRate, channels int) []byte {
	const bitsPerSample = 16
	blockAlign := channels * bitsPerSample / 8
	byteRate := sampleRate * blockAlign

	var b bytes.Buffer
	b.Grow(44 + len(pcm))
	b.WriteString("RIFF")
	_ = binary.Write(&b, binary.LittleEndian, uint32(36+len(pcm)))
	b.WriteString("WAVE")
	b.WriteString("fmt ")
	_ = binary.Write(&b, binary.LittleEndian, uint32(16))
	_ = binary.Write(&b, binary.LittleEndian, uint16(1))
	_ = binary.Write(&b, binary.LittleEndian, uint16(channels))
	_ = binary.Write(&b, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&b, binary.LittleEndian, uint32(byteRate))
	_ = binary.Write(&b, binary.LittleEndian, uint16(blockAlign))
	_ = binary.Write(&b, binary.LittleEndian, uint16(bitsPerSample))
	b.WriteString("data")
	_ = binary.Write(&b, binary.LittleEndian, uint32(len(pcm)))
	b.Write(pcm)
	return b.Bytes()
}
