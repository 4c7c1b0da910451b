// Package google provides a Google Cloud Speech-to-Text recognition engine.
package google

import (
	"context"
	"errors"
	"io"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"

	"ai-interview-voice-service/internal/observability/logging"
	"ai-interview-voice-service/internal/service/recognition"
)

// Config holds the streaming recognition settings.
type Config struct {
	LanguageCode   string
	SampleRateHz   int32
	InterimResults bool
	AudioEncoding  string
}

// DefaultConfig returns settings for 16 kHz Mandarin PCM.
func DefaultConfig() Config {
	return Config{
		LanguageCode:   "zh-CN",
		SampleRateHz:   16000,
		InterimResults: true,
		AudioEncoding:  "LINEAR16",
	}
}

// NewClient creates the shared Speech client.
// Requires GOOGLE_APPLICATION_CREDENTIALS environment variable to be set.
func NewClient(ctx context.Context) (*speech.Client, error) {
	return speech.NewClient(ctx)
}

// NewFactory returns a factory producing one streaming engine per start.
func NewFactory(client *speech.Client, cfg Config) recognition.Factory {
	return func() (recognition.Engine, error) {
		return New(client, cfg), nil
	}
}

// Engine runs one StreamingRecognize call.
type Engine struct {
	client *speech.Client
	cfg    Config
	log    zerolog.Logger

	mu     sync.Mutex
	stream speechpb.Speech_StreamingRecognizeClient
	cancel context.CancelFunc
	closed bool
}

// New creates an engine bound to client.
func New(client *speech.Client, cfg Config) *Engine {
	return &Engine{
		client: client,
		cfg:    cfg,
		log:    logging.WithProvider("recognition", "google"),
	}
}

// Start opens the stream and sends the streaming config as the first message.
func (e *Engine) Start(ctx context.Context, opts recognition.Options, sink recognition.Sink) error {
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	stream, err := e.client.StreamingRecognize(streamCtx)
	if err != nil {
		cancel()
		return startError(err)
	}

	sc := e.streamingConfig(opts)
	e.log.Debug().Str("config", protojson.Format(sc)).Msg("Opening recognition stream")

	err = stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: sc,
		},
	})
	if err != nil {
		cancel()
		return startError(err)
	}

	e.mu.Lock()
	e.stream = stream
	e.cancel = cancel
	e.mu.Unlock()

	go e.listen(stream, cancel, sink)
	sink.OnStart()
	return nil
}

func (e *Engine) streamingConfig(opts recognition.Options) *speechpb.StreamingRecognitionConfig {
	lang := opts.Language
	if lang == "" {
		lang = e.cfg.LanguageCode
	}
	maxAlt := int32(opts.MaxAlternatives)
	if maxAlt <= 0 {
		maxAlt = 1
	}
	return &speechpb.StreamingRecognitionConfig{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   parseAudioEncoding(e.cfg.AudioEncoding),
			SampleRateHertz:            e.cfg.SampleRateHz,
			LanguageCode:               lang,
			MaxAlternatives:            maxAlt,
			EnableAutomaticPunctuation: true,
		},
		InterimResults: opts.InterimResults || e.cfg.InterimResults,
	}
}

// WriteAudio sends audio bytes to Google Speech-to-Text.
func (e *Engine) WriteAudio(ctx context.Context, audio []byte) error {
	e.mu.Lock()
	stream, closed := e.stream, e.closed
	e.mu.Unlock()
	if stream == nil || closed {
		return nil
	}
	return stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: audio,
		},
	})
}

// Stop half-closes the stream so pending results can still arrive.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.stream == nil {
		return nil
	}
	e.closed = true
	return e.stream.CloseSend()
}

// Abort cancels the stream.
func (e *Engine) Abort() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	if e.cancel != nil {
		e.cancel()
	}
	return nil
}

// listen receives transcript responses from Google and invokes the sink.
func (e *Engine) listen(stream speechpb.Speech_StreamingRecognizeClient, cancel context.CancelFunc, sink recognition.Sink) {
	defer cancel()
	for {
		resp, err := stream.Recv()
		if st := resp.GetError(); err == nil && st.GetCode() != int32(codes.OK) {
			err = status.ErrorProto(st)
		}
		if err != nil {
			if rerr := classify(err); rerr != nil {
				sink.OnError(rerr)
			} else {
				sink.OnEnd()
			}
			return
		}

		for _, r := range resp.GetResults() {
			if res, ok := toResult(r); ok {
				sink.OnResult(res)
			}
		}
	}
}

func toResult(r *speechpb.StreamingRecognitionResult) (recognition.Result, bool) {
	alts := r.GetAlternatives()
	if len(alts) == 0 {
		return recognition.Result{}, false
	}
	return recognition.Result{
		Transcript: alts[0].GetTranscript(),
		Confidence: float64(alts[0].GetConfidence()),
		IsFinal:    r.GetIsFinal(),
	}, true
}

// classify maps stream errors to recognition errors. A nil result means the
// stream ended normally: EOF, cancellation, or the stream duration limit.
func classify(err error) *recognition.Error {
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return recognition.NewError(recognition.CodeNetwork, err.Error())
	}
	switch st.Code() {
	case codes.OK, codes.Canceled, codes.OutOfRange:
		return nil
	case codes.PermissionDenied:
		return recognition.NewError(recognition.CodeNotAllowed, st.Message())
	case codes.Unauthenticated:
		return recognition.NewError(recognition.CodeServiceNotAllowed, st.Message())
	case codes.InvalidArgument, codes.Unimplemented:
		return recognition.NewError(recognition.CodeUnsupported, st.Message())
	default:
		return recognition.NewError(recognition.CodeNetwork, st.Message())
	}
}

func startError(err error) error {
	if rerr := classify(err); rerr != nil {
		return rerr
	}
	return recognition.NewError(recognition.CodeAborted, err.Error())
}

func parseAudioEncoding(s string) speechpb.RecognitionConfig_AudioEncoding {
	switch s {
	case "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC
	case "AMR":
		return speechpb.RecognitionConfig_AMR
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_LINEAR16
	}
}
