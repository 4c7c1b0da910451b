// Package errorhandler is the single place where technical errors are
// logged and translated into user-facing text.
package errorhandler

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"ai-interview-voice-service/internal/observability/logging"
	"ai-interview-voice-service/internal/service/recognition"
)

// User-facing messages.
const (
	MsgNotConfigured = "服务尚未配置：请在服务根目录的 .env 中填写 KIMI/MINIMAX 相关密钥，并重启服务"
	MsgPermission    = "需要麦克风权限才能使用语音功能，请在浏览器设置中允许麦克风访问"
	MsgNetwork       = "网络连接出现问题，请检查网络连接后重试"
	MsgTimeout       = "请求超时，请稍后重试"
	MsgSpeech        = "语音识别服务暂时不可用，请稍后重试或使用其他浏览器"
	MsgAudio         = "音频设备出现问题，请检查麦克风和扬声器设置"
	MsgAPI           = "API服务暂时不可用，请稍后重试"
	MsgUnknown       = "发生了未知错误，请刷新页面后重试"
)

// ErrNotConfigured marks a provider that is missing credentials.
var ErrNotConfigured = errors.New("service not configured")

// Callback receives the contextual technical message of a handled error.
type Callback func(message string)

// Handler logs errors and fans them out to registered callbacks.
type Handler struct {
	log zerolog.Logger

	mu        sync.Mutex
	callbacks map[int]Callback
	nextID    int
}

func New() *Handler {
	return &Handler{
		log:       logging.WithComponent("errorhandler"),
		callbacks: make(map[int]Callback),
	}
}

// Handle logs err, notifies callbacks and returns the technical message,
// prefixed with where it happened when where is not empty.
func (h *Handler) Handle(err error, where string) string {
	msg := "an unknown error occurred"
	if err != nil {
		msg = err.Error()
	}
	if where != "" {
		msg = where + ": " + msg
	}

	h.log.Error().Err(err).Str("context", where).Msg("Handled error")

	h.mu.Lock()
	cbs := make([]Callback, 0, len(h.callbacks))
	for _, cb := range h.callbacks {
		cbs = append(cbs, cb)
	}
	h.mu.Unlock()

	for _, cb := range cbs {
		h.notify(cb, msg)
	}
	return msg
}

func (h *Handler) notify(cb Callback, msg string) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error().Interface("panic", r).Msg("Error in error callback")
		}
	}()
	cb(msg)
}

// Register adds a callback and returns a function that removes it.
func (h *Handler) Register(cb Callback) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	h.callbacks[id] = cb
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.callbacks, id)
	}
}

// UserMessage translates err into user-facing text.
func (h *Handler) UserMessage(err error) string {
	return UserMessage(err)
}

// UserMessage translates err into user-facing text. Raw provider messages
// are never returned.
func UserMessage(err error) string {
	if err == nil {
		return MsgUnknown
	}

	if errors.Is(err, ErrNotConfigured) {
		return MsgNotConfigured
	}

	var re *recognition.Error
	if errors.As(err, &re) {
		switch re.Code {
		case recognition.CodeNotAllowed, recognition.CodeServiceNotAllowed:
			return MsgPermission
		case recognition.CodeNetwork:
			return MsgNetwork
		case recognition.CodeAudioCapture:
			return MsgAudio
		case recognition.CodeStartTimeout:
			return MsgTimeout
		default:
			return MsgSpeech
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return MsgTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return MsgTimeout
		}
		return MsgNetwork
	}

	return fromMessage(err.Error())
}

func fromMessage(message string) string {
	lower := strings.ToLower(message)

	switch {
	case strings.Contains(message, "未配置"),
		strings.Contains(lower, "not configured"),
		strings.Contains(message, "Kimi API"),
		strings.Contains(message, "Minimax TTS"),
		strings.Contains(lower, "credentials"):
		return MsgNotConfigured
	case strings.Contains(lower, "permission"):
		return MsgPermission
	case strings.Contains(lower, "network"), strings.Contains(lower, "fetch"):
		return MsgNetwork
	case strings.Contains(lower, "timeout"):
		return MsgTimeout
	case strings.Contains(lower, "speech"), strings.Contains(lower, "recognition"):
		return MsgSpeech
	case strings.Contains(lower, "audio"), strings.Contains(lower, "media"):
		return MsgAudio
	case strings.Contains(message, "API"):
		return MsgAPI
	}
	return MsgUnknown
}
