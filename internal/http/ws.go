package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"ai-interview-voice-service/internal/errorhandler"
	"ai-interview-voice-service/internal/service/recognition"
	"ai-interview-voice-service/internal/service/recognition/relay"
	"ai-interview-voice-service/internal/service/tts"
	"ai-interview-voice-service/internal/session"
	"ai-interview-voice-service/internal/state"
)

const (
	writeTimeout = 5 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 20 * time.Second
	outboundSize = 256
)

// Client → server message types.
const (
	msgStart            = "start"
	msgStop             = "stop"
	msgEnd              = "end"
	msgMicrophoneToggle = "microphone.toggle"
	msgText             = "text"
	msgRecognition      = "recognition.event"
	msgPlaybackEnded    = "playback.ended"
	msgPlaybackFailed   = "playback.failed"
)

// Server → client message types.
const (
	msgState         = "state"
	msgCommand       = "recognition.command"
	msgPlaybackStart = "playback.start"
	msgPlaybackAbort = "playback.abort"
	msgError         = "error"
)

var errConnClosed = errors.New("connection closed")

type clientMessage struct {
	Type       string  `json:"type"`
	Text       string  `json:"text,omitempty"`
	ID         string  `json:"id,omitempty"`
	InstanceID string  `json:"instanceId,omitempty"`
	Kind       string  `json:"kind,omitempty"`
	Transcript string  `json:"transcript,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	IsFinal    bool    `json:"isFinal,omitempty"`
	Error      string  `json:"error,omitempty"`
	Message    string  `json:"message,omitempty"`
}

type stateMessage struct {
	Type   string          `json:"type"`
	Change state.ChangeKind `json:"change"`
	Field  string          `json:"field,omitempty"`
	State  state.Snapshot  `json:"snapshot"`
}

type commandMessage struct {
	Type    string        `json:"type"`
	Command relay.Command `json:"command"`
}

type playbackMessage struct {
	Type     string `json:"type"`
	ID       string `json:"id"`
	MIMEType string `json:"mimeType,omitempty"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type frame struct {
	kind int
	data []byte
}

// wsConn is one conversation socket. It is the session's transport: it
// relays recognizer commands and plays synthesized audio in the client.
type wsConn struct {
	ws  *websocket.Conn
	srv *server
	log zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	out    chan frame

	mu       sync.Mutex
	playback map[string]chan error
}

func (s *server) conversationSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &wsConn{
		ws:       ws,
		srv:      s,
		log:      s.log,
		ctx:      ctx,
		cancel:   cancel,
		out:      make(chan frame, outboundSize),
		playback: make(map[string]chan error),
	}

	sess, err := s.app.Sessions.Create(c, userFrom(r.Context()))
	if err != nil {
		msg := "无法创建会话，请稍后重试"
		if errors.Is(err, session.ErrTooManySessions) {
			msg = "当前访谈人数较多，请稍后重试"
		}
		_ = ws.WriteJSON(errorMessage{Type: msgError, Message: msg})
		_ = ws.Close()
		cancel()
		return
	}
	c.log = s.log.With().Str("sessionId", sess.ID).Logger()
	s.app.Metrics.RecordStreamStart()
	c.log.Info().Msg("Conversation socket opened")

	unsubscribe := sess.Store.Subscribe(c.onChange)
	c.sendJSON(stateMessage{Type: msgState, Change: state.ChangeConversation, State: sess.Store.Snapshot()})

	go c.writeLoop()
	err = c.readLoop(sess)

	unsubscribe()
	cancel()
	c.failPlayback(errConnClosed)
	_ = s.app.Sessions.Close(sess.ID)
	s.app.Metrics.RecordStreamEnd(err == nil)
	c.log.Info().Err(err).Msg("Conversation socket closed")
}

func (c *wsConn) readLoop(sess *session.Session) error {
	limit := c.srv.app.Cfg.STT.MaxAudioBytes
	if limit <= 0 {
		limit = 1 << 20
	}
	c.ws.SetReadLimit(limit)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))

		if kind == websocket.BinaryMessage {
			if err := sess.WriteAudio(c.ctx, data); err != nil {
				c.log.Debug().Err(err).Msg("Dropping audio frame")
			}
			continue
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError("无法解析消息")
			continue
		}
		c.handle(sess, msg)
	}
}

func (c *wsConn) handle(sess *session.Session, msg clientMessage) {
	conv := sess.Conversation
	switch msg.Type {
	case msgStart:
		// a relay engine confirms start through this read loop
		go func() {
			if err := conv.StartConversation(c.ctx); err != nil {
				c.sendError(errorhandler.UserMessage(err))
			}
		}()
	case msgStop:
		conv.StopListening()
	case msgEnd:
		conv.EndConversation()
	case msgMicrophoneToggle:
		go conv.ToggleMicrophone()
	case msgText:
		if err := conv.SendText(msg.Text); err != nil {
			c.sendError(err.Error())
		}
	case msgRecognition:
		sess.Relay(toRelayEvent(msg))
	case msgPlaybackEnded:
		c.finishPlayback(msg.ID, nil)
	case msgPlaybackFailed:
		c.finishPlayback(msg.ID, fmt.Errorf("audio playback failed: %s", msg.Error))
	default:
		c.log.Debug().Str("type", msg.Type).Msg("Unknown message type")
	}
}

func toRelayEvent(msg clientMessage) recognition.RelayEvent {
	ev := recognition.RelayEvent{
		InstanceID: msg.InstanceID,
		Type:       recognition.RelayEventType(msg.Kind),
		Code:       recognition.Code(msg.Error),
		Message:    msg.Message,
	}
	if ev.Type == recognition.RelayResult {
		ev.Result = &recognition.Result{
			Transcript: msg.Transcript,
			Confidence: msg.Confidence,
			IsFinal:    msg.IsFinal,
		}
	}
	return ev
}

// onChange runs with the store locked, so it only enqueues.
func (c *wsConn) onChange(ch state.Change) {
	data, err := json.Marshal(stateMessage{Type: msgState, Change: ch.Kind, Field: ch.Field, State: ch.Snapshot})
	if err != nil {
		return
	}
	select {
	case c.out <- frame{kind: websocket.TextMessage, data: data}:
	default:
		c.log.Warn().Str("change", string(ch.Kind)).Msg("Outbound queue full, dropping state update")
	}
}

// SendCommand implements relay.Sender.
func (c *wsConn) SendCommand(ctx context.Context, cmd relay.Command) error {
	data, err := json.Marshal(commandMessage{Type: msgCommand, Command: cmd})
	if err != nil {
		return err
	}
	return c.enqueue(ctx, frame{kind: websocket.TextMessage, data: data})
}

// Play sends the clip to the client and waits until the client reports
// that playback ended. Canceling ctx tells the client to stop.
func (c *wsConn) Play(ctx context.Context, audio tts.Audio) error {
	id := uuid.NewString()
	done := make(chan error, 1)
	c.mu.Lock()
	c.playback[id] = done
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.playback, id)
		c.mu.Unlock()
	}()

	header, err := json.Marshal(playbackMessage{Type: msgPlaybackStart, ID: id, MIMEType: audio.MIMEType})
	if err != nil {
		return err
	}
	if err := c.enqueue(ctx, frame{kind: websocket.TextMessage, data: header}); err != nil {
		return err
	}
	if err := c.enqueue(ctx, frame{kind: websocket.BinaryMessage, data: audio.Data}); err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		c.sendJSON(playbackMessage{Type: msgPlaybackAbort, ID: id})
		return ctx.Err()
	case <-c.ctx.Done():
		return errConnClosed
	}
}

func (c *wsConn) finishPlayback(id string, err error) {
	c.mu.Lock()
	done, ok := c.playback[id]
	c.mu.Unlock()
	if !ok {
		return
	}
	select {
	case done <- err:
	default:
	}
}

func (c *wsConn) failPlayback(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, done := range c.playback {
		select {
		case done <- err:
		default:
		}
	}
}

func (c *wsConn) enqueue(ctx context.Context, f frame) error {
	select {
	case c.out <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return errConnClosed
	}
}

func (c *wsConn) sendJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case c.out <- frame{kind: websocket.TextMessage, data: data}:
	case <-c.ctx.Done():
	}
}

func (c *wsConn) sendError(msg string) {
	c.sendJSON(errorMessage{Type: msgError, Message: msg})
}

func (c *wsConn) writeLoop() {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	defer c.ws.Close()

	for {
		select {
		case <-c.ctx.Done():
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeTimeout))
			return
		case <-ping.C:
			if err := c.ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeTimeout)); err != nil {
				c.cancel()
				return
			}
		case f := <-c.out:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(f.kind, f.data); err != nil {
				c.log.Debug().Err(err).Msg("Write failed")
				c.cancel()
				return
			}
		}
	}
}
