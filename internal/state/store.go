// Package state holds the shared conversation state: the flags and
// messages every other component reads and writes through named setters.
package state

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Role of a conversation message author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is an immutable entry of the transcript.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// StreamingMessage is the reply currently being revealed.
type StreamingMessage struct {
	ID         string `json:"id"`
	Role       Role   `json:"role"`
	Content    string `json:"content"`
	IsComplete bool   `json:"isComplete"`
}

// Flags are the UI-facing activity flags.
type Flags struct {
	Recording         bool    `json:"isRecording"`
	Speaking          bool    `json:"isSpeaking"`
	Processing        bool    `json:"isProcessing"`
	WaitingToUpload   bool    `json:"isWaitingToUpload"`
	SilenceProgress   float64 `json:"silenceProgress"`
	MicrophoneEnabled bool    `json:"isMicrophoneEnabled"`
	CallActive        bool    `json:"isCallActive"`
}

// Snapshot is a consistent copy of the whole store.
type Snapshot struct {
	ConversationID string            `json:"conversationId,omitempty"`
	Language       string            `json:"language"`
	Error          string            `json:"error,omitempty"`
	Messages       []Message         `json:"messages"`
	Streaming      *StreamingMessage `json:"streamingMessage,omitempty"`
	Flags
}

// ChangeKind groups store notifications.
type ChangeKind string

const (
	ChangeFlags        ChangeKind = "flags"
	ChangeMessages     ChangeKind = "messages"
	ChangeStreaming    ChangeKind = "streaming"
	ChangeError        ChangeKind = "error"
	ChangeConversation ChangeKind = "conversation"
)

// Change describes one effective mutation.
type Change struct {
	Kind     ChangeKind `json:"kind"`
	Field    string     `json:"field,omitempty"`
	Snapshot Snapshot   `json:"snapshot"`
}

// Listener receives changes. Listeners run with the store locked and must
// not call back into it.
type Listener func(Change)

// Store is the single source of truth for one conversation.
// Setters are no-ops when the value does not change.
type Store struct {
	mu sync.Mutex

	conversationID string
	language       string
	errMsg         string
	flags          Flags
	messages       []Message
	streaming      *StreamingMessage

	listeners map[int]Listener
	nextID    int
	now       func() time.Time
}

// New returns a store with the microphone enabled.
func New(language string) *Store {
	if language == "" {
		language = "zh-CN"
	}
	return &Store{
		language:  language,
		flags:     Flags{MicrophoneEnabled: true},
		listeners: make(map[int]Listener),
		now:       time.Now,
	}
}

// Subscribe registers l and returns a function that removes it.
func (s *Store) Subscribe(l Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// notify must be called with mu held.
func (s *Store) notify(kind ChangeKind, field string) {
	if len(s.listeners) == 0 {
		return
	}
	c := Change{Kind: kind, Field: field, Snapshot: s.snapshotLocked()}
	for _, l := range s.listeners {
		l(c)
	}
}

func (s *Store) setFlag(field string, cur *bool, v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if *cur == v {
		return
	}
	*cur = v
	s.notify(ChangeFlags, field)
}

func (s *Store) SetRecording(v bool) { s.setFlag("isRecording", &s.flags.Recording, v) }

func (s *Store) SetProcessing(v bool) { s.setFlag("isProcessing", &s.flags.Processing, v) }

func (s *Store) SetWaitingToUpload(v bool) {
	s.setFlag("isWaitingToUpload", &s.flags.WaitingToUpload, v)
}

func (s *Store) SetMicrophoneEnabled(v bool) {
	s.setFlag("isMicrophoneEnabled", &s.flags.MicrophoneEnabled, v)
}

// SetSpeaking updates the speaking flag. Speaking and recording are never
// both true, so speaking clears recording.
func (s *Store) SetSpeaking(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.flags.Speaking == v {
		return
	}
	s.flags.Speaking = v
	if v {
		s.flags.Recording = false
	}
	s.notify(ChangeFlags, "isSpeaking")
}

// SetCallActive updates the call flag; an inactive call has no activity.
func (s *Store) SetCallActive(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.flags.CallActive == v {
		return
	}
	s.flags.CallActive = v
	if !v {
		s.clearActivityLocked()
	}
	s.notify(ChangeFlags, "isCallActive")
}

// SetSilenceProgress stores the countdown progress, clamped to [0, 100].
func (s *Store) SetSilenceProgress(p float64) {
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.flags.SilenceProgress == p {
		return
	}
	s.flags.SilenceProgress = p
	s.notify(ChangeFlags, "silenceProgress")
}

// SetError sets the user-facing error text; "" clears it.
func (s *Store) SetError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errMsg == msg {
		return
	}
	s.errMsg = msg
	s.notify(ChangeError, "error")
}

// AddMessage appends a finished message and returns it.
func (s *Store) AddMessage(role Role, content string) Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := Message{
		ID:        ulid.Make().String(),
		Role:      role,
		Content:   content,
		Timestamp: s.now(),
	}
	s.messages = append(s.messages, m)
	s.notify(ChangeMessages, "messages")
	return m
}

// StartStreamingMessage replaces any streaming message with an empty one.
func (s *Store) StartStreamingMessage(role Role) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := ulid.Make().String()
	s.streaming = &StreamingMessage{ID: id, Role: role}
	s.notify(ChangeStreaming, "streamingMessage")
	return id
}

// AppendToStreamingMessage grows the streaming message. No-op without one.
func (s *Store) AppendToStreamingMessage(text string) {
	if text == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streaming == nil {
		return
	}
	s.streaming.Content += text
	s.notify(ChangeStreaming, "streamingMessage")
}

// CompleteStreamingMessage converts the streaming message into a permanent
// message. It reports false when there was nothing to complete.
func (s *Store) CompleteStreamingMessage() (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streaming == nil {
		return Message{}, false
	}
	m := Message{
		ID:        s.streaming.ID,
		Role:      s.streaming.Role,
		Content:   s.streaming.Content,
		Timestamp: s.now(),
	}
	s.messages = append(s.messages, m)
	s.streaming = nil
	s.notify(ChangeMessages, "messages")
	return m, true
}

// StartNewConversation mints a conversation id, clears messages and marks
// the call active.
func (s *Store) StartNewConversation() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversationID = uuid.NewString()
	s.flags.CallActive = true
	s.messages = nil
	s.streaming = nil
	s.errMsg = ""
	s.notify(ChangeConversation, "conversationId")
	return s.conversationID
}

// EndConversation resets every flag; the transcript is kept for display.
func (s *Store) EndConversation() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversationID = ""
	s.flags.CallActive = false
	s.clearActivityLocked()
	s.flags.MicrophoneEnabled = true
	s.streaming = nil
	s.errMsg = ""
	s.notify(ChangeConversation, "conversationId")
}

func (s *Store) clearActivityLocked() {
	s.flags.Recording = false
	s.flags.Speaking = false
	s.flags.Processing = false
	s.flags.WaitingToUpload = false
	s.flags.SilenceProgress = 0
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{
		ConversationID: s.conversationID,
		Language:       s.language,
		Error:          s.errMsg,
		Messages:       append([]Message(nil), s.messages...),
		Flags:          s.flags,
	}
	if s.streaming != nil {
		sm := *s.streaming
		snap.Streaming = &sm
	}
	return snap
}

// Messages returns a copy of the transcript.
func (s *Store) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

// Flags returns the current flags.
func (s *Store) Flags() Flags {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flags
}

func (s *Store) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

func (s *Store) Language() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.language
}

func (s *Store) HasStreamingMessage() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming != nil
}
