// Package models defines the data structures shared across services and
// published as events.
package models

// Event types carried in the eventType field and Kafka header.
const (
	EventTypeTurn    = "interview.turn"
	EventTypeSummary = "interview.summary"
)

// TurnEvent records one finished message of a conversation.
type TurnEvent struct {
	EventType      string `json:"eventType"`
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	Role           string `json:"role"`
	Text           string `json:"text"`
	Timestamp      int64  `json:"timestamp"`
	// EndOfInterview is set on the assistant turn that closed the interview.
	EndOfInterview bool `json:"endOfInterview,omitempty"`
	LatencyMs      int64 `json:"latencyMs,omitempty"`
}

// SummaryEvent is published once per completed interview.
type SummaryEvent struct {
	EventType      string   `json:"eventType"`
	ConversationID string   `json:"conversationId"`
	Name           string   `json:"name,omitempty"`
	Email          string   `json:"email,omitempty"`
	Summary        string   `json:"summary"`
	Tags           []string `json:"tags"`
	MessageCount   int      `json:"messageCount"`
	Timestamp      int64    `json:"timestamp"`
}
