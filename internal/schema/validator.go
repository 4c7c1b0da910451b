// Package schema defines the JSON request bodies of the HTTP API and
// validates them before they reach a handler.
package schema

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"ai-interview-voice-service/internal/models"
)

// Error messages returned to clients.
var (
	ErrTextRequired     = errors.New("Text is required")
	ErrMessagesRequired = errors.New("Messages array is required")
	ErrQueryRequired    = errors.New("Query is required")
	ErrUploadRequired   = errors.New("Table and data are required")
	ErrNameEmail        = errors.New("name and email are required")
	ErrInvalidEmail     = errors.New("invalid email address")
	ErrInvalidRole      = errors.New("invalid message role")
)

type UserInfoRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type ChatRequest struct {
	Messages []models.ChatMessage `json:"messages"`
}

type SummaryRequest struct {
	Messages []models.ChatMessage `json:"messages"`
}

type TTSRequest struct {
	Text string `json:"text"`
}

type TextMessageRequest struct {
	Text string `json:"text"`
}

type UploadRequest struct {
	Table string         `json:"table"`
	Data  map[string]any `json:"data"`
}

type QueryRequest struct {
	Query  string `json:"query"`
	Params []any  `json:"params"`
}

// Validator checks decoded requests.
type Validator struct{}

func New() *Validator {
	return &Validator{}
}

// Validate returns the first problem with req, or nil.
func (v *Validator) Validate(req any) error {
	switch r := req.(type) {
	case *UserInfoRequest:
		r.Name = strings.TrimSpace(r.Name)
		r.Email = strings.TrimSpace(r.Email)
		if r.Name == "" || r.Email == "" {
			return ErrNameEmail
		}
		if _, err := mail.ParseAddress(r.Email); err != nil {
			return ErrInvalidEmail
		}
	case *ChatRequest:
		return validateMessages(r.Messages)
	case *SummaryRequest:
		return validateMessages(r.Messages)
	case *TTSRequest:
		if strings.TrimSpace(r.Text) == "" {
			return ErrTextRequired
		}
	case *TextMessageRequest:
		if strings.TrimSpace(r.Text) == "" {
			return ErrTextRequired
		}
	case *UploadRequest:
		if r.Table == "" || r.Data == nil {
			return ErrUploadRequired
		}
	case *QueryRequest:
		if strings.TrimSpace(r.Query) == "" {
			return ErrQueryRequired
		}
	default:
		return fmt.Errorf("schema: unsupported request type %T", req)
	}
	return nil
}

func validateMessages(msgs []models.ChatMessage) error {
	if len(msgs) == 0 {
		return ErrMessagesRequired
	}
	for i, m := range msgs {
		switch m.Role {
		case models.RoleSystem, models.RoleUser, models.RoleAssistant:
		default:
			return fmt.Errorf("%w at %d: %q", ErrInvalidRole, i, m.Role)
		}
	}
	return nil
}
