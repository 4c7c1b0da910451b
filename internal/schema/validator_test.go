package schema

import (
	"errors"
	"testing"

	"ai-interview-voice-service/internal/models"
)

func TestValidate(t *testing.T) {
	v := New()
	msgs := []models.ChatMessage{{Role: models.RoleUser, Content: "你好"}}

	tests := []struct {
		name string
		req  any
		want error
	}{
		{"user info ok", &UserInfoRequest{Name: "李明", Email: "li@example.com"}, nil},
		{"user info missing", &UserInfoRequest{Name: " ", Email: "li@example.com"}, ErrNameEmail},
		{"user info bad email", &UserInfoRequest{Name: "李明", Email: "nope"}, ErrInvalidEmail},
		{"chat ok", &ChatRequest{Messages: msgs}, nil},
		{"chat empty", &ChatRequest{}, ErrMessagesRequired},
		{"chat bad role", &ChatRequest{Messages: []models.ChatMessage{{Role: "robot"}}}, ErrInvalidRole},
		{"summary empty", &SummaryRequest{}, ErrMessagesRequired},
		{"tts blank", &TTSRequest{Text: "  "}, ErrTextRequired},
		{"text ok", &TextMessageRequest{Text: "hi"}, nil},
		{"upload missing data", &UploadRequest{Table: "agents"}, ErrUploadRequired},
		{"upload ok", &UploadRequest{Table: "agents", Data: map[string]any{"email": "a"}}, nil},
		{"query blank", &QueryRequest{}, ErrQueryRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.req)
			if tt.want == nil && err != nil {
				t.Fatalf("unexpected error %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestValidate_TrimsUserInfo(t *testing.T) {
	req := &UserInfoRequest{Name: " 李明 ", Email: " li@example.com "}
	if err := New().Validate(req); err != nil {
		t.Fatal(err)
	}
	if req.Name != "李明" || req.Email != "li@example.com" {
		t.Errorf("expected trimmed fields, got %+v", req)
	}
}

func TestValidate_UnknownType(t *testing.T) {
	if err := New().Validate(struct{}{}); err == nil {
		t.Error("expected error for unknown type")
	}
}
