// Package persistence stores finished interviews in the agents table.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/supabase-community/supabase-go"

	"ai-interview-voice-service/internal/db"
)

// AgentsTable is the only table accepted for uploads.
const AgentsTable = "agents"

var (
	ErrUnsupportedTable = errors.New("unsupported table type")
	ErrInvalidAgent     = errors.New("email, name and bg are required")
)

// Agent is one stored interview summary.
type Agent struct {
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Bg        string    `json:"bg"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks the required fields.
func (a Agent) Validate() error {
	if strings.TrimSpace(a.Email) == "" || strings.TrimSpace(a.Name) == "" || strings.TrimSpace(a.Bg) == "" {
		return ErrInvalidAgent
	}
	return nil
}

// Store writes agents to a backend.
type Store interface {
	InsertAgent(ctx context.Context, a Agent) (map[string]any, error)
	Backend() string
}

// PostgresStore writes through the pgx pool.
type PostgresStore struct {
	db *db.DB
}

func NewPostgresStore(d *db.DB) *PostgresStore {
	return &PostgresStore{db: d}
}

func (s *PostgresStore) Backend() string { return "postgres" }

func (s *PostgresStore) InsertAgent(ctx context.Context, a Agent) (map[string]any, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return s.db.InsertAgent(ctx, a.Email, a.Name, a.Bg, a.CreatedAt)
}

// SupabaseStore writes through the Supabase REST API.
type SupabaseStore struct {
	client *supabase.Client
}

// NewSupabaseStore creates a store for the project at url.
func NewSupabaseStore(url, key string) (*SupabaseStore, error) {
	if url == "" || key == "" {
		return nil, fmt.Errorf("supabase: %w", db.ErrNotConfigured)
	}
	client, err := supabase.NewClient(url, key, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("create supabase client: %w", err)
	}
	return &SupabaseStore{client: client}, nil
}

func (s *SupabaseStore) Backend() string { return "supabase" }

func (s *SupabaseStore) InsertAgent(ctx context.Context, a Agent) (map[string]any, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rows []map[string]any
	_, err := s.client.From(AgentsTable).
		Insert(a, false, "", "representation", "").
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("supabase insert: %w", err)
	}
	if len(rows) == 0 {
		return map[string]any{}, nil
	}
	return rows[0], nil
}
