// Package store persists conversation turns, call mappings, analytics events
// and dashboard domain records.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Role of a persisted turn.
type Role string

const (
	RoleUser   Role = "user"
	RoleAgent  Role = "agent"
	RoleSystem Role = "system" // synthetic summary turn, never persisted
)

// Channel a turn or metric arrived on.
type Channel string

const (
	ChannelVoice Channel = "voice"
	ChannelChat  Channel = "chat"
	ChannelWeb   Channel = "web"
)

var (
	ErrNotFound  = errors.New("store: not found")
	ErrDuplicate = errors.New("store: already exists")
)

// Turn is one persisted conversation message.
type Turn struct {
	CustomerID string    `json:"customer_id"`
	Role       Role      `json:"role"`
	Channel    Channel   `json:"channel"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

// MessageMetric is one tracked message.
type MessageMetric struct {
	CustomerID     string    `json:"customer_id"`
	Channel        Channel   `json:"channel"`
	Role           Role      `json:"role"`
	Domain         string    `json:"domain"`
	ResponseTimeMs *float64  `json:"response_time_ms"`
	CreatedAt      time.Time `json:"created_at"`
}

// IntentEvent records one detected intent.
type IntentEvent struct {
	CustomerID       string    `json:"customer_id"`
	Intent           string    `json:"intent"`
	Confidence       float64   `json:"confidence"`
	WebhookTriggered bool      `json:"webhook_triggered"`
	Domain           string    `json:"domain"`
	CreatedAt        time.Time `json:"created_at"`
}

// ConversationRecord is the summary written when a conversation ends.
type ConversationRecord struct {
	ID                int64     `json:"id"`
	CustomerID        string    `json:"customer_id"`
	Channel           Channel   `json:"channel"`
	Domain            string    `json:"domain"`
	StartTime         time.Time `json:"start_time"`
	EndTime           time.Time `json:"end_time"`
	MessageCount      int       `json:"message_count"`
	AvgResponseTimeMs float64   `json:"avg_response_time_ms"`
	IntentsDetected   []string  `json:"intents_detected"`
	Escalated         bool      `json:"escalated"`
	Resolved          bool      `json:"resolved"`
}

// ConversationQuery pages through conversation records, newest first.
type ConversationQuery struct {
	Limit   int
	Offset  int
	Channel Channel
}

// DomainRecord is a dashboard-managed domain row.
type DomainRecord struct {
	Domain       string    `json:"domain"`
	DisplayName  string    `json:"display_name"`
	SystemPrompt string    `json:"system_prompt"`
	Greeting     string    `json:"greeting"`
	PrimaryColor string    `json:"primary_color"`
	LogoURL      *string   `json:"logo_url"`
	Active       bool      `json:"active"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// DomainUpdate carries the fields of a partial domain update. Nil fields are
// left untouched.
type DomainUpdate struct {
	DisplayName  *string
	SystemPrompt *string
	Greeting     *string
	PrimaryColor *string
	LogoURL      *string
	Active       *bool
}

// Empty reports whether the update changes nothing.
func (u DomainUpdate) Empty() bool {
	return u.DisplayName == nil && u.SystemPrompt == nil && u.Greeting == nil &&
		u.PrimaryColor == nil && u.LogoURL == nil && u.Active == nil
}

// Store is the persistence contract. Turn reads return newest first.
type Store interface {
	GetTurns(ctx context.Context, customerID string, limit int) ([]Turn, error)
	AppendTurn(ctx context.Context, customerID string, role Role, content string, channel Channel) (bool, error)

	GetCallMapping(ctx context.Context, callID string) (string, error)
	StoreCallMapping(ctx context.Context, callID, customerID string) error
	DeleteCallMapping(ctx context.Context, callID string) error

	RecordMessageMetric(ctx context.Context, m MessageMetric) error
	RecordIntentEvent(ctx context.Context, e IntentEvent) error
	MessageMetricsSince(ctx context.Context, since time.Time) ([]MessageMetric, error)
	IntentEventsSince(ctx context.Context, since time.Time) ([]IntentEvent, error)

	SaveConversation(ctx context.Context, c ConversationRecord) error
	ConversationsSince(ctx context.Context, since time.Time) ([]ConversationRecord, error)
	ListConversations(ctx context.Context, q ConversationQuery) ([]ConversationRecord, error)

	ListDomainRecords(ctx context.Context) ([]DomainRecord, error)
	CreateDomainRecord(ctx context.Context, r DomainRecord) error
	UpdateDomainRecord(ctx context.Context, domain string, u DomainUpdate) error

	Migrate(ctx context.Context) error
	Close() error
}

// Open selects a backend by DSN scheme: memory://, sqlite://path or
// postgres://... (postgresql:// is accepted too).
func Open(ctx context.Context, dsn string) (Store, error) {
	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return nil, fmt.Errorf("store: invalid DSN %q", dsn)
	}
	switch strings.ToLower(scheme) {
	case "memory":
		return NewMemory(), nil
	case "sqlite", "sqlite3":
		if rest == "" {
			return nil, fmt.Errorf("store: sqlite DSN needs a path")
		}
		return OpenSQLite(ctx, rest)
	case "postgres", "postgresql":
		return OpenPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("store: unsupported scheme %q", scheme)
	}
}

func joinIntents(intents []string) string {
	return strings.Join(intents, ",")
}

func splitIntents(s string) []string {
	out := []string{}
	for _, p := range strings.Split(s, ",") {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func normalizeQuery(q ConversationQuery) ConversationQuery {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}
