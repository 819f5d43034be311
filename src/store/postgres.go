package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// Postgres is a Store backed by a pgx connection pool. Supabase projects
// expose the same schema through their Postgres connection string.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn and applies migrations.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse postgres DSN: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping postgres: %w", err)
	}

	p := &Postgres{pool: pool}
	if err := p.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) Migrate(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(p.pool)
	defer db.Close()
	return runMigrations(ctx, db, goose.DialectPostgres, "migrations/postgres")
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) GetTurns(ctx context.Context, customerID string, limit int) ([]Turn, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT role, channel, message, created_at FROM player_sessions
		 WHERE player_id = $1 ORDER BY id DESC LIMIT $2`, customerID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: get turns: %w", err)
	}
	defer rows.Close()

	var out []Turn
	for rows.Next() {
		var (
			t             Turn
			role, channel string
		)
		if err := rows.Scan(&role, &channel, &t.Content, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.CustomerID = customerID
		t.Role = Role(role)
		t.Channel = Channel(channel)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *Postgres) AppendTurn(ctx context.Context, customerID string, role Role, content string, channel Channel) (bool, error) {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO player_sessions (player_id, channel, role, message) VALUES ($1, $2, $3, $4)`,
		customerID, string(channel), string(role), content)
	if err != nil {
		return false, fmt.Errorf("store: append turn: %w", err)
	}
	return true, nil
}

func (p *Postgres) GetCallMapping(ctx context.Context, callID string) (string, error) {
	var customerID string
	err := p.pool.QueryRow(ctx,
		`SELECT customer_id FROM call_mappings WHERE call_id = $1`, callID).Scan(&customerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("store: get call mapping: %w", err)
	}
	return customerID, nil
}

func (p *Postgres) StoreCallMapping(ctx context.Context, callID, customerID string) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO call_mappings (call_id, customer_id) VALUES ($1, $2)
		 ON CONFLICT (call_id) DO UPDATE SET customer_id = EXCLUDED.customer_id`,
		callID, customerID)
	if err != nil {
		return fmt.Errorf("store: store call mapping: %w", err)
	}
	return nil
}

func (p *Postgres) DeleteCallMapping(ctx context.Context, callID string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM call_mappings WHERE call_id = $1`, callID); err != nil {
		return fmt.Errorf("store: delete call mapping: %w", err)
	}
	return nil
}

func (p *Postgres) RecordMessageMetric(ctx context.Context, m MessageMetric) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	_, err := p.pool.Exec(ctx,
		`INSERT INTO analytics_messages (customer_id, channel, role, domain, response_time_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		m.CustomerID, string(m.Channel), string(m.Role), m.Domain, m.ResponseTimeMs, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: record message metric: %w", err)
	}
	return nil
}

func (p *Postgres) RecordIntentEvent(ctx context.Context, e IntentEvent) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := p.pool.Exec(ctx,
		`INSERT INTO analytics_intents (customer_id, intent, confidence, webhook_triggered, domain, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.CustomerID, e.Intent, e.Confidence, e.WebhookTriggered, e.Domain, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: record intent event: %w", err)
	}
	return nil
}

func (p *Postgres) MessageMetricsSince(ctx context.Context, since time.Time) ([]MessageMetric, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT customer_id, channel, role, domain, response_time_ms, created_at
		 FROM analytics_messages WHERE created_at >= $1 ORDER BY id`, since)
	if err != nil {
		return nil, fmt.Errorf("store: message metrics: %w", err)
	}
	defer rows.Close()

	var out []MessageMetric
	for rows.Next() {
		var (
			m             MessageMetric
			channel, role string
		)
		if err := rows.Scan(&m.CustomerID, &channel, &role, &m.Domain, &m.ResponseTimeMs, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Channel = Channel(channel)
		m.Role = Role(role)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (p *Postgres) IntentEventsSince(ctx context.Context, since time.Time) ([]IntentEvent, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT customer_id, intent, confidence, webhook_triggered, domain, created_at
		 FROM analytics_intents WHERE created_at >= $1 ORDER BY id`, since)
	if err != nil {
		return nil, fmt.Errorf("store: intent events: %w", err)
	}
	defer rows.Close()

	var out []IntentEvent
	for rows.Next() {
		var e IntentEvent
		if err := rows.Scan(&e.CustomerID, &e.Intent, &e.Confidence, &e.WebhookTriggered, &e.Domain, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *Postgres) SaveConversation(ctx context.Context, c ConversationRecord) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO analytics_conversations
		 (customer_id, channel, domain, start_time, end_time, message_count, avg_response_time_ms,
		  intents_detected, escalated, resolved)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		c.CustomerID, string(c.Channel), c.Domain, c.StartTime, c.EndTime, c.MessageCount,
		c.AvgResponseTimeMs, joinIntents(c.IntentsDetected), c.Escalated, c.Resolved)
	if err != nil {
		return fmt.Errorf("store: save conversation: %w", err)
	}
	return nil
}

const pgConversationCols = `id, customer_id, channel, domain, start_time, end_time, message_count,
	avg_response_time_ms, intents_detected, escalated, resolved`

func collectConversations(rows pgx.Rows) ([]ConversationRecord, error) {
	defer rows.Close()
	out := []ConversationRecord{}
	for rows.Next() {
		var (
			c                ConversationRecord
			channel, intents string
		)
		if err := rows.Scan(&c.ID, &c.CustomerID, &channel, &c.Domain, &c.StartTime, &c.EndTime,
			&c.MessageCount, &c.AvgResponseTimeMs, &intents, &c.Escalated, &c.Resolved); err != nil {
			return nil, err
		}
		c.Channel = Channel(channel)
		c.IntentsDetected = splitIntents(intents)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *Postgres) ConversationsSince(ctx context.Context, since time.Time) ([]ConversationRecord, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+pgConversationCols+` FROM analytics_conversations WHERE start_time >= $1 ORDER BY start_time`, since)
	if err != nil {
		return nil, fmt.Errorf("store: conversations: %w", err)
	}
	return collectConversations(rows)
}

func (p *Postgres) ListConversations(ctx context.Context, q ConversationQuery) ([]ConversationRecord, error) {
	q = normalizeQuery(q)

	query := `SELECT ` + pgConversationCols + ` FROM analytics_conversations`
	args := []any{}
	if q.Channel != "" {
		args = append(args, string(q.Channel))
		query += ` WHERE channel = $1`
	}
	args = append(args, q.Limit, q.Offset)
	query += fmt.Sprintf(` ORDER BY start_time DESC, id DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list conversations: %w", err)
	}
	return collectConversations(rows)
}

func (p *Postgres) ListDomainRecords(ctx context.Context) ([]DomainRecord, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT domain, display_name, system_prompt, greeting, primary_color, logo_url, active, updated_at
		 FROM domain_configs ORDER BY domain`)
	if err != nil {
		return nil, fmt.Errorf("store: list domains: %w", err)
	}
	defer rows.Close()

	out := []DomainRecord{}
	for rows.Next() {
		var r DomainRecord
		if err := rows.Scan(&r.Domain, &r.DisplayName, &r.SystemPrompt, &r.Greeting, &r.PrimaryColor,
			&r.LogoURL, &r.Active, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) CreateDomainRecord(ctx context.Context, r DomainRecord) error {
	tag, err := p.pool.Exec(ctx,
		`INSERT INTO domain_configs
		 (domain, display_name, system_prompt, greeting, primary_color, logo_url, active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) ON CONFLICT (domain) DO NOTHING`,
		r.Domain, r.DisplayName, r.SystemPrompt, r.Greeting, r.PrimaryColor, r.LogoURL, r.Active)
	if err != nil {
		return fmt.Errorf("store: create domain: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicate
	}
	return nil
}

func (p *Postgres) UpdateDomainRecord(ctx context.Context, domain string, u DomainUpdate) error {
	sets, args := domainUpdateSets(u, func(n int) string { return "$" + strconv.Itoa(n) })
	if len(sets) == 0 {
		var one int
		err := p.pool.QueryRow(ctx, `SELECT 1 FROM domain_configs WHERE domain = $1`, domain).Scan(&one)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	sets = append(sets, "updated_at = now()")
	args = append(args, domain)

	tag, err := p.pool.Exec(ctx,
		`UPDATE domain_configs SET `+strings.Join(sets, ", ")+fmt.Sprintf(` WHERE domain = $%d`, len(args)),
		args...)
	if err != nil {
		return fmt.Errorf("store: update domain: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

var _ Store = (*Postgres)(nil)
