package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// SQLite is a Store backed by a single SQLite file.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens path and applies migrations.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	// modernc serializes writers per connection; one connection avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping sqlite: %w", err)
	}

	s := &SQLite{db: db, now: time.Now}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db, goose.DialectSQLite3, "migrations/sqlite")
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func (s *SQLite) GetTurns(ctx context.Context, customerID string, limit int) ([]Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, channel, message, created_at FROM player_sessions
		 WHERE player_id = ? ORDER BY id DESC LIMIT ?`, customerID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: get turns: %w", err)
	}
	defer rows.Close()

	var out []Turn
	for rows.Next() {
		var (
			t       Turn
			created int64
		)
		if err := rows.Scan(&t.Role, &t.Channel, &t.Content, &created); err != nil {
			return nil, err
		}
		t.CustomerID = customerID
		t.CreatedAt = fromMillis(created)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLite) AppendTurn(ctx context.Context, customerID string, role Role, content string, channel Channel) (bool, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO player_sessions (player_id, channel, role, message, created_at) VALUES (?, ?, ?, ?, ?)`,
		customerID, string(channel), string(role), content, toMillis(s.now()))
	if err != nil {
		return false, fmt.Errorf("store: append turn: %w", err)
	}
	return true, nil
}

func (s *SQLite) GetCallMapping(ctx context.Context, callID string) (string, error) {
	var customerID string
	err := s.db.QueryRowContext(ctx,
		`SELECT customer_id FROM call_mappings WHERE call_id = ?`, callID).Scan(&customerID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("store: get call mapping: %w", err)
	}
	return customerID, nil
}

func (s *SQLite) StoreCallMapping(ctx context.Context, callID, customerID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO call_mappings (call_id, customer_id, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (call_id) DO UPDATE SET customer_id = excluded.customer_id`,
		callID, customerID, toMillis(s.now()))
	if err != nil {
		return fmt.Errorf("store: store call mapping: %w", err)
	}
	return nil
}

func (s *SQLite) DeleteCallMapping(ctx context.Context, callID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM call_mappings WHERE call_id = ?`, callID); err != nil {
		return fmt.Errorf("store: delete call mapping: %w", err)
	}
	return nil
}

func (s *SQLite) RecordMessageMetric(ctx context.Context, m MessageMetric) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO analytics_messages (customer_id, channel, role, domain, response_time_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.CustomerID, string(m.Channel), string(m.Role), m.Domain, m.ResponseTimeMs, toMillis(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("store: record message metric: %w", err)
	}
	return nil
}

func (s *SQLite) RecordIntentEvent(ctx context.Context, e IntentEvent) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO analytics_intents (customer_id, intent, confidence, webhook_triggered, domain, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.CustomerID, e.Intent, e.Confidence, e.WebhookTriggered, e.Domain, toMillis(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("store: record intent event: %w", err)
	}
	return nil
}

func (s *SQLite) MessageMetricsSince(ctx context.Context, since time.Time) ([]MessageMetric, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT customer_id, channel, role, domain, response_time_ms, created_at
		 FROM analytics_messages WHERE created_at >= ? ORDER BY id`, toMillis(since))
	if err != nil {
		return nil, fmt.Errorf("store: message metrics: %w", err)
	}
	defer rows.Close()

	var out []MessageMetric
	for rows.Next() {
		var (
			m       MessageMetric
			rt      sql.NullFloat64
			created int64
		)
		if err := rows.Scan(&m.CustomerID, &m.Channel, &m.Role, &m.Domain, &rt, &created); err != nil {
			return nil, err
		}
		if rt.Valid {
			v := rt.Float64
			m.ResponseTimeMs = &v
		}
		m.CreatedAt = fromMillis(created)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLite) IntentEventsSince(ctx context.Context, since time.Time) ([]IntentEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT customer_id, intent, confidence, webhook_triggered, domain, created_at
		 FROM analytics_intents WHERE created_at >= ? ORDER BY id`, toMillis(since))
	if err != nil {
		return nil, fmt.Errorf("store: intent events: %w", err)
	}
	defer rows.Close()

	var out []IntentEvent
	for rows.Next() {
		var (
			e       IntentEvent
			created int64
		)
		if err := rows.Scan(&e.CustomerID, &e.Intent, &e.Confidence, &e.WebhookTriggered, &e.Domain, &created); err != nil {
			return nil, err
		}
		e.CreatedAt = fromMillis(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLite) SaveConversation(ctx context.Context, c ConversationRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO analytics_conversations
		 (customer_id, channel, domain, start_time, end_time, message_count, avg_response_time_ms,
		  intents_detected, escalated, resolved)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.CustomerID, string(c.Channel), c.Domain, toMillis(c.StartTime), toMillis(c.EndTime),
		c.MessageCount, c.AvgResponseTimeMs, joinIntents(c.IntentsDetected), c.Escalated, c.Resolved)
	if err != nil {
		return fmt.Errorf("store: save conversation: %w", err)
	}
	return nil
}

const sqliteConversationCols = `id, customer_id, channel, domain, start_time, end_time, message_count,
	avg_response_time_ms, intents_detected, escalated, resolved`

func scanSQLiteConversations(rows *sql.Rows) ([]ConversationRecord, error) {
	defer rows.Close()
	out := []ConversationRecord{}
	for rows.Next() {
		var (
			c          ConversationRecord
			start, end int64
			intents    string
		)
		if err := rows.Scan(&c.ID, &c.CustomerID, &c.Channel, &c.Domain, &start, &end, &c.MessageCount,
			&c.AvgResponseTimeMs, &intents, &c.Escalated, &c.Resolved); err != nil {
			return nil, err
		}
		c.StartTime = fromMillis(start)
		c.EndTime = fromMillis(end)
		c.IntentsDetected = splitIntents(intents)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLite) ConversationsSince(ctx context.Context, since time.Time) ([]ConversationRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteConversationCols+` FROM analytics_conversations WHERE start_time >= ? ORDER BY start_time`,
		toMillis(since))
	if err != nil {
		return nil, fmt.Errorf("store: conversations: %w", err)
	}
	return scanSQLiteConversations(rows)
}

func (s *SQLite) ListConversations(ctx context.Context, q ConversationQuery) ([]ConversationRecord, error) {
	q = normalizeQuery(q)

	var (
		where []string
		args  []any
	)
	if q.Channel != "" {
		where = append(where, "channel = ?")
		args = append(args, string(q.Channel))
	}
	query := `SELECT ` + sqliteConversationCols + ` FROM analytics_conversations`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += ` ORDER BY start_time DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, q.Limit, q.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list conversations: %w", err)
	}
	return scanSQLiteConversations(rows)
}

func (s *SQLite) ListDomainRecords(ctx context.Context) ([]DomainRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT domain, display_name, system_prompt, greeting, primary_color, logo_url, active, updated_at
		 FROM domain_configs ORDER BY domain`)
	if err != nil {
		return nil, fmt.Errorf("store: list domains: %w", err)
	}
	defer rows.Close()

	out := []DomainRecord{}
	for rows.Next() {
		var (
			r       DomainRecord
			logo    sql.NullString
			updated int64
		)
		if err := rows.Scan(&r.Domain, &r.DisplayName, &r.SystemPrompt, &r.Greeting, &r.PrimaryColor,
			&logo, &r.Active, &updated); err != nil {
			return nil, err
		}
		if logo.Valid {
			r.LogoURL = &logo.String
		}
		r.UpdatedAt = fromMillis(updated)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLite) CreateDomainRecord(ctx context.Context, r DomainRecord) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO domain_configs
		 (domain, display_name, system_prompt, greeting, primary_color, logo_url, active, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT (domain) DO NOTHING`,
		r.Domain, r.DisplayName, r.SystemPrompt, r.Greeting, r.PrimaryColor, r.LogoURL, r.Active, toMillis(s.now()))
	if err != nil {
		return fmt.Errorf("store: create domain: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDuplicate
	}
	return nil
}

func (s *SQLite) UpdateDomainRecord(ctx context.Context, domain string, u DomainUpdate) error {
	sets, args := domainUpdateSets(u, func(int) string { return "?" })
	if len(sets) == 0 {
		return s.domainExists(ctx, domain)
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, toMillis(s.now()), domain)

	res, err := s.db.ExecContext(ctx,
		`UPDATE domain_configs SET `+strings.Join(sets, ", ")+` WHERE domain = ?`, args...)
	if err != nil {
		return fmt.Errorf("store: update domain: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) domainExists(ctx context.Context, domain string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM domain_configs WHERE domain = ?`, domain).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// domainUpdateSets builds "col = <placeholder>" fragments for the non-nil
// fields of u. placeholder receives the 1-based argument position.
func domainUpdateSets(u DomainUpdate, placeholder func(int) string) ([]string, []any) {
	var (
		sets []string
		args []any
	)
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, col+" = "+placeholder(len(args)))
	}
	if u.DisplayName != nil {
		add("display_name", *u.DisplayName)
	}
	if u.SystemPrompt != nil {
		add("system_prompt", *u.SystemPrompt)
	}
	if u.Greeting != nil {
		add("greeting", *u.Greeting)
	}
	if u.PrimaryColor != nil {
		add("primary_color", *u.PrimaryColor)
	}
	if u.LogoURL != nil {
		add("logo_url", *u.LogoURL)
	}
	if u.Active != nil {
		add("active", *u.Active)
	}
	return sets, args
}

var _ Store = (*SQLite)(nil)
