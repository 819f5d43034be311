package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process Store for tests and local development.
type Memory struct {
	mu            sync.RWMutex
	turns         map[string][]Turn
	callMappings  map[string]string
	metrics       []MessageMetric
	intents       []IntentEvent
	conversations []ConversationRecord
	domains       map[string]DomainRecord
	nextConvID    int64
	now           func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		turns:        make(map[string][]Turn),
		callMappings: make(map[string]string),
		domains:      make(map[string]DomainRecord),
		now:          time.Now,
	}
}

func (m *Memory) GetTurns(_ context.Context, customerID string, limit int) ([]Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.turns[customerID]
	out := make([]Turn, 0, min(len(all), max(limit, 0)))
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (m *Memory) AppendTurn(_ context.Context, customerID string, role Role, content string, channel Channel) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns[customerID] = append(m.turns[customerID], Turn{
		CustomerID: customerID,
		Role:       role,
		Channel:    channel,
		Content:    content,
		CreatedAt:  m.now(),
	})
	return true, nil
}

func (m *Memory) GetCallMapping(_ context.Context, callID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.callMappings[callID]
	if !ok {
		return "", ErrNotFound
	}
	return id, nil
}

func (m *Memory) StoreCallMapping(_ context.Context, callID, customerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callMappings[callID] = customerID
	return nil
}

func (m *Memory) DeleteCallMapping(_ context.Context, callID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.callMappings, callID)
	return nil
}

func (m *Memory) RecordMessageMetric(_ context.Context, metric MessageMetric) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if metric.CreatedAt.IsZero() {
		metric.CreatedAt = m.now()
	}
	m.metrics = append(m.metrics, metric)
	return nil
}

func (m *Memory) RecordIntentEvent(_ context.Context, e IntentEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = m.now()
	}
	m.intents = append(m.intents, e)
	return nil
}

func (m *Memory) MessageMetricsSince(_ context.Context, since time.Time) ([]MessageMetric, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []MessageMetric
	for _, metric := range m.metrics {
		if !metric.CreatedAt.Before(since) {
			out = append(out, metric)
		}
	}
	return out, nil
}

func (m *Memory) IntentEventsSince(_ context.Context, since time.Time) ([]IntentEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []IntentEvent
	for _, e := range m.intents {
		if !e.CreatedAt.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) SaveConversation(_ context.Context, c ConversationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextConvID++
	c.ID = m.nextConvID
	c.IntentsDetected = append([]string{}, c.IntentsDetected...)
	m.conversations = append(m.conversations, c)
	return nil
}

func (m *Memory) ConversationsSince(_ context.Context, since time.Time) ([]ConversationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ConversationRecord
	for _, c := range m.conversations {
		if !c.StartTime.Before(since) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *Memory) ListConversations(_ context.Context, q ConversationQuery) ([]ConversationRecord, error) {
	q = normalizeQuery(q)

	m.mu.RLock()
	var matched []ConversationRecord
	for _, c := range m.conversations {
		if q.Channel == "" || c.Channel == q.Channel {
			matched = append(matched, c)
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].StartTime.After(matched[j].StartTime)
	})
	if q.Offset >= len(matched) {
		return []ConversationRecord{}, nil
	}
	end := min(q.Offset+q.Limit, len(matched))
	return matched[q.Offset:end], nil
}

func (m *Memory) ListDomainRecords(_ context.Context) ([]DomainRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]DomainRecord, 0, len(m.domains))
	for _, r := range m.domains {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out, nil
}

func (m *Memory) CreateDomainRecord(_ context.Context, r DomainRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.domains[r.Domain]; exists {
		return ErrDuplicate
	}
	r.UpdatedAt = m.now()
	m.domains[r.Domain] = r
	return nil
}

func (m *Memory) UpdateDomainRecord(_ context.Context, domain string, u DomainUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.domains[domain]
	if !ok {
		return ErrNotFound
	}
	if u.Empty() {
		return nil
	}
	if u.DisplayName != nil {
		r.DisplayName = *u.DisplayName
	}
	if u.SystemPrompt != nil {
		r.SystemPrompt = *u.SystemPrompt
	}
	if u.Greeting != nil {
		r.Greeting = *u.Greeting
	}
	if u.PrimaryColor != nil {
		r.PrimaryColor = *u.PrimaryColor
	}
	if u.LogoURL != nil {
		r.LogoURL = u.LogoURL
	}
	if u.Active != nil {
		r.Active = *u.Active
	}
	r.UpdatedAt = m.now()
	m.domains[domain] = r
	return nil
}

func (m *Memory) Migrate(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

var _ Store = (*Memory)(nil)
