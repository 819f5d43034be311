// Package analytics tracks live conversations and aggregates dashboard
// statistics from stored conversation records.
package analytics

import (
	"context"
	"sync"
	"time"

	"github.com/square-key-labs/omni-ai/src/logger"
	"github.com/square-key-labs/omni-ai/src/store"
)

// EscalationIntent marks a conversation as escalated when detected.
const EscalationIntent = "escalate"

// Store is the persistence the tracker needs.
type Store interface {
	RecordMessageMetric(ctx context.Context, m store.MessageMetric) error
	RecordIntentEvent(ctx context.Context, e store.IntentEvent) error
	SaveConversation(ctx context.Context, c store.ConversationRecord) error
	ConversationsSince(ctx context.Context, since time.Time) ([]store.ConversationRecord, error)
	ListConversations(ctx context.Context, q store.ConversationQuery) ([]store.ConversationRecord, error)
}

type activeConversation struct {
	start         time.Time
	channel       store.Channel
	messageCount  int
	responseTimes []float64
	intents       []string
	lastActivity  time.Time
}

// Tracker holds the conversations in progress. It is safe for concurrent use.
type Tracker struct {
	store  Store
	domain string
	now    func() time.Time

	mu     sync.Mutex
	active map[string]*activeConversation

	log *logger.Logger
}

func NewTracker(s Store, domain string) *Tracker {
	return &Tracker{
		store:  s,
		domain: domain,
		now:    time.Now,
		active: make(map[string]*activeConversation),
		log:    logger.WithPrefix("Analytics"),
	}
}

// StartConversation begins tracking customerID. A conversation already in
// progress is kept.
func (t *Tracker) StartConversation(customerID string, channel store.Channel) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.startLocked(customerID, channel)
}

func (t *Tracker) startLocked(customerID string, channel store.Channel) *activeConversation {
	if conv, ok := t.active[customerID]; ok {
		return conv
	}
	now := t.now()
	conv := &activeConversation{start: now, channel: channel, lastActivity: now}
	t.active[customerID] = conv
	t.log.Debug("Started tracking conversation for %s", customerID)
	return conv
}

// TrackMessage counts one message and persists its metric. responseTimeMs is
// nil for user messages.
func (t *Tracker) TrackMessage(ctx context.Context, customerID string, role store.Role, channel store.Channel, responseTimeMs *float64) {
	t.mu.Lock()
	conv := t.startLocked(customerID, channel)
	conv.messageCount++
	if responseTimeMs != nil {
		conv.responseTimes = append(conv.responseTimes, *responseTimeMs)
	}
	conv.lastActivity = t.now()
	t.mu.Unlock()

	err := t.store.RecordMessageMetric(ctx, store.MessageMetric{
		CustomerID:     customerID,
		Channel:        channel,
		Role:           role,
		Domain:         t.domain,
		ResponseTimeMs: responseTimeMs,
	})
	if err != nil {
		t.log.Error("Failed to save message metric: %v", err)
	}
}

// TrackIntent records an intent event and attaches it to the conversation in
// progress, if any.
func (t *Tracker) TrackIntent(ctx context.Context, customerID, intent string, confidence float64, webhookTriggered bool) {
	t.mu.Lock()
	if conv, ok := t.active[customerID]; ok {
		conv.intents = append(conv.intents, intent)
	}
	t.mu.Unlock()

	err := t.store.RecordIntentEvent(ctx, store.IntentEvent{
		CustomerID:       customerID,
		Intent:           intent,
		Confidence:       confidence,
		WebhookTriggered: webhookTriggered,
		Domain:           t.domain,
	})
	if err != nil {
		t.log.Error("Failed to track intent: %v", err)
	}
}

// EndConversation stops tracking customerID and saves its summary record.
// It reports false when no conversation was in progress.
func (t *Tracker) EndConversation(ctx context.Context, customerID string, resolved bool) (store.ConversationRecord, bool) {
	t.mu.Lock()
	conv, ok := t.active[customerID]
	if ok {
		delete(t.active, customerID)
	}
	t.mu.Unlock()
	if !ok {
		return store.ConversationRecord{}, false
	}

	rec := t.record(customerID, conv, resolved)
	if err := t.store.SaveConversation(ctx, rec); err != nil {
		t.log.Error("Failed to save conversation metric: %v", err)
	} else {
		t.log.Info("Saved conversation metrics for %s", customerID)
	}
	return rec, true
}

// EndIdle ends every conversation without activity for longer than idle.
// Chat conversations have no close event and are ended this way.
func (t *Tracker) EndIdle(ctx context.Context, idle time.Duration) int {
	cutoff := t.now().Add(-idle)

	t.mu.Lock()
	var ids []string
	for id, conv := range t.active {
		if conv.lastActivity.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	t.mu.Unlock()

	ended := 0
	for _, id := range ids {
		if _, ok := t.EndConversation(ctx, id, true); ok {
			ended++
		}
	}
	return ended
}

// Active returns the number of conversations in progress.
func (t *Tracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}

func (t *Tracker) record(customerID string, conv *activeConversation, resolved bool) store.ConversationRecord {
	var avg float64
	if len(conv.responseTimes) > 0 {
		var sum float64
		for _, rt := range conv.responseTimes {
			sum += rt
		}
		avg = sum / float64(len(conv.responseTimes))
	}

	escalated := false
	for _, in := range conv.intents {
		if in == EscalationIntent {
			escalated = true
			break
		}
	}

	return store.ConversationRecord{
		CustomerID:        customerID,
		Channel:           conv.channel,
		Domain:            t.domain,
		StartTime:         conv.start,
		EndTime:           t.now(),
		MessageCount:      conv.messageCount,
		AvgResponseTimeMs: avg,
		IntentsDetected:   append([]string{}, conv.intents...),
		Escalated:         escalated,
		Resolved:          resolved,
	}
}
