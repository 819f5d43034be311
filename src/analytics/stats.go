package analytics

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/square-key-labs/omni-ai/src/store"
)

const topIntentLimit = 5

// Stats is the dashboard summary for a period.
type Stats struct {
	TotalConversations int            `json:"total_conversations"`
	TotalMessages      int            `json:"total_messages"`
	AvgResponseTimeMs  float64        `json:"avg_response_time_ms"`
	EscalationRate     float64        `json:"escalation_rate"`
	ResolutionRate     float64        `json:"resolution_rate"`
	Channels           map[string]int `json:"channels"`
	TopIntents         map[string]int `json:"top_intents"`
	PeriodDays         int            `json:"period_days"`
}

// TrafficPoint is one conversation start, for client-side hourly charts.
type TrafficPoint struct {
	StartTime time.Time     `json:"start_time"`
	Channel   store.Channel `json:"channel"`
}

// Stats aggregates the conversations started in the last days days.
func (t *Tracker) Stats(ctx context.Context, days int) (Stats, error) {
	if days <= 0 {
		days = 7
	}
	convs, err := t.store.ConversationsSince(ctx, t.now().Add(-time.Duration(days)*24*time.Hour))
	if err != nil {
		return Stats{}, err
	}
	return aggregate(convs, days), nil
}

func aggregate(convs []store.ConversationRecord, days int) Stats {
	s := Stats{
		TotalConversations: len(convs),
		Channels:           map[string]int{},
		TopIntents:         map[string]int{},
		PeriodDays:         days,
	}
	if len(convs) == 0 {
		return s
	}

	var (
		rtSum               float64
		escalated, resolved int
		intentCounts        = map[string]int{}
	)
	for _, c := range convs {
		s.TotalMessages += c.MessageCount
		rtSum += c.AvgResponseTimeMs
		if c.Escalated {
			escalated++
		}
		if c.Resolved {
			resolved++
		}
		ch := string(c.Channel)
		if ch == "" {
			ch = "unknown"
		}
		s.Channels[ch]++
		for _, in := range c.IntentsDetected {
			if in != "" {
				intentCounts[in]++
			}
		}
	}

	n := float64(len(convs))
	s.AvgResponseTimeMs = round(rtSum/n, 2)
	s.EscalationRate = round(float64(escalated)/n*100, 1)
	s.ResolutionRate = round(float64(resolved)/n*100, 1)

	type kv struct {
		name  string
		count int
	}
	ranked := make([]kv, 0, len(intentCounts))
	for name, count := range intentCounts {
		ranked = append(ranked, kv{name, count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].name < ranked[j].name
	})
	for i, e := range ranked {
		if i == topIntentLimit {
			break
		}
		s.TopIntents[e.name] = e.count
	}
	return s
}

// Conversations lists stored conversation records, newest first.
func (t *Tracker) Conversations(ctx context.Context, q store.ConversationQuery) ([]store.ConversationRecord, error) {
	return t.store.ListConversations(ctx, q)
}

// Traffic returns the conversation starts of the last hours hours, oldest
// first.
func (t *Tracker) Traffic(ctx context.Context, hours int) ([]TrafficPoint, error) {
	if hours <= 0 {
		hours = 24
	}
	convs, err := t.store.ConversationsSince(ctx, t.now().Add(-time.Duration(hours)*time.Hour))
	if err != nil {
		return nil, err
	}
	out := make([]TrafficPoint, len(convs))
	for i, c := range convs {
		out[i] = TrafficPoint{StartTime: c.StartTime, Channel: c.Channel}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
