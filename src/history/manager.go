// Package history keeps conversation context inside a token budget by
// summarizing and then truncating older turns.
package history

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/square-key-labs/omni-ai/src/chain"
	"github.com/square-key-labs/omni-ai/src/logger"
	"github.com/square-key-labs/omni-ai/src/services"
	"github.com/square-key-labs/omni-ai/src/store"
)

// Step names, in cascade order.
const (
	StepBudget     = "budget"
	StepCount      = "count"
	StepSummarize  = "summarize"
	StepAggressive = "aggressive"
)

// Config bounds the condensed history.
type Config struct {
	TokenBudget    int // default 4000
	SummaryTrigger int // default 20 turns
	KeepRecent     int // default 5
	AggressiveKeep int // default 3

	SummaryModel     string // default gpt-4o-mini
	SummaryMaxTokens int    // default 500
	SummaryTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.TokenBudget <= 0 {
		c.TokenBudget = 4000
	}
	if c.SummaryTrigger <= 0 {
		c.SummaryTrigger = 20
	}
	if c.KeepRecent <= 0 {
		c.KeepRecent = 5
	}
	if c.AggressiveKeep <= 0 {
		c.AggressiveKeep = 3
	}
	if c.SummaryModel == "" {
		c.SummaryModel = "gpt-4o-mini"
	}
	if c.SummaryMaxTokens <= 0 {
		c.SummaryMaxTokens = 500
	}
	if c.SummaryTimeout <= 0 {
		c.SummaryTimeout = 15 * time.Second
	}
	return c
}

const summaryTemperature = 0.3

const summaryPrompt = `Summarize this customer support conversation concisely.
Focus on:
- Customer's main issue or request
- Any important details shared (names, account info, preferences)
- What has been resolved or discussed
- Any pending actions or commitments

Keep the summary under 200 words. Write in third person (e.g., "The customer asked about...").

CONVERSATION:
%s

SUMMARY:`

var tracer = otel.Tracer("github.com/square-key-labs/omni-ai/src/history")

// Manager condenses histories. A nil summarizer makes every summarize step
// fail, which degrades to truncation.
type Manager struct {
	llm services.LLMService
	cfg Config
	log *logger.Logger
}

func NewManager(llm services.LLMService, cfg Config) *Manager {
	return &Manager{
		llm: llm,
		cfg: cfg.withDefaults(),
		log: logger.WithPrefix("History"),
	}
}

// Condense returns turns bounded by the token budget plus the trace of the
// cascade steps. It never fails; summarization errors fall back to the recent
// tail.
func (m *Manager) Condense(ctx context.Context, turns []store.Turn) ([]store.Turn, chain.Trace) {
	cfg := m.cfg
	var steps chain.Trace

	tokens := EstimateTokens(turns)
	if tokens <= cfg.TokenBudget {
		steps.Skip(StepBudget, "%d tokens within %d", tokens, cfg.TokenBudget)
		return turns, steps
	}
	steps.OK(StepBudget, "%d tokens over %d", tokens, cfg.TokenBudget)

	if len(turns) <= cfg.SummaryTrigger {
		steps.Skip(StepCount, "%d turns", len(turns))
		return turns, steps
	}
	steps.OK(StepCount, "%d turns", len(turns))

	m.log.Info("Context too large (%d tokens, %d turns), condensing", tokens, len(turns))

	split := len(turns) - cfg.KeepRecent
	old := turns[:split]
	recent := turns[split:]

	summary, err := m.summarize(ctx, old)
	if err != nil {
		m.log.Warn("Summarization failed, using truncated history: %v", err)
		steps.Fail(StepSummarize, err)
		steps.Skip(StepAggressive, "no summary")
		return append([]store.Turn(nil), recent...), steps
	}
	steps.OK(StepSummarize, "%d turns into %d chars", len(old), len(summary))
	condensed := make([]store.Turn, 0, len(recent)+1)
	condensed = append(condensed, store.Turn{
		Role:    store.RoleSystem,
		Content: "[Previous conversation summary: " + summary + "]",
	})
	condensed = append(condensed, recent...)

	newTokens := EstimateTokens(condensed)
	if newTokens <= cfg.TokenBudget {
		steps.Skip(StepAggressive, "%d tokens within %d", newTokens, cfg.TokenBudget)
		return condensed, steps
	}

	// condensed[0] is the summary turn.
	if len(condensed) > cfg.AggressiveKeep+1 {
		aggressive := make([]store.Turn, 0, cfg.AggressiveKeep+1)
		aggressive = append(aggressive, condensed[0])
		aggressive = append(aggressive, condensed[len(condensed)-cfg.AggressiveKeep:]...)
		m.log.Warn("Aggressive condensation: %d -> %d turns", len(turns), len(aggressive))
		steps.OK(StepAggressive, "%d tokens over %d", newTokens, cfg.TokenBudget)
		return aggressive, steps
	}

	steps.Skip(StepAggressive, "only %d turns", len(condensed))
	return condensed, steps
}

func (m *Manager) summarize(ctx context.Context, old []store.Turn) (string, error) {
	if m.llm == nil {
		return "", services.ErrNotConfigured
	}
	if len(old) == 0 {
		return "", fmt.Errorf("nothing to summarize")
	}

	ctx, span := tracer.Start(ctx, "history.summarize")
	defer span.End()
	span.SetAttributes(
		attribute.Int("history.turns", len(old)),
		attribute.String("llm.model", m.cfg.SummaryModel),
	)

	ctx, cancel := context.WithTimeout(ctx, m.cfg.SummaryTimeout)
	defer cancel()

	lines := make([]string, len(old))
	for i, msg := range Messages(old) {
		lines[i] = strings.ToUpper(msg.Role) + ": " + msg.Content
	}

	summary, err := m.llm.Complete(ctx, services.LLMRequest{
		Messages:    []services.LLMMessage{{Role: services.RoleUser, Content: fmt.Sprintf(summaryPrompt, strings.Join(lines, "\n"))}},
		Model:       m.cfg.SummaryModel,
		MaxTokens:   m.cfg.SummaryMaxTokens,
		Temperature: services.Temperature(summaryTemperature),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "summarization failed")
		return "", err
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return "", fmt.Errorf("empty summary")
	}
	m.log.Info("Summarized %d turns into %d chars", len(old), len(summary))
	return summary, nil
}
