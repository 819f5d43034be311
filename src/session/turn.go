package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/square-key-labs/omni-ai/src/frames"
	"github.com/square-key-labs/omni-ai/src/history"
	"github.com/square-key-labs/omni-ai/src/pipeline"
	"github.com/square-key-labs/omni-ai/src/relay"
	"github.com/square-key-labs/omni-ai/src/services"
	"github.com/square-key-labs/omni-ai/src/store"
)

func (s *Session) onResponseRequired(ctx context.Context, f *frames.ResponseRequiredFrame) error {
	s.lastResponseID = f.ResponseID
	customerID := s.resolve(s.cfg.CallID)
	userText := f.LastUserUtterance()
	kind := "Response"
	if f.Reminder {
		kind = "Reminder"
	}

	if userText == "" && !s.greetingSent {
		return s.greet(ctx, f.ResponseID, customerID)
	}

	s.setState(StateResponding)
	defer s.setState(StateListening)

	prompt := GreetInstruction
	if userText != "" {
		s.greetingSent = true
		userText = Sanitize(userText)
	}
	if userText != "" {
		s.appendTurn(ctx, customerID, store.RoleUser, userText)
		s.deps.Tracker.TrackMessage(ctx, customerID, store.RoleUser, store.ChannelVoice, nil)
		prompt = userText
	}

	s.loadHistory(ctx, customerID)
	turns := history.Chronological(s.history)
	if userText != "" {
		turns = history.WithoutCurrent(turns, userText)
	}
	condensed, trace := s.deps.History.Condense(ctx, turns)
	if trace.Failed() {
		s.log.Warn("Context management degraded: %s", trace)
	}

	llmCtx := services.NewLLMContext(s.cfg.Prompts.SystemPrompt)
	llmCtx.AddMessages(history.Messages(condensed))
	llmCtx.AddUserMessage(prompt)

	text, err := s.generate(ctx, f.ResponseID, llmCtx.Request())
	if errors.Is(err, relay.ErrSinkClosed) {
		return err
	}
	if err != nil {
		s.log.Error("Generation failed for %s %d: %v", strings.ToLower(kind), f.ResponseID, err)
		return s.fallback(ctx, f.ResponseID)
	}
	// Measured from frame arrival so history and condensing time count too.
	elapsed := float64(time.Since(f.Received()).Microseconds()) / 1000

	s.appendTurn(ctx, customerID, store.RoleAgent, text)
	s.deps.Tracker.TrackMessage(ctx, customerID, store.RoleAgent, store.ChannelVoice, &elapsed)
	s.log.Info("%s %d sent (%.0fms, %d chars)", kind, f.ResponseID, elapsed, len(text))

	if userText != "" && s.deps.Tasks != nil {
		err := s.deps.Tasks.Submit(pipeline.Turn{
			CustomerID: customerID,
			Message:    userText,
			Channel:    string(store.ChannelVoice),
			Domain:     s.cfg.Domain,
		})
		if err != nil {
			s.log.Warn("Intent processing not scheduled: %v", err)
		}
	}
	return nil
}

func (s *Session) generate(ctx context.Context, responseID int64, req services.LLMRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.GenerationTimeout)
	defer cancel()

	stream, err := s.deps.LLM.Stream(ctx, req)
	if err != nil {
		return "", err
	}
	return relay.Live(ctx, s.conn, responseID, stream)
}

func (s *Session) greet(ctx context.Context, responseID int64, customerID string) error {
	s.setState(StateGreeting)
	defer s.setState(StateListening)

	greeting := s.cfg.Prompts.Greeting
	if err := relay.Paced(ctx, s.conn, responseID, greeting, s.cfg.WordDelay); err != nil {
		return err
	}
	s.appendTurn(ctx, customerID, store.RoleAgent, greeting)
	s.deps.Tracker.StartConversation(customerID, store.ChannelVoice)
	s.deps.Tracker.TrackMessage(ctx, customerID, store.RoleAgent, store.ChannelVoice, nil)
	s.greetingSent = true
	s.log.Info("Greeting sent to %s", customerID)
	return nil
}

func (s *Session) fallback(ctx context.Context, responseID int64) error {
	err := relay.Paced(ctx, s.conn, responseID, FallbackText, s.cfg.WordDelay)
	if err != nil && !errors.Is(err, relay.ErrSinkClosed) && ctx.Err() == nil {
		s.log.Warn("Fallback relay failed: %v", err)
		return nil
	}
	return err
}

func (s *Session) appendTurn(ctx context.Context, customerID string, role store.Role, content string) {
	if _, err := s.deps.Store.AppendTurn(ctx, customerID, role, content, store.ChannelVoice); err != nil {
		s.log.Warn("Failed to save %s turn: %v", role, err)
	}
}
