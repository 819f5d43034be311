// Package session runs the custom-LLM protocol for one gateway connection:
// it resolves the customer, greets, relays generated answers and hands each
// user turn to post-turn processing.
package session

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/square-key-labs/omni-ai/src/chain"
	"github.com/square-key-labs/omni-ai/src/config"
	"github.com/square-key-labs/omni-ai/src/frames"
	"github.com/square-key-labs/omni-ai/src/logger"
	"github.com/square-key-labs/omni-ai/src/pipeline"
	"github.com/square-key-labs/omni-ai/src/relay"
	"github.com/square-key-labs/omni-ai/src/serializers"
	"github.com/square-key-labs/omni-ai/src/services"
	"github.com/square-key-labs/omni-ai/src/store"
)

// Fixed texts of the voice protocol.
const (
	FallbackText     = "I apologize, I'm having trouble right now. Please try again."
	GreetInstruction = "greet the customer warmly"
)

const cleanupTimeout = 5 * time.Second

// Conn is the duplex gateway connection. ReadFrame is called from one
// goroutine only.
type Conn interface {
	ReadFrame() (frames.Frame, error)
	WriteFrame(frame frames.Frame) error
	Close() error
}

// Store is the persistence a session needs.
type Store interface {
	GetTurns(ctx context.Context, customerID string, limit int) ([]store.Turn, error)
	AppendTurn(ctx context.Context, customerID string, role store.Role, content string, channel store.Channel) (bool, error)
	GetCallMapping(ctx context.Context, callID string) (string, error)
	DeleteCallMapping(ctx context.Context, callID string) error
}

// Condenser fits history into the generation context.
type Condenser interface {
	Condense(ctx context.Context, turns []store.Turn) ([]store.Turn, chain.Trace)
}

// Tracker follows the conversation for analytics.
type Tracker interface {
	StartConversation(customerID string, channel store.Channel)
	TrackMessage(ctx context.Context, customerID string, role store.Role, channel store.Channel, responseTimeMs *float64)
	EndConversation(ctx context.Context, customerID string, resolved bool) (store.ConversationRecord, bool)
}

// TaskSubmitter accepts turns for detached post-turn processing.
type TaskSubmitter interface {
	Submit(turn pipeline.Turn) error
}

// Deps are the collaborators shared by all sessions.
type Deps struct {
	Store   Store
	LLM     services.LLMService
	History Condenser
	Tracker Tracker
	Tasks   TaskSubmitter
}

// Config is the per-session configuration.
type Config struct {
	CallID            string
	Domain            config.Domain
	Prompts           config.DomainConfig
	HistoryLimit      int
	WordDelay         time.Duration
	GenerationTimeout time.Duration
}

// Session is the state of one gateway connection.
type Session struct {
	cfg  Config
	deps Deps
	conn Conn

	mu           sync.Mutex
	state        State
	customerID   string
	agentID      string
	greetingSent bool

	history        []store.Turn
	lastResponseID int64

	closeOnce sync.Once
	log       *logger.Logger
}

// New panics when a required dependency is missing; only Tasks is optional.
func New(conn Conn, deps Deps, cfg Config) *Session {
	if deps.Store == nil || deps.LLM == nil || deps.History == nil || deps.Tracker == nil {
		panic("session: Store, LLM, History and Tracker are required")
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 50
	}
	if cfg.GenerationTimeout <= 0 {
		cfg.GenerationTimeout = 30 * time.Second
	}
	return &Session{
		cfg:   cfg,
		deps:  deps,
		conn:  conn,
		state: StateConnected,
		log:   logger.WithPrefix("Session").With("call_id", cfg.CallID),
	}
}

// CustomerID returns the resolved customer, or "" before resolution.
func (s *Session) CustomerID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.customerID
}

// AgentID returns the gateway agent reported in call details, if any.
func (s *Session) AgentID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agentID
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// resolve fixes the customer id the first time it is called with a
// non-empty candidate. Later calls keep the existing id.
func (s *Session) resolve(candidate string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.customerID == "" && candidate != "" {
		s.customerID = candidate
	}
	return s.customerID
}

// Run processes frames until the connection ends or ctx is cancelled. Cleanup
// runs exactly once on every exit path.
func (s *Session) Run(ctx context.Context) (err error) {
	stop := context.AfterFunc(ctx, func() { _ = s.conn.Close() })
	defer stop()

	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error("Session panicked: %v\n%s", rec, debug.Stack())
			err = fmt.Errorf("session panic: %v", rec)
		}
		s.Close()
	}()

	if id, err := s.deps.Store.GetCallMapping(ctx, s.cfg.CallID); err == nil {
		s.resolve(id)
		s.log.Info("Found customer mapping: %s", id)
	} else if !errors.Is(err, store.ErrNotFound) {
		s.log.Warn("Call mapping lookup failed: %v", err)
	}
	s.setState(StateAwaitingDetails)
	s.log.Info("Connection opened")

	for {
		frame, err := s.conn.ReadFrame()
		if err != nil {
			if errors.Is(err, serializers.ErrMalformedFrame) || errors.Is(err, serializers.ErrUnsupportedFrame) {
				s.log.Warn("Skipping frame: %v", err)
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			s.log.Info("Connection ended: %v", err)
			return nil
		}
		if logger.IsDebugEnabled() {
			s.log.Debug("%s frame %s", frames.CategoryOf(frame), frame)
		}
		if err := s.handleFrame(ctx, frame); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// Close deletes the call mapping, ends conversation tracking and closes the
// connection. Only the first call has any effect.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()

		if err := s.deps.Store.DeleteCallMapping(ctx, s.cfg.CallID); err != nil && !errors.Is(err, store.ErrNotFound) {
			s.log.Warn("Failed to delete call mapping: %v", err)
		}
		if id := s.CustomerID(); id != "" {
			s.deps.Tracker.EndConversation(ctx, id, true)
		}
		if err := s.conn.Close(); err != nil {
			s.log.Debug("Close: %v", err)
		}
		s.setState(StateClosed)
		s.log.Info("Session closed")
	})
}

// handleFrame returns an error only when the connection can no longer be
// written to.
func (s *Session) handleFrame(ctx context.Context, frame frames.Frame) error {
	switch f := frame.(type) {
	case *frames.PingPongFrame:
		return s.write(frames.NewPingPongReplyFrame(f.Timestamp))

	case *frames.CallDetailsFrame:
		s.onCallDetails(ctx, f)
		return nil

	case *frames.UpdateOnlyFrame:
		return nil

	case *frames.ResponseRequiredFrame:
		return s.onResponseRequired(ctx, f)

	default:
		s.log.Warn("Ignoring unexpected frame %s", frame.Name())
		return nil
	}
}

func (s *Session) onCallDetails(ctx context.Context, f *frames.CallDetailsFrame) {
	candidate := f.CustomerID
	if candidate == "" {
		candidate = s.cfg.CallID
	}
	if f.CallID != "" && f.CallID != s.cfg.CallID {
		s.log.Warn("Call details for %s arrived on connection for %s", f.CallID, s.cfg.CallID)
	}
	s.mu.Lock()
	s.agentID = f.AgentID
	s.mu.Unlock()

	id := s.resolve(candidate)
	s.log.Info("Call details received (agent %s, %d metadata keys), customer %s", f.AgentID, len(f.Metadata), id)

	s.loadHistory(ctx, id)
	s.setState(StateListening)
}

func (s *Session) loadHistory(ctx context.Context, customerID string) {
	turns, err := s.deps.Store.GetTurns(ctx, customerID, s.cfg.HistoryLimit)
	if err != nil {
		s.log.Warn("Failed to load history: %v", err)
		return
	}
	s.history = turns
}

func (s *Session) write(frame frames.Frame) error {
	if err := s.conn.WriteFrame(frame); err != nil {
		return fmt.Errorf("%w: %v", relay.ErrSinkClosed, err)
	}
	return nil
}
