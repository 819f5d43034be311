package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/square-key-labs/omni-ai/src/analytics"
	"github.com/square-key-labs/omni-ai/src/config"
	"github.com/square-key-labs/omni-ai/src/frames"
	"github.com/square-key-labs/omni-ai/src/history"
	"github.com/square-key-labs/omni-ai/src/pipeline"
	"github.com/square-key-labs/omni-ai/src/serializers"
	"github.com/square-key-labs/omni-ai/src/services"
	"github.com/square-key-labs/omni-ai/src/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type inbound struct {
	frame frames.Frame
	err   error
}

type fakeConn struct {
	in   chan inbound
	done chan struct{}
	once sync.Once

	mu     sync.Mutex
	out    []frames.Frame
	closes atomic.Int32
}

func newFakeConn(items ...inbound) *fakeConn {
	c := &fakeConn{in: make(chan inbound, len(items)), done: make(chan struct{})}
	for _, it := range items {
		c.in <- it
	}
	close(c.in)
	return c
}

func (c *fakeConn) ReadFrame() (frames.Frame, error) {
	select {
	case it, ok := <-c.in:
		if !ok {
			return nil, io.EOF
		}
		return it.frame, it.err
	case <-c.done:
		return nil, io.EOF
	}
}

func (c *fakeConn) WriteFrame(f frames.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out = append(c.out, f)
	return nil
}

func (c *fakeConn) Close() error {
	c.closes.Add(1)
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *fakeConn) written() []frames.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]frames.Frame(nil), c.out...)
}

// responses returns the response frames for id: the concatenated content and
// the number of terminal frames.
func (c *fakeConn) responses(id int64) (string, int) {
	var (
		sb        strings.Builder
		terminals int
	)
	for _, f := range c.written() {
		rf, ok := f.(*frames.ResponseFrame)
		if !ok || rf.ResponseID != id {
			continue
		}
		if rf.ContentComplete {
			terminals++
			continue
		}
		sb.WriteString(rf.Content)
	}
	return sb.String(), terminals
}

type sliceStream struct {
	deltas []string
	err    error
}

func (s *sliceStream) Next() (string, error) {
	if len(s.deltas) == 0 {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	d := s.deltas[0]
	s.deltas = s.deltas[1:]
	return d, nil
}

func (s *sliceStream) Close() error { return nil }

type fakeLLM struct {
	deltas    []string
	streamErr error
	midErr    error
	summary   string

	mu        sync.Mutex
	requests  []services.LLMRequest
	summaries int
}

func (f *fakeLLM) Name() string { return "fake" }

func (f *fakeLLM) Complete(context.Context, services.LLMRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.summary == "" {
		return "", errors.New("not used")
	}
	f.summaries++
	return f.summary, nil
}

func (f *fakeLLM) Stream(_ context.Context, req services.LLMRequest) (services.TokenStream, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	return &sliceStream{deltas: append([]string(nil), f.deltas...), err: f.midErr}, nil
}

func (f *fakeLLM) calls() []services.LLMRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]services.LLMRequest(nil), f.requests...)
}

type recordingTasks struct {
	mu    sync.Mutex
	turns []pipeline.Turn
}

func (r *recordingTasks) Submit(turn pipeline.Turn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turns = append(r.turns, turn)
	return nil
}

type countingStore struct {
	*store.Memory
	deletes atomic.Int32
}

func (s *countingStore) DeleteCallMapping(ctx context.Context, callID string) error {
	s.deletes.Add(1)
	return s.Memory.DeleteCallMapping(ctx, callID)
}

type harness struct {
	store   *countingStore
	llm     *fakeLLM
	tasks   *recordingTasks
	tracker *analytics.Tracker
}

func newHarness() *harness {
	mem := store.NewMemory()
	return &harness{
		store:   &countingStore{Memory: mem},
		llm:     &fakeLLM{deltas: []string{"Hello", " there"}},
		tasks:   &recordingTasks{},
		tracker: analytics.NewTracker(mem, "generic"),
	}
}

func (h *harness) session(conn Conn) *Session {
	return h.sessionWith(conn, history.NewManager(nil, history.Config{}))
}

func (h *harness) sessionWith(conn Conn, condenser Condenser) *Session {
	return New(conn, Deps{
		Store:   h.store,
		LLM:     h.llm,
		History: condenser,
		Tracker: h.tracker,
		Tasks:   h.tasks,
	}, Config{
		CallID: "call_1",
		Domain: config.DomainGeneric,
		Prompts: config.DomainConfig{
			SystemPrompt: "You are helpful.",
			Greeting:     "Hi! How can I help?",
		},
	})
}

func details(customerID string) inbound {
	return inbound{frame: frames.NewCallDetailsFrame("call_1", customerID, nil)}
}

func respond(id int64, transcript ...frames.Utterance) inbound {
	return inbound{frame: frames.NewResponseRequiredFrame(id, transcript)}
}

func user(text string) frames.Utterance {
	return frames.Utterance{Role: frames.RoleUser, Content: text}
}

func turns(t *testing.T, s store.Store, customerID string) []store.Turn {
	t.Helper()
	got, err := s.GetTurns(context.Background(), customerID, 50)
	require.NoError(t, err)
	return history.Chronological(got)
}

func TestGreetingWithoutGeneration(t *testing.T) {
	h := newHarness()
	conn := newFakeConn(details(""), respond(0))
	s := h.session(conn)

	require.NoError(t, s.Run(context.Background()))

	text, terminals := conn.responses(0)
	assert.Equal(t, "Hi! How can I help?", text)
	assert.Equal(t, 1, terminals)
	assert.Empty(t, h.llm.calls())
	assert.Empty(t, h.tasks.turns)

	stored := turns(t, h.store, "call_1")
	require.Len(t, stored, 1)
	assert.Equal(t, store.RoleAgent, stored[0].Role)
	assert.Equal(t, store.ChannelVoice, stored[0].Channel)
}

func TestGreetingOnlyOnce(t *testing.T) {
	h := newHarness()
	conn := newFakeConn(details(""), respond(0), respond(1))
	require.NoError(t, h.session(conn).Run(context.Background()))

	text, terminals := conn.responses(1)
	assert.Equal(t, "Hello there", text)
	assert.Equal(t, 1, terminals)

	calls := h.llm.calls()
	require.Len(t, calls, 1)
	msgs := calls[0].Messages
	assert.Equal(t, services.LLMMessage{Role: services.RoleUser, Content: GreetInstruction}, msgs[len(msgs)-1])
	assert.Empty(t, h.tasks.turns, "no user text to classify")
}

func TestMetadataResolvesCustomer(t *testing.T) {
	h := newHarness()
	conn := newFakeConn(details("abc"), respond(1, user("hi")))
	s := h.session(conn)
	require.NoError(t, s.Run(context.Background()))

	assert.Equal(t, "abc", s.CustomerID())
	assert.Len(t, turns(t, h.store, "abc"), 2)
	assert.Empty(t, turns(t, h.store, "call_1"))
}

func TestPriorMappingWins(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.store.StoreCallMapping(context.Background(), "call_1", "mapped"))

	conn := newFakeConn(details("abc"))
	s := h.session(conn)
	require.NoError(t, s.Run(context.Background()))

	assert.Equal(t, "mapped", s.CustomerID())
	_, err := h.store.GetCallMapping(context.Background(), "call_1")
	assert.ErrorIs(t, err, store.ErrNotFound, "mapping deleted on close")
}

func TestCallIDFallback(t *testing.T) {
	h := newHarness()
	conn := newFakeConn(respond(3, user("hello")))
	s := h.session(conn)
	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, "call_1", s.CustomerID())
}

func TestPingEcho(t *testing.T) {
	h := newHarness()
	conn := newFakeConn(inbound{frame: frames.NewPingPongFrame(1700000000123)})
	s := h.session(conn)
	require.NoError(t, s.Run(context.Background()))

	out := conn.written()
	require.Len(t, out, 1)
	assert.Equal(t, int64(1700000000123), out[0].(*frames.PingPongReplyFrame).Timestamp)
	assert.Empty(t, s.CustomerID())
}

func TestResponseStreamsPersistsAndSubmits(t *testing.T) {
	h := newHarness()
	conn := newFakeConn(details("cust"), respond(0), respond(4,
		frames.Utterance{Role: frames.RoleAgent, Content: "Hi! How can I help?"},
		user("I want a \x07refund  "),
	))
	require.NoError(t, h.session(conn).Run(context.Background()))

	text, terminals := conn.responses(4)
	assert.Equal(t, "Hello there", text)
	assert.Equal(t, 1, terminals)

	stored := turns(t, h.store, "cust")
	require.Len(t, stored, 3)
	assert.Equal(t, "I want a refund", stored[1].Content)
	assert.Equal(t, "Hello there", stored[2].Content)

	calls := h.llm.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []services.LLMMessage{
		{Role: services.RoleSystem, Content: "You are helpful."},
		{Role: services.RoleAssistant, Content: "Hi! How can I help?"},
		{Role: services.RoleUser, Content: "I want a refund"},
	}, calls[0].Messages)

	require.Len(t, h.tasks.turns, 1)
	assert.Equal(t, pipeline.Turn{
		CustomerID: "cust",
		Message:    "I want a refund",
		Channel:    "voice",
		Domain:     config.DomainGeneric,
	}, h.tasks.turns[0])

	metrics, err := h.store.MessageMetricsSince(context.Background(), time.Time{})
	require.NoError(t, err)
	require.Len(t, metrics, 3)
	assert.Nil(t, metrics[1].ResponseTimeMs)
	assert.NotNil(t, metrics[2].ResponseTimeMs)
}

func TestReminderHandledAsResponse(t *testing.T) {
	h := newHarness()
	f := frames.NewResponseRequiredFrame(2, []frames.Utterance{user("still there?")})
	f.Reminder = true
	conn := newFakeConn(details("c"), inbound{frame: f})
	require.NoError(t, h.session(conn).Run(context.Background()))

	text, terminals := conn.responses(2)
	assert.Equal(t, "Hello there", text)
	assert.Equal(t, 1, terminals)
}

func TestGenerationFailureSendsFallback(t *testing.T) {
	h := newHarness()
	h.llm.streamErr = errors.New("upstream down")
	conn := newFakeConn(details("c"), respond(5, user("hello")))
	require.NoError(t, h.session(conn).Run(context.Background()))

	text, terminals := conn.responses(5)
	assert.Equal(t, FallbackText, text)
	assert.Equal(t, 1, terminals)

	stored := turns(t, h.store, "c")
	require.Len(t, stored, 1, "only the user turn is persisted")
	assert.Empty(t, h.tasks.turns)
}

func TestMidStreamFailureClosesTurnOnce(t *testing.T) {
	h := newHarness()
	h.llm.deltas = []string{"Partial"}
	h.llm.midErr = errors.New("connection reset")
	conn := newFakeConn(details("c"), respond(6, user("hello")))
	require.NoError(t, h.session(conn).Run(context.Background()))

	text, terminals := conn.responses(6)
	assert.Equal(t, "Partial"+FallbackText, text)
	assert.Equal(t, 1, terminals)
}

func TestBadFramesAreSkipped(t *testing.T) {
	h := newHarness()
	conn := newFakeConn(
		inbound{err: fmt.Errorf("%w: bad json", serializers.ErrMalformedFrame)},
		inbound{err: fmt.Errorf("%w: call_ended", serializers.ErrUnsupportedFrame)},
		inbound{frame: frames.NewPingPongFrame(9)},
	)
	require.NoError(t, h.session(conn).Run(context.Background()))
	assert.Len(t, conn.written(), 1)
}

func TestCleanupRunsOnce(t *testing.T) {
	h := newHarness()
	conn := newFakeConn(details("c"), respond(0))
	s := h.session(conn)
	require.NoError(t, s.Run(context.Background()))
	s.Close()
	s.Close()

	assert.Equal(t, int32(1), h.store.deletes.Load())
	assert.Equal(t, StateClosed, s.State())
	assert.Zero(t, h.tracker.Active(), "conversation ended")
}

func TestCancelEndsSession(t *testing.T) {
	h := newHarness()
	conn := &fakeConn{in: make(chan inbound), done: make(chan struct{})}
	s := h.session(conn)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop")
	}
	assert.Equal(t, int32(1), h.store.deletes.Load())
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "hi there", Sanitize("  hi\x00 there\x1f "))
	assert.Equal(t, "a\tb\nc", Sanitize("a\tb\nc"))
	assert.Empty(t, Sanitize("\x01\x02"))
}

func TestLongHistoryIsSummarized(t *testing.T) {
	h := newHarness()
	h.llm.summary = "The customer asked about a refund twice."
	ctx := context.Background()
	for i := 0; i < 25; i++ {
		role := store.RoleUser
		if i%2 == 1 {
			role = store.RoleAgent
		}
		content := fmt.Sprintf("turn %d %s", i, strings.Repeat("x", 4000))
		_, err := h.store.AppendTurn(ctx, "cust", role, content, store.ChannelVoice)
		require.NoError(t, err)
	}

	conn := newFakeConn(details("cust"), respond(7, user("any news on that?")))
	s := h.sessionWith(conn, history.NewManager(h.llm, history.Config{}))
	require.NoError(t, s.Run(ctx))

	h.llm.mu.Lock()
	summaries := h.llm.summaries
	h.llm.mu.Unlock()
	assert.Equal(t, 1, summaries)

	calls := h.llm.calls()
	require.Len(t, calls, 1)
	msgs := calls[0].Messages
	require.GreaterOrEqual(t, len(msgs), 3)
	assert.Equal(t, services.RoleSystem, msgs[0].Role)
	assert.Equal(t, services.RoleSystem, msgs[1].Role)
	assert.Contains(t, msgs[1].Content, "The customer asked about a refund twice.")
	assert.Equal(t, services.LLMMessage{Role: services.RoleUser, Content: "any news on that?"}, msgs[len(msgs)-1])
}

func TestCallDetailsRecordsAgent(t *testing.T) {
	h := newHarness()
	cd := frames.NewCallDetailsFrame("call_1", "abc", map[string]interface{}{"customer_id": "abc", "voice_id": "sarah"})
	cd.AgentID = "agent_42"
	conn := newFakeConn(inbound{frame: cd})
	s := h.session(conn)
	require.NoError(t, s.Run(context.Background()))

	assert.Equal(t, "agent_42", s.AgentID())
	assert.Equal(t, "abc", s.CustomerID())
}

func TestResponseTimeCountsFromFrameArrival(t *testing.T) {
	h := newHarness()
	f := frames.NewResponseRequiredFrame(9, []frames.Utterance{user("hello")})
	time.Sleep(30 * time.Millisecond)
	conn := newFakeConn(details("c"), inbound{frame: f})
	require.NoError(t, h.session(conn).Run(context.Background()))

	metrics, err := h.store.MessageMetricsSince(context.Background(), time.Time{})
	require.NoError(t, err)
	require.Len(t, metrics, 2)
	require.NotNil(t, metrics[1].ResponseTimeMs)
	assert.GreaterOrEqual(t, *metrics[1].ResponseTimeMs, 30.0)
}

func TestNewRequiresTracker(t *testing.T) {
	h := newHarness()
	assert.Panics(t, func() {
		New(newFakeConn(), Deps{
			Store:   h.store,
			LLM:     h.llm,
			History: history.NewManager(nil, history.Config{}),
		}, Config{CallID: "call_1"})
	})
}
