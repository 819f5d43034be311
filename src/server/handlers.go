package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"

	"github.com/square-key-labs/omni-ai/src/history"
	"github.com/square-key-labs/omni-ai/src/pipeline"
	"github.com/square-key-labs/omni-ai/src/serializers"
	"github.com/square-key-labs/omni-ai/src/services"
	"github.com/square-key-labs/omni-ai/src/session"
	"github.com/square-key-labs/omni-ai/src/store"
	"github.com/square-key-labs/omni-ai/src/transports"
)

// MaxMessageLength caps chat messages, in characters.
const MaxMessageLength = 2000

var validID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,100}$`)

func validateCustomerID(v any) (string, error) {
	if v == nil {
		return "", invalid("customer_id is required")
	}
	id, ok := v.(string)
	if !ok {
		return "", invalid("customer_id must be a string")
	}
	if id == "" {
		return "", invalid("customer_id is required")
	}
	if !validID.MatchString(id) {
		return "", invalid("customer_id contains invalid characters")
	}
	return id, nil
}

func validateMessage(v any) (string, error) {
	if v == nil {
		return "", invalid("message is required")
	}
	msg, ok := v.(string)
	if !ok {
		return "", invalid("message must be a string")
	}
	if msg == "" {
		return "", invalid("message is required")
	}
	if utf8.RuneCountInString(msg) > MaxMessageLength {
		return "", invalid(fmt.Sprintf("message exceeds maximum length of %d", MaxMessageLength))
	}
	return msg, nil
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": serviceName,
		"version": s.cfg.Version,
	})
}

func (s *Server) createCall(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "server.create_call")
	defer span.End()

	if !s.deps.Retell.Configured() {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "RETELL_API_KEY is not configured"})
		return
	}

	customerID, err := validateCustomerID(c.DefaultQuery("customer_id", "unknown"))
	if err != nil {
		s.fail(c, err)
		return
	}
	voiceID := c.DefaultQuery("voice_id", "default")
	voice := s.deps.Catalog.Voice(voiceID)
	span.SetAttributes(attribute.String("omni.customer_id", customerID), attribute.String("omni.voice", voice.ID))
	s.log.Info("Creating call for customer: %s with voice: %s", customerID, voice.Name)

	call, err := s.deps.Retell.CreateWebCall(ctx, voice.AgentID, map[string]string{
		"customer_id": customerID,
		"voice_id":    voiceID,
	})
	if err != nil {
		span.RecordError(err)
		s.fail(c, err)
		return
	}

	if call.CallID != "" {
		if err := s.deps.Store.StoreCallMapping(ctx, call.CallID, customerID); err != nil {
			s.log.Warn("Failed to store call mapping %s: %v", call.CallID, err)
		} else {
			s.log.Info("Mapped call %s -> customer %s", call.CallID, customerID)
		}
	}
	c.JSON(http.StatusOK, gin.H{"access_token": call.AccessToken})
}

type chatRequest struct {
	PlayerID any `json:"player_id"`
	Message  any `json:"message"`
}

func (s *Server) chat(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "server.chat")
	defer span.End()

	var req chatRequest
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		s.fail(c, invalid("Invalid JSON body"))
		return
	}
	customerID, err := validateCustomerID(req.PlayerID)
	if err != nil {
		s.fail(c, err)
		return
	}
	message, err := validateMessage(req.Message)
	if err != nil {
		s.fail(c, err)
		return
	}
	message = session.Sanitize(message)
	if message == "" {
		s.fail(c, invalid("message is required"))
		return
	}
	span.SetAttributes(attribute.String("omni.customer_id", customerID))

	start := time.Now()
	s.tracker.StartConversation(customerID, store.ChannelChat)
	if _, err := s.deps.Store.AppendTurn(ctx, customerID, store.RoleUser, message, store.ChannelWeb); err != nil {
		s.log.Warn("Failed to save user message: %v", err)
	}
	s.tracker.TrackMessage(ctx, customerID, store.RoleUser, store.ChannelChat, nil)

	turns, err := s.deps.Store.GetTurns(ctx, customerID, s.cfg.HistoryLimit)
	if err != nil {
		s.log.Warn("Failed to load history for %s: %v", customerID, err)
	}
	condensed, trace := s.history.Condense(ctx, history.WithoutCurrent(history.Chronological(turns), message))
	if trace.Failed() {
		s.log.Warn("Context management degraded: %s", trace)
	}

	llmCtx := services.NewLLMContext(s.deps.Catalog.Domain(s.cfg.Domain).SystemPrompt)
	llmCtx.AddMessages(history.Messages(condensed))
	llmCtx.AddUserMessage(message)

	genCtx, cancel := context.WithTimeout(ctx, s.cfg.GenerationTimeout)
	response, err := s.deps.LLM.Complete(genCtx, llmCtx.Request())
	cancel()
	if err != nil {
		span.RecordError(err)
		s.log.Error("Chat generation failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	elapsed := float64(time.Since(start).Microseconds()) / 1000

	if _, err := s.deps.Store.AppendTurn(ctx, customerID, store.RoleAgent, response, store.ChannelWeb); err != nil {
		s.log.Warn("Failed to save agent message: %v", err)
	}
	s.tracker.TrackMessage(ctx, customerID, store.RoleAgent, store.ChannelChat, &elapsed)

	if err := s.tasks.Submit(pipeline.Turn{
		CustomerID: customerID,
		Message:    message,
		Channel:    string(store.ChannelChat),
		Domain:     s.cfg.Domain,
	}); err != nil {
		s.log.Warn("Intent processing not scheduled: %v", err)
	}

	c.JSON(http.StatusOK, gin.H{"response": response})
}

func (s *Server) llmWebSocket(c *gin.Context) {
	callID := c.Param("call_id")
	if !s.beginSession() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server is shutting down"})
		return
	}
	defer s.sessions.Done()

	conn, err := transports.Upgrade(c.Writer, c.Request, transports.WebSocketConfig{
		Serializer:   serializers.NewRetellFrameSerializer(),
		WriteTimeout: 10 * time.Second,
	})
	if err != nil {
		s.log.Warn("WebSocket upgrade for %s failed: %v", callID, err)
		return
	}

	sess := session.New(conn, session.Deps{
		Store:   s.deps.Store,
		LLM:     s.deps.LLM,
		History: s.history,
		Tracker: s.tracker,
		Tasks:   s.tasks,
	}, session.Config{
		CallID:            callID,
		Domain:            s.cfg.Domain,
		Prompts:           s.deps.Catalog.Domain(s.cfg.Domain),
		HistoryLimit:      s.cfg.HistoryLimit,
		WordDelay:         s.cfg.StreamChunkDelay,
		GenerationTimeout: s.cfg.GenerationTimeout,
	})
	if err := sess.Run(s.sessionCtx); err != nil {
		s.log.Error("Session %s ended with error: %v", callID, err)
	}
}
