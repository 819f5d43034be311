// Package server is the HTTP surface and the composition root: it owns the
// process-wide state (rate limiter, analytics tracker, intent cache, post-turn
// task runner) and hands it to the handlers and voice sessions.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"

	"github.com/square-key-labs/omni-ai/src/analytics"
	"github.com/square-key-labs/omni-ai/src/config"
	"github.com/square-key-labs/omni-ai/src/history"
	"github.com/square-key-labs/omni-ai/src/intents"
	"github.com/square-key-labs/omni-ai/src/logger"
	"github.com/square-key-labs/omni-ai/src/pipeline"
	"github.com/square-key-labs/omni-ai/src/ratelimit"
	"github.com/square-key-labs/omni-ai/src/services"
	"github.com/square-key-labs/omni-ai/src/services/retell"
	"github.com/square-key-labs/omni-ai/src/store"
)

const (
	serviceName = "omni-ai"

	idleConversationTimeout = 30 * time.Minute
	janitorInterval         = time.Minute
)

var tracer = otel.Tracer("github.com/square-key-labs/omni-ai/src/server")

// Deps are the backends the server is wired to. Embedder may be nil, which
// leaves intent detection keyword-only.
type Deps struct {
	Store    store.Store
	LLM      services.LLMService
	Embedder services.EmbeddingService
	Retell   *retell.Client
	Catalog  *config.Catalog
}

type Server struct {
	cfg  config.Config
	deps Deps

	limiter    *ratelimit.Limiter
	tracker    *analytics.Tracker
	history    *history.Manager
	classifier *intents.Classifier
	tasks      *pipeline.TaskRunner

	// Voice sessions outlive their hijacked requests; they end when
	// sessionCtx is cancelled. closing is set under sessionMu before the
	// wait so no session is added after it starts.
	sessionCtx     context.Context
	cancelSessions context.CancelFunc
	sessionMu      sync.Mutex
	closing        bool
	sessions       sync.WaitGroup

	router *gin.Engine
	now    func() time.Time
	log    *logger.Logger
}

func New(cfg config.Config, deps Deps) *Server {
	tracker := analytics.NewTracker(deps.Store, string(cfg.Domain))
	classifier := intents.NewClassifier(deps.Catalog, deps.Embedder)
	dispatcher := intents.NewDispatcher(intents.DispatcherConfig{
		BaseURL: cfg.WebhookBase,
		Domain:  cfg.Domain,
		Timeout: cfg.WebhookTimeout,
	}, tracker)

	s := &Server{
		cfg:     cfg,
		deps:    deps,
		limiter: ratelimit.New(ratelimit.Config{Requests: cfg.RateLimitRequests, Window: cfg.RateLimitWindow}),
		tracker: tracker,
		history: history.NewManager(deps.LLM, history.Config{
			TokenBudget:    cfg.ContextTokenBudget,
			SummaryTrigger: cfg.SummaryTrigger,
			KeepRecent:     cfg.SummaryKeepRecent,
			SummaryModel:   cfg.SummaryModel,
			SummaryTimeout: cfg.SummaryTimeout,
		}),
		classifier: classifier,
		tasks: pipeline.NewTaskRunner(
			pipeline.NewPipeline(pipeline.Classify(classifier), pipeline.Dispatch(dispatcher)),
			pipeline.TaskConfig{Timeout: cfg.IntentTaskTimeout},
		),
		now: time.Now,
		log: logger.WithPrefix("Server"),
	}
	s.sessionCtx, s.cancelSessions = context.WithCancel(context.Background())
	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *gin.Engine {
	if !logger.IsDebugEnabled() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(s.recovery(), s.requestID(), s.accessLog(), cors())

	r.GET("/health", s.health)
	r.POST("/create-call", s.rateLimit("create_call"), s.createCall)
	r.POST("/chat", s.rateLimit("chat"), s.chat)
	r.GET("/llm-websocket/:call_id", s.llmWebSocket)

	api := r.Group("/api")
	api.GET("/analytics/stats", s.analyticsStats)
	api.GET("/analytics/conversations", s.analyticsConversations)
	api.GET("/analytics/traffic", s.analyticsTraffic)
	api.GET("/domains", s.listDomains)
	api.POST("/domains", s.createDomain)
	api.PUT("/domains", s.updateDomain)
	api.GET("/voices", s.listVoices)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
	return r
}

// Run serves on cfg.Addr until ctx is cancelled, then drains connections and
// waits for post-turn tasks within the shutdown grace period.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.janitor(ctx)

	errc := make(chan error, 1)
	go func() {
		s.log.Info("Listening on %s (domain %s)", s.cfg.Addr, s.cfg.Domain)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGracePeriod)
	defer cancel()

	err := srv.Shutdown(shutdownCtx)
	if terr := s.Shutdown(shutdownCtx); err == nil {
		err = terr
	}
	<-errc
	return err
}

// Shutdown closes voice sessions, waits for in-flight post-turn tasks and
// saves the conversations still being tracked.
func (s *Server) Shutdown(ctx context.Context) error {
	s.sessionMu.Lock()
	s.closing = true
	s.sessionMu.Unlock()
	s.cancelSessions()
	s.sessions.Wait()

	err := s.tasks.Shutdown(ctx)
	if n := s.tracker.EndIdle(context.WithoutCancel(ctx), 0); n > 0 {
		s.log.Info("Saved %d open conversations", n)
	}
	return err
}

// beginSession registers a voice session unless shutdown has started. The
// caller must call s.sessions.Done when it reports true.
func (s *Server) beginSession() bool {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	if s.closing {
		return false
	}
	s.sessions.Add(1)
	return true
}

// janitor ends chat conversations that went quiet; they have no close event.
func (s *Server) janitor(ctx context.Context) {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.tracker.EndIdle(ctx, idleConversationTimeout); n > 0 {
				s.log.Info("Ended %d idle conversations", n)
			}
		}
	}
}
