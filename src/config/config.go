package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Provider names accepted for generation and embeddings.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	ProviderNone   = "none"
)

const defaultRetellAgentID = "agent_f604bb54a90edd0d700a3b40ca"

type Config struct {
	Addr    string
	Version string
	Domain  Domain

	// Persistence. memory://, sqlite://path or postgres://...
	DatabaseURL string

	LLMProvider       string
	EmbeddingProvider string

	OpenAIAPIKey   string
	OpenAIBaseURL  string
	Model          string
	SummaryModel   string
	EmbeddingModel string
	MaxTokens      int

	GeminiAPIKey         string
	GeminiBaseURL        string
	GeminiModel          string
	GeminiEmbeddingModel string
	UseVertexAI          bool
	GoogleCloudProject   string
	GoogleCloudLocation  string

	RetellAPIKey  string
	RetellAgentID string
	RetellBaseURL string

	// Base URL of the workflow webhook receiver; empty disables dispatch.
	WebhookBase string

	GenerationTimeout     time.Duration
	EmbeddingTimeout      time.Duration
	EmbeddingBatchTimeout time.Duration
	SummaryTimeout        time.Duration
	WebhookTimeout        time.Duration
	RetellTimeout         time.Duration
	IntentTaskTimeout     time.Duration
	ShutdownGracePeriod   time.Duration

	StreamChunkDelay time.Duration
	HistoryLimit     int

	ContextTokenBudget int
	SummaryTrigger     int
	SummaryKeepRecent  int

	RateLimitRequests int
	RateLimitWindow   time.Duration

	DomainsFile string
}

// LoadDotEnv loads .env files from the working directory and the executable's
// directory. Variables already present in the environment win. It returns the
// files that were read.
func LoadDotEnv() []string {
	var candidates []string
	if wd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(wd, ".env"))
	}
	if exe, err := os.Executable(); err == nil {
		dir := filepath.Dir(exe)
		candidates = append(candidates, filepath.Join(dir, ".env"), filepath.Join(dir, "..", ".env"))
	}

	var loaded []string
	seen := make(map[string]struct{})
	for _, p := range candidates {
		p = filepath.Clean(p)
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err == nil {
			loaded = append(loaded, p)
		}
	}
	return loaded
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                  envOr("OMNI_ADDR", ":8080"),
		Version:               envOr("OMNI_VERSION", "1.0.0"),
		DatabaseURL:           envOr("DATABASE_URL", "memory://"),
		LLMProvider:           strings.ToLower(envOr("OMNI_LLM_PROVIDER", ProviderOpenAI)),
		EmbeddingProvider:     strings.ToLower(envOr("OMNI_EMBEDDING_PROVIDER", ProviderOpenAI)),
		OpenAIAPIKey:          envOr("OPENAI_API_KEY", ""),
		OpenAIBaseURL:         envOr("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		Model:                 envOr("OMNI_MODEL", "gpt-4o"),
		SummaryModel:          envOr("OMNI_SUMMARY_MODEL", "gpt-4o-mini"),
		EmbeddingModel:        envOr("OMNI_EMBEDDING_MODEL", "text-embedding-3-small"),
		MaxTokens:             envIntOr("OMNI_MAX_TOKENS", 150),
		GeminiAPIKey:          envOr("GEMINI_API_KEY", ""),
		GeminiBaseURL:         envOr("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		GeminiModel:           envOr("GEMINI_MODEL", "gemini-2.0-flash"),
		GeminiEmbeddingModel:  envOr("GEMINI_EMBEDDING_MODEL", "text-embedding-004"),
		UseVertexAI:           envBoolOr("GOOGLE_GENAI_USE_VERTEXAI", false),
		GoogleCloudProject:    envOr("GOOGLE_CLOUD_PROJECT", ""),
		GoogleCloudLocation:   envOr("GOOGLE_CLOUD_LOCATION", "us-central1"),
		RetellAPIKey:          envOr("RETELL_API_KEY", ""),
		RetellAgentID:         envOr("RETELL_AGENT_ID", defaultRetellAgentID),
		RetellBaseURL:         envOr("RETELL_BASE_URL", "https://api.retellai.com"),
		WebhookBase:           strings.TrimRight(envOr("N8N_WEBHOOK_BASE", ""), "/"),
		GenerationTimeout:     envDurationOr("OMNI_GENERATION_TIMEOUT", 30*time.Second),
		EmbeddingTimeout:      envDurationOr("OMNI_EMBEDDING_TIMEOUT", 10*time.Second),
		EmbeddingBatchTimeout: envDurationOr("OMNI_EMBEDDING_BATCH_TIMEOUT", 30*time.Second),
		SummaryTimeout:        envDurationOr("OMNI_SUMMARY_TIMEOUT", 15*time.Second),
		WebhookTimeout:        envDurationOr("OMNI_WEBHOOK_TIMEOUT", 5*time.Second),
		RetellTimeout:         envDurationOr("OMNI_RETELL_TIMEOUT", 20*time.Second),
		IntentTaskTimeout:     envDurationOr("OMNI_INTENT_TASK_TIMEOUT", 2*time.Minute),
		ShutdownGracePeriod:   envDurationOr("OMNI_SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		StreamChunkDelay:      envDurationOr("OMNI_STREAM_CHUNK_DELAY", 50*time.Millisecond),
		HistoryLimit:          envIntOr("OMNI_HISTORY_LIMIT", 50),
		ContextTokenBudget:    envIntOr("OMNI_CONTEXT_TOKEN_BUDGET", 4000),
		SummaryTrigger:        envIntOr("OMNI_SUMMARY_TRIGGER", 20),
		SummaryKeepRecent:     envIntOr("OMNI_SUMMARY_KEEP_RECENT", 5),
		RateLimitRequests:     envIntOr("OMNI_RATE_LIMIT_REQUESTS", 30),
		RateLimitWindow:       envDurationOr("OMNI_RATE_LIMIT_WINDOW", 60*time.Second),
		DomainsFile:           envOr("OMNI_DOMAINS_FILE", ""),
	}

	d, err := ParseDomain(envOr("DOMAIN", string(DomainGeneric)))
	if err != nil {
		return Config{}, fmt.Errorf("DOMAIN: %w", err)
	}
	cfg.Domain = d

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the invariants LoadFromEnv enforces. Callers that mutate a
// Config after loading (for example from CLI flags) should call it again.
func (c Config) Validate() error {
	switch c.LLMProvider {
	case ProviderOpenAI, ProviderGemini:
	default:
		return fmt.Errorf("OMNI_LLM_PROVIDER must be one of openai|gemini")
	}
	switch c.EmbeddingProvider {
	case ProviderOpenAI, ProviderGemini, ProviderNone:
	default:
		return fmt.Errorf("OMNI_EMBEDDING_PROVIDER must be one of openai|gemini|none")
	}
	if strings.TrimSpace(c.Addr) == "" {
		return fmt.Errorf("OMNI_ADDR must not be empty")
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("OMNI_MAX_TOKENS must be > 0")
	}
	for name, d := range map[string]time.Duration{
		"OMNI_GENERATION_TIMEOUT":      c.GenerationTimeout,
		"OMNI_EMBEDDING_TIMEOUT":       c.EmbeddingTimeout,
		"OMNI_EMBEDDING_BATCH_TIMEOUT": c.EmbeddingBatchTimeout,
		"OMNI_SUMMARY_TIMEOUT":         c.SummaryTimeout,
		"OMNI_WEBHOOK_TIMEOUT":         c.WebhookTimeout,
		"OMNI_RETELL_TIMEOUT":          c.RetellTimeout,
		"OMNI_INTENT_TASK_TIMEOUT":     c.IntentTaskTimeout,
		"OMNI_RATE_LIMIT_WINDOW":       c.RateLimitWindow,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be > 0", name)
		}
	}
	if c.StreamChunkDelay < 0 {
		return fmt.Errorf("OMNI_STREAM_CHUNK_DELAY must be >= 0")
	}
	if c.ContextTokenBudget <= 0 {
		return fmt.Errorf("OMNI_CONTEXT_TOKEN_BUDGET must be > 0")
	}
	if c.SummaryKeepRecent <= 0 || c.SummaryTrigger < c.SummaryKeepRecent {
		return fmt.Errorf("OMNI_SUMMARY_TRIGGER must be >= OMNI_SUMMARY_KEEP_RECENT > 0")
	}
	// A fetch window at or below the trigger would never reach summarization.
	if c.HistoryLimit <= c.SummaryTrigger {
		return fmt.Errorf("OMNI_HISTORY_LIMIT must be > OMNI_SUMMARY_TRIGGER")
	}
	if c.RateLimitRequests <= 0 {
		return fmt.Errorf("OMNI_RATE_LIMIT_REQUESTS must be > 0")
	}
	if c.UseVertexAI && c.GoogleCloudProject == "" &&
		(c.LLMProvider == ProviderGemini || c.EmbeddingProvider == ProviderGemini) {
		return fmt.Errorf("GOOGLE_CLOUD_PROJECT must be set when GOOGLE_GENAI_USE_VERTEXAI=true")
	}
	return nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return b
}

// envDurationOr accepts Go durations ("30s") or bare integers, read as
// milliseconds.
func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	if ms, err := strconv.Atoi(raw); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
