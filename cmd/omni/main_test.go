package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/square-key-labs/omni-ai/src/config"
	"github.com/square-key-labs/omni-ai/src/logger"
)

// execute runs the root command with fresh flag state.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return executeContext(t, context.Background(), args...)
}

func executeContext(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	reset := func(fs *pflag.FlagSet) {
		fs.VisitAll(func(f *pflag.Flag) {
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		})
	}
	reset(rootCmd.PersistentFlags())
	for _, c := range rootCmd.Commands() {
		reset(c.Flags())
	}

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	err := rootCmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestVersion(t *testing.T) {
	t.Setenv("OMNI_VERSION", "9.9.9")

	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "omni 9.9.9")
}

func TestFlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("DOMAIN", "generic")
	t.Setenv("OMNI_EMBEDDING_PROVIDER", "openai")

	_, err := execute(t, "version", "--domain", "FinTech", "--embeddings", "none", "--timeout", "3s")
	require.NoError(t, err)
	assert.Equal(t, config.DomainFintech, cfg.Domain)
	assert.Equal(t, config.ProviderNone, cfg.EmbeddingProvider)
	assert.Equal(t, "3s", cfg.GenerationTimeout.String())
}

func TestInvalidFlagsRejected(t *testing.T) {
	for name, args := range map[string][]string{
		"unknown domain":   {"version", "--domain", "casino"},
		"unknown provider": {"version", "--llm", "llama"},
		"zero timeout":     {"version", "--timeout", "0s"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := execute(t, args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "config:")
		})
	}
}

func TestClassifyKeywordOnly(t *testing.T) {
	out, err := execute(t, "classify", "--domain", "igaming", "--embeddings", "none", "how do I", "withdraw my winnings")
	require.NoError(t, err)

	var res classifyResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, config.DomainIGaming, res.Domain)
	require.NotEmpty(t, res.Detections)
	assert.Equal(t, "withdrawal", res.Detections[0].Intent)
}

func TestClassifyNothingDetected(t *testing.T) {
	out, err := execute(t, "classify", "--domain", "igaming", "--embeddings", "none", "lovely weather today")
	require.NoError(t, err)
	assert.Contains(t, out, `"detections": []`)
}

func TestClassifyNeedsMessage(t *testing.T) {
	_, err := execute(t, "classify", "--embeddings", "none")
	require.Error(t, err)
}

func TestMigrateSQLite(t *testing.T) {
	dsn := "sqlite://" + filepath.Join(t.TempDir(), "omni.db")

	out, err := execute(t, "migrate", "--database-url", dsn)
	require.NoError(t, err)
	assert.Contains(t, out, "migrations applied")

	// Idempotent.
	_, err = execute(t, "migrate", "--database-url", dsn)
	require.NoError(t, err)
}

func TestMigrateBadDSN(t *testing.T) {
	_, err := execute(t, "migrate", "--database-url", "mysql://nope")
	require.Error(t, err)
}

func TestSummaryModelFollowsProvider(t *testing.T) {
	c := config.Config{LLMProvider: config.ProviderGemini, SummaryModel: "gpt-4o-mini", GeminiModel: "gemini-2.0-flash"}
	assert.Equal(t, "gemini-2.0-flash", summaryModel(c))

	c.SummaryModel = "gemini-1.5-flash-8b"
	assert.Equal(t, "gemini-1.5-flash-8b", summaryModel(c))

	c = config.Config{LLMProvider: config.ProviderOpenAI, SummaryModel: "gpt-4o-mini"}
	assert.Equal(t, "gpt-4o-mini", summaryModel(c))
}

func TestEmbedderNoneIsNil(t *testing.T) {
	log = logger.Nop()
	emb, err := newEmbedder(context.Background(), config.Config{EmbeddingProvider: config.ProviderNone})
	require.NoError(t, err)
	assert.Nil(t, emb)

	emb, err = newEmbedder(context.Background(), config.Config{EmbeddingProvider: config.ProviderOpenAI})
	require.NoError(t, err)
	assert.Nil(t, emb, "missing key falls back to keyword-only")
}

func TestServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := executeContext(t, ctx, "serve",
			"--addr", "127.0.0.1:0",
			"--database-url", "memory://",
			"--embeddings", "none")
		done <- err
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}
