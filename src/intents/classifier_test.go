package intents

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/square-key-labs/omni-ai/src/chain"
	"github.com/square-key-labs/omni-ai/src/config"
)

type fakeEmbedder struct {
	vectors    map[string][]float64
	batchErr   error
	embedErr   error
	batchCalls atomic.Int32
	entered    chan struct{}
	release    chan struct{}
	once       sync.Once
}

func (f *fakeEmbedder) Name() string { return "fake" }

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	return f.lookup(text), nil
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float64, error) {
	f.batchCalls.Add(1)
	if f.entered != nil {
		f.once.Do(func() { close(f.entered) })
		<-f.release
	}
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	out := make([][]float64, len(texts))
	for i, t := range texts {
		out[i] = f.lookup(t)
	}
	return out, nil
}

func (f *fakeEmbedder) lookup(text string) []float64 {
	if v, ok := f.vectors[text]; ok {
		return v
	}
	return []float64{0, 0, 1}
}

type staticCatalog map[config.Domain]config.DomainConfig

func (c staticCatalog) Domain(d config.Domain) config.DomainConfig {
	return c[d]
}

func testCatalog() staticCatalog {
	return staticCatalog{
		config.DomainGeneric: {
			Intents: []config.IntentConfig{
				{Name: "refund", Webhook: "/refund", Threshold: 0.8, Keywords: []string{"refund"}, Examples: []string{"r1", "r2"}},
				{Name: "billing", Webhook: "/billing", Threshold: 0.8, Keywords: []string{"invoice", "Charge"}, Examples: []string{"b1"}},
				{Name: "contact", Webhook: "/contact", Keywords: []string{"call me"}},
			},
		},
	}
}

func testEmbedder() *fakeEmbedder {
	return &fakeEmbedder{vectors: map[string][]float64{
		"r1":                       {1, 0, 0},
		"r2":                       {1, 0.2, 0},
		"b1":                       {0, 1, 0},
		"refund my invoice":        {1, 0.1, 0},
		"please call me":           {0.1, 0.1, 1},
		"refund, call me, charged": {0.9, 0.1, 0},
	}}
}

func intentNames(ds []Detection) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.Intent
	}
	return out
}

func TestKeywordOnlyEscalation(t *testing.T) {
	catalog, err := config.LoadCatalog("", "agent_x")
	require.NoError(t, err)

	c := NewClassifier(catalog, nil)
	got, trace := c.Classify(context.Background(), "I want to speak to a manager", config.DomainGeneric)

	assert.Equal(t, []Detection{{Intent: "escalate", Confidence: 0.5, Webhook: "/escalate"}}, got)
	o, _ := trace.Outcome(StepProfiles)
	assert.Equal(t, chain.Skipped, o)
}

func TestNoDetectionIsNormal(t *testing.T) {
	catalog, err := config.LoadCatalog("", "agent_x")
	require.NoError(t, err)

	got, trace := NewClassifier(catalog, nil).Classify(context.Background(), "what a lovely day", config.DomainGeneric)
	assert.Empty(t, got)
	assert.False(t, trace.Failed())
}

func TestSemanticFirstWithoutDuplicates(t *testing.T) {
	c := NewClassifier(testCatalog(), testEmbedder())

	got, trace := c.Classify(context.Background(), "refund my invoice", config.DomainGeneric)
	require.Len(t, got, 2)
	assert.Equal(t, "refund", got[0].Intent)
	assert.Greater(t, got[0].Confidence, 0.8)
	assert.Equal(t, "/refund", got[0].Webhook)
	assert.Equal(t, Detection{Intent: "billing", Confidence: KeywordConfidence, Webhook: "/billing"}, got[1])

	o, _ := trace.Outcome(StepSemantic)
	assert.Equal(t, chain.OK, o)
}

func TestBelowThresholdFallsBackToKeywords(t *testing.T) {
	c := NewClassifier(testCatalog(), testEmbedder())

	got, trace := c.Classify(context.Background(), "please call me", config.DomainGeneric)
	assert.Equal(t, []string{"contact"}, intentNames(got))
	o, _ := trace.Outcome(StepSemantic)
	assert.Equal(t, chain.Skipped, o)
}

func TestNeverDuplicates(t *testing.T) {
	c := NewClassifier(testCatalog(), testEmbedder())
	for _, msg := range []string{"refund, call me, charged", "refund refund refund", "INVOICE charge call me", ""} {
		got, _ := c.Classify(context.Background(), msg, config.DomainGeneric)
		seen := map[string]bool{}
		for _, d := range got {
			assert.False(t, seen[d.Intent], "duplicate %s for %q", d.Intent, msg)
			seen[d.Intent] = true
		}
	}
}

func TestEmbedFailureKeepsKeywords(t *testing.T) {
	emb := testEmbedder()
	emb.embedErr = errors.New("timeout")
	c := NewClassifier(testCatalog(), emb)

	got, trace := c.Classify(context.Background(), "refund my invoice", config.DomainGeneric)
	assert.Equal(t, []string{"refund", "billing"}, intentNames(got))
	for _, d := range got {
		assert.Equal(t, KeywordConfidence, d.Confidence)
	}
	o, _ := trace.Outcome(StepEmbed)
	assert.Equal(t, chain.Failed, o)
}

func TestTransientProfileFailureNotCached(t *testing.T) {
	emb := testEmbedder()
	emb.batchErr = errors.New("503")
	c := NewClassifier(testCatalog(), emb)

	_, err := c.Profiles(context.Background(), config.DomainGeneric)
	require.Error(t, err)
	assert.Equal(t, int32(2), emb.batchCalls.Load())

	emb.batchErr = nil
	profiles, err := c.Profiles(context.Background(), config.DomainGeneric)
	require.NoError(t, err)
	require.Len(t, profiles, 2, "keyword-only intents have no profile")
	assert.Equal(t, []float64{1, 0.1, 0}, profiles[0].Centroid)
	assert.Equal(t, int32(4), emb.batchCalls.Load())

	_, err = c.Profiles(context.Background(), config.DomainGeneric)
	require.NoError(t, err)
	assert.Equal(t, int32(4), emb.batchCalls.Load(), "served from cache")
}

func TestConcurrentProfilesComputeOnce(t *testing.T) {
	emb := testEmbedder()
	emb.entered = make(chan struct{})
	emb.release = make(chan struct{})
	c := NewClassifier(testCatalog(), emb)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Profiles(context.Background(), config.DomainGeneric)
			assert.NoError(t, err)
		}()
	}

	<-emb.entered
	time.Sleep(20 * time.Millisecond)
	close(emb.release)
	wg.Wait()

	assert.Equal(t, int32(2), emb.batchCalls.Load())
}

func TestCosineSimilarity(t *testing.T) {
	v := []float64{0.3, -1.2, 4.5, 0.01}
	neg := make([]float64, len(v))
	scaled := make([]float64, len(v))
	for i, x := range v {
		neg[i] = -x
		scaled[i] = 7 * x
	}

	assert.InDelta(t, 1.0, CosineSimilarity(v, v), 1e-9)
	assert.InDelta(t, -1.0, CosineSimilarity(v, neg), 1e-9)
	assert.InDelta(t, 1.0, CosineSimilarity(v, scaled), 1e-9)

	a := []float64{1, 2, 3}
	b := []float64{-2, 0.5, 9}
	assert.InDelta(t, CosineSimilarity(a, b), CosineSimilarity(b, a), 1e-12)

	assert.Zero(t, CosineSimilarity(a, []float64{0, 0, 0}))
	assert.Zero(t, CosineSimilarity(a, []float64{1, 2}))
	assert.False(t, math.IsNaN(CosineSimilarity(nil, nil)))
}

func TestMean(t *testing.T) {
	assert.Equal(t, []float64{2, 3}, Mean([][]float64{{1, 2}, {3, 4}}))
	assert.Equal(t, []float64{1, 2}, Mean([][]float64{{1, 2}, {9}}))
	assert.Nil(t, Mean(nil))
}
