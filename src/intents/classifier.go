// Package intents detects customer intents with a semantic pass over
// embedding centroids and a keyword fallback, and dispatches detections to
// workflow webhooks.
package intents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"github.com/square-key-labs/omni-ai/src/chain"
	"github.com/square-key-labs/omni-ai/src/config"
	"github.com/square-key-labs/omni-ai/src/logger"
	"github.com/square-key-labs/omni-ai/src/services"
)

// KeywordConfidence is the confidence reported for keyword-only matches.
const KeywordConfidence = 0.5

// Step names of the classification chain.
const (
	StepProfiles = "profiles"
	StepEmbed    = "embed"
	StepSemantic = "semantic"
	StepKeywords = "keywords"
)

var errEmbeddingsDisabled = errors.New("embeddings disabled")

var tracer = otel.Tracer("github.com/square-key-labs/omni-ai/src/intents")

// Detection is one detected intent.
type Detection struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Webhook    string  `json:"webhook"`
}

// Profile is the semantic fingerprint of one intent.
type Profile struct {
	Intent    string
	Centroid  []float64
	Threshold float64
	Webhook   string
}

// Catalog resolves a domain to its configuration.
type Catalog interface {
	Domain(d config.Domain) config.DomainConfig
}

// Classifier owns the per-domain profile cache. It is safe for concurrent use.
type Classifier struct {
	catalog  Catalog
	embedder services.EmbeddingService

	group singleflight.Group
	mu    sync.RWMutex
	cache map[config.Domain][]Profile

	log *logger.Logger
}

// NewClassifier returns a classifier. A nil embedder disables the semantic
// pass; keyword matching still runs.
func NewClassifier(catalog Catalog, embedder services.EmbeddingService) *Classifier {
	return &Classifier{
		catalog:  catalog,
		embedder: embedder,
		cache:    make(map[config.Domain][]Profile),
		log:      logger.WithPrefix("Intents"),
	}
}

// Profiles returns the cached profiles for domain, computing them on first
// use. Concurrent first calls share a single computation. Profiles are cached
// only when every intent embedded successfully, so transient backend
// failures are retried on a later call.
func (c *Classifier) Profiles(ctx context.Context, domain config.Domain) ([]Profile, error) {
	if c.embedder == nil {
		return nil, errEmbeddingsDisabled
	}

	c.mu.RLock()
	cached, ok := c.cache[domain]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}

	v, err, _ := c.group.Do(string(domain), func() (interface{}, error) {
		c.mu.RLock()
		cached, ok := c.cache[domain]
		c.mu.RUnlock()
		if ok {
			return cached, nil
		}

		// outlives the cancellation of any single waiter
		profiles, complete := c.computeProfiles(context.WithoutCancel(ctx), domain)
		if complete {
			c.mu.Lock()
			c.cache[domain] = profiles
			c.mu.Unlock()
		}
		if len(profiles) == 0 && !complete {
			return nil, fmt.Errorf("no intent profiles for %s", domain)
		}
		return profiles, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Profile), nil
}

func (c *Classifier) computeProfiles(ctx context.Context, domain config.Domain) ([]Profile, bool) {
	ctx, span := tracer.Start(ctx, "intents.profiles")
	defer span.End()
	span.SetAttributes(attribute.String("intents.domain", string(domain)))

	dc := c.catalog.Domain(domain)
	profiles := make([]Profile, 0, len(dc.Intents))
	complete := true

	for _, intent := range dc.Intents {
		if len(intent.Examples) == 0 {
			continue
		}
		vectors, err := c.embedder.EmbedBatch(ctx, intent.Examples)
		if err != nil {
			c.log.Warn("Embedding examples for %s/%s failed: %v", domain, intent.Name, err)
			span.RecordError(err)
			complete = false
			continue
		}
		centroid := Mean(vectors)
		if len(centroid) == 0 {
			complete = false
			continue
		}
		profiles = append(profiles, Profile{
			Intent:    intent.Name,
			Centroid:  centroid,
			Threshold: intent.Threshold,
			Webhook:   intent.Webhook,
		})
	}

	if !complete {
		span.SetStatus(codes.Error, "partial profiles")
	}
	c.log.Info("Computed %d intent profiles for %s", len(profiles), domain)
	return profiles, complete
}

// Classify returns the intents detected in message, semantic match first,
// then keyword matches for intents not already present. Embedding failures
// only disable the semantic pass.
func (c *Classifier) Classify(ctx context.Context, message string, domain config.Domain) ([]Detection, chain.Trace) {
	ctx, span := tracer.Start(ctx, "intents.classify")
	defer span.End()
	span.SetAttributes(attribute.String("intents.domain", string(domain)))

	var (
		trace      chain.Trace
		detections []Detection
	)

	if sem, ok := c.semantic(ctx, message, domain, &trace); ok {
		detections = append(detections, sem)
	}

	seen := make(map[string]struct{}, len(detections))
	for _, d := range detections {
		seen[d.Intent] = struct{}{}
	}

	keywordHits := 0
	lower := strings.ToLower(message)
	for _, intent := range c.catalog.Domain(domain).Intents {
		if _, dup := seen[intent.Name]; dup {
			continue
		}
		if !matchesKeyword(lower, intent.Keywords) {
			continue
		}
		detections = append(detections, Detection{
			Intent:     intent.Name,
			Confidence: KeywordConfidence,
			Webhook:    intent.Webhook,
		})
		seen[intent.Name] = struct{}{}
		keywordHits++
	}
	if keywordHits > 0 {
		trace.OK(StepKeywords, "%d matched", keywordHits)
	} else {
		trace.Skip(StepKeywords, "no keyword match")
	}

	span.SetAttributes(attribute.Int("intents.detected", len(detections)))
	c.log.Debug("Classified %q in %s: %d detections (%s)", message, domain, len(detections), trace)
	return detections, trace
}

func (c *Classifier) semantic(ctx context.Context, message string, domain config.Domain, trace *chain.Trace) (Detection, bool) {
	profiles, err := c.Profiles(ctx, domain)
	if err != nil {
		if errors.Is(err, errEmbeddingsDisabled) {
			trace.Skip(StepProfiles, "%s", err.Error())
		} else {
			trace.Fail(StepProfiles, err)
		}
		return Detection{}, false
	}
	if len(profiles) == 0 {
		trace.Skip(StepProfiles, "domain has no example phrases")
		return Detection{}, false
	}
	trace.OK(StepProfiles, "%d profiles", len(profiles))

	vec, err := c.embedder.Embed(ctx, message)
	if err != nil {
		c.log.Warn("Embedding message failed, keyword matching only: %v", err)
		trace.Fail(StepEmbed, err)
		return Detection{}, false
	}
	trace.OK(StepEmbed, "%d dims", len(vec))

	var (
		best      Detection
		bestScore float64
		found     bool
	)
	for _, p := range profiles {
		score := CosineSimilarity(vec, p.Centroid)
		if score > bestScore && score >= p.Threshold {
			bestScore = score
			best = Detection{Intent: p.Intent, Confidence: score, Webhook: p.Webhook}
			found = true
		}
	}
	if !found {
		trace.Skip(StepSemantic, "no intent above threshold")
		return Detection{}, false
	}
	trace.OK(StepSemantic, "%s %.3f", best.Intent, best.Confidence)
	return best, true
}

func matchesKeyword(lowerMessage string, keywords []string) bool {
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lowerMessage, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
