package intents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/square-key-labs/omni-ai/src/chain"
	"github.com/square-key-labs/omni-ai/src/config"
	"github.com/square-key-labs/omni-ai/src/logger"
)

// Tracker records detected intents for analytics.
type Tracker interface {
	TrackIntent(ctx context.Context, customerID, intent string, confidence float64, webhookTriggered bool)
}

// DispatcherConfig configures webhook delivery.
type DispatcherConfig struct {
	BaseURL    string // empty disables webhook delivery
	Domain     config.Domain
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Dispatcher records each detection and posts it to the workflow webhook.
type Dispatcher struct {
	base    string
	domain  config.Domain
	timeout time.Duration
	client  *http.Client
	tracker Tracker
	log     *logger.Logger
}

type webhookPayload struct {
	CustomerID string  `json:"customer_id"`
	Message    string  `json:"message"`
	Channel    string  `json:"channel"`
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Domain     string  `json:"domain"`
}

func NewDispatcher(cfg DispatcherConfig, tracker Tracker) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	return &Dispatcher{
		base:    strings.TrimRight(cfg.BaseURL, "/"),
		domain:  cfg.Domain,
		timeout: cfg.Timeout,
		client:  cfg.HTTPClient,
		tracker: tracker,
		log:     logger.WithPrefix("Webhook"),
	}
}

// Enabled reports whether a webhook base URL is configured.
func (d *Dispatcher) Enabled() bool {
	return d.base != ""
}

// Dispatch tracks every detection and, when enabled, posts one webhook per
// detection. Delivery failures are logged and reported in the trace only.
func (d *Dispatcher) Dispatch(ctx context.Context, customerID, message, channel string, detections []Detection) chain.Trace {
	var trace chain.Trace
	for _, det := range detections {
		if d.tracker != nil {
			d.tracker.TrackIntent(ctx, customerID, det.Intent, det.Confidence, d.Enabled())
		}
		if !d.Enabled() {
			trace.Skip(det.Intent, "webhook base not configured")
			continue
		}
		if err := d.post(ctx, customerID, message, channel, det); err != nil {
			d.log.Warn("Intent '%s' for %s: %v", det.Intent, customerID, err)
			trace.Fail(det.Intent, err)
			continue
		}
		d.log.Info("[%s] Triggered intent '%s' for customer %s", d.domain, det.Intent, customerID)
		trace.OK(det.Intent, "%s", det.Webhook)
	}
	return trace
}

func (d *Dispatcher) post(ctx context.Context, customerID, message, channel string, det Detection) error {
	ctx, span := tracer.Start(ctx, "intents.webhook")
	defer span.End()

	url := d.base + det.Webhook
	span.SetAttributes(attribute.String("intents.intent", det.Intent), attribute.String("http.url", url))

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	body, err := json.Marshal(webhookPayload{
		CustomerID: customerID,
		Message:    message,
		Channel:    channel,
		Intent:     det.Intent,
		Confidence: det.Confidence,
		Domain:     string(d.domain),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("webhook request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}
