// Package notify emits instance lifecycle events to an operator-configured
// webhook. Delivery is best-effort; a failed or slow endpoint never affects
// the operation that triggered the event.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dbfleet/dbfleet/internal/core/port"
)

const deliverTimeout = 3 * time.Second

type payload struct {
	OwnerID    string `json:"owner_id"`
	InstanceID string `json:"instance_id"`
	Engine     string `json:"engine"`
	Event      string `json:"event"`
	Detail     string `json:"detail,omitempty"`
	OccurredAt string `json:"occurred_at"`
}

// Webhook POSTs lifecycle events as JSON to a single endpoint.
type Webhook struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

func NewWebhook(url string, logger *slog.Logger) *Webhook {
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: deliverTimeout},
		logger: logger,
	}
}

func (w *Webhook) Notify(ctx context.Context, event port.LifecycleEvent) {
	body, err := json.Marshal(payload{
		OwnerID:    event.OwnerID.String(),
		InstanceID: event.InstanceID.String(),
		Engine:     event.Engine,
		Event:      event.Event,
		Detail:     event.Detail,
		OccurredAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, deliverTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		w.logger.Warn("webhook delivery failed",
			slog.String("event", event.Event),
			slog.String("error", err.Error()),
		)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		w.logger.Warn("webhook endpoint rejected event",
			slog.String("event", event.Event),
			slog.Int("status", resp.StatusCode),
		)
	}
}

// Noop is used when no webhook endpoint is configured.
type Noop struct{}

func (Noop) Notify(context.Context, port.LifecycleEvent) {}

