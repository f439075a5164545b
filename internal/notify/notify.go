// Package notify forwards call status events to a downstream consumer over
// HTTP. Delivery is best effort: a failed forward is logged and dropped,
// never surfaced back to the platform as a webhook error.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
)

// Event is the forwarded status notification.
type Event struct {
	TenantID  string    `json:"tenant_id"`
	CallID    string    `json:"call_id"`
	Status    string    `json:"status"`
	Caller    string    `json:"caller,omitempty"`
	Callee    string    `json:"callee,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Forwarder posts events to the configured consumer URL.
type Forwarder struct {
	client *resty.Client
	url    string
	logger *slog.Logger
}

// NewForwarder creates a Forwarder. An empty URL disables forwarding;
// Send becomes a no-op.
func NewForwarder(url, authKey string, logger *slog.Logger) *Forwarder {
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetHeader("Content-Type", "application/json")
	if authKey != "" {
		client.SetHeader("Authorization", "Bearer "+authKey)
	}
	return &Forwarder{
		client: client,
		url:    url,
		logger: logger.With("subsystem", "notify"),
	}
}

// Enabled reports whether a consumer URL is configured.
func (f *Forwarder) Enabled() bool {
	return f.url != ""
}

// Send forwards one event. Errors are returned for observability but the
// caller treats them as non-fatal.
func (f *Forwarder) Send(ctx context.Context, ev Event) error {
	if f.url == "" {
		return nil
	}

	resp, err := f.client.R().
		SetContext(ctx).
		SetBody(ev).
		Post(f.url)
	if err != nil {
		return fmt.Errorf("forwarding status event: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("status consumer rejected event: %s", resp.Status())
	}

	f.logger.Debug("status event forwarded",
		"tenant_id", ev.TenantID,
		"call_id", ev.CallID,
		"status", ev.Status,
	)
	return nil
}
