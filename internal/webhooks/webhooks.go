// Package webhooks delivers lifecycle events to user-registered URLs.
//
// Users subscribe a URL to event types; deliveries are signed with the
// subscription secret so receivers can verify origin. Delivery is
// best-effort with bounded retries and a per-subscription circuit breaker
// so one dead endpoint cannot soak up the delivery worker.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/homeflowhq/homeflow/internal/circuitbreaker"
	"github.com/homeflowhq/homeflow/internal/metrics"
	"github.com/homeflowhq/homeflow/internal/notify"
	"github.com/homeflowhq/homeflow/internal/retry"
)

// Subscription registers a URL for a user's lifecycle events.
type Subscription struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	URL         string     `json:"url"`
	Secret      string     `json:"-"` // Used for HMAC signing
	Events      []string   `json:"events"`
	Active      bool       `json:"active"`
	CreatedAt   time.Time  `json:"created_at"`
	LastSuccess *time.Time `json:"last_success,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

// Wants reports whether the subscription covers the event type. An empty
// event list means "everything".
func (s *Subscription) Wants(eventType string) bool {
	if len(s.Events) == 0 {
		return true
	}
	for _, e := range s.Events {
		if e == eventType {
			return true
		}
	}
	return false
}

// Store persists webhook subscriptions.
type Store interface {
	Create(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	ListByUser(ctx context.Context, userID string) ([]*Subscription, error)
	Update(ctx context.Context, sub *Subscription) error
	Delete(ctx context.Context, id string) error
}

// Dispatcher sends signed webhook deliveries.
type Dispatcher struct {
	store   Store
	client  *http.Client
	breaker *circuitbreaker.Breaker
	log     *slog.Logger
}

// NewDispatcher creates a dispatcher with the given delivery timeout.
func NewDispatcher(store Store, timeout time.Duration, log *slog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		store:   store,
		client:  &http.Client{Timeout: timeout},
		breaker: circuitbreaker.New(5, 30*time.Second),
		log:     log,
	}
}

// Deliver implements notify.Sink. It fans the event out to every active
// matching subscription of the affected users. Failures are logged and
// recorded on the subscription; they never propagate.
func (d *Dispatcher) Deliver(ctx context.Context, ev notify.Event) {
	seen := make(map[string]bool)
	for _, userID := range ev.UserIDs {
		if seen[userID] {
			continue
		}
		seen[userID] = true

		subs, err := d.store.ListByUser(ctx, userID)
		if err != nil {
			d.log.Warn("webhook subscription lookup failed", "user_id", userID, "error", err)
			continue
		}
		for _, sub := range subs {
			if !sub.Active || !sub.Wants(ev.Type) {
				continue
			}
			d.send(ctx, sub, ev)
		}
	}
}

func (d *Dispatcher) send(ctx context.Context, sub *Subscription, ev notify.Event) {
	if !d.breaker.Allow(sub.ID) {
		metrics.WebhookDeliveriesTotal.WithLabelValues("skipped").Inc()
		return
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		d.updateError(ctx, sub, "failed to marshal event")
		return
	}

	err = retry.Do(ctx, 3, 500*time.Millisecond, func() error {
		return d.attempt(ctx, sub, ev, payload)
	})
	if err != nil {
		d.breaker.RecordFailure(sub.ID)
		metrics.WebhookDeliveriesTotal.WithLabelValues("error").Inc()
		d.updateError(ctx, sub, err.Error())
		d.log.Warn("webhook delivery failed", "subscription_id", sub.ID, "event", ev.Type, "error", err)
		return
	}

	d.breaker.RecordSuccess(sub.ID)
	metrics.WebhookDeliveriesTotal.WithLabelValues("ok").Inc()
	d.updateSuccess(ctx, sub)
}

func (d *Dispatcher) attempt(ctx context.Context, sub *Subscription, ev notify.Event, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(payload))
	if err != nil {
		return retry.Permanent(fmt.Errorf("create request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Homeflow-Event", ev.Type)
	req.Header.Set("X-Homeflow-Timestamp", fmt.Sprintf("%d", ev.CreatedAt.Unix()))
	if sub.Secret != "" {
		req.Header.Set("X-Homeflow-Signature", Sign(payload, sub.Secret))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		// The receiver rejected the payload; retrying won't change that.
		return retry.Permanent(fmt.Errorf("status %d", resp.StatusCode))
	default:
		return fmt.Errorf("status %d", resp.StatusCode)
	}
}

// Sign computes the hex HMAC-SHA256 of payload under secret.
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func (d *Dispatcher) updateSuccess(ctx context.Context, sub *Subscription) {
	now := time.Now().UTC()
	sub.LastSuccess = &now
	sub.LastError = ""
	if err := d.store.Update(ctx, sub); err != nil {
		d.log.Warn("webhook subscription update failed", "subscription_id", sub.ID, "error", err)
	}
}

func (d *Dispatcher) updateError(ctx context.Context, sub *Subscription, errMsg string) {
	sub.LastError = errMsg
	if err := d.store.Update(ctx, sub); err != nil {
		d.log.Warn("webhook subscription update failed", "subscription_id", sub.ID, "error", err)
	}
}
