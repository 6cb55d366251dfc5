package ingest

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/striemhq/striem/internal/event"
	"github.com/striemhq/striem/internal/logging"
	"github.com/striemhq/striem/internal/metrics"
)

// Webhook posts one JSON event per request to a configured URL. Delivery is
// best-effort; retries are the receiver's responsibility.
type Webhook struct {
	url    string
	client *http.Client
	log    *logging.Logger
}

// NewWebhook builds the sink with a bounded request timeout.
func NewWebhook(url string, log *logging.Logger) *Webhook {
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log.With(logging.Component("webhook")),
	}
}

// Post delivers one event.
func (w *Webhook) Post(ctx context.Context, ev *event.Event) error {
	body, err := fast.Marshal(ev.Data)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Run posts each event of each batch until ch closes or ctx is cancelled.
func (w *Webhook) Run(ctx context.Context, ch <-chan []*event.Event) {
	for {
		select {
		case batch, ok := <-ch:
			if !ok {
				return
			}
			for _, ev := range batch {
				if err := w.Post(ctx, ev); err != nil {
					metrics.WebhookErrors.Inc()
					w.log.Warn("delivery failed", logging.Error(err))
				}
			}
		case <-ctx.Done():
			return
		}
	}
}
