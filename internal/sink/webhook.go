package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"antennarelay/internal/domain"
)

const maxResponseExcerpt = 512

// Webhook posts to a Discord-compatible incoming webhook.
type Webhook struct {
	url      string
	redacted string
	http     *http.Client
}

type webhookMessage struct {
	Content string `json:"content"`
}

func newWebhook(u *url.URL, client *http.Client) *Webhook {
	return &Webhook{
		url:      u.String(),
		redacted: u.Scheme + "://" + u.Host,
		http:     client,
	}
}

func (w *Webhook) SendText(ctx context.Context, text string) error {
	payload, err := json.Marshal(webhookMessage{Content: text})
	if err != nil {
		return fmt.Errorf("%w: encode message: %w", domain.ErrDelivery, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: create request: %w", domain.ErrDelivery, w.redact(err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: post to %s: %w", domain.ErrDelivery, w.redacted, w.redact(err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseExcerpt))

	return fmt.Errorf("%w: %s responded %s: %s",
		domain.ErrDelivery, w.redacted, resp.Status, strings.TrimSpace(string(excerpt)))
}

// redact strips the secret-bearing webhook URL from net/http errors.
func (w *Webhook) redact(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		urlErr.URL = w.redacted
	}

	return err
}
