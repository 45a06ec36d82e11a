// Package sink delivers relayed messages to chat endpoints.
package sink

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"antennarelay/internal/domain"
)

const defaultTimeout = 30 * time.Second

const (
	schemeHTTP     = "http"
	schemeHTTPS    = "https"
	schemeTelegram = "telegram"
	schemeTG       = "tg"
)

// Sender delivers one text message.
type Sender interface {
	SendText(ctx context.Context, text string) error
}

type Options struct {
	HTTPClient *http.Client

	// TelegramServerURL overrides the Bot API endpoint.
	TelegramServerURL string
}

// New picks the sender for the address scheme. It never fails: an address
// that cannot be used is reported by SendText as ErrDelivery.
func New(addr domain.SinkAddress, opts Options) Sender {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: defaultTimeout}
	}

	u, err := url.Parse(strings.TrimSpace(string(addr)))
	if err != nil {
		return invalid{err: errors.New("sink address is not a valid URL")}
	}

	switch strings.ToLower(u.Scheme) {
	case schemeHTTP, schemeHTTPS:
		return newWebhook(u, opts.HTTPClient)
	case schemeTelegram, schemeTG:
		return newTelegram(u, opts)
	default:
		return invalid{err: fmt.Errorf("unsupported sink scheme %q", u.Scheme)}
	}
}

type invalid struct {
	err error
}

func (s invalid) SendText(context.Context, string) error {
	return fmt.Errorf("%w: %w", domain.ErrDelivery, s.err)
}
