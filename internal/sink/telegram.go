package sink

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"antennarelay/internal/domain"

	"github.com/go-telegram/bot"
)

const threadQueryParam = "thread"

// Telegram sends through the Bot API. The address has the form
// telegram://<bot-token>@<chat>[?thread=<id>], where <chat> is a numeric chat
// id or a public channel username.
type Telegram struct {
	api      *bot.Bot
	token    string
	chatID   any
	threadID int
	redacted string
	err      error
}

func newTelegram(u *url.URL, opts Options) *Telegram {
	t := &Telegram{redacted: u.Scheme + "://" + u.Host}

	token := telegramToken(u)
	if token == "" {
		t.err = errors.New("telegram sink address has no bot token")
		return t
	}
	if u.Host == "" {
		t.err = errors.New("telegram sink address has no chat")
		return t
	}

	if chatID, err := strconv.ParseInt(u.Host, 10, 64); err == nil {
		t.chatID = chatID
	} else {
		t.chatID = "@" + u.Host
	}

	if rawThread := u.Query().Get(threadQueryParam); rawThread != "" {
		threadID, err := strconv.Atoi(rawThread)
		if err != nil {
			t.err = fmt.Errorf("parse thread id %q: %w", rawThread, err)
			return t
		}
		t.threadID = threadID
	}

	botOpts := []bot.Option{
		bot.WithSkipGetMe(),
		bot.WithHTTPClient(opts.HTTPClient.Timeout, opts.HTTPClient),
	}
	if opts.TelegramServerURL != "" {
		botOpts = append(botOpts, bot.WithServerURL(opts.TelegramServerURL))
	}

	api, err := bot.New(token, botOpts...)
	if err != nil {
		t.err = fmt.Errorf("create bot client: %w", err)
		return t
	}
	t.api = api
	t.token = token

	return t
}

func (t *Telegram) SendText(ctx context.Context, text string) error {
	if t.err != nil {
		return fmt.Errorf("%w: %s: %w", domain.ErrDelivery, t.redacted, t.err)
	}

	_, err := t.api.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:          t.chatID,
		MessageThreadID: t.threadID,
		Text:            text,
	})
	if err != nil {
		return fmt.Errorf("%w: send message to %s: %w",
			domain.ErrDelivery, t.redacted, redactToken(err, t.token, t.redacted))
	}

	return nil
}

func telegramToken(u *url.URL) string {
	if u.User == nil {
		return ""
	}

	token := u.User.Username()
	if password, ok := u.User.Password(); ok {
		token += ":" + password
	}

	return token
}

// tokenRedactedError hides the bot token, which the Bot API carries in the
// request path, while keeping the cause chain intact.
type tokenRedactedError struct {
	err   error
	token string
}

func (e tokenRedactedError) Error() string {
	return strings.ReplaceAll(e.err.Error(), e.token, "<redacted>")
}

func (e tokenRedactedError) Unwrap() error {
	return e.err
}

func redactToken(err error, token, redactedURL string) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		urlErr.URL = redactedURL
	}

	return tokenRedactedError{err: err, token: token}
}
