package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"time"

	"antennarelay/internal/domain"
)

// Feed is a pull-based, single-pass sequence of notes. Next returns io.EOF
// once the feed has ended cleanly.
type Feed interface {
	Next(ctx context.Context) (domain.Note, error)
	Close() error
}

// FeedOpener opens antenna feeds over a shared transport. Tasks get only this
// view of the transport, so none of them can close it.
type FeedOpener interface {
	OpenFeed(ctx context.Context, antenna domain.AntennaID) (Feed, error)
}

type Sender interface {
	SendText(ctx context.Context, text string) error
}

type SenderFactory func(domain.SinkAddress) Sender

// Task relays one antenna to one sink.
type Task struct {
	mapping domain.Mapping
	baseURL *url.URL
	feeds   FeedOpener
	sender  Sender
	stats   *FeedStats
	now     func() time.Time
	log     *slog.Logger
}

func NewTask(
	m domain.Mapping,
	baseURL *url.URL,
	feeds FeedOpener,
	newSender SenderFactory,
	log *slog.Logger,
) *Task {
	return &Task{
		mapping: m,
		baseURL: baseURL,
		feeds:   feeds,
		sender:  newSender(m.Sink),
		stats:   newFeedStats(m),
		now:     time.Now,
		log:     log,
	}
}

func (t *Task) Stats() *FeedStats {
	return t.stats
}

// Run delivers a permalink for every note until the feed ends or something
// fails. Each delivery completes before the next note is pulled. A transport
// closed in an orderly way, even before the feed is open, is a clean finish.
func (t *Task) Run(ctx context.Context) error {
	feed, err := t.feeds.OpenFeed(ctx, t.mapping.Antenna)
	if errors.Is(err, io.EOF) {
		t.log.InfoContext(ctx, "Transport closed before antenna was opened",
			"antennaID", t.mapping.Antenna)

		return nil
	}
	if err != nil {
		return fmt.Errorf("open antenna %s: %w", t.mapping.Antenna, asKind(err, domain.ErrSubscription))
	}
	defer func() {
		if err = feed.Close(); err != nil {
			t.log.DebugContext(ctx, "Failed to close antenna feed",
				"error", err,
				"antennaID", t.mapping.Antenna)
		}
	}()

	t.log.InfoContext(ctx, "Relaying antenna",
		"antennaID", t.mapping.Antenna,
		"sink", t.mapping.Sink.Redacted())

	for {
		note, nextErr := feed.Next(ctx)
		switch {
		case errors.Is(nextErr, io.EOF):
			t.log.InfoContext(ctx, "Antenna feed has ended",
				"antennaID", t.mapping.Antenna,
				"delivered", t.stats.delivered.Load())

			return nil
		case nextErr != nil && ctx.Err() != nil:
			return ctx.Err()
		case nextErr != nil:
			return fmt.Errorf("read antenna %s: %w", t.mapping.Antenna, asKind(nextErr, domain.ErrTransport))
		}

		if err := t.deliver(ctx, note); err != nil {
			return err
		}
	}
}

func (t *Task) deliver(ctx context.Context, note domain.Note) error {
	link, err := Permalink(t.baseURL, note.ID)
	if err != nil {
		return fmt.Errorf("antenna %s: %w", t.mapping.Antenna, err)
	}

	if err = t.sender.SendText(ctx, link.String()); err != nil {
		return fmt.Errorf("relay note %s from antenna %s: %w",
			note.ID, t.mapping.Antenna, asKind(err, domain.ErrDelivery))
	}

	t.stats.record(note, t.now())

	t.log.DebugContext(ctx, "Note is relayed",
		"antennaID", t.mapping.Antenna,
		"noteID", note.ID,
		"userID", note.UserID,
		"createdAt", note.CreatedAt,
		"permalink", link.String())

	return nil
}

// asKind makes sure err carries the given error kind.
func asKind(err, kind error) error {
	if errors.Is(err, kind) {
		return err
	}

	return fmt.Errorf("%w: %w", kind, err)
}
