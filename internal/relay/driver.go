package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"antennarelay/internal/config"
	"antennarelay/internal/domain"
	"antennarelay/internal/mapping"

	"golang.org/x/sync/errgroup"
)

// Transport is the shared upstream connection. Only the driver closes it.
type Transport interface {
	FeedOpener
	Close() error
}

// ConnectFunc establishes the shared transport for cfg.
type ConnectFunc func(ctx context.Context, cfg config.Config) (Transport, error)

// Driver runs one Task per mapping entry over a single transport and fails as
// soon as any of them fails.
type Driver struct {
	connect   ConnectFunc
	newSender SenderFactory
	log       *slog.Logger

	tasks atomic.Pointer[[]*Task]
}

func NewDriver(connect ConnectFunc, newSender SenderFactory, log *slog.Logger) *Driver {
	return &Driver{
		connect:   connect,
		newSender: newSender,
		log:       log,
	}
}

// Run blocks until every task has finished. Cancelling ctx is the orderly
// shutdown: the transport is closed, every feed ends and Run returns nil.
func (d *Driver) Run(ctx context.Context, cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	mappings, err := mapping.Parse(cfg.FeedSinkMappings)
	if err != nil {
		return fmt.Errorf("parse FEED_SINK_MAPPINGS: %w", err)
	}

	transport, err := d.connect(ctx, cfg)
	if err != nil {
		return asKind(err, domain.ErrConnection)
	}
	defer func() {
		if err = transport.Close(); err != nil {
			d.log.ErrorContext(ctx, "Failed to close transport",
				"error", err)
		}
	}()

	baseURL := cfg.ServiceURL

	tasks := make([]*Task, 0, len(mappings))
	for _, m := range mappings {
		tasks = append(tasks, NewTask(m, &baseURL, transport, d.newSender, d.log))
	}
	d.tasks.Store(&tasks)

	// Feeds end cleanly once the transport is closed, so the group itself
	// must not inherit the shutdown cancellation.
	stopShutdown := context.AfterFunc(ctx, func() {
		d.log.Info("Shutting down relay",
			"taskCount", len(tasks))

		if closeErr := transport.Close(); closeErr != nil {
			d.log.Error("Failed to close transport",
				"error", closeErr)
		}
	})
	defer stopShutdown()

	g, groupCtx := errgroup.WithContext(context.WithoutCancel(ctx))

	for _, task := range tasks {
		task := task
		g.Go(func() error {
			taskErr := task.Run(groupCtx)
			if taskErr != nil && !(errors.Is(taskErr, context.Canceled) && groupCtx.Err() != nil) {
				d.log.ErrorContext(groupCtx, "Relay task failed",
					"error", taskErr,
					"antennaID", task.mapping.Antenna,
					"sink", task.mapping.Sink.Redacted())
			}

			return taskErr
		})
	}

	d.log.InfoContext(ctx, "Started listening on antennas",
		"antennaCount", len(tasks))

	return g.Wait()
}

// Snapshot returns per-antenna delivery statistics, or nil before Run has
// started its tasks.
func (d *Driver) Snapshot() []FeedSnapshot {
	tasks := d.tasks.Load()
	if tasks == nil {
		return nil
	}

	snaps := make([]FeedSnapshot, 0, len(*tasks))
	for _, task := range *tasks {
		snaps = append(snaps, task.Stats().Snapshot())
	}

	return snaps
}
