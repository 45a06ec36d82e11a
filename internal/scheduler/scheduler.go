// Package scheduler periodically logs relay delivery statistics.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"antennarelay/internal/relay"

	"github.com/robfig/cron/v3"
)

const (
	Timezone              = "UTC"
	TimezoneOffsetSeconds = 0
)

// StatsSource is satisfied by *relay.Driver.
type StatsSource interface {
	Snapshot() []relay.FeedSnapshot
}

type Scheduler struct {
	ctx    context.Context
	cron   *cron.Cron
	source StatsSource
	spec   string
	log    *slog.Logger
}

func New(ctx context.Context, source StatsSource, spec string, log *slog.Logger) *Scheduler {
	c := cron.New(cron.WithLocation(time.FixedZone(Timezone, TimezoneOffsetSeconds)))

	return &Scheduler{
		ctx:    ctx,
		cron:   c,
		source: source,
		spec:   spec,
		log:    log,
	}
}

func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.spec, s.ReportStats); err != nil {
		return fmt.Errorf("schedule stats report %q: %w", s.spec, err)
	}

	s.cron.Start()

	return nil
}

// Stop waits for a running report to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) ReportStats() {
	if s.ctx.Err() != nil {
		s.log.InfoContext(s.ctx, "Scheduler context is done",
			"error", s.ctx.Err())
		return
	}

	snaps := s.source.Snapshot()
	if snaps == nil {
		s.log.DebugContext(s.ctx, "Relay has not started yet")
		return
	}

	var total int64
	for _, snap := range snaps {
		total += snap.Delivered

		s.log.InfoContext(s.ctx, "Antenna stats",
			"antennaID", snap.Antenna,
			"sink", snap.Sink,
			"delivered", snap.Delivered,
			"lastNoteID", snap.LastNoteID,
			"lastDeliveredAt", snap.LastDeliveredAt)
	}

	s.log.InfoContext(s.ctx, "Relay stats",
		"antennaCount", len(snaps),
		"delivered", total)
}
