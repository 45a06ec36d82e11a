package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"antennarelay/internal/config"
	"antennarelay/internal/domain"
	"antennarelay/internal/health"
	"antennarelay/internal/misskey"
	"antennarelay/internal/relay"
	"antennarelay/internal/scheduler"
	"antennarelay/internal/sink"

	"github.com/joho/godotenv"
)

const healthShutdownTimeout = 5 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	start := time.Now()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("Failed to load .env file",
			"error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Error("Failed to load configuration",
			"error", err)

		return 1
	}

	log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var client atomic.Pointer[misskey.Client]

	driver := relay.NewDriver(
		connectMisskey(&client, log),
		newSenderFactory(cfg),
		log,
	)

	if addr := cfg.HealthCheckAddr(); addr != "" {
		srv := health.New(addr, func() bool {
			c := client.Load()
			return c != nil && c.Connected()
		}, driver, log)

		go func() {
			if serveErr := srv.Serve(); serveErr != nil {
				log.Error("Health server failed",
					"error", serveErr,
					"addr", addr)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), healthShutdownTimeout)
			defer cancel()

			if err = srv.Shutdown(shutdownCtx); err != nil {
				log.Error("Failed to stop health server",
					"error", err)
			}
		}()
	}

	if cfg.StatsSchedule != "" {
		sched := scheduler.New(ctx, driver, cfg.StatsSchedule, log)

		if err = sched.Start(); err != nil {
			log.ErrorContext(ctx, "Failed to start scheduler",
				"error", err,
				"spec", cfg.StatsSchedule)

			return 1
		}
		defer sched.Stop()
		log.InfoContext(ctx, "Scheduler is started",
			"spec", cfg.StatsSchedule,
			"timezone", time.FixedZone(scheduler.Timezone, scheduler.TimezoneOffsetSeconds).String())
	}

	if err = driver.Run(ctx, cfg); err != nil {
		log.ErrorContext(ctx, "Relay stopped with an error",
			"error", err,
			"uptimeSeconds", time.Since(start).Seconds())

		return 1
	}

	log.InfoContext(ctx, "Exiting...",
		"uptimeSeconds", time.Since(start).Seconds())

	return 0
}

// connectMisskey dials the shared streaming connection and publishes it for
// the health endpoint.
func connectMisskey(client *atomic.Pointer[misskey.Client], log *slog.Logger) relay.ConnectFunc {
	return func(ctx context.Context, cfg config.Config) (relay.Transport, error) {
		c, err := misskey.Dial(ctx, misskey.Options{
			ServiceURL:     &cfg.ServiceURL,
			Token:          cfg.ServiceToken,
			PingInterval:   cfg.PingInterval,
			PongTimeout:    cfg.PongTimeout,
			VerifyAntennas: cfg.VerifyAntennas,
			Log:            log,
		})
		if err != nil {
			return nil, err
		}
		client.Store(c)

		return misskeyTransport{c}, nil
	}
}

type misskeyTransport struct {
	*misskey.Client
}

func (t misskeyTransport) OpenFeed(ctx context.Context, antenna domain.AntennaID) (relay.Feed, error) {
	sub, err := t.Client.OpenFeed(ctx, antenna)
	if err != nil {
		return nil, err
	}

	return sub, nil
}

func newSenderFactory(cfg config.Config) relay.SenderFactory {
	opts := sink.Options{
		HTTPClient: &http.Client{Timeout: cfg.DeliveryTimeout},
	}

	return func(addr domain.SinkAddress) relay.Sender {
		return sink.New(addr, opts)
	}
}
