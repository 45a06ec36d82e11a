package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"antennarelay/internal/domain"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	ServiceToken     string        `env:"SERVICE_TOKEN,required,notEmpty"`
	ServiceURL       url.URL       `env:"SERVICE_URL,required,notEmpty"`
	FeedSinkMappings string        `env:"FEED_SINK_MAPPINGS,required,notEmpty"`
	HealthCheckPort  string        `env:"HEALTH_CHECK_PORT"`
	PingInterval     time.Duration `env:"PING_INTERVAL"                          envDefault:"1s"`
	PongTimeout      time.Duration `env:"PONG_TIMEOUT"                           envDefault:"10s"`
	VerifyAntennas   bool          `env:"VERIFY_ANTENNAS"                        envDefault:"true"`
	DeliveryTimeout  time.Duration `env:"DELIVERY_TIMEOUT"                       envDefault:"30s"`
	StatsSchedule    string        `env:"STATS_SCHEDULE"                         envDefault:"@hourly"`
	LogLevel         slog.Level    `env:"LOG_LEVEL"                              envDefault:"INFO"`
}

// Load reads the configuration from the process environment.
func Load() (Config, error) {
	return load(env.Options{})
}

// LoadFrom reads the configuration from the given variables only.
func LoadFrom(environ map[string]string) (Config, error) {
	return load(env.Options{Environment: environ})
}

func load(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("%w: %w", domain.ErrConfiguration, err)
	}

	cfg.ServiceToken = strings.TrimSpace(cfg.ServiceToken)
	cfg.FeedSinkMappings = strings.TrimSpace(cfg.FeedSinkMappings)
	cfg.HealthCheckPort = strings.TrimSpace(cfg.HealthCheckPort)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks the invariants env tags cannot express. It is also run by
// the relay driver so configurations built in code get the same checks.
func (c Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.ServiceToken) == "" {
		errs = append(errs, errors.New("SERVICE_TOKEN is empty"))
	}

	switch {
	case c.ServiceURL.Scheme != "http" && c.ServiceURL.Scheme != "https":
		errs = append(errs, fmt.Errorf("SERVICE_URL must be an http(s) URL (scheme = %q)", c.ServiceURL.Scheme))
	case c.ServiceURL.Host == "":
		errs = append(errs, errors.New("SERVICE_URL has no host"))
	}

	if strings.TrimSpace(c.FeedSinkMappings) == "" {
		errs = append(errs, errors.New("FEED_SINK_MAPPINGS is empty"))
	}

	if c.PingInterval > 0 && c.PongTimeout <= c.PingInterval {
		errs = append(errs, fmt.Errorf("PONG_TIMEOUT (%s) must exceed PING_INTERVAL (%s)", c.PongTimeout, c.PingInterval))
	}

	if c.DeliveryTimeout < 0 {
		errs = append(errs, fmt.Errorf("DELIVERY_TIMEOUT is negative (%s)", c.DeliveryTimeout))
	}

	if len(errs) != 0 {
		return fmt.Errorf("%w: %w", domain.ErrConfiguration, errors.Join(errs...))
	}

	return nil
}

// HealthCheckAddr is empty when the health server is disabled.
func (c Config) HealthCheckAddr() string {
	if c.HealthCheckPort == "" {
		return ""
	}

	return "0.0.0.0:" + c.HealthCheckPort
}
