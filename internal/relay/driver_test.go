package relay_test

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"testing"
	"time"

	"antennarelay/internal/config"
	"antennarelay/internal/domain"
	"antennarelay/internal/mapping"
	"antennarelay/internal/relay"

	"github.com/stretchr/testify/require"
)

const runTimeout = 2 * time.Second

func testConfig(t *testing.T, mappings string) config.Config {
	t.Helper()

	base, err := url.Parse(testBase)
	require.NoError(t, err)

	return config.Config{
		ServiceToken:     "token",
		ServiceURL:       *base,
		FeedSinkMappings: mappings,
	}
}

type connectCounter struct {
	calls     int
	transport *fakeTransport
	err       error
}

func (c *connectCounter) connect(context.Context, config.Config) (relay.Transport, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return c.transport, nil
}

func runDriver(ctx context.Context, d *relay.Driver, cfg config.Config) <-chan error {
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, cfg) }()
	return done
}

func waitRun(t *testing.T, done <-chan error) error {
	t.Helper()

	select {
	case err := <-done:
		return err
	case <-time.After(runTimeout):
		t.Fatalf("driver did not return within %s", runTimeout)
		return nil
	}
}

func TestDriverFailsFastWhileOtherFeedsBlock(t *testing.T) {
	transport := newFakeTransport()
	transport.addFeed("antenna0001", &scriptedFeed{block: true})
	transport.addFeed("antenna0002", &scriptedFeed{steps: []feedStep{{err: fmt.Errorf("%w: dropped", domain.ErrTransport)}}})
	transport.addFeed("antenna0003", &scriptedFeed{block: true})

	counter := &connectCounter{transport: transport}
	d := relay.NewDriver(counter.connect, senderFactory(nil), discardLog)

	cfg := testConfig(t, "antenna0001=https://a.example.test/1 antenna0002=https://a.example.test/2 antenna0003=https://a.example.test/3")

	err := waitRun(t, runDriver(context.Background(), d, cfg))
	require.ErrorIs(t, err, domain.ErrTransport)
	require.ErrorContains(t, err, "antenna0002")
	require.Equal(t, 1, counter.calls)
	require.EqualValues(t, 3, transport.opened.Load())
	require.Positive(t, transport.closed.Load())

	for _, feed := range transport.feeds {
		require.True(t, feed.closed.Load())
	}
}

func TestDriverReportsDeliveryFailure(t *testing.T) {
	transport := newFakeTransport()
	transport.addFeed("antenna0001", &scriptedFeed{block: true})
	transport.addFeed("antenna0002", &scriptedFeed{steps: []feedStep{noteStep("n1")}, block: true})

	senders := map[domain.SinkAddress]*recordingSender{
		"https://a.example.test/2": {err: errors.New("410 Gone")},
	}
	counter := &connectCounter{transport: transport}
	d := relay.NewDriver(counter.connect, senderFactory(senders), discardLog)

	cfg := testConfig(t, "antenna0001=https://a.example.test/1 antenna0002=https://a.example.test/2")

	err := waitRun(t, runDriver(context.Background(), d, cfg))
	require.ErrorIs(t, err, domain.ErrDelivery)
	require.ErrorContains(t, err, "410 Gone")
}

func TestDriverInvalidConfigurationDoesNotConnect(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr error
	}{
		{"empty token", func(c *config.Config) { c.ServiceToken = "" }, domain.ErrConfiguration},
		{"empty mapping", func(c *config.Config) { c.FeedSinkMappings = "" }, domain.ErrConfiguration},
		{"no service URL", func(c *config.Config) { c.ServiceURL = url.URL{} }, domain.ErrConfiguration},
		{"missing sink", func(c *config.Config) { c.FeedSinkMappings = "antenna0001=https://a antenna0002" }, mapping.ErrMissingSinkAddress},
		{"bad antenna id", func(c *config.Config) { c.FeedSinkMappings = "bad=https://a" }, domain.ErrIdentifierFormat},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := testConfig(t, "antenna0001=https://a.example.test/1")
			test.mutate(&cfg)

			counter := &connectCounter{transport: newFakeTransport()}
			d := relay.NewDriver(counter.connect, senderFactory(nil), discardLog)

			require.ErrorIs(t, d.Run(context.Background(), cfg), test.wantErr)
			require.Zero(t, counter.calls)
			require.Nil(t, d.Snapshot())
		})
	}
}

func TestDriverConnectionError(t *testing.T) {
	counter := &connectCounter{err: errors.New("dial tcp: connection refused")}
	d := relay.NewDriver(counter.connect, senderFactory(nil), discardLog)

	err := d.Run(context.Background(), testConfig(t, "antenna0001=https://a.example.test/1"))
	require.ErrorIs(t, err, domain.ErrConnection)
	require.Equal(t, 1, counter.calls)
}

func TestDriverCompletesWhenAllFeedsEnd(t *testing.T) {
	transport := newFakeTransport()
	transport.addFeed("antenna0001", &scriptedFeed{steps: []feedStep{noteStep("a1"), noteStep("a2")}})
	transport.addFeed("antenna0002", &scriptedFeed{steps: []feedStep{noteStep("b1")}})

	senders := map[domain.SinkAddress]*recordingSender{
		"https://a.example.test/1": {},
		"https://a.example.test/2": {},
	}
	d := relay.NewDriver((&connectCounter{transport: transport}).connect, senderFactory(senders), discardLog)

	cfg := testConfig(t, "antenna0001=https://a.example.test/1 antenna0002=https://a.example.test/2")
	require.NoError(t, waitRun(t, runDriver(context.Background(), d, cfg)))

	require.EqualValues(t, 2, senders["https://a.example.test/1"].sends.Load())
	require.EqualValues(t, 1, senders["https://a.example.test/2"].sends.Load())

	snaps := d.Snapshot()
	require.Len(t, snaps, 2)
	require.Equal(t, "antenna0001", snaps[0].Antenna)
	require.EqualValues(t, 2, snaps[0].Delivered)
	require.Equal(t, "antenna0002", snaps[1].Antenna)
	require.EqualValues(t, 1, snaps[1].Delivered)
}

func TestDriverShutsDownOnCancel(t *testing.T) {
	transport := newFakeTransport()
	transport.addFeed("antenna0001", &scriptedFeed{block: true})
	transport.addFeed("antenna0002", &scriptedFeed{block: true})

	d := relay.NewDriver((&connectCounter{transport: transport}).connect, senderFactory(nil), discardLog)

	ctx, cancel := context.WithCancel(context.Background())
	done := runDriver(ctx, d, testConfig(t, "antenna0001=https://a.example.test/1 antenna0002=https://a.example.test/2"))

	require.Eventually(t, func() bool { return transport.opened.Load() == 2 }, runTimeout, 5*time.Millisecond)
	cancel()

	require.NoError(t, waitRun(t, done))
	require.Positive(t, transport.closed.Load())
}

func TestDriverShutdownWhileFeedsAreOpening(t *testing.T) {
	transport := newFakeTransport()
	transport.blockOpen = true

	senders := map[domain.SinkAddress]*recordingSender{
		"https://a.example.test/1": {},
		"https://a.example.test/2": {},
	}
	d := relay.NewDriver((&connectCounter{transport: transport}).connect, senderFactory(senders), discardLog)

	ctx, cancel := context.WithCancel(context.Background())
	done := runDriver(ctx, d, testConfig(t, "antenna0001=https://a.example.test/1 antenna0002=https://a.example.test/2"))

	require.Eventually(t, func() bool { return transport.opened.Load() == 2 }, runTimeout, 5*time.Millisecond)
	cancel()

	require.NoError(t, waitRun(t, done))
	require.Zero(t, senders["https://a.example.test/1"].sends.Load())
	require.Zero(t, senders["https://a.example.test/2"].sends.Load())
}
