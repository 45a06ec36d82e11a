package relay_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"antennarelay/internal/domain"
	"antennarelay/internal/relay"
)

var discardLog = slog.New(slog.NewTextHandler(io.Discard, nil))

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type feedStep struct {
	note domain.Note
	err  error
}

func noteStep(id string) feedStep {
	return feedStep{note: domain.Note{ID: id}}
}

// scriptedFeed returns its steps in order, then either io.EOF or, when block
// is set, waits for cancellation or for end to be closed.
type scriptedFeed struct {
	rec    *recorder
	steps  []feedStep
	pos    int
	block  bool
	end    chan struct{}
	closed atomic.Bool
}

func (f *scriptedFeed) Next(ctx context.Context) (domain.Note, error) {
	if f.rec != nil {
		f.rec.add("pull")
	}

	if f.pos < len(f.steps) {
		step := f.steps[f.pos]
		f.pos++
		return step.note, step.err
	}

	if !f.block {
		return domain.Note{}, io.EOF
	}

	select {
	case <-ctx.Done():
		return domain.Note{}, ctx.Err()
	case <-f.end:
		return domain.Note{}, io.EOF
	}
}

func (f *scriptedFeed) Close() error {
	f.closed.Store(true)
	return nil
}

type fakeTransport struct {
	feeds   map[domain.AntennaID]*scriptedFeed
	openErr map[domain.AntennaID]error
	// blockOpen makes OpenFeed wait for Close, like a subscription still
	// being verified when shutdown starts.
	blockOpen bool
	opened  atomic.Int32
	closed  atomic.Int32
	end     chan struct{}
	endOnce sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		feeds:   make(map[domain.AntennaID]*scriptedFeed),
		openErr: make(map[domain.AntennaID]error),
		end:     make(chan struct{}),
	}
}

func (t *fakeTransport) addFeed(id domain.AntennaID, feed *scriptedFeed) {
	feed.end = t.end
	t.feeds[id] = feed
}

func (t *fakeTransport) OpenFeed(_ context.Context, id domain.AntennaID) (relay.Feed, error) {
	t.opened.Add(1)

	if t.blockOpen {
		<-t.end
		return nil, fmt.Errorf("%w: antenna %s: transport is closed: %w", domain.ErrSubscription, id, io.EOF)
	}

	if err := t.openErr[id]; err != nil {
		return nil, err
	}

	feed, ok := t.feeds[id]
	if !ok {
		return nil, fmt.Errorf("%w: unknown antenna %s", domain.ErrSubscription, id)
	}

	return feed, nil
}

func (t *fakeTransport) Close() error {
	t.closed.Add(1)
	t.endOnce.Do(func() { close(t.end) })
	return nil
}

// recordingSender logs the start and end of each delivery.
type recordingSender struct {
	rec   *recorder
	delay time.Duration
	err   error
	sends atomic.Int32
}

func (s *recordingSender) SendText(_ context.Context, text string) error {
	s.sends.Add(1)

	if s.rec != nil {
		s.rec.add("send " + text)
	}
	time.Sleep(s.delay)
	if s.rec != nil {
		s.rec.add("sent " + text)
	}

	return s.err
}

func senderFactory(senders map[domain.SinkAddress]*recordingSender) relay.SenderFactory {
	return func(addr domain.SinkAddress) relay.Sender {
		if s, ok := senders[addr]; ok {
			return s
		}
		return &recordingSender{}
	}
}
