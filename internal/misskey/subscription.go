package misskey

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"antennarelay/internal/domain"
)

var ErrClosed = errors.New("misskey: subscription closed")

// Subscription is one antenna channel on a shared Client. Notes are queued by
// the client's reader as they arrive and handed out one at a time by Next.
type Subscription struct {
	id      string
	antenna domain.AntennaID
	client  *Client

	mu    sync.Mutex
	notes []domain.Note
	err   error
	ready chan struct{}
}

func newSubscription(id string, antenna domain.AntennaID, client *Client) *Subscription {
	return &Subscription{
		id:      id,
		antenna: antenna,
		client:  client,
		ready:   make(chan struct{}, 1),
	}
}

// Next blocks until a note arrives. After the connection ends it returns
// io.EOF for an orderly close and an ErrTransport error otherwise; queued notes
// are still returned first.
func (s *Subscription) Next(ctx context.Context) (domain.Note, error) {
	for {
		s.mu.Lock()
		if len(s.notes) > 0 {
			n := s.notes[0]
			s.notes[0] = domain.Note{}
			s.notes = s.notes[1:]
			s.mu.Unlock()

			return n, nil
		}
		err := s.err
		s.mu.Unlock()

		if err != nil {
			return domain.Note{}, err
		}

		select {
		case <-ctx.Done():
			return domain.Note{}, ctx.Err()
		case <-s.ready:
		}
	}
}

// Close disconnects the channel. Next returns ErrClosed afterwards.
func (s *Subscription) Close() error {
	if !s.client.unregister(s.id) {
		return nil
	}

	s.fail(ErrClosed)

	if err := s.client.send(context.Background(), frameTypeDisconnect, disconnectBody{ID: s.id}); err != nil {
		return fmt.Errorf("disconnect antenna %s: %w", s.antenna, err)
	}

	return nil
}

func (s *Subscription) push(n domain.Note) {
	s.mu.Lock()
	if s.err != nil {
		s.mu.Unlock()
		return
	}
	s.notes = append(s.notes, n)
	s.mu.Unlock()

	s.signal()
}

func (s *Subscription) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()

	s.signal()
}

func (s *Subscription) signal() {
	select {
	case s.ready <- struct{}{}:
	default:
	}
}
