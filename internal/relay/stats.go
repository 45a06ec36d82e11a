package relay

import (
	"sync/atomic"
	"time"

	"antennarelay/internal/domain"
)

// FeedStats counts deliveries for one task. Only the owning task writes it.
type FeedStats struct {
	antenna domain.AntennaID
	sink    string

	delivered       atomic.Int64
	lastNoteID      atomic.Pointer[string]
	lastDeliveredAt atomic.Int64
}

type FeedSnapshot struct {
	Antenna         string    `json:"antenna"`
	Sink            string    `json:"sink"`
	Delivered       int64     `json:"delivered"`
	LastNoteID      string    `json:"lastNoteId,omitempty"`
	LastDeliveredAt time.Time `json:"lastDeliveredAt,omitzero"`
}

func newFeedStats(m domain.Mapping) *FeedStats {
	return &FeedStats{
		antenna: m.Antenna,
		sink:    m.Sink.Redacted(),
	}
}

func (s *FeedStats) record(n domain.Note, at time.Time) {
	id := n.ID
	s.lastNoteID.Store(&id)
	s.lastDeliveredAt.Store(at.UnixNano())
	s.delivered.Add(1)
}

func (s *FeedStats) Snapshot() FeedSnapshot {
	snap := FeedSnapshot{
		Antenna:   s.antenna.String(),
		Sink:      s.sink,
		Delivered: s.delivered.Load(),
	}

	if id := s.lastNoteID.Load(); id != nil {
		snap.LastNoteID = *id
	}
	if at := s.lastDeliveredAt.Load(); at != 0 {
		snap.LastDeliveredAt = time.Unix(0, at).UTC()
	}

	return snap
}
