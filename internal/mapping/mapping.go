// Package mapping parses the antenna to sink association string.
package mapping

import (
	"errors"
	"fmt"
	"strings"

	"antennarelay/internal/domain"
)

const (
	pairSeparator  = " "
	fieldSeparator = "="
)

var (
	ErrMissingFeedID      = errors.New("missing feed identifier")
	ErrMissingSinkAddress = errors.New("missing sink address")
)

// Parse splits raw ("id1=sink1 id2=sink2") into mappings, keeping input order.
// It stops at the first malformed pair.
func Parse(raw string) ([]domain.Mapping, error) {
	tokens := strings.Split(strings.TrimSpace(raw), pairSeparator)
	mappings := make([]domain.Mapping, 0, len(tokens))

	for i, token := range tokens {
		position := i + 1

		rawID, rawSink, ok := strings.Cut(token, fieldSeparator)
		if !ok {
			return nil, fmt.Errorf("%w: pair %d: %w", domain.ErrConfiguration, position, ErrMissingSinkAddress)
		}
		if rawID == "" {
			return nil, fmt.Errorf("%w: pair %d: %w", domain.ErrConfiguration, position, ErrMissingFeedID)
		}
		if rawSink == "" {
			return nil, fmt.Errorf("%w: pair %d (%s): %w", domain.ErrConfiguration, position, rawID, ErrMissingSinkAddress)
		}

		id, err := domain.ParseAntennaID(rawID)
		if err != nil {
			return nil, fmt.Errorf("pair %d: %w", position, err)
		}

		mappings = append(mappings, domain.Mapping{
			Antenna: id,
			Sink:    domain.SinkAddress(rawSink),
		})
	}

	return mappings, nil
}
