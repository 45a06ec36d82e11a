package domain

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	minAntennaIDLength = 8
	maxAntennaIDLength = 32
)

// AntennaID names one antenna on the Misskey instance.
type AntennaID string

// SinkAddress is the raw address of a delivery endpoint, e.g. a webhook URL.
type SinkAddress string

type Mapping struct {
	Antenna AntennaID
	Sink    SinkAddress
}

// Note is a post observed on an antenna timeline.
type Note struct {
	ID        string
	CreatedAt time.Time
	UserID    string
}

// ParseAntennaID accepts the id formats Misskey generates (aid, aidx, meid,
// ulid, objectid), all of which are short ASCII alphanumeric strings.
func ParseAntennaID(s string) (AntennaID, error) {
	if len(s) < minAntennaIDLength || len(s) > maxAntennaIDLength {
		return "", fmt.Errorf("%w: %q must be %d-%d characters long",
			ErrIdentifierFormat, s, minAntennaIDLength, maxAntennaIDLength)
	}

	for _, r := range s {
		if !isASCIIAlphanumeric(r) {
			return "", fmt.Errorf("%w: %q contains %q", ErrIdentifierFormat, s, r)
		}
	}

	return AntennaID(s), nil
}

func (id AntennaID) String() string {
	return string(id)
}

// Redacted renders the address without credentials, paths or query strings.
// Webhook URLs carry their secret in the path, so only this form is logged.
func (a SinkAddress) Redacted() string {
	u, err := url.Parse(strings.TrimSpace(string(a)))
	if err != nil || u.Scheme == "" {
		return "<invalid>"
	}

	return u.Scheme + "://" + u.Hostname()
}

func isASCIIAlphanumeric(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}
