package misskey

import (
	"encoding/json"
	"fmt"
	"time"

	"antennarelay/internal/domain"
)

const (
	frameTypeConnect    = "connect"
	frameTypeDisconnect = "disconnect"
	frameTypeChannel    = "channel"

	channelAntenna   = "antenna"
	channelEventNote = "note"
)

type frame struct {
	Type string          `json:"type"`
	Body json.RawMessage `json:"body"`
}

type connectBody struct {
	Channel string        `json:"channel"`
	ID      string        `json:"id"`
	Params  antennaParams `json:"params"`
}

type antennaParams struct {
	AntennaID string `json:"antennaId"`
}

type disconnectBody struct {
	ID string `json:"id"`
}

type channelEvent struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Body json.RawMessage `json:"body"`
}

type note struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UserID    string    `json:"userId"`
}

func (n note) toDomain() domain.Note {
	return domain.Note{
		ID:        n.ID,
		CreatedAt: n.CreatedAt,
		UserID:    n.UserID,
	}
}

func newFrame(frameType string, body any) (frame, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return frame{}, err
	}

	return frame{Type: frameType, Body: raw}, nil
}

// decodeChannelEvent reports ok only for note events addressed to a channel.
func decodeChannelEvent(data []byte) (frame, channelEvent, bool, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return frame{}, channelEvent{}, false, fmt.Errorf("decode frame: %w", err)
	}

	if f.Type != frameTypeChannel {
		return f, channelEvent{}, false, nil
	}

	var event channelEvent
	if err := json.Unmarshal(f.Body, &event); err != nil {
		return f, channelEvent{}, false, fmt.Errorf("decode channel event: %w", err)
	}

	return f, event, event.Type == channelEventNote, nil
}

func decodeNote(event channelEvent) (note, error) {
	var n note
	if err := json.Unmarshal(event.Body, &n); err != nil {
		return note{}, fmt.Errorf("decode note (channelID = %s): %w", event.ID, err)
	}

	return n, nil
}
