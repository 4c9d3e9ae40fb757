package transcribe

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// TypeTranscript is the only envelope type the realtime endpoint sends that
// carries recognized text.
const TypeTranscript = "transcript"

// ErrMalformedMessage marks an inbound frame that is not a transcript envelope.
var ErrMalformedMessage = errors.New("malformed transcript message")

type Kind int

const (
	Partial Kind = iota
	Final
)

func (k Kind) String() string {
	if k == Final {
		return "final"
	}
	return "partial"
}

// Envelope is the inbound wire payload.
type Envelope struct {
	Type      string  `json:"type"`
	IsFinal   bool    `json:"is_final"`
	Text      string  `json:"text"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
}

// Event is one decoded transcript message. A Final event supersedes earlier
// Partial events for the same segment; merging is up to the consumer.
type Event struct {
	Kind       Kind
	Text       string
	StartTime  float64
	EndTime    float64
	ReceivedAt time.Time
}

func (e Event) IsFinal() bool { return e.Kind == Final }

// Decode parses a single inbound frame. Frames that fail to parse or carry an
// unrecognized type return an error wrapping ErrMalformedMessage.
func Decode(frame []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if env.Type != TypeTranscript {
		return Event{}, fmt.Errorf("%w: unrecognized type %q", ErrMalformedMessage, env.Type)
	}

	kind := Partial
	if env.IsFinal {
		kind = Final
	}

	return Event{
		Kind:       kind,
		Text:       env.Text,
		StartTime:  env.StartTime,
		EndTime:    env.EndTime,
		ReceivedAt: time.Now().UTC(),
	}, nil
}
