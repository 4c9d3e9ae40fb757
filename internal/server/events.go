package server

import "time"

const EventVersion = 1

const (
	EventLiveTranscript        = "live_transcript"
	EventLiveTranscriptInterim = "live_transcript_interim"
	EventDictationStarted      = "dictation_started"
	EventDictationEnded        = "dictation_ended"
	EventSummaryReady          = "summary_ready"
	EventStatusChanged         = "status_changed"
	EventConnection            = "connection"
)

type Event struct {
	Type      string `json:"type"`
	Version   int    `json:"version"`
	Timestamp string `json:"timestamp"`
}

// LiveTranscriptEvent carries both settled and interim text; Type tells them apart.
type LiveTranscriptEvent struct {
	Event
	DictationID string  `json:"dictation_id,omitempty"`
	Text        string  `json:"text"`
	StartTime   float64 `json:"start_time"`
	EndTime     float64 `json:"end_time"`
}

type DictationStartedEvent struct {
	Event
	DictationID string `json:"dictation_id"`
}

type DictationEndedEvent struct {
	Event
	DictationID string  `json:"dictation_id"`
	Duration    float64 `json:"duration"`
	AudioPath   string  `json:"audio_path,omitempty"`
}

type SummaryReadyEvent struct {
	Event
	DictationID string `json:"dictation_id"`
	Summary     string `json:"summary"`
	Status      string `json:"status"`
	Model       string `json:"model,omitempty"`
}

type StatusChangedEvent struct {
	Event
	Status
}

type ConnectionEvent struct {
	Event
	Connected bool `json:"connected"`
}

func newEvent(eventType string, now time.Time) Event {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return Event{
		Type:      eventType,
		Version:   EventVersion,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}
