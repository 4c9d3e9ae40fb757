package server

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/sjawhar/ghost-dictate/internal/logging"
	"github.com/sjawhar/ghost-dictate/internal/transcribe"
)

// Hub fans events out to live-view subscribers. Slow subscribers miss
// events rather than block the broadcaster.
type Hub struct {
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[chan []byte]struct{}
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:  logging.NewComponentLogger(logger, "hub"),
		clients: make(map[chan []byte]struct{}),
	}
}

func (h *Hub) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
	close(ch)
}

func (h *Hub) Broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.clients {
		select {
		case ch <- msg:
		default:
			h.logger.Debug("hub_subscriber_lagging")
		}
	}
}

func (h *Hub) BroadcastLiveTranscript(dictationID string, seg transcribe.Segment) {
	h.broadcastEvent(LiveTranscriptEvent{
		Event:       newEvent(EventLiveTranscript, seg.Timestamp),
		DictationID: dictationID,
		Text:        seg.Text,
		StartTime:   seg.StartTime,
		EndTime:     seg.EndTime,
	})
}

func (h *Hub) BroadcastLiveTranscriptInterim(dictationID string, ev transcribe.Event) {
	h.broadcastEvent(LiveTranscriptEvent{
		Event:       newEvent(EventLiveTranscriptInterim, ev.ReceivedAt),
		DictationID: dictationID,
		Text:        ev.Text,
		StartTime:   ev.StartTime,
		EndTime:     ev.EndTime,
	})
}

func (h *Hub) BroadcastDictationStarted(dictationID string) {
	h.broadcastEvent(DictationStartedEvent{
		Event:       newEvent(EventDictationStarted, time.Now().UTC()),
		DictationID: dictationID,
	})
}

func (h *Hub) BroadcastDictationEnded(dictationID string, duration time.Duration, audioPath string) {
	h.broadcastEvent(DictationEndedEvent{
		Event:       newEvent(EventDictationEnded, time.Now().UTC()),
		DictationID: dictationID,
		Duration:    duration.Seconds(),
		AudioPath:   audioPath,
	})
}

func (h *Hub) BroadcastSummaryReady(dictationID, summary, status, model string) {
	h.broadcastEvent(SummaryReadyEvent{
		Event:       newEvent(EventSummaryReady, time.Now().UTC()),
		DictationID: dictationID,
		Summary:     summary,
		Status:      status,
		Model:       model,
	})
}

func (h *Hub) BroadcastStatusChanged(status Status) {
	h.broadcastEvent(StatusChangedEvent{
		Event:  newEvent(EventStatusChanged, time.Now().UTC()),
		Status: status,
	})
}

func (h *Hub) broadcastEvent(event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("event_marshal_failed", slog.String("error", err.Error()))
		return
	}
	h.Broadcast(payload)
}
