package journal

import (
	"context"
	"time"

	"github.com/sjawhar/ghost-dictate/internal/transcribe"
)

type Store interface {
	CreateDictation(id string, startedAt time.Time) error
	EndDictation(id string, endedAt time.Time, audioPath string) error
	AppendSegment(dictationID string, seg transcribe.Segment) error
	GetSegments(dictationID string) ([]transcribe.Segment, error)
	UpdateSummary(dictationID, summary, status, model string) error
}

type Recorder interface {
	Begin(dictationID string) error
	Finish() (string, error)
}

// TranscriptWriter appends settled segments to the daily markdown file.
type TranscriptWriter interface {
	Append(seg transcribe.Segment) error
	PathFor(t time.Time) string
}

type Summarizer interface {
	Summarize(ctx context.Context, dictationID, transcript string) (string, error)
	Model() string
}

type Exporter interface {
	Export(ctx context.Context, localPath, name string) (string, error)
}

type EventBroadcaster interface {
	BroadcastLiveTranscript(dictationID string, seg transcribe.Segment)
	BroadcastLiveTranscriptInterim(dictationID string, ev transcribe.Event)
	BroadcastDictationStarted(dictationID string)
	BroadcastDictationEnded(dictationID string, duration time.Duration, audioPath string)
	BroadcastSummaryReady(dictationID, summary, status, model string)
}
