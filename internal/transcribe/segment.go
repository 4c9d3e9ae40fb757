package transcribe

import (
	"fmt"
	"strings"
	"time"
)

// Segment is a settled piece of dictation as it is journaled.
type Segment struct {
	Text      string    `json:"text"`
	StartTime float64   `json:"start_time"`
	EndTime   float64   `json:"end_time"`
	Timestamp time.Time `json:"timestamp"`
}

func SegmentFromEvent(ev Event) Segment {
	ts := ev.ReceivedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return Segment{
		Text:      strings.TrimSpace(ev.Text),
		StartTime: ev.StartTime,
		EndTime:   ev.EndTime,
		Timestamp: ts,
	}
}

func (s Segment) FormatMarkdown() string {
	ts := s.Timestamp.Format("15:04:05")
	return fmt.Sprintf("**[%s] (%.2fs-%.2fs):** %s", ts, s.StartTime, s.EndTime, strings.TrimSpace(s.Text))
}
