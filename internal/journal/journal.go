package journal

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sjawhar/ghost-dictate/internal/logging"
	"github.com/sjawhar/ghost-dictate/internal/storage"
	"github.com/sjawhar/ghost-dictate/internal/transcribe"
)

const (
	summaryTimeout = 2 * time.Minute
	exportTimeout  = time.Minute
)

// Journal records one dictation at a time: its final segments in the store
// and the daily transcript, its audio file, and the follow-up summary and
// Drive export once it ends.
type Journal struct {
	store      Store
	recorder   Recorder
	writer     TranscriptWriter
	summarizer Summarizer
	exporter   Exporter
	hub        EventBroadcaster
	idle       *IdleDetector
	logger     *slog.Logger
	newID      func() string

	mu        sync.Mutex
	currentID string
	startedAt time.Time

	background sync.WaitGroup
}

type Option func(*Journal)

func WithRecorder(r Recorder) Option {
	return func(j *Journal) { j.recorder = r }
}

func WithTranscriptWriter(w TranscriptWriter) Option {
	return func(j *Journal) { j.writer = w }
}

func WithSummarizer(s Summarizer) Option {
	return func(j *Journal) { j.summarizer = s }
}

func WithExporter(e Exporter) Option {
	return func(j *Journal) { j.exporter = e }
}

func WithBroadcaster(b EventBroadcaster) Option {
	return func(j *Journal) { j.hub = b }
}

// WithIdleDetector arms d on every final segment and disarms it when the
// dictation ends.
func WithIdleDetector(d *IdleDetector) Option {
	return func(j *Journal) { j.idle = d }
}

func WithLogger(logger *slog.Logger) Option {
	return func(j *Journal) { j.logger = logging.NewComponentLogger(logger, "journal") }
}

func New(store Store, opts ...Option) *Journal {
	j := &Journal{
		store:  store,
		logger: logging.NewComponentLogger(nil, "journal"),
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// CurrentID returns the active dictation, or "" between dictations.
func (j *Journal) CurrentID() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.currentID
}

// Begin opens a new dictation starting at now.
func (j *Journal) Begin(now time.Time) (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.currentID != "" {
		return "", fmt.Errorf("%w: %s", ErrDictationActive, j.currentID)
	}

	id := j.newID()
	startedAt := now.UTC()
	if err := j.store.CreateDictation(id, startedAt); err != nil {
		return "", fmt.Errorf("create dictation: %w", err)
	}

	if j.recorder != nil {
		if err := j.recorder.Begin(id); err != nil {
			_ = j.store.EndDictation(id, time.Now().UTC(), "")
			return "", fmt.Errorf("start audio recorder: %w", err)
		}
	}

	j.currentID = id
	j.startedAt = startedAt
	j.idle.Arm()

	if j.hub != nil {
		j.hub.BroadcastDictationStarted(id)
	}
	j.logger.Info("dictation_started", slog.String("dictation_id", id))
	return id, nil
}

// Handle journals one decoded transcript event. Partial text is only shown
// live. Final text is persisted against the active dictation; with none
// active it is dropped and ErrNoActiveDictation is returned.
func (j *Journal) Handle(ev transcribe.Event) error {
	id := j.CurrentID()

	if !ev.IsFinal() {
		if j.hub != nil && strings.TrimSpace(ev.Text) != "" {
			j.hub.BroadcastLiveTranscriptInterim(id, ev)
		}
		return nil
	}

	seg := transcribe.SegmentFromEvent(ev)
	if seg.Text == "" {
		return nil
	}
	if id == "" {
		return ErrNoActiveDictation
	}

	if err := j.store.AppendSegment(id, seg); err != nil {
		return fmt.Errorf("append segment: %w", err)
	}
	if j.writer != nil {
		if err := j.writer.Append(seg); err != nil {
			j.logger.Warn("transcript_write_failed", slog.String("error", err.Error()))
		}
	}
	if j.hub != nil {
		j.hub.BroadcastLiveTranscript(id, seg)
	}
	j.idle.Arm()
	return nil
}

// End closes the active dictation and starts its summary and export in the
// background.
func (j *Journal) End(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("end dictation: %w", err)
	}

	j.mu.Lock()
	id := j.currentID
	startedAt := j.startedAt
	if id == "" {
		j.mu.Unlock()
		return ErrNoActiveDictation
	}
	j.currentID = ""
	j.startedAt = time.Time{}
	j.mu.Unlock()

	j.idle.Disarm()

	endedAt := time.Now().UTC()
	audioPath := ""
	if j.recorder != nil {
		path, err := j.recorder.Finish()
		if err != nil {
			j.logger.Warn("audio_finish_failed", slog.String("dictation_id", id), slog.String("error", err.Error()))
		}
		audioPath = path
	}

	if err := j.store.EndDictation(id, endedAt, audioPath); err != nil {
		// Keep the dictation active so End can be retried.
		j.mu.Lock()
		if j.currentID == "" {
			j.currentID = id
			j.startedAt = startedAt
		}
		j.mu.Unlock()
		return fmt.Errorf("end dictation: %w", err)
	}

	duration := endedAt.Sub(startedAt)
	if j.hub != nil {
		j.hub.BroadcastDictationEnded(id, duration, audioPath)
	}
	j.logger.Info("dictation_ended",
		slog.String("dictation_id", id),
		slog.Duration("duration", duration),
		slog.String("audio_path", audioPath))

	j.background.Add(1)
	go func() {
		defer j.background.Done()
		j.generateSummary(id)
		j.export(startedAt)
	}()
	return nil
}

// Wait blocks until summaries and exports started by End have finished.
func (j *Journal) Wait() {
	j.background.Wait()
}

func (j *Journal) generateSummary(id string) {
	if j.summarizer == nil {
		_ = j.store.UpdateSummary(id, "", storage.SummaryCompleted, "")
		return
	}

	model := j.summarizer.Model()
	_ = j.store.UpdateSummary(id, "", storage.SummaryRunning, model)

	segments, err := j.store.GetSegments(id)
	if err != nil {
		j.summaryFailed(id, model, err)
		return
	}

	var b strings.Builder
	for _, segment := range segments {
		if strings.TrimSpace(segment.Text) == "" {
			continue
		}
		b.WriteString(segment.Text)
		b.WriteString("\n")
	}

	ctx, cancel := context.WithTimeout(context.Background(), summaryTimeout)
	defer cancel()

	summaryText, err := j.summarizer.Summarize(ctx, id, b.String())
	if err != nil {
		j.summaryFailed(id, model, err)
		return
	}

	if err := j.store.UpdateSummary(id, summaryText, storage.SummaryCompleted, model); err != nil {
		j.summaryFailed(id, model, err)
		return
	}

	j.broadcastSummary(id, summaryText, storage.SummaryCompleted, model)
}

func (j *Journal) summaryFailed(id, model string, err error) {
	j.logger.Warn("summary_failed", slog.String("dictation_id", id), slog.String("error", err.Error()))
	_ = j.store.UpdateSummary(id, "", storage.SummaryFailed, model)
	j.broadcastSummary(id, "", storage.SummaryFailed, model)
}

func (j *Journal) broadcastSummary(id, summary, status, model string) {
	if j.hub != nil {
		j.hub.BroadcastSummaryReady(id, summary, status, model)
	}
}

func (j *Journal) export(startedAt time.Time) {
	if j.exporter == nil || j.writer == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), exportTimeout)
	defer cancel()

	path := j.writer.PathFor(startedAt)
	name := "dictation-" + startedAt.Format("2006-01-02")
	fileID, err := j.exporter.Export(ctx, path, name)
	if err != nil {
		j.logger.Warn("drive_export_failed", slog.String("path", path), slog.String("error", err.Error()))
		return
	}
	j.logger.Info("drive_export_done", slog.String("name", name), slog.String("file_id", fileID))
}
