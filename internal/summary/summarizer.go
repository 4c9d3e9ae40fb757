package summary

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sjawhar/ghost-dictate/internal/llm"
	"github.com/sjawhar/ghost-dictate/internal/logging"
)

// MinWords is the shortest dictation worth summarizing.
const MinWords = 20

const systemPrompt = `You turn a lawyer's spoken dictation into a short internal file memo.
Write markdown with these sections when the dictation supports them:
## Matter, ## Facts, ## Instructions, ## Deadlines, ## Follow-ups.
Keep names, dates, amounts and citations exactly as dictated. Do not invent facts.
Omit a section rather than guess its content.`

const userTemplate = "Dictated on {{date}}.\n\nTranscript:\n{{transcript}}"

type ClientFactory func(provider, model string) (llm.Client, error)

type IdempotencyStore interface {
	ClaimSummaryRequest(dictationID, promptHash string) (bool, error)
}

type Summarizer struct {
	model   string
	factory ClientFactory
	store   IdempotencyStore
	logger  *slog.Logger
	sleep   func(time.Duration)
	now     func() time.Time
}

// New builds a Summarizer for model, given as "provider/model". store may be
// nil, in which case repeated requests are not suppressed.
func New(model string, factory ClientFactory, store IdempotencyStore, logger *slog.Logger) *Summarizer {
	return &Summarizer{
		model:   model,
		factory: factory,
		store:   store,
		logger:  logging.NewComponentLogger(logger, "summary"),
		sleep:   time.Sleep,
		now:     time.Now,
	}
}

func (s *Summarizer) Model() string { return s.model }

// Summarize returns a memo for the dictation transcript. It returns an empty
// summary without error when the transcript is too short or the same request
// was already made.
func (s *Summarizer) Summarize(ctx context.Context, dictationID, transcript string) (string, error) {
	if len(strings.Fields(transcript)) < MinWords {
		s.logger.Debug("summary_skipped_short", slog.String("dictation_id", dictationID))
		return "", nil
	}

	prompt := llm.Prompt{System: systemPrompt, User: renderUser(transcript, s.now())}

	if s.store != nil {
		hash := sha256.Sum256([]byte(s.model + "\x00" + prompt.System + "\x00" + transcript))
		claimed, err := s.store.ClaimSummaryRequest(dictationID, hex.EncodeToString(hash[:]))
		if err != nil {
			return "", fmt.Errorf("claim summary request: %w", err)
		}
		if !claimed {
			s.logger.Info("summary_skipped_duplicate", slog.String("dictation_id", dictationID))
			return "", nil
		}
	}

	provider, model, err := llm.ParseModel(s.model)
	if err != nil {
		return "", err
	}

	client, err := s.factory(provider, model)
	if err != nil {
		return "", fmt.Errorf("create llm client: %w", err)
	}

	backoff := []time.Duration{1 * time.Second, 4 * time.Second, 16 * time.Second}
	var lastErr error
	for attempt := range backoff {
		result, err := client.Complete(ctx, prompt)
		if err == nil {
			return result, nil
		}
		lastErr = err
		s.logger.Warn("summary_attempt_failed",
			slog.String("dictation_id", dictationID),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()))
		if ctx.Err() != nil {
			break
		}
		if attempt < len(backoff)-1 {
			s.sleep(backoff[attempt])
		}
	}
	return "", fmt.Errorf("summarize failed after retries: %w", lastErr)
}

func renderUser(transcript string, now time.Time) string {
	out := strings.ReplaceAll(userTemplate, "{{date}}", now.UTC().Format("2006-01-02"))
	return strings.ReplaceAll(out, "{{transcript}}", transcript)
}
