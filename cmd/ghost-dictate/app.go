package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sjawhar/ghost-dictate/internal/journal"
	"github.com/sjawhar/ghost-dictate/internal/realtime"
	"github.com/sjawhar/ghost-dictate/internal/server"
	"github.com/sjawhar/ghost-dictate/internal/session"
	"github.com/sjawhar/ghost-dictate/internal/transcribe"
)

type statusBroadcaster interface {
	BroadcastStatusChanged(status server.Status)
}

// dictationApp ties one streaming session to the transcript journal. Starting
// a recording connects on demand and opens a dictation; stopping ends it.
type dictationApp struct {
	controller *session.Controller
	journal    *journal.Journal
	hub        statusBroadcaster
	logger     *slog.Logger

	mu sync.Mutex
}

func (a *dictationApp) start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	reconnected := false
	if state := a.controller.State(); state == realtime.StateIdle || state.IsTerminal() {
		if err := a.controller.Connect(ctx, a.onTranscript); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		reconnected = true
	}

	// The service hung up mid-dictation; Connect has resumed streaming into
	// the dictation that is still open.
	if id := a.journal.CurrentID(); reconnected && id != "" && a.controller.Recording() {
		a.logger.Info("dictation_resumed", slog.String("dictation_id", id))
		return nil
	}

	if err := a.controller.StartRecording(ctx); err != nil {
		return err
	}

	if _, err := a.journal.Begin(time.Now()); err != nil {
		a.controller.StopRecording()
		return fmt.Errorf("begin dictation: %w", err)
	}
	return nil
}

// stop is safe to call when nothing is recording.
func (a *dictationApp) stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.controller.StopRecording()
	if err := a.journal.End(ctx); err != nil && !errors.Is(err, journal.ErrNoActiveDictation) {
		return err
	}
	return nil
}

// onIdle stops a recording that has gone quiet.
func (a *dictationApp) onIdle() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a.logger.Info("recording_idle_stop")
	if err := a.stop(ctx); err != nil {
		a.logger.Warn("idle_stop_failed", slog.String("error", err.Error()))
	}
	a.hub.BroadcastStatusChanged(a.status())
}

func (a *dictationApp) shutdown(ctx context.Context) {
	if err := a.stop(ctx); err != nil {
		a.logger.Warn("shutdown_stop_failed", slog.String("error", err.Error()))
	}
	a.controller.Disconnect()
}

func (a *dictationApp) onTranscript(ev transcribe.Event) {
	if err := a.journal.Handle(ev); err != nil {
		if errors.Is(err, journal.ErrNoActiveDictation) {
			a.logger.Debug("transcript_outside_dictation", slog.String("text", ev.Text))
			return
		}
		a.logger.Warn("transcript_journal_failed", slog.String("error", err.Error()))
	}
}

func (a *dictationApp) status() server.Status {
	return server.Status{
		State:       a.controller.State().String(),
		Recording:   a.controller.Recording(),
		DictationID: a.journal.CurrentID(),
	}
}
