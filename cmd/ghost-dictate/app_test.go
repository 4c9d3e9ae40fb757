package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sjawhar/ghost-dictate/internal/audio"
	"github.com/sjawhar/ghost-dictate/internal/journal"
	"github.com/sjawhar/ghost-dictate/internal/logging"
	"github.com/sjawhar/ghost-dictate/internal/realtime"
	"github.com/sjawhar/ghost-dictate/internal/server"
	"github.com/sjawhar/ghost-dictate/internal/session"
	"github.com/sjawhar/ghost-dictate/internal/storage"
)

type stubProducer struct {
	mu       sync.Mutex
	running  bool
	startErr error
}

func (p *stubProducer) Start(_ context.Context, _ func(audio.Chunk)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startErr != nil {
		return p.startErr
	}
	p.running = true
	return nil
}

func (p *stubProducer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = false
}

func (p *stubProducer) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

type statusRecorder struct {
	mu       sync.Mutex
	statuses []server.Status
}

func (s *statusRecorder) BroadcastStatusChanged(status server.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, status)
}

// speechService accepts one realtime connection and sends whatever is pushed.
type speechService struct {
	srv    *httptest.Server
	push   chan string
	hangUp chan struct{}
}

func newSpeechService(t *testing.T) *speechService {
	t.Helper()
	s := &speechService{push: make(chan string, 8), hangUp: make(chan struct{}, 1)}
	upgrader := websocket.Upgrader{}

	mux := http.NewServeMux()
	mux.HandleFunc(realtime.RealtimePath, func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()

		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case msg := <-s.push:
				if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
					return
				}
			case <-s.hangUp:
				msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "restart")
				_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
				return
			case <-gone:
				return
			}
		}
	})

	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

func (s *speechService) base() string {
	return "ws" + s.srv.URL[len("http"):]
}

func newTestApp(t *testing.T, base string, producer *stubProducer) (*dictationApp, *storage.SQLiteStore, *statusRecorder) {
	t.Helper()

	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	hub := &statusRecorder{}
	app := &dictationApp{
		controller: session.NewController(base, "token", producer,
			session.WithConnOptions(realtime.WithConnectTimeout(2*time.Second), realtime.WithLogger(logging.Discard())),
			session.WithLogger(logging.Discard()),
		),
		journal: journal.New(store, journal.WithLogger(logging.Discard())),
		hub:     hub,
		logger:  logging.Discard(),
	}
	t.Cleanup(func() {
		app.shutdown(context.Background())
		app.journal.Wait()
	})
	return app, store, hub
}

func waitForSegments(t *testing.T, store *storage.SQLiteStore, id string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		segs, err := store.GetSegments(id)
		if err != nil {
			t.Fatalf("GetSegments failed: %v", err)
		}
		if len(segs) >= n {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected %d segments, got %d", n, len(segs))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestAppStartJournalsFinalTranscripts(t *testing.T) {
	svc := newSpeechService(t)
	app, store, _ := newTestApp(t, svc.base(), &stubProducer{})

	if err := app.start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	status := app.status()
	if !status.Recording || status.State != string(realtime.StateRecording) || status.DictationID == "" {
		t.Fatalf("unexpected status after start: %+v", status)
	}
	id := status.DictationID

	svc.push <- `{"type":"transcript","is_final":false,"text":"Client","start_time":0,"end_time":0.5}`
	svc.push <- `{"type":"transcript","is_final":true,"text":"Client called about the lease.","start_time":0,"end_time":2.1}`
	waitForSegments(t, store, id, 1)

	if err := app.stop(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	app.journal.Wait()

	d, err := store.GetDictation(id)
	if err != nil {
		t.Fatalf("GetDictation failed: %v", err)
	}
	if d.Status != storage.DictationEnded || d.EndedAt == nil {
		t.Fatalf("expected ended dictation, got %+v", d)
	}

	status = app.status()
	if status.Recording || status.State != string(realtime.StateOpen) || status.DictationID != "" {
		t.Fatalf("unexpected status after stop: %+v", status)
	}
}

func TestAppStopWithoutRecordingIsNoop(t *testing.T) {
	app, _, _ := newTestApp(t, "ws://127.0.0.1:1", &stubProducer{})

	if err := app.stop(context.Background()); err != nil {
		t.Fatalf("expected stop without recording to succeed, got %v", err)
	}
	if err := app.stop(context.Background()); err != nil {
		t.Fatalf("expected repeated stop to succeed, got %v", err)
	}
}

func TestAppStartPermissionDeniedOpensNoDictation(t *testing.T) {
	svc := newSpeechService(t)
	producer := &stubProducer{startErr: fmt.Errorf("%w: mic blocked", audio.ErrPermissionDenied)}
	app, _, _ := newTestApp(t, svc.base(), producer)

	err := app.start(context.Background())
	if !errors.Is(err, audio.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}

	status := app.status()
	if status.Recording || status.DictationID != "" {
		t.Fatalf("expected no recording and no dictation, got %+v", status)
	}
	if status.State != string(realtime.StateOpen) {
		t.Fatalf("expected the session to stay open, got %q", status.State)
	}
}

func TestAppStartConnectFailure(t *testing.T) {
	app, _, _ := newTestApp(t, "ws://127.0.0.1:1", &stubProducer{})

	err := app.start(context.Background())
	if !errors.Is(err, realtime.ErrConnectFailed) {
		t.Fatalf("expected ErrConnectFailed, got %v", err)
	}
	if app.journal.CurrentID() != "" {
		t.Fatal("expected no dictation after failed connect")
	}
}

func TestAppIdleStopBroadcastsStatus(t *testing.T) {
	svc := newSpeechService(t)
	app, _, hub := newTestApp(t, svc.base(), &stubProducer{})

	if err := app.start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	app.onIdle()

	hub.mu.Lock()
	defer hub.mu.Unlock()
	if len(hub.statuses) != 1 || hub.statuses[0].Recording {
		t.Fatalf("expected one not-recording status broadcast, got %+v", hub.statuses)
	}
}

func TestAppStartAfterHangUpResumesDictation(t *testing.T) {
	svc := newSpeechService(t)
	app, _, _ := newTestApp(t, svc.base(), &stubProducer{})

	if err := app.start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	id := app.status().DictationID

	svc.hangUp <- struct{}{}
	deadline := time.Now().Add(2 * time.Second)
	for app.controller.State() != realtime.StateClosed {
		if time.Now().After(deadline) {
			t.Fatalf("expected closed session, got %s", app.controller.State())
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := app.start(context.Background()); err != nil {
		t.Fatalf("start after hang-up failed: %v", err)
	}
	status := app.status()
	if !status.Recording || status.State != string(realtime.StateRecording) || status.DictationID != id {
		t.Fatalf("expected dictation %s to resume, got %+v", id, status)
	}
}

func TestAppStartWithoutTokenIsNotConfigured(t *testing.T) {
	svc := newSpeechService(t)
	app, _, _ := newTestApp(t, svc.base(), &stubProducer{})
	app.controller = session.NewController(svc.base(), "", &stubProducer{}, session.WithLogger(logging.Discard()))

	err := app.start(context.Background())
	if !errors.Is(err, session.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if status := app.status(); status.Recording || status.DictationID != "" {
		t.Fatalf("expected nothing started, got %+v", status)
	}
}
