package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sjawhar/ghost-dictate/internal/audio"
	"github.com/sjawhar/ghost-dictate/internal/logging"
	"github.com/sjawhar/ghost-dictate/internal/metrics"
	"github.com/sjawhar/ghost-dictate/internal/realtime"
	"github.com/sjawhar/ghost-dictate/internal/session"
	"github.com/sjawhar/ghost-dictate/internal/storage"
	"github.com/sjawhar/ghost-dictate/internal/transcribe"
)

type apiStoreStub struct {
	byDate     map[string][]storage.Dictation
	dictations map[string]storage.Dictation
	segments   map[string][]transcribe.Segment
	dates      []string
}

func (s apiStoreStub) GetDictationsByDate(date string) ([]storage.Dictation, error) {
	return s.byDate[date], nil
}

func (s apiStoreStub) GetDictation(id string) (storage.Dictation, error) {
	if d, ok := s.dictations[id]; ok {
		return d, nil
	}
	return storage.Dictation{}, os.ErrNotExist
}

func (s apiStoreStub) GetSegments(dictationID string) ([]transcribe.Segment, error) {
	return s.segments[dictationID], nil
}

func (s apiStoreStub) GetDates() ([]string, error) {
	return s.dates, nil
}

func testStaticFS(t *testing.T) fs.FS {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>ok</html>"), 0o644); err != nil {
		t.Fatalf("write index.html failed: %v", err)
	}
	return os.DirFS(dir)
}

func newTestHandler(t *testing.T, store DictationStore, controls ControlHooks, opts ...Option) http.Handler {
	t.Helper()
	opts = append([]Option{WithLogger(logging.Discard())}, opts...)
	h, err := Handler(testStaticFS(t), NewHub(logging.Discard()), store, controls, opts...)
	if err != nil {
		t.Fatalf("Handler failed: %v", err)
	}
	return h
}

func do(h http.Handler, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestAPIDictationsList(t *testing.T) {
	started := time.Date(2026, 2, 26, 10, 0, 0, 0, time.UTC)
	store := apiStoreStub{
		byDate: map[string][]storage.Dictation{
			"2026-02-26": {{ID: "d1", StartedAt: started, SummaryStatus: storage.SummaryCompleted}},
		},
	}
	h := newTestHandler(t, store, ControlHooks{})

	rr := do(h, http.MethodGet, "/api/dictations?date=2026-02-26")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if got := rr.Header().Get("Content-Type"); !strings.Contains(got, "application/json") {
		t.Fatalf("expected application/json content-type, got %q", got)
	}
	if !strings.Contains(rr.Body.String(), `"d1"`) {
		t.Fatalf("expected body to contain dictation id, got %s", rr.Body.String())
	}

	empty := do(h, http.MethodGet, "/api/dictations?date=2001-01-01")
	if strings.TrimSpace(empty.Body.String()) != "[]" {
		t.Fatalf("expected empty array, got %s", empty.Body.String())
	}
}

func TestAPIDictationDetail(t *testing.T) {
	started := time.Date(2026, 2, 26, 10, 0, 0, 0, time.UTC)
	store := apiStoreStub{
		dictations: map[string]storage.Dictation{
			"d1": {ID: "d1", StartedAt: started, Summary: "memo", SummaryStatus: storage.SummaryCompleted},
		},
		segments: map[string][]transcribe.Segment{
			"d1": {{Text: "line", StartTime: 0, EndTime: 1, Timestamp: started}},
		},
	}
	h := newTestHandler(t, store, ControlHooks{})

	rr := do(h, http.MethodGet, "/api/dictations/d1")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"segments"`) || !strings.Contains(rr.Body.String(), `"line"`) {
		t.Fatalf("expected detail response to contain segments, got %s", rr.Body.String())
	}

	if missing := do(h, http.MethodGet, "/api/dictations/nope"); missing.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing dictation, got %d", missing.Code)
	}
}

func TestAPIAudioRange(t *testing.T) {
	root := t.TempDir()
	audioFile := filepath.Join(root, "d1.mp3")
	if err := os.WriteFile(audioFile, []byte(strings.Repeat("a", 4096)), 0o644); err != nil {
		t.Fatalf("write audio file failed: %v", err)
	}

	store := apiStoreStub{
		dictations: map[string]storage.Dictation{
			"d1": {ID: "d1", AudioPath: audioFile},
		},
	}
	h := newTestHandler(t, store, ControlHooks{}, WithAudioDir(root))

	req := httptest.NewRequest(http.MethodGet, "/api/dictations/d1/audio", nil)
	req.Header.Set("Range", "bytes=0-1023")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusPartialContent {
		t.Fatalf("expected status 206, got %d", rr.Code)
	}
	if rr.Header().Get("Accept-Ranges") != "bytes" {
		t.Fatalf("expected Accept-Ranges bytes, got %q", rr.Header().Get("Accept-Ranges"))
	}
	if rr.Header().Get("Content-Range") == "" {
		t.Fatalf("expected Content-Range header")
	}
	if rr.Header().Get("Content-Type") != "audio/mpeg" {
		t.Fatalf("expected audio/mpeg, got %q", rr.Header().Get("Content-Type"))
	}
}

func TestAPIDates(t *testing.T) {
	store := apiStoreStub{dates: []string{"2026-02-26", "2026-02-25"}}
	h := newTestHandler(t, store, ControlHooks{})

	rr := do(h, http.MethodGet, "/api/dates")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "2026-02-26") {
		t.Fatalf("expected date in response, got %s", rr.Body.String())
	}
}

func TestAPIAudioPathTraversalBlocked(t *testing.T) {
	h := newTestHandler(t, apiStoreStub{}, ControlHooks{})

	rr := do(h, http.MethodGet, "/api/dictations/%2e%2e%2f%2e%2e%2fetc%2fpasswd/audio")
	if rr.Code != http.StatusForbidden && rr.Code != http.StatusNotFound {
		body, _ := io.ReadAll(rr.Body)
		t.Fatalf("expected forbidden/notfound for traversal, got %d body=%s", rr.Code, string(body))
	}
}

func TestAPIAudioOutsideAudioDirRejected(t *testing.T) {
	store := apiStoreStub{
		dictations: map[string]storage.Dictation{
			"d1": {ID: "d1", AudioPath: "/etc/passwd"},
			"d2": {ID: "d2", AudioPath: "data/audio/../../secret.mp3"},
		},
	}
	h := newTestHandler(t, store, ControlHooks{}, WithAudioDir(t.TempDir()))

	for _, id := range []string{"d1", "d2"} {
		rr := do(h, http.MethodGet, "/api/dictations/"+id+"/audio")
		if rr.Code != http.StatusForbidden {
			t.Fatalf("%s: expected status 403, got %d body=%s", id, rr.Code, rr.Body.String())
		}
	}
}

func TestAPIStatusWithWarnings(t *testing.T) {
	h := newTestHandler(t, apiStoreStub{}, ControlHooks{
		Status: func() Status {
			return Status{State: string(realtime.StateRecording), Recording: true, DictationID: "d9"}
		},
		Warnings: func() []string {
			return []string{"REALTIME_TOKEN not configured"}
		},
	})

	rr := do(h, http.MethodGet, "/api/status")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	body := rr.Body.String()
	for _, want := range []string{`"state":"recording"`, `"recording":true`, `"dictation_id":"d9"`, "REALTIME_TOKEN not configured"} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %s in response, got %s", want, body)
		}
	}
}

func TestAPIStatusNoWarnings(t *testing.T) {
	h := newTestHandler(t, apiStoreStub{}, ControlHooks{})

	rr := do(h, http.MethodGet, "/api/status")
	body := rr.Body.String()
	if !strings.Contains(body, `"warnings":[]`) {
		t.Fatalf("expected empty warnings array in response, got %s", body)
	}
	if !strings.Contains(body, `"state":"idle"`) {
		t.Fatalf("expected idle state, got %s", body)
	}
}

func TestAPIRecordingControls(t *testing.T) {
	var started, stopped int
	var notified []Status
	recording := false

	h := newTestHandler(t, apiStoreStub{}, ControlHooks{
		StartRecording: func(context.Context) error {
			started++
			recording = true
			return nil
		},
		StopRecording: func(context.Context) error {
			stopped++
			recording = false
			return nil
		},
		Status: func() Status {
			return Status{State: "open", Recording: recording}
		},
		OnStatusChanged: func(s Status) { notified = append(notified, s) },
	})

	if rr := do(h, http.MethodPost, "/api/recording/start"); rr.Code != http.StatusNoContent {
		t.Fatalf("start: expected 204, got %d", rr.Code)
	}
	if rr := do(h, http.MethodPost, "/api/recording/stop"); rr.Code != http.StatusNoContent {
		t.Fatalf("stop: expected 204, got %d", rr.Code)
	}
	if started != 1 || stopped != 1 {
		t.Fatalf("expected one start and one stop, got %d/%d", started, stopped)
	}
	if len(notified) != 2 || !notified[0].Recording || notified[1].Recording {
		t.Fatalf("unexpected status notifications %+v", notified)
	}
}

func TestAPIRecordingControlErrors(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{err: fmt.Errorf("open device: %w", audio.ErrPermissionDenied), want: http.StatusForbidden},
		{err: fmt.Errorf("%w: start recording while recording", realtime.ErrMisuse), want: http.StatusConflict},
		{err: fmt.Errorf("%w: dial refused", realtime.ErrConnectFailed), want: http.StatusBadGateway},
		{err: realtime.ErrConnectTimeout, want: http.StatusBadGateway},
		{err: fmt.Errorf("connect: %w", session.ErrNotConfigured), want: http.StatusServiceUnavailable},
		{err: errors.New("disk full"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		err := tt.err
		h := newTestHandler(t, apiStoreStub{}, ControlHooks{
			StartRecording: func(context.Context) error { return err },
		})
		rr := do(h, http.MethodPost, "/api/recording/start")
		if rr.Code != tt.want {
			t.Fatalf("%v: expected %d, got %d", tt.err, tt.want, rr.Code)
		}
	}

	h := newTestHandler(t, apiStoreStub{}, ControlHooks{})
	if rr := do(h, http.MethodPost, "/api/recording/stop"); rr.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501 without controls, got %d", rr.Code)
	}
}

func TestMetricsRoute(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.RecordFrameSent(8000)

	h := newTestHandler(t, apiStoreStub{}, ControlHooks{},
		WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	rr := do(h, http.MethodGet, "/metrics")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "frames_sent_total") {
		t.Fatalf("expected frames_sent_total in metrics output, got %s", rr.Body.String())
	}
}

func TestSPAFallback(t *testing.T) {
	h := newTestHandler(t, apiStoreStub{}, ControlHooks{})

	rr := do(h, http.MethodGet, "/history/2026-02-26")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "<html>ok</html>") {
		t.Fatalf("expected index.html fallback, got %d %s", rr.Code, rr.Body.String())
	}
	if rr := do(h, http.MethodGet, "/api/unknown"); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown api route, got %d", rr.Code)
	}
}
