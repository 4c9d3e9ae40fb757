package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/sjawhar/ghost-dictate/internal/logging"
)

// Status is the recording state shown in the live view.
type Status struct {
	State       string `json:"state"`
	Recording   bool   `json:"recording"`
	DictationID string `json:"dictation_id,omitempty"`
}

type ControlHooks struct {
	StartRecording  func(ctx context.Context) error
	StopRecording   func(ctx context.Context) error
	Status          func() Status
	Warnings        func() []string
	OnStatusChanged func(Status)
}

type options struct {
	audioDir string
	metrics  http.Handler
	logger   *slog.Logger
}

type Option func(*options)

// WithAudioDir limits audio downloads to files under dir.
func WithAudioDir(dir string) Option {
	return func(o *options) { o.audioDir = dir }
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(o *options) { o.metrics = h }
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func Handler(staticFS fs.FS, hub *Hub, store DictationStore, controls ControlHooks, opts ...Option) (http.Handler, error) {
	if staticFS == nil {
		return nil, errors.New("server: static filesystem is required")
	}

	o := &options{audioDir: "data/audio"}
	for _, opt := range opts {
		opt(o)
	}
	logger := logging.NewComponentLogger(o.logger, "server")

	mux := http.NewServeMux()

	registerWSRoute(mux, hub, logger)
	registerAPIRoutes(mux, store, controls, o.audioDir, logger)
	if o.metrics != nil {
		mux.Handle("GET /metrics", o.metrics)
	}

	mux.HandleFunc("/", serveSPA(staticFS))

	return mux, nil
}

// Serve runs h on addr until ctx is cancelled, then shuts down gracefully.
func Serve(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) error {
	logger = logging.NewComponentLogger(logger, "server")
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("web_ui_listening", slog.String("url", fmt.Sprintf("http://%s", addr)))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	}
}

// serveSPA serves static assets and falls back to index.html for client-side
// routes.
func serveSPA(staticFS fs.FS) func(http.ResponseWriter, *http.Request) {
	fileServer := http.FileServer(http.FS(staticFS))
	return func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") || r.URL.Path == "/ws" {
			http.NotFound(w, r)
			return
		}

		cleanPath := path.Clean(strings.TrimPrefix(r.URL.Path, "/"))
		if cleanPath == "." || cleanPath == "" {
			r.URL.Path = "/"
		} else if !strings.Contains(cleanPath, ".") {
			http.ServeFileFS(w, r, staticFS, "index.html")
			return
		} else {
			r.URL.Path = "/" + cleanPath
		}

		fileServer.ServeHTTP(w, r)
	}
}
