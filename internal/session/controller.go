package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sjawhar/ghost-dictate/internal/audio"
	"github.com/sjawhar/ghost-dictate/internal/logging"
	"github.com/sjawhar/ghost-dictate/internal/metrics"
	"github.com/sjawhar/ghost-dictate/internal/realtime"
	"github.com/sjawhar/ghost-dictate/internal/transcribe"
)

// Controller owns one streaming session: a realtime connection, the capture
// producer feeding it, and the transcript handler it delivers to.
type Controller struct {
	endpoint     string
	token        string
	producer     Producer
	newTransport func() Transport
	taps         []func(audio.Chunk)
	logger       *slog.Logger
	metrics      *metrics.Metrics

	mu        sync.Mutex
	conn      Transport
	recording bool

	// live mirrors conn for the capture goroutine, which must not take mu:
	// stopping the producer under mu waits for that goroutine to exit.
	live atomic.Pointer[transportRef]
}

type transportRef struct{ t Transport }

type Option func(*Controller)

// WithTransportFactory replaces the realtime connection constructor. It is
// called once per Connect that needs a fresh connection.
func WithTransportFactory(f func() Transport) Option {
	return func(c *Controller) {
		if f != nil {
			c.newTransport = f
		}
	}
}

// WithConnOptions configures the default realtime connection.
func WithConnOptions(opts ...realtime.Option) Option {
	return func(c *Controller) {
		c.newTransport = func() Transport { return realtime.NewConn(opts...) }
	}
}

// WithChunkTap registers a callback that sees every produced chunk before
// it is handed to the transport, whether or not the transport accepts it.
func WithChunkTap(tap func(audio.Chunk)) Option {
	return func(c *Controller) {
		if tap != nil {
			c.taps = append(c.taps, tap)
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) { c.logger = logging.NewComponentLogger(logger, "session") }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// NewController binds a session to one endpoint and credential. The token is
// fixed for the life of the Controller.
func NewController(endpoint, token string, producer Producer, opts ...Option) *Controller {
	c := &Controller{
		endpoint:     endpoint,
		token:        token,
		producer:     producer,
		newTransport: func() Transport { return realtime.NewConn() },
		logger:       logging.NewComponentLogger(nil, "session"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State reports the connection state, or Idle before the first Connect.
func (c *Controller) State() realtime.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconcileLocked()
	return c.stateLocked()
}

// Recording reports whether the capture producer is running for this session.
func (c *Controller) Recording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconcileLocked()
	return c.recording
}

// reconcileLocked takes the connection out of Recording when the producer
// stopped on its own after a fatal device error.
func (c *Controller) reconcileLocked() {
	if !c.recording || c.producer.Running() {
		return
	}
	c.recording = false
	if c.conn != nil {
		c.conn.EndRecording()
	}
	c.logger.Warn("session_recording_lost", slog.String("reason", "producer stopped"))
}

// Connect opens a fresh connection and delivers decoded transcript events to
// onTranscript until Disconnect. onTranscript runs on the connection's reader
// goroutine and must not call Disconnect itself.
func (c *Controller) Connect(ctx context.Context, onTranscript func(transcribe.Event)) error {
	if onTranscript == nil {
		return ErrNoHandler
	}
	if strings.TrimSpace(c.endpoint) == "" || c.token == "" {
		return ErrNotConfigured
	}

	c.mu.Lock()
	old := c.conn
	if old != nil && !old.State().IsTerminal() {
		state := old.State()
		c.mu.Unlock()
		return fmt.Errorf("%w: connect while %s", realtime.ErrMisuse, state)
	}
	conn := c.newTransport()
	if err := conn.OnMessage(c.dispatcher(onTranscript)); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("register transcript handler: %w", err)
	}
	if old != nil {
		// A remotely closed connection still owns its writer goroutine.
		old.Close()
	}
	c.conn = conn
	c.live.Store(&transportRef{t: conn})
	c.mu.Unlock()

	if old != nil {
		old.ClearHandler()
	}

	// Open runs unlocked so Disconnect can abort a slow handshake.
	if err := conn.Open(ctx, c.endpoint, c.token); err != nil {
		conn.ClearHandler()
		c.logger.Warn("session_connect_failed", slog.String("error", err.Error()))
		return err
	}

	c.mu.Lock()
	c.reconcileLocked()
	resumed := c.conn == conn && c.recording && conn.BeginRecording()
	c.mu.Unlock()

	c.logger.Info("session_connected", slog.Bool("recording", resumed))
	return nil
}

func (c *Controller) dispatcher(onTranscript func(transcribe.Event)) func([]byte) {
	return func(frame []byte) {
		ev, err := transcribe.Decode(frame)
		if err != nil {
			c.metrics.RecordMalformed()
			c.logger.Debug("transcript_malformed", slog.String("error", err.Error()))
			return
		}
		c.metrics.RecordTranscript(ev.Kind.String())
		onTranscript(ev)
	}
}

// StartRecording acquires the capture device and forwards each chunk to the
// connection. Chunks produced while the connection is not open are dropped.
// A refused device leaves the session unchanged and returns an error
// wrapping audio.ErrPermissionDenied.
func (c *Controller) StartRecording(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.reconcileLocked()
	if c.recording {
		return fmt.Errorf("%w: start recording while recording", realtime.ErrMisuse)
	}

	err := c.producer.Start(ctx, c.forward)
	if err != nil {
		if errors.Is(err, audio.ErrAlreadyRunning) {
			return fmt.Errorf("%w: %w", realtime.ErrMisuse, err)
		}
		c.logger.Warn("session_start_recording_failed", slog.String("error", err.Error()))
		return err
	}

	c.recording = true
	if c.conn != nil {
		c.conn.BeginRecording()
	}
	c.logger.Info("session_recording_started", slog.String("state", c.stateLocked().String()))
	return nil
}

// forward runs on the capture goroutine and sends each chunk to whichever
// connection is current, so a Connect after StartRecording is picked up.
func (c *Controller) forward(chunk audio.Chunk) {
	for _, tap := range c.taps {
		tap(chunk)
	}
	ref := c.live.Load()
	if ref == nil {
		c.metrics.RecordFrameDropped(metrics.DropNotOpen)
		return
	}
	ref.t.Send(chunk.Data)
}

// StopRecording halts capture and releases the device. It is safe to call
// without a prior StartRecording, and more than once.
func (c *Controller) StopRecording() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopRecordingLocked()
}

func (c *Controller) stopRecordingLocked() {
	c.producer.Stop()
	if !c.recording {
		return
	}
	c.recording = false
	if c.conn != nil {
		c.conn.EndRecording()
	}
	c.logger.Info("session_recording_stopped")
}

// Disconnect stops recording, closes the connection, then drops the
// transcript handler. No event is delivered after it returns. It may be
// called from any state, any number of times.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	c.stopRecordingLocked()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return
	}
	conn.Close()
	c.mu.Unlock()

	// Waiting out an in-flight delivery happens unlocked so a handler may
	// still read State.
	conn.ClearHandler()
	c.logger.Info("session_disconnected", slog.String("state", conn.State().String()))
}

func (c *Controller) stateLocked() realtime.State {
	if c.conn == nil {
		return realtime.StateIdle
	}
	return c.conn.State()
}
