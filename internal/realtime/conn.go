package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sjawhar/ghost-dictate/internal/logging"
	"github.com/sjawhar/ghost-dictate/internal/metrics"
)

const (
	defaultQueueSize    = 8
	defaultWriteTimeout = 5 * time.Second
	closeGrace          = time.Second
	maxMessageSize      = 1 << 20
)

// Conn owns one realtime websocket. Outbound audio goes through a single
// writer goroutine; inbound messages are read by a single reader goroutine
// and handed to at most one registered handler.
type Conn struct {
	dialer         *websocket.Dialer
	connectTimeout time.Duration
	writeTimeout   time.Duration
	logger         *slog.Logger
	metrics        *metrics.Metrics

	state atomic.Int32

	mu         sync.Mutex
	ws         *websocket.Conn
	outbound   chan []byte
	done       chan struct{}
	writerDone chan struct{}
	closeOnce  sync.Once

	// lost is closed by the reader when the peer goes away.
	lost chan struct{}

	// handlerMu is held for the whole of each delivery so ClearHandler can
	// wait out a message that is already being handled.
	handlerMu sync.Mutex
	handler   func([]byte)
}

type Option func(*Conn)

func WithDialer(d *websocket.Dialer) Option {
	return func(c *Conn) {
		if d != nil {
			c.dialer = d
		}
	}
}

// WithConnectTimeout bounds the handshake. Zero disables the deadline.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Conn) { c.connectTimeout = d }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(c *Conn) { c.writeTimeout = d }
}

// WithQueueSize sets the writer handoff capacity. Frames that do not fit are
// dropped rather than buffered.
func WithQueueSize(n int) Option {
	return func(c *Conn) {
		if n > 0 {
			c.outbound = make(chan []byte, n)
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Conn) { c.logger = logging.NewComponentLogger(logger, "realtime") }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Conn) { c.metrics = m }
}

func NewConn(opts ...Option) *Conn {
	dialer := *websocket.DefaultDialer
	dialer.Proxy = http.ProxyFromEnvironment

	c := &Conn{
		dialer:       &dialer,
		writeTimeout: defaultWriteTimeout,
		logger:       logging.NewComponentLogger(nil, "realtime"),
		outbound:     make(chan []byte, defaultQueueSize),
		done:         make(chan struct{}),
		writerDone:   make(chan struct{}),
		lost:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.metrics.SetState("", string(StateIdle))
	return c
}

func (c *Conn) State() State {
	return stateAt(c.state.Load())
}

// Open dials base with token embedded in the URI and returns once the
// connection is ready to send and receive. An error before that point moves
// the connection to Failed, which is terminal.
func (c *Conn) Open(ctx context.Context, base, token string) error {
	if !c.transition(StateIdle, StateConnecting) {
		return fmt.Errorf("%w: open while %s", ErrMisuse, c.State())
	}

	endpoint, err := Endpoint(base, token)
	if err != nil {
		c.transition(StateConnecting, StateFailed)
		c.metrics.RecordConnectFailure("endpoint")
		return fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}

	dialCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if c.connectTimeout > 0 {
		var cancelTimeout context.CancelFunc
		dialCtx, cancelTimeout = context.WithTimeout(dialCtx, c.connectTimeout)
		defer cancelTimeout()
	}
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-dialCtx.Done():
		}
	}()

	c.logger.Info("realtime_connecting", slog.String("endpoint", Redact(endpoint)))
	started := time.Now()

	ws, resp, err := c.dialer.DialContext(dialCtx, endpoint, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if c.closeRequested() {
			return ErrClosed
		}
		c.transition(StateConnecting, StateFailed)

		if ctx.Err() == nil && errors.Is(dialCtx.Err(), context.DeadlineExceeded) {
			c.metrics.RecordConnectFailure("timeout")
			c.logger.Warn("realtime_connect_timeout", slog.Duration("timeout", c.connectTimeout))
			return fmt.Errorf("%w after %s: %w", ErrConnectTimeout, c.connectTimeout, err)
		}

		c.metrics.RecordConnectFailure("dial")
		c.logger.Warn("realtime_connect_failed", slog.String("error", err.Error()))
		if resp != nil {
			return fmt.Errorf("%w: %w (status %d)", ErrConnectFailed, err, resp.StatusCode)
		}
		return fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}

	c.mu.Lock()
	if !c.transition(StateConnecting, StateOpen) {
		c.mu.Unlock()
		_ = ws.Close()
		return ErrClosed
	}
	c.ws = ws
	c.mu.Unlock()

	ws.SetReadLimit(maxMessageSize)
	c.metrics.RecordConnect(time.Since(started))
	c.logger.Info("realtime_connected", slog.Duration("elapsed", time.Since(started)))

	go c.writeLoop(ws)
	go c.readLoop(ws)
	return nil
}

// Send hands frame to the writer if the connection is open. Frames are
// dropped, never queued for later, when the connection is in any other state
// or the writer is backed up.
func (c *Conn) Send(frame []byte) bool {
	if !c.State().CanSend() {
		c.metrics.RecordFrameDropped(metrics.DropNotOpen)
		return false
	}

	select {
	case <-c.done:
		c.metrics.RecordFrameDropped(metrics.DropClosing)
		return false
	default:
	}

	select {
	case c.outbound <- frame:
		return true
	default:
		c.metrics.RecordFrameDropped(metrics.DropQueueFull)
		c.logger.Warn("realtime_send_queue_full", slog.Int("frame_bytes", len(frame)))
		return false
	}
}

// OnMessage registers the inbound handler. The handler runs on the reader
// goroutine and must not call ClearHandler or Close itself.
func (c *Conn) OnMessage(h func([]byte)) error {
	if h == nil {
		return errors.New("realtime: nil message handler")
	}

	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()

	if c.handler != nil {
		return ErrHandlerRegistered
	}
	c.handler = h
	return nil
}

// ClearHandler removes the inbound handler, waiting for any delivery in
// progress. No message is delivered after it returns.
func (c *Conn) ClearHandler() {
	c.handlerMu.Lock()
	c.handler = nil
	c.handlerMu.Unlock()
}

// BeginRecording marks an open connection as carrying live audio.
func (c *Conn) BeginRecording() bool {
	return c.transition(StateOpen, StateRecording)
}

func (c *Conn) EndRecording() bool {
	return c.transition(StateRecording, StateOpen)
}

// Close tears the connection down. It may be called from any state, any
// number of times; only the first call has an effect. A Failed connection
// stays Failed.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		prev := c.State()
		if !prev.IsTerminal() {
			c.store(StateClosing)
		}
		ws := c.ws
		c.mu.Unlock()

		close(c.done)

		if ws != nil {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect")
			_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
			_ = ws.Close()
			<-c.writerDone
		}

		if !prev.IsTerminal() {
			c.store(StateClosed)
		}
		c.logger.Info("realtime_closed", slog.String("from", string(prev)))
	})
}

func (c *Conn) writeLoop(ws *websocket.Conn) {
	defer close(c.writerDone)

	for {
		select {
		case <-c.done:
			return
		case <-c.lost:
			return
		case frame := <-c.outbound:
			if !c.State().CanSend() {
				c.metrics.RecordFrameDropped(metrics.DropClosing)
				continue
			}
			if c.writeTimeout > 0 {
				_ = ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			}
			if err := ws.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				if !c.closeRequested() {
					c.logger.Warn("realtime_write_failed", slog.String("error", err.Error()))
					c.markRemoteClosed()
					// Unblocks the reader, which then finishes the teardown.
					_ = ws.Close()
				}
				return
			}
			c.metrics.RecordFrameSent(len(frame))
		}
	}
}

func (c *Conn) readLoop(ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if c.closeRequested() {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Info("realtime_remote_closed", slog.String("reason", err.Error()))
			} else {
				c.logger.Warn("realtime_read_failed", slog.String("error", err.Error()))
			}
			c.markRemoteClosed()
			close(c.lost)
			_ = ws.Close()
			return
		}

		c.metrics.RecordMessageReceived()
		c.dispatch(data)
	}
}

func (c *Conn) dispatch(data []byte) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()

	if c.handler == nil || c.closeRequested() {
		return
	}
	c.handler(data)
}

// markRemoteClosed moves an open connection straight to Closed when the
// transport goes away underneath it.
func (c *Conn) markRemoteClosed() {
	for {
		cur := c.State()
		if !cur.CanSend() {
			return
		}
		if c.transition(cur, StateClosed) {
			return
		}
	}
}

func (c *Conn) closeRequested() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Conn) transition(from, to State) bool {
	if !c.state.CompareAndSwap(from.index(), to.index()) {
		return false
	}
	c.metrics.SetState(string(from), string(to))
	c.logger.Debug("realtime_state", slog.String("from", string(from)), slog.String("to", string(to)))
	return true
}

func (c *Conn) store(to State) {
	prev := stateAt(c.state.Swap(to.index()))
	c.metrics.SetState(string(prev), string(to))
	c.logger.Debug("realtime_state", slog.String("from", string(prev)), slog.String("to", string(to)))
}
