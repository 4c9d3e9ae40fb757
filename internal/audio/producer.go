package audio

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sjawhar/ghost-dictate/internal/logging"
	"github.com/sjawhar/ghost-dictate/internal/metrics"
)

// Chunk is one buffer of captured PCM16-LE mono audio, about ChunkInterval long.
type Chunk struct {
	Data       []byte
	Seq        uint64
	CapturedAt time.Time
}

// Producer owns a capture device for the duration of a recording and emits
// fixed-size chunks from a single capture goroutine.
type Producer struct {
	cfg     CaptureConfig
	open    Opener
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	running bool
	source  Source
	stop    chan struct{}
	done    chan struct{}
}

type ProducerOption func(*Producer)

func WithOpener(open Opener) ProducerOption {
	return func(p *Producer) { p.open = open }
}

func WithLogger(logger *slog.Logger) ProducerOption {
	return func(p *Producer) { p.logger = logging.NewComponentLogger(logger, "audio") }
}

func WithMetrics(m *metrics.Metrics) ProducerOption {
	return func(p *Producer) { p.metrics = m }
}

func NewProducer(cfg CaptureConfig, opts ...ProducerOption) *Producer {
	p := &Producer{
		cfg:    cfg.withDefaults(),
		open:   OpenPortAudio,
		logger: logging.NewComponentLogger(nil, "audio"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Producer) Config() CaptureConfig { return p.cfg }

// Running reports whether a capture goroutine is active.
func (p *Producer) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Start acquires the capture device and begins calling onChunk once per
// buffer until Stop. A refused device returns an error wrapping
// ErrPermissionDenied and leaves nothing held.
func (p *Producer) Start(ctx context.Context, onChunk func(Chunk)) error {
	if onChunk == nil {
		return errors.New("audio producer: nil chunk callback")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return ErrAlreadyRunning
	}

	source, err := p.open(p.cfg)
	if err != nil {
		p.logger.Warn("capture_device_open_failed", slog.String("error", err.Error()))
		return err
	}
	if err := source.Start(); err != nil {
		_ = source.Close()
		p.logger.Warn("capture_device_start_failed", slog.String("error", err.Error()))
		return err
	}

	p.running = true
	p.source = source
	p.stop = make(chan struct{})
	p.done = make(chan struct{})

	p.logger.Info("capture_started",
		slog.Int("sample_rate", p.cfg.SampleRate),
		slog.Duration("chunk_interval", p.cfg.ChunkInterval))

	go p.capture(source, onChunk, p.stop, p.done)
	return nil
}

// Stop halts emission and releases the device. It is safe to call at any
// time, any number of times. After Stop returns onChunk is not called again.
func (p *Producer) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	source, stop, done := p.source, p.stop, p.done
	p.running = false
	p.source = nil
	p.stop = nil
	p.done = nil
	p.mu.Unlock()

	close(stop)
	// Stopping the stream unblocks a pending Read.
	if err := source.Stop(); err != nil {
		p.logger.Debug("capture_device_stop_error", slog.String("error", err.Error()))
	}
	<-done
	if err := source.Close(); err != nil {
		p.logger.Debug("capture_device_close_error", slog.String("error", err.Error()))
	}
	p.logger.Info("capture_stopped")
}

func (p *Producer) capture(source Source, onChunk func(Chunk), stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	var seq uint64
	for {
		select {
		case <-stop:
			return
		default:
		}

		data, err := source.Read()
		if err != nil {
			select {
			case <-stop:
				return
			default:
			}
			if errors.Is(err, ErrOverflow) {
				p.logger.Warn("capture_input_overflow")
				continue
			}
			p.logger.Error("capture_read_failed", slog.String("error", err.Error()))
			p.release(stop)
			return
		}

		select {
		case <-stop:
			return
		default:
		}

		seq++
		p.metrics.RecordChunkProduced()
		onChunk(Chunk{Data: data, Seq: seq, CapturedAt: time.Now().UTC()})
	}
}

// release tears down after a fatal read error so the device is not held
// until the caller notices and calls Stop.
func (p *Producer) release(stop <-chan struct{}) {
	p.mu.Lock()
	if !p.running || p.stop != stop {
		p.mu.Unlock()
		return
	}
	source := p.source
	p.running = false
	p.source = nil
	p.stop = nil
	p.done = nil
	p.mu.Unlock()

	_ = source.Stop()
	_ = source.Close()
}
