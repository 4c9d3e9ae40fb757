package audio

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeSource struct {
	interval time.Duration
	readErr  error

	stopped chan struct{}
	once    sync.Once

	starts atomic.Int32
	stops  atomic.Int32
	closes atomic.Int32
	reads  atomic.Int32
}

func newFakeSource(interval time.Duration) *fakeSource {
	return &fakeSource{interval: interval, stopped: make(chan struct{})}
}

func (s *fakeSource) Start() error {
	s.starts.Add(1)
	return nil
}

func (s *fakeSource) Read() ([]byte, error) {
	if s.readErr != nil {
		return nil, s.readErr
	}
	select {
	case <-s.stopped:
		return nil, errors.New("stream stopped")
	case <-time.After(s.interval):
	}
	n := s.reads.Add(1)
	return []byte{byte(n), 0}, nil
}

func (s *fakeSource) Stop() error {
	s.stops.Add(1)
	s.once.Do(func() { close(s.stopped) })
	return nil
}

func (s *fakeSource) Close() error {
	s.closes.Add(1)
	return nil
}

func openerFor(src *fakeSource) Opener {
	return func(CaptureConfig) (Source, error) { return src, nil }
}

func TestFramesPerBuffer(t *testing.T) {
	cfg := CaptureConfig{SampleRate: 16000, ChunkInterval: 250 * time.Millisecond}
	if got := cfg.FramesPerBuffer(); got != 4000 {
		t.Fatalf("expected 4000 frames, got %d", got)
	}
	if got := (CaptureConfig{}).FramesPerBuffer(); got != 4000 {
		t.Fatalf("expected defaults to yield 4000 frames, got %d", got)
	}
	cfg = CaptureConfig{SampleRate: 48000, ChunkInterval: 250 * time.Millisecond}
	if got := cfg.FramesPerBuffer(); got != 12000 {
		t.Fatalf("expected 12000 frames at 48kHz, got %d", got)
	}
}

func TestProducerEmitsChunksUntilStopped(t *testing.T) {
	src := newFakeSource(5 * time.Millisecond)
	p := NewProducer(CaptureConfig{}, WithOpener(openerFor(src)))

	chunks := make(chan Chunk, 64)
	if err := p.Start(context.Background(), func(c Chunk) { chunks <- c }); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	for i := 1; i <= 3; i++ {
		select {
		case c := <-chunks:
			if c.Seq != uint64(i) {
				t.Fatalf("expected seq %d, got %d", i, c.Seq)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for chunk %d", i)
		}
	}

	p.Stop()
	if p.Running() {
		t.Fatal("expected producer stopped")
	}
	if src.stops.Load() != 1 || src.closes.Load() != 1 {
		t.Fatalf("expected device stopped and closed once, got stops=%d closes=%d", src.stops.Load(), src.closes.Load())
	}

	drained := len(chunks)
	time.Sleep(30 * time.Millisecond)
	if len(chunks) != drained {
		t.Fatalf("chunks emitted after Stop: before=%d after=%d", drained, len(chunks))
	}
}

func TestProducerPermissionDeniedHoldsNothing(t *testing.T) {
	p := NewProducer(CaptureConfig{}, WithOpener(func(CaptureConfig) (Source, error) {
		return nil, ErrPermissionDenied
	}))

	err := p.Start(context.Background(), func(Chunk) {})
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if p.Running() {
		t.Fatal("producer must not be running after a refused device")
	}

	p.Stop()
}

func TestProducerStartIsNotReentrant(t *testing.T) {
	src := newFakeSource(5 * time.Millisecond)
	p := NewProducer(CaptureConfig{}, WithOpener(openerFor(src)))

	if err := p.Start(context.Background(), func(Chunk) {}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer p.Stop()

	if err := p.Start(context.Background(), func(Chunk) {}); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	if src.starts.Load() != 1 {
		t.Fatalf("expected device started once, got %d", src.starts.Load())
	}
}

func TestProducerStopIsIdempotent(t *testing.T) {
	p := NewProducer(CaptureConfig{}, WithOpener(func(CaptureConfig) (Source, error) {
		t.Fatal("opener must not be called by Stop")
		return nil, nil
	}))

	p.Stop()
	p.Stop()

	src := newFakeSource(5 * time.Millisecond)
	p = NewProducer(CaptureConfig{}, WithOpener(openerFor(src)))
	if err := p.Start(context.Background(), func(Chunk) {}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	p.Stop()
	p.Stop()

	if src.closes.Load() != 1 {
		t.Fatalf("expected device released exactly once, got %d", src.closes.Load())
	}
}

func TestProducerReleasesDeviceOnReadFailure(t *testing.T) {
	src := newFakeSource(time.Millisecond)
	src.readErr = errors.New("device unplugged")
	p := NewProducer(CaptureConfig{}, WithOpener(openerFor(src)))

	if err := p.Start(context.Background(), func(Chunk) {}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for p.Running() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if p.Running() {
		t.Fatal("expected producer to stop after read failure")
	}
	if src.closes.Load() != 1 {
		t.Fatalf("expected device closed after read failure, got %d", src.closes.Load())
	}

	p.Stop()
	if src.closes.Load() != 1 {
		t.Fatalf("Stop after failure must not release twice, got %d", src.closes.Load())
	}
}

func TestProducerRestartsAfterStop(t *testing.T) {
	first := newFakeSource(5 * time.Millisecond)
	second := newFakeSource(5 * time.Millisecond)
	sources := []*fakeSource{first, second}
	var opened atomic.Int32
	p := NewProducer(CaptureConfig{}, WithOpener(func(CaptureConfig) (Source, error) {
		return sources[opened.Add(1)-1], nil
	}))

	if err := p.Start(context.Background(), func(Chunk) {}); err != nil {
		t.Fatalf("first Start failed: %v", err)
	}
	p.Stop()
	if err := p.Start(context.Background(), func(Chunk) {}); err != nil {
		t.Fatalf("second Start failed: %v", err)
	}
	p.Stop()

	if first.closes.Load() != 1 || second.closes.Load() != 1 {
		t.Fatalf("expected both devices released, got %d and %d", first.closes.Load(), second.closes.Load())
	}
}
