package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
)

const (
	DefaultSampleRate    = 16000
	DefaultChunkInterval = 250 * time.Millisecond
)

// CaptureConfig describes how a Source should be opened.
type CaptureConfig struct {
	SampleRate    int
	ChunkInterval time.Duration
}

func (c CaptureConfig) withDefaults() CaptureConfig {
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.ChunkInterval <= 0 {
		c.ChunkInterval = DefaultChunkInterval
	}
	return c
}

// FramesPerBuffer is the number of mono samples in one chunk.
func (c CaptureConfig) FramesPerBuffer() int {
	c = c.withDefaults()
	n := int(int64(c.SampleRate) * int64(c.ChunkInterval) / int64(time.Second))
	if n <= 0 {
		n = 1
	}
	return n
}

// Source is an open capture device. Read blocks until one full buffer is
// available and returns it as PCM16-LE.
type Source interface {
	Start() error
	Read() ([]byte, error)
	Stop() error
	Close() error
}

// Opener acquires a capture device.
type Opener func(cfg CaptureConfig) (Source, error)

var (
	paMu   sync.Mutex
	paRefs int
)

// PortAudioSource wraps a PortAudio input stream whose buffer is sized to one chunk.
type PortAudioSource struct {
	stream *portaudio.Stream
	buf    []int16
	out    bytes.Buffer
}

// OpenPortAudio opens the default input device. It initializes PortAudio on
// first use and terminates it when the last source is closed.
func OpenPortAudio(cfg CaptureConfig) (Source, error) {
	cfg = cfg.withDefaults()

	if err := acquirePortAudio(); err != nil {
		return nil, classifyDeviceError(err)
	}

	buf := make([]int16, cfg.FramesPerBuffer())
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(cfg.SampleRate), len(buf), buf)
	if err != nil {
		releasePortAudio()
		return nil, classifyDeviceError(err)
	}

	s := &PortAudioSource{stream: stream, buf: buf}
	s.out.Grow(len(buf) * 2) // int16 = 2 bytes per sample
	return s, nil
}

func (s *PortAudioSource) Start() error {
	if err := s.stream.Start(); err != nil {
		return classifyDeviceError(err)
	}
	return nil
}

func (s *PortAudioSource) Read() ([]byte, error) {
	if err := s.stream.Read(); err != nil {
		if errors.Is(err, portaudio.InputOverflowed) {
			return nil, ErrOverflow
		}
		return nil, err
	}
	s.out.Reset()
	if err := binary.Write(&s.out, binary.LittleEndian, s.buf); err != nil {
		return nil, err
	}
	chunk := make([]byte, s.out.Len())
	copy(chunk, s.out.Bytes())
	return chunk, nil
}

func (s *PortAudioSource) Stop() error { return s.stream.Stop() }

func (s *PortAudioSource) Close() error {
	err := s.stream.Close()
	releasePortAudio()
	return err
}

// ErrOverflow reports dropped input samples; capture continues after it.
var ErrOverflow = errors.New("audio input overflowed")

func acquirePortAudio() error {
	paMu.Lock()
	defer paMu.Unlock()
	if paRefs == 0 {
		if err := portaudio.Initialize(); err != nil {
			return err
		}
	}
	paRefs++
	return nil
}

func releasePortAudio() {
	paMu.Lock()
	defer paMu.Unlock()
	if paRefs == 0 {
		return
	}
	paRefs--
	if paRefs == 0 {
		_ = portaudio.Terminate()
	}
}

// classifyDeviceError maps device-acquisition failures onto ErrPermissionDenied.
// Operating systems that gate microphone access surface a refusal as an
// unavailable or invalid device.
func classifyDeviceError(err error) error {
	var hostErr portaudio.UnanticipatedHostError
	switch {
	case errors.Is(err, portaudio.DeviceUnavailable),
		errors.Is(err, portaudio.InvalidDevice),
		errors.As(err, &hostErr):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	default:
		return fmt.Errorf("open capture device: %w", err)
	}
}
