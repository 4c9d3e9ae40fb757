package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
)

// wavHeader is the canonical 44-byte RIFF header for mono 16-bit PCM.
type wavHeader struct {
	RIFF          [4]byte
	ChunkSize     uint32
	WAVE          [4]byte
	Fmt           [4]byte
	FmtSize       uint32
	Format        uint16
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Data          [4]byte
	DataSize      uint32
}

const (
	wavHeaderSize  = 44
	bytesPerSample = 2
)

func newWAVHeader(sampleRate int, dataSize int64) wavHeader {
	return wavHeader{
		RIFF:          [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(36 + dataSize),
		WAVE:          [4]byte{'W', 'A', 'V', 'E'},
		Fmt:           [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		Format:        1,
		Channels:      1,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * bytesPerSample),
		BlockAlign:    bytesPerSample,
		BitsPerSample: bytesPerSample * 8,
		Data:          [4]byte{'d', 'a', 't', 'a'},
		DataSize:      uint32(dataSize),
	}
}

// mp3Encoders are tried in order; the WAV is kept when none is installed.
var mp3Encoders = []func(wavPath, mp3Path string) *exec.Cmd{
	func(in, out string) *exec.Cmd { return exec.Command("ffmpeg", "-y", "-loglevel", "error", "-i", in, out) },
	func(in, out string) *exec.Cmd { return exec.Command("lame", "--quiet", in, out) },
}

func transcodeMP3(wavPath, mp3Path string) error {
	var errs []error
	for _, build := range mp3Encoders {
		err := build(wavPath, mp3Path).Run()
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Recorder streams every chunk of a dictation into a WAV file and compresses
// it to MP3 when the dictation ends, if an encoder is available.
type Recorder struct {
	audioDir   string
	sampleRate int

	mu          sync.Mutex
	dictationID string
	wavPath     string
	wavFile     *os.File
	written     int64

	transcode func(wavPath, mp3Path string) error
}

func NewRecorder(audioDir string, sampleRate int) *Recorder {
	if audioDir == "" {
		audioDir = filepath.Join("data", "audio")
	}
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return &Recorder{audioDir: audioDir, sampleRate: sampleRate, transcode: transcodeMP3}
}

// Begin opens a fresh WAV file for dictationID, discarding any file left
// open by a previous dictation.
func (r *Recorder) Begin(dictationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(r.audioDir, 0o755); err != nil {
		return fmt.Errorf("create audio directory: %w", err)
	}
	if r.wavFile != nil {
		_ = r.wavFile.Close()
		_ = os.Remove(r.wavPath)
	}

	path := filepath.Join(r.audioDir, dictationID+".wav")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open wav file: %w", err)
	}
	// Sizes are patched in Finish.
	if err := binary.Write(f, binary.LittleEndian, newWAVHeader(r.sampleRate, 0)); err != nil {
		_ = f.Close()
		return fmt.Errorf("write wav header: %w", err)
	}

	r.dictationID = dictationID
	r.wavPath = path
	r.wavFile = f
	r.written = 0
	return nil
}

// Finish closes the WAV file and returns the saved audio path, preferring an
// MP3 copy. It returns an empty path when no dictation is open or nothing
// was captured.
func (r *Recorder) Finish() (string, error) {
	r.mu.Lock()
	f, wavPath, id, written := r.wavFile, r.wavPath, r.dictationID, r.written
	r.wavFile, r.wavPath, r.dictationID, r.written = nil, "", "", 0
	r.mu.Unlock()

	if f == nil {
		return "", nil
	}
	if written == 0 {
		_ = f.Close()
		_ = os.Remove(wavPath)
		return "", nil
	}

	if err := finalizeWAV(f, r.sampleRate, written); err != nil {
		_ = f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close wav file: %w", err)
	}

	mp3Path := filepath.Join(r.audioDir, id+".mp3")
	if err := r.transcode(wavPath, mp3Path); err != nil {
		_ = os.Remove(mp3Path)
		return wavPath, nil
	}
	_ = os.Remove(wavPath)
	return mp3Path, nil
}

func finalizeWAV(f *os.File, sampleRate int, dataSize int64) error {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind wav file: %w", err)
	}
	if err := binary.Write(f, binary.LittleEndian, newWAVHeader(sampleRate, dataSize)); err != nil {
		return fmt.Errorf("patch wav header: %w", err)
	}
	return nil
}

// Tap records one chunk. Chunks arriving outside a dictation are ignored.
func (r *Recorder) Tap(c Chunk) {
	_, _ = r.Write(c.Data)
}

func (r *Recorder) Write(data []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.wavFile == nil {
		return len(data), nil
	}
	n, err := r.wavFile.Write(data)
	r.written += int64(n)
	if err != nil {
		return n, fmt.Errorf("write wav payload: %w", err)
	}
	return n, nil
}
