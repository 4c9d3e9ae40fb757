package session

import (
	"context"

	"github.com/sjawhar/ghost-dictate/internal/audio"
	"github.com/sjawhar/ghost-dictate/internal/realtime"
)

// Transport is the realtime connection a Controller drives. *realtime.Conn
// satisfies it.
type Transport interface {
	Open(ctx context.Context, base, token string) error
	Send(frame []byte) bool
	OnMessage(h func([]byte)) error
	ClearHandler()
	BeginRecording() bool
	EndRecording() bool
	Close()
	State() realtime.State
}

// Producer is the capture side. *audio.Producer satisfies it.
type Producer interface {
	Start(ctx context.Context, onChunk func(audio.Chunk)) error
	Stop()
	Running() bool
}
