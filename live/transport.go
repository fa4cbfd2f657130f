package live

import (
	"context"

	"github.com/room4-2/kolokwa/audio"
)

// Config describes the duplex session to open.
type Config struct {
	SystemInstruction string
}

// ServerMessage is the part of a backend message the live path acts on.
// Audio and Interrupted may both be set.
type ServerMessage struct {
	Audio        []audio.EncodedChunk
	Text         string
	Interrupted  bool
	TurnComplete bool
}

// Conn is an open duplex session.
type Conn interface {
	SendAudio(ctx context.Context, chunk audio.EncodedChunk) error
	// Receive blocks for the next server message. It returns io.EOF once the
	// backend closed the session normally.
	Receive(ctx context.Context) (*ServerMessage, error)
	Close() error
}

// Dialer opens duplex sessions.
type Dialer interface {
	Dial(ctx context.Context, cfg Config) (Conn, error)
}
