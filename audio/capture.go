package audio

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ErrMicrophoneAccess is wrapped by Microphone implementations when the
// input device is denied or unavailable.
var ErrMicrophoneAccess = errors.New("microphone access denied or unavailable")

// Stream is an open mono float input at InputSampleRate.
type Stream interface {
	// Read fills p with up to len(p) samples. It returns io.EOF when the
	// device stops delivering audio.
	Read(p []float32) (int, error)
	Close() error
}

// Microphone acquires input streams.
type Microphone interface {
	Open(ctx context.Context) (Stream, error)
}

// Sender forwards encoded capture frames to the active session.
type Sender interface {
	SendAudio(ctx context.Context, chunk EncodedChunk) error
}

// Capture turns a microphone stream into encoded frames.
type Capture struct {
	frameSize  int
	sampleRate int
	readSize   int
}

// CaptureOption configures a Capture.
type CaptureOption func(*Capture)

// WithFrameSize overrides the 4096-sample frame length.
func WithFrameSize(n int) CaptureOption {
	return func(c *Capture) {
		if n > 0 {
			c.frameSize = n
		}
	}
}

// WithReadSize sets how many samples are requested per Stream.Read.
func WithReadSize(n int) CaptureOption {
	return func(c *Capture) {
		if n > 0 {
			c.readSize = n
		}
	}
}

// NewCapture creates a capture pipeline for InputSampleRate mono audio.
func NewCapture(opts ...CaptureOption) *Capture {
	c := &Capture{
		frameSize:  FrameSize,
		sampleRate: InputSampleRate,
		readSize:   1024,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Encode converts one frame to its wire form.
func (c *Capture) Encode(frame []float32) EncodedChunk {
	return EncodedChunk{
		Data:     EncodeBytes(Float32ToPCM16(frame)),
		MIMEType: MIMEType(c.sampleRate),
	}
}

// Run pumps stream into sender until the stream ends, ctx is cancelled or a
// send fails. Frames go out in capture order; a trailing partial frame is
// dropped. The stream is not closed by Run.
func (c *Capture) Run(ctx context.Context, stream Stream, sender Sender) error {
	framer := NewFramer(c.frameSize)
	buf := make([]float32, c.readSize)
	sent := 0

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		n, readErr := stream.Read(buf)
		for _, frame := range framer.Push(buf[:n]) {
			if err := sender.SendAudio(ctx, c.Encode(frame)); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return errors.Wrapf(err, "send capture frame %d", sent)
			}
			sent++
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) || ctx.Err() != nil {
				log.Debug().Int("frames", sent).Int("dropped", framer.Pending()).Msg("🎤 Capture stream ended")
				return nil
			}
			return errors.Wrap(readErr, "read microphone")
		}
	}
}
