// Package audio converts, captures and schedules the linear PCM audio that
// flows through a live session.
package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

const (
	// InputSampleRate is the microphone rate sent to the backend.
	InputSampleRate = 16000
	// OutputSampleRate is the rate of audio returned by the backend.
	OutputSampleRate = 24000
	// FrameSize is the number of samples captured per frame.
	FrameSize = 4096
)

// MIMEType returns the descriptor for mono 16-bit PCM at rate.
func MIMEType(rate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", rate)
}

// EncodedChunk is a base64 PCM payload tagged with its MIME descriptor.
type EncodedChunk struct {
	Data     string `json:"data"`
	MIMEType string `json:"mimeType"`
}

// DecodeError reports a payload that is not valid base64.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return "audio: invalid base64 payload: " + e.Err.Error() }
func (e *DecodeError) Unwrap() error { return e.Err }

// InvalidBufferError reports a PCM buffer whose length does not line up
// with whole 16-bit frames.
type InvalidBufferError struct {
	Length   int
	Channels int
}

func (e *InvalidBufferError) Error() string {
	return fmt.Sprintf("audio: %d bytes is not a whole number of %d-channel 16-bit frames", e.Length, e.Channels)
}

// Buffer holds planar float samples, one slice per channel.
type Buffer struct {
	SampleRate int
	Channels   [][]float32
}

// Frames returns the number of samples per channel.
func (b *Buffer) Frames() int {
	if b == nil || len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Duration returns the playback length of the buffer.
func (b *Buffer) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(b.Frames()) * int64(time.Second) / int64(b.SampleRate))
}

// EncodeBytes returns the padded standard base64 form of b.
func EncodeBytes(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// DecodeBytes reverses EncodeBytes.
func DecodeBytes(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	return b, nil
}

// PCM16ToFloat32 de-interleaves little-endian int16 PCM into planar samples
// scaled by 1/32768.
func PCM16ToFloat32(b []byte, sampleRate, channels int) (*Buffer, error) {
	if channels < 1 || len(b)%(2*channels) != 0 {
		return nil, &InvalidBufferError{Length: len(b), Channels: channels}
	}
	frames := len(b) / (2 * channels)
	out := &Buffer{SampleRate: sampleRate, Channels: make([][]float32, channels)}
	for c := range out.Channels {
		out.Channels[c] = make([]float32, frames)
	}
	for i := 0; i < frames; i++ {
		for c := 0; c < channels; c++ {
			off := (i*channels + c) * 2
			s := int16(binary.LittleEndian.Uint16(b[off : off+2]))
			out.Channels[c][i] = float32(s) / 32768
		}
	}
	return out, nil
}

// Float32ToPCM16 scales samples by 32768 into little-endian int16 PCM.
// Values outside [-1, 1) are clamped to the int16 range.
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := math.Round(float64(s) * 32768)
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}
