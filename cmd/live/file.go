package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/room4-2/kolokwa/audio"
)

const wavHeaderSize = 44

// fileMicrophone replays a 16 kHz mono PCM or WAV file as microphone input,
// paced at real time unless pace is false.
type fileMicrophone struct {
	path string
	pace bool
}

func (m *fileMicrophone) Open(context.Context) (audio.Stream, error) {
	data, err := loadAudioFile(m.path)
	if err != nil {
		return nil, errors.Wrap(audio.ErrMicrophoneAccess, err.Error())
	}
	buf, err := audio.PCM16ToFloat32(data[:len(data)&^1], audio.InputSampleRate, 1)
	if err != nil {
		return nil, err
	}
	log.Info().Str("file", m.path).Dur("duration", buf.Duration()).Msg("📁 Streaming audio file")
	return &fileStream{samples: buf.Channels[0], pace: m.pace, closed: make(chan struct{})}, nil
}

// loadAudioFile returns raw PCM bytes, skipping a standard WAV header.
func loadAudioFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) > wavHeaderSize && bytes.Equal(data[0:4], []byte("RIFF")) {
		log.Debug().Msg("📁 Detected WAV file, skipping header")
		return data[wavHeaderSize:], nil
	}
	return data, nil
}

type fileStream struct {
	samples []float32
	pace    bool

	once   sync.Once
	closed chan struct{}
}

func (s *fileStream) Read(p []float32) (int, error) {
	select {
	case <-s.closed:
		return 0, io.EOF
	default:
	}
	if len(s.samples) == 0 {
		return 0, io.EOF
	}

	n := copy(p, s.samples)
	s.samples = s.samples[n:]

	if s.pace {
		wait := time.Duration(n) * time.Second / audio.InputSampleRate
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-s.closed:
		}
	}
	return n, nil
}

func (s *fileStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}
