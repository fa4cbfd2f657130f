package audio

import (
	"context"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// SoxMicrophone records from the default input device through sox's `rec`.
type SoxMicrophone struct {
	Binary     string // defaults to "rec"
	SampleRate int    // defaults to InputSampleRate
}

// Open starts the recorder. A missing binary or a failed start is reported
// as ErrMicrophoneAccess.
func (m *SoxMicrophone) Open(ctx context.Context) (Stream, error) {
	bin := m.Binary
	if bin == "" {
		bin = "rec"
	}
	rate := m.SampleRate
	if rate == 0 {
		rate = InputSampleRate
	}
	path, err := exec.LookPath(bin)
	if err != nil {
		return nil, errors.Wrapf(ErrMicrophoneAccess, "%s not found (is sox installed?)", bin)
	}

	cmd := exec.CommandContext(ctx, path,
		"-q",
		"-t", "raw",
		"-r", strconv.Itoa(rate),
		"-b", "16",
		"-c", "1",
		"-e", "signed-integer",
		"-",
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(ErrMicrophoneAccess, err.Error())
	}
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(ErrMicrophoneAccess, "start %s: %v", bin, err)
	}
	log.Debug().Str("binary", path).Int("rate", rate).Msg("🎤 Microphone opened")
	return &soxStream{cmd: cmd, r: stdout, rate: rate}, nil
}

type soxStream struct {
	cmd  *exec.Cmd
	r    io.ReadCloser
	rate int
	raw  []byte
	odd  []byte

	closeOnce sync.Once
}

func (s *soxStream) Read(p []float32) (int, error) {
	need := len(p) * 2
	if cap(s.raw) < need {
		s.raw = make([]byte, need)
	}
	raw := s.raw[:need]
	n := copy(raw, s.odd)
	s.odd = s.odd[:0]

	m, err := s.r.Read(raw[n:])
	n += m
	if n%2 == 1 {
		s.odd = append(s.odd, raw[n-1])
		n--
	}
	if n > 0 {
		buf, convErr := PCM16ToFloat32(raw[:n], s.rate, 1)
		if convErr != nil {
			return 0, convErr
		}
		copy(p, buf.Channels[0])
	}
	return n / 2, err
}

func (s *soxStream) Close() error {
	s.closeOnce.Do(func() {
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		_ = s.cmd.Wait()
	})
	return nil
}

// SoxOutput plays scheduled buffers through sox's `play`. Its clock starts
// at zero when the output is opened.
type SoxOutput struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	rate  int
	epoch time.Time

	mu     sync.Mutex
	closed bool
}

// OpenSoxOutput starts the player process for mono 16-bit PCM at rate.
func OpenSoxOutput(binary string, rate int) (*SoxOutput, error) {
	if binary == "" {
		binary = "play"
	}
	if rate == 0 {
		rate = OutputSampleRate
	}
	cmd := exec.Command(binary,
		"-q",
		"-t", "raw",
		"-r", strconv.Itoa(rate),
		"-b", "16",
		"-c", "1",
		"-e", "signed-integer",
		"-",
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrap(err, "sox stdin")
	}
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "start %s", binary)
	}
	return &SoxOutput{cmd: cmd, stdin: stdin, rate: rate, epoch: time.Now()}, nil
}

// Now implements Output.
func (o *SoxOutput) Now() time.Duration {
	return time.Since(o.epoch)
}

// Schedule implements Output. The buffer is written to the player when its
// start time arrives. Only the first channel is played.
func (o *SoxOutput) Schedule(buf *Buffer, at time.Duration, onEnded func()) (Player, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, errors.New("sox output closed")
	}
	if buf.Frames() == 0 {
		return nil, errors.New("empty buffer")
	}

	pcm := Float32ToPCM16(buf.Channels[0])
	p := &soxPlayer{}
	delay := max(at-o.Now(), 0)

	p.startTimer = time.AfterFunc(delay, func() {
		if !p.begin() {
			return
		}
		o.write(pcm)
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.done {
			return
		}
		p.endTimer = time.AfterFunc(buf.Duration(), func() {
			if p.finish() && onEnded != nil {
				onEnded()
			}
		})
	})
	return p, nil
}

func (o *SoxOutput) write(pcm []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	if _, err := o.stdin.Write(pcm); err != nil {
		log.Warn().Err(err).Msg("🔊 Failed to write audio to player")
	}
}

// Close stops the player process.
func (o *SoxOutput) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	_ = o.stdin.Close()
	if o.cmd.Process != nil {
		_ = o.cmd.Process.Kill()
	}
	_ = o.cmd.Wait()
	return nil
}

type soxPlayer struct {
	mu         sync.Mutex
	startTimer *time.Timer
	endTimer   *time.Timer
	done       bool
}

func (p *soxPlayer) begin() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.done
}

func (p *soxPlayer) finish() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		return false
	}
	p.done = true
	return true
}

// Stop implements Player. Audio already handed to the player process keeps
// sounding; anything not yet written is dropped.
func (p *soxPlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done = true
	if p.startTimer != nil {
		p.startTimer.Stop()
	}
	if p.endTimer != nil {
		p.endTimer.Stop()
	}
}
