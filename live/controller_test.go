package live

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/room4-2/kolokwa/audio"
	"github.com/room4-2/kolokwa/style"
)

const waitFor = 2 * time.Second

type fakeStream struct {
	frames chan []float32
	closed chan struct{}
	once   sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{frames: make(chan []float32, 8), closed: make(chan struct{})}
}

func (s *fakeStream) Read(p []float32) (int, error) {
	select {
	case f := <-s.frames:
		return copy(p, f), nil
	case <-s.closed:
		return 0, io.EOF
	}
}

func (s *fakeStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeStream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

type fakeMic struct {
	stream *fakeStream
	err    error
}

func (m *fakeMic) Open(context.Context) (audio.Stream, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.stream, nil
}

type fakeConn struct {
	sent     chan audio.EncodedChunk
	incoming chan *ServerMessage
	remote   chan struct{}
	closed   chan struct{}
	once     sync.Once
	hangOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		sent:     make(chan audio.EncodedChunk, 16),
		incoming: make(chan *ServerMessage, 16),
		remote:   make(chan struct{}),
		closed:   make(chan struct{}),
	}
}

func (c *fakeConn) SendAudio(_ context.Context, chunk audio.EncodedChunk) error {
	c.sent <- chunk
	return nil
}

func (c *fakeConn) Receive(ctx context.Context) (*ServerMessage, error) {
	select {
	case msg := <-c.incoming:
		return msg, nil
	case <-c.remote:
		return nil, io.EOF
	case <-c.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) hangUp() {
	c.hangOnce.Do(func() { close(c.remote) })
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

type fakeDialer struct {
	conn *fakeConn
	err  error
	gate chan struct{}

	mu  sync.Mutex
	cfg Config
}

func (d *fakeDialer) Dial(_ context.Context, cfg Config) (Conn, error) {
	d.mu.Lock()
	d.cfg = cfg
	d.mu.Unlock()
	if d.gate != nil {
		<-d.gate
	}
	if d.err != nil {
		return nil, d.err
	}
	return d.conn, nil
}

func (d *fakeDialer) config() Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

type fakePlayer struct {
	mu      sync.Mutex
	stopped bool
}

func (p *fakePlayer) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
}

func (p *fakePlayer) isStopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

type fakeOutput struct {
	mu      sync.Mutex
	players []*fakePlayer
}

func (o *fakeOutput) Now() time.Duration { return 0 }

func (o *fakeOutput) Schedule(*audio.Buffer, time.Duration, func()) (audio.Player, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p := &fakePlayer{}
	o.players = append(o.players, p)
	return p, nil
}

func (o *fakeOutput) scheduled() []*fakePlayer {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*fakePlayer(nil), o.players...)
}

type recorder struct {
	opened chan struct{}
	chunks chan audio.EncodedChunk
	errs   chan error
	closed chan struct{}
}

func newRecorder() *recorder {
	return &recorder{
		opened: make(chan struct{}, 1),
		chunks: make(chan audio.EncodedChunk, 16),
		errs:   make(chan error, 1),
		closed: make(chan struct{}, 1),
	}
}

func (r *recorder) hooks() Hooks {
	return Hooks{
		OnOpen:       func() { r.opened <- struct{}{} },
		OnAudioChunk: func(c audio.EncodedChunk) { r.chunks <- c },
		OnError:      func(err error) { r.errs <- err },
		OnClose:      func() { r.closed <- struct{}{} },
	}
}

func wait[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for event")
	}
	var zero T
	return zero
}

func pcmChunk(samples int) audio.EncodedChunk {
	return audio.EncodedChunk{
		Data:     audio.EncodeBytes(make([]byte, samples*2)),
		MIMEType: audio.MIMEType(audio.OutputSampleRate),
	}
}

func TestController_FullSession(t *testing.T) {
	stream := newFakeStream()
	conn := newFakeConn()
	dialer := &fakeDialer{conn: conn}
	out := &fakeOutput{}
	rec := newRecorder()

	c := New(dialer, &fakeMic{stream: stream}, out)
	require.Equal(t, StateIdle, c.State())
	require.NoError(t, c.Start(context.Background(), style.Street, rec.hooks()))

	wait(t, rec.opened)
	require.Equal(t, StateOpen, c.State())
	require.Equal(t, style.LiveInstruction(style.Street), dialer.config().SystemInstruction)

	for i := 0; i < 4; i++ {
		stream.frames <- make([]float32, audio.FrameSize/4)
	}
	sent := wait(t, conn.sent)
	require.Equal(t, "audio/pcm;rate=16000", sent.MIMEType)

	conn.incoming <- &ServerMessage{Audio: []audio.EncodedChunk{pcmChunk(240)}}
	wait(t, rec.chunks)
	require.Len(t, out.scheduled(), 1)

	conn.incoming <- &ServerMessage{Interrupted: true}
	require.Eventually(t, func() bool { return out.scheduled()[0].isStopped() }, waitFor, time.Millisecond)

	require.NoError(t, c.Stop())
	wait(t, rec.closed)
	require.Equal(t, StateClosed, c.State())
	require.True(t, stream.isClosed())
	require.True(t, conn.isClosed())

	require.NoError(t, c.Stop())
	require.ErrorIs(t, c.Start(context.Background(), style.Classic, Hooks{}), ErrClosed)
}

func TestController_StopHaltsPlayback(t *testing.T) {
	conn := newFakeConn()
	out := &fakeOutput{}
	rec := newRecorder()

	c := New(&fakeDialer{conn: conn}, &fakeMic{stream: newFakeStream()}, out,
		WithCapture(audio.NewCapture(audio.WithReadSize(audio.FrameSize))))
	require.NoError(t, c.Start(context.Background(), style.Executive, rec.hooks()))
	wait(t, rec.opened)

	conn.incoming <- &ServerMessage{Audio: []audio.EncodedChunk{pcmChunk(240), pcmChunk(480)}}
	wait(t, rec.chunks)
	wait(t, rec.chunks)
	players := out.scheduled()
	require.Len(t, players, 2)
	for _, p := range players {
		require.False(t, p.isStopped())
	}

	require.NoError(t, c.Stop())
	select {
	case <-c.Done():
	default:
		t.Fatal("Stop returned before teardown finished")
	}
	for _, p := range players {
		require.True(t, p.isStopped())
	}
	require.True(t, conn.isClosed())
	wait(t, rec.closed)
}

func TestController_AudioBeforeInterrupt(t *testing.T) {
	conn := newFakeConn()
	out := &fakeOutput{}
	rec := newRecorder()

	c := New(&fakeDialer{conn: conn}, &fakeMic{stream: newFakeStream()}, out)
	require.NoError(t, c.Start(context.Background(), style.Classic, rec.hooks()))
	wait(t, rec.opened)

	conn.incoming <- &ServerMessage{Audio: []audio.EncodedChunk{pcmChunk(240)}, Interrupted: true}
	wait(t, rec.chunks)
	require.Eventually(t, func() bool {
		players := out.scheduled()
		return len(players) == 1 && players[0].isStopped()
	}, waitFor, time.Millisecond)

	require.NoError(t, c.Stop())
}

func TestController_MalformedChunkKeepsSession(t *testing.T) {
	conn := newFakeConn()
	out := &fakeOutput{}
	rec := newRecorder()

	c := New(&fakeDialer{conn: conn}, &fakeMic{stream: newFakeStream()}, out)
	require.NoError(t, c.Start(context.Background(), style.Classic, rec.hooks()))
	wait(t, rec.opened)

	conn.incoming <- &ServerMessage{Audio: []audio.EncodedChunk{{Data: "%%%"}, pcmChunk(240)}}
	got := wait(t, rec.chunks)
	require.Equal(t, pcmChunk(240), got)
	require.Equal(t, StateOpen, c.State())

	require.NoError(t, c.Stop())
}

func TestController_MicrophoneDenied(t *testing.T) {
	dialer := &fakeDialer{conn: newFakeConn()}
	c := New(dialer, &fakeMic{err: errors.New("permission denied")}, &fakeOutput{})

	err := c.Start(context.Background(), style.Classic, Hooks{})
	require.ErrorIs(t, err, audio.ErrMicrophoneAccess)
	require.Equal(t, StateClosed, c.State())
	require.Empty(t, dialer.config().SystemInstruction)
	require.NoError(t, c.Stop())
}

func TestController_AlreadyStarted(t *testing.T) {
	rec := newRecorder()
	c := New(&fakeDialer{conn: newFakeConn()}, &fakeMic{stream: newFakeStream()}, &fakeOutput{})
	require.NoError(t, c.Start(context.Background(), style.Classic, rec.hooks()))
	require.ErrorIs(t, c.Start(context.Background(), style.Classic, rec.hooks()), ErrAlreadyStarted)
	require.NoError(t, c.Stop())
}

func TestController_StopBeforeOpenClosesLateSession(t *testing.T) {
	conn := newFakeConn()
	gate := make(chan struct{})
	stream := newFakeStream()
	rec := newRecorder()

	c := New(&fakeDialer{conn: conn, gate: gate}, &fakeMic{stream: stream}, &fakeOutput{})
	require.NoError(t, c.Start(context.Background(), style.Classic, rec.hooks()))
	require.Equal(t, StateOpening, c.State())

	require.NoError(t, c.Stop())
	require.True(t, stream.isClosed())

	close(gate)
	require.Eventually(t, conn.isClosed, waitFor, time.Millisecond)
	select {
	case <-rec.opened:
		t.Fatal("late session must not open")
	default:
	}
}

func TestController_DialFailure(t *testing.T) {
	stream := newFakeStream()
	rec := newRecorder()

	c := New(&fakeDialer{err: errors.New("handshake failed")}, &fakeMic{stream: stream}, &fakeOutput{})
	require.NoError(t, c.Start(context.Background(), style.Classic, rec.hooks()))

	err := wait(t, rec.errs)
	require.Contains(t, err.Error(), "handshake failed")
	<-c.Done()
	require.Equal(t, StateClosed, c.State())
	require.True(t, stream.isClosed())
}

func TestController_RemoteClose(t *testing.T) {
	conn := newFakeConn()
	rec := newRecorder()

	c := New(&fakeDialer{conn: conn}, &fakeMic{stream: newFakeStream()}, &fakeOutput{})
	require.NoError(t, c.Start(context.Background(), style.Classic, rec.hooks()))
	wait(t, rec.opened)

	conn.hangUp()
	wait(t, rec.closed)
	require.Equal(t, StateClosed, c.State())
	require.NoError(t, c.Stop())
}

func TestController_StopIdle(t *testing.T) {
	c := New(&fakeDialer{}, &fakeMic{}, &fakeOutput{})
	require.NoError(t, c.Stop())
	require.NoError(t, c.Stop())
	require.Equal(t, StateClosed, c.State())
}
