package session

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/room4-2/kolokwa/audio"
	"github.com/room4-2/kolokwa/config"
	"github.com/room4-2/kolokwa/live"
	"github.com/room4-2/kolokwa/messages"
	"github.com/room4-2/kolokwa/style"
)

const waitFor = 2 * time.Second

type fakeConn struct {
	sent     chan audio.EncodedChunk
	incoming chan *live.ServerMessage
	hangup   chan struct{}
	closed   chan struct{}
	once     sync.Once
	hangOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		sent:     make(chan audio.EncodedChunk, 16),
		incoming: make(chan *live.ServerMessage, 16),
		hangup:   make(chan struct{}),
		closed:   make(chan struct{}),
	}
}

func (c *fakeConn) SendAudio(_ context.Context, chunk audio.EncodedChunk) error {
	c.sent <- chunk
	return nil
}

func (c *fakeConn) Receive(ctx context.Context) (*live.ServerMessage, error) {
	select {
	case msg := <-c.incoming:
		return msg, nil
	case <-c.hangup:
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

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	cfgs  []live.Config
	err   error
}

func (d *fakeDialer) Dial(_ context.Context, cfg live.Config) (live.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	d.cfgs = append(d.cfgs, cfg)
	return c, nil
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.RedisURL = ""
	cfg.KeepAlivePeriod = 0
	return cfg
}

// wsPair returns the server and client ends of one websocket connection.
func wsPair(t *testing.T) (*websocket.Conn, *websocket.Conn) {
	t.Helper()
	serverSide := make(chan *websocket.Conn, 1)
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		serverSide <- conn
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	select {
	case conn := <-serverSide:
		return conn, client
	case <-time.After(waitFor):
		t.Fatal("websocket upgrade timed out")
	}
	return nil, nil
}

func readFrame(t *testing.T, c *websocket.Conn) *messages.ServerMessage {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(waitFor)))
	var msg messages.ServerMessage
	require.NoError(t, c.ReadJSON(&msg))
	return &msg
}

func TestClientSession_Bridge(t *testing.T) {
	dialer := &fakeDialer{}
	mgr := NewManager(testConfig(), dialer)
	serverConn, client := wsPair(t)

	s, err := mgr.CreateSession(context.Background(), serverConn, style.Executive)
	require.NoError(t, err)
	require.Equal(t, style.LiveInstruction(style.Executive), dialer.cfgs[0].SystemInstruction)
	s.Start()
	backend := dialer.conn(0)

	hello := readFrame(t, client)
	require.Equal(t, messages.StatusConnected, hello.Status.State)
	require.Equal(t, s.ID, hello.SessionID)

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(`{"media":{"data":"AQACAA==","mimeType":"audio/pcm;rate=16000"}}`)))
	require.Equal(t, audio.EncodedChunk{Data: "AQACAA==", MIMEType: "audio/pcm;rate=16000"}, <-backend.sent)

	require.NoError(t, client.WriteMessage(websocket.BinaryMessage, []byte{1, 0, 2, 0}))
	require.Equal(t, audio.EncodedChunk{Data: "AQACAA==", MIMEType: "audio/pcm;rate=16000"}, <-backend.sent)

	backend.incoming <- &live.ServerMessage{
		Audio:       []audio.EncodedChunk{{Data: "AAA=", MIMEType: "audio/pcm;rate=24000"}},
		Interrupted: true,
	}
	content := readFrame(t, client)
	require.NotNil(t, content.ServerContent)
	require.True(t, content.ServerContent.Interrupted)
	require.Equal(t, "AAA=", content.ServerContent.ModelTurn.Parts[0].InlineData.Data)

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(`{"bogus":true}`)))
	require.Equal(t, messages.ErrCodeInvalidMessage, readFrame(t, client).Error.Code)

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(`{"control":{"action":"ping"}}`)))
	require.Equal(t, messages.StatusPong, readFrame(t, client).Status.State)

	backend.hangOnce.Do(func() { close(backend.hangup) })
	require.Equal(t, messages.StatusDisconnected, readFrame(t, client).Status.State)

	select {
	case <-s.CloseChan:
	case <-time.After(waitFor):
		t.Fatal("session did not close")
	}
	require.True(t, backend.isClosed())

	mgr.RemoveSession(context.Background(), s.ID)
	require.Zero(t, mgr.GetActiveSessionCount())
}

func TestClientSession_EndControl(t *testing.T) {
	dialer := &fakeDialer{}
	mgr := NewManager(testConfig(), dialer)
	serverConn, client := wsPair(t)

	s, err := mgr.CreateSession(context.Background(), serverConn, style.Classic)
	require.NoError(t, err)
	s.Start()
	readFrame(t, client)

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(`{"control":{"action":"end"}}`)))
	require.Equal(t, messages.StatusDisconnected, readFrame(t, client).Status.State)
	<-s.CloseChan
	require.True(t, dialer.conn(0).isClosed())
	require.NoError(t, s.Close())
}

func TestManager_MaxSessions(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSessions = 1
	mgr := NewManager(cfg, &fakeDialer{})

	first, _ := wsPair(t)
	second, _ := wsPair(t)

	s, err := mgr.CreateSession(context.Background(), first, style.Classic)
	require.NoError(t, err)
	_, err = mgr.CreateSession(context.Background(), second, style.Classic)
	require.ErrorIs(t, err, ErrMaxSessions)

	got, ok := mgr.GetSession(s.ID)
	require.True(t, ok)
	require.Same(t, s, got)

	mgr.Shutdown()
	require.Zero(t, mgr.GetActiveSessionCount())
	require.True(t, s.IsClosed())
}

func TestManager_DialFailure(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSessions = 1
	dialer := &fakeDialer{err: errors.New("no key")}
	mgr := NewManager(cfg, dialer)
	conn, _ := wsPair(t)

	_, err := mgr.CreateSession(context.Background(), conn, style.Classic)
	require.ErrorContains(t, err, "no key")
	require.Zero(t, mgr.GetActiveSessionCount())

	dialer.mu.Lock()
	dialer.err = nil
	dialer.mu.Unlock()
	_, err = mgr.CreateSession(context.Background(), conn, style.Classic)
	require.NoError(t, err)
	mgr.Shutdown()
}

func TestManager_CleanupInactive(t *testing.T) {
	cfg := testConfig()
	cfg.SessionTimeout = time.Millisecond
	dialer := &fakeDialer{}
	mgr := NewManager(cfg, dialer)
	conn, _ := wsPair(t)

	s, err := mgr.CreateSession(context.Background(), conn, style.Counselor)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	require.Equal(t, 1, mgr.CleanupInactiveSessions(context.Background()))
	require.Zero(t, mgr.GetActiveSessionCount())
	require.True(t, s.IsClosed())
	require.True(t, dialer.conn(0).isClosed())
}

func TestClientSession_Info(t *testing.T) {
	mgr := NewManager(testConfig(), &fakeDialer{})
	conn, _ := wsPair(t)
	s, err := mgr.CreateSession(context.Background(), conn, style.Street)
	require.NoError(t, err)
	defer mgr.Shutdown()

	info, err := s.MarshalInfo()
	require.NoError(t, err)
	require.Contains(t, info, `"style":"street"`)
	require.Contains(t, info, s.ID)
}
