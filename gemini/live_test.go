package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/room4-2/kolokwa/audio"
	"github.com/room4-2/kolokwa/functions"
	"github.com/room4-2/kolokwa/live"
	"github.com/room4-2/kolokwa/style"
)

const waitFor = 5 * time.Second

// fakeLive is a Live API endpoint that issues tool calls and records what
// the client writes back.
type fakeLive struct {
	setup     chan []byte
	responses chan []byte
	audio     atomic.Int64
}

// newFakeLive serves one session: after the setup frame it sends toolCalls
// calls, then script runs against the connection.
func newFakeLive(t *testing.T, toolCalls int, script func(*websocket.Conn)) (*httptest.Server, *fakeLive) {
	t.Helper()
	f := &fakeLive{
		setup:     make(chan []byte, 1),
		responses: make(chan []byte, toolCalls),
	}
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		_, setup, err := conn.ReadMessage()
		if err != nil {
			t.Errorf("read setup: %v", err)
			return
		}
		f.setup <- setup

		go func() {
			for i := 0; i < toolCalls; i++ {
				frame := fmt.Sprintf(`{"toolCall":{"functionCalls":[{"id":"call-%d","name":%q,"args":{}}]}}`, i, functions.GetCreatorInformation)
				if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
					return
				}
			}
			script(conn)
		}()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var frame map[string]json.RawMessage
			if err := json.Unmarshal(data, &frame); err != nil {
				t.Errorf("client frame is not JSON: %s", data)
				return
			}
			if _, ok := frame["toolResponse"]; ok {
				f.responses <- data
			}
			if _, ok := frame["realtimeInput"]; ok {
				f.audio.Add(1)
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, f
}

func dialFake(t *testing.T, srv *httptest.Server) live.Conn {
	t.Helper()
	opts := Options{APIKey: "test-key", BaseURL: "ws" + strings.TrimPrefix(srv.URL, "http")}
	conn, err := NewLiveDialer(opts, "", "").Dial(context.Background(), live.Config{
		SystemInstruction: style.LiveInstruction(style.Classic),
	})
	require.NoError(t, err)
	return conn
}

func TestLiveConn_AudioAndToolResponsesShareTheSocket(t *testing.T) {
	const calls = 200
	srv, backend := newFakeLive(t, calls, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"serverContent":{"modelTurn":{"parts":[{"text":"Na Joshua build me."}]},"turnComplete":true}}`))
	})
	conn := dialFake(t, srv)
	ctx := context.Background()

	select {
	case setup := <-backend.setup:
		require.Contains(t, string(setup), `"setup"`)
	case <-time.After(waitFor):
		t.Fatal("no setup frame")
	}

	chunk := audio.EncodedChunk{
		Data:     audio.EncodeBytes(make([]byte, 64)),
		MIMEType: audio.MIMEType(audio.InputSampleRate),
	}
	stop := make(chan struct{})
	sendErr := make(chan error, 1)
	go func() {
		for {
			select {
			case <-stop:
				sendErr <- nil
				return
			default:
			}
			if err := conn.SendAudio(ctx, chunk); err != nil {
				sendErr <- err
				return
			}
		}
	}()

	msg, err := conn.Receive(ctx)
	close(stop)
	require.NoError(t, <-sendErr)
	require.NoError(t, err)
	require.Equal(t, "Na Joshua build me.", msg.Text)
	require.True(t, msg.TurnComplete)

	for i := 0; i < calls; i++ {
		select {
		case data := <-backend.responses:
			require.Contains(t, string(data), functions.GetCreatorInformation)
		case <-time.After(waitFor):
			t.Fatalf("only %d of %d tool responses arrived", i, calls)
		}
	}
	require.Eventually(t, func() bool { return backend.audio.Load() > 0 }, waitFor, time.Millisecond)

	require.NoError(t, conn.Close())
	_, err = conn.Receive(ctx)
	require.ErrorIs(t, err, io.EOF)
	require.Error(t, conn.SendAudio(ctx, chunk))
	require.NoError(t, conn.Close())
}

func TestLiveConn_NormalCloseIsEOF(t *testing.T) {
	srv, _ := newFakeLive(t, 0, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	})
	conn := dialFake(t, srv)
	defer conn.Close()

	_, err := conn.Receive(context.Background())
	require.ErrorIs(t, err, io.EOF)
}
