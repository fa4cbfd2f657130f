package session

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/room4-2/kolokwa/audio"
	"github.com/room4-2/kolokwa/live"
	"github.com/room4-2/kolokwa/messages"
	"github.com/room4-2/kolokwa/style"
)

const (
	writeBufferSize = 256
	writeTimeout    = 10 * time.Second
	readLimit       = 512 * 1024
)

// ClientSession bridges one browser websocket to one live backend session.
type ClientSession struct {
	ID         string
	Style      style.Style
	ClientConn *websocket.Conn
	Live       live.Conn
	CreatedAt  time.Time

	keepAlive time.Duration
	logger    zerolog.Logger

	// Use channels for non-blocking writes
	writeChan chan *messages.ServerMessage
	pumpDone  chan struct{}

	mu           sync.RWMutex
	lastActivity time.Time
	started      bool
	closed       bool
	CloseChan    chan struct{}
	ctx          context.Context
	cancel       context.CancelFunc
}

// NewClientSession opens the live session for s and wraps clientConn.
func NewClientSession(ctx context.Context, id string, clientConn *websocket.Conn, dialer live.Dialer, s style.Style, keepAlive time.Duration) (*ClientSession, error) {
	conn, err := dialer.Dial(ctx, live.Config{SystemInstruction: style.LiveInstruction(s)})
	if err != nil {
		return nil, errors.Wrap(err, "failed to open live session")
	}

	sessCtx, cancel := context.WithCancel(context.Background())

	clientConn.SetReadLimit(readLimit)
	clientConn.EnableWriteCompression(true)
	_ = clientConn.SetCompressionLevel(6)

	now := time.Now()
	return &ClientSession{
		ID:           id,
		Style:        s,
		ClientConn:   clientConn,
		Live:         conn,
		CreatedAt:    now,
		keepAlive:    keepAlive,
		logger:       log.With().Str("session", shortID(id)).Logger(),
		writeChan:    make(chan *messages.ServerMessage, writeBufferSize),
		pumpDone:     make(chan struct{}),
		lastActivity: now,
		CloseChan:    make(chan struct{}),
		ctx:          sessCtx,
		cancel:       cancel,
	}, nil
}

// Start begins the bidirectional message handling.
func (cs *ClientSession) Start() {
	cs.mu.Lock()
	if cs.started || cs.closed {
		cs.mu.Unlock()
		return
	}
	cs.started = true
	cs.mu.Unlock()

	go cs.writePump()
	cs.queueMessage(messages.NewStatusMessage(cs.ID, messages.StatusConnected, "Session established"))
	go cs.receiveFromLive()
	go cs.handleClientMessages()
}

// LastActivity returns the time of the last frame in either direction.
func (cs *ClientSession) LastActivity() time.Time {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.lastActivity
}

func (cs *ClientSession) touch() {
	cs.mu.Lock()
	cs.lastActivity = time.Now()
	cs.mu.Unlock()
}

// writePump handles all outgoing frames in a single goroutine. On close it
// flushes what is already queued, then sends a close frame.
func (cs *ClientSession) writePump() {
	defer close(cs.pumpDone)
	defer func() {
		cs.drain()
		_ = cs.ClientConn.SetWriteDeadline(time.Now().Add(writeTimeout))
		_ = cs.ClientConn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
	}()

	var ping <-chan time.Time
	if cs.keepAlive > 0 {
		ticker := time.NewTicker(cs.keepAlive)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-cs.CloseChan:
			return
		case msg := <-cs.writeChan:
			if err := cs.write(msg); err != nil {
				cs.logger.Debug().Err(err).Msg("❌ Write to client failed")
				return
			}
		case <-ping:
			_ = cs.ClientConn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := cs.ClientConn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (cs *ClientSession) drain() {
	for {
		select {
		case msg := <-cs.writeChan:
			if err := cs.write(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (cs *ClientSession) write(msg *messages.ServerMessage) error {
	data, err := messages.Encode(msg)
	if err != nil {
		cs.logger.Error().Err(err).Msg("❌ Failed to encode frame")
		return nil
	}
	_ = cs.ClientConn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return cs.ClientConn.WriteMessage(websocket.TextMessage, data)
}

// queueMessage adds a frame to the write queue (non-blocking)
func (cs *ClientSession) queueMessage(msg *messages.ServerMessage) {
	cs.mu.RLock()
	closed := cs.closed
	cs.mu.RUnlock()
	if closed {
		return
	}
	select {
	case cs.writeChan <- msg:
		cs.touch()
	default:
		cs.logger.Warn().Msg("⚠️ Write queue full, dropping frame")
	}
}

// receiveFromLive forwards backend messages to the browser until the live
// session ends.
func (cs *ClientSession) receiveFromLive() {
	defer cs.Close()
	for {
		msg, err := cs.Live.Receive(cs.ctx)
		if err != nil {
			switch {
			case cs.ctx.Err() != nil:
			case errors.Is(err, io.EOF):
				cs.logger.Info().Msg("🔌 Live session ended by backend")
				cs.queueMessage(messages.NewStatusMessage(cs.ID, messages.StatusDisconnected, "Live session ended"))
			default:
				cs.logger.Error().Err(err).Msg("❌ Live session error")
				cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeGeminiError, err.Error()))
			}
			return
		}
		cs.queueMessage(messages.NewContentMessage(cs.ID, msg))
	}
}

func (cs *ClientSession) handleClientMessages() {
	defer cs.Close()

	cs.ClientConn.SetPongHandler(func(string) error {
		cs.touch()
		return nil
	})

	for {
		messageType, data, err := cs.ClientConn.ReadMessage()
		if err != nil {
			if !cs.IsClosed() && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				cs.logger.Warn().Err(err).Msg("⚠️ Client connection lost")
			}
			return
		}
		cs.touch()

		// Binary frames are raw 16 kHz PCM
		if messageType == websocket.BinaryMessage {
			cs.forward(audio.EncodedChunk{
				Data:     audio.EncodeBytes(data),
				MIMEType: audio.MIMEType(audio.InputSampleRate),
			})
			continue
		}

		msg, err := messages.ParseClientMessage(data)
		if err != nil {
			cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeInvalidMessage, "Invalid message format"))
			continue
		}
		if msg.Media != nil {
			cs.forward(*msg.Media)
		}
		if msg.Control != nil && !cs.handleControl(msg.Control) {
			return
		}
	}
}

// handleControl applies a control action; false ends the session.
func (cs *ClientSession) handleControl(c *messages.ControlPayload) bool {
	switch c.Action {
	case messages.ActionPing:
		cs.queueMessage(messages.NewStatusMessage(cs.ID, messages.StatusPong, ""))
	case messages.ActionEnd:
		cs.logger.Info().Msg("👋 Client ended the session")
		cs.queueMessage(messages.NewStatusMessage(cs.ID, messages.StatusDisconnected, "Session ended"))
		return false
	default:
		cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeInvalidMessage, "Unknown control action: "+c.Action))
	}
	return true
}

func (cs *ClientSession) forward(chunk audio.EncodedChunk) {
	if chunk.MIMEType == "" {
		chunk.MIMEType = audio.MIMEType(audio.InputSampleRate)
	}
	if err := cs.Live.SendAudio(cs.ctx, chunk); err != nil {
		if cs.ctx.Err() != nil {
			return
		}
		cs.logger.Error().Err(err).Msg("❌ Failed to send audio to live session")
		cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeGeminiError, err.Error()))
	}
}

// Close terminates the session and cleans up resources. It is idempotent.
func (cs *ClientSession) Close() error {
	cs.mu.Lock()
	if cs.closed {
		cs.mu.Unlock()
		return nil
	}
	cs.closed = true
	started := cs.started
	cs.mu.Unlock()

	cs.cancel()
	close(cs.CloseChan)

	if started {
		<-cs.pumpDone
	}

	var err error
	if cs.Live != nil {
		err = cs.Live.Close()
	}
	if cs.ClientConn != nil {
		_ = cs.ClientConn.Close()
	}
	return err
}

// IsClosed returns whether the session is closed
func (cs *ClientSession) IsClosed() bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.closed
}

// Info is the registry view of a session.
type Info struct {
	ID           string    `json:"id"`
	Style        string    `json:"style"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
}

// Info snapshots the session for the registry.
func (cs *ClientSession) Info() Info {
	return Info{
		ID:           cs.ID,
		Style:        string(cs.Style),
		CreatedAt:    cs.CreatedAt,
		LastActivity: cs.LastActivity(),
	}
}

// MarshalInfo encodes the registry view.
func (cs *ClientSession) MarshalInfo() (string, error) {
	return sonic.MarshalString(cs.Info())
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
