package gemini

import (
	"context"
	"io"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/room4-2/kolokwa/audio"
	"github.com/room4-2/kolokwa/functions"
	"github.com/room4-2/kolokwa/live"
)

// LiveDialer opens Gemini Live sessions.
type LiveDialer struct {
	opts  Options
	model string
	voice string
}

// NewLiveDialer creates a dialer. Empty model and voice select the defaults.
func NewLiveDialer(opts Options, model, voice string) *LiveDialer {
	if model == "" {
		model = DefaultLiveModel
	}
	if voice == "" {
		voice = DefaultVoice
	}
	return &LiveDialer{opts: opts, model: model, voice: voice}
}

// Dial implements live.Dialer.
func (d *LiveDialer) Dial(ctx context.Context, cfg live.Config) (live.Conn, error) {
	client, err := newClient(ctx, d.opts)
	if err != nil {
		return nil, err
	}

	config := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: cfg.SystemInstruction}},
		},
		Tools: functions.Tools(),
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{
					VoiceName: d.voice, // Puck, Charon, Kore, Fenrir, Aoede, Leda, Orus, Zephyr
				},
			},
		},
	}

	session, err := client.Live.Connect(ctx, d.model, config)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to Live API")
	}
	log.Info().Str("model", d.model).Msg("✅ Connected to Gemini Live")
	return &liveConn{session: session}, nil
}

var errSessionClosed = errors.New("live session is closed")

// liveConn adapts a genai Live session to live.Conn. Audio and tool
// responses are sent from different goroutines; the socket takes one
// writer at a time, so every send holds writeMu.
type liveConn struct {
	session *genai.Session

	writeMu sync.Mutex

	mu     sync.RWMutex
	closed bool
}

func (c *liveConn) send(fn func(*genai.Session) error) error {
	if c.isClosed() {
		return errSessionClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return fn(c.session)
}

func (c *liveConn) SendAudio(_ context.Context, chunk audio.EncodedChunk) error {
	data, err := audio.DecodeBytes(chunk.Data)
	if err != nil {
		return err
	}

	mime := chunk.MIMEType
	if mime == "" {
		mime = audio.MIMEType(audio.InputSampleRate)
	}
	err = c.send(func(s *genai.Session) error {
		return s.SendRealtimeInput(genai.LiveRealtimeInput{
			Media: &genai.Blob{MIMEType: mime, Data: data},
		})
	})
	if errors.Is(err, errSessionClosed) {
		return err
	}
	if err != nil {
		return errors.Wrap(err, "failed to send audio")
	}
	log.Trace().Int("bytes", len(data)).Msg("📤 Sent audio to Gemini")
	return nil
}

// Receive answers tool calls inline and returns the next message that
// carries content for the caller.
func (c *liveConn) Receive(ctx context.Context) (*live.ServerMessage, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		resp, err := c.session.Receive()
		if err != nil {
			if c.isClosed() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			return nil, errors.Wrap(err, "gemini receive")
		}

		if resp.ToolCall != nil && len(resp.ToolCall.FunctionCalls) > 0 {
			c.answerToolCalls(resp.ToolCall.FunctionCalls)
		}
		if msg := translate(resp); msg != nil {
			return msg, nil
		}
	}
}

func (c *liveConn) answerToolCalls(calls []*genai.FunctionCall) {
	log.Info().Int("calls", len(calls)).Msg("🔧 Received function calls from Gemini")
	responses := functions.Handle(calls)

	err := c.send(func(s *genai.Session) error {
		return s.SendToolResponse(genai.LiveToolResponseInput{FunctionResponses: responses})
	})
	if err != nil && !errors.Is(err, errSessionClosed) {
		log.Error().Err(err).Msg("❌ Failed to send tool response")
	}
}

// translate keeps the audio, text, interrupted and turn-complete parts of a
// server message. It returns nil when none are present.
func translate(resp *genai.LiveServerMessage) *live.ServerMessage {
	sc := resp.ServerContent
	if sc == nil {
		return nil
	}
	msg := &live.ServerMessage{
		Interrupted:  sc.Interrupted,
		TurnComplete: sc.TurnComplete,
	}
	if sc.ModelTurn != nil {
		for _, part := range sc.ModelTurn.Parts {
			if part == nil {
				continue
			}
			if part.Text != "" {
				msg.Text += part.Text
			}
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				mime := part.InlineData.MIMEType
				if mime == "" {
					mime = audio.MIMEType(audio.OutputSampleRate)
				}
				msg.Audio = append(msg.Audio, audio.EncodedChunk{
					Data:     audio.EncodeBytes(part.InlineData.Data),
					MIMEType: mime,
				})
			}
		}
	}
	if len(msg.Audio) == 0 && msg.Text == "" && !msg.Interrupted && !msg.TurnComplete {
		return nil
	}
	return msg
}

func (c *liveConn) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *liveConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.session.Close()
}
