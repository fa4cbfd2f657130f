package messages

import (
	"github.com/bytedance/sonic"
	"github.com/pkg/errors"

	"github.com/room4-2/kolokwa/audio"
)

// ErrEmptyMessage is returned for a frame that carries nothing to act on.
var ErrEmptyMessage = errors.New("message has no media or control payload")

// ClientMessage represents a frame from the browser
type ClientMessage struct {
	Media   *audio.EncodedChunk `json:"media,omitempty"`
	Control *ControlPayload     `json:"control,omitempty"`
}

// ControlPayload contains control commands
type ControlPayload struct {
	Action string `json:"action"` // "ping", "end"
}

// Control actions
const (
	ActionPing = "ping"
	ActionEnd  = "end"
)

// ParseClientMessage decodes one browser frame.
func ParseClientMessage(data []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := sonic.Unmarshal(data, &msg); err != nil {
		return nil, errors.Wrap(err, "decode client message")
	}
	if msg.Media == nil && msg.Control == nil {
		return nil, ErrEmptyMessage
	}
	if msg.Media != nil && msg.Media.Data == "" {
		return nil, errors.New("media frame has no data")
	}
	return &msg, nil
}
