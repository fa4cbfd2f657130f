// Package messages defines the websocket frames exchanged with the browser.
package messages

import (
	"github.com/bytedance/sonic"

	"github.com/room4-2/kolokwa/audio"
	"github.com/room4-2/kolokwa/live"
)

// Error codes
const (
	ErrCodeInvalidMessage   = "INVALID_MESSAGE"
	ErrCodeGeminiError      = "GEMINI_ERROR"
	ErrCodeSessionFailed    = "SESSION_FAILED"
	ErrCodeConnectionClosed = "CONNECTION_CLOSED"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeBufferFull       = "BUFFER_FULL"
)

// Status values
const (
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
	StatusPong         = "pong"
)

// ServerMessage represents a frame sent to the browser. One of
// ServerContent, Status and Error is set.
type ServerMessage struct {
	SessionID     string         `json:"sessionId,omitempty"`
	ServerContent *ServerContent `json:"serverContent,omitempty"`
	Status        *StatusPayload `json:"status,omitempty"`
	Error         *ErrorPayload  `json:"error,omitempty"`
}

// ServerContent mirrors the live backend's content message.
type ServerContent struct {
	ModelTurn    *ModelTurn `json:"modelTurn,omitempty"`
	Interrupted  bool       `json:"interrupted,omitempty"`
	TurnComplete bool       `json:"turnComplete,omitempty"`
}

type ModelTurn struct {
	Parts []Part `json:"parts"`
}

type Part struct {
	InlineData *audio.EncodedChunk `json:"inlineData,omitempty"`
	Text       string              `json:"text,omitempty"`
}

// StatusPayload contains status updates
type StatusPayload struct {
	State   string `json:"state"`
	Message string `json:"message,omitempty"`
}

// ErrorPayload contains error information
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewContentMessage translates a live message. Audio parts come before text.
func NewContentMessage(sessionID string, msg *live.ServerMessage) *ServerMessage {
	sc := &ServerContent{
		Interrupted:  msg.Interrupted,
		TurnComplete: msg.TurnComplete,
	}
	if len(msg.Audio) > 0 || msg.Text != "" {
		turn := &ModelTurn{Parts: make([]Part, 0, len(msg.Audio)+1)}
		for i := range msg.Audio {
			chunk := msg.Audio[i]
			turn.Parts = append(turn.Parts, Part{InlineData: &chunk})
		}
		if msg.Text != "" {
			turn.Parts = append(turn.Parts, Part{Text: msg.Text})
		}
		sc.ModelTurn = turn
	}
	return &ServerMessage{SessionID: sessionID, ServerContent: sc}
}

// NewStatusMessage creates a status message
func NewStatusMessage(sessionID, state, message string) *ServerMessage {
	return &ServerMessage{
		SessionID: sessionID,
		Status:    &StatusPayload{State: state, Message: message},
	}
}

// NewErrorMessage creates an error message
func NewErrorMessage(sessionID, code, message string) *ServerMessage {
	return &ServerMessage{
		SessionID: sessionID,
		Error:     &ErrorPayload{Code: code, Message: message},
	}
}

// Encode marshals msg for the wire.
func Encode(msg *ServerMessage) ([]byte, error) {
	return sonic.Marshal(msg)
}
