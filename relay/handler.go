// Package relay forwards text conversations to the alternate (OpenAI)
// provider behind a small HTTP contract, and calls that contract as a
// chat backend.
package relay

import (
	"io"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const maxBodyBytes = 1 << 20

// MissingKeyMessage is the error body returned when no OpenAI key is configured.
const MissingKeyMessage = "OPENAI_API_KEY is not configured."

// Message roles accepted by the relay.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat message in completions form.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the relay request body.
type Request struct {
	Messages         []Message `json:"messages"`
	StyleInstruction string    `json:"styleInstruction"`
}

// Response is the relay response body. Exactly one field is set.
type Response struct {
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

// Handler serves the relay contract. A nil completer means the key is missing.
type Handler struct {
	completer Completer
}

// NewHandler creates a handler over completer, which may be nil.
func NewHandler(completer Completer) *Handler {
	return &Handler{completer: completer}
}

// NewOpenAIHandler builds the handler from an API key. An empty key yields a
// handler that answers every request with a configuration error.
func NewOpenAIHandler(apiKey string, opts ...CompleterOption) *Handler {
	if apiKey == "" {
		return NewHandler(nil)
	}
	return NewHandler(NewOpenAICompleter(apiKey, opts...))
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.completer == nil {
		log.Error().Msg("❌ Relay called without an OpenAI key")
		writeJSON(w, http.StatusInternalServerError, Response{Error: MissingKeyMessage})
		return
	}

	var req Request
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, Response{Error: "request body too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, Response{Error: "failed to read request body"})
		return
	}
	if len(body) > 0 {
		if err := sonic.Unmarshal(body, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, Response{Error: "invalid JSON body"})
			return
		}
	}

	text, err := h.completer.Complete(r.Context(), req.StyleInstruction, req.Messages)
	if err != nil {
		status := statusOf(err)
		switch {
		case errors.Is(err, ErrInvalidRole):
			status = http.StatusBadRequest
		case status == 0:
			status = http.StatusInternalServerError
		}
		log.Error().Err(err).Int("status", status).Msg("❌ OpenAI relay request failed")
		writeJSON(w, status, Response{Error: err.Error()})
		return
	}

	log.Debug().Int("messages", len(req.Messages)).Int("chars", len(text)).Msg("📤 Relay reply sent")
	writeJSON(w, http.StatusOK, Response{Text: text})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
