// Package chat implements the single-turn text exchange with the language
// model backend.
package chat

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/room4-2/kolokwa/style"
)

// ErrMissingCredentials is returned by backends that have no API key configured.
var ErrMissingCredentials = errors.New("API credential is not configured")

// Fallback replies shown in place of a model answer.
const (
	FallbackConfiguration = "Configuration error: the AI service key is not set up. Please contact the site owner."
	FallbackTransport     = "Something went wrong with the connection. Please check your network and try again."
	FallbackEmpty         = "I sorry, my brain small-small confused. Try again, ya?"
)

// Sampling defaults sent with every request.
const (
	DefaultTemperature float32 = 0.8
	DefaultTopP        float32 = 0.95
	DefaultTopK        float32 = 64
)

// Request is what a backend receives.
type Request struct {
	SystemInstruction string
	History           []Turn
	Prompt            string
	Temperature       float32
	TopP              float32
	TopK              float32
}

// Backend produces one reply for a request.
type Backend interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Kind classifies the outcome of a request.
type Kind string

const (
	KindOK            Kind = "ok"
	KindConfiguration Kind = "configuration"
	KindTransport     Kind = "transport"
	KindEmpty         Kind = "empty"
)

// Result is the structured outcome of Respond. Text is always safe to show.
type Result struct {
	Text string
	Kind Kind
	Err  error
}

// Client builds per-style requests and turns every failure into a fallback
// reply. It keeps no state between calls.
type Client struct {
	backend Backend
}

// NewClient creates a client over backend.
func NewClient(backend Backend) *Client {
	return &Client{backend: backend}
}

// GetResponse returns the reply text for prompt. It never fails.
func (c *Client) GetResponse(ctx context.Context, history []Turn, prompt string, s style.Style) string {
	return c.Respond(ctx, history, prompt, s).Text
}

// Respond is GetResponse with the failure kind kept for callers that need it.
func (c *Client) Respond(ctx context.Context, history []Turn, prompt string, s style.Style) Result {
	req := Request{
		SystemInstruction: style.SystemInstruction(s),
		History:           priorTurns(history, prompt),
		Prompt:            prompt,
		Temperature:       DefaultTemperature,
		TopP:              DefaultTopP,
		TopK:              DefaultTopK,
	}

	text, err := c.backend.Generate(ctx, req)
	switch {
	case errors.Is(err, ErrMissingCredentials):
		log.Error().Err(err).Str("style", string(s)).Msg("❌ Chat backend is not configured")
		return Result{Text: FallbackConfiguration, Kind: KindConfiguration, Err: err}
	case err != nil:
		log.Error().Err(err).Str("style", string(s)).Msg("❌ Chat backend request failed")
		return Result{Text: FallbackTransport, Kind: KindTransport, Err: err}
	case strings.TrimSpace(text) == "":
		log.Warn().Str("style", string(s)).Msg("⚠️ Chat backend returned an empty reply")
		return Result{Text: FallbackEmpty, Kind: KindEmpty}
	}
	return Result{Text: text, Kind: KindOK}
}
