// Package gemini talks to the Gemini API through the official genai SDK:
// generateContent for text replies and the Live API for voice sessions.
package gemini

import (
	"context"

	"github.com/pkg/errors"
	"google.golang.org/genai"

	"github.com/room4-2/kolokwa/chat"
)

const (
	DefaultTextModel = "gemini-3-flash-preview"
	DefaultLiveModel = "models/gemini-2.5-flash-native-audio-preview-12-2025"
	DefaultVoice     = "Zephyr"
)

// Options configures the SDK client.
type Options struct {
	APIKey string
	// BaseURL overrides the API endpoint (used by tests).
	BaseURL string
}

func newClient(ctx context.Context, opts Options) (*genai.Client, error) {
	if opts.APIKey == "" {
		return nil, errors.Wrap(chat.ErrMissingCredentials, "GEMINI_API_KEY")
	}
	cfg := &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if opts.BaseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create GenAI client")
	}
	return client, nil
}
