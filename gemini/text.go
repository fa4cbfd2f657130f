package gemini

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/room4-2/kolokwa/chat"
)

// TextBackend implements chat.Backend with generateContent.
type TextBackend struct {
	opts  Options
	model string

	mu     sync.Mutex
	client *genai.Client
}

// NewTextBackend creates a backend for model (DefaultTextModel when empty).
// The SDK client is created on first use, so a missing key only surfaces
// when a request is made.
func NewTextBackend(opts Options, model string) *TextBackend {
	if model == "" {
		model = DefaultTextModel
	}
	return &TextBackend{opts: opts, model: model}
}

func (b *TextBackend) sdk(ctx context.Context) (*genai.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client != nil {
		return b.client, nil
	}
	client, err := newClient(ctx, b.opts)
	if err != nil {
		return nil, err
	}
	b.client = client
	return client, nil
}

// Generate implements chat.Backend.
func (b *TextBackend) Generate(ctx context.Context, req chat.Request) (string, error) {
	client, err := b.sdk(ctx)
	if err != nil {
		return "", err
	}

	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, t := range req.History {
		contents = append(contents, textContent(roleOf(t.Role), t.Text))
	}
	contents = append(contents, textContent(roleUser, req.Prompt))

	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: req.SystemInstruction}},
		},
		Temperature: genai.Ptr(req.Temperature),
		TopP:        genai.Ptr(req.TopP),
		TopK:        genai.Ptr(req.TopK),
	}

	resp, err := client.Models.GenerateContent(ctx, b.model, contents, config)
	if err != nil {
		return "", errors.Wrapf(err, "generate content with %s", b.model)
	}
	text := resp.Text()
	log.Debug().Str("model", b.model).Int("turns", len(contents)).Int("chars", len(text)).Msg("📥 Received reply from Gemini")
	return text, nil
}

// Content roles understood by the API.
const (
	roleUser  = "user"
	roleModel = "model"
)

func roleOf(r chat.Role) string {
	if r == chat.RoleModel {
		return roleModel
	}
	return roleUser
}

func textContent(role, text string) *genai.Content {
	return &genai.Content{
		Role:  role,
		Parts: []*genai.Part{{Text: text}},
	}
}
