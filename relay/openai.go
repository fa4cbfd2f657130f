package relay

import (
	"context"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
	"github.com/pkg/errors"
)

const (
	DefaultModel       = "gpt-4o"
	DefaultTemperature = 0.8
)

// ErrInvalidRole is returned for a message role the completions API does not accept.
var ErrInvalidRole = errors.New("invalid message role")

// Completer turns a system instruction and a message list into one reply.
type Completer interface {
	Complete(ctx context.Context, systemInstruction string, messages []Message) (string, error)
}

// OpenAICompleter calls the OpenAI chat completions API.
type OpenAICompleter struct {
	client      oai.Client
	model       string
	temperature float64
}

type completerConfig struct {
	baseURL string
	model   string
}

// CompleterOption configures an OpenAICompleter.
type CompleterOption func(*completerConfig)

// WithBaseURL overrides the OpenAI API base URL.
func WithBaseURL(url string) CompleterOption {
	return func(c *completerConfig) {
		c.baseURL = url
	}
}

// WithModel overrides the gpt-4o default.
func WithModel(model string) CompleterOption {
	return func(c *completerConfig) {
		if model != "" {
			c.model = model
		}
	}
}

// NewOpenAICompleter creates a completer. Requests are never retried.
func NewOpenAICompleter(apiKey string, opts ...CompleterOption) *OpenAICompleter {
	cfg := &completerConfig{model: DefaultModel}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}

	return &OpenAICompleter{
		client:      oai.NewClient(reqOpts...),
		model:       cfg.model,
		temperature: DefaultTemperature,
	}
}

// Complete implements Completer.
func (c *OpenAICompleter) Complete(ctx context.Context, systemInstruction string, messages []Message) (string, error) {
	params, err := c.buildParams(systemInstruction, messages)
	if err != nil {
		return "", err
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", errors.Wrap(err, "openai chat completion")
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: empty choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *OpenAICompleter) buildParams(systemInstruction string, messages []Message) (oai.ChatCompletionNewParams, error) {
	out := make([]oai.ChatCompletionMessageParamUnion, 0, len(messages)+1)
	out = append(out, oai.SystemMessage(systemInstruction))

	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, oai.SystemMessage(m.Content))
		case RoleUser:
			out = append(out, oai.UserMessage(m.Content))
		case RoleAssistant:
			out = append(out, oai.AssistantMessage(m.Content))
		default:
			return oai.ChatCompletionNewParams{}, errors.Wrapf(ErrInvalidRole, "%q", m.Role)
		}
	}

	return oai.ChatCompletionNewParams{
		Model:       shared.ChatModel(c.model),
		Messages:    out,
		Temperature: param.NewOpt(c.temperature),
	}, nil
}

// statusOf returns the upstream HTTP status carried by err, or 0.
func statusOf(err error) int {
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
