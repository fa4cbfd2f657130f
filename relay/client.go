package relay

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"

	"github.com/room4-2/kolokwa/chat"
)

// Client is a chat.Backend that posts conversations to a relay endpoint.
// Sampling parameters other than the relay's own are not forwarded.
type Client struct {
	url  string
	http *http.Client
}

// NewClient creates a relay client. A nil httpClient uses http.DefaultClient.
func NewClient(url string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{url: url, http: httpClient}
}

// Generate implements chat.Backend.
func (c *Client) Generate(ctx context.Context, req chat.Request) (string, error) {
	body, err := sonic.Marshal(Request{
		Messages:         toMessages(req.History, req.Prompt),
		StyleInstruction: req.SystemInstruction,
	})
	if err != nil {
		return "", errors.Wrap(err, "encode relay request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "build relay request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", errors.Wrap(err, "relay request")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Wrap(err, "read relay response")
	}

	var out Response
	if err := sonic.Unmarshal(raw, &out); err != nil && resp.StatusCode == http.StatusOK {
		return "", errors.Wrap(err, "decode relay response")
	}

	if resp.StatusCode != http.StatusOK {
		if out.Error == MissingKeyMessage {
			return "", errors.Wrap(chat.ErrMissingCredentials, "relay")
		}
		return "", errors.Errorf("relay returned %d: %s", resp.StatusCode, out.Error)
	}
	return out.Text, nil
}

// toMessages maps prior turns and the new prompt to completions messages.
func toMessages(history []chat.Turn, prompt string) []Message {
	msgs := make([]Message, 0, len(history)+1)
	for _, t := range history {
		role := RoleUser
		if t.Role == chat.RoleModel {
			role = RoleAssistant
		}
		msgs = append(msgs, Message{Role: role, Content: t.Text})
	}
	return append(msgs, Message{Role: RoleUser, Content: prompt})
}
