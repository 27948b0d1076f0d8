// Package claude implements agent.Provider on the Anthropic Messages API.
package claude

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/linnemanlabs/beacon/internal/agent"
)

// Client wraps the Anthropic SDK client with a default model.
type Client struct {
	sdk   anthropic.Client
	model string
}

// New creates a Claude provider with the given API key and default model.
func New(apiKey, model string, opts ...option.RequestOption) *Client {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Client{
		sdk:   anthropic.NewClient(opts...),
		model: model,
	}
}

// Complete sends a single system+user turn and returns the text response.
func (c *Client) Complete(ctx context.Context, req *agent.Request) (*agent.Response, error) {
	msg, err := c.sdk.Messages.New(ctx, toParams(req, c.model))
	if err != nil {
		return nil, fmt.Errorf("claude: %w", err)
	}
	return fromMessage(msg), nil
}

// toParams maps a provider-neutral request onto SDK message params.
// defaultModel fills in when the request leaves the model blank.
func toParams(req *agent.Request, defaultModel string) anthropic.MessageNewParams {
	model := req.Model
	if model == "" {
		model = defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	return params
}

// fromMessage converts an SDK message into the provider-neutral response,
// concatenating all text blocks.
func fromMessage(msg *anthropic.Message) *agent.Response {
	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return &agent.Response{
		Text:  sb.String(),
		Model: string(msg.Model),
		Usage: agent.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
}
