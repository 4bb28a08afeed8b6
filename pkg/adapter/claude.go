package adapter

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/jrodrigosm/llm-user-memory/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

const (
	defaultClaudeModel     = "claude-sonnet-4-5"
	defaultClaudeMaxTokens = 2048
)

// ClaudeClient completes prompts with the Anthropic Messages API
type ClaudeClient struct {
	client         *anthropic.Client
	model          string
	maxTokens      int64
	requestOptions []option.RequestOption
}

var _ Completion = (*ClaudeClient)(nil)

// ClaudeOption is a functional option for ClaudeClient
type ClaudeOption func(*ClaudeClient)

// WithClaudeModel sets the model used when the caller does not pick one
func WithClaudeModel(model string) ClaudeOption {
	return func(c *ClaudeClient) {
		c.model = model
	}
}

// WithClaudeMaxTokens bounds the length of the rewritten profile
func WithClaudeMaxTokens(n int64) ClaudeOption {
	return func(c *ClaudeClient) {
		c.maxTokens = n
	}
}

// WithClaudeRequestOptions passes extra options to the Anthropic client
func WithClaudeRequestOptions(opts ...option.RequestOption) ClaudeOption {
	return func(c *ClaudeClient) {
		c.requestOptions = append(c.requestOptions, opts...)
	}
}

// NewClaude creates a new Claude API client
func NewClaude(apiKey string, opts ...ClaudeOption) (*ClaudeClient, error) {
	if apiKey == "" {
		return nil, goerr.New("anthropic API key is required")
	}

	c := &ClaudeClient{
		model:     defaultClaudeModel,
		maxTokens: defaultClaudeMaxTokens,
	}
	for _, opt := range opts {
		opt(c)
	}

	client := anthropic.NewClient(
		append([]option.RequestOption{option.WithAPIKey(apiKey)}, c.requestOptions...)...,
	)
	c.client = &client
	return c, nil
}

// DefaultModel returns the model used when the caller does not pick one
func (c *ClaudeClient) DefaultModel() string {
	return c.model
}

// Complete sends prompt as a single user turn. A model named by the log but
// unknown to the API is replaced by the default model. Requests the API
// rejects as invalid fail permanently; anything else is worth retrying.
func (c *ClaudeClient) Complete(ctx context.Context, modelID, prompt string) (string, error) {
	if modelID == "" {
		modelID = c.model
	}

	text, err := c.complete(ctx, modelID, prompt)
	if err != nil && modelID != c.model && apiStatus(err) == http.StatusNotFound {
		logging.From(ctx).Warn("model not found, using default model", "model", modelID, "default", c.model)
		modelID = c.model
		text, err = c.complete(ctx, modelID, prompt)
	}
	if err != nil {
		return "", classifyClaudeError(err, modelID)
	}
	return text, nil
}

func (c *ClaudeClient) complete(ctx context.Context, modelID, prompt string) (string, error) {
	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(modelID),
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", err
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return text.String(), nil
}

func classifyClaudeError(err error, modelID string) error {
	status := apiStatus(err)
	switch {
	case status == http.StatusBadRequest && strings.Contains(err.Error(), "prompt is too long"):
		return goerr.Wrap(permanent(err), "prompt exceeds model context window", goerr.V("model", modelID))
	case rejected(status):
		return goerr.Wrap(permanent(err), "request rejected", goerr.V("model", modelID), goerr.V("status", status))
	default:
		return goerr.Wrap(completionFailure(err), "failed to create message", goerr.V("model", modelID), goerr.V("status", status))
	}
}

// apiStatus returns the HTTP status of an Anthropic API error, or 0
func apiStatus(err error) int {
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return 0
	}
	return apiErr.StatusCode
}
