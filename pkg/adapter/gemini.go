package adapter

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/jrodrigosm/llm-user-memory/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

// Gemini is the subset of the genai client the memory updater needs
type Gemini interface {
	GenerateContent(ctx context.Context, modelID string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type GeminiClient struct {
	client          *genai.Client
	generativeModel string
	temperature     float32
}

var (
	_ Gemini     = (*GeminiClient)(nil)
	_ Completion = (*GeminiClient)(nil)
)

type GeminiOption func(*GeminiClient)

func WithGenerativeModel(model string) GeminiOption {
	return func(g *GeminiClient) {
		g.generativeModel = model
	}
}

// WithTemperature sets the sampling temperature for profile updates
func WithTemperature(t float32) GeminiOption {
	return func(g *GeminiClient) {
		g.temperature = t
	}
}

func NewGemini(ctx context.Context, projectID, location string, opts ...GeminiOption) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  projectID,
		Location: location,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create genai client")
	}

	g := &GeminiClient{
		client:          client,
		generativeModel: "gemini-2.5-flash",
		temperature:     0.2,
	}

	for _, opt := range opts {
		opt(g)
	}

	return g, nil
}

// DefaultModel returns the model used when the caller does not pick one
func (g *GeminiClient) DefaultModel() string {
	return g.generativeModel
}

func (g *GeminiClient) GenerateContent(ctx context.Context, modelID string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	if modelID == "" {
		modelID = g.generativeModel
	}
	resp, err := g.client.Models.GenerateContent(ctx, modelID, contents, config)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate content", goerr.V("model", modelID))
	}
	return resp, nil
}

// Complete sends prompt as a single user turn and returns the text answer. A
// model named by the log but unknown to Vertex is replaced by the default
// model. Prompts over the token limit and other rejected requests fail
// permanently; anything else is a completion failure worth retrying.
func (g *GeminiClient) Complete(ctx context.Context, modelID, prompt string) (string, error) {
	if modelID == "" {
		modelID = g.generativeModel
	}

	resp, err := g.generate(ctx, modelID, prompt)
	if err != nil && modelID != g.generativeModel && isModelNotFound(err) {
		logging.From(ctx).Warn("model not found, using default model", "model", modelID, "default", g.generativeModel)
		modelID = g.generativeModel
		resp, err = g.generate(ctx, modelID, prompt)
	}
	if err != nil {
		return "", classifyGeminiError(err, modelID)
	}

	return responseText(resp), nil
}

func (g *GeminiClient) generate(ctx context.Context, modelID, prompt string) (*genai.GenerateContentResponse, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}
	thinkingBudget := int32(0)
	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(g.temperature),
		ThinkingConfig: &genai.ThinkingConfig{
			IncludeThoughts: false,
			ThinkingBudget:  &thinkingBudget,
		},
	}
	return g.client.Models.GenerateContent(ctx, modelID, contents, config)
}

func classifyGeminiError(err error, modelID string) error {
	if isTokenLimitError(err) {
		return goerr.Wrap(permanent(err), "prompt exceeds model token limit", goerr.V("model", modelID))
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) && rejected(apiErr.Code) {
		return goerr.Wrap(permanent(err), "request rejected", goerr.V("model", modelID), goerr.V("status", apiErr.Status))
	}
	return goerr.Wrap(completionFailure(err), "failed to generate content", goerr.V("model", modelID))
}

func isModelNotFound(err error) bool {
	var apiErr genai.APIError
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && !part.Thought {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}

// isTokenLimitError checks if the error is due to token limit exceeded
func isTokenLimitError(err error) bool {
	if err == nil {
		return false
	}

	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return false
	}

	// Example: "The input token count (2500030) exceeds the maximum number of tokens allowed (1048576)."
	return apiErr.Code == 400 &&
		apiErr.Status == "INVALID_ARGUMENT" &&
		strings.HasPrefix(apiErr.Message, "The input token count (") &&
		strings.Contains(apiErr.Message, ") exceeds the maximum number of tokens allowed (")
}
