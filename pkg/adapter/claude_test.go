package adapter_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/jrodrigosm/llm-user-memory/pkg/adapter"
	"github.com/jrodrigosm/llm-user-memory/pkg/model"
	"github.com/m-mizutani/gt"
)

func TestNewClaudeRequiresKey(t *testing.T) {
	_, err := adapter.NewClaude("")
	gt.Error(t, err)
}

func TestClaudeComplete(t *testing.T) {
	apiKey := os.Getenv("TEST_ANTHROPIC_API_KEY")
	if apiKey == "" {
		t.Skip("TEST_ANTHROPIC_API_KEY is not set")
	}

	client, err := adapter.NewClaude(apiKey)
	gt.NoError(t, err)

	resp, err := client.Complete(context.Background(), "", "Reply with exactly the word NO_UPDATE and nothing else.")
	gt.NoError(t, err)
	gt.S(t, strings.TrimSpace(resp)).Contains("NO_UPDATE")
}

type fakeMessagesAPI struct {
	mu     sync.Mutex
	models []string
	reply  func(w http.ResponseWriter, modelID string)
}

func (f *fakeMessagesAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Model string `json:"model"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	f.mu.Lock()
	f.models = append(f.models, req.Model)
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	f.reply(w, req.Model)
}

func (f *fakeMessagesAPI) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.models...)
}

func writeMessage(w http.ResponseWriter, modelID, text string) {
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":            "msg_01",
		"type":          "message",
		"role":          "assistant",
		"model":         modelID,
		"content":       []map[string]any{{"type": "text", "text": text}},
		"stop_reason":   "end_turn",
		"stop_sequence": nil,
		"usage":         map[string]any{"input_tokens": 10, "output_tokens": 2},
	})
}

func writeAPIError(w http.ResponseWriter, status int, errType, message string) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"type":  "error",
		"error": map[string]any{"type": errType, "message": message},
	})
}

func newFakeClaude(t *testing.T, api *fakeMessagesAPI, opts ...adapter.ClaudeOption) *adapter.ClaudeClient {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	opts = append(opts, adapter.WithClaudeRequestOptions(
		option.WithBaseURL(srv.URL+"/"),
		option.WithMaxRetries(0),
	))
	client, err := adapter.NewClaude("test-key", opts...)
	gt.NoError(t, err)
	return client
}

func TestClaudeUnknownModelFallsBackToDefault(t *testing.T) {
	api := &fakeMessagesAPI{
		reply: func(w http.ResponseWriter, modelID string) {
			if modelID != "claude-sonnet-4-5" {
				writeAPIError(w, http.StatusNotFound, "not_found_error", "model: "+modelID)
				return
			}
			writeMessage(w, modelID, "NO_UPDATE")
		},
	}
	client := newFakeClaude(t, api)

	resp, err := client.Complete(context.Background(), "claude-3-opus", "prompt")
	gt.NoError(t, err)
	gt.Equal(t, resp, "NO_UPDATE")
	gt.Equal(t, api.calls(), []string{"claude-3-opus", "claude-sonnet-4-5"})
}

func TestClaudeErrorClassification(t *testing.T) {
	testCases := []struct {
		name      string
		status    int
		errType   string
		message   string
		permanent bool
	}{
		{name: "invalid request", status: http.StatusBadRequest, errType: "invalid_request_error", message: "messages: text content blocks must be non-empty", permanent: true},
		{name: "prompt too long", status: http.StatusBadRequest, errType: "invalid_request_error", message: "prompt is too long: 210000 tokens > 200000 maximum", permanent: true},
		{name: "request too large", status: http.StatusRequestEntityTooLarge, errType: "request_too_large", message: "request exceeds the maximum size", permanent: true},
		{name: "default model missing", status: http.StatusNotFound, errType: "not_found_error", message: "model: claude-sonnet-4-5"},
		{name: "unauthorized", status: http.StatusUnauthorized, errType: "authentication_error", message: "invalid x-api-key"},
		{name: "forbidden", status: http.StatusForbidden, errType: "permission_error", message: "no access"},
		{name: "rate limited", status: http.StatusTooManyRequests, errType: "rate_limit_error", message: "slow down"},
		{name: "overloaded", status: 529, errType: "overloaded_error", message: "overloaded"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			api := &fakeMessagesAPI{
				reply: func(w http.ResponseWriter, modelID string) {
					writeAPIError(w, tc.status, tc.errType, tc.message)
				},
			}
			client := newFakeClaude(t, api)

			_, err := client.Complete(context.Background(), "", "prompt")
			gt.Error(t, err)
			gt.Equal(t, errors.Is(err, model.ErrPermanentEntry), tc.permanent)
			gt.Equal(t, errors.Is(err, model.ErrCompletion), !tc.permanent)
			gt.Equal(t, len(api.calls()), 1)
		})
	}
}
