package adapter

import (
	"context"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// Router dispatches a completion to the backend that serves the model which
// produced the log entry. Entries from other models (local models, OpenAI,
// ...) go to the fallback backend with its default model.
type Router struct {
	routes   []route
	fallback Completion
}

type route struct {
	prefix  string
	backend Completion
}

var _ Completion = (*Router)(nil)

// RouterOption is a functional option for Router
type RouterOption func(*Router)

// WithRoute sends models whose identifier starts with prefix to backend
func WithRoute(prefix string, backend Completion) RouterOption {
	return func(r *Router) {
		r.routes = append(r.routes, route{prefix: strings.ToLower(prefix), backend: backend})
	}
}

// NewRouter creates a Router. fallback must not be nil.
func NewRouter(fallback Completion, opts ...RouterOption) *Router {
	r := &Router{fallback: fallback}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Router) Complete(ctx context.Context, modelID, prompt string) (string, error) {
	backend, routedModel := r.pick(modelID)
	if backend == nil {
		return "", goerr.Wrap(completionFailure(goerr.New("no backend")), "no completion backend configured", goerr.V("model", modelID))
	}
	return backend.Complete(ctx, routedModel, prompt)
}

func (r *Router) pick(modelID string) (Completion, string) {
	lower := strings.ToLower(modelID)
	for _, rt := range r.routes {
		if rt.backend != nil && strings.HasPrefix(lower, rt.prefix) {
			return rt.backend, modelID
		}
	}
	return r.fallback, ""
}
