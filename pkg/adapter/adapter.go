package adapter

import (
	"context"

	"github.com/jrodrigosm/llm-user-memory/pkg/model"
)

// LogSource reads the assistant's interaction log. It never writes to it.
type LogSource interface {
	// EntriesSince returns up to limit entries with ID strictly after
	// checkpoint, ascending by ID.
	EntriesSince(ctx context.Context, checkpoint model.EntryID, limit int) ([]*model.LogEntry, error)
}

// Completion is a text completion capability. modelID is the model that
// produced the log entry; backends may map it to a model they serve.
type Completion interface {
	Complete(ctx context.Context, modelID, prompt string) (string, error)
}
