package repository

import (
	"context"
	"fmt"

	"github.com/jrodrigosm/llm-user-memory/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

// Repository is the durable home of the single profile document and its
// checkpoint. Content and checkpoint are always committed together.
type Repository interface {
	// Load returns the committed profile. A missing profile is an empty
	// profile with model.NoCheckpoint, not an error.
	Load(ctx context.Context) (*model.Profile, error)

	// CommitIfCheckpoint stores content and advances the checkpoint to next
	// only if the stored checkpoint still equals expected. It returns false
	// without error when a concurrent writer got there first.
	CommitIfCheckpoint(ctx context.Context, expected model.EntryID, content string, next model.EntryID) (bool, error)

	// Clear empties the profile. Unless keepCheckpoint is set the checkpoint
	// goes back to model.NoCheckpoint. It is serialized with commits.
	Clear(ctx context.Context, keepCheckpoint bool) error
}

// checkAdvance rejects commits that would move the checkpoint backward
func checkAdvance(expected, next model.EntryID) error {
	if next.Compare(expected) < 0 {
		return goerr.Wrap(model.ErrCheckpointRegression, "refusing to commit",
			goerr.V("expected", expected),
			goerr.V("next", next))
	}
	return nil
}

// transient marks err as a model.ErrTransientIO failure while keeping the cause
func transient(err error) error {
	return fmt.Errorf("%w: %w", model.ErrTransientIO, err)
}
