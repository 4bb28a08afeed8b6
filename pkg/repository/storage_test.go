package repository_test

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jrodrigosm/llm-user-memory/pkg/model"
	"github.com/jrodrigosm/llm-user-memory/pkg/repository"
	"github.com/m-mizutani/gt"
)

func setupCloudStorage(t *testing.T) *repository.CloudStorage {
	bucket := os.Getenv("TEST_STORAGE_BUCKET")
	if bucket == "" {
		t.Skip("TEST_STORAGE_BUCKET is not set")
	}

	repo, err := repository.NewCloudStorage(context.Background(), bucket, "test/"+uuid.NewString())
	gt.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	return repo
}

func TestCloudStorageCommitIfCheckpoint(t *testing.T) {
	repo := setupCloudStorage(t)
	ctx := context.Background()

	ok, err := repo.CommitIfCheckpoint(ctx, model.NoCheckpoint, "Works in Go.\n", "01J9Z8")
	gt.NoError(t, err)
	gt.True(t, ok)

	ok, err = repo.CommitIfCheckpoint(ctx, model.NoCheckpoint, "stale writer", "01J9Z9")
	gt.NoError(t, err)
	gt.False(t, ok)

	p, err := repo.Load(ctx)
	gt.NoError(t, err)
	gt.Equal(t, p.Content, "Works in Go.\n")
	gt.Equal(t, p.Checkpoint, model.EntryID("01J9Z8"))

	gt.NoError(t, repo.Clear(ctx, false))
	p, err = repo.Load(ctx)
	gt.NoError(t, err)
	gt.True(t, p.Checkpoint.IsNone())
}
