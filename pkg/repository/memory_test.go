package repository_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/jrodrigosm/llm-user-memory/pkg/model"
	"github.com/jrodrigosm/llm-user-memory/pkg/repository"
	"github.com/m-mizutani/gt"
)

func TestMemoryCommit(t *testing.T) {
	ctx := context.Background()
	m := repository.NewMemory(nil)

	ok, err := m.CommitIfCheckpoint(ctx, model.NoCheckpoint, "Likes Go.", "1")
	gt.NoError(t, err)
	gt.True(t, ok)

	ok, err = m.CommitIfCheckpoint(ctx, model.NoCheckpoint, "again", "2")
	gt.NoError(t, err)
	gt.False(t, ok)

	_, err = m.CommitIfCheckpoint(ctx, "1", "back", model.NoCheckpoint)
	gt.True(t, errors.Is(err, model.ErrCheckpointRegression))

	p, err := m.Load(ctx)
	gt.NoError(t, err)
	gt.Equal(t, p.Content, "Likes Go.")
}

func TestMemoryConcurrentCommits(t *testing.T) {
	ctx := context.Background()
	m := repository.NewMemory(&model.Profile{Checkpoint: "10"})

	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := m.CommitIfCheckpoint(ctx, "10", "x", "11")
			if err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	gt.Equal(t, wins.Load(), int32(1))
}
