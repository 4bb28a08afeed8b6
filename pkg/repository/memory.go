package repository

import (
	"context"
	"sync"
	"time"

	"github.com/jrodrigosm/llm-user-memory/pkg/model"
)

// Memory keeps the profile in process memory. It backs tests and --dry-run.
type Memory struct {
	mu      sync.Mutex
	profile model.Profile
	now     func() time.Time
}

var _ Repository = (*Memory)(nil)

// NewMemory creates a Memory repository, optionally seeded with a profile
func NewMemory(seed *model.Profile) *Memory {
	m := &Memory{now: time.Now}
	if seed != nil {
		m.profile = *seed
	}
	return m
}

func (m *Memory) Load(ctx context.Context) (*model.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.profile.Clone(), nil
}

func (m *Memory) CommitIfCheckpoint(ctx context.Context, expected model.EntryID, content string, next model.EntryID) (bool, error) {
	if err := checkAdvance(expected, next); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.profile.Checkpoint != expected {
		return false, nil
	}
	m.profile = model.Profile{
		Content:    content,
		Checkpoint: next,
		UpdatedAt:  m.now(),
	}
	return true, nil
}

func (m *Memory) Clear(ctx context.Context, keepCheckpoint bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cleared := model.Profile{UpdatedAt: m.now()}
	if keepCheckpoint {
		cleared.Checkpoint = m.profile.Checkpoint
	}
	m.profile = cleared
	return nil
}
