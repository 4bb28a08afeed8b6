package repository

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/jrodrigosm/llm-user-memory/pkg/model"
	"github.com/jrodrigosm/llm-user-memory/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

const defaultReadTimeout = 250 * time.Millisecond

// Store fronts a Repository for every caller of the memory subsystem. Read
// never fails and never waits longer than the read timeout; the strict
// operations pass through and keep the last known-good snapshot fresh.
type Store struct {
	repo        Repository
	readTimeout time.Duration
	last        atomic.Pointer[model.Profile]
}

// StoreOption is a functional option for Store
type StoreOption func(*Store)

// WithReadTimeout bounds Read
func WithReadTimeout(d time.Duration) StoreOption {
	return func(s *Store) {
		s.readTimeout = d
	}
}

// NewStore wraps repo
func NewStore(repo Repository, opts ...StoreOption) *Store {
	s := &Store{
		repo:        repo,
		readTimeout: defaultReadTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type loadResult struct {
	profile *model.Profile
	err     error
}

// Read returns the committed profile. On any failure, including a slow
// backend, it returns the last known-good profile (or an empty one) and only
// logs the failure.
func (s *Store) Read(ctx context.Context) *model.Profile {
	ctx, cancel := context.WithTimeout(ctx, s.readTimeout)
	defer cancel()

	ch := make(chan loadResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- loadResult{err: goerr.New("panic while loading profile", goerr.V("panic", r))}
			}
		}()
		p, err := s.repo.Load(ctx)
		ch <- loadResult{profile: p, err: err}
	}()

	select {
	case r := <-ch:
		if r.err == nil && r.profile != nil {
			s.last.Store(r.profile.Clone())
			return r.profile
		}
		logging.From(ctx).Warn("failed to read profile, serving last known-good copy", "error", r.err)
	case <-ctx.Done():
		logging.From(ctx).Warn("profile read timed out, serving last known-good copy", "timeout", s.readTimeout)
	}

	return s.fallback()
}

func (s *Store) fallback() *model.Profile {
	if p := s.last.Load(); p != nil {
		return p.Clone()
	}
	return &model.Profile{}
}

// Load is the strict read used by management commands
func (s *Store) Load(ctx context.Context) (*model.Profile, error) {
	p, err := s.repo.Load(ctx)
	if err != nil {
		return nil, err
	}
	s.last.Store(p.Clone())
	return p, nil
}

// CommitIfCheckpoint commits content and advances the checkpoint from
// expected to next. See Repository.CommitIfCheckpoint.
func (s *Store) CommitIfCheckpoint(ctx context.Context, expected model.EntryID, content string, next model.EntryID) (bool, error) {
	ok, err := s.repo.CommitIfCheckpoint(ctx, expected, content, next)
	if err != nil {
		return false, err
	}
	if ok {
		s.last.Store(&model.Profile{Content: content, Checkpoint: next, UpdatedAt: time.Now()})
	}
	return ok, nil
}

// Clear empties the profile and resets the checkpoint, so the whole log is
// learned again from scratch.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.repo.Clear(ctx, false); err != nil {
		return err
	}
	s.last.Store(&model.Profile{})
	return nil
}

// ClearContent empties the profile but keeps the checkpoint, so only new
// entries contribute to the profile from now on.
func (s *Store) ClearContent(ctx context.Context) error {
	if err := s.repo.Clear(ctx, true); err != nil {
		return err
	}
	s.last.Store(nil)
	return nil
}
