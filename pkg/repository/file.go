package repository

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/jrodrigosm/llm-user-memory/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

// ProfileFileName is the profile document inside the memory directory
const ProfileFileName = "profile.md"

// File stores the profile as a markdown document on the local filesystem.
// Reads are lock-free; commits serialize on an in-process semaphore and a
// lock file so that separate CLI processes and the daemon never interleave.
type File struct {
	path        string
	lockTimeout time.Duration
	staleAge    time.Duration
	now         func() time.Time

	sem chan struct{}
}

var _ Repository = (*File)(nil)

// FileOption is a functional option for File
type FileOption func(*File)

// WithLockTimeout bounds how long a commit waits for the lock
func WithLockTimeout(d time.Duration) FileOption {
	return func(f *File) {
		f.lockTimeout = d
	}
}

// WithStaleLockAge sets the age after which a leftover lock file is broken
func WithStaleLockAge(d time.Duration) FileOption {
	return func(f *File) {
		f.staleAge = d
	}
}

// WithClock replaces time.Now for UpdatedAt stamps
func WithClock(now func() time.Time) FileOption {
	return func(f *File) {
		f.now = now
	}
}

// NewFile creates a File repository rooted at dir, creating dir if needed
func NewFile(dir string, opts ...FileOption) (*File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, goerr.Wrap(err, "failed to create memory directory", goerr.V("dir", dir))
	}

	f := &File{
		path:        filepath.Join(dir, ProfileFileName),
		lockTimeout: defaultLockTimeout,
		staleAge:    defaultStaleLockAge,
		now:         time.Now,
		sem:         make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(f)
	}

	return f, nil
}

// Path returns the profile document path
func (f *File) Path() string {
	return f.path
}

func (f *File) Load(ctx context.Context) (*model.Profile, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &model.Profile{}, nil
		}
		return nil, goerr.Wrap(transient(err), "failed to read profile", goerr.V("path", f.path))
	}

	return decodeProfile(data), nil
}

func (f *File) CommitIfCheckpoint(ctx context.Context, expected model.EntryID, content string, next model.EntryID) (bool, error) {
	if err := checkAdvance(expected, next); err != nil {
		return false, err
	}

	unlock, err := f.lock(ctx)
	if err != nil {
		return false, err
	}
	defer unlock()

	current, err := f.Load(ctx)
	if err != nil {
		return false, err
	}
	if current.Checkpoint != expected {
		return false, nil
	}

	if err := f.write(&model.Profile{
		Content:    content,
		Checkpoint: next,
		UpdatedAt:  f.now(),
	}); err != nil {
		return false, err
	}

	return true, nil
}

// Clear overwrites the document under the commit lock. It does not need the
// current document to be readable, so it also recovers an unreadable profile.
func (f *File) Clear(ctx context.Context, keepCheckpoint bool) error {
	unlock, err := f.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	cleared := &model.Profile{UpdatedAt: f.now()}
	if keepCheckpoint {
		current, err := f.Load(ctx)
		if err != nil {
			return goerr.Wrap(err, "cannot keep checkpoint of unreadable profile")
		}
		cleared.Checkpoint = current.Checkpoint
	}

	return f.write(cleared)
}

func (f *File) write(p *model.Profile) error {
	data, err := encodeProfile(p)
	if err != nil {
		return err
	}
	return writeFileAtomic(f.path, data, 0o644)
}

// lock serializes commits within the process first, so that goroutines do
// not spin on the lock file, then across processes.
func (f *File) lock(ctx context.Context) (func(), error) {
	timer := time.NewTimer(f.lockTimeout)
	defer timer.Stop()

	select {
	case f.sem <- struct{}{}:
	case <-timer.C:
		return nil, goerr.Wrap(model.ErrTransientIO, "timed out waiting for profile lock", goerr.V("path", f.path))
	case <-ctx.Done():
		return nil, goerr.Wrap(ctx.Err(), "interrupted while waiting for profile lock")
	}

	release, err := acquireLock(ctx, f.path+".lock", f.lockTimeout, f.staleAge)
	if err != nil {
		<-f.sem
		return nil, err
	}

	return func() {
		release()
		<-f.sem
	}, nil
}
