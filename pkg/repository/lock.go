package repository

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jrodrigosm/llm-user-memory/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

const (
	defaultLockTimeout  = 500 * time.Millisecond
	defaultStaleLockAge = 10 * time.Second
	lockPollInterval    = 5 * time.Millisecond
)

// acquireLock takes a cross-process lock by exclusively creating path. The
// lock only guards the compare-and-rename window of a commit, so holders keep
// it for milliseconds and a lock older than staleAge belongs to a dead process.
func acquireLock(ctx context.Context, path string, timeout, staleAge time.Duration) (func(), error) {
	token := uuid.NewString()
	deadline := time.Now().Add(timeout)

	for {
		fh, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			_, werr := fh.WriteString(token)
			cerr := fh.Close()
			if werr != nil || cerr != nil {
				_ = os.Remove(path)
				return nil, goerr.Wrap(transient(errors.Join(werr, cerr)),
					"failed to write lock file", goerr.V("path", path))
			}
			return func() { releaseLock(path, token) }, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, goerr.Wrap(transient(err),
				"failed to create lock file", goerr.V("path", path))
		}

		breakStaleLock(path, staleAge)

		if time.Now().After(deadline) {
			return nil, goerr.Wrap(model.ErrTransientIO, "timed out waiting for lock",
				goerr.V("path", path),
				goerr.V("timeout", timeout))
		}

		select {
		case <-ctx.Done():
			return nil, goerr.Wrap(ctx.Err(), "interrupted while waiting for lock", goerr.V("path", path))
		case <-time.After(lockPollInterval):
		}
	}
}

// releaseLock removes the lock only if it is still ours; a stale-lock breaker
// may have replaced it.
func releaseLock(path, token string) {
	data, err := os.ReadFile(path)
	if err != nil || string(data) != token {
		return
	}
	_ = os.Remove(path)
}

// breakStaleLock removes the lock at path when it is older than staleAge.
// Two waiters may both judge the same lock stale, so the owner token seen here
// is checked again after the lock is renamed away.
func breakStaleLock(path string, staleAge time.Duration) {
	info, err := os.Stat(path)
	if err != nil || time.Since(info.ModTime()) <= staleAge {
		return
	}
	owner, err := os.ReadFile(path)
	if err != nil {
		return
	}
	breakLock(path, string(owner))
}

// breakLock moves the lock aside and deletes it if it still belongs to owner.
// A lock taken by someone else in the meantime is linked back in place, which
// fails harmlessly if yet another holder already created a new one.
func breakLock(path, owner string) bool {
	aside := path + "." + uuid.NewString() + ".stale"
	if err := os.Rename(path, aside); err != nil {
		return false
	}
	defer os.Remove(aside)

	data, err := os.ReadFile(aside)
	if err == nil && string(data) == owner {
		return true
	}

	_ = os.Link(aside, path)
	return false
}

// writeFileAtomic replaces path by writing a temp file in the same directory
// and renaming it over the target. Readers see the old or the new file, never
// a partial one.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return goerr.Wrap(transient(err),
			"failed to create temp file", goerr.V("dir", dir))
	}
	tmpName := tmp.Name()

	cleanup := func(cause error, msg string) error {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return goerr.Wrap(transient(cause), msg, goerr.V("path", path))
	}

	if _, err := tmp.Write(data); err != nil {
		return cleanup(err, "failed to write temp file")
	}
	if err := tmp.Sync(); err != nil {
		return cleanup(err, "failed to sync temp file")
	}
	if err := tmp.Chmod(perm); err != nil {
		return cleanup(err, "failed to chmod temp file")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return goerr.Wrap(transient(err), "failed to close temp file", goerr.V("path", path))
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return goerr.Wrap(transient(err), "failed to rename temp file", goerr.V("path", path))
	}

	return nil
}
