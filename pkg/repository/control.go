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
	"gopkg.in/yaml.v3"
)

// ControlFileName holds the pause flag, interval and daemon heartbeat
const ControlFileName = "control.yaml"

// ControlFile persists model.Control next to the profile so that management
// commands in other processes reach a running daemon.
type ControlFile struct {
	path        string
	lockTimeout time.Duration
	staleAge    time.Duration
}

// NewControlFile creates a ControlFile in dir, creating dir if needed
func NewControlFile(dir string) (*ControlFile, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, goerr.Wrap(err, "failed to create memory directory", goerr.V("dir", dir))
	}
	return &ControlFile{
		path:        filepath.Join(dir, ControlFileName),
		lockTimeout: defaultLockTimeout,
		staleAge:    defaultStaleLockAge,
	}, nil
}

// Load returns the stored control state; a missing file is the zero state
func (c *ControlFile) Load(ctx context.Context) (*model.Control, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &model.Control{}, nil
		}
		return nil, goerr.Wrap(transient(err), "failed to read control file", goerr.V("path", c.path))
	}

	var ctrl model.Control
	if err := yaml.Unmarshal(data, &ctrl); err != nil {
		return nil, goerr.Wrap(err, "corrupted control file", goerr.V("path", c.path))
	}
	return &ctrl, nil
}

// Update applies fn to the stored control state under the file lock. A
// corrupted file is replaced rather than blocking management commands.
func (c *ControlFile) Update(ctx context.Context, fn func(*model.Control)) (*model.Control, error) {
	release, err := acquireLock(ctx, c.path+".lock", c.lockTimeout, c.staleAge)
	if err != nil {
		return nil, err
	}
	defer release()

	ctrl, err := c.Load(ctx)
	if err != nil {
		if errors.Is(err, model.ErrTransientIO) {
			return nil, err
		}
		ctrl = &model.Control{}
	}

	fn(ctrl)

	data, err := yaml.Marshal(ctrl)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to encode control state")
	}
	if err := writeFileAtomic(c.path, data, 0o644); err != nil {
		return nil, err
	}

	return ctrl, nil
}
