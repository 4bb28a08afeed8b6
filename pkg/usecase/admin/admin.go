package admin

import (
	"context"
	"fmt"
	"time"

	"github.com/jrodrigosm/llm-user-memory/pkg/model"
	"github.com/jrodrigosm/llm-user-memory/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

// ProfileStore is the strict side of the profile store used by management commands
type ProfileStore interface {
	Load(ctx context.Context) (*model.Profile, error)
	Clear(ctx context.Context) error
	ClearContent(ctx context.Context) error
}

// ControlStore persists pause state, interval and heartbeat
type ControlStore interface {
	Load(ctx context.Context) (*model.Control, error)
	Update(ctx context.Context, fn func(*model.Control)) (*model.Control, error)
}

// UseCase provides the management operations of the memory subsystem
type UseCase struct {
	store   ProfileStore
	control ControlStore
	now     func() time.Time
}

// Option is a functional option for UseCase
type Option func(*UseCase)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(uc *UseCase) {
		uc.now = now
	}
}

// New creates a new admin UseCase instance
func New(store ProfileStore, control ControlStore, opts ...Option) *UseCase {
	uc := &UseCase{
		store:   store,
		control: control,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

// Show returns the stored profile. An empty or unreadable profile is
// model.ErrNoProfile.
func (u *UseCase) Show(ctx context.Context) (*model.Profile, error) {
	p, err := u.store.Load(ctx)
	if err != nil {
		return nil, goerr.Wrap(fmt.Errorf("%w: %w", model.ErrNoProfile, err), "failed to read profile")
	}
	if p.IsEmpty() {
		return nil, goerr.Wrap(model.ErrNoProfile, "profile is empty")
	}
	return p, nil
}

// Clear empties the profile. With keepCheckpoint only entries logged from now
// on shape the new profile; otherwise the whole log is learned again.
func (u *UseCase) Clear(ctx context.Context, keepCheckpoint bool) error {
	if keepCheckpoint {
		if err := u.store.ClearContent(ctx); err != nil {
			return goerr.Wrap(err, "failed to clear profile content")
		}
	} else if err := u.store.Clear(ctx); err != nil {
		return goerr.Wrap(err, "failed to clear profile")
	}

	logging.From(ctx).Info("profile cleared", "keep_checkpoint", keepCheckpoint)
	return nil
}

// Pause stops background updates from the daemon's next cycle
func (u *UseCase) Pause(ctx context.Context) error {
	if _, err := u.control.Update(ctx, func(c *model.Control) { c.Paused = true }); err != nil {
		return goerr.Wrap(err, "failed to pause updates")
	}
	return nil
}

// Resume undoes Pause
func (u *UseCase) Resume(ctx context.Context) error {
	if _, err := u.control.Update(ctx, func(c *model.Control) { c.Paused = false }); err != nil {
		return goerr.Wrap(err, "failed to resume updates")
	}
	return nil
}

// SetInterval changes the daemon's poll interval from its next cycle
func (u *UseCase) SetInterval(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return goerr.New("interval must be positive", goerr.V("interval", d))
	}
	if _, err := u.control.Update(ctx, func(c *model.Control) { c.Interval = d }); err != nil {
		return goerr.Wrap(err, "failed to set update interval")
	}
	return nil
}

// Status summarizes the daemon and the stored profile. The daemon is active
// when its heartbeat is younger than three poll intervals.
func (u *UseCase) Status(ctx context.Context) (*model.Status, error) {
	ctrl, err := u.control.Load(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read control state")
	}

	status := &model.Status{
		Active:   ctrl.Alive(u.now()),
		Paused:   ctrl.Paused,
		Interval: ctrl.EffectiveInterval(),
	}

	p, err := u.store.Load(ctx)
	if err != nil {
		logging.From(ctx).Warn("profile unreadable", "error", err)
		return status, nil
	}

	status.Checkpoint = p.Checkpoint
	status.ProfileSize = len(p.Content)
	if !p.UpdatedAt.IsZero() {
		t := p.UpdatedAt
		status.LastUpdateAt = &t
	}
	return status, nil
}
