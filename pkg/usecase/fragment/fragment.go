package fragment

import (
	"context"

	"github.com/jrodrigosm/llm-user-memory/pkg/model"
	"github.com/jrodrigosm/llm-user-memory/pkg/utils/logging"
)

// Fragment loader arguments
const (
	ArgumentAuto = "auto"
	ArgumentTest = "test"
)

// TestFragment is returned for the "test" argument to check the wiring
const TestFragment = "TEST FRAGMENT: This memory fragment system is working correctly!"

// ProfileReader is the never-failing read path of the profile store
type ProfileReader interface {
	Read(ctx context.Context) *model.Profile
}

// Provider hands the current profile to the foreground request. It only
// reads the store snapshot and never waits on an update.
type Provider struct {
	store    ProfileReader
	disabled bool
}

// Option is a functional option for Provider
type Option func(*Provider)

// WithDisabled makes every call return empty text
func WithDisabled(disabled bool) Option {
	return func(p *Provider) {
		p.disabled = disabled
	}
}

// New creates a Provider
func New(store ProfileReader, opts ...Option) *Provider {
	p := &Provider{store: store}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CurrentProfileText returns the committed profile content, or "" when
// there is none or anything goes wrong.
func (p *Provider) CurrentProfileText(ctx context.Context) (text string) {
	defer func() {
		if r := recover(); r != nil {
			logging.From(ctx).Error("recovered while reading profile", "panic", r)
			text = ""
		}
	}()

	if p == nil || p.disabled || p.store == nil {
		return ""
	}

	profile := p.store.Read(ctx)
	if profile == nil {
		return ""
	}
	return profile.Content
}

// Load resolves a fragment argument: "auto" is the profile, "test" is a
// fixed self-test text and anything else is empty.
func (p *Provider) Load(ctx context.Context, argument string) string {
	if p == nil || p.disabled {
		return ""
	}

	switch argument {
	case ArgumentAuto:
		return p.CurrentProfileText(ctx)
	case ArgumentTest:
		return TestFragment
	default:
		logging.From(ctx).Debug("unknown fragment argument", "argument", argument)
		return ""
	}
}
