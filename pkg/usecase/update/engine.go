package update

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jrodrigosm/llm-user-memory/pkg/adapter"
	"github.com/jrodrigosm/llm-user-memory/pkg/metrics"
	"github.com/jrodrigosm/llm-user-memory/pkg/model"
	"github.com/jrodrigosm/llm-user-memory/pkg/policy"
	"github.com/jrodrigosm/llm-user-memory/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/time/rate"
)

// DefaultCompletionTimeout bounds one profile update completion
const DefaultCompletionTimeout = 30 * time.Second

// State is the engine's position in an update cycle
type State int32

const (
	StateIdle State = iota
	StatePaused
	StateFetching
	StateDeciding
	StateCommitting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePaused:
		return "paused"
	case StateFetching:
		return "fetching"
	case StateDeciding:
		return "deciding"
	case StateCommitting:
		return "committing"
	default:
		return "unknown"
	}
}

// ProfileStore is the part of the profile store the engine writes through
type ProfileStore interface {
	Load(ctx context.Context) (*model.Profile, error)
	CommitIfCheckpoint(ctx context.Context, expected model.EntryID, content string, next model.EntryID) (bool, error)
}

// EntryReader yields log entries after a checkpoint and never fails
type EntryReader interface {
	EntriesSince(ctx context.Context, checkpoint model.EntryID) []*model.LogEntry
}

// ControlSource exposes the persisted pause flag
type ControlSource interface {
	Load(ctx context.Context) (*model.Control, error)
}

// CycleResult summarizes one update cycle
type CycleResult struct {
	Paused     bool
	Processed  int
	Updated    int
	Unchanged  int
	Skipped    int
	Checkpoint model.EntryID
}

// Engine turns new log entries into profile commits. One cycle reads the
// profile, fetches entries after its checkpoint and commits each entry's
// outcome in ascending order, advancing the checkpoint with the content.
type Engine struct {
	store      ProfileStore
	reader     EntryReader
	completion adapter.Completion

	control           ControlSource
	policy            *policy.Policy
	metrics           *metrics.Metrics
	limiter           *rate.Limiter
	completionTimeout time.Duration
	maxWords          int
	disabled          bool

	paused atomic.Bool
	state  atomic.Int32
	cycle  sync.Mutex
}

// Option is a functional option for Engine
type Option func(*Engine)

// WithControl makes the engine honor the persisted pause flag
func WithControl(c ControlSource) Option {
	return func(e *Engine) {
		e.control = c
	}
}

// WithPolicy filters entries through a Rego policy before any completion
func WithPolicy(p *policy.Policy) Option {
	return func(e *Engine) {
		e.policy = p
	}
}

// WithMetrics records cycle metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithRateLimit caps completion calls per second
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(e *Engine) {
		e.limiter = rate.NewLimiter(limit, burst)
	}
}

// WithCompletionTimeout bounds each completion call
func WithCompletionTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.completionTimeout = d
	}
}

// WithMaxProfileWords sets the profile length asked of the model
func WithMaxProfileWords(n int) Option {
	return func(e *Engine) {
		e.maxWords = n
	}
}

// WithUpdatesDisabled keeps the engine permanently paused
func WithUpdatesDisabled(disabled bool) Option {
	return func(e *Engine) {
		e.disabled = disabled
	}
}

// New creates an Engine
func New(store ProfileStore, reader EntryReader, completion adapter.Completion, opts ...Option) *Engine {
	e := &Engine{
		store:             store,
		reader:            reader,
		completion:        completion,
		limiter:           rate.NewLimiter(rate.Inf, 1),
		completionTimeout: DefaultCompletionTimeout,
		maxWords:          defaultMaxProfileWords,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State returns the current cycle state
func (e *Engine) State() State {
	return State(e.state.Load())
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
}

// Pause stops this engine from fetching at the next cycle boundary
func (e *Engine) Pause() {
	e.paused.Store(true)
}

// Resume lets this engine fetch again from the next cycle
func (e *Engine) Resume() {
	e.paused.Store(false)
}

// Paused reports whether the next cycle will be skipped
func (e *Engine) Paused(ctx context.Context) bool {
	if e.disabled || e.paused.Load() {
		return true
	}
	if e.control == nil {
		return false
	}

	ctrl, err := e.control.Load(ctx)
	if err != nil {
		logging.From(ctx).Warn("failed to read control state, assuming not paused", "error", err)
		return false
	}
	return ctrl.Paused
}

// RunCycle runs one update cycle. It returns an error when the cycle stopped
// before the last fetched entry; the checkpoint stays at the last committed
// entry so the rest is picked up by the next cycle.
func (e *Engine) RunCycle(ctx context.Context) (*CycleResult, error) {
	e.cycle.Lock()
	defer e.cycle.Unlock()
	defer e.setState(StateIdle)

	if e.Paused(ctx) {
		e.setState(StatePaused)
		e.metrics.RecordCycle("paused")
		return &CycleResult{Paused: true}, nil
	}

	result, err := e.runCycle(ctx)
	switch {
	case err != nil:
		e.metrics.RecordCycle("error")
	case result.Processed == 0:
		e.metrics.RecordCycle("idle")
	default:
		e.metrics.RecordCycle("processed")
	}
	return result, err
}

func (e *Engine) runCycle(ctx context.Context) (*CycleResult, error) {
	logger := logging.From(ctx)

	e.setState(StateFetching)
	profile, err := e.store.Load(ctx)
	if err != nil {
		return &CycleResult{}, goerr.Wrap(err, "failed to load profile")
	}

	content, checkpoint := profile.Content, profile.Checkpoint
	result := &CycleResult{Checkpoint: checkpoint}

	entries := e.reader.EntriesSince(ctx, checkpoint)
	if len(entries) == 0 {
		return result, nil
	}
	logger.Debug("new log entries", "count", len(entries), "checkpoint", checkpoint)

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return result, goerr.Wrap(err, "update cycle cancelled", goerr.V("checkpoint", checkpoint))
		}

		e.setState(StateDeciding)
		decision, skipped, err := e.decide(ctx, content, entry)
		if err != nil {
			if !errors.Is(err, model.ErrPermanentEntry) {
				e.metrics.RecordEntry("failed")
				return result, goerr.Wrap(err, "entry will be retried next cycle", goerr.V("id", entry.ID))
			}
			logger.Warn("skipping unprocessable log entry", "id", entry.ID, "error", err)
			decision, skipped = model.NoChange(), true
		}

		next := content
		if decision.Kind == model.DecisionUpdated {
			next = decision.Content
		}

		// a commit that started is finished even if the cycle is cancelled
		e.setState(StateCommitting)
		ok, err := e.store.CommitIfCheckpoint(context.WithoutCancel(ctx), checkpoint, next, entry.ID)
		if err != nil {
			return result, goerr.Wrap(err, "failed to commit profile", goerr.V("id", entry.ID))
		}
		if !ok {
			e.metrics.RecordConflict()
			logger.Info("another writer advanced the profile, abandoning entry", "id", entry.ID, "expected", checkpoint)
			return result, goerr.Wrap(model.ErrOptimisticConflict, "commit lost the race", goerr.V("id", entry.ID))
		}

		content, checkpoint = next, entry.ID
		result.Processed++
		result.Checkpoint = checkpoint
		switch {
		case skipped:
			result.Skipped++
			e.metrics.RecordEntry("skipped")
		case decision.Kind == model.DecisionUpdated:
			result.Updated++
			e.metrics.RecordEntry("updated")
			e.metrics.RecordCommit(len(content), float64(time.Now().Unix()))
			logger.Info("profile updated", "id", entry.ID, "size", len(content))
		default:
			result.Unchanged++
			e.metrics.RecordEntry("unchanged")
		}
	}

	return result, nil
}

// decide evaluates one entry. skipped is set when the entry never reached
// the model. Errors wrapping model.ErrPermanentEntry mean the entry can be
// passed over; any other error means it must be retried.
func (e *Engine) decide(ctx context.Context, content string, entry *model.LogEntry) (model.Decision, bool, error) {
	if err := entry.Validate(); err != nil {
		return model.Decision{}, false, err
	}

	verdict, err := e.policy.Evaluate(ctx, entry)
	if err != nil {
		return model.Decision{}, false, err
	}
	if verdict.Skip {
		logging.From(ctx).Debug("entry excluded by policy", "id", entry.ID, "reason", verdict.Reason)
		return model.NoChange(), true, nil
	}

	prompt, err := buildPrompt(content, entry, e.maxWords)
	if err != nil {
		return model.Decision{}, false, err
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return model.Decision{}, false, goerr.Wrap(err, "rate limiter wait interrupted")
	}

	cctx, cancel := context.WithTimeout(ctx, e.completionTimeout)
	defer cancel()

	started := time.Now()
	resp, err := e.completion.Complete(cctx, entry.Model, prompt)
	e.metrics.RecordCompletion(time.Since(started).Seconds())
	if err != nil {
		if errors.Is(err, model.ErrPermanentEntry) || errors.Is(err, model.ErrCompletion) {
			return model.Decision{}, false, err
		}
		if errors.Is(cctx.Err(), context.DeadlineExceeded) {
			return model.Decision{}, false, goerr.Wrap(fmt.Errorf("%w: %w", model.ErrCompletion, err), "completion timed out",
				goerr.V("timeout", e.completionTimeout))
		}
		return model.Decision{}, false, goerr.Wrap(fmt.Errorf("%w: %w", model.ErrCompletion, err), "completion failed")
	}

	decision, err := parseResponse(resp)
	return decision, false, err
}
