package cursor

import (
	"context"
	"slices"
	"time"

	"github.com/jrodrigosm/llm-user-memory/pkg/adapter"
	"github.com/jrodrigosm/llm-user-memory/pkg/model"
	"github.com/jrodrigosm/llm-user-memory/pkg/utils/logging"
)

const (
	DefaultBatchSize   = 50
	DefaultMaxAttempts = 3
	DefaultBaseBackoff = 100 * time.Millisecond
)

// Reader reads log entries after a checkpoint. It never fails: when the log
// stays unreadable it reports nothing new, and the same range is read again
// on the next poll because the checkpoint did not move.
type Reader struct {
	source      adapter.LogSource
	batchSize   int
	maxAttempts int
	baseBackoff time.Duration
}

// Option is a functional option for Reader
type Option func(*Reader)

// WithBatchSize caps the number of entries per read
func WithBatchSize(n int) Option {
	return func(r *Reader) {
		r.batchSize = n
	}
}

// WithRetry sets the attempt ceiling and the first backoff delay. The delay
// doubles after every failed attempt.
func WithRetry(maxAttempts int, base time.Duration) Option {
	return func(r *Reader) {
		r.maxAttempts = maxAttempts
		r.baseBackoff = base
	}
}

// New creates a Reader over source
func New(source adapter.LogSource, opts ...Option) *Reader {
	r := &Reader{
		source:      source,
		batchSize:   DefaultBatchSize,
		maxAttempts: DefaultMaxAttempts,
		baseBackoff: DefaultBaseBackoff,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.batchSize <= 0 {
		r.batchSize = DefaultBatchSize
	}
	if r.maxAttempts <= 0 {
		r.maxAttempts = 1
	}
	return r
}

// EntriesSince returns entries with ID strictly after checkpoint in
// ascending ID order, at most one batch.
func (r *Reader) EntriesSince(ctx context.Context, checkpoint model.EntryID) []*model.LogEntry {
	logger := logging.From(ctx)
	delay := r.baseBackoff

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		entries, err := r.source.EntriesSince(ctx, checkpoint, r.batchSize)
		if err == nil {
			return normalize(entries, checkpoint, r.batchSize)
		}

		logger.Warn("failed to read interaction log",
			"error", err,
			"attempt", attempt,
			"checkpoint", checkpoint)

		if attempt == r.maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay *= 2
	}

	return nil
}

// normalize drops entries at or before checkpoint and orders the rest, so a
// sloppy source cannot make the engine revisit or reorder entries.
func normalize(entries []*model.LogEntry, checkpoint model.EntryID, limit int) []*model.LogEntry {
	out := make([]*model.LogEntry, 0, len(entries))
	for _, e := range entries {
		if e != nil && e.ID.After(checkpoint) {
			out = append(out, e)
		}
	}

	slices.SortStableFunc(out, func(a, b *model.LogEntry) int {
		return a.ID.Compare(b.ID)
	})
	out = slices.CompactFunc(out, func(a, b *model.LogEntry) bool {
		return a.ID == b.ID
	})

	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
