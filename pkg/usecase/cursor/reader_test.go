package cursor_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrodrigosm/llm-user-memory/pkg/model"
	"github.com/jrodrigosm/llm-user-memory/pkg/usecase/cursor"
	"github.com/m-mizutani/gt"
)

type mockSource struct {
	entriesSince func(ctx context.Context, checkpoint model.EntryID, limit int) ([]*model.LogEntry, error)
	calls        atomic.Int32
}

func (m *mockSource) EntriesSince(ctx context.Context, checkpoint model.EntryID, limit int) ([]*model.LogEntry, error) {
	m.calls.Add(1)
	return m.entriesSince(ctx, checkpoint, limit)
}

func entry(id string) *model.LogEntry {
	return &model.LogEntry{ID: model.EntryID(id), UserText: "text " + id}
}

func ids(entries []*model.LogEntry) []model.EntryID {
	out := make([]model.EntryID, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ID)
	}
	return out
}

func TestReaderNormalizes(t *testing.T) {
	src := &mockSource{
		entriesSince: func(ctx context.Context, checkpoint model.EntryID, limit int) ([]*model.LogEntry, error) {
			gt.Equal(t, checkpoint, model.EntryID("5"))
			gt.Equal(t, limit, 3)
			// out of order, duplicated and including entries at or before the checkpoint
			return []*model.LogEntry{entry("12"), entry("4"), entry("7"), entry("5"), entry("7"), entry("9"), entry("10")}, nil
		},
	}

	r := cursor.New(src, cursor.WithBatchSize(3))
	got := r.EntriesSince(context.Background(), "5")
	gt.Equal(t, ids(got), []model.EntryID{"7", "9", "10"})
}

func TestReaderNoCheckpoint(t *testing.T) {
	src := &mockSource{
		entriesSince: func(ctx context.Context, checkpoint model.EntryID, limit int) ([]*model.LogEntry, error) {
			return []*model.LogEntry{entry("1"), entry("2")}, nil
		},
	}

	got := cursor.New(src).EntriesSince(context.Background(), model.NoCheckpoint)
	gt.Equal(t, ids(got), []model.EntryID{"1", "2"})
}

func TestReaderRetriesThenSucceeds(t *testing.T) {
	src := &mockSource{}
	src.entriesSince = func(ctx context.Context, checkpoint model.EntryID, limit int) ([]*model.LogEntry, error) {
		if src.calls.Load() < 3 {
			return nil, model.ErrTransientIO
		}
		return []*model.LogEntry{entry("1")}, nil
	}

	r := cursor.New(src, cursor.WithRetry(3, time.Millisecond))
	got := r.EntriesSince(context.Background(), model.NoCheckpoint)
	gt.A(t, got).Length(1)
	gt.Equal(t, src.calls.Load(), int32(3))
}

func TestReaderGivesUpWithEmptyResult(t *testing.T) {
	src := &mockSource{
		entriesSince: func(ctx context.Context, checkpoint model.EntryID, limit int) ([]*model.LogEntry, error) {
			return nil, errors.New("database is locked")
		},
	}

	r := cursor.New(src, cursor.WithRetry(3, 10*time.Millisecond))
	start := time.Now()
	got := r.EntriesSince(context.Background(), "3")
	elapsed := time.Since(start)

	gt.A(t, got).Length(0)
	gt.Equal(t, src.calls.Load(), int32(3))
	// 10ms + 20ms of backoff between the three attempts
	gt.True(t, elapsed >= 30*time.Millisecond)
}

func TestReaderStopsOnCancel(t *testing.T) {
	src := &mockSource{
		entriesSince: func(ctx context.Context, checkpoint model.EntryID, limit int) ([]*model.LogEntry, error) {
			return nil, errors.New("unavailable")
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := cursor.New(src, cursor.WithRetry(5, time.Hour))
	gt.A(t, r.EntriesSince(ctx, model.NoCheckpoint)).Length(0)
	gt.Equal(t, src.calls.Load(), int32(1))
}
