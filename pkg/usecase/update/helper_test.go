package update_test

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrodrigosm/llm-user-memory/pkg/model"
	"github.com/jrodrigosm/llm-user-memory/pkg/usecase/cursor"
)

// fakeLog is an in-memory interaction log
type fakeLog struct {
	mu      sync.Mutex
	entries []*model.LogEntry
}

func (l *fakeLog) append(text, modelID string) model.EntryID {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := model.EntryID(strconv.Itoa(len(l.entries) + 1))
	l.entries = append(l.entries, &model.LogEntry{ID: id, UserText: text, Model: modelID, Timestamp: time.Now()})
	return id
}

func (l *fakeLog) appendEntry(e *model.LogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
}

func (l *fakeLog) EntriesSince(ctx context.Context, checkpoint model.EntryID, limit int) ([]*model.LogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []*model.LogEntry
	for _, e := range l.entries {
		if e.ID.After(checkpoint) && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func newReader(l *fakeLog) *cursor.Reader {
	return cursor.New(l, cursor.WithRetry(1, time.Millisecond))
}

// mockCompletion answers with completeFunc and records prompts
type mockCompletion struct {
	completeFunc func(ctx context.Context, modelID, prompt string) (string, error)
	calls        atomic.Int32
	mu           sync.Mutex
	prompts      []string
}

func (m *mockCompletion) Complete(ctx context.Context, modelID, prompt string) (string, error) {
	m.calls.Add(1)
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()
	return m.completeFunc(ctx, modelID, prompt)
}

func (m *mockCompletion) lastPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.prompts) == 0 {
		return ""
	}
	return m.prompts[len(m.prompts)-1]
}

func answer(text string) *mockCompletion {
	return &mockCompletion{
		completeFunc: func(ctx context.Context, modelID, prompt string) (string, error) {
			return text, nil
		},
	}
}

func eventually(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within", timeout)
}
