package update_test

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrodrigosm/llm-user-memory/pkg/usecase/update"
	"github.com/m-mizutani/gt"
)

func TestWatcherTriggersOnLogWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logs.db")
	gt.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	var triggered atomic.Int32
	w := update.NewWatcher(path, func() { triggered.Add(1) }, update.WithDebounce(20*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		gt.NoError(t, <-done)
	}()

	// unrelated files never trigger
	time.Sleep(50 * time.Millisecond)
	gt.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))
	time.Sleep(100 * time.Millisecond)
	gt.Equal(t, triggered.Load(), int32(0))

	// a burst of writes to the database and its WAL is one trigger
	for i := 0; i < 5; i++ {
		gt.NoError(t, os.WriteFile(path, []byte{byte(i)}, 0644))
		gt.NoError(t, os.WriteFile(path+"-wal", []byte{byte(i)}, 0644))
	}
	eventually(t, 2*time.Second, func() bool { return triggered.Load() >= 1 })
	time.Sleep(100 * time.Millisecond)
	gt.Equal(t, triggered.Load(), int32(1))
}

func TestWatcherMissingDirectory(t *testing.T) {
	w := update.NewWatcher(filepath.Join(t.TempDir(), "missing", "logs.db"), func() {})
	gt.Error(t, w.Run(context.Background()))
}
