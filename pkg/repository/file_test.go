package repository_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jrodrigosm/llm-user-memory/pkg/model"
	"github.com/jrodrigosm/llm-user-memory/pkg/repository"
	"github.com/m-mizutani/gt"
)

func newFile(t *testing.T, opts ...repository.FileOption) (*repository.File, string) {
	t.Helper()
	dir := t.TempDir()
	f, err := repository.NewFile(dir, opts...)
	gt.NoError(t, err)
	return f, dir
}

func TestFileLoadMissing(t *testing.T) {
	f, _ := newFile(t)

	p, err := f.Load(context.Background())
	gt.NoError(t, err)
	gt.Equal(t, p.Content, "")
	gt.True(t, p.Checkpoint.IsNone())
}

func TestFileCommitIfCheckpoint(t *testing.T) {
	ctx := context.Background()
	f, _ := newFile(t)

	ok, err := f.CommitIfCheckpoint(ctx, model.NoCheckpoint, "Likes Go.", "1")
	gt.NoError(t, err)
	gt.True(t, ok)

	p, err := f.Load(ctx)
	gt.NoError(t, err)
	gt.Equal(t, p.Content, "Likes Go.")
	gt.Equal(t, p.Checkpoint, model.EntryID("1"))
	gt.False(t, p.UpdatedAt.IsZero())

	t.Run("stale expected checkpoint is a conflict", func(t *testing.T) {
		ok, err := f.CommitIfCheckpoint(ctx, model.NoCheckpoint, "overwritten", "2")
		gt.NoError(t, err)
		gt.False(t, ok)

		p, err := f.Load(ctx)
		gt.NoError(t, err)
		gt.Equal(t, p.Content, "Likes Go.")
	})

	t.Run("backward checkpoint is rejected", func(t *testing.T) {
		_, err := f.CommitIfCheckpoint(ctx, "1", "x", model.NoCheckpoint)
		gt.True(t, errors.Is(err, model.ErrCheckpointRegression))
	})

	t.Run("same checkpoint is allowed", func(t *testing.T) {
		ok, err := f.CommitIfCheckpoint(ctx, "1", "Likes Go and Rust.", "1")
		gt.NoError(t, err)
		gt.True(t, ok)
	})
}

func TestFileContentRoundTripsVerbatim(t *testing.T) {
	ctx := context.Background()
	f, _ := newFile(t)

	content := "# User Profile\n\n---\n- Role: Python Developer\n\n---\ntrailing"
	ok, err := f.CommitIfCheckpoint(ctx, model.NoCheckpoint, content, "01HZX4Q8V2K3M5N6P7R8S9T0VW")
	gt.NoError(t, err)
	gt.True(t, ok)

	p, err := f.Load(ctx)
	gt.NoError(t, err)
	gt.Equal(t, p.Content, content)
	gt.Equal(t, p.Checkpoint, model.EntryID("01HZX4Q8V2K3M5N6P7R8S9T0VW"))
}

func TestFileLegacyProfile(t *testing.T) {
	ctx := context.Background()
	f, _ := newFile(t)

	// profile.md written by hand, without front matter
	gt.NoError(t, os.WriteFile(f.Path(), []byte("- Likes concise documentation\n"), 0o644))

	p, err := f.Load(ctx)
	gt.NoError(t, err)
	gt.Equal(t, p.Content, "- Likes concise documentation\n")
	gt.True(t, p.Checkpoint.IsNone())

	ok, err := f.CommitIfCheckpoint(ctx, model.NoCheckpoint, "merged", "3")
	gt.NoError(t, err)
	gt.True(t, ok)
}

func TestFileLegacyProfileWithOwnFrontMatter(t *testing.T) {
	testCases := []struct {
		name string
		data string
	}{
		{name: "markdown between rules", data: "---\n# User Profile\n- Role: Python Developer\n---\nLikes Go.\n"},
		{name: "foreign yaml keys", data: "---\ntitle: About me\n---\nLikes Go.\n"},
		{name: "checkpoint with foreign keys", data: "---\ncheckpoint: \"3\"\nauthor: me\n---\nLikes Go.\n"},
		{name: "unterminated rule", data: "---\ncheckpoint: [unterminated\n"},
		{name: "empty block", data: "---\n---\nLikes Go.\n"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			f, _ := newFile(t)
			gt.NoError(t, os.WriteFile(f.Path(), []byte(tc.data), 0o644))

			p, err := f.Load(ctx)
			gt.NoError(t, err)
			gt.Equal(t, p.Content, tc.data)
			gt.True(t, p.Checkpoint.IsNone())

			gt.Equal(t, repository.NewStore(f).Read(ctx).Content, tc.data)

			ok, err := f.CommitIfCheckpoint(ctx, model.NoCheckpoint, "Likes Go and Python.", "1")
			gt.NoError(t, err)
			gt.True(t, ok)

			p, err = f.Load(ctx)
			gt.NoError(t, err)
			gt.Equal(t, p.Content, "Likes Go and Python.")
			gt.Equal(t, p.Checkpoint, model.EntryID("1"))
		})
	}
}

func TestFileContentStartingWithRule(t *testing.T) {
	ctx := context.Background()
	f, _ := newFile(t)

	content := "---\ntitle: profile\n---\nLikes Go.\n"
	ok, err := f.CommitIfCheckpoint(ctx, model.NoCheckpoint, content, "2")
	gt.NoError(t, err)
	gt.True(t, ok)

	p, err := f.Load(ctx)
	gt.NoError(t, err)
	gt.Equal(t, p.Content, content)
	gt.Equal(t, p.Checkpoint, model.EntryID("2"))
}

func TestFileUnreadableProfile(t *testing.T) {
	ctx := context.Background()
	f, _ := newFile(t)

	// a directory where the profile should be
	gt.NoError(t, os.Mkdir(f.Path(), 0o755))

	_, err := f.Load(ctx)
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrTransientIO))

	_, err = f.CommitIfCheckpoint(ctx, model.NoCheckpoint, "x", "1")
	gt.Error(t, err)
}

func TestFileClear(t *testing.T) {
	ctx := context.Background()

	t.Run("reset checkpoint", func(t *testing.T) {
		f, _ := newFile(t)
		_, err := f.CommitIfCheckpoint(ctx, model.NoCheckpoint, "Likes Go.", "7")
		gt.NoError(t, err)

		gt.NoError(t, f.Clear(ctx, false))

		p, err := f.Load(ctx)
		gt.NoError(t, err)
		gt.Equal(t, p.Content, "")
		gt.True(t, p.Checkpoint.IsNone())

		// an update computed before the clear can no longer land
		ok, err := f.CommitIfCheckpoint(ctx, "7", "stale", "8")
		gt.NoError(t, err)
		gt.False(t, ok)
	})

	t.Run("keep checkpoint", func(t *testing.T) {
		f, _ := newFile(t)
		_, err := f.CommitIfCheckpoint(ctx, model.NoCheckpoint, "Likes Go.", "7")
		gt.NoError(t, err)

		gt.NoError(t, f.Clear(ctx, true))

		p, err := f.Load(ctx)
		gt.NoError(t, err)
		gt.Equal(t, p.Content, "")
		gt.Equal(t, p.Checkpoint, model.EntryID("7"))
	})
}

func TestFileConcurrentCommitsSameCheckpoint(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	// two repositories on one directory behave like two processes
	a, err := repository.NewFile(dir, repository.WithLockTimeout(2*time.Second))
	gt.NoError(t, err)
	b, err := repository.NewFile(dir, repository.WithLockTimeout(2*time.Second))
	gt.NoError(t, err)

	const writers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
	)
	for i := 0; i < writers; i++ {
		repo := a
		if i%2 == 1 {
			repo = b
		}
		content := strings.Repeat(string(rune('a'+i)), 4096)

		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.CommitIfCheckpoint(ctx, model.NoCheckpoint, content, "1")
			if err != nil {
				t.Errorf("commit failed: %v", err)
				return
			}
			if ok {
				mu.Lock()
				winners = append(winners, content)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	gt.A(t, winners).Length(1)

	p, err := a.Load(ctx)
	gt.NoError(t, err)
	gt.Equal(t, p.Content, winners[0])
	gt.Equal(t, p.Checkpoint, model.EntryID("1"))
}

func TestFileReadersNeverSeePartialWrites(t *testing.T) {
	ctx := context.Background()
	f, _ := newFile(t)

	contents := map[string]bool{"": true}
	const commits = 30
	done := make(chan struct{})

	var expected []string
	for i := 1; i <= commits; i++ {
		c := strings.Repeat(string(rune('A'+i%26)), 8192+i)
		expected = append(expected, c)
		contents[c] = true
	}

	go func() {
		defer close(done)
		prev := model.NoCheckpoint
		for i, c := range expected {
			next := model.EntryID(strconv.Itoa(i + 1))
			ok, err := f.CommitIfCheckpoint(ctx, prev, c, next)
			if err != nil || !ok {
				t.Errorf("commit %d failed: ok=%v err=%v", i, ok, err)
				return
			}
			prev = next
		}
	}()

	for {
		select {
		case <-done:
			return
		default:
		}
		p, err := f.Load(ctx)
		gt.NoError(t, err)
		if !contents[p.Content] {
			t.Fatalf("observed content that was never committed (len=%d)", len(p.Content))
		}
	}
}

func TestFileCheckpointMonotonic(t *testing.T) {
	ctx := context.Background()
	f, _ := newFile(t)

	attempts := []model.EntryID{"1", "3", "2", "10", "9", "10", "11"}
	last := model.NoCheckpoint
	for _, next := range attempts {
		current, err := f.Load(ctx)
		gt.NoError(t, err)

		_, _ = f.CommitIfCheckpoint(ctx, current.Checkpoint, "c"+string(next), next)

		after, err := f.Load(ctx)
		gt.NoError(t, err)
		gt.True(t, after.Checkpoint.Compare(last) >= 0)
		last = after.Checkpoint
	}
	gt.Equal(t, last, model.EntryID("11"))
}

func TestFileLockTimeout(t *testing.T) {
	ctx := context.Background()
	f, dir := newFile(t, repository.WithLockTimeout(50*time.Millisecond))

	// a live lock held by another process
	lockPath := filepath.Join(dir, repository.ProfileFileName+".lock")
	gt.NoError(t, os.WriteFile(lockPath, []byte("someone-else"), 0o600))

	start := time.Now()
	_, err := f.CommitIfCheckpoint(ctx, model.NoCheckpoint, "x", "1")
	gt.True(t, errors.Is(err, model.ErrTransientIO))
	gt.True(t, time.Since(start) < time.Second)

	// the foreign lock is left alone
	_, statErr := os.Stat(lockPath)
	gt.NoError(t, statErr)
}

func TestFileBreaksStaleLock(t *testing.T) {
	ctx := context.Background()
	f, dir := newFile(t, repository.WithStaleLockAge(time.Second))

	lockPath := filepath.Join(dir, repository.ProfileFileName+".lock")
	gt.NoError(t, os.WriteFile(lockPath, []byte("dead-process"), 0o600))
	old := time.Now().Add(-time.Minute)
	gt.NoError(t, os.Chtimes(lockPath, old, old))

	ok, err := f.CommitIfCheckpoint(ctx, model.NoCheckpoint, "x", "1")
	gt.NoError(t, err)
	gt.True(t, ok)

	_, statErr := os.Stat(lockPath)
	gt.True(t, errors.Is(statErr, os.ErrNotExist))
}

func TestBreakLockKeepsReplacedLock(t *testing.T) {
	dir := t.TempDir()
	lockPath := filepath.Join(dir, repository.ProfileFileName+".lock")

	// the stale owner was already broken by another waiter, who now holds
	// a fresh lock at the same path
	gt.NoError(t, os.WriteFile(lockPath, []byte("fresh-owner"), 0o600))

	gt.False(t, repository.BreakLock(lockPath, "dead-owner"))

	data, err := os.ReadFile(lockPath)
	gt.NoError(t, err)
	gt.Equal(t, string(data), "fresh-owner")

	entries, err := os.ReadDir(dir)
	gt.NoError(t, err)
	gt.A(t, entries).Length(1)

	gt.True(t, repository.BreakLock(lockPath, "fresh-owner"))
	_, statErr := os.Stat(lockPath)
	gt.True(t, errors.Is(statErr, os.ErrNotExist))
}

func TestFileStaleLockContention(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	lockPath := filepath.Join(dir, repository.ProfileFileName+".lock")
	gt.NoError(t, os.WriteFile(lockPath, []byte("dead-process"), 0o600))
	old := time.Now().Add(-time.Minute)
	gt.NoError(t, os.Chtimes(lockPath, old, old))

	// separate File values stand in for separate processes
	const writers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		commits int
	)
	for i := 0; i < writers; i++ {
		f, err := repository.NewFile(dir,
			repository.WithStaleLockAge(time.Second),
			repository.WithLockTimeout(5*time.Second))
		gt.NoError(t, err)

		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := 0; n < 5; n++ {
				p, err := f.Load(ctx)
				if err != nil {
					continue
				}
				next := model.EntryID(strconv.Itoa(atoiOrZero(string(p.Checkpoint)) + 1))
				ok, err := f.CommitIfCheckpoint(ctx, p.Checkpoint, "c"+string(next), next)
				if err == nil && ok {
					mu.Lock()
					commits++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	f, err := repository.NewFile(dir)
	gt.NoError(t, err)
	p, err := f.Load(ctx)
	gt.NoError(t, err)
	gt.Equal(t, p.Checkpoint, model.EntryID(strconv.Itoa(commits)))

	entries, err := os.ReadDir(dir)
	gt.NoError(t, err)
	for _, e := range entries {
		gt.False(t, strings.HasSuffix(e.Name(), ".stale"))
	}
}

func atoiOrZero(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
