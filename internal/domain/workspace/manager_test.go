package workspace

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subtitle-server-go/internal/platform/config"
	apperrors "subtitle-server-go/internal/platform/errors"
	"subtitle-server-go/internal/platform/logging"
)

func newManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	m, err := NewManager(config.WorkspaceConfig{
		Root:   t.TempDir(),
		MaxAge: time.Hour,
	}, logging.Discard(), opts...)
	require.NoError(t, err)
	return m
}

func TestAcquireReleaseLifecycle(t *testing.T) {
	m := newManager(t)

	h, err := m.Acquire(context.Background())
	require.NoError(t, err)
	assert.DirExists(t, h.Dir)
	assert.Equal(t, 1, m.Active())
	assert.Equal(t, filepath.Join(h.Dir, "input.wav"), h.Path("../../input.wav"))

	require.NoError(t, os.WriteFile(h.Path("input.wav"), []byte("x"), 0o600))

	m.Release(h)
	assert.NoDirExists(t, h.Dir)
	assert.Equal(t, 0, m.Active())

	// 重复释放无副作用
	assert.NotPanics(t, func() { m.Release(h) })
}

func TestAcquireIsUniqueUnderConcurrency(t *testing.T) {
	m := newManager(t)

	const n = 32
	var wg sync.WaitGroup
	dirs := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := m.Acquire(context.Background())
			if assert.NoError(t, err) {
				dirs <- h.Dir
			}
		}()
	}
	wg.Wait()
	close(dirs)

	seen := map[string]bool{}
	for d := range dirs {
		assert.False(t, seen[d], "duplicate workspace %s", d)
		seen[d] = true
	}
	assert.Len(t, seen, n)
}

func TestAcquireResourceErrors(t *testing.T) {
	t.Run("insufficient disk", func(t *testing.T) {
		m, err := NewManager(config.WorkspaceConfig{Root: t.TempDir(), MinFreeBytes: 1 << 30}, logging.Discard(),
			WithDiskFree(func(string) (uint64, error) { return 1 << 20, nil }))
		require.NoError(t, err)

		_, err = m.Acquire(context.Background())
		require.Error(t, err)
		assert.True(t, apperrors.IsKind(err, apperrors.KindResource))
		assert.Contains(t, err.Error(), "insufficient disk space")
	})

	t.Run("root removed", func(t *testing.T) {
		m := newManager(t)
		require.NoError(t, os.RemoveAll(m.Root()))

		_, err := m.Acquire(context.Background())
		require.Error(t, err)
		assert.True(t, apperrors.IsKind(err, apperrors.KindResource))
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := newManager(t).Acquire(ctx)
		assert.True(t, apperrors.IsKind(err, apperrors.KindResource))
	})
}

func TestReleaseFailureIsOnlyLogged(t *testing.T) {
	m := newManager(t, WithRemove(func(string) error { return errors.New("device busy") }))

	h, err := m.Acquire(context.Background())
	require.NoError(t, err)

	assert.NotPanics(t, func() { m.Release(h) })
	assert.Equal(t, 0, m.Active())
	assert.DirExists(t, h.Dir)
}

func TestSweepRemovesOnlyStaleUnheldWorkspaces(t *testing.T) {
	m := newManager(t)

	held, err := m.Acquire(context.Background())
	require.NoError(t, err)

	orphan := filepath.Join(m.Root(), dirPrefix+"orphan")
	require.NoError(t, os.Mkdir(orphan, 0o700))
	other := filepath.Join(m.Root(), "not-a-workspace")
	require.NoError(t, os.Mkdir(other, 0o700))

	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(orphan, old, old))
	require.NoError(t, os.Chtimes(held.Dir, old, old))
	require.NoError(t, os.Chtimes(other, old, old))

	removed := m.Sweep(time.Now())

	assert.Equal(t, 1, removed)
	assert.NoDirExists(t, orphan)
	assert.DirExists(t, held.Dir)
	assert.DirExists(t, other)
}

func TestRunSweeperStopsOnCancel(t *testing.T) {
	m := newManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.RunSweeper(ctx, 10*time.Millisecond) }()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
