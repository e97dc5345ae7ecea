package watch

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

	seqerr "github.com/logflow/seqmine/pkg/errors"
)

func writeInput(t *testing.T, path, data string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
}

func start(t *testing.T, w *Watcher) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	return func() {
		cancel()
		assert.ErrorIs(t, <-done, context.Canceled)
		require.NoError(t, w.Close())
	}
}

func TestWatcher_RerunsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "samples.csv")
	other := filepath.Join(dir, "notes.txt")
	writeInput(t, path, "timestamp,value\n0,1\n")
	writeInput(t, other, "x")

	w, err := New(20*time.Millisecond, nil)
	require.NoError(t, err)
	require.NoError(t, w.Add(path))

	var (
		mu    sync.Mutex
		calls []string
	)
	changed := make(chan struct{}, 4)
	w.OnChange = func(_ context.Context, p string) error {
		mu.Lock()
		calls = append(calls, p)
		mu.Unlock()
		select {
		case changed <- struct{}{}:
		default:
		}
		return nil
	}
	stop := start(t, w)
	defer stop()

	writeInput(t, other, "unwatched edit")
	writeInput(t, path, "timestamp,value\n0,1\n1,2\n")

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
	}

	mu.Lock()
	abs, _ := filepath.Abs(path)
	assert.Equal(t, []string{abs}, calls)
	mu.Unlock()

	assert.Eventually(t, func() bool {
		st, _ := w.Status(path)
		return st.Runs == 1 && !st.Running
	}, 5*time.Second, 10*time.Millisecond)
	st, ok := w.Status(path)
	require.True(t, ok)
	assert.NoError(t, st.LastErr)
	assert.Equal(t, int64(len("timestamp,value\n0,1\n1,2\n")), st.Size)
}

func TestWatcher_ReportsErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "samples.csv")
	writeInput(t, path, "a")

	w, err := New(10*time.Millisecond, nil)
	require.NoError(t, err)
	require.NoError(t, w.Add(path))

	boom := errors.New("mining failed")
	errs := make(chan error, 4)
	w.OnChange = func(context.Context, string) error { return boom }
	w.OnError = func(_ string, err error) {
		select {
		case errs <- err:
		default:
		}
	}
	stop := start(t, w)
	defer stop()

	writeInput(t, path, "abc")
	select {
	case err := <-errs:
		assert.ErrorIs(t, err, boom)
	case <-time.After(5 * time.Second):
		t.Fatal("no error reported")
	}
}

func TestWatcher_AddMissing(t *testing.T) {
	w, err := New(0, nil)
	require.NoError(t, err)
	defer w.Close()

	err = w.Add(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Equal(t, seqerr.CodeFileNotFound, seqerr.GetCode(err))
	assert.Empty(t, w.Paths())

	_, ok := w.Status("missing.csv")
	assert.False(t, ok)
}
