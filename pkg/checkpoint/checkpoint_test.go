package checkpoint

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logflow/seqmine/pkg/calendar"
	"github.com/logflow/seqmine/pkg/temporal"
)

var ms = calendar.Granularity{CalendarID: calendar.GregorianID, GranularityID: calendar.Millisecond, ContextGranularityID: calendar.Top}

func forest(t *testing.T) *temporal.Dataset {
	t.Helper()
	ds := temporal.NewDataset("run")
	add := func(label string) int {
		el := ds.Store().AddInstant(int64(ds.Cap())*10, ms)
		id, err := ds.Add(el.ID, temporal.Tuple{Label: label})
		require.NoError(t, err)
		return id
	}
	r := add("high")
	require.NoError(t, ds.AddRoot(r))
	require.NoError(t, ds.Attach(r, add("low"), 0))
	return ds
}

func TestRecorder_RecordAndRestore(t *testing.T) {
	ctx := context.Background()
	b, err := NewLocalBackend(t.TempDir())
	require.NoError(t, err)

	rec := NewRecorder(b, "run1")
	assert.Equal(t, "run1", rec.RunID())

	snap, err := rec.Record(ctx, "cpu/host:1", 2, PhaseGrowing, forest(t))
	require.NoError(t, err)
	assert.Equal(t, "run1.cpu_host_1.g0002", snap.ID)
	assert.Equal(t, 2, snap.Nodes)

	ds, got, err := Restore(ctx, b, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, "cpu/host:1", got.Series)
	assert.Equal(t, PhaseGrowing, got.Phase)
	assert.Equal(t, 2, ds.ForestSize())
	assert.Len(t, ds.Roots(), 1)
}

func TestNewRecorder_GeneratesRunID(t *testing.T) {
	b, err := NewLocalBackend(t.TempDir())
	require.NoError(t, err)
	a, c := NewRecorder(b, ""), NewRecorder(b, "")
	assert.NotEmpty(t, a.RunID())
	assert.NotEqual(t, a.RunID(), c.RunID())
}

func TestLatest(t *testing.T) {
	ctx := context.Background()
	b, err := NewLocalBackend(t.TempDir())
	require.NoError(t, err)
	rec := NewRecorder(b, "r")
	ds := forest(t)
	for gen := 0; gen < 3; gen++ {
		_, err := rec.Record(ctx, "a", gen, PhaseGrowing, ds)
		require.NoError(t, err)
	}
	_, err = rec.Record(ctx, "b", 7, PhaseGrowing, ds)
	require.NoError(t, err)

	s, err := Latest(ctx, b, "r", "a")
	require.NoError(t, err)
	assert.Equal(t, 2, s.Generation)

	_, err = Latest(ctx, b, "r", "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestLocalBackend_LoadMissing(t *testing.T) {
	b, err := NewLocalBackend(t.TempDir())
	require.NoError(t, err)
	_, err = b.Load(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, b.Delete(context.Background(), "nope"))
}

func TestLocalBackend_ListSkipsForeignFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	b, err := NewLocalBackend(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.checkpoint"), []byte("{"), 0o644))

	_, err = NewRecorder(b, "r").Record(ctx, "s", 0, PhaseSegmented, forest(t))
	require.NoError(t, err)

	all, err := b.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "r.s.g0000", all[0].ID)
}

func TestCleanup(t *testing.T) {
	ctx := context.Background()
	b, err := NewLocalBackend(t.TempDir())
	require.NoError(t, err)
	rec := NewRecorder(b, "r")
	rec.now = func() time.Time { return time.Now().Add(-48 * time.Hour) }
	_, err = rec.Record(ctx, "old", 0, PhaseComplete, forest(t))
	require.NoError(t, err)
	rec.now = time.Now
	_, err = rec.Record(ctx, "new", 0, PhaseComplete, forest(t))
	require.NoError(t, err)

	n, err := Cleanup(ctx, b, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	left, err := b.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "new", left[0].Series)
}

func TestMultiBackend(t *testing.T) {
	ctx := context.Background()
	p, err := NewLocalBackend(t.TempDir())
	require.NoError(t, err)
	s, err := NewLocalBackend(t.TempDir())
	require.NoError(t, err)
	m := NewMultiBackend(p, s)
	assert.Equal(t, "local+local", m.Name())

	snap, err := NewRecorder(m, "r").Record(ctx, "x", 1, PhasePruned, forest(t))
	require.NoError(t, err)

	require.NoError(t, p.Delete(ctx, snap.ID))
	got, err := m.Load(ctx, snap.ID)
	require.NoError(t, err, "falls back to secondary")
	assert.Equal(t, snap.ID, got.ID)

	require.NoError(t, m.Delete(ctx, snap.ID))
	_, err = s.Load(ctx, snap.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

// flaky fails every call while down is set.
type flaky struct {
	*LocalBackend
	down  bool
	calls int
}

func (f *flaky) Save(ctx context.Context, s *Snapshot) error {
	f.calls++
	if f.down {
		return errors.New("connection refused")
	}
	return f.LocalBackend.Save(ctx, s)
}

func TestBreakerBackend(t *testing.T) {
	ctx := context.Background()
	local, err := NewLocalBackend(t.TempDir())
	require.NoError(t, err)
	f := &flaky{LocalBackend: local, down: true}

	now := time.Unix(1000, 0)
	b := NewBreakerBackend(f, 2, time.Minute)
	b.now = func() time.Time { return now }
	rec := NewRecorder(b, "r")

	for i := 0; i < 2; i++ {
		_, err := rec.Record(ctx, "x", i, PhaseGrowing, forest(t))
		require.Error(t, err)
	}
	assert.Equal(t, CircuitOpen, b.State())

	_, err = rec.Record(ctx, "x", 2, PhaseGrowing, forest(t))
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 2, f.calls, "open circuit does not call the backend")

	_, err = b.Load(ctx, "r.x.g0000")
	assert.ErrorIs(t, err, ErrCircuitOpen)

	now = now.Add(2 * time.Minute)
	f.down = false
	_, err = rec.Record(ctx, "x", 3, PhaseGrowing, forest(t))
	require.NoError(t, err, "probe after cooldown")
	assert.Equal(t, CircuitClosed, b.State())

	_, err = b.Load(ctx, "r.x.g0099")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, CircuitClosed, b.State(), "missing snapshots do not trip")
	assert.Equal(t, "local", b.Name())
}
