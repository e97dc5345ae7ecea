// Package checkpoint records pattern-forest snapshots between mining stages so
// an interrupted run can be inspected or resumed.
package checkpoint

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	seqerr "github.com/logflow/seqmine/pkg/errors"
	"github.com/logflow/seqmine/pkg/graphio"
	"github.com/logflow/seqmine/pkg/temporal"
)

// Phases a snapshot can record.
const (
	PhaseSegmented = "segmented"
	PhaseGrowing   = "growing"
	PhasePruned    = "pruned"
	PhaseComplete  = "complete"
)

// Snapshot is one stored forest.
type Snapshot struct {
	ID         string    `json:"id"`
	RunID      string    `json:"run_id"`
	Series     string    `json:"series"`
	Generation int       `json:"generation"`
	Phase      string    `json:"phase"`
	Nodes      int       `json:"nodes"`
	CreatedAt  time.Time `json:"created_at"`

	// Forest is the compressed forest manifest.
	Forest []byte `json:"forest"`
}

// Dataset decodes the stored forest.
func (s *Snapshot) Dataset() (*temporal.Dataset, error) {
	return graphio.UnmarshalForest(s.Forest)
}

// SnapshotID builds the ID of a snapshot. IDs of one run share the run ID
// as prefix and sort by series then generation.
func SnapshotID(runID, series string, generation int) string {
	return fmt.Sprintf("%s.%s.g%04d", runID, sanitizeKey(series), generation)
}

// sanitizeKey removes characters that may cause issues in file names and keys.
func sanitizeKey(s string) string {
	if s == "" {
		return "_"
	}
	r := strings.NewReplacer("/", "_", ":", "_", " ", "_", "\\", "_", ".", "_")
	return r.Replace(s)
}

// Recorder writes the snapshots of one run.
type Recorder struct {
	backend Backend
	runID   string
	now     func() time.Time
}

// NewRecorder returns a recorder for runID. An empty runID gets a fresh UUID.
func NewRecorder(b Backend, runID string) *Recorder {
	if runID == "" {
		runID = uuid.NewString()
	}
	return &Recorder{backend: b, runID: runID, now: time.Now}
}

// RunID returns the run the recorder writes.
func (r *Recorder) RunID() string { return r.runID }

// Backend returns the backend snapshots go to.
func (r *Recorder) Backend() Backend { return r.backend }

// Record stores forest as the given generation of series.
func (r *Recorder) Record(ctx context.Context, series string, generation int, phase string, forest *temporal.Dataset) (*Snapshot, error) {
	data, err := graphio.MarshalForest(forest)
	if err != nil {
		return nil, err
	}
	s := &Snapshot{
		ID:         SnapshotID(r.runID, series, generation),
		RunID:      r.runID,
		Series:     series,
		Generation: generation,
		Phase:      phase,
		Nodes:      forest.ForestSize(),
		CreatedAt:  r.now().UTC(),
		Forest:     data,
	}
	if err := r.backend.Save(ctx, s); err != nil {
		return nil, seqerr.Wrap(err, seqerr.CodeBackend, "saving snapshot").
			WithContext("backend", r.backend.Name()).
			WithContext("id", s.ID)
	}
	return s, nil
}

// Restore loads snapshot id and decodes its forest.
func Restore(ctx context.Context, b Backend, id string) (*temporal.Dataset, *Snapshot, error) {
	s, err := b.Load(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	ds, err := s.Dataset()
	if err != nil {
		return nil, nil, err
	}
	return ds, s, nil
}

// Latest returns the highest-generation snapshot of series in run, or
// ErrNotFound.
func Latest(ctx context.Context, b Backend, runID, series string) (*Snapshot, error) {
	all, err := b.List(ctx, runID+".")
	if err != nil {
		return nil, err
	}
	var best *Snapshot
	for _, s := range all {
		if s.RunID != runID || s.Series != series {
			continue
		}
		if best == nil || s.Generation > best.Generation {
			best = s
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return best, nil
}

// Cleanup removes snapshots older than maxAge.
func Cleanup(ctx context.Context, b Backend, maxAge time.Duration) (int, error) {
	all, err := b.List(ctx, "")
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, s := range all {
		if s.CreatedAt.Before(cutoff) {
			if err := b.Delete(ctx, s.ID); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

func sortSnapshots(s []*Snapshot) {
	slices.SortFunc(s, func(a, b *Snapshot) int { return cmp.Compare(a.ID, b.ID) })
}

// LocalBackend stores one JSON file per snapshot in a directory.
type LocalBackend struct {
	dir string
	mu  sync.Mutex
}

// NewLocalBackend creates dir if needed.
func NewLocalBackend(dir string) (*LocalBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, seqerr.Wrap(err, seqerr.CodeWriteFailed, "creating checkpoint directory").WithContext("dir", dir)
	}
	return &LocalBackend{dir: dir}, nil
}

func (b *LocalBackend) path(id string) string {
	return filepath.Join(b.dir, id+".checkpoint")
}

// Save writes to a temp file first, then renames it into place.
func (b *LocalBackend) Save(ctx context.Context, s *Snapshot) error {
	data, err := json.Marshal(s)
	if err != nil {
		return seqerr.Wrap(err, seqerr.CodeWriteFailed, "encoding snapshot")
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	path := b.path(s.ID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return seqerr.Wrap(err, seqerr.CodeWriteFailed, "writing snapshot").WithContext("path", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return seqerr.Wrap(err, seqerr.CodeWriteFailed, "renaming snapshot").WithContext("path", path)
	}
	return nil
}

// Load reads a snapshot from disk.
func (b *LocalBackend) Load(ctx context.Context, id string) (*Snapshot, error) {
	data, err := os.ReadFile(b.path(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, seqerr.Wrap(err, seqerr.CodeReadFailed, "reading snapshot").WithContext("id", id)
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, seqerr.Wrap(err, seqerr.CodeReadFailed, "decoding snapshot").WithContext("id", id)
	}
	return &s, nil
}

// Delete removes a snapshot file. Deleting a missing snapshot is not an error.
func (b *LocalBackend) Delete(ctx context.Context, id string) error {
	if err := os.Remove(b.path(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return seqerr.Wrap(err, seqerr.CodeWriteFailed, "deleting snapshot").WithContext("id", id)
	}
	return nil
}

// List returns the snapshots whose ID starts with prefix, in ID order.
func (b *LocalBackend) List(ctx context.Context, prefix string) ([]*Snapshot, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, seqerr.Wrap(err, seqerr.CodeReadFailed, "listing checkpoints").WithContext("dir", b.dir)
	}
	var out []*Snapshot
	for _, e := range entries {
		name := e.Name()
		if filepath.Ext(name) != ".checkpoint" || !strings.HasPrefix(name, prefix) {
			continue
		}
		s, err := b.Load(ctx, strings.TrimSuffix(name, ".checkpoint"))
		if err != nil {
			continue // skip unreadable snapshots
		}
		out = append(out, s)
	}
	sortSnapshots(out)
	return out, nil
}

// Name returns "local".
func (b *LocalBackend) Name() string {
	return "local"
}
