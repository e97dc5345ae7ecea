// Package watch re-runs mining when input files change.
package watch

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	seqerr "github.com/logflow/seqmine/pkg/errors"
)

// DefaultDebounce is the quiet period after the last write before a change
// is reported.
const DefaultDebounce = 500 * time.Millisecond

// ChangeFunc handles a changed input.
type ChangeFunc func(ctx context.Context, path string) error

// Status describes the handling of one watched input.
type Status struct {
	Path     string
	Runs     int
	LastRun  time.Time
	ModTime  time.Time
	Size     int64
	LastErr  error
	Running  bool
	Deferred bool
}

type input struct {
	path    string
	modTime time.Time
	size    int64
	runs    int
	lastRun time.Time
	lastErr error

	running bool
	// dirty is set when a change lands while the input is being mined; the
	// change is handled once the current run returns
	dirty bool
}

// Watcher monitors input files and calls OnChange once per settled change.
// Runs for the same input never overlap.
type Watcher struct {
	fs       *fsnotify.Watcher
	mu       sync.Mutex
	inputs   map[string]*input
	dirs     map[string]bool
	debounce time.Duration
	logger   *log.Logger
	wg       sync.WaitGroup

	OnChange ChangeFunc
	OnError  func(path string, err error)
}

// New creates a watcher. A zero debounce uses DefaultDebounce and a nil
// logger discards output.
func New(debounce time.Duration, logger *log.Logger) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, seqerr.Wrap(err, seqerr.CodeBackend, "creating file watcher")
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Watcher{
		fs:       fs,
		inputs:   make(map[string]*input),
		dirs:     make(map[string]bool),
		debounce: debounce,
		logger:   logger,
	}, nil
}

// Add starts watching path. The containing directory is watched so editors
// that replace files through a rename are still seen.
func (w *Watcher) Add(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return seqerr.Wrap(err, seqerr.CodeFileNotFound, "resolving input path").WithContext("path", path)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return seqerr.Wrap(err, seqerr.CodeFileNotFound, "input not found").WithContext("path", abs)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.inputs[abs] = &input{path: abs, modTime: info.ModTime(), size: info.Size()}
	dir := filepath.Dir(abs)
	if w.dirs[dir] {
		return nil
	}
	if err := w.fs.Add(dir); err != nil {
		return seqerr.Wrap(err, seqerr.CodeBackend, "watching directory").WithContext("dir", dir)
	}
	w.dirs[dir] = true
	return nil
}

// Paths returns the watched inputs.
func (w *Watcher) Paths() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.inputs))
	for p := range w.inputs {
		out = append(out, p)
	}
	return out
}

// Status reports the state of a watched input.
func (w *Watcher) Status(path string) (Status, bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Status{}, false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	in, ok := w.inputs[abs]
	if !ok {
		return Status{}, false
	}
	return Status{
		Path:     in.path,
		Runs:     in.runs,
		LastRun:  in.lastRun,
		ModTime:  in.modTime,
		Size:     in.size,
		LastErr:  in.lastErr,
		Running:  in.running,
		Deferred: in.dirty,
	}, true
}

// Run dispatches changes until ctx is done, then waits for in-flight runs.
func (w *Watcher) Run(ctx context.Context) error {
	timers := make(map[string]*time.Timer)
	defer func() {
		for _, t := range timers {
			if t.Stop() {
				w.wg.Done()
			}
		}
		w.wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			abs, err := filepath.Abs(ev.Name)
			if err != nil {
				continue
			}
			w.mu.Lock()
			_, watched := w.inputs[abs]
			w.mu.Unlock()
			if !watched {
				continue
			}

			if t, ok := timers[abs]; ok && t.Stop() {
				w.wg.Done()
			}
			w.wg.Add(1)
			timers[abs] = time.AfterFunc(w.debounce, func() {
				defer w.wg.Done()
				w.handle(ctx, abs)
			})

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.report("", err)
		}
	}
}

// handle mines one changed input. A change that arrives mid-run is queued
// behind it instead of running concurrently.
func (w *Watcher) handle(ctx context.Context, path string) {
	w.mu.Lock()
	in := w.inputs[path]
	if in.running {
		in.dirty = true
		w.mu.Unlock()
		return
	}
	in.running = true
	w.mu.Unlock()

	for ctx.Err() == nil {
		info, err := os.Stat(path)
		if err != nil {
			w.report(path, seqerr.Wrap(err, seqerr.CodeFileNotFound, "input disappeared").WithContext("path", path))
			break
		}

		w.mu.Lock()
		changed := !info.ModTime().Equal(in.modTime) || info.Size() != in.size
		in.modTime, in.size = info.ModTime(), info.Size()
		in.dirty = false
		w.mu.Unlock()

		if changed && w.OnChange != nil {
			w.logger.Printf("input %s changed (%d bytes), mining", path, info.Size())
			err := w.OnChange(ctx, path)
			w.mu.Lock()
			in.runs++
			in.lastRun = time.Now()
			in.lastErr = err
			w.mu.Unlock()
			if err != nil {
				w.report(path, err)
			}
		}

		w.mu.Lock()
		if !in.dirty {
			in.running = false
			w.mu.Unlock()
			return
		}
		w.mu.Unlock()
	}

	w.mu.Lock()
	in.running = false
	w.mu.Unlock()
}

func (w *Watcher) report(path string, err error) {
	w.logger.Printf("watch %s: %v", path, err)
	if w.OnError != nil {
		w.OnError(path, err)
	}
}

// Close stops the underlying watcher.
func (w *Watcher) Close() error {
	return w.fs.Close()
}
