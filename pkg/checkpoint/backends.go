package checkpoint

import (
	"context"
	"errors"
)

// Backend stores snapshots. Implementations can live on local disk, S3 or
// Redis.
type Backend interface {
	// Save persists a snapshot, replacing one with the same ID.
	Save(ctx context.Context, s *Snapshot) error

	// Load retrieves a snapshot by ID. A missing snapshot is ErrNotFound.
	Load(ctx context.Context, id string) (*Snapshot, error)

	// Delete removes a snapshot.
	Delete(ctx context.Context, id string) error

	// List returns the snapshots whose ID starts with prefix.
	List(ctx context.Context, prefix string) ([]*Snapshot, error)

	// Name returns the backend name for logging.
	Name() string
}

// ErrNotFound reports a missing snapshot.
var ErrNotFound = errors.New("checkpoint: snapshot not found")

// MultiBackend wraps two backends for redundancy.
type MultiBackend struct {
	primary   Backend
	secondary Backend
}

// NewMultiBackend creates a backend that writes to both primary and secondary.
func NewMultiBackend(primary, secondary Backend) *MultiBackend {
	return &MultiBackend{
		primary:   primary,
		secondary: secondary,
	}
}

// Save writes to both backends (primary first).
func (m *MultiBackend) Save(ctx context.Context, s *Snapshot) error {
	if err := m.primary.Save(ctx, s); err != nil {
		return err
	}
	// secondary is best-effort
	_ = m.secondary.Save(ctx, s)
	return nil
}

// Load reads from primary, falls back to secondary.
func (m *MultiBackend) Load(ctx context.Context, id string) (*Snapshot, error) {
	s, err := m.primary.Load(ctx, id)
	if err == nil {
		return s, nil
	}
	return m.secondary.Load(ctx, id)
}

// Delete removes from both backends.
func (m *MultiBackend) Delete(ctx context.Context, id string) error {
	err1 := m.primary.Delete(ctx, id)
	err2 := m.secondary.Delete(ctx, id)
	if err1 != nil {
		return err1
	}
	return err2
}

// List returns results from primary.
func (m *MultiBackend) List(ctx context.Context, prefix string) ([]*Snapshot, error) {
	return m.primary.List(ctx, prefix)
}

// Name returns the combined backend names.
func (m *MultiBackend) Name() string {
	return m.primary.Name() + "+" + m.secondary.Name()
}
