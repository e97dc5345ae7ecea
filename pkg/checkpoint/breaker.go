package checkpoint

import (
	"context"
	"errors"
	"sync"
	"time"

	seqerr "github.com/logflow/seqmine/pkg/errors"
)

// CircuitState is the state of a BreakerBackend.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // calls pass through
	CircuitOpen                         // calls fail fast
	CircuitHalfOpen                     // one probe call is allowed
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned while a remote backend is considered down.
var ErrCircuitOpen = errors.New("checkpoint: backend circuit open")

// BreakerBackend stops calling a remote backend after MaxFailures
// consecutive failures and retries it after Cooldown. A missing snapshot
// is not a failure.
type BreakerBackend struct {
	next        Backend
	maxFailures int
	cooldown    time.Duration
	now         func() time.Time

	mu       sync.Mutex
	state    CircuitState
	failures int
	tripped  time.Time

	// OnTrip, when set, is called with the error that opened the circuit.
	OnTrip func(err error)
}

// NewBreakerBackend wraps next. Non-positive arguments select 3 failures
// and a 30s cooldown.
func NewBreakerBackend(next Backend, maxFailures int, cooldown time.Duration) *BreakerBackend {
	if maxFailures <= 0 {
		maxFailures = 3
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &BreakerBackend{next: next, maxFailures: maxFailures, cooldown: cooldown, now: time.Now}
}

// State returns the current circuit state.
func (b *BreakerBackend) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *BreakerBackend) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case CircuitOpen:
		if b.now().Sub(b.tripped) < b.cooldown {
			return seqerr.Wrap(ErrCircuitOpen, seqerr.CodeBackend, "snapshot backend unavailable").
				WithContext("backend", b.next.Name())
		}
		b.state = CircuitHalfOpen
	case CircuitHalfOpen:
		return seqerr.Wrap(ErrCircuitOpen, seqerr.CodeBackend, "snapshot backend probe in flight").
			WithContext("backend", b.next.Name())
	}
	return nil
}

func (b *BreakerBackend) done(err error) {
	if errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled) {
		err = nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		b.state = CircuitClosed
		b.failures = 0
		return
	}
	b.failures++
	if b.state == CircuitHalfOpen || b.failures >= b.maxFailures {
		b.state = CircuitOpen
		b.tripped = b.now()
		if b.OnTrip != nil {
			go b.OnTrip(err)
		}
	}
}

// Save implements Backend.
func (b *BreakerBackend) Save(ctx context.Context, s *Snapshot) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := b.next.Save(ctx, s)
	b.done(err)
	return err
}

// Load implements Backend.
func (b *BreakerBackend) Load(ctx context.Context, id string) (*Snapshot, error) {
	if err := b.allow(); err != nil {
		return nil, err
	}
	s, err := b.next.Load(ctx, id)
	b.done(err)
	return s, err
}

// Delete implements Backend.
func (b *BreakerBackend) Delete(ctx context.Context, id string) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := b.next.Delete(ctx, id)
	b.done(err)
	return err
}

// List implements Backend.
func (b *BreakerBackend) List(ctx context.Context, prefix string) ([]*Snapshot, error) {
	if err := b.allow(); err != nil {
		return nil, err
	}
	out, err := b.next.List(ctx, prefix)
	b.done(err)
	return out, err
}

// Name implements Backend.
func (b *BreakerBackend) Name() string {
	return b.next.Name()
}
