// Package registry tracks in-flight delegation sessions: which handle
// belongs to which role, at which delegation depth, and who is waiting
// for it to complete. Completion is signalled through one-shot futures
// so the liveness-event consumer never blocks on a slow waiter.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/pdcad/internal/jobs"
	"github.com/fyrsmithlabs/pdcad/internal/platform"
)

// ErrNotRegistered means no entry exists for the given handle.
var ErrNotRegistered = errors.New("session not registered")

type entry struct {
	role     string
	depth    int
	done     chan struct{}
	resolved bool
}

// Registry is safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	entries map[platform.Handle]*entry
	logger  *zap.Logger
}

// New creates an empty registry.
func New(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		entries: make(map[platform.Handle]*entry),
		logger:  logger,
	}
}

// Register records a session handle with its role and delegation depth.
// Re-registering a handle keeps the existing completion future so a
// waiter already parked on it is not orphaned.
func (r *Registry) Register(handle platform.Handle, role string, depth int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[handle]; ok {
		e.role = role
		e.depth = depth
		return
	}
	r.entries[handle] = &entry{
		role:  role,
		depth: depth,
		done:  make(chan struct{}),
	}
}

// WaitForCompletion returns the handle's completion future. The channel
// is closed when Resolve fires; a handle resolved before anyone waits
// returns an already-closed channel, so the completion is never lost.
func (r *Registry) WaitForCompletion(handle platform.Handle) (<-chan struct{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[handle]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, handle)
	}
	return e.done, nil
}

// Resolve marks the handle complete, waking any waiter. It is a no-op
// for unregistered or already-resolved handles and never blocks, no
// matter what waiters are doing.
func (r *Registry) Resolve(handle platform.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[handle]
	if !ok || e.resolved {
		return
	}
	e.resolved = true
	close(e.done)
}

// Unregister removes the handle. A parked waiter is woken so it does
// not hang on an entry that no longer exists.
func (r *Registry) Unregister(handle platform.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[handle]
	if !ok {
		return
	}
	if !e.resolved {
		close(e.done)
	}
	delete(r.entries, handle)
}

// Lookup returns the role and depth recorded for a handle.
func (r *Registry) Lookup(handle platform.Handle) (role string, depth int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, found := r.entries[handle]
	if !found {
		return "", 0, false
	}
	return e.role, e.depth, true
}

// Handles returns all registered handles, for liveness poll sweeps.
func (r *Registry) Handles() []platform.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]platform.Handle, 0, len(r.entries))
	for h := range r.entries {
		out = append(out, h)
	}
	return out
}

// HydrateFromDisk rebuilds handle associations from persisted running
// job records, so a restart does not orphan in-flight delegations.
func (r *Registry) HydrateFromDisk(ctx context.Context, store *jobs.Store) error {
	running, err := store.Running(ctx)
	if err != nil {
		return fmt.Errorf("hydrating registry: %w", err)
	}
	for _, rec := range running {
		if rec.Handle == "" {
			continue
		}
		r.Register(rec.Handle, rec.Role, rec.Depth)
	}
	if len(running) > 0 {
		r.logger.Info("rehydrated in-flight sessions", zap.Int("count", len(running)))
	}
	return nil
}
