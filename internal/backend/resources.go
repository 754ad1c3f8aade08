package backend

import (
	"context"
	"sync"

	"github.com/rileyhilliard/forkterm/internal/logger"
)

// Resources is a teardown stack for one invocation. Releases run in reverse
// registration order, each exactly once.
type Resources struct {
	mu    sync.Mutex
	items []resource
	log   logger.Logger
}

type resource struct {
	name    string
	release func(context.Context) error
}

// NewResources creates an empty stack.
func NewResources(log logger.Logger) *Resources {
	if log == nil {
		log = logger.Noop()
	}
	return &Resources{log: log}
}

// Add registers a resource to release on teardown.
func (r *Resources) Add(name string, release func(context.Context) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, resource{name: name, release: release})
}

// Release tears down every registered resource, newest first, and empties
// the stack. It keeps going past failures and returns them all.
func (r *Resources) Release(ctx context.Context) []error {
	r.mu.Lock()
	items := r.items
	r.items = nil
	r.mu.Unlock()

	var errs []error
	for i := len(items) - 1; i >= 0; i-- {
		it := items[i]
		r.log.Debug("releasing %s", it.name)
		if err := it.release(ctx); err != nil {
			r.log.Warn("releasing %s failed: %v", it.name, err)
			errs = append(errs, err)
		}
	}
	return errs
}

// Names returns registered resource names, oldest first.
func (r *Resources) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.items))
	for i, it := range r.items {
		names[i] = it.name
	}
	return names
}

// Len returns the number of resources awaiting release.
func (r *Resources) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}
