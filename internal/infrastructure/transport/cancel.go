package transport

import (
	"context"
	"errors"
	"sync"
)

var errCanceledByKey = errors.New("canceled by key")

// cancelRegistry tracks in-flight requests by their cancellation key.
// Several requests may share a key; cancelling the key aborts all of them.
type cancelRegistry struct {
	mu      sync.Mutex
	seq     uint64
	entries map[string]map[uint64]context.CancelCauseFunc
}

func newCancelRegistry() *cancelRegistry {
	return &cancelRegistry{entries: make(map[string]map[uint64]context.CancelCauseFunc)}
}

// register derives a cancellable context for key and returns a release func
// that must be called when the request finishes.
func (r *cancelRegistry) register(ctx context.Context, key string) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(ctx)

	r.mu.Lock()
	r.seq++
	id := r.seq
	if r.entries[key] == nil {
		r.entries[key] = make(map[uint64]context.CancelCauseFunc)
	}
	r.entries[key][id] = cancel
	r.mu.Unlock()

	return ctx, func() {
		r.mu.Lock()
		if m := r.entries[key]; m != nil {
			delete(m, id)
			if len(m) == 0 {
				delete(r.entries, key)
			}
		}
		r.mu.Unlock()
		cancel(nil)
	}
}

func (r *cancelRegistry) cancel(key string) int {
	r.mu.Lock()
	m := r.entries[key]
	delete(r.entries, key)
	r.mu.Unlock()

	for _, c := range m {
		c(errCanceledByKey)
	}
	return len(m)
}

func (r *cancelRegistry) cancelAll() int {
	r.mu.Lock()
	all := r.entries
	r.entries = make(map[string]map[uint64]context.CancelCauseFunc)
	r.mu.Unlock()

	n := 0
	for _, m := range all {
		for _, c := range m {
			c(errCanceledByKey)
			n++
		}
	}
	return n
}

func (r *cancelRegistry) inFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.entries {
		n += len(m)
	}
	return n
}
