// Package keyexec runs work for one brook key at a time. It keeps a single
// writer per key inside a process; correctness across processes still comes
// from optimistic concurrency in the store.
package keyexec

import (
	"context"
	"sync"

	"github.com/rzbill/brook/internal/brook"
)

type slot struct {
	sem  chan struct{}
	refs int
}

// Registry hands out per-key exclusive sections. The zero value is ready to use.
type Registry struct {
	mu    sync.Mutex
	slots map[string]*slot
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry { return &Registry{} }

func (r *Registry) acquire(k string) *slot {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.slots == nil {
		r.slots = make(map[string]*slot)
	}
	s, ok := r.slots[k]
	if !ok {
		s = &slot{sem: make(chan struct{}, 1)}
		r.slots[k] = s
	}
	s.refs++
	return s
}

func (r *Registry) drop(k string, s *slot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(r.slots, k)
	}
}

// Lock waits for exclusive use of key or for ctx to end. The returned func
// must be called exactly once.
func (r *Registry) Lock(ctx context.Context, key brook.Key) (func(), error) {
	k := key.String()
	s := r.acquire(k)
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		r.drop(k, s)
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.sem
			r.drop(k, s)
		})
	}, nil
}

// Do runs fn while holding key.
func (r *Registry) Do(ctx context.Context, key brook.Key, fn func(context.Context) error) error {
	unlock, err := r.Lock(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()
	return fn(ctx)
}

// Len returns the number of keys currently held or waited on.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots)
}
