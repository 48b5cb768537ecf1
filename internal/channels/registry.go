// Package channels tracks data channels announced by a transport session so
// callers can wait for one by label, whether it arrives before or after the
// wait starts.
package channels

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrDuplicateWaiter = errors.New("channels: label already has a pending waiter")
	ErrClosed          = errors.New("channels: registry closed")
)

type waiter[C any] struct {
	ch chan C
}

// Registry holds arrived channels by label and at most one pending waiter
// per label that has not arrived yet. The zero value is not usable; use New.
type Registry[C any] struct {
	mu      sync.Mutex
	arrived map[string]C
	waiters map[string]*waiter[C]
	err     error
}

func New[C any]() *Registry[C] {
	return &Registry[C]{
		arrived: make(map[string]C),
		waiters: make(map[string]*waiter[C]),
	}
}

// Wait returns the channel registered under label, blocking until it
// arrives or ctx is done. Only one caller may wait on an unresolved label.
func (r *Registry[C]) Wait(ctx context.Context, label string) (C, error) {
	var zero C

	r.mu.Lock()
	if c, ok := r.arrived[label]; ok {
		r.mu.Unlock()
		return c, nil
	}
	if r.err != nil {
		err := r.err
		r.mu.Unlock()
		return zero, err
	}
	if _, ok := r.waiters[label]; ok {
		r.mu.Unlock()
		return zero, fmt.Errorf("%w: %q", ErrDuplicateWaiter, label)
	}
	w := &waiter[C]{ch: make(chan C, 1)}
	r.waiters[label] = w
	r.mu.Unlock()

	select {
	case c, ok := <-w.ch:
		if !ok {
			return zero, r.closedErr()
		}
		return c, nil
	case <-ctx.Done():
		r.mu.Lock()
		if r.waiters[label] == w {
			delete(r.waiters, label)
		}
		r.mu.Unlock()
		// Arrival may have raced with cancellation.
		select {
		case c, ok := <-w.ch:
			if ok {
				return c, nil
			}
		default:
		}
		return zero, ctx.Err()
	}
}

// Arrive records c under label and resolves the pending waiter, if any. The
// first arrival for a label wins; later ones are ignored and reported false.
func (r *Registry[C]) Arrive(label string, c C) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return false
	}
	if _, ok := r.arrived[label]; ok {
		return false
	}
	r.arrived[label] = c
	if w, ok := r.waiters[label]; ok {
		delete(r.waiters, label)
		w.ch <- c
	}
	return true
}

// Lookup returns an arrived channel without waiting.
func (r *Registry[C]) Lookup(label string) (C, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.arrived[label]
	return c, ok
}

// Labels returns the labels of all arrived channels, sorted.
func (r *Registry[C]) Labels() []string {
	r.mu.Lock()
	out := make([]string, 0, len(r.arrived))
	for label := range r.arrived {
		out = append(out, label)
	}
	r.mu.Unlock()
	sort.Strings(out)
	return out
}

// Pending returns the number of unresolved waiters.
func (r *Registry[C]) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiters)
}

// Close fails every pending waiter with err (ErrClosed if nil). Channels that
// already arrived stay retrievable; new labels never resolve.
func (r *Registry[C]) Close(err error) {
	if err == nil {
		err = ErrClosed
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return
	}
	r.err = err
	for label, w := range r.waiters {
		delete(r.waiters, label)
		close(w.ch)
	}
}

func (r *Registry[C]) closedErr() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}
