// Package pending implements the per-connection request/response
// correlation table described in spec.md §4.4.
package pending

import (
	"sync"

	"github.com/pkg/errors"
)

// ErrConnectionClosed is the error every still-pending request is
// rejected with when its owning connection closes.
var ErrConnectionClosed = errors.New("proximate: connection closed")

// Result is what a settled request resolves to: exactly one of Value
// or Err is set.
type Result struct {
	Value interface{}
	Err   error
}

type waiter chan Result

// Table is a concurrency-safe nonce -> waiter map with a lifetime of
// exactly one round trip per entry.
type Table struct {
	mu      sync.Mutex
	waiters map[string]waiter
	closed  bool
}

// New returns an empty pending-request table.
func New() *Table {
	return &Table{waiters: make(map[string]waiter)}
}

// Await registers nonce as in-flight and returns a channel that
// receives exactly one Result, delivered by a future Settle(nonce, ...)
// or by Close. Await on an already-closed table settles immediately
// with ErrConnectionClosed.
func (t *Table) Await(nonce string) <-chan Result {
	ch := make(waiter, 1)
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		ch <- Result{Err: ErrConnectionClosed}
		return ch
	}
	t.waiters[nonce] = ch
	t.mu.Unlock()
	return ch
}

// Settle resolves the pending entry for nonce, if any. An unknown nonce
// (a response to a cancelled or duplicated exchange) is silently
// dropped, per spec.md §4.4 — callers should log this at the dispatcher
// level where a logger is available.
func (t *Table) Settle(nonce string, value interface{}, err error) (found bool) {
	t.mu.Lock()
	ch, ok := t.waiters[nonce]
	if ok {
		delete(t.waiters, nonce)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	ch <- Result{Value: value, Err: err}
	return true
}

// Close rejects every still-pending entry with ErrConnectionClosed and
// marks the table closed so subsequent Await calls fail fast.
func (t *Table) Close() {
	t.mu.Lock()
	t.closed = true
	waiters := t.waiters
	t.waiters = make(map[string]waiter)
	t.mu.Unlock()
	for _, ch := range waiters {
		ch <- Result{Err: ErrConnectionClosed}
	}
}
