// Package registry implements the process-wide receiver registry: a
// bidirectional mapping between local objects exposed to remote peers
// and the opaque identifiers naming them, with reference counts.
package registry

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/proximate-go/proximate/internal/nonce"
)

// ErrUnknownReceiver is returned by Lookup when no entry exists for the
// given id, and wraps whatever error a peer-facing caller surfaces.
var ErrUnknownReceiver = errors.New("proximate: unknown receiver")

type entry struct {
	object interface{}
	count  uint32
}

// Registry is a concurrency-safe, refcounted object<->id table. The
// zero value is not usable; construct with New. A single process-wide
// instance (Default) is shared by every Connection, matching spec.md's
// requirement that passing the same object to two peers yields one
// entry; isolated instances exist for tests.
type Registry struct {
	mu       sync.Mutex
	byID     map[string]*entry
	byObject map[interface{}]string
}

// New returns an empty, independent registry.
func New() *Registry {
	return &Registry{
		byID:     make(map[string]*entry),
		byObject: make(map[interface{}]string),
	}
}

// Default is the process-wide registry shared by every Connection in
// this process, per spec.md §4.2 and §9.
var Default = New()

// IncRef registers object if it is not already known, or bumps the
// refcount of its existing entry, and returns the id either way.
//
// object must be a comparable Go value (per Go map-key rules); callers
// holding a non-comparable receiver (a slice, map, or func) must wrap it
// in a pointer first — the registry compares identity, never contents.
func (r *Registry) IncRef(object interface{}) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byObject[object]; ok {
		r.byID[id].count++
		return id
	}
	id := nonce.New()
	r.byID[id] = &entry{object: object, count: 1}
	r.byObject[object] = id
	return id
}

// DecRef subtracts n from id's refcount, removing the entry (and its
// inverse mapping) once the count reaches zero. Decrementing an unknown
// id is a silent no-op: the entry may already have been revoked or
// drained by a prior close.
func (r *Registry) DecRef(id string, n uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[id]
	if !ok {
		return
	}
	if n >= e.count {
		delete(r.byID, id)
		delete(r.byObject, e.object)
		return
	}
	e.count -= n
}

// RevokeAll removes object's entry regardless of its remaining refcount.
// Any remote handle still pointing at the revoked id will subsequently
// fail lookup with ErrUnknownReceiver.
func (r *Registry) RevokeAll(object interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byObject[object]
	if !ok {
		return
	}
	delete(r.byObject, object)
	delete(r.byID, id)
}

// Lookup resolves id to its registered object.
func (r *Registry) Lookup(id string) (interface{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[id]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownReceiver, "id %q", id)
	}
	return e.object, nil
}

// Count reports id's current refcount, or zero if unknown.
func (r *Registry) Count(id string) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.byID[id]; ok {
		return e.count
	}
	return 0
}
