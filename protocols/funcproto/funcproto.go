// Package funcproto is a pluggable protocol that passes Go functions
// by handle, per spec.md §4.3's convenience base and test scenario
// S5/S6: "Register a protocol under key fn whose canHandle returns true
// for callables, built atop the convenience base."
package funcproto

import (
	"context"
	"reflect"

	"github.com/proximate-go/proximate/internal/codec"
	"github.com/proximate-go/proximate/internal/rhandle"
)

// Key is the protocol key both peers must install this handler under.
const Key = "fn"

// Handler registers any Go func value as a remote receiver and, on
// deserialize, mints a handle whose Call forwards back into the
// original func. It embeds codec.HandleBase for Deserialize (mint the
// id into a handle, unchanged from the convenience base) and overrides
// Serialize only to box the func first.
type Handler struct {
	codec.HandleBase
}

// CanHandle accepts any Go function value.
func (Handler) CanHandle(value interface{}) bool {
	if value == nil {
		return false
	}
	return reflect.ValueOf(value).Kind() == reflect.Func
}

// Serialize boxes value in a pointer before registering it: Go funcs
// are not comparable, so the registry's object->id map (which requires
// comparable keys) cannot hold one directly — spec.md §4.2 anticipates
// this ("callers treat identifiers as opaque tokens" in languages
// without the source's weak-map facility). One consequence: the same
// Go func value registered twice mints two receiver entries rather
// than sharing one, since each registration boxes a fresh, distinct
// pointer.
func (Handler) Serialize(value interface{}, register codec.Register) (interface{}, []interface{}, error) {
	boxed := &value
	return register(boxed), nil, nil
}

// Callable adapts a *rhandle.Handle minted by Deserialize back into an
// ordinary Go func value, so callers that received a function handle
// can do `g(x)` instead of `handle.Call(ctx, x)`.
func Callable(ctx context.Context, h *rhandle.Handle) func(args ...interface{}) (interface{}, error) {
	return func(args ...interface{}) (interface{}, error) {
		return h.Call(ctx, args...)
	}
}
