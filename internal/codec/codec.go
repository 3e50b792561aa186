// Package codec implements the bidirectional serialization pipeline
// described in spec.md §4.3: pluggable protocol handlers, the built-in
// error protocol, and the pass-by-handle convenience base used by
// callers that want to hand a local object across the wire.
package codec

import (
	"encoding/json"
	"reflect"

	"github.com/pkg/errors"

	"github.com/proximate-go/proximate/internal/wire"
)

// ErrUnknownProtocol is returned when a received {type} names a key
// neither the per-connection nor process-wide table has registered.
var ErrUnknownProtocol = errors.New("proximate: unknown protocol")

// ErrorProtocolKey is the reserved key under which the built-in error
// protocol is installed, per spec.md §6 ("an implementation reserves
// one key for the error protocol").
const ErrorProtocolKey = "error"

// Register is the closure a protocol handler's Serialize receives to
// mint (or reuse) a receiver id for a value it wants to pass by handle.
// It is registry.IncRef bound to the owning connection's registry.
type Register func(value interface{}) string

// MintHandle is the closure a protocol handler's Deserialize receives
// to materialize a local proxy for a remote id. It is the owning
// connection's Mint([]string{id}).
type MintHandle func(id string) interface{}

// Handler is a pluggable codec for one value kind, keyed by string and
// installed under the same key at both peers.
type Handler interface {
	// CanHandle reports whether this handler should serialize value.
	CanHandle(value interface{}) bool
	// Serialize encodes value to its wire payload and any
	// transfer-eligible opaque handles the transport should move
	// rather than copy.
	Serialize(value interface{}, register Register) (data interface{}, transfer []interface{}, err error)
	// Deserialize decodes a previously-serialized payload back into a
	// local value.
	Deserialize(data json.RawMessage, mint MintHandle) (interface{}, error)
}

// Table is a string-keyed set of protocol handlers. Connections keep a
// per-connection Table that overlays a shared process-wide Table,
// per spec.md §4.3 ("per-connection overlay first, then process-wide").
type Table struct {
	handlers map[string]Handler
}

// NewTable returns a handler table holding only the built-in error
// protocol under ErrorProtocolKey and the built-in handle-passing
// protocol under HandleProtocolKey.
func NewTable() *Table {
	t := &Table{handlers: make(map[string]Handler)}
	t.handlers[ErrorProtocolKey] = errorHandler{}
	t.handlers[HandleProtocolKey] = handleIdentity{}
	return t
}

// Set installs handler under key, overwriting any previous handler at
// that key.
func (t *Table) Set(key string, handler Handler) {
	t.handlers[key] = handler
}

// Get returns the handler installed at key, if any.
func (t *Table) Get(key string) (Handler, bool) {
	h, ok := t.handlers[key]
	return h, ok
}

// Find returns a handler whose CanHandle accepts value, searching the
// local table before the fallback (process wide) one and skipping the
// error protocol. Within one table the order in which handlers are
// tried is not defined.
func Find(local, fallback *Table, value interface{}) (key string, handler Handler, ok bool) {
	for _, t := range []*Table{local, fallback} {
		if t == nil {
			continue
		}
		for key, h := range t.handlers {
			if key == ErrorProtocolKey {
				continue
			}
			if h.CanHandle(value) {
				return key, h, true
			}
		}
	}
	return "", nil, false
}

func lookup(local, fallback *Table, key string) (Handler, bool) {
	if local != nil {
		if h, ok := local.handlers[key]; ok {
			return h, true
		}
	}
	if fallback != nil {
		if h, ok := fallback.handlers[key]; ok {
			return h, true
		}
	}
	return nil, false
}

// Serialize implements spec.md §4.3's serialize(value, register): the
// registered protocol table is checked first, then error-ness, then
// compound-ness, falling through to a raw primitive. A handler whose
// CanHandle accepts error values (spec.md §7: "protocol handlers may
// choose to carry richer error shapes") therefore runs ahead of the
// generic {error:{message,stack}} fallback.
func Serialize(value interface{}, local, fallback *Table, register Register) (*wire.Value, []interface{}, error) {
	if key, h, ok := Find(local, fallback, value); ok {
		data, transfer, err := h.Serialize(value, register)
		if err != nil {
			return nil, nil, err
		}
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, nil, err
		}
		return &wire.Value{Type: key, Data: raw}, transfer, nil
	}
	if err, isErr := value.(error); isErr {
		return errorHandler{}.toWire(err), nil, nil
	}
	if isCompound(value) {
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, nil, err
		}
		return &wire.Value{Data: raw}, nil, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, nil, err
	}
	return &wire.Value{Raw: raw}, nil, nil
}

// Deserialize implements spec.md §4.3's deserialize(wire, mintHandle).
func Deserialize(v *wire.Value, local, fallback *Table, mint MintHandle) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	switch {
	case v.Type != "":
		h, ok := lookup(local, fallback, v.Type)
		if !ok {
			return nil, errors.Wrapf(ErrUnknownProtocol, "type %q", v.Type)
		}
		return h.Deserialize(v.Data, mint)
	case v.Error != nil:
		return nil, &RemoteError{Message: v.Error.Message, Stack: v.Error.Stack}
	case v.Data != nil:
		var out interface{}
		if err := json.Unmarshal(v.Data, &out); err != nil {
			return nil, err
		}
		return out, nil
	default:
		if len(v.Raw) == 0 || string(v.Raw) == "null" {
			return nil, nil
		}
		var out interface{}
		if err := json.Unmarshal(v.Raw, &out); err != nil {
			return nil, err
		}
		return out, nil
	}
}

// isCompound reports whether value is a non-primitive, non-nil Go
// value: structs, maps, slices, arrays, and pointers of any kind. JSON
// primitives (string, bool, the numeric kinds) and nil pass straight
// through as raw wire values instead.
func isCompound(value interface{}) bool {
	if value == nil {
		return false
	}
	switch reflect.ValueOf(value).Kind() {
	case reflect.Struct, reflect.Map, reflect.Slice, reflect.Array, reflect.Ptr, reflect.Interface:
		return true
	default:
		return false
	}
}
