// Package dispatch implements the per-connection message dispatcher of
// spec.md §4.6: classification, request execution against the receiver
// registry, response settlement, and the closing handshake.
package dispatch

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/proximate-go/proximate/internal/registry"
	"github.com/proximate-go/proximate/internal/rhandle"
	"github.com/proximate-go/proximate/internal/wire"
)

// Conn is the slice of connection behavior the Dispatcher needs. The
// concrete Connection type (top-level package proximate) implements
// both this and rhandle.Conn; the seam exists to avoid an import cycle
// between the dispatcher and the handle factory it mints handles
// through.
type Conn interface {
	Registry() *registry.Registry
	Decode(v *wire.Value) (interface{}, error)
	Encode(value interface{}) (*wire.Value, []interface{}, error)
	Mint(path []string) *rhandle.Handle
	PrimaryID() string
	Send(msg *wire.Message, transfer []interface{}) error
	LogError(context string, err error)
	Debug(msg *wire.Message, inbound bool)
	// Settle resolves a pending local request by nonce; reports
	// whether a waiter was found (an unknown nonce is logged and
	// dropped per spec.md §4.4).
	Settle(nonceID string, value interface{}, err error) bool
	// DecRefMap applies a release/close id->count map to the
	// registry, substituting "" with PrimaryID() first.
	DecRefMap(m map[string]uint32)
	// SnapshotCounts sums this connection's tracked handle counts per
	// id, for the closing handshake's outbound residual map.
	SnapshotCounts() map[string]uint32
	// FinishClose tears down local state after a close exchange
	// completes (handle tracking, pending table, endpoint listener).
	FinishClose()
}

// Dispatcher is the per-connection message-classification state
// machine. It holds no state of its own beyond its Conn; every table
// it touches (registry, pending, handle tracking) lives on Conn so that
// Connection remains the single owner of connection state, per
// spec.md §3's "Connection state" data model entry.
type Dispatcher struct {
	conn Conn
}

// New returns a Dispatcher bound to conn.
func New(conn Conn) *Dispatcher {
	return &Dispatcher{conn: conn}
}

// HandleRaw decodes a single framed message and dispatches it. It is
// the callback a Connection registers with its Endpoint.
func (d *Dispatcher) HandleRaw(raw []byte) {
	var msg wire.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		d.conn.LogError("decode message", err)
		return
	}
	d.conn.Debug(&msg, true)
	switch msg.Classify() {
	case wire.KindRequest:
		go d.handleRequest(&msg)
	case wire.KindResponse:
		d.handleResponse(&msg)
	default:
		d.conn.LogError("classify message", errors.Errorf("dropped malformed message %+v", msg))
	}
}

func (d *Dispatcher) handleResponse(msg *wire.Message) {
	if msg.Error != nil {
		result, err := d.conn.Decode(msg.Error)
		if err == nil {
			if re, ok := result.(error); ok {
				err = re
			}
		}
		if !d.conn.Settle(msg.ID, nil, err) {
			d.conn.LogError("settle", errors.Errorf("no pending request for id %q", msg.ID))
		}
		return
	}
	value, err := d.conn.Decode(msg.Result)
	if !d.conn.Settle(msg.ID, value, err) {
		d.conn.LogError("settle", errors.Errorf("no pending request for id %q", msg.ID))
	}
}

func (d *Dispatcher) handleRequest(msg *wire.Message) {
	result, transfer, err := d.execute(msg)
	d.replyIfNeeded(msg.ID, result, err, transfer)
}

func (d *Dispatcher) reply(nonceID string, result interface{}, callErr error, transfer []interface{}) {
	out := &wire.Message{ID: nonceID}
	if callErr != nil {
		wv, _, encErr := d.conn.Encode(callErr)
		if encErr != nil {
			wv = &wire.Value{Error: &wire.WireError{Message: callErr.Error()}}
		}
		out.Error = wv
	} else {
		wv, _, encErr := d.conn.Encode(result)
		if encErr != nil {
			d.conn.LogError("encode result", encErr)
			wv, _, _ = d.conn.Encode(encErr)
			out.Error = wv
			d.conn.Debug(out, false)
			if err := d.conn.Send(out, nil); err != nil {
				d.conn.LogError("post reply", err)
			}
			return
		}
		out.Result = wv
	}
	d.conn.Debug(out, false)
	if err := d.conn.Send(out, transfer); err != nil {
		d.conn.LogError("post reply", err)
	}
}

// execute resolves and performs the operation msg's shape names,
// per spec.md §4.6's classification table. Any panic raised while
// walking or invoking the receiver (a user method panicking, a
// non-function being called) is recovered and surfaced as an error so
// one bad request cannot take down the dispatcher goroutine.
func (d *Dispatcher) execute(msg *wire.Message) (result interface{}, transfer []interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic handling request: %v", r)
		}
	}()

	if len(msg.Path) == 0 {
		return nil, nil, errors.New("proximate: request missing path")
	}
	proxyID := msg.Path[0]
	if proxyID == "" {
		proxyID = d.conn.PrimaryID()
	}
	receiver, err := d.conn.Registry().Lookup(proxyID)
	if err != nil {
		return nil, nil, err
	}

	switch {
	case msg.Args != nil:
		parent, name, werr := walk(receiver, msg.Path[1:])
		if werr != nil {
			return nil, nil, werr
		}
		fn, gerr := get(parent, name)
		if gerr != nil {
			return nil, nil, gerr
		}
		wireArgs := *msg.Args
		args := make([]interface{}, 0, len(wireArgs))
		for i := range wireArgs {
			a, derr := d.conn.Decode(&wireArgs[i])
			if derr != nil {
				return nil, nil, derr
			}
			args = append(args, a)
		}
		result, err = invoke(fn, args)
		return result, nil, err

	case msg.Value != nil:
		parent, name, werr := walk(receiver, msg.Path[1:])
		if werr != nil {
			return nil, nil, werr
		}
		value, derr := d.conn.Decode(msg.Value)
		if derr != nil {
			return nil, nil, derr
		}
		if err := set(parent, name, value); err != nil {
			return nil, nil, err
		}
		return nil, nil, nil

	case msg.Release != nil:
		d.conn.DecRefMap(*msg.Release)
		return nil, nil, nil

	case msg.Close != nil:
		d.conn.DecRefMap(*msg.Close)
		residual := d.conn.SnapshotCounts()
		wv, _, _ := d.conn.Encode(residual)
		reply := &wire.Message{ID: msg.ID, Result: wv}
		d.conn.Debug(reply, false)
		if sendErr := d.conn.Send(reply, nil); sendErr != nil {
			d.conn.LogError("post close reply", sendErr)
		}
		d.conn.FinishClose()
		return nil, nil, alreadyReplied{}

	default:
		parent, name, werr := walk(receiver, msg.Path[1:])
		if werr != nil {
			return nil, nil, werr
		}
		v, gerr := get(parent, name)
		return v, nil, gerr
	}
}

// alreadyReplied is a sentinel error that tells handleRequest the close
// branch already sent its own reply and tore down the connection, so
// the generic error-reply path must not fire a second time.
type alreadyReplied struct{}

func (alreadyReplied) Error() string { return "proximate: close already replied" }

func (d *Dispatcher) replyIfNeeded(nonceID string, result interface{}, err error, transfer []interface{}) {
	if _, ok := err.(alreadyReplied); ok {
		return
	}
	if err != nil {
		d.reply(nonceID, nil, err, nil)
		return
	}
	d.reply(nonceID, result, nil, transfer)
}

