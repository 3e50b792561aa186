// Package proximate is a transparent remote-object layer over an
// asynchronous, message-oriented duplex channel. Wrap an Endpoint to
// get a handle to whatever the peer exposed, and optionally expose a
// local object for the peer to call back into — every operation on a
// handle (read, call, walk, write, release) becomes a protocol message,
// settled asynchronously against the peer's reply.
package proximate

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/op/go-logging"
	"github.com/pkg/errors"
	lru "github.com/hashicorp/golang-lru"

	"github.com/proximate-go/proximate/internal/codec"
	"github.com/proximate-go/proximate/internal/dispatch"
	"github.com/proximate-go/proximate/internal/nonce"
	"github.com/proximate-go/proximate/internal/pending"
	"github.com/proximate-go/proximate/internal/plog"
	"github.com/proximate-go/proximate/internal/registry"
	"github.com/proximate-go/proximate/internal/rhandle"
	"github.com/proximate-go/proximate/internal/wire"
)

// debugRingSize bounds the recent-message ring every connection keeps,
// with or without a debug sink, per SPEC_FULL.md's "bounded diagnostics
// buffer" — an operator-troubleshooting aid, never load-bearing.
const debugRingSize = 256

// Connection is the per-wrap instance described in spec.md §3: a bound
// endpoint, the optional primary receiver, the pending-request table,
// the handle-tracking map, a closed flag, and a per-connection protocol
// overlay. It implements both internal/rhandle.Conn and
// internal/dispatch.Conn, wiring the six core components together.
type Connection struct {
	endpoint Endpoint
	registry *registry.Registry
	fallback *codec.Table
	localCodec *codec.Table
	pend     *pending.Table
	disp     *dispatch.Dispatcher
	log      *logging.Logger
	debugSink func(message []byte, inbound bool)
	recent   *lru.Cache

	primaryReceiver interface{}
	primaryID       string

	mu         sync.Mutex
	handles    map[string]map[*rhandle.Handle]struct{}
	closed     bool
}

// fallbackTable is the process-wide protocol table shared by every
// connection, checked after each connection's own overlay, per
// spec.md §4.3.
var fallbackTable = codec.NewTable()

// Protocols is the process-wide protocol handler map keyed by string,
// per spec.md §6. Register a handler here to make it available to
// every connection that doesn't shadow the key with its own
// WithProtocol option.
var Protocols = fallbackTable

// Wrap binds endpoint into a new Connection and returns a primary
// handle addressing the peer's primary receiver, per spec.md §6's
// wrap(endpoint, options) -> primary handle.
func Wrap(endpoint Endpoint, opts ...Option) *rhandle.Handle {
	ring, _ := lru.New(debugRingSize)
	c := &Connection{
		endpoint:   endpoint,
		registry:   registry.Default,
		fallback:   fallbackTable,
		localCodec: codec.NewTable(),
		pend:       pending.New(),
		log:        plog.Default,
		handles:    make(map[string]map[*rhandle.Handle]struct{}),
		recent:     ring,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.disp = dispatch.New(c)
	if c.primaryReceiver != nil {
		c.primaryID = c.registry.IncRef(c.primaryReceiver)
	}
	endpoint.AddListener(c.disp.HandleRaw)
	if starter, ok := endpoint.(Starter); ok {
		if err := starter.Start(); err != nil {
			c.log.Error("starting endpoint:", err)
		}
	}
	return c.Mint([]string{""})
}

// Release releases a single handle. It blocks until the peer
// acknowledges the decrement (or ctx is done) and returns any local
// posting failure, the peer's error reply, or ctx's error.
func Release(ctx context.Context, h *rhandle.Handle) error {
	return h.Release(ctx)
}

// Close initiates the closing handshake on primary's connection.
func Close(ctx context.Context, primary *rhandle.Handle) error {
	return primary.Close(ctx)
}

// RecentMessages returns the bounded ring of raw JSON messages sent or
// received on primary's connection, oldest first. It is the reader side
// of WithDebugSink's "operator troubleshooting" ring (spec.md §6); any
// handle minted off the same Wrap call (primary or nested) resolves to
// the same Connection and therefore the same ring.
func RecentMessages(primary *rhandle.Handle) [][]byte {
	recorder, ok := primary.Conn().(interface{ RecentMessages() [][]byte })
	if !ok {
		return nil
	}
	return recorder.RecentMessages()
}

// --- rhandle.Conn / dispatch.Conn implementation ---

func (c *Connection) Registry() *registry.Registry { return c.registry }

func (c *Connection) PrimaryID() string { return c.primaryID }

func (c *Connection) Encode(value interface{}) (*wire.Value, []interface{}, error) {
	return codec.Serialize(value, c.localCodec, c.fallback, c.registry.IncRef)
}

func (c *Connection) Decode(v *wire.Value) (interface{}, error) {
	return codec.Deserialize(v, c.localCodec, c.fallback, func(id string) interface{} {
		return c.Mint([]string{id})
	})
}

func (c *Connection) Mint(path []string) *rhandle.Handle {
	h := rhandle.New(c, path)
	if h.IsPrimary() {
		c.Track(h)
	}
	return h
}

func (c *Connection) NewRequest() (string, <-chan pending.Result) {
	id := nonce.New()
	return id, c.pend.Await(id)
}

func (c *Connection) Send(msg *wire.Message, transfer []interface{}) error {
	c.Debug(msg, false)
	raw, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "encode message")
	}
	return c.endpoint.Post(raw, transfer)
}

func (c *Connection) Track(h *rhandle.Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.handles[h.ID()]
	if !ok {
		set = make(map[*rhandle.Handle]struct{})
		c.handles[h.ID()] = set
	}
	set[h] = struct{}{}
}

func (c *Connection) Untrack(h *rhandle.Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.handles[h.ID()]
	if !ok {
		return
	}
	delete(set, h)
	if len(set) == 0 {
		delete(c.handles, h.ID())
	}
}

func (c *Connection) LogError(context string, err error) {
	if err == nil {
		return
	}
	c.log.Error(context+":", err)
}

func (c *Connection) Debug(msg *wire.Message, inbound bool) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if c.recent != nil {
		c.recent.Add(nonce.New(), raw)
	}
	if c.debugSink != nil {
		c.debugSink(raw, inbound)
	}
}

// RecentMessages returns the bounded ring of raw JSON messages sent or
// received on this connection, oldest first, for operator
// troubleshooting. Debug records into the ring whether or not a
// WithDebugSink is attached; this is the only reader of that ring.
func (c *Connection) RecentMessages() [][]byte {
	if c.recent == nil {
		return nil
	}
	keys := c.recent.Keys()
	out := make([][]byte, 0, len(keys))
	for _, k := range keys {
		if v, ok := c.recent.Get(k); ok {
			if raw, ok := v.([]byte); ok {
				out = append(out, raw)
			}
		}
	}
	return out
}

func (c *Connection) Settle(nonceID string, value interface{}, err error) bool {
	return c.pend.Settle(nonceID, value, err)
}

// DecRefMap decrements the registry for each id->count pair, resolving
// the empty-string placeholder to this connection's own primary id
// first, per spec.md §3 and §4.6.
func (c *Connection) DecRefMap(m map[string]uint32) {
	for id, n := range m {
		real := id
		if real == "" {
			real = c.primaryID
		}
		if real == "" {
			continue
		}
		c.registry.DecRef(real, n)
	}
}

// SnapshotCounts sums this connection's tracked handle counts per id,
// for the closing handshake's outbound/residual maps.
func (c *Connection) SnapshotCounts() map[string]uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]uint32, len(c.handles))
	for id, set := range c.handles {
		if len(set) > 0 {
			out[id] = uint32(len(set))
		}
	}
	return out
}

func (c *Connection) FinishClose() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.handles = make(map[string]map[*rhandle.Handle]struct{})
	c.mu.Unlock()

	c.pend.Close()
	c.endpoint.RemoveListener()
	if closer, ok := c.endpoint.(Closer); ok {
		if err := closer.Close(); err != nil {
			c.log.Error("closing endpoint:", err)
		}
	}
}

// InitiateClose runs the initiator side of the closing handshake
// (spec.md §4.6): snapshot our outstanding handle counts, send them,
// await the peer's own residual map, drain our registry by it, then
// tear down. A second call is a no-op (close is not re-entrant,
// spec.md §5).
func (c *Connection) InitiateClose(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	ourMap := c.SnapshotCounts()
	id, wait := c.NewRequest()
	msg := &wire.Message{ID: id, Path: []string{""}, Close: &ourMap}
	if err := c.Send(msg, nil); err != nil {
		return err
	}
	select {
	case res := <-wait:
		if res.Err != nil {
			// Peer failed mid-handshake; tear down locally anyway so
			// our own resources aren't held open indefinitely.
			c.FinishClose()
			return res.Err
		}
		if residual, ok := res.Value.(map[string]interface{}); ok {
			counts := make(map[string]uint32, len(residual))
			for id, v := range residual {
				if f, ok := v.(float64); ok {
					counts[id] = uint32(f)
				}
			}
			c.DecRefMap(counts)
		}
	case <-ctx.Done():
		c.FinishClose()
		return ctx.Err()
	}
	c.FinishClose()
	return nil
}
