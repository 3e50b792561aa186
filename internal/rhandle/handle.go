// Package rhandle implements the handle factory of spec.md §4.5: the
// local surrogate for a remote object. Go has no dynamic property-trap
// facility, so per spec.md §9's own guidance a handle exposes explicit
// Get/Set/Call/Release/Close methods instead of intercepting arbitrary
// member access; callers chain them the way the source languages chain
// property reads.
package rhandle

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/proximate-go/proximate/internal/pending"
	"github.com/proximate-go/proximate/internal/wire"
)

// ErrReleased is returned by Get, Resolve, Set and Call on a handle
// after Release has been called on it.
var ErrReleased = errors.New("proximate: handle released")

// Conn is the slice of connection behavior a Handle needs. The concrete
// Connection type lives in the top-level proximate package; defining
// the seam here (rather than importing that package) keeps rhandle free
// of a dependency cycle with the dispatcher, which also mints handles.
type Conn interface {
	// Encode serializes a local value for the wire, registering any
	// receiver it passes by handle.
	Encode(value interface{}) (*wire.Value, []interface{}, error)
	// Decode reconstructs a local value (possibly a *Handle) from a
	// wire payload.
	Decode(v *wire.Value) (interface{}, error)
	// Mint returns a (possibly new) handle for path, tracking it if it
	// is primary (len(path) == 1).
	Mint(path []string) *Handle
	// NewRequest allocates a nonce, registers it in the pending table,
	// and returns both it and the channel that will receive the
	// eventual Result.
	NewRequest() (nonceID string, wait <-chan pending.Result)
	// Send posts msg (JSON-encoding it) with the given transfer list.
	Send(msg *wire.Message, transfer []interface{}) error
	// Track/Untrack record or drop a primary handle in the
	// connection's id -> handle-set map (spec.md §3).
	Track(h *Handle)
	Untrack(h *Handle)
	// LogError is a best-effort diagnostic sink for operations that
	// the spec defines as fire-and-forget (writes) but that can still
	// fail remotely (spec.md §9 open question).
	LogError(context string, err error)
	// InitiateClose runs the closing handshake for the primary handle
	// of this connection (spec.md §4.6).
	InitiateClose(ctx context.Context) error
}

// Handle is a locally synthesized surrogate for a remote object, per
// spec.md §3. A Handle with len(Path()) == 1 is primary and tracked on
// its connection; longer paths are ephemeral, minted only to be
// immediately resolved.
type Handle struct {
	path     []string
	conn     Conn
	released boolFlag
}

type boolFlag struct {
	mu sync.Mutex
	v  bool
}

// New constructs a handle for path on conn. It does not track or post
// anything; tracking primary handles is the caller's (Conn.Mint's)
// responsibility so that every primary handle, however it was minted,
// ends up in the connection's tracking map exactly once.
func New(conn Conn, path []string) *Handle {
	if len(path) == 0 {
		panic("proximate: handle path must be non-empty")
	}
	cp := make([]string, len(path))
	copy(cp, path)
	return &Handle{path: cp, conn: conn}
}

// Path returns the handle's receiver-id head plus member-access tail.
func (h *Handle) Path() []string { return h.path }

// Conn returns the handle's underlying connection, for top-level
// helpers in the proximate package that need connection-scoped
// behavior (debug ring, registry) not part of the Conn seam itself.
func (h *Handle) Conn() Conn { return h.conn }

// ID is the receiver identifier at the head of the path.
func (h *Handle) ID() string { return h.path[0] }

// IsPrimary reports whether this handle addresses its receiver
// directly (path length 1) rather than a nested member.
func (h *Handle) IsPrimary() bool { return len(h.path) == 1 }

func (h *Handle) isReleased() bool {
	h.released.mu.Lock()
	defer h.released.mu.Unlock()
	return h.released.v
}

// Get returns a new handle addressing the named member of h. It never
// posts a message, per spec.md §4.5's read-for-a-user-name row.
func (h *Handle) Get(name string) (*Handle, error) {
	if h.isReleased() {
		return nil, ErrReleased
	}
	return New(h.conn, append(append([]string{}, h.path...), name)), nil
}

// Resolve performs the actual remote fetch of h's value. For a primary
// handle (len(Path())==1) this resolves to h itself without a round
// trip, matching spec.md §4.5's thenable-interception row ("prevents
// accidental await of the primary from round-tripping"); for a nested
// handle it posts a get and awaits the response.
func (h *Handle) Resolve(ctx context.Context) (interface{}, error) {
	if h.isReleased() {
		return nil, ErrReleased
	}
	if h.IsPrimary() {
		return h, nil
	}
	result, err := h.request(ctx, &wire.Message{Path: h.path}, nil)
	return result, err
}

// Set serializes value and posts a property write. Per spec.md §4.5 it
// returns synchronously without awaiting the peer's acknowledgement;
// any remote failure is reported only through LogError, resolving the
// spec's write-acknowledgement open question in favor of
// fire-and-forget (see DESIGN.md).
func (h *Handle) Set(ctx context.Context, name string, value interface{}) error {
	if h.isReleased() {
		return ErrReleased
	}
	wv, transfer, err := h.conn.Encode(value)
	if err != nil {
		return err
	}
	path := append(append([]string{}, h.path...), name)
	nonceID, wait := h.conn.NewRequest()
	msg := &wire.Message{ID: nonceID, Path: path, Value: wv}
	if err := h.conn.Send(msg, transfer); err != nil {
		return err
	}
	go func() {
		res := <-wait
		if res.Err != nil {
			h.conn.LogError(fmt.Sprintf("write %v", path), res.Err)
		}
	}()
	return nil
}

// Call serializes args and invokes h as a function on the peer,
// awaiting and returning the result.
func (h *Handle) Call(ctx context.Context, args ...interface{}) (interface{}, error) {
	if h.isReleased() {
		return nil, ErrReleased
	}
	wireArgs := make([]wire.Value, 0, len(args))
	var transfer []interface{}
	for _, a := range args {
		wv, t, err := h.conn.Encode(a)
		if err != nil {
			return nil, err
		}
		wireArgs = append(wireArgs, *wv)
		transfer = append(transfer, t...)
	}
	return h.request(ctx, &wire.Message{Path: h.path, Args: &wireArgs}, transfer)
}

func (h *Handle) request(ctx context.Context, msg *wire.Message, transfer []interface{}) (interface{}, error) {
	nonceID, wait := h.conn.NewRequest()
	msg.ID = nonceID
	if err := h.conn.Send(msg, transfer); err != nil {
		return nil, err
	}
	select {
	case res := <-wait:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Value, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release decrements the peer's refcount for h's receiver and drops h
// from local tracking, blocking until the peer acknowledges the
// decrement, per spec.md §6's release(handle) contract ("returns a
// promise that settles when the peer acknowledges"). Idempotent per
// spec.md §5: a second Release is a local no-op that returns nil
// without posting a second decrement.
func (h *Handle) Release(ctx context.Context) error {
	if !h.IsPrimary() {
		return errors.New("proximate: only a primary handle can be released")
	}
	h.released.mu.Lock()
	if h.released.v {
		h.released.mu.Unlock()
		return nil
	}
	h.released.v = true
	h.released.mu.Unlock()
	h.conn.Untrack(h)
	nonceID, wait := h.conn.NewRequest()
	release := map[string]uint32{h.ID(): 1}
	msg := &wire.Message{ID: nonceID, Path: h.path, Release: &release}
	if err := h.conn.Send(msg, nil); err != nil {
		return err
	}
	select {
	case res := <-wait:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close initiates the closing handshake, per spec.md §4.6. It is only
// valid on a primary handle.
func (h *Handle) Close(ctx context.Context) error {
	if !h.IsPrimary() {
		return errors.New("proximate: only a primary handle can be closed")
	}
	return h.conn.InitiateClose(ctx)
}
