package proximate

import (
	"github.com/pkg/errors"

	"github.com/proximate-go/proximate/internal/codec"
	"github.com/proximate-go/proximate/internal/pending"
	"github.com/proximate-go/proximate/internal/registry"
	"github.com/proximate-go/proximate/internal/rhandle"
)

// Sentinel errors surfaced to callers, per spec.md §7. They mirror the
// teacher's flat var-block of named errors (common/util/error.go) but
// are wrapped with github.com/pkg/errors at the point of use so a
// caller can still errors.Is against the sentinel after a Wrapf.
var (
	// ErrUnknownReceiver: a peer referenced a receiver id this side
	// never registered, or already revoked/released to zero.
	ErrUnknownReceiver = registry.ErrUnknownReceiver
	// ErrUnknownProtocol: an incoming {type} names a key neither
	// peer-overlay nor process-wide protocol table has installed.
	ErrUnknownProtocol = codec.ErrUnknownProtocol
	// ErrConnectionClosed: the operation was attempted after Close, or
	// was still pending when Close ran.
	ErrConnectionClosed = pending.ErrConnectionClosed
	// ErrHandleReleased: the handle was already released locally.
	ErrHandleReleased = rhandle.ErrReleased
)

// RemoteError is a remote exception re-raised locally. Error identity
// is never preserved across the wire (spec.md §7); only Message and
// Stack make the trip.
type RemoteError = codec.RemoteError

// IsRemote reports whether err originated on the peer side of a call,
// unwrapping through any github.com/pkg/errors wrapping in between.
func IsRemote(err error) (*RemoteError, bool) {
	var re *RemoteError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
