package proximate

import (
	"github.com/op/go-logging"

	"github.com/proximate-go/proximate/internal/codec"
	"github.com/proximate-go/proximate/internal/registry"
)

// Option configures a Connection at Wrap time.
type Option func(*Connection)

// WithReceiver binds object as this connection's primary receiver,
// addressed by the peer via the empty-string path head (spec.md §3).
func WithReceiver(object interface{}) Option {
	return func(c *Connection) { c.primaryReceiver = object }
}

// WithDebugSink registers fn to receive every raw message this
// connection sends or receives, per spec.md §6's "optional debug sink
// receiving every raw message".
func WithDebugSink(fn func(message []byte, inbound bool)) Option {
	return func(c *Connection) { c.debugSink = fn }
}

// WithLogger overrides the connection's logger. The default is built
// by plog.SetupLogging("proximate").
func WithLogger(log *logging.Logger) Option {
	return func(c *Connection) { c.log = log }
}

// WithRegistry overrides the process-wide receiver registry with an
// isolated one, for tests that must not leak state across cases.
func WithRegistry(r *registry.Registry) Option {
	return func(c *Connection) { c.registry = r }
}

// WithProtocol installs handler under key in this connection's
// per-connection protocol overlay (checked before the process-wide
// table, per spec.md §4.3).
func WithProtocol(key string, handler codec.Handler) Option {
	return func(c *Connection) { c.localCodec.Set(key, handler) }
}
