// Package netconn implements a proximate.Endpoint over a net.Conn,
// framing each message with a 4-byte big-endian length prefix. The
// platform-specific Dial/Listen helpers (netconn_unix.go,
// netconn_windows.go) are grounded on the teacher's own unix-domain-
// socket-by-default, named-pipe-on-windows split.
package netconn

import (
	"encoding/binary"
	"io"
	"net"
	"sync"

	"github.com/pkg/errors"
)

// maxFrame guards against a corrupt or hostile length prefix driving an
// unbounded allocation.
const maxFrame = 64 << 20

// Endpoint frames messages over conn with a 4-byte length prefix. Wrap
// it with proximate.Wrap once; Start begins the read loop and Close
// tears down both the read loop and conn.
type Endpoint struct {
	conn net.Conn

	writeMu sync.Mutex

	mu       sync.Mutex
	listener func([]byte)
	done     chan struct{}
	started  bool
}

// New wraps an already-established net.Conn (from Dial or a Listener's
// Accept) as a proximate.Endpoint.
func New(conn net.Conn) *Endpoint {
	return &Endpoint{conn: conn}
}

func (e *Endpoint) AddListener(fn func([]byte)) {
	e.mu.Lock()
	e.listener = fn
	e.mu.Unlock()
}

func (e *Endpoint) RemoveListener() {
	e.mu.Lock()
	e.listener = nil
	e.mu.Unlock()
}

// Start launches the frame-reading goroutine. Per spec.md's Endpoint
// contract, Start is optional; callers that never invoke it simply
// never receive inbound messages.
func (e *Endpoint) Start() error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = true
	done := make(chan struct{})
	e.done = done
	e.mu.Unlock()

	go e.readLoop(done)
	return nil
}

func (e *Endpoint) readLoop(done chan struct{}) {
	header := make([]byte, 4)
	for {
		if _, err := io.ReadFull(e.conn, header); err != nil {
			return
		}
		n := binary.BigEndian.Uint32(header)
		if n > maxFrame {
			return
		}
		payload := make([]byte, n)
		if _, err := io.ReadFull(e.conn, payload); err != nil {
			return
		}
		e.mu.Lock()
		fn := e.listener
		e.mu.Unlock()
		if fn == nil {
			continue
		}
		select {
		case <-done:
			return
		default:
			fn(payload)
		}
	}
}

// Post writes message length-prefixed to conn. transfer is accepted for
// interface compatibility but unused: a raw byte stream has no
// transfer-list concept, per spec.md §6's note that an adapter ignoring
// transfer simply always copies.
func (e *Endpoint) Post(message []byte, transfer []interface{}) error {
	if len(message) > maxFrame {
		return errors.Errorf("netconn: message of %d bytes exceeds frame limit", len(message))
	}
	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(message)))

	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if _, err := e.conn.Write(header); err != nil {
		return errors.Wrap(err, "netconn: write frame header")
	}
	if _, err := e.conn.Write(message); err != nil {
		return errors.Wrap(err, "netconn: write frame payload")
	}
	return nil
}

// Close stops the read loop and closes the underlying connection.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	if e.done != nil {
		close(e.done)
		e.done = nil
	}
	e.mu.Unlock()
	return e.conn.Close()
}
