// Package transferable is a pluggable protocol for moving a byte buffer
// across a connection by (notional) zero-copy transfer rather than
// structural copy, per spec.md §4.3's "handlers for transfer-optimized
// payloads... may return non-empty transfer lists" and test scenario
// S7: sending a buffer detaches the sender's copy (length 0 locally)
// while the wire still carries the original bytes to the peer.
package transferable

import (
	"encoding/json"

	"github.com/proximate-go/proximate/internal/codec"
)

// Key is the protocol key both peers must install this handler under.
const Key = "buffer"

// Buffer is a transferable byte buffer. After a successful Serialize it
// is detached: Bytes and Len observe the empty slice left behind, the
// same as a JS ArrayBuffer after being posted as a transferable.
type Buffer struct {
	data []byte
}

// NewBuffer wraps data for transfer. NewBuffer takes ownership of data;
// callers must not retain their own reference across a transfer.
func NewBuffer(data []byte) *Buffer {
	return &Buffer{data: data}
}

// Bytes returns the buffer's current contents (empty once detached).
func (b *Buffer) Bytes() []byte { return b.data }

// Len reports the buffer's current length (zero once detached).
func (b *Buffer) Len() int { return len(b.data) }

// Handler serializes a *Buffer by copying its bytes onto the wire and
// detaching the original, and deserializes a wire payload back into a
// freshly allocated *Buffer on the receiving side.
type Handler struct{}

func (Handler) CanHandle(value interface{}) bool {
	_, ok := value.(*Buffer)
	return ok
}

// Serialize copies buf's bytes for the wire, lists buf itself as the
// transfer-eligible handle, and detaches buf in place — the sender's
// buffer reads back empty after this call returns, matching spec.md
// S7's "original buffer ... detached (length 0 locally)".
func (Handler) Serialize(value interface{}, _ codec.Register) (interface{}, []interface{}, error) {
	buf := value.(*Buffer)
	carried := append([]byte(nil), buf.data...)
	transfer := []interface{}{buf}
	buf.data = buf.data[:0]
	return carried, transfer, nil
}

// Deserialize reconstructs a *Buffer from the carried bytes.
func (Handler) Deserialize(data json.RawMessage, _ codec.MintHandle) (interface{}, error) {
	var raw []byte
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return NewBuffer(raw), nil
}
