package codec

import (
	"encoding/json"

	"github.com/proximate-go/proximate/internal/rhandle"
)

// HandleProtocolKey is the reserved key for the built-in handle-passing
// protocol: a primary *rhandle.Handle (path length 1) is serialized as
// its receiver id verbatim instead of being registered as a fresh
// receiver. Nested handles are not handled by this protocol.
const HandleProtocolKey = "handle"

// handleIdentity is installed under HandleProtocolKey by NewTable, so
// passing a primary handle needs no user registration. On the receiving
// side Deserialize always mints a new handle for the carried id on the
// receiving connection; it does not resolve the id to a local object,
// even when the id names a receiver registered on the receiving side,
// so a handle passed back to the peer it came from arrives as a handle,
// not as that peer's original object.
type handleIdentity struct{}

func (handleIdentity) CanHandle(value interface{}) bool {
	h, ok := value.(*rhandle.Handle)
	return ok && h.IsPrimary()
}

func (handleIdentity) Serialize(value interface{}, _ Register) (interface{}, []interface{}, error) {
	return value.(*rhandle.Handle).ID(), nil, nil
}

func (handleIdentity) Deserialize(data json.RawMessage, mint MintHandle) (interface{}, error) {
	var id string
	if err := json.Unmarshal(data, &id); err != nil {
		return nil, err
	}
	return mint(id), nil
}
