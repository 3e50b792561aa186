package codec

import (
	"encoding/json"
	"fmt"

	pkgerrors "github.com/pkg/errors"

	"github.com/proximate-go/proximate/internal/wire"
)

// RemoteError reconstructs an error that crossed the wire. Identity is
// not preserved (spec.md §7): only the message and stack survive.
type RemoteError struct {
	Message string
	Stack   string
}

func (e *RemoteError) Error() string { return e.Message }

// errorHandler is the default protocol installed under
// ErrorProtocolKey; it is not consulted through the normal CanHandle
// dispatch (Serialize checks error-ness directly per spec.md §4.3
// step 2), but it is addressable by Deserialize via the reserved key
// for symmetry and so a peer-sent {type:"error"} round-trips cleanly.
type errorHandler struct{}

func (errorHandler) CanHandle(value interface{}) bool {
	_, ok := value.(error)
	return ok
}

func (errorHandler) Serialize(value interface{}, _ Register) (interface{}, []interface{}, error) {
	err := value.(error)
	return wireErrorPayload(err), nil, nil
}

func (errorHandler) Deserialize(data json.RawMessage, _ MintHandle) (interface{}, error) {
	var we wire.WireError
	if err := json.Unmarshal(data, &we); err != nil {
		return nil, err
	}
	return &RemoteError{Message: we.Message, Stack: we.Stack}, nil
}

func (errorHandler) toWire(err error) *wire.Value {
	return &wire.Value{Error: &wire.WireError{
		Message: err.Error(),
		Stack:   stackOf(err),
	}}
}

func wireErrorPayload(err error) *wire.WireError {
	return &wire.WireError{Message: err.Error(), Stack: stackOf(err)}
}

type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

// stackOf returns a best-effort stack trace string for err, using
// github.com/pkg/errors's StackTrace interface when the error was
// wrapped with it, and an empty string otherwise (a bare stdlib error
// carries no trace to forward).
func stackOf(err error) string {
	if st, ok := err.(stackTracer); ok {
		return fmt.Sprintf("%+v", st.StackTrace())
	}
	return ""
}
