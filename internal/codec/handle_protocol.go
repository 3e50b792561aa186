package codec

import "encoding/json"

// HandleBase is the built-in convenience protocol base described in
// spec.md §4.3: Serialize registers the value and emits its id;
// Deserialize mints a local handle for that id. Concrete protocols
// (e.g. a function-passing protocol) embed HandleBase and supply their
// own CanHandle.
type HandleBase struct{}

func (HandleBase) Serialize(value interface{}, register Register) (interface{}, []interface{}, error) {
	return register(value), nil, nil
}

func (HandleBase) Deserialize(data json.RawMessage, mint MintHandle) (interface{}, error) {
	var id string
	if err := json.Unmarshal(data, &id); err != nil {
		return nil, err
	}
	return mint(id), nil
}
