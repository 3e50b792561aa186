package codec

import (
	"encoding/json"
	"testing"

	"github.com/pkg/errors"

	"github.com/proximate-go/proximate/internal/wire"
)

func noopRegister(interface{}) string { return "" }

func TestSerializeRawPrimitive(t *testing.T) {
	v, transfer, err := Serialize(42, nil, nil, noopRegister)
	if err != nil {
		t.Fatal(err)
	}
	if transfer != nil {
		t.Fatal("expected no transfer list for a primitive")
	}
	if string(v.Raw) != "42" {
		t.Fatalf("expected raw 42, got %s", v.Raw)
	}
}

func TestSerializeCompoundUsesData(t *testing.T) {
	v, _, err := Serialize(map[string]int{"a": 1}, nil, nil, noopRegister)
	if err != nil {
		t.Fatal(err)
	}
	if v.Data == nil {
		t.Fatal("expected compound value to serialize into Data")
	}
	var got map[string]int
	if err := json.Unmarshal(v.Data, &got); err != nil {
		t.Fatal(err)
	}
	if got["a"] != 1 {
		t.Fatalf("unexpected round trip: %+v", got)
	}
}

func TestSerializeErrorGoesThroughErrorProtocol(t *testing.T) {
	v, _, err := Serialize(errors.New("boom"), nil, nil, noopRegister)
	if err != nil {
		t.Fatal(err)
	}
	if v.Error == nil || v.Error.Message != "boom" {
		t.Fatalf("expected error payload, got %+v", v)
	}
}

func TestDeserializeErrorYieldsRemoteError(t *testing.T) {
	v := &wire.Value{Error: &wire.WireError{Message: "boom", Stack: "trace"}}
	got, err := Deserialize(v, nil, nil, nil)
	if err == nil {
		t.Fatal("expected deserializing an {error} value to return an error")
	}
	re, ok := err.(*RemoteError)
	if !ok {
		t.Fatalf("expected *RemoteError, got %T", err)
	}
	if re.Message != "boom" || got != nil {
		t.Fatalf("unexpected result: got=%v err=%+v", got, re)
	}
}

func TestDeserializeUnknownProtocolFails(t *testing.T) {
	v := &wire.Value{Type: "nonexistent", Data: json.RawMessage(`1`)}
	if _, err := Deserialize(v, nil, nil, nil); errors.Cause(err) != ErrUnknownProtocol {
		t.Fatalf("expected ErrUnknownProtocol, got %v", err)
	}
}

func TestHandleBaseRegistersAndMints(t *testing.T) {
	hb := HandleBase{}
	var registeredWith interface{}
	register := func(value interface{}) string {
		registeredWith = value
		return "id-1"
	}
	data, _, err := hb.Serialize("some-object", register)
	if err != nil {
		t.Fatal(err)
	}
	if registeredWith != "some-object" {
		t.Fatalf("expected register to be called with the value, got %v", registeredWith)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatal(err)
	}

	var mintedWith string
	mint := func(id string) interface{} {
		mintedWith = id
		return "handle-for-" + id
	}
	got, err := hb.Deserialize(raw, mint)
	if err != nil {
		t.Fatal(err)
	}
	if mintedWith != "id-1" || got != "handle-for-id-1" {
		t.Fatalf("unexpected deserialize result: %v (minted with %q)", got, mintedWith)
	}
}

func TestFindPrefersLocalOverFallback(t *testing.T) {
	local := NewTable()
	fallback := NewTable()
	local.Set("probe", alwaysHandler{tag: "local"})
	fallback.Set("probe", alwaysHandler{tag: "fallback"})

	key, h, ok := Find(local, fallback, "anything")
	if !ok || key != "probe" {
		t.Fatalf("expected to find probe handler, got key=%q ok=%v", key, ok)
	}
	if h.(alwaysHandler).tag != "local" {
		t.Fatal("expected the local table's handler to win")
	}
}

type alwaysHandler struct{ tag string }

func (alwaysHandler) CanHandle(interface{}) bool { return true }
func (alwaysHandler) Serialize(value interface{}, _ Register) (interface{}, []interface{}, error) {
	return value, nil, nil
}
func (alwaysHandler) Deserialize(data json.RawMessage, _ MintHandle) (interface{}, error) {
	return data, nil
}
