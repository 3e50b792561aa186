package dispatch

import (
	"reflect"

	"github.com/pkg/errors"
)

// ErrNotFound is wrapped into the reply when a path segment names
// neither a map key, a struct field, nor a method on the resolved
// receiver.
var ErrNotFound = errors.New("proximate: member not found")

// ErrNotCallable is wrapped into the reply when args are present but
// the resolved member is not invokable.
var ErrNotCallable = errors.New("proximate: not a function")

// ErrNotAssignable is wrapped into the reply when a value write targets
// a receiver shape that cannot be assigned into.
var ErrNotAssignable = errors.New("proximate: cannot assign member")

// walk resolves every path segment but the last against root, returning
// the final parent object and the last segment's name. A zero-length
// tail (path referring directly to the receiver) returns root itself
// as both parent and object, with an empty tail name.
func walk(root interface{}, tail []string) (parent interface{}, name string, err error) {
	if len(tail) == 0 {
		return root, "", nil
	}
	cur := root
	for _, seg := range tail[:len(tail)-1] {
		cur, err = get(cur, seg)
		if err != nil {
			return nil, "", err
		}
	}
	return cur, tail[len(tail)-1], nil
}

// get reads member name off object: a map key, a method (returned as a
// bound method value, not called), or a struct field, in that order.
func get(object interface{}, name string) (interface{}, error) {
	if name == "" {
		return object, nil
	}
	if m, ok := object.(map[string]interface{}); ok {
		v, ok := m[name]
		if !ok {
			return nil, errors.Wrapf(ErrNotFound, "key %q", name)
		}
		return v, nil
	}
	rv := reflect.ValueOf(object)
	for rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, errors.Wrapf(ErrNotFound, "member %q on nil", name)
		}
		rv = rv.Elem()
	}
	if meth := reflect.ValueOf(object).MethodByName(name); meth.IsValid() {
		return meth.Interface(), nil
	}
	if rv.Kind() == reflect.Struct {
		fv := rv.FieldByName(name)
		if fv.IsValid() && fv.CanInterface() {
			return fv.Interface(), nil
		}
	}
	return nil, errors.Wrapf(ErrNotFound, "member %q", name)
}

// set assigns value into member name on parent: a map key or a
// settable struct field reached through a pointer.
func set(parent interface{}, name string, value interface{}) error {
	if m, ok := parent.(map[string]interface{}); ok {
		m[name] = value
		return nil
	}
	rv := reflect.ValueOf(parent)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return errors.Wrapf(ErrNotAssignable, "member %q", name)
	}
	elem := rv.Elem()
	if elem.Kind() != reflect.Struct {
		return errors.Wrapf(ErrNotAssignable, "member %q", name)
	}
	fv := elem.FieldByName(name)
	if !fv.IsValid() || !fv.CanSet() {
		return errors.Wrapf(ErrNotAssignable, "member %q", name)
	}
	fv.Set(coerce(value, fv.Type()))
	return nil
}

// invoke calls fn (the result of a prior get) with args, converting
// each to the target parameter type where possible and tolerating a
// trailing (T, error) or single T return, the two shapes a receiver
// method realistically has.
func invoke(fn interface{}, args []interface{}) (interface{}, error) {
	rv := reflect.ValueOf(fn)
	// funcproto registers funcs boxed as *interface{} (Go funcs aren't
	// comparable, so the registry's object->id map can't key on one
	// directly) — unwrap back down to the underlying func value.
	for rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			break
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Func {
		return nil, errors.Wrapf(ErrNotCallable, "%T", fn)
	}
	rt := rv.Type()
	in := make([]reflect.Value, 0, len(args))
	for i, a := range args {
		var pt reflect.Type
		switch {
		case rt.IsVariadic() && i >= rt.NumIn()-1:
			pt = rt.In(rt.NumIn() - 1).Elem()
		case i < rt.NumIn():
			pt = rt.In(i)
		default:
			pt = reflect.TypeOf(a)
		}
		in = append(in, coerce(a, pt))
	}
	out := rv.Call(in)
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		if errVal, ok := out[0].Interface().(error); ok {
			return nil, errVal
		}
		return out[0].Interface(), nil
	default:
		last := out[len(out)-1]
		var err error
		if !last.IsNil() {
			err, _ = last.Interface().(error)
		}
		return out[0].Interface(), err
	}
}

// coerce converts a JSON-decoded value (float64, string, bool, map,
// slice, nil) into target's type where a direct conversion exists,
// falling back to the original value's reflect.Value when no
// conversion applies (letting Call surface a runtime panic-turned-error
// rather than silently misbehaving is judged worse than a best-effort
// pass-through here, since the receiver's own type will reject it).
func coerce(value interface{}, target reflect.Type) reflect.Value {
	if value == nil {
		return reflect.Zero(target)
	}
	rv := reflect.ValueOf(value)
	if rv.Type().ConvertibleTo(target) {
		switch target.Kind() {
		case reflect.String, reflect.Bool,
			reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
			reflect.Float32, reflect.Float64:
			return rv.Convert(target)
		}
	}
	if rv.Type().AssignableTo(target) {
		return rv
	}
	return rv
}
