package clone

import (
	"fmt"
	"reflect"

	cerrors "github.com/c360/chronoflow/errors"
)

// shareVerbatim is the handler for immutable and scalar types: the value
// itself is the copy.
func shareVerbatim(src reflect.Value, _ map[visitKey]reflect.Value) (reflect.Value, error) {
	return src, nil
}

// derive builds the clone handler for t. Called with r.mu held; recursion
// goes through handlerForLocked so mutually recursive types terminate.
func (r *Registry) derive(t reflect.Type) (handler, error) {
	if r.immutable[t] {
		return shareVerbatim, nil
	}

	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64,
		reflect.Complex64, reflect.Complex128,
		reflect.String:
		return shareVerbatim, nil

	case reflect.Uintptr:
		if r.perms[t]&AllowPointerCopy != 0 {
			return shareVerbatim, nil
		}
		return nil, rejectType(t, "uintptr requires AllowPointerCopy")

	case reflect.UnsafePointer:
		if r.perms[t]&AllowHandleCopy != 0 {
			return shareVerbatim, nil
		}
		return nil, rejectType(t, "unsafe.Pointer requires AllowHandleCopy")

	case reflect.Chan:
		return nil, rejectType(t, "chan values cannot be cloned")

	case reflect.Func:
		return nil, rejectType(t, "func values cannot be cloned")

	case reflect.Pointer:
		return r.derivePointer(t)

	case reflect.Slice:
		return r.deriveSlice(t)

	case reflect.Array:
		return r.deriveArray(t)

	case reflect.Map:
		return r.deriveMap(t)

	case reflect.Interface:
		return r.deriveInterface(t)

	case reflect.Struct:
		return r.deriveStruct(t)

	default:
		return nil, rejectType(t, fmt.Sprintf("unsupported kind %s", t.Kind()))
	}
}

func (r *Registry) derivePointer(t reflect.Type) (handler, error) {
	elem, err := r.handlerForLocked(t.Elem())
	if err != nil {
		return nil, err
	}

	return func(src reflect.Value, visited map[visitKey]reflect.Value) (reflect.Value, error) {
		if src.IsNil() {
			return reflect.Zero(t), nil
		}

		key := visitKey{ptr: src.Pointer(), typ: t}
		if seen, ok := visited[key]; ok {
			return seen, nil
		}

		// Record the clone before descending so cycles terminate and
		// repeated references resolve to the same cloned instance.
		dst := reflect.New(t.Elem())
		visited[key] = dst

		cloned, err := elem(src.Elem(), visited)
		if err != nil {
			return reflect.Value{}, err
		}
		dst.Elem().Set(cloned)
		return dst, nil
	}, nil
}

func (r *Registry) deriveSlice(t reflect.Type) (handler, error) {
	elem, err := r.handlerForLocked(t.Elem())
	if err != nil {
		return nil, err
	}

	return func(src reflect.Value, visited map[visitKey]reflect.Value) (reflect.Value, error) {
		if src.IsNil() {
			return reflect.Zero(t), nil
		}

		key := visitKey{ptr: src.Pointer(), typ: t, len: src.Len(), cap: src.Cap()}
		if seen, ok := visited[key]; ok {
			return seen, nil
		}

		dst := reflect.MakeSlice(t, src.Len(), src.Cap())
		visited[key] = dst

		for i := 0; i < src.Len(); i++ {
			cloned, err := elem(src.Index(i), visited)
			if err != nil {
				return reflect.Value{}, err
			}
			dst.Index(i).Set(cloned)
		}
		return dst, nil
	}, nil
}

func (r *Registry) deriveArray(t reflect.Type) (handler, error) {
	elem, err := r.handlerForLocked(t.Elem())
	if err != nil {
		return nil, err
	}

	return func(src reflect.Value, visited map[visitKey]reflect.Value) (reflect.Value, error) {
		dst := reflect.New(t).Elem()
		for i := 0; i < src.Len(); i++ {
			cloned, err := elem(src.Index(i), visited)
			if err != nil {
				return reflect.Value{}, err
			}
			dst.Index(i).Set(cloned)
		}
		return dst, nil
	}, nil
}

func (r *Registry) deriveMap(t reflect.Type) (handler, error) {
	keyH, err := r.handlerForLocked(t.Key())
	if err != nil {
		return nil, err
	}
	valH, err := r.handlerForLocked(t.Elem())
	if err != nil {
		return nil, err
	}

	return func(src reflect.Value, visited map[visitKey]reflect.Value) (reflect.Value, error) {
		if src.IsNil() {
			return reflect.Zero(t), nil
		}

		key := visitKey{ptr: src.Pointer(), typ: t}
		if seen, ok := visited[key]; ok {
			return seen, nil
		}

		dst := reflect.MakeMapWithSize(t, src.Len())
		visited[key] = dst

		iter := src.MapRange()
		for iter.Next() {
			k, err := keyH(iter.Key(), visited)
			if err != nil {
				return reflect.Value{}, err
			}
			v, err := valH(iter.Value(), visited)
			if err != nil {
				return reflect.Value{}, err
			}
			dst.SetMapIndex(k, v)
		}
		return dst, nil
	}, nil
}

// deriveInterface dispatches on the dynamic type at clone time; the dynamic
// handler is resolved through the cache so each concrete type is still
// derived only once.
func (r *Registry) deriveInterface(t reflect.Type) (handler, error) {
	return func(src reflect.Value, visited map[visitKey]reflect.Value) (reflect.Value, error) {
		if src.IsNil() {
			return reflect.Zero(t), nil
		}

		concrete := src.Elem()
		h, err := r.handlerFor(concrete.Type())
		if err != nil {
			return reflect.Value{}, err
		}

		cloned, err := h(concrete, visited)
		if err != nil {
			return reflect.Value{}, err
		}

		dst := reflect.New(t).Elem()
		dst.Set(cloned)
		return dst, nil
	}, nil
}

// fieldAction describes how one struct field is reproduced in the clone.
type fieldAction struct {
	index int
	// zero fields are reset instead of cloned (transient skip).
	zero bool
	// verbatim fields are assigned directly (sanctioned pointer/handle copy).
	verbatim bool
	h        handler
}

func (r *Registry) deriveStruct(t reflect.Type) (handler, error) {
	perms := r.perms[t]
	actions := make([]fieldAction, 0, t.NumField())

	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		transient := f.Tag.Get(transientTag) == "-"

		if transient && perms&SkipTransient != 0 {
			actions = append(actions, fieldAction{index: i, zero: true})
			continue
		}

		if !f.IsExported() {
			return nil, rejectField(t, f.Name, "unexported field; register the type immutable or tag it transient")
		}

		switch f.Type.Kind() {
		case reflect.Uintptr:
			if perms&AllowPointerCopy == 0 {
				return nil, rejectField(t, f.Name, "uintptr field requires AllowPointerCopy")
			}
			actions = append(actions, fieldAction{index: i, verbatim: true})
			continue
		case reflect.UnsafePointer:
			if perms&AllowHandleCopy == 0 {
				return nil, rejectField(t, f.Name, "unsafe.Pointer field requires AllowHandleCopy")
			}
			actions = append(actions, fieldAction{index: i, verbatim: true})
			continue
		case reflect.Chan:
			return nil, rejectField(t, f.Name, "chan field cannot be cloned; tag it transient and grant SkipTransient")
		case reflect.Func:
			return nil, rejectField(t, f.Name, "func field cannot be cloned; tag it transient and grant SkipTransient")
		}

		h, err := r.handlerForLocked(f.Type)
		if err != nil {
			return nil, err
		}
		actions = append(actions, fieldAction{index: i, h: h})
	}

	return func(src reflect.Value, visited map[visitKey]reflect.Value) (reflect.Value, error) {
		dst := reflect.New(t).Elem()
		for _, a := range actions {
			switch {
			case a.zero:
				// Left at the field's zero value.
			case a.verbatim:
				dst.Field(a.index).Set(src.Field(a.index))
			default:
				cloned, err := a.h(src.Field(a.index), visited)
				if err != nil {
					return reflect.Value{}, err
				}
				dst.Field(a.index).Set(cloned)
			}
		}
		return dst, nil
	}, nil
}

func rejectType(t reflect.Type, reason string) error {
	return cerrors.WrapFatal(
		fmt.Errorf("%w: type %s: %s", cerrors.ErrCloneUnsupported, t, reason),
		"CloneRegistry", "derive", "unsupported type")
}

func rejectField(t reflect.Type, field, reason string) error {
	return cerrors.WrapFatal(
		fmt.Errorf("%w: type %s field %s: %s", cerrors.ErrCloneUnsupported, t, field, reason),
		"CloneRegistry", "derive", "unsupported field")
}
