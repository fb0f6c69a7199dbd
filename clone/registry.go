// Package clone implements the runtime's clone gate: a per-pipeline registry
// of type clone permissions and derived deep-clone handlers. Every payload
// crossing an asynchronous delivery boundary passes through this gate so the
// consumer's copy is isolated from later producer mutations.
//
// Handlers are derived once per type and cached; cloning never re-walks
// registration state. There is deliberately no process-global registry: each
// pipeline owns its own instance.
package clone

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	cerrors "github.com/c360/chronoflow/errors"
)

// Permissions opts a type in to clone strategies that are rejected by default.
// The zero value grants nothing.
type Permissions uint8

const (
	// AllowPointerCopy permits uintptr fields to be copied verbatim rather
	// than rejected. The numeric value is duplicated, not the pointee.
	AllowPointerCopy Permissions = 1 << iota
	// AllowHandleCopy permits unsafe.Pointer fields (unmanaged handles) to
	// be copied verbatim.
	AllowHandleCopy
	// SkipTransient zeroes fields tagged `clone:"-"` instead of cloning
	// them. Without this permission the tag alone does not excuse a field
	// that could not otherwise be cloned.
	SkipTransient
)

// String returns a pipe-separated list of granted permissions.
func (p Permissions) String() string {
	if p == 0 {
		return "none"
	}
	var parts []string
	if p&AllowPointerCopy != 0 {
		parts = append(parts, "pointer-copy")
	}
	if p&AllowHandleCopy != 0 {
		parts = append(parts, "handle-copy")
	}
	if p&SkipTransient != 0 {
		parts = append(parts, "skip-transient")
	}
	return strings.Join(parts, "|")
}

// transientTag marks fields excluded from cloning when SkipTransient is granted.
const transientTag = "clone"

// handler deep-clones src, using visited to preserve aliasing within a single
// clone operation.
type handler func(src reflect.Value, visited map[visitKey]reflect.Value) (reflect.Value, error)

// visitKey identifies a source instance during one clone operation. Slices
// include len and cap so aliasing is preserved only for identical
// (data pointer, len, cap) triples.
type visitKey struct {
	ptr uintptr
	typ reflect.Type
	len int
	cap int
}

// Registry maps types to clone permissions and caches derived clone handlers.
// Safe for concurrent use.
type Registry struct {
	mu        sync.Mutex
	perms     map[reflect.Type]Permissions
	immutable map[reflect.Type]bool
	resolved  map[reflect.Type]handler
	building  map[reflect.Type]bool
}

// NewRegistry creates a clone registry with the runtime's known-immutable
// types pre-registered: time.Time and time.Duration are shared verbatim.
func NewRegistry() *Registry {
	r := &Registry{
		perms:     make(map[reflect.Type]Permissions),
		immutable: make(map[reflect.Type]bool),
		resolved:  make(map[reflect.Type]handler),
		building:  make(map[reflect.Type]bool),
	}
	r.immutable[reflect.TypeOf(time.Time{})] = true
	r.immutable[reflect.TypeOf(time.Duration(0))] = true
	return r
}

// Register grants clone permissions to a type. Permissions may be registered
// at most once, before any handler for the type has been materialized by use.
//
//   - Registering zero permissions is a no-op.
//   - Registering identical permissions again is a no-op.
//   - Registering different permissions, or registering after the type's
//     handler already exists, is a fatal configuration error.
func (r *Registry) Register(t reflect.Type, p Permissions) error {
	if t == nil {
		return cerrors.WrapInvalid(cerrors.ErrInvalidConfig, "CloneRegistry", "Register", "nil type")
	}
	if p == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.perms[t]; ok {
		if existing == p {
			return nil
		}
		return cerrors.WrapFatal(
			fmt.Errorf("%w: type %s already registered with %s, refusing %s",
				cerrors.ErrPermissionsConflict, t, existing, p),
			"CloneRegistry", "Register", "re-registration with different permissions")
	}

	if _, used := r.resolved[t]; used {
		return cerrors.WrapFatal(
			fmt.Errorf("%w: clone handler for %s already materialized",
				cerrors.ErrPermissionsConflict, t),
			"CloneRegistry", "Register", "registration after first use")
	}

	r.perms[t] = p
	return nil
}

// RegisterType is the generic convenience form of Register.
func RegisterType[T any](r *Registry, p Permissions) error {
	return r.Register(reflect.TypeOf((*T)(nil)).Elem(), p)
}

// RegisterImmutable marks a type as safe to share without copying. Immutable
// types bypass field walking entirely, which also permits unexported fields.
// Re-registering an immutable type is a no-op; registering after the type's
// handler exists with a different strategy is a fatal configuration error.
func (r *Registry) RegisterImmutable(t reflect.Type) error {
	if t == nil {
		return cerrors.WrapInvalid(cerrors.ErrInvalidConfig, "CloneRegistry", "RegisterImmutable", "nil type")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.immutable[t] {
		return nil
	}
	if _, used := r.resolved[t]; used {
		return cerrors.WrapFatal(
			fmt.Errorf("%w: clone handler for %s already materialized",
				cerrors.ErrPermissionsConflict, t),
			"CloneRegistry", "RegisterImmutable", "registration after first use")
	}

	r.immutable[t] = true
	return nil
}

// RegisterImmutableType is the generic convenience form of RegisterImmutable.
func RegisterImmutableType[T any](r *Registry) error {
	return r.RegisterImmutable(reflect.TypeOf((*T)(nil)).Elem())
}

// CloneValue deep-clones v according to the registry's permissions. The
// returned value shares no mutable state with v except where a type is
// registered immutable or a permission explicitly sanctions sharing.
func CloneValue[T any](r *Registry, v T) (T, error) {
	// Taking the address gives a value of static type T even when T is an
	// interface holding a concrete value.
	src := reflect.ValueOf(&v).Elem()

	// A nil interface clones to nil; there is no dynamic value to walk,
	// and asserting an untyped nil back to T would panic.
	if src.Kind() == reflect.Interface && src.IsNil() {
		return v, nil
	}

	out, err := r.clone(src)
	if err != nil {
		var zero T
		return zero, err
	}
	res, ok := out.Interface().(T)
	if !ok {
		var zero T
		return zero, nil
	}
	return res, nil
}

func (r *Registry) clone(src reflect.Value) (reflect.Value, error) {
	h, err := r.handlerFor(src.Type())
	if err != nil {
		return reflect.Value{}, err
	}
	return h(src, make(map[visitKey]reflect.Value))
}

// handlerFor returns the cached handler for t, deriving it on first use.
func (r *Registry) handlerFor(t reflect.Type) (handler, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handlerForLocked(t)
}

func (r *Registry) handlerForLocked(t reflect.Type) (handler, error) {
	if h, ok := r.resolved[t]; ok {
		return h, nil
	}

	// Recursive type: hand back a deferred handler that resolves through
	// the cache at clone time, once the outer build has completed.
	if r.building[t] {
		return func(src reflect.Value, visited map[visitKey]reflect.Value) (reflect.Value, error) {
			r.mu.Lock()
			h := r.resolved[t]
			r.mu.Unlock()
			if h == nil {
				return reflect.Value{}, cerrors.WrapFatal(
					fmt.Errorf("%w: handler for %s vanished during recursive build",
						cerrors.ErrCloneUnsupported, t),
					"CloneRegistry", "clone", "recursive handler resolution")
			}
			return h(src, visited)
		}, nil
	}

	r.building[t] = true
	h, err := r.derive(t)
	delete(r.building, t)
	if err != nil {
		return nil, err
	}

	r.resolved[t] = h
	return h, nil
}
