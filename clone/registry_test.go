package clone

import (
	"reflect"
	"sync"
	"testing"
	"time"
	"unsafe"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/c360/chronoflow/errors"
)

type sample struct {
	Name   string
	Counts []int
	Tags   map[string]int
	Next   *sample
}

func TestCloneValueScalars(t *testing.T) {
	r := NewRegistry()

	i, err := CloneValue(r, 42)
	require.NoError(t, err)
	assert.Equal(t, 42, i)

	s, err := CloneValue(r, "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", s)

	f, err := CloneValue(r, 3.5)
	require.NoError(t, err)
	assert.Equal(t, 3.5, f)
}

func TestCloneValueStructIsolation(t *testing.T) {
	r := NewRegistry()

	src := sample{
		Name:   "a",
		Counts: []int{1, 2, 3},
		Tags:   map[string]int{"x": 1},
	}

	dst, err := CloneValue(r, src)
	require.NoError(t, err)
	require.Empty(t, cmp.Diff(src, dst))

	// Mutating the source must not reach the clone.
	src.Counts[0] = 99
	src.Tags["x"] = 99
	assert.Equal(t, 1, dst.Counts[0])
	assert.Equal(t, 1, dst.Tags["x"])
}

func TestCloneValuePointerGraphAliasing(t *testing.T) {
	r := NewRegistry()

	shared := &sample{Name: "shared"}
	type holder struct {
		A *sample
		B *sample
	}
	src := holder{A: shared, B: shared}

	dst, err := CloneValue(r, src)
	require.NoError(t, err)

	// Aliasing preserved within one clone: both fields reference a single
	// cloned instance, which is not the source instance.
	assert.Same(t, dst.A, dst.B)
	assert.NotSame(t, src.A, dst.A)
	assert.Equal(t, "shared", dst.A.Name)
}

func TestCloneValueCycle(t *testing.T) {
	r := NewRegistry()

	a := &sample{Name: "a"}
	a.Next = a // self-reference

	dst, err := CloneValue(r, a)
	require.NoError(t, err)
	assert.NotSame(t, a, dst)
	assert.Same(t, dst, dst.Next, "cycle must map onto the cloned instance")
}

func TestCloneValueNilHandling(t *testing.T) {
	r := NewRegistry()

	var p *sample
	gotP, err := CloneValue(r, p)
	require.NoError(t, err)
	assert.Nil(t, gotP)

	var s []int
	gotS, err := CloneValue(r, s)
	require.NoError(t, err)
	assert.Nil(t, gotS)

	empty := []int{}
	gotE, err := CloneValue(r, empty)
	require.NoError(t, err)
	require.NotNil(t, gotE)
	assert.Len(t, gotE, 0)

	var m map[string]int
	gotM, err := CloneValue(r, m)
	require.NoError(t, err)
	assert.Nil(t, gotM)
}

func TestCloneValueInterfaceDispatch(t *testing.T) {
	r := NewRegistry()

	var v any = sample{Name: "dyn", Counts: []int{7}}
	got, err := CloneValue(r, v)
	require.NoError(t, err)

	gotSample, ok := got.(sample)
	require.True(t, ok)
	assert.Equal(t, "dyn", gotSample.Name)

	var nilIface any
	gotNil, err := CloneValue(r, nilIface)
	require.NoError(t, err)
	assert.Nil(t, gotNil)

	// Non-empty interface types must come back as typed nil too.
	var nilErr error
	gotErr, err := CloneValue(r, nilErr)
	require.NoError(t, err)
	assert.Nil(t, gotErr)
}

func TestCloneValueTimeSharedVerbatim(t *testing.T) {
	r := NewRegistry()

	// time.Time has unexported fields; it clones only because it is
	// pre-registered immutable.
	now := time.Now()
	got, err := CloneValue(r, now)
	require.NoError(t, err)
	assert.True(t, now.Equal(got))

	type stamped struct {
		At time.Time
		D  time.Duration
	}
	src := stamped{At: now, D: time.Second}
	gotS, err := CloneValue(r, src)
	require.NoError(t, err)
	assert.True(t, src.At.Equal(gotS.At))
	assert.Equal(t, time.Second, gotS.D)
}

type withFunc struct {
	Name string
	Fn   func()
}

type withTransientFunc struct {
	Name string
	Fn   func() `clone:"-"`
}

func TestCloneValueRejectsFuncField(t *testing.T) {
	r := NewRegistry()

	_, err := CloneValue(r, withFunc{Name: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, cerrors.ErrCloneUnsupported)
	assert.Contains(t, err.Error(), "Fn", "error must name the offending field")
	assert.True(t, cerrors.IsFatal(err))
}

func TestCloneValueSkipTransient(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, RegisterType[withTransientFunc](r, SkipTransient))

	got, err := CloneValue(r, withTransientFunc{Name: "x", Fn: func() {}})
	require.NoError(t, err)
	assert.Equal(t, "x", got.Name)
	assert.Nil(t, got.Fn, "transient field must be zeroed")
}

type withUintptr struct {
	Raw uintptr
}

type withHandle struct {
	H unsafe.Pointer
}

func TestCloneValuePointerCopyPermission(t *testing.T) {
	r := NewRegistry()

	_, err := CloneValue(r, withUintptr{Raw: 0xdead})
	require.Error(t, err)
	assert.ErrorIs(t, err, cerrors.ErrCloneUnsupported)
	assert.Contains(t, err.Error(), "Raw")

	r2 := NewRegistry()
	require.NoError(t, RegisterType[withUintptr](r2, AllowPointerCopy))
	got, err := CloneValue(r2, withUintptr{Raw: 0xdead})
	require.NoError(t, err)
	assert.Equal(t, uintptr(0xdead), got.Raw)
}

func TestCloneValueHandleCopyPermission(t *testing.T) {
	r := NewRegistry()

	x := 7
	_, err := CloneValue(r, withHandle{H: unsafe.Pointer(&x)})
	require.Error(t, err)
	assert.ErrorIs(t, err, cerrors.ErrCloneUnsupported)

	r2 := NewRegistry()
	require.NoError(t, RegisterType[withHandle](r2, AllowHandleCopy))
	got, err := CloneValue(r2, withHandle{H: unsafe.Pointer(&x)})
	require.NoError(t, err)
	assert.Equal(t, unsafe.Pointer(&x), got.H)
}

type withHidden struct {
	Name   string
	hidden int //nolint:unused // exercised through the rejection path
}

func TestCloneValueRejectsUnexportedField(t *testing.T) {
	r := NewRegistry()

	_, err := CloneValue(r, withHidden{Name: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, cerrors.ErrCloneUnsupported)
	assert.Contains(t, err.Error(), "hidden")
}

func TestCloneValueImmutableAllowsUnexported(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, RegisterImmutableType[withHidden](r))

	src := withHidden{Name: "x", hidden: 3}
	got, err := CloneValue(r, src)
	require.NoError(t, err)
	assert.Equal(t, src, got)
}

func TestRegisterIdenticalTwiceIsNoOp(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, RegisterType[withUintptr](r, AllowPointerCopy))
	require.NoError(t, RegisterType[withUintptr](r, AllowPointerCopy))
}

func TestRegisterZeroPermissionsIsNoOp(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, RegisterType[withUintptr](r, 0))

	// Zero registration left no state behind, so a real one still works.
	require.NoError(t, RegisterType[withUintptr](r, AllowPointerCopy))
}

func TestRegisterConflictingPermissions(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, RegisterType[withUintptr](r, AllowPointerCopy))
	err := RegisterType[withUintptr](r, AllowPointerCopy|SkipTransient)
	require.Error(t, err)
	assert.ErrorIs(t, err, cerrors.ErrPermissionsConflict)
	assert.True(t, cerrors.IsFatal(err))
}

func TestRegisterAfterFirstUseFails(t *testing.T) {
	r := NewRegistry()

	// Materialize the handler implicitly by use.
	_, err := CloneValue(r, sample{Name: "x"})
	require.NoError(t, err)

	err = RegisterType[sample](r, SkipTransient)
	require.Error(t, err)
	assert.ErrorIs(t, err, cerrors.ErrPermissionsConflict)
}

func TestSliceAliasingPreservedForIdenticalTriples(t *testing.T) {
	r := NewRegistry()

	backing := []int{1, 2, 3}
	type twoSlices struct {
		A []int
		B []int
	}
	src := twoSlices{A: backing, B: backing}

	dst, err := CloneValue(r, src)
	require.NoError(t, err)

	// Identical (ptr, len, cap) → one cloned backing array.
	dst.A[0] = 42
	assert.Equal(t, 42, dst.B[0])
	assert.Equal(t, 1, backing[0])

	// Different len over the same pointer → independent clones.
	src2 := twoSlices{A: backing, B: backing[:2]}
	dst2, err := CloneValue(r, src2)
	require.NoError(t, err)
	dst2.A[0] = 7
	assert.Equal(t, 1, dst2.B[0])
}

func TestRegistryConcurrentUse(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				src := sample{Name: "n", Counts: []int{j}}
				got, err := CloneValue(r, src)
				assert.NoError(t, err)
				assert.Equal(t, j, got.Counts[0])
			}
		}()
	}
	wg.Wait()
}

func TestPermissionsString(t *testing.T) {
	assert.Equal(t, "none", Permissions(0).String())
	assert.Equal(t, "pointer-copy", AllowPointerCopy.String())
	assert.Equal(t, "pointer-copy|handle-copy|skip-transient",
		(AllowPointerCopy | AllowHandleCopy | SkipTransient).String())
}

func TestRegisterNilType(t *testing.T) {
	r := NewRegistry()
	var nilType reflect.Type
	require.Error(t, r.Register(nilType, AllowPointerCopy))
	require.Error(t, r.RegisterImmutable(nilType))
}
