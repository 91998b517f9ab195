package packio_test

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/maxatome/go-testdeep/td"

	"github.com/schemapack/schemapack/packio"
)

func TestAppendUint(t *testing.T) {
	testCases := []uint64{
		0, 1, 9, 10, 11, 99, 100, 101, 999, 1000,
		12345, 65535, 65536, 1<<32 - 1, 1 << 32,
		math.MaxUint64 - 1, math.MaxUint64,
	}

	for _, tC := range testCases {
		t.Run(fmt.Sprint(tC), func(t *testing.T) {
			got := string(packio.AppendUint(nil, tC))
			want := fmt.Sprint(tC)
			if got != want {
				t.Fatalf("wanted %q, got %q", want, got)
			}
		})
	}
}

func TestAppendInt(t *testing.T) {
	testCases := []int64{
		0, 1, -1, 9, -9, 10, -10, 12345, -12345,
		math.MaxInt64, math.MinInt64,
	}

	for _, tC := range testCases {
		t.Run(fmt.Sprint(tC), func(t *testing.T) {
			got := string(packio.AppendInt([]byte("x="), tC))
			want := "x=" + fmt.Sprint(tC)
			if got != want {
				t.Fatalf("wanted %q, got %q", want, got)
			}
		})
	}
}

func TestBuffer(t *testing.T) {
	var b packio.Buffer

	b.WriteByte('a')
	b.WriteString("bc")
	b.Write([]byte("de"))
	td.Cmp(t, string(b.Bytes()), "abcde")
	td.Cmp(t, b.Len(), 5)

	off := b.Grow(2)
	td.Cmp(t, off, 5)
	b.At(off)[0] = 'f'
	b.At(off)[1] = 'g'
	td.Cmp(t, string(b.Bytes()), "abcdefg")

	b.SetByte(0, 'A')
	td.Cmp(t, string(b.Bytes()), "Abcdefg")

	b.Truncate(3)
	td.Cmp(t, string(b.Bytes()), "Abc")

	b.Reset()
	td.Cmp(t, b.Len(), 0)
}

func TestPathRender(t *testing.T) {
	root := packio.PathNode{Index: packio.PathField, Field: "items"}
	idx := packio.PathNode{Parent: &root, Index: 2}
	leaf := packio.PathNode{Parent: &idx, Index: packio.PathField, Field: "name"}

	testCases := []struct {
		desc string
		path *packio.PathNode
		want string
	}{
		{"root", nil, "$"},
		{"field", &root, "$.items"},
		{"index", &idx, "$.items[2]"},
		{"nested", &leaf, "$.items[2].name"},
		{"key", &packio.PathNode{Parent: &root, Index: packio.PathKey}, "$.items.key"},
		{"ellipsis", &packio.PathNode{Parent: &root, Index: packio.PathEllipsis}, "$.items[...]"},
	}

	for _, tC := range testCases {
		t.Run(tC.desc, func(t *testing.T) {
			if got := tC.path.Render(); got != tC.want {
				t.Fatalf("wanted %q, got %q", tC.want, got)
			}
		})
	}
}

// Render reverses the list in place; a second call must see the original
// order.
func TestPathRenderTwice(t *testing.T) {
	root := packio.PathNode{Index: packio.PathField, Field: "a"}
	leaf := packio.PathNode{Parent: &root, Index: 7}

	first := leaf.Render()
	second := leaf.Render()
	if first != second {
		t.Fatalf("render is not repeatable: %q then %q", first, second)
	}
	td.Cmp(t, first, "$.a[7]")
}

func TestErrorClasses(t *testing.T) {
	encErr := packio.NewEncodeError("boom", packio.ErrUnsupported)
	decErr := packio.NewDecodeError("bad bytes", packio.ErrTruncated)
	valErr := packio.NewValidationError("Expected `int`", nil, packio.ErrWrongType)

	td.CmpTrue(t, errors.Is(encErr, packio.ErrEncode))
	td.CmpTrue(t, errors.Is(encErr, packio.ErrUnsupported))
	td.CmpFalse(t, errors.Is(encErr, packio.ErrDecode))

	td.CmpTrue(t, errors.Is(decErr, packio.ErrDecode))
	td.CmpTrue(t, errors.Is(decErr, packio.ErrTruncated))
	td.CmpFalse(t, errors.Is(decErr, packio.ErrValidation))

	// a ValidationError is also a DecodeError
	td.CmpTrue(t, errors.Is(valErr, packio.ErrValidation))
	td.CmpTrue(t, errors.Is(valErr, packio.ErrDecode))
	td.CmpTrue(t, errors.Is(valErr, packio.ErrWrongType))

	td.Cmp(t, valErr.Error(), "Expected `int` - at `$`")

	var ve *packio.ValidationError
	td.CmpTrue(t, errors.As(error(valErr), &ve))
	td.Cmp(t, ve.Path, "$")
}

func TestErrorCauseRendering(t *testing.T) {
	// a bare sentinel cause adds nothing to the message
	td.Cmp(t, packio.NewEncodeError("boom", packio.ErrUnsupported).Error(), "boom")
	td.Cmp(t, packio.NewDecodeError("bad bytes", packio.ErrTruncated).Error(), "bad bytes")
	td.Cmp(t, packio.NewEncodeError("boom", nil).Error(), "boom")

	// a cause with its own diagnosis is appended
	cause := errors.New("field a: unsupported key type chan int")
	td.Cmp(t, packio.NewEncodeError("schema build failed", cause).Error(),
		"schema build failed: field a: unsupported key type chan int")
	td.Cmp(t, packio.NewDecodeError("dec_hook failed", cause).Error(),
		"dec_hook failed: field a: unsupported key type chan int")
}

func TestFreelist(t *testing.T) {
	fl := packio.SharedFreelist()

	b := fl.Get(100)
	if len(b) != 0 {
		t.Fatalf("Get returned non-empty slice of length %d", len(b))
	}
	if cap(b) < 100 {
		t.Fatalf("Get(100) capacity %d", cap(b))
	}

	b = append(b, make([]byte, 100)...)
	fl.Put(b)

	// off-class buffers must be rejected rather than pooled
	fl.Put(make([]byte, 0, 100))
	fl.Put(make([]byte, 0, 7))
	fl.Put(make([]byte, 0, 1<<20))

	sizes := []int{0, 1, 63, 64, 65, 1024, 65536}
	for _, n := range sizes {
		got := fl.Get(n)
		if cap(got) < n {
			t.Fatalf("Get(%d) capacity %d", n, cap(got))
		}
		fl.Put(got)
	}
}

// Disabling the freelist must not change Get/Put behavior observable to
// callers.
func TestFreelistDisabled(t *testing.T) {
	fl := packio.SharedFreelist()
	fl.SetEnabled(false)
	defer fl.SetEnabled(true)

	b := fl.Get(256)
	if len(b) != 0 || cap(b) < 256 {
		t.Fatalf("disabled Get(256): len %d cap %d", len(b), cap(b))
	}
	fl.Put(b)
}
