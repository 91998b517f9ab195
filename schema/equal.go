package schema

import (
	"fmt"
	"math"
	"math/bits"
	"reflect"

	"github.com/schemapack/schemapack/packio"
)

// instance returns the reflect value of a struct described by d, following a
// pointer if one is given.
func (d *StructDesc) instance(v any) (reflect.Value, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr && !rv.IsNil() && rv.Type().Elem() == d.GoType {
		return rv.Elem(), nil
	}
	if rv.IsValid() && rv.Type() == d.GoType {
		return rv, nil
	}
	return reflect.Value{}, packio.NewEncodeError(
		fmt.Sprintf("expected %s, got %T", d.Name, v), nil)
}

// Equal reports whether two instances compare equal field by field. The
// struct must be configured with eq.
func (d *StructDesc) Equal(a, b any) (bool, error) {
	if !d.Eq {
		return false, packio.NewEncodeError(d.Name+" does not support equality", nil)
	}
	av, err := d.instance(a)
	if err != nil {
		return false, err
	}
	bv, err := d.instance(b)
	if err != nil {
		return false, err
	}
	for i := range d.Fields {
		idx := d.Fields[i].Index
		if !reflect.DeepEqual(av.FieldByIndex(idx).Interface(), bv.FieldByIndex(idx).Interface()) {
			return false, nil
		}
	}
	return true, nil
}

// Less compares two instances lexicographically by field. The struct must be
// configured with order.
func (d *StructDesc) Less(a, b any) (bool, error) {
	if !d.Order {
		return false, packio.NewEncodeError(d.Name+" does not support ordering", nil)
	}
	av, err := d.instance(a)
	if err != nil {
		return false, err
	}
	bv, err := d.instance(b)
	if err != nil {
		return false, err
	}
	for i := range d.Fields {
		idx := d.Fields[i].Index
		c, err := compareValues(av.FieldByIndex(idx), bv.FieldByIndex(idx))
		if err != nil {
			return false, err
		}
		if c != 0 {
			return c < 0, nil
		}
	}
	return false, nil
}

func compareValues(a, b reflect.Value) (int, error) {
	switch a.Kind() {
	case reflect.Bool:
		x, y := b2i(a.Bool()), b2i(b.Bool())
		return x - y, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		x, y := a.Int(), b.Int()
		return cmpOrder(x < y, x > y), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		x, y := a.Uint(), b.Uint()
		return cmpOrder(x < y, x > y), nil
	case reflect.Float32, reflect.Float64:
		x, y := a.Float(), b.Float()
		return cmpOrder(x < y, x > y), nil
	case reflect.String:
		x, y := a.String(), b.String()
		return cmpOrder(x < y, x > y), nil
	}
	return 0, packio.NewEncodeError(
		fmt.Sprintf("field of type %s is not orderable", a.Type()), nil)
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

func cmpOrder(lt, gt bool) int {
	switch {
	case lt:
		return -1
	case gt:
		return 1
	}
	return 0
}

const (
	xxPrime1 = 11400714785074694791
	xxPrime2 = 14029467366897019727
	xxPrime5 = 2870177450012600261
)

// Hash computes a deterministic hash over all fields using an xxHash-style
// tuple mix. The struct must be configured with frozen (which implies eq).
func (d *StructDesc) Hash(v any) (uint64, error) {
	if !d.Frozen {
		return 0, packio.NewEncodeError(d.Name+" is not hashable", nil)
	}
	rv, err := d.instance(v)
	if err != nil {
		return 0, err
	}
	acc := uint64(xxPrime5)
	for i := range d.Fields {
		lane, err := hashValue(rv.FieldByIndex(d.Fields[i].Index))
		if err != nil {
			return 0, err
		}
		acc += lane * xxPrime2
		acc = bits.RotateLeft64(acc, 31)
		acc *= xxPrime1
	}
	return acc + uint64(len(d.Fields))^(xxPrime5^3527539), nil
}

func hashValue(v reflect.Value) (uint64, error) {
	switch v.Kind() {
	case reflect.Bool:
		return uint64(b2i(v.Bool())), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return uint64(v.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v.Uint(), nil
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if f == math.Trunc(f) && math.Abs(f) < 1<<62 {
			// integral floats hash like their integer value
			return uint64(int64(f)), nil
		}
		return math.Float64bits(f), nil
	case reflect.String:
		return uint64(murmur2(v.String(), 0)), nil
	case reflect.Ptr, reflect.Interface:
		if v.IsNil() {
			return xxPrime5, nil
		}
		return hashValue(v.Elem())
	case reflect.Struct:
		if sub := lookupDesc(v.Type()); sub != nil && sub.Frozen {
			return sub.Hash(v.Interface())
		}
	}
	return 0, packio.NewEncodeError(
		fmt.Sprintf("field of type %s is not hashable", v.Type()), nil)
}
