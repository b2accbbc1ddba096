package operators

import (
	"fmt"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
)

var (
	ErrUnsupportedValueType = func(dt arrow.DataType) error {
		return fmt.Errorf("unsupported arrow type for row level access: %s", dt)
	}
)

// ValueAt reads a single element out of an arrow array as a go value.
// Returns nil for a null element.
func ValueAt(col arrow.Array, i int) any {
	if col.IsNull(i) {
		return nil
	}
	switch arr := col.(type) {
	case *array.Int8:
		return arr.Value(i)
	case *array.Int16:
		return arr.Value(i)
	case *array.Int32:
		return arr.Value(i)
	case *array.Int64:
		return arr.Value(i)
	case *array.Uint8:
		return arr.Value(i)
	case *array.Uint16:
		return arr.Value(i)
	case *array.Uint32:
		return arr.Value(i)
	case *array.Uint64:
		return arr.Value(i)
	case *array.Float32:
		return arr.Value(i)
	case *array.Float64:
		return arr.Value(i)
	case *array.String:
		return arr.Value(i)
	case *array.Boolean:
		return arr.Value(i)
	case *array.Null:
		return nil
	default:
		panic(ErrUnsupportedValueType(col.DataType()))
	}
}

// CompareAt compares element i of a with element j of b. Both arrays must hold
// the same logical type. Nulls compare as the lowest value, both-null as equal.
func CompareAt(a arrow.Array, i int, b arrow.Array, j int) int {
	if a.IsNull(i) && b.IsNull(j) {
		return 0
	}
	if a.IsNull(i) {
		return -1
	}
	if b.IsNull(j) {
		return 1
	}

	switch al := a.(type) {
	case *array.String:
		vi := al.Value(i)
		vj := b.(*array.String).Value(j)
		switch {
		case vi < vj:
			return -1
		case vi > vj:
			return 1
		default:
			return 0
		}
	case *array.Int8:
		return compareNumeric(al.Value(i), b.(*array.Int8).Value(j))
	case *array.Int16:
		return compareNumeric(al.Value(i), b.(*array.Int16).Value(j))
	case *array.Int32:
		return compareNumeric(al.Value(i), b.(*array.Int32).Value(j))
	case *array.Int64:
		return compareNumeric(al.Value(i), b.(*array.Int64).Value(j))
	case *array.Uint8:
		return compareNumeric(al.Value(i), b.(*array.Uint8).Value(j))
	case *array.Uint16:
		return compareNumeric(al.Value(i), b.(*array.Uint16).Value(j))
	case *array.Uint32:
		return compareNumeric(al.Value(i), b.(*array.Uint32).Value(j))
	case *array.Uint64:
		return compareNumeric(al.Value(i), b.(*array.Uint64).Value(j))
	case *array.Float32:
		return compareFloat(al.Value(i), b.(*array.Float32).Value(j))
	case *array.Float64:
		return compareFloat(al.Value(i), b.(*array.Float64).Value(j))
	case *array.Boolean:
		vi, vj := al.Value(i), b.(*array.Boolean).Value(j)
		if vi == vj {
			return 0
		}
		if !vi && vj {
			return -1
		}
		return 1
	default:
		panic(ErrUnsupportedValueType(a.DataType()))
	}
}

// CompareOrdered is CompareAt under an explicit sort ordering: direction flips
// the value comparison and nullsFirst decides which end nulls sort to.
func CompareOrdered(a arrow.Array, i int, b arrow.Array, j int, ascending, nullsFirst bool) int {
	iNull, jNull := a.IsNull(i), b.IsNull(j)
	if iNull && jNull {
		return 0
	}
	if iNull {
		if nullsFirst {
			return -1
		}
		return 1
	}
	if jNull {
		if nullsFirst {
			return 1
		}
		return -1
	}
	cmp := CompareAt(a, i, b, j)
	if !ascending {
		return -cmp
	}
	return cmp
}

func compareNumeric[T int64 | int32 | int16 | int8 | uint64 | uint32 | uint16 | uint8](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareFloat[T float32 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// NewBuilderFor returns an array builder matching dt.
func NewBuilderFor(dt arrow.DataType) (array.Builder, error) {
	mem := memory.DefaultAllocator
	switch dt.ID() {
	case arrow.INT8:
		return array.NewInt8Builder(mem), nil
	case arrow.INT16:
		return array.NewInt16Builder(mem), nil
	case arrow.INT32:
		return array.NewInt32Builder(mem), nil
	case arrow.INT64:
		return array.NewInt64Builder(mem), nil
	case arrow.UINT8:
		return array.NewUint8Builder(mem), nil
	case arrow.UINT16:
		return array.NewUint16Builder(mem), nil
	case arrow.UINT32:
		return array.NewUint32Builder(mem), nil
	case arrow.UINT64:
		return array.NewUint64Builder(mem), nil
	case arrow.FLOAT32:
		return array.NewFloat32Builder(mem), nil
	case arrow.FLOAT64:
		return array.NewFloat64Builder(mem), nil
	case arrow.STRING:
		return array.NewStringBuilder(mem), nil
	case arrow.BOOL:
		return array.NewBooleanBuilder(mem), nil
	default:
		return nil, ErrUnsupportedValueType(dt)
	}
}

// AppendAny appends a go value produced by ValueAt to a builder of the
// matching type. nil appends a null.
func AppendAny(b array.Builder, v any) error {
	if v == nil {
		b.AppendNull()
		return nil
	}
	switch bld := b.(type) {
	case *array.Int8Builder:
		bld.Append(v.(int8))
	case *array.Int16Builder:
		bld.Append(v.(int16))
	case *array.Int32Builder:
		bld.Append(v.(int32))
	case *array.Int64Builder:
		switch n := v.(type) {
		case int64:
			bld.Append(n)
		case float64:
			bld.Append(int64(n))
		default:
			return fmt.Errorf("cannot append %T to an int64 column", v)
		}
	case *array.Uint8Builder:
		bld.Append(v.(uint8))
	case *array.Uint16Builder:
		bld.Append(v.(uint16))
	case *array.Uint32Builder:
		bld.Append(v.(uint32))
	case *array.Uint64Builder:
		bld.Append(v.(uint64))
	case *array.Float32Builder:
		bld.Append(v.(float32))
	case *array.Float64Builder:
		switch n := v.(type) {
		case float64:
			bld.Append(n)
		case int64:
			bld.Append(float64(n))
		default:
			return fmt.Errorf("cannot append %T to a float64 column", v)
		}
	case *array.StringBuilder:
		bld.Append(v.(string))
	case *array.BooleanBuilder:
		bld.Append(v.(bool))
	default:
		return fmt.Errorf("no append support for builder %T", b)
	}
	return nil
}

// AsInt64 coerces a go value read from an integer column to int64.
// The second return is false for nil or a non integer value.
func AsInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	default:
		return 0, false
	}
}

// NullArray builds an all null array of n rows for dt.
func NullArray(dt arrow.DataType, n int) (arrow.Array, error) {
	b, err := NewBuilderFor(dt)
	if err != nil {
		return nil, err
	}
	defer b.Release()
	for i := 0; i < n; i++ {
		b.AppendNull()
	}
	return b.NewArray(), nil
}
