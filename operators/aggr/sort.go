package aggr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"quiver-sql-go/Expr"
	"quiver-sql-go/operators"
	"sort"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/compute"
	"github.com/apache/arrow/go/v17/arrow/memory"
)

// order by col asc, col 2 desc .... etc
var (
	_ = (operators.Operator)(&SortExec{})
)

type SortKey struct {
	Expr      Expr.Expression
	Ascending bool // by default false -- DESC (highest values first -> smaller values)
	NullFirst bool // by default false -- nulls last
}

func NewSortKey(expr Expr.Expression, options ...bool) *SortKey {
	var asc, nullF bool
	switch len(options) {
	case 2:
		asc = options[0]
		nullF = options[1]
	case 1:
		asc = options[0]
	}
	return &SortKey{
		Expr:      expr,
		Ascending: asc,
		NullFirst: nullF,
	}
}

func CombineSortKeys(sk ...*SortKey) []SortKey {
	var res []SortKey
	for _, s := range sk {
		res = append(res, *s)
	}
	return res
}

// SortSpec is the column level ordering policy of one sort key, once the key
// expression has already been evaluated to an array.
type SortSpec struct {
	Ascending  bool
	NullsFirst bool
}

// Permutation computes a stable permutation over the rows of keyColumns such
// that applying it yields lexicographic order under the per key specs.
// keyColumns[i] corresponds to specs[i]; all columns must share a length.
// This is the sort facility used by SortExec and the window operator.
func Permutation(keyColumns []arrow.Array, specs []SortSpec) []int64 {
	var n int
	if len(keyColumns) > 0 {
		n = keyColumns[0].Len()
	}
	perm := make([]int64, n)
	for i := range perm {
		perm[i] = int64(i)
	}
	sort.SliceStable(perm, func(a, b int) bool {
		i := perm[a]
		j := perm[b]
		for k, col := range keyColumns {
			cmp := operators.CompareOrdered(col, int(i), col, int(j), specs[k].Ascending, specs[k].NullsFirst)
			if cmp == 0 {
				continue
			}
			return cmp < 0
		}
		// completely equal for all keys
		return false
	})
	return perm
}

type SortExec struct {
	child    operators.Operator
	schema   *arrow.Schema
	sortKeys []SortKey // resolves to columns
	// internal book keeping
	totalColumns   []arrow.Array
	consumedOffset uint64
	totalRows      uint64
	consumed       bool // did we finish reading all of the child record batches?
	done           bool // have we already produced all the sorted record batches?
}

func NewSortExec(child operators.Operator, sortKeys []SortKey) (*SortExec, error) {
	return &SortExec{
		child:    child,
		schema:   child.Schema(),
		sortKeys: sortKeys,
	}, nil
}

// for now read everything into memory and sort -- next steps will be to do external merge

// n is the number of records we will return. sortExec reads its child to EOF
// on the first call, this is more efficient than trusting the caller to pass
// a reasonable n so that we avoid small/frequent IO operations
func (s *SortExec) Next(n uint16) (*operators.RecordBatch, error) {
	if s.done {
		return nil, io.EOF
	}
	if !s.consumed {
		allColumns := make([]arrow.Array, len(s.schema.Fields())) // concated columns
		mem := memory.NewGoAllocator()
		var count uint64
		for {
			childBatch, err := s.child.Next(math.MaxUint16)
			if err != nil {
				if errors.Is(err, io.EOF) {
					break
				}
				return nil, err
			}
			for i := range childBatch.Columns {
				if allColumns[i] == nil {
					allColumns[i] = childBatch.Columns[i]
					continue
				}
				largerArray, err := array.Concatenate([]arrow.Array{allColumns[i], childBatch.Columns[i]}, mem)
				if err != nil {
					return nil, err
				}
				allColumns[i] = largerArray
			}
		}
		s.consumed = true
		if len(allColumns) > 0 && allColumns[0] != nil {
			count = uint64(allColumns[0].Len())
		}
		perm, err := sortBatches(&operators.RecordBatch{
			Schema:   s.schema,
			Columns:  allColumns,
			RowCount: count,
		}, s.sortKeys)
		if err != nil {
			return nil, err
		}
		// now update all mappings
		for i := range len(allColumns) {
			arr, err := compute.TakeArray(context.TODO(), allColumns[i], permToArrowArray(perm, mem))
			if err != nil {
				return nil, err
			}
			allColumns[i] = arr
		}
		s.totalColumns = allColumns
		s.totalRows = count
	}
	var readSize uint64
	remaining := s.totalRows - s.consumedOffset
	if remaining < uint64(n) {
		// if n is more than we have left just read up to remaining
		readSize = uint64(remaining)
		s.done = true
	} else {
		// remaining > n or remaining = n then just read n and return
		readSize = uint64(n)
	}
	mem := memory.NewGoAllocator()
	sortedColumns, err := s.consumeSortedBatch(readSize, mem)
	if err != nil {
		return nil, err
	}

	return &operators.RecordBatch{
		Schema:   s.schema,
		Columns:  sortedColumns,
		RowCount: readSize,
	}, nil
}

func (s *SortExec) Schema() *arrow.Schema {
	return s.schema
}

func (s *SortExec) Close() error {
	return s.child.Close()
}

func (s *SortExec) consumeSortedBatch(readsize uint64, mem memory.Allocator) ([]arrow.Array, error) {
	ctx := context.TODO()
	resultColumns := make([]arrow.Array, len(s.schema.Fields()))
	offsetArray := genoffsetTakeIdx(s.consumedOffset, readsize, mem)
	for i := range s.totalColumns {
		sortArr := s.totalColumns[i]
		arr, err := compute.TakeArray(ctx, sortArr, offsetArray)
		if err != nil {
			return nil, err
		}
		resultColumns[i] = arr
	}
	s.consumedOffset += readsize
	return resultColumns, nil
}

/*
shared functions
*/
func sortBatches(fullRC *operators.RecordBatch, sortKeys []SortKey) ([]int64, error) {
	keyColumns := make([]arrow.Array, len(sortKeys))
	specs := make([]SortSpec, len(sortKeys))
	for i, sk := range sortKeys {
		arr, err := Expr.EvalExpression(sk.Expr, fullRC)
		if err != nil {
			return nil, fmt.Errorf("sort batches: failed to eval sort expression: %v", err)
		}
		keyColumns[i] = arr
		specs[i] = SortSpec{Ascending: sk.Ascending, NullsFirst: sk.NullFirst}
	}
	perm := Permutation(keyColumns, specs)
	if len(perm) == 0 && fullRC.RowCount > 0 {
		// no sort keys: identity order
		perm = make([]int64, fullRC.RowCount)
		for i := range perm {
			perm[i] = int64(i)
		}
	}
	operators.ReleaseArrays(keyColumns)
	return perm, nil
}

func permToArrowArray(v []int64, mem memory.Allocator) arrow.Array {
	b := array.NewInt64Builder(mem)
	b.AppendValues(v, nil)
	arr := b.NewArray()
	b.Release()
	return arr
}

func genoffsetTakeIdx(offset, size uint64, mem memory.Allocator) arrow.Array {
	b := array.NewUint64Builder(mem)
	for i := range size {
		b.Append(offset + i)
	}
	arr := b.NewArray()
	return arr
}
