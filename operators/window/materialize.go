package window

import (
	"fmt"
	"quiver-sql-go/Expr"
	"quiver-sql-go/operators"
	"quiver-sql-go/operators/aggr"

	"github.com/apache/arrow/go/v17/arrow"
)

// materializeExpressions evaluates exprs against every chunk of input and
// collects the results into a parallel collection. A scalar (row independent)
// expression set only needs the first chunk; callers then read index 0.
func materializeExpressions(exprs []Expr.Expression, input *operators.BatchCollection, scalar bool) (*operators.BatchCollection, error) {
	if len(exprs) == 0 {
		return operators.NewBatchCollection(nil, input.Capacity()), nil
	}

	fields := make([]arrow.Field, len(exprs))
	for i, ex := range exprs {
		dt, err := Expr.ExprDataType(ex, input.Schema())
		if err != nil {
			return nil, err
		}
		fields[i] = arrow.Field{
			Name:     fmt.Sprintf("w%d_%s", i, ex.String()),
			Type:     dt,
			Nullable: true,
		}
	}
	schema := arrow.NewSchema(fields, nil)
	out := operators.NewBatchCollection(schema, input.Capacity())

	for c := 0; c < input.ChunkCount(); c++ {
		chunk := input.Chunk(c)
		cols := make([]arrow.Array, len(exprs))
		for i, ex := range exprs {
			arr, err := Expr.EvalExpression(ex, chunk)
			if err != nil {
				return nil, err
			}
			cols[i] = arr
		}
		if err := out.Append(&operators.RecordBatch{
			Schema:   schema,
			Columns:  cols,
			RowCount: chunk.RowCount,
		}); err != nil {
			return nil, err
		}
		if scalar {
			break
		}
	}
	return out, nil
}

func materializeExpression(expr Expr.Expression, input *operators.BatchCollection, scalar bool) (*operators.BatchCollection, error) {
	return materializeExpressions([]Expr.Expression{expr}, input, scalar)
}

// sortForWindow builds the sort key collection of wexpr (partition keys
// first, order keys after), asks the sort facility for a stable permutation
// and applies it in place to the shared input, the result collection and the
// sort keys themselves. Partition keys always sort ascending with nulls
// first; order keys follow their declared per key policy.
func sortForWindow(wexpr *BoundWindowExpr, input, result *operators.BatchCollection) (*operators.BatchCollection, error) {
	keyExprs := make([]Expr.Expression, 0, wexpr.sortColumnCount())
	specs := make([]aggr.SortSpec, 0, wexpr.sortColumnCount())
	for _, p := range wexpr.Partitions {
		keyExprs = append(keyExprs, p)
		specs = append(specs, aggr.SortSpec{Ascending: true, NullsFirst: true})
	}
	for _, o := range wexpr.Orders {
		keyExprs = append(keyExprs, o.Expr)
		specs = append(specs, aggr.SortSpec{Ascending: o.Ascending, NullsFirst: o.NullsFirst})
	}

	sortKeys, err := materializeExpressions(keyExprs, input, false)
	if err != nil {
		return nil, err
	}

	flat := make([]arrow.Array, sortKeys.ColumnCount())
	for i := range flat {
		flat[i], err = sortKeys.FlattenColumn(i)
		if err != nil {
			return nil, err
		}
	}
	perm := aggr.Permutation(flat, specs)
	operators.ReleaseArrays(flat)

	if err := input.Reorder(perm); err != nil {
		return nil, err
	}
	if err := result.Reorder(perm); err != nil {
		return nil, err
	}
	if err := sortKeys.Reorder(perm); err != nil {
		return nil, err
	}
	return sortKeys, nil
}
