package aggr

import (
	"errors"
	"fmt"
	"io"
	"quiver-sql-go/Expr"
	"quiver-sql-go/operators"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
)

var (
	_ = (operators.Operator)(&HavingExec{})

	ErrHavingPredicate = func(info string) error {
		return fmt.Errorf("invalid having predicate: %s", info)
	}
)

// HavingExec filters the rows an aggregation stage emits, the way WHERE
// filters base rows. It sits above GroupByExec, so its predicate references
// group keys and aggregate output columns ("dept", "sum_salary"), never the
// source columns those were computed from.
type HavingExec struct {
	input     operators.Operator
	schema    *arrow.Schema
	predicate Expr.Expression
	done      bool
}

func NewHavingExec(input operators.Operator, predicate Expr.Expression) (*HavingExec, error) {
	if predicate == nil {
		return nil, ErrHavingPredicate("no predicate given")
	}
	// the predicate must type-check as a boolean over the aggregated schema,
	// not whatever schema sat below the group by
	dt, err := Expr.ExprDataType(predicate, input.Schema())
	if err != nil {
		return nil, ErrHavingPredicate(err.Error())
	}
	if dt.ID() != arrow.BOOL {
		return nil, ErrHavingPredicate(fmt.Sprintf("%s types as %s, want boolean", predicate, dt))
	}
	return &HavingExec{
		input:     input,
		schema:    input.Schema(),
		predicate: predicate,
	}, nil
}

func (h *HavingExec) Next(n uint16) (*operators.RecordBatch, error) {
	if h.done {
		return nil, io.EOF
	}
	childBatch, err := h.input.Next(n)
	if err != nil {
		if errors.Is(err, io.EOF) {
			h.done = true
		}
		return nil, err
	}

	mask, err := Expr.EvalExpression(h.predicate, childBatch)
	if err != nil {
		return nil, err
	}
	boolMask, ok := mask.(*array.Boolean)
	if !ok {
		return nil, ErrHavingPredicate(fmt.Sprintf("evaluated to %s, want a boolean column", mask.DataType()))
	}

	kept := make([]arrow.Array, len(childBatch.Columns))
	for i, col := range childBatch.Columns {
		kept[i], err = operators.ApplyBooleanMask(col, boolMask)
		if err != nil {
			return nil, err
		}
	}
	mask.Release()
	operators.ReleaseArrays(childBatch.Columns)

	var rows uint64
	if len(kept) > 0 {
		rows = uint64(kept[0].Len())
	}
	return &operators.RecordBatch{
		Schema:   h.schema,
		Columns:  kept,
		RowCount: rows,
	}, nil
}

func (h *HavingExec) Schema() *arrow.Schema {
	return h.schema
}

func (h *HavingExec) Close() error {
	return h.input.Close()
}
