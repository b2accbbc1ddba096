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
	_ = (operators.Operator)(&AggrExec{})
)

func NewAggregateFunctions(aggrFunc AggrFunc, child Expr.Expression) AggregateFunctions {
	return AggregateFunctions{
		AggrFunc: aggrFunc,
		Child:    child,
	}
}

type AggregateFunctions struct {
	AggrFunc AggrFunc        // switch to deal with separate aggregate functions
	Child    Expr.Expression // resolves to a column generally
}

// ===================
// Aggregator Operator
// ===================
// handles global aggregations without group by
type AggrExec struct {
	child          operators.Operator
	schema         *arrow.Schema        // output schema
	aggExpressions []AggregateFunctions // list of wanted aggregate expressions
	states         []State              // one running state per expression
	done           bool                 // know when to return io.EOF
}

func NewGlobalAggrExec(child operators.Operator, aggExprs []AggregateFunctions) (*AggrExec, error) {
	states := make([]State, len(aggExprs))
	fields := make([]arrow.Field, len(aggExprs))
	for i, agg := range aggExprs {
		dt, err := Expr.ExprDataType(agg.Child, child.Schema())
		if err != nil || !validAggrType(dt) {
			return nil, ErrInvalidAggrColumnType(dt)
		}
		desc, err := DescriptorFor(agg.AggrFunc)
		if err != nil {
			return nil, err
		}
		states[i] = desc.NewState()
		fields[i] = arrow.Field{
			Name:     fmt.Sprintf("%s_%s", lower(agg.AggrFunc), exprLabel(agg.Child)),
			Type:     arrow.PrimitiveTypes.Float64,
			Nullable: true,
		}
	}
	return &AggrExec{
		child:          child,
		schema:         arrow.NewSchema(fields, nil),
		aggExpressions: aggExprs,
		states:         states,
	}, nil
}

// read in all record batches. for each batch run Expr.Evaluate to get the
// column the expression wants (cast to float64) and fold every non null
// element into the running state. this is a pipeline breaker: it consumes the
// whole child before the single output row comes out.
func (a *AggrExec) Next(n uint16) (*operators.RecordBatch, error) {
	if a.done {
		return nil, io.EOF
	}
	for {
		childBatch, err := a.child.Next(n)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		for i, aggExpr := range a.aggExpressions {
			agrArray, err := Expr.EvalExpression(aggExpr.Child, childBatch)
			if err != nil {
				return nil, err
			}
			agrArray, err = CastToFloat64(agrArray)
			if err != nil {
				return nil, err
			}
			valueArray := agrArray.(*array.Float64)
			state := a.states[i]
			for j := 0; j < valueArray.Len(); j++ {
				if valueArray.IsNull(j) {
					continue
				}
				state.Update(valueArray.Value(j))
			}
		}
	}
	// build array with just the result of the column
	resultColumns := make([]arrow.Array, len(a.states))
	rbb := operators.NewRecordBatchBuilder()
	for i := range a.states {
		v, valid := a.states[i].Finalize()
		resultColumns[i] = rbb.GenFloat64ArrayNulls([]float64{v}, []bool{valid})
	}
	a.done = true
	return &operators.RecordBatch{
		Schema:   a.schema,
		Columns:  resultColumns,
		RowCount: 1,
	}, nil
}

func (a *AggrExec) Schema() *arrow.Schema {
	return a.schema
}

func (a *AggrExec) Close() error {
	return a.child.Close()
}

func lower(fn AggrFunc) string {
	switch fn {
	case Min:
		return "min"
	case Max:
		return "max"
	case Count:
		return "count"
	case Sum:
		return "sum"
	case Avg:
		return "avg"
	default:
		return "unknown"
	}
}
