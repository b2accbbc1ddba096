package aggr

import (
	"errors"
	"fmt"
	"io"
	"math"
	"quiver-sql-go/Expr"
	"quiver-sql-go/operators"
	"strings"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
)

/*
rules for group by:
1.Every non-aggregated column in SELECT must be in GROUP BY
2.You can group by multiple columns - creates groups for each unique combination
3.Use HAVING to filter groups (WHERE filters before grouping, HAVING filters after)
*/
var (
	_ = (operators.Operator)(&GroupByExec{})
)

// place all unique combinations of the group by columns into a hash table,
// each combination gets its own set of aggregate states
type GroupByExec struct {
	child       operators.Operator
	schema      *arrow.Schema
	groupExpr   []AggregateFunctions
	groupByExpr []Expr.Expression // column names

	groups map[string][]State // maps group by key to its states
	keys   map[string][]any   // key -> original values for output
	order  []string           // first-seen order of keys
	done   bool
}

func NewGroupByExec(child operators.Operator, groupExpr []AggregateFunctions, groupBy []Expr.Expression) (*GroupByExec, error) {
	s, err := buildGroupBySchema(child.Schema(), groupBy, groupExpr)
	if err != nil {
		return nil, err
	}

	return &GroupByExec{
		child:       child,
		schema:      s,
		groupExpr:   groupExpr,
		groupByExpr: groupBy,
		keys:        make(map[string][]any),
		groups:      make(map[string][]State),
	}, nil
}

func (g *GroupByExec) Next(batchSize uint16) (*operators.RecordBatch, error) {
	if g.done {
		return nil, io.EOF
	}
	for {
		childBatch, err := g.child.Next(math.MaxUint16)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		if err := g.consume(childBatch); err != nil {
			return nil, err
		}
	}
	g.done = true
	return g.emit()
}

func (g *GroupByExec) consume(batch *operators.RecordBatch) error {
	keyCols := make([]arrow.Array, len(g.groupByExpr))
	for i, expr := range g.groupByExpr {
		arr, err := Expr.EvalExpression(expr, batch)
		if err != nil {
			return err
		}
		keyCols[i] = arr
	}
	aggCols := make([]*array.Float64, len(g.groupExpr))
	for i, agg := range g.groupExpr {
		arr, err := Expr.EvalExpression(agg.Child, batch)
		if err != nil {
			return err
		}
		arr, err = CastToFloat64(arr)
		if err != nil {
			return err
		}
		aggCols[i] = arr.(*array.Float64)
	}

	for r := 0; r < int(batch.RowCount); r++ {
		key := groupKey(keyCols, r)
		states, seen := g.groups[key]
		if !seen {
			states = make([]State, len(g.groupExpr))
			for i, agg := range g.groupExpr {
				desc, err := DescriptorFor(agg.AggrFunc)
				if err != nil {
					return err
				}
				states[i] = desc.NewState()
			}
			g.groups[key] = states
			keyVals := make([]any, len(keyCols))
			for i, kc := range keyCols {
				keyVals[i] = operators.ValueAt(kc, r)
			}
			g.keys[key] = keyVals
			g.order = append(g.order, key)
		}
		for i, col := range aggCols {
			if col.IsNull(r) {
				continue
			}
			states[i].Update(col.Value(r))
		}
	}
	operators.ReleaseArrays(keyCols)
	return nil
}

func (g *GroupByExec) emit() (*operators.RecordBatch, error) {
	keyBuilders := make([]array.Builder, len(g.groupByExpr))
	for i := 0; i < len(g.groupByExpr); i++ {
		b, err := operators.NewBuilderFor(g.schema.Field(i).Type)
		if err != nil {
			return nil, err
		}
		keyBuilders[i] = b
	}
	aggValues := make([][]float64, len(g.groupExpr))
	aggValid := make([][]bool, len(g.groupExpr))
	for i := range g.groupExpr {
		aggValues[i] = make([]float64, 0, len(g.order))
		aggValid[i] = make([]bool, 0, len(g.order))
	}

	for _, key := range g.order {
		for i, kv := range g.keys[key] {
			if err := operators.AppendAny(keyBuilders[i], kv); err != nil {
				return nil, err
			}
		}
		for i, st := range g.groups[key] {
			v, valid := st.Finalize()
			aggValues[i] = append(aggValues[i], v)
			aggValid[i] = append(aggValid[i], valid)
		}
	}

	columns := make([]arrow.Array, g.schema.NumFields())
	for i, b := range keyBuilders {
		columns[i] = b.NewArray()
		b.Release()
	}
	rbb := operators.NewRecordBatchBuilder()
	for i := range g.groupExpr {
		columns[len(keyBuilders)+i] = rbb.GenFloat64ArrayNulls(aggValues[i], aggValid[i])
	}
	return &operators.RecordBatch{
		Schema:   g.schema,
		Columns:  columns,
		RowCount: uint64(len(g.order)),
	}, nil
}

func (g *GroupByExec) Schema() *arrow.Schema {
	return g.schema
}

func (g *GroupByExec) Close() error {
	return g.child.Close()
}

// stringified row key, same trick the hash join uses. NULL gets a placeholder
// so all-null rows cannot collide with the literal string "NULL"
func groupKey(cols []arrow.Array, row int) string {
	var b strings.Builder
	for i, col := range cols {
		if i > 0 {
			b.WriteByte('|')
		}
		if col.IsNull(row) {
			b.WriteString("\x00NULL")
			continue
		}
		b.WriteString(col.ValueStr(row))
	}
	return b.String()
}

// exprLabel is the output column name an expression contributes: plain column
// references keep their name so downstream stages (having, ordering) can
// address "dept" or "sum_salary" instead of the expression's debug string.
func exprLabel(e Expr.Expression) string {
	if c, ok := e.(*Expr.ColumnResolve); ok {
		return c.Name
	}
	return e.String()
}

// handles validation and building of schema for group by
func buildGroupBySchema(childSchema *arrow.Schema, groupByExpr []Expr.Expression, aggrExprs []AggregateFunctions) (*arrow.Schema, error) {
	fields := make([]arrow.Field, 0, len(groupByExpr)+len(aggrExprs))

	// 1. Add group-by columns
	for _, expr := range groupByExpr {
		dt, err := Expr.ExprDataType(expr, childSchema)
		if err != nil {
			return nil, fmt.Errorf("group-by expr %s has invalid type: %w", expr.String(), err)
		}

		fields = append(fields, arrow.Field{
			Name:     exprLabel(expr),
			Type:     dt,
			Nullable: true,
		})
	}

	// 2. Add aggregate columns
	for _, agg := range aggrExprs {
		fields = append(fields, arrow.Field{
			Name:     fmt.Sprintf("%s_%s", lower(agg.AggrFunc), exprLabel(agg.Child)),
			Type:     arrow.PrimitiveTypes.Float64,
			Nullable: true,
		})
	}

	return arrow.NewSchema(fields, nil), nil
}
