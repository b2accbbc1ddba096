package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"quiver-sql-go/Expr"
	"quiver-sql-go/operators"
	"quiver-sql-go/operators/aggr"
	"quiver-sql-go/operators/filter"
	"quiver-sql-go/operators/project"
	"quiver-sql-go/operators/window"

	"github.com/apache/arrow/go/v17/arrow"
)

// QueryPlan is the JSON plan a client posts: a leaf source plus optional
// filter / group-by / having / window / limit stages, wired in that order.
// The planner proper lives on the client side; this is just enough shape to
// build an operator tree.
type QueryPlan struct {
	Source  SourceSpec     `json:"source"`
	Filter  *PredicateSpec `json:"filter,omitempty"`
	GroupBy *GroupBySpec   `json:"group_by,omitempty"`
	Having  *PredicateSpec `json:"having,omitempty"`
	Window  []WindowSpec   `json:"window,omitempty"`
	Limit   *uint16        `json:"limit,omitempty"`
}

// PredicateSpec is a single comparison: column op value. Used for both the
// filter stage (over source columns) and the having stage (over the grouped
// schema, e.g. "sum_salary").
type PredicateSpec struct {
	Column string `json:"column"`
	// eq, ne, lt, le, gt or ge
	Op    string `json:"op"`
	Value any    `json:"value"`
}

type GroupBySpec struct {
	Keys       []string  `json:"keys"`
	Aggregates []AggSpec `json:"aggregates"`
}

type AggSpec struct {
	// sum, min, max, count or avg
	Func string `json:"func"`
	Arg  string `json:"arg"`
}

type SourceSpec struct {
	// "values", "csv" or "s3"
	Type string `json:"type"`

	// values source
	Columns []ColumnSpec `json:"columns,omitempty"`

	// csv source
	Path string `json:"path,omitempty"`

	// s3 source
	Key    string `json:"key,omitempty"`
	Format string `json:"format,omitempty"`
}

type ColumnSpec struct {
	Name string `json:"name"`
	// "int64", "float64", "string" or "bool"
	Type   string `json:"type"`
	Values []any  `json:"values"`
}

type WindowSpec struct {
	// window function name: row_number, rank, dense_rank, percent_rank,
	// cume_dist, ntile, lead, lag, first_value, last_value, or one of the
	// aggregates sum/min/max/count/avg
	Func string `json:"func"`
	// output column name, defaults to the function name
	As string `json:"as,omitempty"`

	// argument column (aggregates, lead/lag, first/last value) or the ntile
	// parameter
	Arg   string `json:"arg,omitempty"`
	Ntile *int   `json:"ntile,omitempty"`

	PartitionBy []string       `json:"partition_by,omitempty"`
	OrderBy     []OrderKeySpec `json:"order_by,omitempty"`

	// ROWS frame offsets; nil keeps the SQL default frame
	RowsPreceding *int `json:"rows_preceding,omitempty"`
	RowsFollowing *int `json:"rows_following,omitempty"`

	// lead/lag
	Offset  *int     `json:"offset,omitempty"`
	Default *float64 `json:"default,omitempty"`
}

type OrderKeySpec struct {
	Column     string `json:"column"`
	Desc       bool   `json:"desc,omitempty"`
	NullsFirst bool   `json:"nulls_first,omitempty"`
}

// buildPlan wires the operator tree for one query plan.
func buildPlan(ctx context.Context, plan *QueryPlan) (operators.Operator, error) {
	op, err := buildSource(ctx, &plan.Source)
	if err != nil {
		return nil, err
	}
	if plan.Filter != nil {
		pred, err := buildPredicate(op.Schema(), plan.Filter)
		if err != nil {
			return nil, err
		}
		op, err = filter.NewFilterExec(op, pred)
		if err != nil {
			return nil, err
		}
	}
	if plan.GroupBy != nil {
		op, err = buildGroupBy(op, plan.GroupBy)
		if err != nil {
			return nil, err
		}
	}
	if plan.Having != nil {
		if plan.GroupBy == nil {
			return nil, errors.New("having needs a group_by stage to filter")
		}
		pred, err := buildPredicate(op.Schema(), plan.Having)
		if err != nil {
			return nil, err
		}
		op, err = aggr.NewHavingExec(op, pred)
		if err != nil {
			return nil, err
		}
	}
	if len(plan.Window) > 0 {
		exprs := make([]*window.BoundWindowExpr, len(plan.Window))
		for i := range plan.Window {
			wexpr, err := buildWindowExpr(&plan.Window[i])
			if err != nil {
				return nil, err
			}
			exprs[i] = wexpr
		}
		op, err = window.NewWindowExec(op, exprs)
		if err != nil {
			return nil, err
		}
	}
	if plan.Limit != nil {
		op, err = filter.NewLimitExec(op, *plan.Limit)
		if err != nil {
			return nil, err
		}
	}
	return op, nil
}

func buildSource(ctx context.Context, spec *SourceSpec) (operators.Operator, error) {
	switch spec.Type {
	case "values":
		if len(spec.Columns) == 0 {
			return nil, errors.New("values source needs at least one column")
		}
		names := make([]string, len(spec.Columns))
		cols := make([]any, len(spec.Columns))
		for i, c := range spec.Columns {
			names[i] = c.Name
			col, err := typedColumn(&c)
			if err != nil {
				return nil, err
			}
			cols[i] = col
		}
		return project.NewInMemoryProjectExec(names, cols)

	case "csv":
		f, err := os.Open(spec.Path)
		if err != nil {
			return nil, err
		}
		return project.NewProjectCSVLeaf(f)

	case "s3":
		res, err := project.NewStreamReader(ctx, spec.Key)
		if err != nil {
			return nil, err
		}
		return res.SourceFor(project.MimeFromString(spec.Format))

	default:
		return nil, fmt.Errorf("unknown source type %q", spec.Type)
	}
}

func typedColumn(c *ColumnSpec) (any, error) {
	switch c.Type {
	case "int64", "int":
		out := make([]int64, len(c.Values))
		for i, v := range c.Values {
			f, ok := v.(float64)
			if !ok {
				return nil, fmt.Errorf("column %s: value %v is not numeric", c.Name, v)
			}
			out[i] = int64(f)
		}
		return out, nil
	case "float64", "float":
		out := make([]float64, len(c.Values))
		for i, v := range c.Values {
			f, ok := v.(float64)
			if !ok {
				return nil, fmt.Errorf("column %s: value %v is not numeric", c.Name, v)
			}
			out[i] = f
		}
		return out, nil
	case "string":
		out := make([]string, len(c.Values))
		for i, v := range c.Values {
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("column %s: value %v is not a string", c.Name, v)
			}
			out[i] = s
		}
		return out, nil
	case "bool":
		out := make([]bool, len(c.Values))
		for i, v := range c.Values {
			b, ok := v.(bool)
			if !ok {
				return nil, fmt.Errorf("column %s: value %v is not a bool", c.Name, v)
			}
			out[i] = b
		}
		return out, nil
	default:
		return nil, fmt.Errorf("column %s: unsupported type %q", c.Name, c.Type)
	}
}

func buildWindowExpr(spec *WindowSpec) (*window.BoundWindowExpr, error) {
	var wexpr *window.BoundWindowExpr

	switch spec.Func {
	case "row_number":
		wexpr = window.NewWindowExpr(window.RowNumber)
	case "rank":
		wexpr = window.NewWindowExpr(window.Rank)
	case "dense_rank":
		wexpr = window.NewWindowExpr(window.DenseRank)
	case "percent_rank":
		wexpr = window.NewWindowExpr(window.PercentRank)
	case "cume_dist":
		wexpr = window.NewWindowExpr(window.CumeDist)
	case "ntile":
		if spec.Ntile == nil {
			return nil, errors.New("ntile needs its parameter")
		}
		wexpr = window.NewWindowExpr(window.Ntile,
			Expr.NewLiteralResolve(arrow.PrimitiveTypes.Int64, *spec.Ntile))
	case "lead", "lag":
		if spec.Arg == "" {
			return nil, fmt.Errorf("%s needs an argument column", spec.Func)
		}
		kind := window.Lead
		if spec.Func == "lag" {
			kind = window.Lag
		}
		wexpr = window.NewWindowExpr(kind, Expr.NewColumnResolve(spec.Arg))
		if spec.Offset != nil {
			wexpr.OffsetExpr = Expr.NewLiteralResolve(arrow.PrimitiveTypes.Int64, *spec.Offset)
		}
		if spec.Default != nil {
			wexpr.DefaultExpr = Expr.NewLiteralResolve(arrow.PrimitiveTypes.Float64, *spec.Default)
		}
	case "first_value", "last_value":
		if spec.Arg == "" {
			return nil, fmt.Errorf("%s needs an argument column", spec.Func)
		}
		kind := window.FirstValue
		if spec.Func == "last_value" {
			kind = window.LastValue
		}
		wexpr = window.NewWindowExpr(kind, Expr.NewColumnResolve(spec.Arg))
	case "sum", "min", "max", "count", "avg":
		if spec.Arg == "" {
			return nil, fmt.Errorf("%s needs an argument column", spec.Func)
		}
		fn, err := aggrFuncNamed(spec.Func)
		if err != nil {
			return nil, err
		}
		desc, err := aggr.DescriptorFor(fn)
		if err != nil {
			return nil, err
		}
		wexpr = window.NewWindowExpr(window.Aggregate, Expr.NewColumnResolve(spec.Arg))
		wexpr.Aggregate = desc
		wexpr.Name = spec.Func
	default:
		return nil, fmt.Errorf("unknown window function %q", spec.Func)
	}

	if spec.As != "" {
		wexpr.Name = spec.As
	}

	for _, p := range spec.PartitionBy {
		wexpr.Partitions = append(wexpr.Partitions, Expr.NewColumnResolve(p))
	}
	for _, o := range spec.OrderBy {
		wexpr.Orders = append(wexpr.Orders, window.OrderKey{
			Expr:       Expr.NewColumnResolve(o.Column),
			Ascending:  !o.Desc,
			NullsFirst: o.NullsFirst,
		})
	}

	if spec.RowsPreceding != nil || spec.RowsFollowing != nil {
		var startExpr, endExpr Expr.Expression
		if spec.RowsPreceding != nil {
			startExpr = Expr.NewLiteralResolve(arrow.PrimitiveTypes.Int64, *spec.RowsPreceding)
		}
		if spec.RowsFollowing != nil {
			endExpr = Expr.NewLiteralResolve(arrow.PrimitiveTypes.Int64, *spec.RowsFollowing)
		}
		wexpr.WithRowsFrame(startExpr, endExpr)
	}
	return wexpr, nil
}

// buildPredicate turns a column/op/value triple into a boolean expression,
// typing the literal after the column so the comparison kernels line up.
func buildPredicate(schema *arrow.Schema, spec *PredicateSpec) (Expr.Expression, error) {
	idx := schema.FieldIndices(spec.Column)
	if len(idx) == 0 {
		return nil, fmt.Errorf("predicate references unknown column %q", spec.Column)
	}
	lit, err := literalFor(schema.Field(idx[0]).Type, spec.Column, spec.Value)
	if err != nil {
		return nil, err
	}

	op := Expr.Equal
	switch spec.Op {
	case "eq":
		op = Expr.Equal
	case "ne":
		op = Expr.NotEqual
	case "lt":
		op = Expr.LessThan
	case "le":
		op = Expr.LessThanOrEqual
	case "gt":
		op = Expr.GreaterThan
	case "ge":
		op = Expr.GreaterThanOrEqual
	default:
		return nil, fmt.Errorf("unknown predicate op %q", spec.Op)
	}
	return Expr.NewBinaryExpr(Expr.NewColumnResolve(spec.Column), op, lit), nil
}

// literalFor boxes a JSON value as a literal of the column's type.
func literalFor(dt arrow.DataType, column string, v any) (Expr.Expression, error) {
	switch dt.ID() {
	case arrow.INT64:
		f, ok := v.(float64)
		if !ok {
			return nil, fmt.Errorf("column %s: predicate value %v is not numeric", column, v)
		}
		return Expr.NewLiteralResolve(arrow.PrimitiveTypes.Int64, int(f)), nil
	case arrow.FLOAT64:
		f, ok := v.(float64)
		if !ok {
			return nil, fmt.Errorf("column %s: predicate value %v is not numeric", column, v)
		}
		return Expr.NewLiteralResolve(arrow.PrimitiveTypes.Float64, f), nil
	case arrow.STRING:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("column %s: predicate value %v is not a string", column, v)
		}
		return Expr.NewLiteralResolve(arrow.BinaryTypes.String, s), nil
	case arrow.BOOL:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("column %s: predicate value %v is not a bool", column, v)
		}
		return Expr.NewLiteralResolve(arrow.FixedWidthTypes.Boolean, b), nil
	default:
		return nil, fmt.Errorf("column %s: no predicate support for type %s", column, dt)
	}
}

func buildGroupBy(child operators.Operator, spec *GroupBySpec) (operators.Operator, error) {
	if len(spec.Keys) == 0 {
		return nil, errors.New("group_by needs at least one key column")
	}
	keys := make([]Expr.Expression, len(spec.Keys))
	for i, k := range spec.Keys {
		keys[i] = Expr.NewColumnResolve(k)
	}
	aggs := make([]aggr.AggregateFunctions, len(spec.Aggregates))
	for i, a := range spec.Aggregates {
		if a.Arg == "" {
			return nil, fmt.Errorf("aggregate %s needs an argument column", a.Func)
		}
		fn, err := aggrFuncNamed(a.Func)
		if err != nil {
			return nil, err
		}
		aggs[i] = aggr.NewAggregateFunctions(fn, Expr.NewColumnResolve(a.Arg))
	}
	return aggr.NewGroupByExec(child, aggs, keys)
}

func aggrFuncNamed(name string) (aggr.AggrFunc, error) {
	switch name {
	case "sum":
		return aggr.Sum, nil
	case "min":
		return aggr.Min, nil
	case "max":
		return aggr.Max, nil
	case "count":
		return aggr.Count, nil
	case "avg":
		return aggr.Avg, nil
	default:
		return aggr.Sum, fmt.Errorf("unknown aggregate function %q", name)
	}
}
