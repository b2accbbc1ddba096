package window

import (
	"fmt"
	"quiver-sql-go/Expr"
	"quiver-sql-go/operators/aggr"

	"github.com/apache/arrow/go/v17/arrow"
)

var (
	ErrUnsupportedBoundary = func(b Bound) error {
		return fmt.Errorf("unsupported window boundary %s", b)
	}
	ErrBoundaryComputation = func(info string) error {
		return fmt.Errorf("failed to compute window boundaries: %s", info)
	}
	ErrInvalidNtile = func(info string) error {
		return fmt.Errorf("invalid ntile parameter: %s", info)
	}
	ErrNotAssociative = func(name string) error {
		return fmt.Errorf("aggregate %s is not associative and cannot back a window segment tree", name)
	}
	ErrMissingArgument = func(k FuncKind) error {
		return fmt.Errorf("window function %s needs an argument", k)
	}
	ErrInvalidOffset = func(k FuncKind) error {
		return fmt.Errorf("%s offset must evaluate to a non null integer", k)
	}
)

// FuncKind is the window function family being evaluated.
type FuncKind int

const (
	Aggregate FuncKind = iota
	RowNumber
	Rank
	DenseRank
	PercentRank
	CumeDist
	Ntile
	Lead
	Lag
	FirstValue
	LastValue
)

func (k FuncKind) String() string {
	switch k {
	case Aggregate:
		return "aggregate"
	case RowNumber:
		return "row_number"
	case Rank:
		return "rank"
	case DenseRank:
		return "dense_rank"
	case PercentRank:
		return "percent_rank"
	case CumeDist:
		return "cume_dist"
	case Ntile:
		return "ntile"
	case Lead:
		return "lead"
	case Lag:
		return "lag"
	case FirstValue:
		return "first_value"
	case LastValue:
		return "last_value"
	default:
		return "unknown_window_function"
	}
}

// Bound is one side of a SQL frame specification.
type Bound int

const (
	UnboundedPreceding Bound = iota
	UnboundedFollowing
	CurrentRowRows
	CurrentRowRange
	ExprPreceding
	ExprFollowing
)

func (b Bound) String() string {
	switch b {
	case UnboundedPreceding:
		return "UNBOUNDED PRECEDING"
	case UnboundedFollowing:
		return "UNBOUNDED FOLLOWING"
	case CurrentRowRows:
		return "CURRENT ROW (ROWS)"
	case CurrentRowRange:
		return "CURRENT ROW (RANGE)"
	case ExprPreceding:
		return "expr PRECEDING"
	case ExprFollowing:
		return "expr FOLLOWING"
	default:
		return "UNKNOWN BOUND"
	}
}

// OrderKey is one ORDER BY key of a window definition.
type OrderKey struct {
	Expr       Expr.Expression
	Ascending  bool
	NullsFirst bool
}

// BoundWindowExpr is one fully bound window expression out of the planner:
// `func(children) OVER (PARTITION BY partitions ORDER BY orders frame)`.
// Read only during evaluation.
type BoundWindowExpr struct {
	Kind FuncKind
	// output column name; defaults to the function name
	Name       string
	ReturnType arrow.DataType

	Partitions []Expr.Expression
	Orders     []OrderKey

	// direct arguments of the function. aggregates and ntile read Children[0]
	Children []Expr.Expression

	// lead/lag only
	OffsetExpr  Expr.Expression
	DefaultExpr Expr.Expression

	Start     Bound
	End       Bound
	StartExpr Expr.Expression
	EndExpr   Expr.Expression

	// set when Kind == Aggregate
	Aggregate *aggr.Descriptor
}

// NewWindowExpr builds a window expression with the SQL default frame:
// RANGE BETWEEN UNBOUNDED PRECEDING AND CURRENT ROW.
func NewWindowExpr(kind FuncKind, children ...Expr.Expression) *BoundWindowExpr {
	return &BoundWindowExpr{
		Kind:     kind,
		Name:     kind.String(),
		Children: children,
		Start:    UnboundedPreceding,
		End:      CurrentRowRange,
	}
}

// WithRowsFrame switches the expression to a ROWS frame with expression
// offsets on both sides. A nil expr keeps that side unbounded/current.
func (w *BoundWindowExpr) WithRowsFrame(startOffset, endOffset Expr.Expression) *BoundWindowExpr {
	if startOffset != nil {
		w.Start = ExprPreceding
		w.StartExpr = startOffset
	} else {
		w.Start = UnboundedPreceding
	}
	if endOffset != nil {
		w.End = ExprFollowing
		w.EndExpr = endOffset
	} else {
		w.End = CurrentRowRows
	}
	return w
}

func (w *BoundWindowExpr) WithFrame(start, end Bound, startExpr, endExpr Expr.Expression) *BoundWindowExpr {
	w.Start, w.End = start, end
	w.StartExpr, w.EndExpr = startExpr, endExpr
	return w
}

func (w *BoundWindowExpr) PartitionBy(exprs ...Expr.Expression) *BoundWindowExpr {
	w.Partitions = exprs
	return w
}

func (w *BoundWindowExpr) OrderBy(keys ...OrderKey) *BoundWindowExpr {
	w.Orders = keys
	return w
}

// sortColumnCount is the width of the sort key prefix: partition keys first,
// order keys after.
func (w *BoundWindowExpr) sortColumnCount() int {
	return len(w.Partitions) + len(w.Orders)
}

func (w *BoundWindowExpr) needsSorting() bool {
	return w.sortColumnCount() > 0
}

func (w *BoundWindowExpr) needsRank() bool {
	switch w.Kind {
	case Rank, DenseRank, PercentRank, CumeDist:
		return true
	default:
		return false
	}
}

// resolveReturnType fills in ReturnType when the caller left it nil.
func (w *BoundWindowExpr) resolveReturnType(inputSchema *arrow.Schema) error {
	if w.ReturnType != nil {
		return nil
	}
	switch w.Kind {
	case RowNumber, Rank, DenseRank, Ntile:
		w.ReturnType = arrow.PrimitiveTypes.Int64
	case PercentRank, CumeDist, Aggregate:
		w.ReturnType = arrow.PrimitiveTypes.Float64
	case Lead, Lag, FirstValue, LastValue:
		if len(w.Children) == 0 {
			return ErrMissingArgument(w.Kind)
		}
		dt, err := Expr.ExprDataType(w.Children[0], inputSchema)
		if err != nil {
			return err
		}
		w.ReturnType = dt
	default:
		return fmt.Errorf("cannot infer return type for window function %s", w.Kind)
	}
	return nil
}

// validate rejects shapes the evaluator cannot run.
func (w *BoundWindowExpr) validate() error {
	switch w.Kind {
	case Aggregate:
		if w.Aggregate == nil {
			return fmt.Errorf("window aggregate expression is missing its aggregate descriptor")
		}
		if len(w.Children) == 0 {
			return ErrMissingArgument(w.Kind)
		}
	case Ntile, Lead, Lag, FirstValue, LastValue:
		if len(w.Children) == 0 {
			return ErrMissingArgument(w.Kind)
		}
	}
	return nil
}
