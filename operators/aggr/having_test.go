package aggr

import (
	"math"
	"quiver-sql-go/Expr"
	"quiver-sql-go/operators"
	"quiver-sql-go/operators/project"
	"testing"

	"github.com/apache/arrow/go/v17/arrow"
)

func havingSource(t *testing.T) *GroupByExec {
	t.Helper()
	src, err := project.NewInMemoryProjectExec(
		[]string{"dept", "salary"},
		[]any{
			[]string{"eng", "sales", "eng", "sales", "ops"},
			[]int{100, 50, 200, 70, 30},
		})
	if err != nil {
		t.Fatal(err)
	}
	grouped, err := NewGroupByExec(src,
		[]AggregateFunctions{NewAggregateFunctions(Sum, Expr.NewColumnResolve("salary"))},
		[]Expr.Expression{Expr.NewColumnResolve("dept")})
	if err != nil {
		t.Fatal(err)
	}
	return grouped
}

func TestHavingExec(t *testing.T) {
	t.Run("filters aggregated groups", func(t *testing.T) {
		// HAVING sum(salary) > 100
		pred := Expr.NewBinaryExpr(
			Expr.NewColumnResolve("sum_salary"),
			Expr.GreaterThan,
			Expr.NewLiteralResolve(arrow.PrimitiveTypes.Float64, 100.0))
		having, err := NewHavingExec(havingSource(t), pred)
		if err != nil {
			t.Fatal(err)
		}

		batch, err := having.Next(math.MaxUint16)
		if err != nil {
			t.Fatal(err)
		}
		// eng=300 and sales=120 survive, ops=30 does not
		if batch.RowCount != 2 {
			t.Fatalf("expected 2 groups through having, got %d\n%s", batch.RowCount, batch.PrettyPrint())
		}
		seen := map[string]float64{}
		for r := 0; r < int(batch.RowCount); r++ {
			dept := operators.ValueAt(batch.Columns[0], r).(string)
			seen[dept] = operators.ValueAt(batch.Columns[1], r).(float64)
		}
		if seen["eng"] != 300 || seen["sales"] != 120 {
			t.Fatalf("wrong surviving groups: %v", seen)
		}
		if _, ok := seen["ops"]; ok {
			t.Fatal("ops should have been filtered out")
		}
	})

	t.Run("predicate must reference the aggregated schema", func(t *testing.T) {
		// "salary" only exists below the group by
		pred := Expr.NewBinaryExpr(
			Expr.NewColumnResolve("salary"),
			Expr.GreaterThan,
			Expr.NewLiteralResolve(arrow.PrimitiveTypes.Float64, 100.0))
		if _, err := NewHavingExec(havingSource(t), pred); err == nil {
			t.Fatal("expected error for predicate over a pre-aggregation column")
		}
	})

	t.Run("predicate must be boolean", func(t *testing.T) {
		if _, err := NewHavingExec(havingSource(t), Expr.NewColumnResolve("sum_salary")); err == nil {
			t.Fatal("expected error for non boolean predicate")
		}
	})

	t.Run("nil predicate is rejected", func(t *testing.T) {
		if _, err := NewHavingExec(havingSource(t), nil); err == nil {
			t.Fatal("expected error for missing predicate")
		}
	})
}
