package filter

import (
	"errors"
	"io"
	"math"
	"quiver-sql-go/Expr"
	"quiver-sql-go/operators"
	"quiver-sql-go/operators/project"
	"testing"

	"github.com/apache/arrow/go/v17/arrow"
)

func filterSource(t *testing.T) *project.InMemorySource {
	t.Helper()
	src, err := project.NewInMemoryProjectExec(
		[]string{"x"},
		[]any{[]int{1, 2, 3, 4, 5, 6}})
	if err != nil {
		t.Fatal(err)
	}
	return src
}

func TestFilterExec(t *testing.T) {
	t.Run("keeps rows matching the predicate", func(t *testing.T) {
		pred := Expr.NewBinaryExpr(
			Expr.NewColumnResolve("x"),
			Expr.GreaterThan,
			Expr.NewLiteralResolve(arrow.PrimitiveTypes.Int64, 3))
		f, err := NewFilterExec(filterSource(t), pred)
		if err != nil {
			t.Fatal(err)
		}
		batch, err := f.Next(math.MaxUint16)
		if err != nil {
			t.Fatal(err)
		}
		if batch.RowCount != 3 {
			t.Fatalf("expected 3 surviving rows, got %d", batch.RowCount)
		}
		for i, want := range []int64{4, 5, 6} {
			if got := operators.ValueAt(batch.Columns[0], i); got != want {
				t.Fatalf("row %d: got %v want %d", i, got, want)
			}
		}
	})

	t.Run("rejects invalid predicates up front", func(t *testing.T) {
		pred := Expr.NewBinaryExpr(
			Expr.NewColumnResolve("missing"),
			Expr.GreaterThan,
			Expr.NewLiteralResolve(arrow.PrimitiveTypes.Int64, 3))
		if _, err := NewFilterExec(filterSource(t), pred); err == nil {
			t.Fatal("expected error for predicate over unknown column")
		}
	})

	t.Run("zero batch size is an error", func(t *testing.T) {
		pred := Expr.NewBinaryExpr(
			Expr.NewColumnResolve("x"),
			Expr.LessThan,
			Expr.NewLiteralResolve(arrow.PrimitiveTypes.Int64, 3))
		f, err := NewFilterExec(filterSource(t), pred)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := f.Next(0); err == nil {
			t.Fatal("expected error for n == 0")
		}
	})
}

func TestLimitExec(t *testing.T) {
	t.Run("caps total rows served", func(t *testing.T) {
		l, err := NewLimitExec(filterSource(t), 4)
		if err != nil {
			t.Fatal(err)
		}
		var total int
		for {
			batch, err := l.Next(3)
			if err != nil {
				if errors.Is(err, io.EOF) {
					break
				}
				t.Fatal(err)
			}
			total += int(batch.RowCount)
		}
		if total != 4 {
			t.Fatalf("expected 4 rows through the limit, got %d", total)
		}
	})
}
