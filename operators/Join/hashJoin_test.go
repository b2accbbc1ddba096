package join

import (
	"math"
	"quiver-sql-go/Expr"
	"quiver-sql-go/operators"
	"quiver-sql-go/operators/project"
	"testing"
)

func leftSource(t *testing.T) *project.InMemorySource {
	t.Helper()
	src, err := project.NewInMemoryProjectExec(
		[]string{"id", "name"},
		[]any{
			[]int{1, 2, 3},
			[]string{"ann", "bob", "cat"},
		})
	if err != nil {
		t.Fatal(err)
	}
	return src
}

func rightSource(t *testing.T) *project.InMemorySource {
	t.Helper()
	src, err := project.NewInMemoryProjectExec(
		[]string{"id", "dept"},
		[]any{
			[]int{2, 3, 3, 4},
			[]string{"eng", "sales", "ops", "hr"},
		})
	if err != nil {
		t.Fatal(err)
	}
	return src
}

func TestHashJoin(t *testing.T) {
	clause := NewJoinClause(
		[]Expr.Expression{Expr.NewColumnResolve("id")},
		[]Expr.Expression{Expr.NewColumnResolve("id")})

	t.Run("inner join emits all matching pairs", func(t *testing.T) {
		hj, err := NewHashJoinExec(leftSource(t), rightSource(t), clause, InnerJoin)
		if err != nil {
			t.Fatal(err)
		}
		batch, err := hj.Next(math.MaxUint16)
		if err != nil {
			t.Fatal(err)
		}
		// id 1 has no partner, id 2 matches once, id 3 matches twice
		if batch.RowCount != 3 {
			t.Fatalf("expected 3 joined rows, got %d\n%s", batch.RowCount, batch.PrettyPrint())
		}

		schema := hj.Schema()
		if schema.Field(0).Name != "left_id" || schema.Field(2).Name != "right_id" {
			t.Fatalf("colliding columns must be prefixed, got %v", schema)
		}

		seen := map[string]int{}
		for r := 0; r < int(batch.RowCount); r++ {
			name := operators.ValueAt(batch.Columns[1], r).(string)
			dept := operators.ValueAt(batch.Columns[3], r).(string)
			seen[name+"/"+dept]++
		}
		for _, want := range []string{"bob/eng", "cat/sales", "cat/ops"} {
			if seen[want] != 1 {
				t.Fatalf("missing joined row %s: %v", want, seen)
			}
		}
	})

	t.Run("mismatched clause lengths are rejected", func(t *testing.T) {
		bad := NewJoinClause(
			[]Expr.Expression{Expr.NewColumnResolve("id")},
			[]Expr.Expression{})
		if _, err := NewHashJoinExec(leftSource(t), rightSource(t), bad, InnerJoin); err == nil {
			t.Fatal("expected clause length error")
		}
	})
}
