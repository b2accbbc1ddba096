package Expr

import (
	"quiver-sql-go/operators"
	"testing"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
)

func exprBatch(t *testing.T) *operators.RecordBatch {
	t.Helper()
	rbb := operators.NewRecordBatchBuilder()
	schema := rbb.SchemaBuilder.
		WithField("age", arrow.PrimitiveTypes.Int64, true).
		WithField("name", arrow.BinaryTypes.String, true).
		Build()
	batch, err := rbb.NewRecordBatch(schema, []arrow.Array{
		operators.NewRecordBatchBuilder().GenInt64Array(10, 20, 30),
		operators.NewRecordBatchBuilder().GenStringArray("ann", "bob", "cat"),
	})
	if err != nil {
		t.Fatal(err)
	}
	return batch
}

func TestEvalColumn(t *testing.T) {
	batch := exprBatch(t)
	arr, err := EvalExpression(NewColumnResolve("age"), batch)
	if err != nil {
		t.Fatal(err)
	}
	got := arr.(*array.Int64)
	if got.Value(0) != 10 || got.Value(2) != 30 {
		t.Fatalf("column resolve wrong: %v", got)
	}

	if _, err := EvalExpression(NewColumnResolve("missing"), batch); err == nil {
		t.Fatal("expected error for unknown column")
	}
}

func TestEvalLiteral(t *testing.T) {
	batch := exprBatch(t)
	arr, err := EvalExpression(NewLiteralResolve(arrow.PrimitiveTypes.Int64, 7), batch)
	if err != nil {
		t.Fatal(err)
	}
	got := arr.(*array.Int64)
	if got.Len() != 3 {
		t.Fatalf("literal must expand to batch length, got %d", got.Len())
	}
	for i := 0; i < got.Len(); i++ {
		if got.Value(i) != 7 {
			t.Fatalf("literal value wrong at %d: %d", i, got.Value(i))
		}
	}
}

func TestEvalBinaryComparison(t *testing.T) {
	batch := exprBatch(t)
	pred := NewBinaryExpr(NewColumnResolve("age"), GreaterThan, NewLiteralResolve(arrow.PrimitiveTypes.Int64, 15))
	arr, err := EvalExpression(pred, batch)
	if err != nil {
		t.Fatal(err)
	}
	mask := arr.(*array.Boolean)
	want := []bool{false, true, true}
	for i := range want {
		if mask.Value(i) != want[i] {
			t.Fatalf("mask[%d]: got %v want %v", i, mask.Value(i), want[i])
		}
	}
}

func TestEvalBinaryArithmetic(t *testing.T) {
	batch := exprBatch(t)
	sum := NewBinaryExpr(NewColumnResolve("age"), Addition, NewLiteralResolve(arrow.PrimitiveTypes.Int64, 1))
	arr, err := EvalExpression(sum, batch)
	if err != nil {
		t.Fatal(err)
	}
	got := arr.(*array.Int64)
	if got.Value(0) != 11 || got.Value(2) != 31 {
		t.Fatalf("addition wrong: %v", got)
	}
}

func TestExprDataType(t *testing.T) {
	batch := exprBatch(t)

	dt, err := ExprDataType(NewColumnResolve("name"), batch.Schema)
	if err != nil || dt.ID() != arrow.STRING {
		t.Fatalf("expected string, got %v (%v)", dt, err)
	}

	dt, err = ExprDataType(NewBinaryExpr(NewColumnResolve("age"), LessThan, NewLiteralResolve(arrow.PrimitiveTypes.Int64, 5)), batch.Schema)
	if err != nil || dt.ID() != arrow.BOOL {
		t.Fatalf("comparisons must type as bool, got %v (%v)", dt, err)
	}

	if _, err := ExprDataType(NewColumnResolve("missing"), batch.Schema); err == nil {
		t.Fatal("expected error for unknown column")
	}
}

func TestIsScalar(t *testing.T) {
	lit := NewLiteralResolve(arrow.PrimitiveTypes.Int64, 5)
	col := NewColumnResolve("age")

	cases := []struct {
		name string
		expr Expression
		want bool
	}{
		{"literal", lit, true},
		{"column", col, false},
		{"cast of literal", NewCastExpr(lit, arrow.PrimitiveTypes.Float64), true},
		{"cast of column", NewCastExpr(col, arrow.PrimitiveTypes.Float64), false},
		{"binary of literals", NewBinaryExpr(lit, Addition, lit), true},
		{"binary with a column", NewBinaryExpr(lit, Addition, col), false},
		{"alias of literal", NewAlias(lit, "x"), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsScalar(tc.expr); got != tc.want {
				t.Fatalf("IsScalar(%s) = %v, want %v", tc.expr, got, tc.want)
			}
		})
	}
}

func TestEvalScalarFunctionUpper(t *testing.T) {
	batch := exprBatch(t)
	arr, err := EvalExpression(NewScalarFunction(Upper, NewColumnResolve("name")), batch)
	if err != nil {
		t.Fatal(err)
	}
	got := arr.(*array.String)
	if got.Value(0) != "ANN" || got.Value(2) != "CAT" {
		t.Fatalf("upper wrong: %v", got)
	}
}

func TestEvalCast(t *testing.T) {
	batch := exprBatch(t)
	arr, err := EvalExpression(NewCastExpr(NewColumnResolve("age"), arrow.PrimitiveTypes.Float64), batch)
	if err != nil {
		t.Fatal(err)
	}
	got := arr.(*array.Float64)
	if got.Value(1) != 20.0 {
		t.Fatalf("cast wrong: %v", got)
	}
}
