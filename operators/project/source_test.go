package project

import (
	"errors"
	"io"
	"math"
	"quiver-sql-go/operators"
	"strings"
	"testing"

	"github.com/apache/arrow/go/v17/arrow"
)

func TestInMemorySource(t *testing.T) {
	t.Run("serves batches of the requested size", func(t *testing.T) {
		src, err := NewInMemoryProjectExec(
			[]string{"x"},
			[]any{[]int{1, 2, 3, 4, 5}})
		if err != nil {
			t.Fatal(err)
		}
		first, err := src.Next(2)
		if err != nil {
			t.Fatal(err)
		}
		if first.RowCount != 2 {
			t.Fatalf("expected 2 rows, got %d", first.RowCount)
		}
		var total uint64 = first.RowCount
		for {
			batch, err := src.Next(2)
			if err != nil {
				if errors.Is(err, io.EOF) {
					break
				}
				t.Fatal(err)
			}
			total += batch.RowCount
		}
		if total != 5 {
			t.Fatalf("expected 5 rows total, got %d", total)
		}
	})

	t.Run("column count and names must agree", func(t *testing.T) {
		if _, err := NewInMemoryProjectExec([]string{"a", "b"}, []any{[]int{1}}); err == nil {
			t.Fatal("expected schema error")
		}
	})

	t.Run("unsupported column type is rejected", func(t *testing.T) {
		if _, err := NewInMemoryProjectExec([]string{"a"}, []any{[]complex64{1}}); err == nil {
			t.Fatal("expected unsupported type error")
		}
	})
}

func TestProjectSchemaFilterDown(t *testing.T) {
	src, err := NewInMemoryProjectExec(
		[]string{"a", "b", "c"},
		[]any{[]int{1}, []string{"x"}, []float64{1.5}})
	if err != nil {
		t.Fatal(err)
	}
	if err := src.WithFields("c", "a"); err != nil {
		t.Fatal(err)
	}
	schema := src.Schema()
	if schema.NumFields() != 2 || schema.Field(0).Name != "c" || schema.Field(1).Name != "a" {
		t.Fatalf("projection must preserve requested order, got %v", schema)
	}

	if err := src.WithFields("nope"); err == nil {
		t.Fatal("expected error projecting unknown column")
	}
}

func TestCSVSource(t *testing.T) {
	csvData := strings.Join([]string{
		"id,name,score,active",
		"1,ann,1.5,true",
		"2,bob,2.5,false",
		"3,cat,,true",
	}, "\n")

	src, err := NewProjectCSVLeaf(strings.NewReader(csvData))
	if err != nil {
		t.Fatal(err)
	}

	t.Run("header type sniffing", func(t *testing.T) {
		schema := src.Schema()
		if schema.Field(0).Type.ID() != arrow.INT64 {
			t.Fatalf("id should sniff as int64, got %s", schema.Field(0).Type)
		}
		if schema.Field(1).Type.ID() != arrow.STRING {
			t.Fatalf("name should sniff as string, got %s", schema.Field(1).Type)
		}
		if schema.Field(2).Type.ID() != arrow.FLOAT64 {
			t.Fatalf("score should sniff as float64, got %s", schema.Field(2).Type)
		}
		if schema.Field(3).Type.ID() != arrow.BOOL {
			t.Fatalf("active should sniff as bool, got %s", schema.Field(3).Type)
		}
	})

	t.Run("rows and nulls come through", func(t *testing.T) {
		batch, err := src.Next(math.MaxUint16)
		if err != nil {
			t.Fatal(err)
		}
		if batch.RowCount != 3 {
			t.Fatalf("expected 3 rows, got %d", batch.RowCount)
		}
		if got := operators.ValueAt(batch.Columns[0], 0); got != int64(1) {
			t.Fatalf("id[0]: got %v", got)
		}
		if got := operators.ValueAt(batch.Columns[2], 2); got != nil {
			t.Fatalf("empty cell should be NULL, got %v", got)
		}
	})
}
