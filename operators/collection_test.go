package operators

import (
	"testing"

	"github.com/apache/arrow/go/v17/arrow"
)

func intBatch(t *testing.T, name string, values ...int64) *RecordBatch {
	t.Helper()
	rbb := NewRecordBatchBuilder()
	schema := rbb.SchemaBuilder.WithField(name, arrow.PrimitiveTypes.Int64, true).Build()
	batch, err := rbb.NewRecordBatch(schema, []arrow.Array{rbb.GenInt64Array(values...)})
	if err != nil {
		t.Fatalf("unexpected error building batch: %v", err)
	}
	return batch
}

func twoColBatch(t *testing.T, a []int64, b []string) *RecordBatch {
	t.Helper()
	rbb := NewRecordBatchBuilder()
	schema := rbb.SchemaBuilder.
		WithField("a", arrow.PrimitiveTypes.Int64, true).
		WithField("b", arrow.BinaryTypes.String, true).
		Build()
	batch, err := rbb.NewRecordBatch(schema, []arrow.Array{
		NewRecordBatchBuilder().GenInt64Array(a...),
		NewRecordBatchBuilder().GenStringArray(b...),
	})
	if err != nil {
		t.Fatalf("unexpected error building batch: %v", err)
	}
	return batch
}

func TestCollectionAppendRechunks(t *testing.T) {
	t.Run("appends split into fixed capacity chunks", func(t *testing.T) {
		batch := intBatch(t, "x", 1, 2, 3, 4, 5, 6, 7, 8, 9, 10)
		bc := NewBatchCollection(batch.Schema, 4)
		if err := bc.Append(batch); err != nil {
			t.Fatal(err)
		}
		if bc.Count() != 10 {
			t.Fatalf("expected 10 rows, got %d", bc.Count())
		}
		if bc.ChunkCount() != 3 {
			t.Fatalf("expected 3 chunks, got %d", bc.ChunkCount())
		}
		// every chunk except the last must hold exactly capacity rows
		for i := 0; i < bc.ChunkCount()-1; i++ {
			if int(bc.Chunk(i).RowCount) != 4 {
				t.Fatalf("chunk %d has %d rows, expected 4", i, bc.Chunk(i).RowCount)
			}
		}
		if int(bc.Chunk(2).RowCount) != 2 {
			t.Fatalf("last chunk has %d rows, expected 2", bc.Chunk(2).RowCount)
		}
	})

	t.Run("partial chunk is topped up by the next append", func(t *testing.T) {
		bc := NewBatchCollection(nil, 4)
		if err := bc.Append(intBatch(t, "x", 1, 2, 3)); err != nil {
			t.Fatal(err)
		}
		if err := bc.Append(intBatch(t, "x", 4, 5, 6)); err != nil {
			t.Fatal(err)
		}
		if bc.ChunkCount() != 2 {
			t.Fatalf("expected 2 chunks, got %d", bc.ChunkCount())
		}
		if int(bc.Chunk(0).RowCount) != 4 {
			t.Fatalf("first chunk has %d rows, expected 4", bc.Chunk(0).RowCount)
		}
		for i := 0; i < 6; i++ {
			got := bc.GetValue(0, i)
			if got != int64(i+1) {
				t.Fatalf("row %d: expected %d got %v", i, i+1, got)
			}
		}
	})

	t.Run("schema mismatch is rejected", func(t *testing.T) {
		bc := NewBatchCollection(nil, 4)
		if err := bc.Append(intBatch(t, "x", 1)); err != nil {
			t.Fatal(err)
		}
		rbb := NewRecordBatchBuilder()
		schema := rbb.SchemaBuilder.WithField("x", arrow.BinaryTypes.String, true).Build()
		bad, err := rbb.NewRecordBatch(schema, []arrow.Array{rbb.GenStringArray("oops")})
		if err != nil {
			t.Fatal(err)
		}
		if err := bc.Append(bad); err == nil {
			t.Fatal("expected a schema mismatch error, got nil")
		}
	})
}

func TestCollectionRowAccess(t *testing.T) {
	batch := twoColBatch(t, []int64{1, 2, 3, 4, 5}, []string{"a", "b", "c", "d", "e"})
	bc := NewBatchCollection(batch.Schema, 2)
	if err := bc.Append(batch); err != nil {
		t.Fatal(err)
	}

	t.Run("GetRow crosses chunk boundaries", func(t *testing.T) {
		row := bc.GetRow(4)
		if row[0] != int64(5) || row[1] != "e" {
			t.Fatalf("expected [5 e], got %v", row)
		}
	})
	t.Run("GetValue single column", func(t *testing.T) {
		if got := bc.GetValue(1, 2); got != "c" {
			t.Fatalf("expected c, got %v", got)
		}
	})
}

func TestCollectionReorder(t *testing.T) {
	batch := twoColBatch(t, []int64{30, 10, 20, 10}, []string{"w", "x", "y", "z"})
	bc := NewBatchCollection(batch.Schema, 2)
	if err := bc.Append(batch); err != nil {
		t.Fatal(err)
	}

	// new row i holds old row perm[i]
	if err := bc.Reorder([]int64{1, 3, 2, 0}); err != nil {
		t.Fatal(err)
	}
	wantA := []int64{10, 10, 20, 30}
	wantB := []string{"x", "z", "y", "w"}
	for i := range wantA {
		if bc.GetValue(0, i) != wantA[i] || bc.GetValue(1, i) != wantB[i] {
			t.Fatalf("row %d: expected (%d %s), got (%v %v)",
				i, wantA[i], wantB[i], bc.GetValue(0, i), bc.GetValue(1, i))
		}
	}

	t.Run("wrong permutation length", func(t *testing.T) {
		if err := bc.Reorder([]int64{0, 1}); err == nil {
			t.Fatal("expected error for permutation length mismatch")
		}
	})
}

func TestCollectionMerge(t *testing.T) {
	a := NewBatchCollection(nil, 4)
	if err := a.Append(intBatch(t, "x", 1, 2, 3)); err != nil {
		t.Fatal(err)
	}
	b := NewBatchCollection(nil, 4)
	if err := b.Append(intBatch(t, "x", 4, 5)); err != nil {
		t.Fatal(err)
	}
	if err := a.Merge(b); err != nil {
		t.Fatal(err)
	}
	if a.Count() != 5 {
		t.Fatalf("expected 5 rows after merge, got %d", a.Count())
	}
	if b.Count() != 0 {
		t.Fatalf("merge must consume the source, still has %d rows", b.Count())
	}
	for i := 0; i < 5; i++ {
		if a.GetValue(0, i) != int64(i+1) {
			t.Fatalf("row %d: expected %d got %v", i, i+1, a.GetValue(0, i))
		}
	}
}

func TestCollectionReplaceColumn(t *testing.T) {
	batch := intBatch(t, "x", 1, 2, 3, 4, 5)
	bc := NewBatchCollection(batch.Schema, 2)
	if err := bc.Append(batch); err != nil {
		t.Fatal(err)
	}
	repl := NewRecordBatchBuilder().GenInt64Array(10, 20, 30, 40, 50)
	if err := bc.ReplaceColumn(0, repl); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		if bc.GetValue(0, i) != int64((i+1)*10) {
			t.Fatalf("row %d: expected %d got %v", i, (i+1)*10, bc.GetValue(0, i))
		}
	}

	short := NewRecordBatchBuilder().GenInt64Array(1, 2)
	if err := bc.ReplaceColumn(0, short); err == nil {
		t.Fatal("expected error replacing with a short column")
	}
}
