package window

import (
	"quiver-sql-go/Expr"
	"quiver-sql-go/operators"
	"testing"

	"github.com/apache/arrow/go/v17/arrow"
)

// sorted (partition, order) key collection, chunked small to exercise chunk
// crossing binary searches
func keysCollection(t *testing.T, parts []string, orders []int64) *operators.BatchCollection {
	t.Helper()
	rbb := operators.NewRecordBatchBuilder()
	schema := rbb.SchemaBuilder.
		WithField("p", arrow.BinaryTypes.String, true).
		WithField("o", arrow.PrimitiveTypes.Int64, true).
		Build()
	batch, err := rbb.NewRecordBatch(schema, []arrow.Array{
		operators.NewRecordBatchBuilder().GenStringArray(parts...),
		operators.NewRecordBatchBuilder().GenInt64Array(orders...),
	})
	if err != nil {
		t.Fatal(err)
	}
	bc := operators.NewBatchCollection(schema, 3)
	if err := bc.Append(batch); err != nil {
		t.Fatal(err)
	}
	return bc
}

func scalarBoundCollection(t *testing.T, v int64) *operators.BatchCollection {
	t.Helper()
	rbb := operators.NewRecordBatchBuilder()
	schema := rbb.SchemaBuilder.WithField("b", arrow.PrimitiveTypes.Int64, true).Build()
	batch, err := rbb.NewRecordBatch(schema, []arrow.Array{operators.NewRecordBatchBuilder().GenInt64Array(v)})
	if err != nil {
		t.Fatal(err)
	}
	bc := operators.NewBatchCollection(schema, 3)
	if err := bc.Append(batch); err != nil {
		t.Fatal(err)
	}
	return bc
}

func partitionedExpr(kind FuncKind) *BoundWindowExpr {
	return NewWindowExpr(kind).
		PartitionBy(Expr.NewColumnResolve("p")).
		OrderBy(OrderKey{Expr: Expr.NewColumnResolve("o"), Ascending: true})
}

func TestBoundaryInvariants(t *testing.T) {
	// already sorted by (p, o); peers inside partitions
	parts := []string{"a", "a", "a", "a", "b", "b", "c", "c", "c"}
	orders := []int64{1, 1, 2, 3, 1, 1, 5, 5, 5}
	keys := keysCollection(t, parts, orders)
	n := keys.Count()

	e := &exprEval{wexpr: partitionedExpr(CumeDist), count: n, sortKeys: keys}
	var b frameBounds
	for r := 0; r < n; r++ {
		if err := e.updateBounds(&b, r); err != nil {
			t.Fatalf("row %d: %v", r, err)
		}
		if !(b.partitionStart <= b.peerStart && b.peerStart <= r &&
			r < b.peerEnd && b.peerEnd <= b.partitionEnd && b.partitionEnd <= n) {
			t.Fatalf("row %d: boundary invariant violated: pstart=%d peerstart=%d peerend=%d pend=%d",
				r, b.partitionStart, b.peerStart, b.peerEnd, b.partitionEnd)
		}
		if b.windowStart < int64(b.partitionStart) || b.windowEnd > int64(b.partitionEnd) {
			t.Fatalf("row %d: frame leaked out of its partition: [%d,%d) not in [%d,%d)",
				r, b.windowStart, b.windowEnd, b.partitionStart, b.partitionEnd)
		}
	}
}

func TestPartitionDetection(t *testing.T) {
	parts := []string{"a", "a", "b", "b", "b", "c"}
	orders := []int64{1, 2, 1, 1, 3, 9}
	keys := keysCollection(t, parts, orders)

	e := &exprEval{wexpr: partitionedExpr(CumeDist), count: keys.Count(), sortKeys: keys}
	var b frameBounds

	wantPartStart := []int{0, 0, 2, 2, 2, 5}
	wantPartEnd := []int{2, 2, 5, 5, 5, 6}
	wantPeerEnd := []int{1, 2, 4, 4, 5, 6}
	for r := 0; r < keys.Count(); r++ {
		if err := e.updateBounds(&b, r); err != nil {
			t.Fatalf("row %d: %v", r, err)
		}
		if b.partitionStart != wantPartStart[r] || b.partitionEnd != wantPartEnd[r] {
			t.Fatalf("row %d: partition [%d,%d), expected [%d,%d)",
				r, b.partitionStart, b.partitionEnd, wantPartStart[r], wantPartEnd[r])
		}
		if b.peerEnd != wantPeerEnd[r] {
			t.Fatalf("row %d: peer end %d, expected %d", r, b.peerEnd, wantPeerEnd[r])
		}
	}
}

func TestEqualRunEnd(t *testing.T) {
	parts := []string{"a", "a", "a", "b", "b", "c"}
	orders := []int64{1, 1, 2, 7, 8, 9}
	keys := keysCollection(t, parts, orders)

	t.Run("partition prefix", func(t *testing.T) {
		if got := equalRunEnd(keys, 0, 0, keys.Count(), 1); got != 3 {
			t.Fatalf("expected run end 3, got %d", got)
		}
		if got := equalRunEnd(keys, 3, 3, keys.Count(), 1); got != 5 {
			t.Fatalf("expected run end 5, got %d", got)
		}
	})
	t.Run("full sort key", func(t *testing.T) {
		if got := equalRunEnd(keys, 0, 0, 3, 2); got != 2 {
			t.Fatalf("expected peer run end 2, got %d", got)
		}
	})
	t.Run("zero columns means the whole range", func(t *testing.T) {
		if got := equalRunEnd(keys, 0, 0, keys.Count(), 0); got != keys.Count() {
			t.Fatalf("expected %d, got %d", keys.Count(), got)
		}
	})
}

func TestFrameResolution(t *testing.T) {
	parts := []string{"a", "a", "a", "a", "a"}
	orders := []int64{1, 2, 3, 4, 5}
	keys := keysCollection(t, parts, orders)
	n := keys.Count()

	t.Run("rows between 1 preceding and 1 following", func(t *testing.T) {
		wexpr := partitionedExpr(Aggregate)
		wexpr.Start, wexpr.End = ExprPreceding, ExprFollowing
		e := &exprEval{
			wexpr:       wexpr,
			count:       n,
			sortKeys:    keys,
			startBound:  scalarBoundCollection(t, 1),
			endBound:    scalarBoundCollection(t, 1),
			startScalar: true,
			endScalar:   true,
		}
		var b frameBounds
		wantStart := []int64{0, 0, 1, 2, 3}
		wantEnd := []int64{2, 3, 4, 5, 5}
		for r := 0; r < n; r++ {
			if err := e.updateBounds(&b, r); err != nil {
				t.Fatalf("row %d: %v", r, err)
			}
			if b.windowStart != wantStart[r] || b.windowEnd != wantEnd[r] {
				t.Fatalf("row %d: frame [%d,%d), expected [%d,%d)",
					r, b.windowStart, b.windowEnd, wantStart[r], wantEnd[r])
			}
		}
	})

	t.Run("frame entirely before the partition is empty", func(t *testing.T) {
		wexpr := partitionedExpr(Aggregate)
		wexpr.Start, wexpr.End = ExprPreceding, ExprPreceding
		e := &exprEval{
			wexpr:       wexpr,
			count:       n,
			sortKeys:    keys,
			startBound:  scalarBoundCollection(t, 4),
			endBound:    scalarBoundCollection(t, 3),
			startScalar: true,
			endScalar:   true,
		}
		var b frameBounds
		if err := e.updateBounds(&b, 0); err != nil {
			t.Fatalf("expected an empty frame, not an error: %v", err)
		}
		if !b.empty() {
			t.Fatalf("expected empty frame, got [%d,%d)", b.windowStart, b.windowEnd)
		}
	})

	t.Run("unbounded following start is rejected", func(t *testing.T) {
		wexpr := partitionedExpr(Aggregate)
		wexpr.Start = UnboundedFollowing
		e := &exprEval{wexpr: wexpr, count: n, sortKeys: keys}
		var b frameBounds
		if err := e.updateBounds(&b, 0); err == nil {
			t.Fatal("expected an unsupported boundary error")
		}
	})

	t.Run("unbounded preceding end is rejected", func(t *testing.T) {
		wexpr := partitionedExpr(Aggregate)
		wexpr.End = UnboundedPreceding
		e := &exprEval{wexpr: wexpr, count: n, sortKeys: keys}
		var b frameBounds
		if err := e.updateBounds(&b, 0); err == nil {
			t.Fatal("expected an unsupported boundary error")
		}
	})

	t.Run("over () treats everything as one partition", func(t *testing.T) {
		wexpr := NewWindowExpr(Aggregate, Expr.NewColumnResolve("o"))
		e := &exprEval{wexpr: wexpr, count: n}
		var b frameBounds
		for r := 0; r < n; r++ {
			if err := e.updateBounds(&b, r); err != nil {
				t.Fatalf("row %d: %v", r, err)
			}
			if b.partitionStart != 0 || b.partitionEnd != n {
				t.Fatalf("row %d: expected the whole input as one partition, got [%d,%d)",
					r, b.partitionStart, b.partitionEnd)
			}
			if b.windowStart != 0 || b.windowEnd != int64(n) {
				t.Fatalf("row %d: default frame over () should cover everything, got [%d,%d)",
					r, b.windowStart, b.windowEnd)
			}
		}
	})
}
