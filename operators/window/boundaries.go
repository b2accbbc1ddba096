package window

import (
	"quiver-sql-go/operators"
)

// frameBounds carries the partition, peer group and frame boundaries of the
// row currently being evaluated. All index pairs are half open on the right.
//
// After updateBounds for row r the invariants are
//
//	partitionStart <= peerStart <= r < peerEnd <= partitionEnd <= count
//	0 <= windowStart <= windowEnd <= count   (once the frame is non empty)
type frameBounds struct {
	partitionStart int
	partitionEnd   int
	peerStart      int
	peerEnd        int

	// signed: expression offsets can push these negative before clamping
	windowStart int64
	windowEnd   int64

	samePartition bool
	isPeer        bool
}

// empty reports whether the current frame covers no rows.
func (b *frameBounds) empty() bool {
	return b.windowStart >= b.windowEnd
}

// equalRows compares rows i and j of the sort key collection over the column
// range [startCol, endCol).
func equalRows(keys *operators.BatchCollection, i, j, startCol, endCol int) bool {
	for c := startCol; c < endCol; c++ {
		ai, oi := keys.ColumnAt(c, i)
		aj, oj := keys.ColumnAt(c, j)
		if operators.CompareAt(ai, oi, aj, oj) != 0 {
			return false
		}
	}
	return true
}

// equalRunEnd finds the exclusive end of the run of rows in [lo, hi) whose
// first `cols` sort key columns equal those of row ref. Row lo must be part of
// the run. Because the collection is sorted, equal rows are contiguous and the
// predicate is monotone, so this is a rightmost match binary search regardless
// of per key direction.
func equalRunEnd(keys *operators.BatchCollection, ref, lo, hi, cols int) int {
	if cols == 0 {
		return hi
	}
	l, r := lo, hi
	for l < r {
		m := (l + r) / 2
		if equalRows(keys, ref, m, 0, cols) {
			l = m + 1
		} else {
			r = m
		}
	}
	return l
}

// updateBounds advances the boundary state to row r. sortKeys is nil for an
// OVER () expression, in which case the whole input is one partition and one
// peer group.
func (e *exprEval) updateBounds(b *frameBounds, r int) error {
	w := e.wexpr

	if e.sortKeys != nil && e.sortKeys.ColumnCount() > 0 {
		partCols := len(w.Partitions)
		sortCols := w.sortColumnCount()

		// partition / peer transitions are detected against the previous row
		b.samePartition = r > 0 && equalRows(e.sortKeys, r-1, r, 0, partCols)
		b.isPeer = b.samePartition && equalRows(e.sortKeys, r-1, r, partCols, sortCols)

		if !b.samePartition || r == 0 {
			b.partitionStart = r
			b.peerStart = r
			b.partitionEnd = equalRunEnd(e.sortKeys, r, r, e.count, partCols)
		} else if !b.isPeer {
			b.peerStart = r
		}

		if w.End == CurrentRowRange || w.Kind == CumeDist {
			b.peerEnd = equalRunEnd(e.sortKeys, r, r, b.partitionEnd, sortCols)
		}
	} else {
		b.samePartition = false
		b.isPeer = true
		b.partitionEnd = e.count
		b.peerEnd = b.partitionEnd
	}

	b.windowStart = -1
	b.windowEnd = -1

	switch w.Start {
	case UnboundedPreceding:
		b.windowStart = int64(b.partitionStart)
	case CurrentRowRows:
		b.windowStart = int64(r)
	case CurrentRowRange:
		b.windowStart = int64(b.peerStart)
	case ExprPreceding:
		off, err := e.boundOffset(e.startBound, e.startScalar, r)
		if err != nil {
			return err
		}
		b.windowStart = int64(r) - off
	case ExprFollowing:
		off, err := e.boundOffset(e.startBound, e.startScalar, r)
		if err != nil {
			return err
		}
		b.windowStart = int64(r) + off
	default:
		// UnboundedFollowing makes no sense as a frame start
		return ErrUnsupportedBoundary(w.Start)
	}

	switch w.End {
	case CurrentRowRows:
		b.windowEnd = int64(r) + 1
	case CurrentRowRange:
		b.windowEnd = int64(b.peerEnd)
	case UnboundedFollowing:
		b.windowEnd = int64(b.partitionEnd)
	case ExprPreceding:
		off, err := e.boundOffset(e.endBound, e.endScalar, r)
		if err != nil {
			return err
		}
		b.windowEnd = int64(r) - off + 1
	case ExprFollowing:
		off, err := e.boundOffset(e.endBound, e.endScalar, r)
		if err != nil {
			return err
		}
		b.windowEnd = int64(r) + off + 1
	default:
		// UnboundedPreceding makes no sense as a frame end
		return ErrUnsupportedBoundary(w.End)
	}

	// clamp the frame to the current partition. a frame that falls entirely
	// before the partition ends up empty rather than erroring, so queries like
	// ROWS BETWEEN 3 PRECEDING AND 2 PRECEDING yield NULL on the first rows.
	if b.windowStart < int64(b.partitionStart) {
		b.windowStart = int64(b.partitionStart)
	}
	if b.windowEnd > int64(b.partitionEnd) {
		b.windowEnd = int64(b.partitionEnd)
	}
	return nil
}

// boundOffset reads the materialized frame offset for row r. Scalar offset
// expressions were materialized once, so they are read at index 0.
func (e *exprEval) boundOffset(coll *operators.BatchCollection, scalar bool, r int) (int64, error) {
	if coll == nil || coll.ColumnCount() == 0 {
		return 0, ErrBoundaryComputation("frame bound expression was not materialized")
	}
	idx := r
	if scalar {
		idx = 0
	}
	v, ok := operators.AsInt64(coll.GetValue(0, idx))
	if !ok {
		return 0, ErrBoundaryComputation("frame bound expression must evaluate to a non null integer")
	}
	return v, nil
}
