package window

import (
	"quiver-sql-go/operators/aggr"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
)

// treeFanout is the number of children per segment tree node. 16 keeps the
// tree shallow while leaf re-aggregation stays cheap.
const treeFanout = 16

// segmentTree answers arbitrary [lo, hi) aggregation queries over a payload
// column in O(log n) by precomputing partial aggregate states bottom up.
// levels[0] holds one state per fanout sized block of payload rows; each
// higher level combines fanout children. Ragged query edges fall back to the
// raw payload (level 0) or the level below (higher levels).
//
// The payload is widened to float64 once at construction so the states only
// see one input type. NULL payload rows never reach Update.
type segmentTree struct {
	desc    *aggr.Descriptor
	payload *array.Float64
	levels  [][]aggr.State
}

func newSegmentTree(desc *aggr.Descriptor, payload arrow.Array) (*segmentTree, error) {
	if !desc.Associative {
		return nil, ErrNotAssociative(desc.Func.String())
	}
	cast, err := aggr.CastToFloat64(payload)
	if err != nil {
		return nil, err
	}
	t := &segmentTree{
		desc:    desc,
		payload: cast.(*array.Float64),
	}
	t.build()
	return t, nil
}

func (t *segmentTree) build() {
	n := t.payload.Len()
	if n == 0 {
		return
	}

	leafCount := (n + treeFanout - 1) / treeFanout
	level := make([]aggr.State, leafCount)
	for i := range level {
		st := t.desc.NewState()
		lo := i * treeFanout
		hi := min(lo+treeFanout, n)
		for j := lo; j < hi; j++ {
			if t.payload.IsNull(j) {
				continue
			}
			st.Update(t.payload.Value(j))
		}
		level[i] = st
	}
	t.levels = append(t.levels, level)

	for len(level) > 1 {
		parents := make([]aggr.State, (len(level)+treeFanout-1)/treeFanout)
		for i := range parents {
			st := t.desc.NewState()
			lo := i * treeFanout
			hi := min(lo+treeFanout, len(level))
			for j := lo; j < hi; j++ {
				st.Combine(level[j])
			}
			parents[i] = st
		}
		t.levels = append(t.levels, parents)
		level = parents
	}
}

// aggregateRange folds positions [lo, hi) of the given level into state.
// Level 0 re-aggregates raw payload rows, higher levels combine the partial
// states of the level below.
func (t *segmentTree) aggregateRange(state aggr.State, level, lo, hi int) {
	if level == 0 {
		for i := lo; i < hi; i++ {
			if t.payload.IsNull(i) {
				continue
			}
			state.Update(t.payload.Value(i))
		}
		return
	}
	below := t.levels[level-1]
	for i := lo; i < hi; i++ {
		state.Combine(below[i])
	}
}

// Compute aggregates the payload rows in [lo, hi), lo < hi. The walk covers
// the ragged left and right edges at each level and ascends with the aligned
// middle until the interval collapses into a single parent.
func (t *segmentTree) Compute(lo, hi int) (float64, bool) {
	state := t.desc.NewState()
	for level := 0; ; level++ {
		parentBegin := lo / treeFanout
		parentEnd := hi / treeFanout
		if parentBegin == parentEnd {
			t.aggregateRange(state, level, lo, hi)
			break
		}
		groupBegin := parentBegin * treeFanout
		if lo != groupBegin {
			t.aggregateRange(state, level, lo, groupBegin+treeFanout)
			parentBegin++
		}
		groupEnd := parentEnd * treeFanout
		if hi != groupEnd {
			t.aggregateRange(state, level, groupEnd, hi)
		}
		lo, hi = parentBegin, parentEnd
	}
	return state.Finalize()
}
