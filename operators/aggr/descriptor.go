package aggr

import (
	"context"
	"fmt"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/compute"
)

var (
	ErrUnsupportedAggrFunc = func(aggr int) error {
		return fmt.Errorf("%d is an unsupported aggregate function", aggr)
	}
	ErrInvalidAggrColumnType = func(value any) error {
		return fmt.Errorf("%v of type %T cannot be cast to float64 so it is not a valid column type to aggregate on", value, value)
	}
)

// AggrFunc represents the type of aggregation function to be performed.
type AggrFunc int

const (
	Min AggrFunc = iota
	Max
	Count
	Sum
	Avg
)

func (a AggrFunc) String() string {
	switch a {
	case Min:
		return "MIN"
	case Max:
		return "MAX"
	case Count:
		return "COUNT"
	case Sum:
		return "SUM"
	case Avg:
		return "AVG"
	default:
		return "UNKNOWN_AGGREGATE_FUNCTION"
	}
}

// State is one partial aggregate. Update folds in a single non null input
// value, Combine folds another state of the same function into this one, and
// Finalize projects the result. The second return of Finalize is false when
// the state saw no input, which surfaces as SQL NULL (except COUNT).
//
// Combine must be associative; that is what lets the window segment tree
// answer range queries from precomputed partials.
type State interface {
	Update(v float64)
	Combine(other State)
	Finalize() (float64, bool)
}

// Descriptor describes one aggregate function: a name, a state factory and
// whether Combine is associative. Kept as a record of functions so new
// aggregates can be registered at runtime.
type Descriptor struct {
	Func        AggrFunc
	Associative bool
	NewState    func() State
}

// DescriptorFor resolves the descriptor for one of the built in aggregates.
func DescriptorFor(fn AggrFunc) (*Descriptor, error) {
	switch fn {
	case Min:
		return &Descriptor{Func: Min, Associative: true, NewState: func() State { return &minState{} }}, nil
	case Max:
		return &Descriptor{Func: Max, Associative: true, NewState: func() State { return &maxState{} }}, nil
	case Count:
		return &Descriptor{Func: Count, Associative: true, NewState: func() State { return &countState{} }}, nil
	case Sum:
		return &Descriptor{Func: Sum, Associative: true, NewState: func() State { return &sumState{} }}, nil
	case Avg:
		return &Descriptor{Func: Avg, Associative: true, NewState: func() State { return &avgState{} }}, nil
	default:
		return nil, ErrUnsupportedAggrFunc(int(fn))
	}
}

var (
	_ = (State)(&minState{})
	_ = (State)(&maxState{})
	_ = (State)(&countState{})
	_ = (State)(&sumState{})
	_ = (State)(&avgState{})
)

type minState struct {
	v    float64
	seen bool
}

func (m *minState) Update(value float64) {
	if !m.seen {
		m.v = value
		m.seen = true
		return
	}
	m.v = min(m.v, value)
}
func (m *minState) Combine(other State) {
	o := other.(*minState)
	if !o.seen {
		return
	}
	if !m.seen {
		m.v = o.v
		m.seen = true
		return
	}
	m.v = min(m.v, o.v)
}
func (m *minState) Finalize() (float64, bool) { return m.v, m.seen }

type maxState struct {
	v    float64
	seen bool
}

func (m *maxState) Update(value float64) {
	if !m.seen {
		m.v = value
		m.seen = true
		return
	}
	m.v = max(m.v, value)
}
func (m *maxState) Combine(other State) {
	o := other.(*maxState)
	if !o.seen {
		return
	}
	if !m.seen {
		m.v = o.v
		m.seen = true
		return
	}
	m.v = max(m.v, o.v)
}
func (m *maxState) Finalize() (float64, bool) { return m.v, m.seen }

type countState struct {
	n int64
}

func (c *countState) Update(_ float64) { c.n++ }
func (c *countState) Combine(other State) {
	c.n += other.(*countState).n
}

// COUNT over an all null range is 0, not NULL
func (c *countState) Finalize() (float64, bool) { return float64(c.n), true }

type sumState struct {
	sum float64
	n   int64
}

func (s *sumState) Update(value float64) {
	s.sum += value
	s.n++
}
func (s *sumState) Combine(other State) {
	o := other.(*sumState)
	s.sum += o.sum
	s.n += o.n
}
func (s *sumState) Finalize() (float64, bool) { return s.sum, s.n > 0 }

type avgState struct {
	sum float64
	n   int64
}

func (a *avgState) Update(value float64) {
	a.sum += value
	a.n++
}
func (a *avgState) Combine(other State) {
	o := other.(*avgState)
	a.sum += o.sum
	a.n += o.n
}
func (a *avgState) Finalize() (float64, bool) {
	if a.n == 0 {
		return 0, false
	}
	return a.sum / float64(a.n), true
}

func validAggrType(dt arrow.DataType) bool {
	switch dt.ID() {
	case arrow.UINT8, arrow.UINT16, arrow.UINT32, arrow.UINT64,
		arrow.INT8, arrow.INT16, arrow.INT32, arrow.INT64, arrow.FLOAT16, arrow.FLOAT32, arrow.FLOAT64:
		return true
	default:
		return false
	}
}

// CastToFloat64 widens any numeric array to float64 so aggregate states only
// deal with one input type.
func CastToFloat64(arr arrow.Array) (arrow.Array, error) {
	out, err := compute.CastArray(context.TODO(), arr, compute.NewCastOptions(&arrow.Float64Type{}, true))
	if err != nil {
		return nil, err
	}
	return out, nil
}
