package filter

import (
	"io"
	"quiver-sql-go/operators"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
)

var (
	_ = (operators.Operator)(&LimitExec{})
)

type LimitExec struct {
	input     operators.Operator
	schema    *arrow.Schema
	remaining uint16
	done      bool
}

func NewLimitExec(input operators.Operator, count uint16) (*LimitExec, error) {
	return &LimitExec{
		input:     input,
		schema:    input.Schema(),
		remaining: count,
	}, nil
}

func (l *LimitExec) Next(n uint16) (*operators.RecordBatch, error) {
	if n == 0 {
		return &operators.RecordBatch{
			Schema:   l.schema,
			Columns:  []arrow.Array{},
			RowCount: 0,
		}, nil
	}
	if l.remaining == 0 {
		return nil, io.EOF
	}
	var childN uint16
	switch {
	case n < l.remaining:
		// We can fulfill the request fully
		childN = n
		l.remaining -= n

	case n == l.remaining:
		// Exact request - done afterwards
		childN = n
		l.remaining = 0
		l.done = true

	case n > l.remaining:
		// Only have l.remaining left
		childN = l.remaining
		l.remaining = 0
		l.done = true
	}
	childBatch, err := l.input.Next(childN)
	if err != nil {
		return nil, err
	}
	// pipeline breakers serve whole chunks regardless of n; cut the batch down
	// so the limit holds
	if childBatch.RowCount > uint64(childN) {
		cut := make([]arrow.Array, len(childBatch.Columns))
		for i, col := range childBatch.Columns {
			cut[i] = array.NewSlice(col, 0, int64(childN))
		}
		childBatch = &operators.RecordBatch{
			Schema:   childBatch.Schema,
			Columns:  cut,
			RowCount: uint64(childN),
		}
	}
	return childBatch, nil
}

func (l *LimitExec) Schema() *arrow.Schema {
	return l.schema
}

func (l *LimitExec) Close() error {
	return l.input.Close()
}
