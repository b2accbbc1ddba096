package window

import (
	"errors"
	"fmt"
	"io"
	"math"
	"quiver-sql-go/Expr"
	"quiver-sql-go/config"
	"quiver-sql-go/operators"
	"sync"

	"github.com/apache/arrow/go/v17/arrow"
)

var (
	_ = (operators.Operator)(&WindowExec{})
)

// WindowExec evaluates a list of bound window expressions over its entire
// input and appends one result column per expression. It is a pipeline
// breaker: Sink accumulates batches into per worker local state, Combine
// merges locals into the shared collection under a mutex, Finalize runs the
// per expression evaluation single threaded, and the output is served chunk
// by chunk as input columns + result columns.
//
// WindowExec does not preserve the upstream row order: sorting happens in
// place on the shared collection, so rows come out in the sort order of the
// last evaluated expression with a non empty key list. With no keys at all
// the output keeps insertion order, which is non deterministic when Sink ran
// on multiple workers.
type WindowExec struct {
	child       operators.Operator
	inputSchema *arrow.Schema
	schema      *arrow.Schema
	exprs       []*BoundWindowExpr
	capacity    int

	global *GlobalSinkState
	cursor int
	sunk   bool
}

// LocalSinkState buffers the batches one worker pushed. No locking; a local
// state is owned by exactly one worker until it is combined.
type LocalSinkState struct {
	data *operators.BatchCollection
}

// GlobalSinkState owns the shared input collection during ingestion and the
// result collection after Finalize. The mutex is the only cross worker
// synchronization point.
type GlobalSinkState struct {
	mu      sync.Mutex
	data    *operators.BatchCollection
	results *operators.BatchCollection
}

// Data exposes the merged input collection, for consumers that walk the
// operator output manually.
func (g *GlobalSinkState) Data() *operators.BatchCollection { return g.data }

// Results exposes the computed window columns after Finalize.
func (g *GlobalSinkState) Results() *operators.BatchCollection { return g.results }

func NewWindowExec(child operators.Operator, exprs []*BoundWindowExpr) (*WindowExec, error) {
	if len(exprs) == 0 {
		return nil, errors.New("window operator needs at least one window expression")
	}
	inputSchema := child.Schema()

	fields := make([]arrow.Field, 0, inputSchema.NumFields()+len(exprs))
	fields = append(fields, inputSchema.Fields()...)
	taken := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		taken[f.Name] = struct{}{}
	}
	for i, ex := range exprs {
		if err := ex.validate(); err != nil {
			return nil, err
		}
		if err := ex.resolveReturnType(inputSchema); err != nil {
			return nil, err
		}
		name := ex.Name
		if name == "" {
			name = ex.Kind.String()
		}
		if _, dup := taken[name]; dup {
			name = fmt.Sprintf("%s_%d", name, i)
		}
		taken[name] = struct{}{}
		fields = append(fields, arrow.Field{Name: name, Type: ex.ReturnType, Nullable: true})
	}

	capacity := config.GetConfig().Window.ChunkCapacity
	if capacity <= 0 {
		capacity = operators.DefaultChunkCapacity
	}
	return &WindowExec{
		child:       child,
		inputSchema: inputSchema,
		schema:      arrow.NewSchema(fields, nil),
		exprs:       exprs,
		capacity:    capacity,
	}, nil
}

func (w *WindowExec) GetLocalSinkState() *LocalSinkState {
	return &LocalSinkState{
		data: operators.NewBatchCollection(w.inputSchema, w.capacity),
	}
}

func (w *WindowExec) GetGlobalSinkState() *GlobalSinkState {
	if w.global == nil {
		w.global = &GlobalSinkState{
			data: operators.NewBatchCollection(w.inputSchema, w.capacity),
		}
	}
	return w.global
}

// Sink appends a batch to a worker local buffer.
func (w *WindowExec) Sink(local *LocalSinkState, batch *operators.RecordBatch) error {
	return local.data.Append(batch)
}

// Combine merges one worker's local buffer into the global collection.
func (w *WindowExec) Combine(local *LocalSinkState) error {
	g := w.GetGlobalSinkState()
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.data.Merge(local.data)
}

// Finalize prefills one NULL result column per window expression, chunked the
// same way as the input, then evaluates every expression in declaration
// order. Runs on exactly one worker.
func (w *WindowExec) Finalize() error {
	g := w.GetGlobalSinkState()
	if g.data.Count() == 0 {
		return nil
	}

	resultFields := make([]arrow.Field, len(w.exprs))
	off := w.inputSchema.NumFields()
	for i := range w.exprs {
		resultFields[i] = w.schema.Field(off + i)
	}
	resultSchema := arrow.NewSchema(resultFields, nil)

	results := operators.NewBatchCollection(resultSchema, w.capacity)
	for c := 0; c < g.data.ChunkCount(); c++ {
		rows := int(g.data.Chunk(c).RowCount)
		cols := make([]arrow.Array, len(w.exprs))
		for i, ex := range w.exprs {
			arr, err := operators.NullArray(ex.ReturnType, rows)
			if err != nil {
				return err
			}
			cols[i] = arr
		}
		if err := results.Append(&operators.RecordBatch{
			Schema:   resultSchema,
			Columns:  cols,
			RowCount: uint64(rows),
		}); err != nil {
			return err
		}
	}
	g.results = results

	for i, ex := range w.exprs {
		if err := computeWindowExpression(ex, g.data, g.results, i); err != nil {
			return err
		}
	}
	return nil
}

// GetChunk serves the next output batch: the positional concatenation of the
// input chunk and the result chunk at the cursor.
func (w *WindowExec) GetChunk() (*operators.RecordBatch, error) {
	g := w.global
	if g == nil || g.results == nil || g.data.Count() == 0 || w.cursor >= g.data.ChunkCount() {
		return nil, io.EOF
	}
	in := g.data.Chunk(w.cursor)
	res := g.results.Chunk(w.cursor)

	cols := make([]arrow.Array, 0, len(in.Columns)+len(res.Columns))
	cols = append(cols, in.Columns...)
	cols = append(cols, res.Columns...)
	w.cursor++
	return &operators.RecordBatch{
		Schema:   w.schema,
		Columns:  cols,
		RowCount: in.RowCount,
	}, nil
}

// Next drives the sink/combine/finalize cycle against the child on first use,
// then serves output chunks. This is how the pull based engine runs the
// operator when there is only one producer.
func (w *WindowExec) Next(_ uint16) (*operators.RecordBatch, error) {
	if !w.sunk {
		local := w.GetLocalSinkState()
		for {
			batch, err := w.child.Next(math.MaxUint16)
			if err != nil {
				if errors.Is(err, io.EOF) {
					break
				}
				return nil, err
			}
			if err := w.Sink(local, batch); err != nil {
				return nil, err
			}
		}
		if err := w.Combine(local); err != nil {
			return nil, err
		}
		if err := w.Finalize(); err != nil {
			return nil, err
		}
		w.sunk = true
	}
	return w.GetChunk()
}

func (w *WindowExec) Schema() *arrow.Schema {
	return w.schema
}

func (w *WindowExec) Close() error {
	return w.child.Close()
}

// exprEval is the transient state of one computeWindowExpression call: the
// materialized collections and the optional segment tree. Owned exclusively
// by the evaluation of a single expression.
type exprEval struct {
	wexpr *BoundWindowExpr
	count int

	sortKeys *operators.BatchCollection
	payload  *operators.BatchCollection

	offsets       *operators.BatchCollection
	defaults      *operators.BatchCollection
	offsetScalar  bool
	defaultScalar bool

	startBound  *operators.BatchCollection
	endBound    *operators.BatchCollection
	startScalar bool
	endScalar   bool

	tree *segmentTree
}

// computeWindowExpression evaluates one window expression over the shared
// input collection and writes the result column into output at outputIdx.
func computeWindowExpression(wexpr *BoundWindowExpr, input, output *operators.BatchCollection, outputIdx int) error {
	e := &exprEval{wexpr: wexpr, count: input.Count()}

	// sort by (partition keys, order keys) so partitions and peer groups are
	// contiguous and reachable by binary search
	if wexpr.needsSorting() {
		keys, err := sortForWindow(wexpr, input, output)
		if err != nil {
			return err
		}
		e.sortKeys = keys
	}

	// materialize the function arguments against the (now sorted) input
	payload, err := materializeExpressions(wexpr.Children, input, false)
	if err != nil {
		return err
	}
	e.payload = payload

	if wexpr.Kind == Lead || wexpr.Kind == Lag {
		if wexpr.OffsetExpr != nil {
			e.offsetScalar = Expr.IsScalar(wexpr.OffsetExpr)
			if e.offsets, err = materializeExpression(wexpr.OffsetExpr, input, e.offsetScalar); err != nil {
				return err
			}
		}
		if wexpr.DefaultExpr != nil {
			e.defaultScalar = Expr.IsScalar(wexpr.DefaultExpr)
			if e.defaults, err = materializeExpression(wexpr.DefaultExpr, input, e.defaultScalar); err != nil {
				return err
			}
		}
	}

	if wexpr.StartExpr != nil && (wexpr.Start == ExprPreceding || wexpr.Start == ExprFollowing) {
		e.startScalar = Expr.IsScalar(wexpr.StartExpr)
		if e.startBound, err = materializeExpression(wexpr.StartExpr, input, e.startScalar); err != nil {
			return err
		}
	}
	if wexpr.EndExpr != nil && (wexpr.End == ExprPreceding || wexpr.End == ExprFollowing) {
		e.endScalar = Expr.IsScalar(wexpr.EndExpr)
		if e.endBound, err = materializeExpression(wexpr.EndExpr, input, e.endScalar); err != nil {
			return err
		}
	}

	// frame adhering aggregates answer range queries off a segment tree,
	// see http://www.vldb.org/pvldb/vol8/p1058-leis.pdf
	if wexpr.Kind == Aggregate {
		flat, err := e.payload.FlattenColumn(0)
		if err != nil {
			return err
		}
		tree, err := newSegmentTree(wexpr.Aggregate, flat)
		flat.Release()
		if err != nil {
			return err
		}
		e.tree = tree
	}

	builder, err := operators.NewBuilderFor(wexpr.ReturnType)
	if err != nil {
		return err
	}
	defer builder.Release()

	var bounds frameBounds
	var denseRank, rank, rankEqual int64 = 1, 1, 0

	// the main loop: walk all sorted rows and compute the function result
	for r := 0; r < e.count; r++ {
		if err := e.updateBounds(&bounds, r); err != nil {
			return err
		}

		if wexpr.needsRank() {
			if !bounds.samePartition || r == 0 {
				denseRank, rank, rankEqual = 1, 1, 0
			} else if !bounds.isPeer {
				denseRank++
				rank += rankEqual
				rankEqual = 0
			}
			rankEqual++
		}

		// a frame that covers no rows yields SQL NULL
		if bounds.empty() {
			builder.AppendNull()
			continue
		}

		v, err := e.rowValue(&bounds, r, rank, denseRank)
		if err != nil {
			return err
		}
		if err := operators.AppendAny(builder, v); err != nil {
			return err
		}
	}

	full := builder.NewArray()
	defer full.Release()
	return output.ReplaceColumn(outputIdx, full)
}

// rowValue dispatches on the window function family for a single row. The
// returned value is boxed; nil means SQL NULL.
func (e *exprEval) rowValue(b *frameBounds, r int, rank, denseRank int64) (any, error) {
	switch e.wexpr.Kind {
	case Aggregate:
		v, valid := e.tree.Compute(int(b.windowStart), int(b.windowEnd))
		if !valid {
			return nil, nil
		}
		return v, nil

	case RowNumber:
		return int64(r - b.partitionStart + 1), nil

	case Rank:
		return rank, nil

	case DenseRank:
		return denseRank, nil

	case PercentRank:
		denom := int64(b.partitionEnd - b.partitionStart - 1)
		if denom > 0 {
			return float64(rank-1) / float64(denom), nil
		}
		return float64(0), nil

	case CumeDist:
		denom := int64(b.partitionEnd - b.partitionStart)
		if denom > 0 {
			return float64(b.peerEnd-b.partitionStart) / float64(denom), nil
		}
		return float64(0), nil

	case Ntile:
		param, ok := operators.AsInt64(e.payload.GetValue(0, r))
		if !ok || param < 1 {
			return nil, ErrInvalidNtile("parameter must be a non null positive integer")
		}
		nTotal := int64(b.partitionEnd - b.partitionStart)
		if param > nTotal {
			// more groups than rows: every row gets its own group
			param = nTotal
		}
		size := nTotal / param
		large := nTotal - param*size
		iSmall := large * (size + 1)
		adjusted := int64(r - b.partitionStart)
		if adjusted < iSmall {
			return 1 + adjusted/(size+1), nil
		}
		return 1 + large + (adjusted-iSmall)/size, nil

	case Lead, Lag:
		offset := int64(1)
		if e.offsets != nil && e.offsets.ColumnCount() > 0 {
			idx := r
			if e.offsetScalar {
				idx = 0
			}
			v, ok := operators.AsInt64(e.offsets.GetValue(0, idx))
			if !ok {
				return nil, ErrInvalidOffset(e.wexpr.Kind)
			}
			offset = v
		}
		var def any
		if e.defaults != nil && e.defaults.ColumnCount() > 0 {
			idx := r
			if e.defaultScalar {
				idx = 0
			}
			def = e.defaults.GetValue(0, idx)
		}

		target := int64(r) + offset
		if e.wexpr.Kind == Lag {
			target = int64(r) - offset
		}
		if target >= int64(b.partitionStart) && target < int64(b.partitionEnd) {
			return e.payload.GetValue(0, int(target)), nil
		}
		return def, nil

	case FirstValue:
		return e.payload.GetValue(0, int(b.windowStart)), nil

	case LastValue:
		return e.payload.GetValue(0, int(b.windowEnd-1)), nil

	default:
		return nil, fmt.Errorf("window function %s is not implemented", e.wexpr.Kind)
	}
}
