package operators

import (
	"context"
	"fmt"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/compute"
	"github.com/apache/arrow/go/v17/arrow/memory"
)

// DefaultChunkCapacity is the number of rows held per chunk of a
// BatchCollection. Matches the engine wide vector size.
const DefaultChunkCapacity = 1024

var (
	ErrRowOutOfRange = func(row, count int) error {
		return fmt.Errorf("row %d out of range for collection of %d rows", row, count)
	}
)

// BatchCollection is a materialized, chunked columnar store: an ordered run of
// record batches sharing one schema, re-chunked on append so that every chunk
// except the last holds exactly `capacity` rows. Row index i lives in chunk
// i/capacity at offset i%capacity.
//
// Pipeline breakers (sort, window, aggregation) accumulate their input here
// and address it by global row index afterwards.
type BatchCollection struct {
	schema   *arrow.Schema
	capacity int
	chunks   [][]arrow.Array
	lens     []int
	count    int
}

func NewBatchCollection(schema *arrow.Schema, capacity int) *BatchCollection {
	if capacity <= 0 {
		capacity = DefaultChunkCapacity
	}
	return &BatchCollection{
		schema:   schema,
		capacity: capacity,
	}
}

func (bc *BatchCollection) Schema() *arrow.Schema { return bc.schema }
func (bc *BatchCollection) Count() int            { return bc.count }
func (bc *BatchCollection) ChunkCount() int       { return len(bc.chunks) }
func (bc *BatchCollection) Capacity() int         { return bc.capacity }

func (bc *BatchCollection) ColumnCount() int {
	if bc.schema == nil {
		return 0
	}
	return bc.schema.NumFields()
}

// Append copies the rows of a batch into the collection, re-chunking so the
// fixed chunk capacity invariant holds. Fails on column type mismatch.
func (bc *BatchCollection) Append(batch *RecordBatch) error {
	if bc.schema == nil {
		bc.schema = batch.Schema
	}
	if len(batch.Columns) != bc.schema.NumFields() {
		return ErrInvalidSchema("appended batch column count does not match collection")
	}
	for i, col := range batch.Columns {
		if !arrow.TypeEqual(col.DataType(), bc.schema.Field(i).Type) {
			return ErrInvalidSchema(fmt.Sprintf("appended batch column %d has type %s, collection expects %s",
				i, col.DataType(), bc.schema.Field(i).Type))
		}
	}

	rows := int(batch.RowCount)
	if len(batch.Columns) > 0 {
		rows = batch.Columns[0].Len()
	}
	mem := memory.DefaultAllocator

	pos := 0
	for pos < rows {
		last := len(bc.chunks) - 1
		if last >= 0 && bc.lens[last] < bc.capacity {
			// top up the trailing partial chunk
			take := bc.capacity - bc.lens[last]
			if rows-pos < take {
				take = rows - pos
			}
			for c := range bc.chunks[last] {
				slice := array.NewSlice(batch.Columns[c], int64(pos), int64(pos+take))
				merged, err := array.Concatenate([]arrow.Array{bc.chunks[last][c], slice}, mem)
				slice.Release()
				if err != nil {
					return err
				}
				bc.chunks[last][c] = merged
			}
			bc.lens[last] += take
			pos += take
			continue
		}
		take := bc.capacity
		if rows-pos < take {
			take = rows - pos
		}
		chunk := make([]arrow.Array, len(batch.Columns))
		for c := range batch.Columns {
			chunk[c] = array.NewSlice(batch.Columns[c], int64(pos), int64(pos+take))
		}
		bc.chunks = append(bc.chunks, chunk)
		bc.lens = append(bc.lens, take)
		pos += take
	}
	bc.count += rows
	return nil
}

// Merge appends all chunks of other into bc, consuming other.
func (bc *BatchCollection) Merge(other *BatchCollection) error {
	for i := range other.chunks {
		batch := &RecordBatch{
			Schema:   other.schema,
			Columns:  other.chunks[i],
			RowCount: uint64(other.lens[i]),
		}
		if err := bc.Append(batch); err != nil {
			return err
		}
	}
	other.chunks = nil
	other.lens = nil
	other.count = 0
	return nil
}

// Chunk returns chunk i as a record batch. The arrays are shared, not copied.
func (bc *BatchCollection) Chunk(i int) *RecordBatch {
	return &RecordBatch{
		Schema:   bc.schema,
		Columns:  bc.chunks[i],
		RowCount: uint64(bc.lens[i]),
	}
}

// ChunkForRow returns the chunk index holding global row i.
func (bc *BatchCollection) ChunkForRow(i int) int {
	return i / bc.capacity
}

func (bc *BatchCollection) locate(row int) (int, int) {
	return row / bc.capacity, row % bc.capacity
}

// GetValue reads a single value at (column, global row). Nil means SQL NULL.
func (bc *BatchCollection) GetValue(col, row int) any {
	chunk, off := bc.locate(row)
	return ValueAt(bc.chunks[chunk][col], off)
}

// ColumnAt resolves (column, global row) to the backing array and local offset,
// for callers that need typed access without boxing.
func (bc *BatchCollection) ColumnAt(col, row int) (arrow.Array, int) {
	chunk, off := bc.locate(row)
	return bc.chunks[chunk][col], off
}

// GetRow reads the full row at global index i.
func (bc *BatchCollection) GetRow(i int) []any {
	if i < 0 || i >= bc.count {
		panic(ErrRowOutOfRange(i, bc.count))
	}
	row := make([]any, bc.ColumnCount())
	for c := range row {
		row[c] = bc.GetValue(c, i)
	}
	return row
}

// FlattenColumn concatenates every chunk of column i into one array.
func (bc *BatchCollection) FlattenColumn(i int) (arrow.Array, error) {
	if len(bc.chunks) == 1 {
		bc.chunks[0][i].Retain()
		return bc.chunks[0][i], nil
	}
	parts := make([]arrow.Array, len(bc.chunks))
	for c := range bc.chunks {
		parts[c] = bc.chunks[c][i]
	}
	return array.Concatenate(parts, memory.DefaultAllocator)
}

// Reorder rebuilds the collection so that new row i holds old row perm[i].
// perm must be a permutation of [0, Count).
func (bc *BatchCollection) Reorder(perm []int64) error {
	if len(perm) != bc.count {
		return fmt.Errorf("permutation length %d does not match row count %d", len(perm), bc.count)
	}
	if bc.ColumnCount() == 0 || bc.count == 0 {
		return nil
	}
	mem := memory.DefaultAllocator
	idxB := array.NewInt64Builder(mem)
	idxB.AppendValues(perm, nil)
	idx := idxB.NewArray()
	idxB.Release()
	defer idx.Release()

	ctx := context.TODO()
	reordered := make([]arrow.Array, bc.ColumnCount())
	for c := 0; c < bc.ColumnCount(); c++ {
		flat, err := bc.FlattenColumn(c)
		if err != nil {
			return err
		}
		taken, err := compute.TakeArray(ctx, flat, idx)
		flat.Release()
		if err != nil {
			return err
		}
		reordered[c] = taken
	}
	bc.rebuildFrom(reordered)
	return nil
}

// ReplaceColumn swaps column col for a freshly computed full length array,
// re-sliced to the existing chunking. Used for batched result writes.
func (bc *BatchCollection) ReplaceColumn(col int, full arrow.Array) error {
	if full.Len() != bc.count {
		return fmt.Errorf("replacement column has %d rows, collection has %d", full.Len(), bc.count)
	}
	pos := 0
	for i := range bc.chunks {
		bc.chunks[i][col] = array.NewSlice(full, int64(pos), int64(pos+bc.lens[i]))
		pos += bc.lens[i]
	}
	return nil
}

func (bc *BatchCollection) rebuildFrom(fullColumns []arrow.Array) {
	chunkCount := len(bc.chunks)
	lens := bc.lens
	bc.chunks = make([][]arrow.Array, chunkCount)
	bc.lens = lens
	pos := 0
	for i := 0; i < chunkCount; i++ {
		chunk := make([]arrow.Array, len(fullColumns))
		for c, fc := range fullColumns {
			chunk[c] = array.NewSlice(fc, int64(pos), int64(pos+lens[i]))
		}
		bc.chunks[i] = chunk
		pos += lens[i]
	}
	ReleaseArrays(fullColumns)
}
