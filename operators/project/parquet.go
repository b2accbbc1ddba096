package project

import (
	"context"
	"errors"
	"io"
	"quiver-sql-go/operators"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/apache/arrow/go/v17/parquet"
	"github.com/apache/arrow/go/v17/parquet/file"
	"github.com/apache/arrow/go/v17/parquet/pqarrow"
)

var (
	_ = (operators.Operator)(&ParquetSource{})
)

type ParquetSource struct {
	schema             *arrow.Schema
	projectionPushDown []string // columns to project up
	reader             pqarrow.RecordReader
	done               bool // if set to true always return io.EOF
}

func NewParquetSource(r parquet.ReaderAtSeeker) (*ParquetSource, error) {
	return newParquetSource(r, nil)
}

// source plus the columns you want pushed up the tree
func NewParquetSourcePushDown(r parquet.ReaderAtSeeker, columns []string) (*ParquetSource, error) {
	if len(columns) == 0 {
		return nil, errors.New("no columns were provided for projection push down")
	}
	return newParquetSource(r, columns)
}

func newParquetSource(r parquet.ReaderAtSeeker, columns []string) (*ParquetSource, error) {
	allocator := memory.NewGoAllocator()
	fileReader, err := file.NewParquetReader(r)
	if err != nil {
		return nil, err
	}

	arrowReader, err := pqarrow.NewFileReader(
		fileReader,
		pqarrow.ArrowReadProperties{Parallel: true, BatchSize: int64(operators.DefaultChunkCapacity)},
		allocator,
	)
	if err != nil {
		return nil, err
	}

	var wantedColumnsIDX []int
	if len(columns) > 0 {
		s, err := arrowReader.Schema()
		if err != nil {
			return nil, err
		}
		for _, col := range columns {
			idxArray := s.FieldIndices(col)
			if len(idxArray) == 0 {
				return nil, errors.New("unknown column passed in to be project push down")
			}
			wantedColumnsIDX = append(wantedColumnsIDX, idxArray...)
		}
	}

	rdr, err := arrowReader.GetRecordReader(context.TODO(), wantedColumnsIDX, nil)
	if err != nil {
		return nil, err
	}

	return &ParquetSource{
		schema:             rdr.Schema(),
		projectionPushDown: columns,
		reader:             rdr,
	}, nil
}

func (ps *ParquetSource) Next(n uint16) (*operators.RecordBatch, error) {
	if ps.reader == nil || ps.done {
		return nil, io.EOF
	}
	mem := memory.NewGoAllocator()
	columns := make([]arrow.Array, len(ps.schema.Fields()))
	curRow := 0
	for curRow < int(n) && ps.reader.Next() {
		if err := ps.reader.Err(); err != nil {
			return nil, err
		}
		record := ps.reader.Record()
		numRows := int(record.NumRows())

		for colIdx := 0; colIdx < int(record.NumCols()); colIdx++ {
			batchCol := record.Column(colIdx)
			if columns[colIdx] == nil {
				batchCol.Retain()
				columns[colIdx] = batchCol
				continue
			}
			combined, err := array.Concatenate([]arrow.Array{columns[colIdx], batchCol}, mem)
			if err != nil {
				return nil, err
			}
			columns[colIdx].Release()
			columns[colIdx] = combined
		}
		record.Release()
		curRow += numRows
	}
	if curRow == 0 {
		ps.done = true
		return nil, io.EOF
	}
	return &operators.RecordBatch{
		Schema:   ps.schema,
		Columns:  columns,
		RowCount: uint64(curRow),
	}, nil
}

func (ps *ParquetSource) Close() error {
	if ps.reader != nil {
		ps.reader.Release()
		ps.reader = nil
	}
	return nil
}

func (ps *ParquetSource) Schema() *arrow.Schema {
	return ps.schema
}
