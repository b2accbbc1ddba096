package operators

import (
	"fmt"
	"strings"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
)

var (
	ErrInvalidSchema = func(info string) error {
		return fmt.Errorf("invalid schema was provided. context: %s", info)
	}
)

type Operator interface {
	Next(uint16) (*RecordBatch, error)
	Schema() *arrow.Schema
	// Call Operator.Close() after Next returns an io.EOF to clean up resources
	Close() error
}

type RecordBatch struct {
	Schema   *arrow.Schema
	Columns  []arrow.Array
	RowCount uint64
}

type SchemaBuilder struct {
	fields []arrow.Field
}

type RecordBatchBuilder struct {
	SchemaBuilder *SchemaBuilder
}

func NewRecordBatchBuilder() *RecordBatchBuilder {
	return &RecordBatchBuilder{
		SchemaBuilder: &SchemaBuilder{
			fields: make([]arrow.Field, 0, 10),
		},
	}
}

func (sb *SchemaBuilder) WithField(name string, dtype arrow.DataType, nullable bool) *SchemaBuilder {
	sb.fields = append(sb.fields, arrow.Field{
		Name:     name,
		Type:     dtype,
		Nullable: nullable,
	})
	return sb
}

func (sb *SchemaBuilder) WithoutField(names ...string) *SchemaBuilder {
	nameSet := make(map[string]struct{}, len(names))
	for _, n := range names {
		nameSet[n] = struct{}{}
	}

	newFields := make([]arrow.Field, 0, len(sb.fields))
	for _, field := range sb.fields {
		_, found := nameSet[field.Name]
		if !found {
			newFields = append(newFields, field)
		}
	}
	sb.fields = newFields
	return sb
}

func (sb *SchemaBuilder) Build() *arrow.Schema {
	return arrow.NewSchema(sb.fields, nil)
}

func (rbb *RecordBatchBuilder) Schema() *arrow.Schema {
	return arrow.NewSchema(rbb.SchemaBuilder.fields, nil)
}

// schema is always right in case of type mismatches
func (rbb *RecordBatchBuilder) validate(schema *arrow.Schema, columns []arrow.Array) error {
	if len(schema.Fields()) != len(columns) {
		return ErrInvalidSchema("schema fields and column count do not match")
	}
	// Ensure array data types align with schema expectations.
	var errors []string
	for i := 0; i < len(columns); i++ {
		field := schema.Field(i)
		colType := columns[i].DataType()

		if !arrow.TypeEqual(colType, field.Type) {
			errors = append(errors,
				fmt.Sprintf("Type mismatch at position %d: column '%s' has type '%s', but schema expects '%s'.",
					i, field.Name, colType, field.Type))
		}
	}
	if len(errors) > 0 {
		return ErrInvalidSchema(strings.Join(errors, " "))
	}
	return nil
}

func (rbb *RecordBatchBuilder) NewRecordBatch(schema *arrow.Schema, columns []arrow.Array) (*RecordBatch, error) {
	if err := rbb.validate(schema, columns); err != nil {
		return nil, err
	}
	var rows uint64
	if len(columns) > 0 {
		rows = uint64(columns[0].Len())
	}
	return &RecordBatch{
		Schema:   schema,
		Columns:  columns,
		RowCount: rows,
	}, nil
}

func (rb *RecordBatch) DeepEqual(other *RecordBatch) bool {
	if !rb.Schema.Equal(other.Schema) {
		return false
	}
	if len(rb.Columns) != len(other.Columns) {
		return false
	}
	for i := 0; i < len(rb.Columns); i++ {
		if !array.Equal(rb.Columns[i], other.Columns[i]) {
			return false
		}
	}
	return true
}

// one row per line, columns tab separated. debugging/tests only
func (rb *RecordBatch) PrettyPrint() string {
	var b strings.Builder
	for _, f := range rb.Schema.Fields() {
		b.WriteString(f.Name)
		b.WriteByte('\t')
	}
	b.WriteByte('\n')
	for r := 0; r < int(rb.RowCount); r++ {
		for _, col := range rb.Columns {
			if col.IsNull(r) {
				b.WriteString("NULL")
			} else {
				b.WriteString(col.ValueStr(r))
			}
			b.WriteByte('\t')
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func ReleaseArrays(arrs []arrow.Array) {
	for _, a := range arrs {
		if a != nil {
			a.Release()
		}
	}
}

func (rbb *RecordBatchBuilder) GenIntArray(values ...int) arrow.Array {
	mem := memory.NewGoAllocator()
	builder := array.NewInt32Builder(mem)
	defer builder.Release()
	for _, v := range values {
		builder.Append(int32(v))
	}
	return builder.NewArray()
}

func (rbb *RecordBatchBuilder) GenFloatArray(values ...float64) arrow.Array {
	mem := memory.NewGoAllocator()
	builder := array.NewFloat64Builder(mem)
	defer builder.Release()
	for _, v := range values {
		builder.Append(v)
	}
	return builder.NewArray()
}

func (rbb *RecordBatchBuilder) GenStringArray(values ...string) arrow.Array {
	mem := memory.NewGoAllocator()
	builder := array.NewStringBuilder(mem)
	defer builder.Release()
	for _, v := range values {
		builder.Append(v)
	}
	return builder.NewArray()
}

func (rbb *RecordBatchBuilder) GenBoolArray(values ...bool) arrow.Array {
	mem := memory.NewGoAllocator()
	builder := array.NewBooleanBuilder(mem)
	defer builder.Release()
	for _, v := range values {
		builder.Append(v)
	}
	return builder.NewArray()
}

// GenInt64Array generates an Int64 array
func (rbb *RecordBatchBuilder) GenInt64Array(values ...int64) arrow.Array {
	mem := memory.NewGoAllocator()
	builder := array.NewInt64Builder(mem)
	defer builder.Release()
	for _, v := range values {
		builder.Append(v)
	}
	return builder.NewArray()
}

// GenInt64ArrayNulls generates an Int64 array with a null wherever valid[i] is false
func (rbb *RecordBatchBuilder) GenInt64ArrayNulls(values []int64, valid []bool) arrow.Array {
	mem := memory.NewGoAllocator()
	builder := array.NewInt64Builder(mem)
	defer builder.Release()
	builder.AppendValues(values, valid)
	return builder.NewArray()
}

// GenFloat64ArrayNulls generates a Float64 array with a null wherever valid[i] is false
func (rbb *RecordBatchBuilder) GenFloat64ArrayNulls(values []float64, valid []bool) arrow.Array {
	mem := memory.NewGoAllocator()
	builder := array.NewFloat64Builder(mem)
	defer builder.Release()
	builder.AppendValues(values, valid)
	return builder.NewArray()
}

// GenUint64Array generates a Uint64 array
func (rbb *RecordBatchBuilder) GenUint64Array(values ...uint64) arrow.Array {
	mem := memory.NewGoAllocator()
	builder := array.NewUint64Builder(mem)
	defer builder.Release()
	for _, v := range values {
		builder.Append(v)
	}
	return builder.NewArray()
}

// GenFloat32Array generates a Float32 array
func (rbb *RecordBatchBuilder) GenFloat32Array(values ...float32) arrow.Array {
	mem := memory.NewGoAllocator()
	builder := array.NewFloat32Builder(mem)
	defer builder.Release()
	for _, v := range values {
		builder.Append(v)
	}
	return builder.NewArray()
}
