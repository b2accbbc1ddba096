package operators

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
)

/*
Wire/spill format for record batches produced by pipeline breaking operators
and for shipping result batches to clients. All batches within one stream
share a schema, which is written once up front purely for validation.

FILE:
┌────────────────────────┐
│ SCHEMA BLOCK           │
│   numberOfFields       │
│   per field:           │
│     nameLength, name   │
│     typeLength, type   │
│     nullable (uint8)   │
├────────────────────────┤
│ RECORD BATCH #1        │
│   per column:          │
│     arrayLength int64  │
│     numBuffers uint32  │
│     per buffer:        │
│       length uint64    │
│       raw bytes        │
├────────────────────────┤
│ RECORD BATCH #2 ...    │
└────────────────────────┘
EOF
*/

type serializer struct {
	schema *arrow.Schema // schema is always attached to the serializer
}

func NewSerializer(schema *arrow.Schema) (*serializer, error) {
	return &serializer{
		schema: schema,
	}, nil
}

func (s *serializer) Schema() *arrow.Schema {
	return s.schema
}

func (ss *serializer) SerializeBatchColumns(r RecordBatch) ([]byte, error) {
	if !ss.schema.Equal(r.Schema) {
		return nil, ErrInvalidSchema("serializer schema and record batch schema are not aligned")
	}
	columnContent, err := ss.columnsTodisk(r.Columns)
	if err != nil {
		return nil, err
	}
	return columnContent, nil
}

func (ss *serializer) SerializeSchema(s *arrow.Schema) ([]byte, error) {
	buf := new(bytes.Buffer)

	// 1. number of fields
	if err := binary.Write(buf, binary.LittleEndian, uint32(len(s.Fields()))); err != nil {
		return nil, err
	}

	for _, f := range s.Fields() {
		// --- Field Name ---
		nameBytes := []byte(f.Name)
		if err := binary.Write(buf, binary.LittleEndian, uint32(len(nameBytes))); err != nil {
			return nil, err
		}
		if _, err := buf.Write(nameBytes); err != nil {
			return nil, err
		}

		// --- Field Type (use Arrow's string representation) ---
		typeBytes := []byte(f.Type.String())
		if err := binary.Write(buf, binary.LittleEndian, uint32(len(typeBytes))); err != nil {
			return nil, err
		}
		if _, err := buf.Write(typeBytes); err != nil {
			return nil, err
		}

		// --- Nullable ---
		var nullable uint8
		if f.Nullable {
			nullable = 1
		}
		if err := binary.Write(buf, binary.LittleEndian, nullable); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

func (ss *serializer) columnsTodisk(columns []arrow.Array) ([]byte, error) {
	buf := new(bytes.Buffer)

	for _, col := range columns {
		data := col.Data()

		// Write array length (number of rows)
		if err := binary.Write(buf, binary.LittleEndian, int64(data.Len())); err != nil {
			return nil, err
		}

		// Number of buffers for this column
		buffers := data.Buffers()
		if err := binary.Write(buf, binary.LittleEndian, uint32(len(buffers))); err != nil {
			return nil, err
		}

		// Write each buffer
		for _, b := range buffers {
			if b == nil || b.Len() == 0 {
				// Write 0 length
				if err := binary.Write(buf, binary.LittleEndian, uint64(0)); err != nil {
					return nil, err
				}
				continue
			}

			// Write length of buffer
			if err := binary.Write(buf, binary.LittleEndian, uint64(b.Len())); err != nil {
				return nil, err
			}

			// Write buffer contents
			if _, err := buf.Write(b.Bytes()); err != nil {
				return nil, err
			}
		}
	}

	return buf.Bytes(), nil
}

func (ss *serializer) DeserializeSchema(data io.Reader) (*arrow.Schema, error) {
	// read in the schema first
	return ss.schemaFromDisk(data)
}

// after reading in the schema we read in one column at a time
func (ss *serializer) DeserializeNextColumn(r io.Reader, dt arrow.DataType) (arrow.Array, error) {
	// 1. Read the number of elements in this column batch
	var length int64
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return nil, err
	}

	// 2. Read number of buffers for this column
	var numBuffers uint32
	if err := binary.Read(r, binary.LittleEndian, &numBuffers); err != nil {
		return nil, err
	}

	buffers := make([]*memory.Buffer, numBuffers)

	// 3. Read each buffer in order
	for i := uint32(0); i < numBuffers; i++ {
		var size uint64
		if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
			return nil, err
		}

		if size == 0 {
			// Null / empty buffer
			buffers[i] = nil
			continue
		}

		raw := make([]byte, size)
		if _, err := io.ReadFull(r, raw); err != nil {
			return nil, err
		}

		buffers[i] = memory.NewBufferBytes(raw)
	}

	// 4. Construct Arrow ArrayData
	arrData := array.NewData(
		dt,
		int(length),
		buffers, // buffers
		nil,     // children (none for primitive)
		-1,      // null count (setting it to -1 lets Arrow compute it lazily)
		0,       // offset
	)

	// 5. Wrap into Array type
	return array.MakeFromData(arrData), nil
}

// must call ss.DeserializeSchema first or else this will not work properly
func (ss *serializer) DecodeRecordBatch(r io.Reader, schema *arrow.Schema) ([]arrow.Array, error) {
	if !ss.schema.Equal(schema) {
		return nil, ErrInvalidSchema("serializer schema and provided schema do not match")
	}
	arrays := make([]arrow.Array, len(schema.Fields()))

	for i, field := range schema.Fields() {
		arr, err := ss.DeserializeNextColumn(r, field.Type)
		if err == io.EOF {
			return nil, io.EOF
		}
		if err != nil {
			return nil, err
		}
		arrays[i] = arr
	}

	return arrays, nil
}

func (ss *serializer) schemaFromDisk(data io.Reader) (*arrow.Schema, error) {
	// number of fields
	var num uint32
	if err := binary.Read(data, binary.LittleEndian, &num); err != nil {
		return nil, err
	}

	fields := make([]arrow.Field, 0, num)

	for i := uint32(0); i < num; i++ {
		// read name
		var nameLen uint32
		err := binary.Read(data, binary.LittleEndian, &nameLen)
		if err != nil {
			return nil, err
		}
		nameBytes := make([]byte, nameLen)
		if _, err = io.ReadFull(data, nameBytes); err != nil {
			return nil, err
		}

		// read type
		var typeLen uint32
		err = binary.Read(data, binary.LittleEndian, &typeLen)
		if err != nil {
			return nil, err
		}
		typeBytes := make([]byte, typeLen)
		if _, err = io.ReadFull(data, typeBytes); err != nil {
			return nil, err
		}
		typ, err := BasicArrowTypeFromString(string(typeBytes))
		if err != nil {
			return nil, err
		}

		// read nullable
		var nullable uint8
		err = binary.Read(data, binary.LittleEndian, &nullable)
		if err != nil {
			return nil, err
		}

		fields = append(fields, arrow.Field{
			Name:     string(nameBytes),
			Type:     typ,
			Nullable: nullable == 1,
		})
	}

	return arrow.NewSchema(fields, nil), nil
}

func BasicArrowTypeFromString(s string) (arrow.DataType, error) {
	switch s {
	case "null":
		return arrow.Null, nil
	case "bool":
		return arrow.FixedWidthTypes.Boolean, nil

	case "int8":
		return arrow.PrimitiveTypes.Int8, nil
	case "int16":
		return arrow.PrimitiveTypes.Int16, nil
	case "int32":
		return arrow.PrimitiveTypes.Int32, nil
	case "int64":
		return arrow.PrimitiveTypes.Int64, nil

	case "uint8":
		return arrow.PrimitiveTypes.Uint8, nil
	case "uint16":
		return arrow.PrimitiveTypes.Uint16, nil
	case "uint32":
		return arrow.PrimitiveTypes.Uint32, nil
	case "uint64":
		return arrow.PrimitiveTypes.Uint64, nil

	case "float32":
		return arrow.PrimitiveTypes.Float32, nil
	case "float64":
		return arrow.PrimitiveTypes.Float64, nil

	case "string", "utf8":
		return arrow.BinaryTypes.String, nil
	case "large_string", "large_utf8":
		return arrow.BinaryTypes.LargeString, nil

	case "binary":
		return arrow.BinaryTypes.Binary, nil
	case "large_binary":
		return arrow.BinaryTypes.LargeBinary, nil
	}

	return nil, fmt.Errorf("unsupported arrow type: %s", s)
}
