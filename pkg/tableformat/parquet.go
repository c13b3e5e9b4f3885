// Package tableformat encodes conformed and aggregated tables as parquet.
package tableformat

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/array"
	"github.com/apache/arrow/go/v10/arrow/memory"
	"github.com/apache/arrow/go/v10/parquet"
	"github.com/apache/arrow/go/v10/parquet/compress"
	"github.com/apache/arrow/go/v10/parquet/file"
	"github.com/apache/arrow/go/v10/parquet/pqarrow"
	"github.com/pkg/errors"

	"github.com/kube-reporting/theft-lakehouse/pkg/schema"
)

const (
	rowGroupSize  = 64 * 1024
	secondsPerDay = 24 * 60 * 60
)

// ArrowSchema maps table fields to non-nullable arrow fields. Numeric fields
// are int64, string fields utf8 and date fields date32.
func ArrowSchema(fields []schema.Field) (*arrow.Schema, error) {
	arrowFields := make([]arrow.Field, len(fields))
	for i, f := range fields {
		var typ arrow.DataType
		switch f.Type {
		case schema.Numeric:
			typ = arrow.PrimitiveTypes.Int64
		case schema.String:
			typ = arrow.BinaryTypes.String
		case schema.Date:
			typ = arrow.FixedWidthTypes.Date32
		default:
			return nil, fmt.Errorf("field %s has unsupported type %q", f.Name, f.Type)
		}
		arrowFields[i] = arrow.Field{Name: f.Name, Type: typ, Nullable: false}
	}
	return arrow.NewSchema(arrowFields, nil), nil
}

// Encode writes the table as a single parquet file. The output only depends on
// the table contents, so encoding the same table twice is byte-identical.
func Encode(t schema.Table) ([]byte, error) {
	sc, err := ArrowSchema(t.Fields)
	if err != nil {
		return nil, err
	}
	mem := memory.NewGoAllocator()
	builder := array.NewRecordBuilder(mem, sc)
	defer builder.Release()

	for rowIdx, row := range t.Rows {
		for i, f := range t.Fields {
			if err := appendValue(builder.Field(i), f, row[f.Name]); err != nil {
				return nil, errors.Wrapf(err, "table %s row %d", t.Name, rowIdx)
			}
		}
	}

	rec := builder.NewRecord()
	defer rec.Release()
	table := array.NewTableFromRecords(sc, []arrow.Record{rec})
	defer table.Release()

	props := parquet.NewWriterProperties(
		parquet.WithDictionaryDefault(false),
		parquet.WithCompression(compress.Codecs.Snappy),
	)
	var buf bytes.Buffer
	if err := pqarrow.WriteTable(table, &buf, rowGroupSize, props, pqarrow.DefaultWriterProps()); err != nil {
		return nil, errors.Wrapf(err, "writing parquet for table %s", t.Name)
	}
	return buf.Bytes(), nil
}

func appendValue(b array.Builder, f schema.Field, v interface{}) error {
	if v == nil {
		v = f.Missing()
	}
	switch f.Type {
	case schema.Numeric:
		n, ok := v.(int64)
		if !ok {
			return fmt.Errorf("field %s: expected int64, got %T", f.Name, v)
		}
		b.(*array.Int64Builder).Append(n)
	case schema.String:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("field %s: expected string, got %T", f.Name, v)
		}
		b.(*array.StringBuilder).Append(s)
	case schema.Date:
		d, ok := v.(time.Time)
		if !ok {
			return fmt.Errorf("field %s: expected time.Time, got %T", f.Name, v)
		}
		b.(*array.Date32Builder).Append(toDate32(d))
	}
	return nil
}

func toDate32(t time.Time) arrow.Date32 {
	t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return arrow.Date32(t.Unix() / secondsPerDay)
}

func fromDate32(d arrow.Date32) time.Time {
	return time.Unix(int64(d)*secondsPerDay, 0).UTC()
}

// RowCount returns the number of rows recorded in a parquet file's footer
// without decoding its columns.
func RowCount(data []byte) (int64, error) {
	pf, err := file.NewParquetReader(bytes.NewReader(data))
	if err != nil {
		return 0, errors.Wrap(err, "opening parquet")
	}
	defer pf.Close()
	return pf.NumRows(), nil
}

// Decode reads a parquet file written by Encode. Field types are recovered
// from the arrow column types; aliases and identifier flags are not stored.
func Decode(ctx context.Context, name string, data []byte) (schema.Table, error) {
	pf, err := file.NewParquetReader(bytes.NewReader(data))
	if err != nil {
		return schema.Table{}, errors.Wrapf(err, "opening parquet for table %s", name)
	}
	defer pf.Close()

	mem := memory.NewGoAllocator()
	reader, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{}, mem)
	if err != nil {
		return schema.Table{}, errors.Wrapf(err, "reading parquet for table %s", name)
	}
	table, err := reader.ReadTable(ctx)
	if err != nil {
		return schema.Table{}, errors.Wrapf(err, "reading parquet for table %s", name)
	}
	defer table.Release()

	sc := table.Schema()
	out := schema.Table{
		Name:   name,
		Fields: make([]schema.Field, len(sc.Fields())),
		Rows:   make([]schema.Row, table.NumRows()),
	}
	for i := range out.Rows {
		out.Rows[i] = make(schema.Row, len(sc.Fields()))
	}

	for col, af := range sc.Fields() {
		f := schema.Field{Name: af.Name}
		switch af.Type.ID() {
		case arrow.INT64:
			f.Type = schema.Numeric
		case arrow.STRING:
			f.Type = schema.String
		case arrow.DATE32:
			f.Type = schema.Date
		default:
			return schema.Table{}, fmt.Errorf("table %s: column %s has unsupported type %s", name, af.Name, af.Type)
		}
		out.Fields[col] = f

		row := 0
		for _, chunk := range table.Column(col).Data().Chunks() {
			for j := 0; j < chunk.Len(); j++ {
				var v interface{}
				if chunk.IsNull(j) {
					v = f.Missing()
				} else {
					switch c := chunk.(type) {
					case *array.Int64:
						v = c.Value(j)
					case *array.String:
						v = c.Value(j)
					case *array.Date32:
						v = fromDate32(c.Value(j))
					}
				}
				out.Rows[row][f.Name] = v
				row++
			}
		}
	}
	return out, nil
}
