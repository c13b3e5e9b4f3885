package tableformat

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kube-reporting/theft-lakehouse/pkg/schema"
)

func testTable() schema.Table {
	return schema.Table{
		Name: "stolen_vehicles",
		Fields: []schema.Field{
			{Name: "vehicle_id", Type: schema.Numeric},
			{Name: "vehicle_type", Type: schema.String},
			{Name: "date_stolen", Type: schema.Date},
		},
		Rows: []schema.Row{
			{"vehicle_id": int64(1), "vehicle_type": "Trailer", "date_stolen": time.Date(2021, 11, 5, 0, 0, 0, 0, time.UTC)},
			{"vehicle_id": int64(2), "vehicle_type": "Unknown", "date_stolen": schema.MissingDate},
			{"vehicle_id": int64(3), "vehicle_type": "Roadbike", "date_stolen": time.Date(2022, 1, 14, 0, 0, 0, 0, time.UTC)},
		},
	}
}

func TestEncodeDecode(t *testing.T) {
	in := testTable()
	data, err := Encode(in)
	require.NoError(t, err)

	out, err := Decode(context.Background(), in.Name, data)
	require.NoError(t, err)

	assert.Equal(t, in.Name, out.Name)
	assert.Equal(t, in.Fields, out.Fields)
	if diff := cmp.Diff(in.Rows, out.Rows); diff != "" {
		t.Errorf("decoded rows differ (-want +got):\n%s", diff)
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	first, err := Encode(testTable())
	require.NoError(t, err)
	second, err := Encode(testTable())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestEncodeEmptyTable(t *testing.T) {
	in := testTable()
	in.Rows = nil
	data, err := Encode(in)
	require.NoError(t, err)

	out, err := Decode(context.Background(), in.Name, data)
	require.NoError(t, err)
	assert.Equal(t, in.Fields, out.Fields)
	assert.Len(t, out.Rows, 0)
}

func TestEncodeErrors(t *testing.T) {
	tests := map[string]struct {
		table schema.Table
	}{
		"wrong numeric type": {
			table: schema.Table{
				Fields: []schema.Field{{Name: "n", Type: schema.Numeric}},
				Rows:   []schema.Row{{"n": "one"}},
			},
		},
		"wrong date type": {
			table: schema.Table{
				Fields: []schema.Field{{Name: "d", Type: schema.Date}},
				Rows:   []schema.Row{{"d": "2021-01-01"}},
			},
		},
		"unsupported field type": {
			table: schema.Table{
				Fields: []schema.Field{{Name: "f", Type: "float"}},
			},
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Encode(tt.table)
			assert.Error(t, err)
		})
	}
}

func TestEncodeFillsNil(t *testing.T) {
	in := schema.Table{
		Name:   "t",
		Fields: []schema.Field{{Name: "n", Type: schema.Numeric}, {Name: "s", Type: schema.String}},
		Rows:   []schema.Row{{}},
	}
	data, err := Encode(in)
	require.NoError(t, err)
	out, err := Decode(context.Background(), "t", data)
	require.NoError(t, err)
	assert.Equal(t, []schema.Row{{"n": int64(-1), "s": "Unknown"}}, out.Rows)
}

func TestRowCount(t *testing.T) {
	tests := map[string]struct {
		rows     []schema.Row
		expected int64
	}{
		"rows":  {rows: testTable().Rows, expected: 3},
		"empty": {rows: nil, expected: 0},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			in := testTable()
			in.Rows = tt.rows
			data, err := Encode(in)
			require.NoError(t, err)

			n, err := RowCount(data)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, n)
		})
	}

	_, err := RowCount([]byte("not parquet"))
	assert.Error(t, err)
}

func TestDecodeInvalid(t *testing.T) {
	_, err := Decode(context.Background(), "bad", []byte("not parquet"))
	assert.Error(t, err)
}

func TestDate32(t *testing.T) {
	for _, d := range []time.Time{
		schema.MissingDate,
		time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2022, 4, 6, 0, 0, 0, 0, time.UTC),
	} {
		assert.True(t, d.Equal(fromDate32(toDate32(d))), "round trip of %s", d)
	}
}
