package conform

import (
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kube-reporting/theft-lakehouse/pkg/lakehouse"
	"github.com/kube-reporting/theft-lakehouse/pkg/schema"
)

func vehiclesDataset() schema.Dataset {
	return schema.DefaultDatasets("testdata")[0]
}

func locationsDataset() schema.Dataset {
	return schema.DefaultDatasets("testdata")[1]
}

func mustReadCSV(t *testing.T, contents string) Raw {
	t.Helper()
	raw, err := ReadCSV("test.csv", strings.NewReader(contents))
	require.NoError(t, err)
	return raw
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestConformNullFill(t *testing.T) {
	raw := mustReadCSV(t, "vehicle_id,vehicle_type,make_id,model_year,vehicle_desc,color,date_stolen,location_id\n"+
		"1,,623,,BST2021D,Silver,,102\n")

	result, err := Conform(raw, vehiclesDataset())
	require.NoError(t, err)
	require.Len(t, result.Table.Rows, 1)

	row := result.Table.Rows[0]
	assert.Equal(t, int64(-1), row[schema.ModelYearField])
	assert.Equal(t, "Unknown", row[schema.VehicleTypeField])
	assert.Equal(t, schema.MissingDate, row[schema.DateStolenField])
	assert.Equal(t, int64(1), row[schema.VehicleIDField])
	assert.Equal(t, "Silver", row[schema.ColorField])
	assert.Empty(t, result.Dropped)
}

func TestConformNullTokensOnlyBlankTypedFields(t *testing.T) {
	raw := mustReadCSV(t, "vehicle_id,vehicle_type,make_id,model_year,vehicle_desc,color,date_stolen,location_id\n"+
		"1,Trailer,623,null,NONE,nan,NaN,102\n")

	result, err := Conform(raw, vehiclesDataset())
	require.NoError(t, err)
	require.Len(t, result.Table.Rows, 1)

	row := result.Table.Rows[0]
	assert.Equal(t, int64(-1), row[schema.ModelYearField])
	assert.Equal(t, schema.MissingDate, row[schema.DateStolenField])
	assert.Equal(t, "NONE", row[schema.VehicleDescField])
	assert.Equal(t, "nan", row[schema.ColorField])
}

func TestConformValues(t *testing.T) {
	tests := map[string]struct {
		field    schema.Field
		raw      string
		expected interface{}
		reason   DropReason
	}{
		"numeric":                {field: schema.Field{Name: "n", Type: schema.Numeric}, raw: "2005", expected: int64(2005)},
		"numeric padded":         {field: schema.Field{Name: "n", Type: schema.Numeric}, raw: "  2005 ", expected: int64(2005)},
		"numeric integral float": {field: schema.Field{Name: "n", Type: schema.Numeric}, raw: "2005.0", expected: int64(2005)},
		"numeric fractional":     {field: schema.Field{Name: "n", Type: schema.Numeric}, raw: "2005.5", reason: DropUncastable},
		"numeric text":           {field: schema.Field{Name: "n", Type: schema.Numeric}, raw: "abc", reason: DropUncastable},
		"numeric blank":          {field: schema.Field{Name: "n", Type: schema.Numeric}, raw: "   ", expected: int64(-1)},
		"numeric null token":     {field: schema.Field{Name: "n", Type: schema.Numeric}, raw: "NULL", expected: int64(-1)},
		"numeric NaN":            {field: schema.Field{Name: "n", Type: schema.Numeric}, raw: "NaN", expected: int64(-1)},
		"negative numeric":       {field: schema.Field{Name: "n", Type: schema.Numeric}, raw: "-5", expected: int64(-5)},
		"identifier sentinel":    {field: schema.Field{Name: "id", Type: schema.Numeric, Identifier: true}, raw: "-1", expected: int64(-1)},
		"identifier negative":    {field: schema.Field{Name: "id", Type: schema.Numeric, Identifier: true}, raw: "-7", reason: DropInvalidIdentifier},
		"string trimmed":         {field: schema.Field{Name: "s", Type: schema.String}, raw: "  Trailer \t", expected: "Trailer"},
		"string blank":           {field: schema.Field{Name: "s", Type: schema.String}, raw: " ", expected: "Unknown"},
		"string none token":      {field: schema.Field{Name: "s", Type: schema.String}, raw: "None", expected: "None"},
		"string null token":      {field: schema.Field{Name: "s", Type: schema.String}, raw: " NULL ", expected: "NULL"},
		"date null token":        {field: schema.Field{Name: "d", Type: schema.Date}, raw: "null", expected: schema.MissingDate},
		"date iso":               {field: schema.Field{Name: "d", Type: schema.Date}, raw: "2021-11-05", expected: date(2021, 11, 5)},
		"date us":                {field: schema.Field{Name: "d", Type: schema.Date}, raw: "11/5/21", expected: date(2021, 11, 5)},
		"date us long year":      {field: schema.Field{Name: "d", Type: schema.Date}, raw: "1/14/2022", expected: date(2022, 1, 14)},
		"date timestamp":         {field: schema.Field{Name: "d", Type: schema.Date}, raw: "2022-03-01T23:10:00Z", expected: date(2022, 3, 1)},
		"date blank":             {field: schema.Field{Name: "d", Type: schema.Date}, raw: "", expected: schema.MissingDate},
		"date invalid":           {field: schema.Field{Name: "d", Type: schema.Date}, raw: "yesterday", reason: DropUncastable},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			v, reason := conformValue(tt.field, tt.raw, schema.DefaultDateLayouts)
			assert.Equal(t, tt.reason, reason)
			if tt.reason == "" {
				assert.Equal(t, tt.expected, v)
			}
		})
	}
}

func TestConformRenamesAndDrops(t *testing.T) {
	raw := mustReadCSV(t, " ID ,Region,Country,Zip Code,extra\n"+
		"1,Northland , New Zealand,0110,x\n"+
		",Auckland,New Zealand,1010,x\n"+
		"-3,Waikato,New Zealand,3200,x\n"+
		"abc,Bay of Plenty,New Zealand,3110,x\n"+
		"5\n")

	result, err := Conform(raw, locationsDataset())
	require.NoError(t, err)

	assert.Equal(t, 5, result.RowsRead)
	assert.Equal(t, []schema.Row{
		{"location_id": int64(1), "city": "Northland", "state": "New Zealand", "postal_code": "0110"},
		{"location_id": int64(5), "city": "Unknown", "state": "Unknown", "postal_code": "Unknown"},
	}, result.Table.Rows)

	assert.Equal(t, 1, result.DroppedBy(DropMissingRequired))
	assert.Equal(t, 1, result.DroppedBy(DropInvalidIdentifier))
	assert.Equal(t, 1, result.DroppedBy(DropUncastable))
	assert.Equal(t, Drop{File: "test.csv", Line: 3, Reason: DropMissingRequired, Field: "location_id", Value: ""}, result.Dropped[0])
}

func TestConformCanonicalNameWinsOverAlias(t *testing.T) {
	raw := mustReadCSV(t, "colour,vehicle_id,color\nRed,1,Blue\n")
	result, err := Conform(raw, vehiclesDataset())
	require.NoError(t, err)
	require.Len(t, result.Table.Rows, 1)
	assert.Equal(t, "Blue", result.Table.Rows[0][schema.ColorField])
}

func TestConformSchemaMismatch(t *testing.T) {
	raw := mustReadCSV(t, "vehicle_type,color\nTrailer,Red\n")
	_, err := Conform(raw, vehiclesDataset())
	require.Error(t, err)
	assert.True(t, errors.Is(err, lakehouse.ErrSchemaMismatch))
}

func TestConformInvariants(t *testing.T) {
	raw := mustReadCSV(t, "vehicle_id,vehicle_type,make_id,model_year,vehicle_desc,color,date_stolen,location_id\n"+
		"1,Trailer,623,2021,BST2021D, Silver ,11/5/21,102\n"+
		"2, Boat Trailer ,,,,,,\n"+
		"3,,,2005,  ,Black,2022-01-14,\n")

	result, err := Conform(raw, vehiclesDataset())
	require.NoError(t, err)
	require.Len(t, result.Table.Rows, 3)

	for _, row := range result.Table.Rows {
		for _, f := range result.Table.Fields {
			v, ok := row[f.Name]
			require.True(t, ok, "field %s is absent", f.Name)
			require.NotNil(t, v, "field %s is nil", f.Name)
			switch f.Type {
			case schema.Numeric:
				assert.IsType(t, int64(0), v)
			case schema.String:
				s := v.(string)
				assert.NotEmpty(t, s)
				assert.Equal(t, strings.TrimSpace(s), s)
			case schema.Date:
				assert.IsType(t, time.Time{}, v)
			}
		}
	}
}

func TestConformIsIdempotent(t *testing.T) {
	contents := "vehicle_id,vehicle_type,date_stolen\n1,Trailer,2021-11-05\n2,,\n"
	first, err := Conform(mustReadCSV(t, contents), vehiclesDataset())
	require.NoError(t, err)
	second, err := Conform(mustReadCSV(t, contents), vehiclesDataset())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestReadCSV(t *testing.T) {
	raw, err := ReadCSV("bom.csv", strings.NewReader("\ufeffvehicle_id,color\n1,Red,extra\n2\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"vehicle_id", "color"}, raw.Header)
	assert.Equal(t, []RawRow{
		{"vehicle_id": "1", "color": "Red"},
		{"vehicle_id": "2"},
	}, raw.Rows)

	raw, err = ReadCSV("empty.csv", strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, raw.Rows)

	_, err = ReadCSV("bad.csv", strings.NewReader("a,b\n\"unterminated\n"))
	assert.Error(t, err)
}

func TestIsDataFile(t *testing.T) {
	assert.True(t, IsDataFile("stolen_vehicles.csv"))
	assert.True(t, IsDataFile("2022/part-1.CSV.gz"))
	assert.False(t, IsDataFile("README.md"))
}
