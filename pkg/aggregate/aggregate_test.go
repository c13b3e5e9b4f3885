package aggregate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kube-reporting/theft-lakehouse/pkg/schema"
)

func vehicle(id int64, vehicleType string, stolen time.Time, locationID int64) schema.Row {
	return schema.Row{
		schema.VehicleIDField:   id,
		schema.VehicleTypeField: vehicleType,
		schema.MakeIDField:      int64(-1),
		schema.ModelYearField:   int64(-1),
		schema.VehicleDescField: schema.MissingString,
		schema.ColorField:       schema.MissingString,
		schema.DateStolenField:  stolen,
		schema.LocationIDField:  locationID,
	}
}

func location(id int64, city, state string) schema.Row {
	return schema.Row{
		schema.LocationIDField: id,
		schema.CityField:       city,
		schema.StateField:      state,
		schema.PostalCodeField: schema.MissingString,
	}
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func testFacts() []schema.Row {
	vehicles := []schema.Row{
		vehicle(1, "Trailer", date(2021, 11, 5), 102),
		vehicle(2, "Roadbike", date(2021, 12, 22), 104),
		vehicle(3, "Trailer", date(2022, 1, 14), 999),
	}
	locations := []schema.Row{
		location(102, "Auckland", "Auckland"),
		location(104, "Unknown", "Unknown"),
	}
	return Join(vehicles, locations)
}

func TestJoin(t *testing.T) {
	facts := testFacts()
	require.Len(t, facts, 3)

	assert.Equal(t, "Auckland", facts[0][schema.CityField])
	assert.Equal(t, "Auckland", facts[0][schema.StateField])
	assert.Equal(t, int64(1), facts[0][schema.VehicleIDField])

	// unmatched vehicles keep sentinel location fields
	assert.Equal(t, "Unknown", facts[2][schema.CityField])
	assert.Equal(t, "Unknown", facts[2][schema.StateField])
	assert.Equal(t, "Unknown", facts[2][schema.PostalCodeField])
	assert.Equal(t, int64(999), facts[2][schema.LocationIDField])

	for _, row := range facts {
		for _, f := range FactFields(schema.VehiclesSchema) {
			assert.Contains(t, row, f.Name)
		}
	}
}

func TestJoinFirstDuplicateLocationWins(t *testing.T) {
	facts := Join(
		[]schema.Row{vehicle(1, "Trailer", date(2021, 1, 1), 7)},
		[]schema.Row{location(7, "Napier", "Hawke's Bay"), location(7, "Hastings", "Hawke's Bay")},
	)
	require.Len(t, facts, 1)
	assert.Equal(t, "Napier", facts[0][schema.CityField])
}

func TestJoinMissingLocationIDNeverMatches(t *testing.T) {
	facts := Join(
		[]schema.Row{vehicle(1, "Trailer", date(2021, 1, 1), -1)},
		[]schema.Row{location(-1, "Nowhere", "Nowhere")},
	)
	assert.Equal(t, "Unknown", facts[0][schema.CityField])
}

func TestAggregateByYear(t *testing.T) {
	counts := AggregateByKey(testFacts(), YearKey)
	assert.Equal(t, map[int64]int64{2021: 2, 2022: 1}, counts)
}

func TestAggregateByKeyEmpty(t *testing.T) {
	assert.Empty(t, AggregateByKey(nil, VehicleTypeKey))
}

func TestKeys(t *testing.T) {
	tests := map[string]struct {
		row      schema.Row
		year     int64
		vehicle  string
		location string
	}{
		"known": {
			row:      schema.Row{schema.DateStolenField: date(2022, 3, 1), schema.VehicleTypeField: "Boat Trailer", schema.CityField: "Wellington", schema.StateField: "Wellington"},
			year:     2022,
			vehicle:  "Boat Trailer",
			location: "Wellington, Wellington",
		},
		"sentinels": {
			row:      schema.Row{schema.DateStolenField: schema.MissingDate, schema.VehicleTypeField: "Unknown", schema.CityField: "Unknown", schema.StateField: "Unknown"},
			year:     1900,
			vehicle:  "Unknown",
			location: "Unknown",
		},
		"partial location": {
			row:      schema.Row{schema.CityField: "Unknown", schema.StateField: "Canterbury"},
			year:     1900,
			vehicle:  "Unknown",
			location: "Unknown, Canterbury",
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.year, YearKey(tt.row))
			assert.Equal(t, tt.vehicle, VehicleTypeKey(tt.row))
			assert.Equal(t, tt.location, LocationKey(tt.row))
		})
	}
}

func TestAggregations(t *testing.T) {
	facts := testFacts()
	tables := map[string]schema.Table{}
	for _, agg := range Aggregations() {
		tables[agg.Table] = agg.Compute(facts)
	}

	assert.Equal(t, []schema.Row{
		{YearColumn: int64(2021), TheftCountColumn: int64(2)},
		{YearColumn: int64(2022), TheftCountColumn: int64(1)},
	}, tables[ByYearTable].Rows)
	assert.Equal(t, []schema.Row{
		{schema.VehicleTypeField: "Roadbike", TheftCountColumn: int64(1)},
		{schema.VehicleTypeField: "Trailer", TheftCountColumn: int64(2)},
	}, tables[ByVehicleTable].Rows)
	assert.Equal(t, []schema.Row{
		{LocationColumn: "Auckland, Auckland", TheftCountColumn: int64(1)},
		{LocationColumn: "Unknown", TheftCountColumn: int64(2)},
	}, tables[ByLocationTable].Rows)

	// every aggregate accounts for every fact
	for name, table := range tables {
		assert.Equal(t, int64(len(facts)), Total(table), "sum of %s", name)
		assert.Equal(t, TheftCountColumn, table.Fields[1].Name)
	}
}
