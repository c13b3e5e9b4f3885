// Package aggregate joins conformed tables and computes grouped theft counts.
package aggregate

import (
	"fmt"
	"sort"
	"time"

	"github.com/kube-reporting/theft-lakehouse/pkg/schema"
)

const (
	FactsTable       = "theft_facts"
	ByYearTable      = "thefts_by_year"
	ByVehicleTable   = "thefts_by_vehicle_type"
	ByLocationTable  = "thefts_by_location"
	YearColumn       = "year"
	LocationColumn   = "location"
	TheftCountColumn = "theft_count"
)

// JoinedLocationFields are the location columns Join adds to every vehicle.
var JoinedLocationFields = []schema.Field{
	{Name: schema.CityField, Type: schema.String},
	{Name: schema.StateField, Type: schema.String},
	{Name: schema.PostalCodeField, Type: schema.String},
}

// FactFields is the theft_facts schema for vehicles conformed with the given
// fields: every vehicle column in order, then the joined location columns.
// Only names and types are kept.
func FactFields(vehicleFields []schema.Field) []schema.Field {
	fields := make([]schema.Field, 0, len(vehicleFields)+len(JoinedLocationFields))
	for _, f := range vehicleFields {
		fields = append(fields, schema.Field{Name: f.Name, Type: f.Type})
	}
	return append(fields, JoinedLocationFields...)
}

// Join left joins vehicles with locations on location_id. Every vehicle
// appears exactly once in the output, in input order. Vehicles without a
// matching location keep the "Unknown" sentinel in the location fields. If
// several locations share an id the first one wins.
func Join(vehicles, locations []schema.Row) []schema.Row {
	byID := make(map[int64]schema.Row, len(locations))
	for _, loc := range locations {
		id, ok := loc[schema.LocationIDField].(int64)
		if !ok || id == schema.MissingNumeric {
			continue
		}
		if _, exists := byID[id]; !exists {
			byID[id] = loc
		}
	}

	joined := make([]schema.Row, 0, len(vehicles))
	for _, v := range vehicles {
		row := make(schema.Row, len(v)+3)
		for k, val := range v {
			row[k] = val
		}
		row[schema.CityField] = schema.MissingString
		row[schema.StateField] = schema.MissingString
		row[schema.PostalCodeField] = schema.MissingString

		if id, ok := v[schema.LocationIDField].(int64); ok && id != schema.MissingNumeric {
			if loc, found := byID[id]; found {
				for _, f := range []string{schema.CityField, schema.StateField, schema.PostalCodeField} {
					if s, ok := loc[f].(string); ok && s != "" {
						row[f] = s
					}
				}
			}
		}
		joined = append(joined, row)
	}
	return joined
}

// AggregateByKey counts the rows sharing the key returned by keyFn.
func AggregateByKey[K comparable](rows []schema.Row, keyFn func(schema.Row) K) map[K]int64 {
	counts := make(map[K]int64)
	for _, row := range rows {
		counts[keyFn(row)]++
	}
	return counts
}

// YearKey groups by the calendar year of date_stolen. Rows with the missing
// date sentinel fall in 1900.
func YearKey(row schema.Row) int64 {
	t, ok := row[schema.DateStolenField].(time.Time)
	if !ok {
		t = schema.MissingDate
	}
	return int64(t.Year())
}

// VehicleTypeKey groups by vehicle_type.
func VehicleTypeKey(row schema.Row) string {
	s, ok := row[schema.VehicleTypeField].(string)
	if !ok || s == "" {
		return schema.MissingString
	}
	return s
}

// LocationKey groups by "<city>, <state>", or "Unknown" when both are unknown.
func LocationKey(row schema.Row) string {
	city, _ := row[schema.CityField].(string)
	state, _ := row[schema.StateField].(string)
	if city == "" {
		city = schema.MissingString
	}
	if state == "" {
		state = schema.MissingString
	}
	if city == schema.MissingString && state == schema.MissingString {
		return schema.MissingString
	}
	return fmt.Sprintf("%s, %s", city, state)
}

// Aggregation describes one Gold count table.
type Aggregation struct {
	Table    string
	KeyField schema.Field
	compute  func(rows []schema.Row) []schema.Row
}

// Compute counts the rows per key and returns a table sorted by key.
func (a Aggregation) Compute(rows []schema.Row) schema.Table {
	return schema.Table{
		Name: a.Table,
		Fields: []schema.Field{
			a.KeyField,
			{Name: TheftCountColumn, Type: schema.Numeric},
		},
		Rows: a.compute(rows),
	}
}

func int64Groups(keyName string, keyFn func(schema.Row) int64) func([]schema.Row) []schema.Row {
	return func(rows []schema.Row) []schema.Row {
		counts := AggregateByKey(rows, keyFn)
		keys := make([]int64, 0, len(counts))
		for k := range counts {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
		out := make([]schema.Row, len(keys))
		for i, k := range keys {
			out[i] = schema.Row{keyName: k, TheftCountColumn: counts[k]}
		}
		return out
	}
}

func stringGroups(keyName string, keyFn func(schema.Row) string) func([]schema.Row) []schema.Row {
	return func(rows []schema.Row) []schema.Row {
		counts := AggregateByKey(rows, keyFn)
		keys := make([]string, 0, len(counts))
		for k := range counts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]schema.Row, len(keys))
		for i, k := range keys {
			out[i] = schema.Row{keyName: k, TheftCountColumn: counts[k]}
		}
		return out
	}
}

// Aggregations returns the Gold count tables computed from theft facts.
func Aggregations() []Aggregation {
	return []Aggregation{
		{
			Table:    ByYearTable,
			KeyField: schema.Field{Name: YearColumn, Type: schema.Numeric},
			compute:  int64Groups(YearColumn, YearKey),
		},
		{
			Table:    ByVehicleTable,
			KeyField: schema.Field{Name: schema.VehicleTypeField, Type: schema.String},
			compute:  stringGroups(schema.VehicleTypeField, VehicleTypeKey),
		},
		{
			Table:    ByLocationTable,
			KeyField: schema.Field{Name: LocationColumn, Type: schema.String},
			compute:  stringGroups(LocationColumn, LocationKey),
		},
	}
}

// Total sums the theft_count column of an aggregate table.
func Total(t schema.Table) int64 {
	var total int64
	for _, row := range t.Rows {
		if n, ok := row[TheftCountColumn].(int64); ok {
			total += n
		}
	}
	return total
}

// GoldSchemas returns the empty Gold tables in write order: the fact table
// followed by each aggregate.
func GoldSchemas(vehicleFields []schema.Field) []schema.Table {
	tables := []schema.Table{{Name: FactsTable, Fields: FactFields(vehicleFields)}}
	for _, agg := range Aggregations() {
		tables = append(tables, agg.Compute(nil))
	}
	return tables
}
