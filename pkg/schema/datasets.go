package schema

import "time"

const (
	VehiclesDataset  = "stolen_vehicles"
	LocationsDataset = "locations"

	VehicleIDField   = "vehicle_id"
	VehicleTypeField = "vehicle_type"
	MakeIDField      = "make_id"
	ModelYearField   = "model_year"
	VehicleDescField = "vehicle_desc"
	ColorField       = "color"
	DateStolenField  = "date_stolen"
	LocationIDField  = "location_id"
	CityField        = "city"
	StateField       = "state"
	PostalCodeField  = "postal_code"
)

// DefaultDateLayouts accepts ISO dates, US-style month/day dates with two or
// four digit years, and RFC 3339 timestamps.
var DefaultDateLayouts = []string{
	DateLayout,
	"1/2/2006",
	"1/2/06",
	time.RFC3339,
	"2006-01-02 15:04:05",
}

// VehiclesSchema is the canonical stolen vehicle record.
var VehiclesSchema = []Field{
	{Name: VehicleIDField, Type: Numeric, Identifier: true, Aliases: []string{"id"}},
	{Name: VehicleTypeField, Type: String, Aliases: []string{"type"}},
	{Name: MakeIDField, Type: Numeric, Identifier: true, Aliases: []string{"make"}},
	{Name: ModelYearField, Type: Numeric, Aliases: []string{"year"}},
	{Name: VehicleDescField, Type: String, Aliases: []string{"description", "vehicle_description"}},
	{Name: ColorField, Type: String, Aliases: []string{"colour"}},
	{Name: DateStolenField, Type: Date, Aliases: []string{"theft_date", "stolen_date"}},
	{Name: LocationIDField, Type: Numeric, Identifier: true},
}

// LocationsSchema is the canonical location record.
var LocationsSchema = []Field{
	{Name: LocationIDField, Type: Numeric, Identifier: true, Aliases: []string{"id"}},
	{Name: CityField, Type: String, Aliases: []string{"region", "town"}},
	{Name: StateField, Type: String, Aliases: []string{"province", "country"}},
	{Name: PostalCodeField, Type: String, Aliases: []string{"zip", "zip_code", "postcode"}},
}

// DefaultDatasets returns the stolen vehicle and location datasets with the
// given source directory prefix. The returned definitions own their slices,
// so callers may modify them without touching the built-in schemas.
func DefaultDatasets(sourceDir string) []Dataset {
	return []Dataset{
		{
			Name:     VehiclesDataset,
			Source:   joinSource(sourceDir, "stolen_vehicles.csv"),
			Fields:   CopyFields(VehiclesSchema),
			Required: []string{VehicleIDField},
		},
		{
			Name:     LocationsDataset,
			Source:   joinSource(sourceDir, "locations.csv"),
			Fields:   CopyFields(LocationsSchema),
			Required: []string{LocationIDField},
		},
	}
}

// CopyFields returns a deep copy of fields.
func CopyFields(fields []Field) []Field {
	if fields == nil {
		return nil
	}
	out := make([]Field, len(fields))
	for i, f := range fields {
		out[i] = f
		if f.Aliases != nil {
			out[i].Aliases = append([]string(nil), f.Aliases...)
		}
	}
	return out
}

func joinSource(dir, name string) string {
	if dir == "" {
		return name
	}
	if dir[len(dir)-1] == '/' {
		return dir + name
	}
	return dir + "/" + name
}
