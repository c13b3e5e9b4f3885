package lakehouse

import (
	"fmt"
	"path"
)

// Tier is a data quality level within the lake.
type Tier string

const (
	Bronze Tier = "bronze"
	Silver Tier = "silver"
	Gold   Tier = "gold"

	// ManifestName is the object written last into a landed dataset
	// directory. Its presence marks the batch as complete.
	ManifestName = "_MANIFEST.json"

	// TableObjectName is the single parquet object holding a table.
	TableObjectName = "data.parquet"
)

// ParseTier validates a tier name.
func ParseTier(s string) (Tier, error) {
	switch t := Tier(s); t {
	case Bronze, Silver, Gold:
		return t, nil
	}
	return "", fmt.Errorf("invalid tier %q, must be one of: bronze, silver, gold", s)
}

// LandingPrefix is the directory raw files for a dataset are copied into.
func LandingPrefix(dataset string) string {
	return path.Join(string(Bronze), dataset) + "/"
}

// LandingKey is the key of a single landed file.
func LandingKey(dataset, fileName string) string {
	return path.Join(string(Bronze), dataset, fileName)
}

// ManifestKey is the key of the manifest of a landed dataset.
func ManifestKey(dataset string) string {
	return path.Join(string(Bronze), dataset, ManifestName)
}

// TablePrefix is the directory a Silver or Gold table lives in. Catalog
// registrations point at this directory.
func TablePrefix(tier Tier, table string) string {
	return path.Join(string(tier), table) + "/"
}

// TableKey is the key of the object holding a Silver or Gold table.
func TableKey(tier Tier, table string) string {
	return path.Join(string(tier), table, TableObjectName)
}
