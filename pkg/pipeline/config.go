package pipeline

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/kube-reporting/theft-lakehouse/pkg/aggregate"
	"github.com/kube-reporting/theft-lakehouse/pkg/hive"
	"github.com/kube-reporting/theft-lakehouse/pkg/presto"
	"github.com/kube-reporting/theft-lakehouse/pkg/schema"
	"github.com/kube-reporting/theft-lakehouse/pkg/secrets"
	"github.com/kube-reporting/theft-lakehouse/pkg/storage"
)

const (
	StorageBackendFile = "file"
	StorageBackendS3   = "s3"
)

type StorageConfig struct {
	Backend string `json:"backend" mapstructure:"backend" toml:"backend"`
	// Root is the lake directory of the file backend.
	Root string           `json:"root,omitempty" mapstructure:"root" toml:"root,omitempty"`
	S3   storage.S3Config `json:"s3,omitempty" mapstructure:"s3" toml:"s3,omitempty"`
}

type CatalogConfig struct {
	Hive   hive.ConnectionConfig   `json:"hive" mapstructure:"hive" toml:"hive"`
	Presto presto.ConnectionConfig `json:"presto" mapstructure:"presto" toml:"presto"`
	// DatabasePrefix is prepended to the tier name to form the Hive
	// database tables are registered in.
	DatabasePrefix string `json:"databasePrefix,omitempty" mapstructure:"database_prefix" toml:"database_prefix,omitempty"`
	// VerifySchema checks each registered table through Presto DESCRIBE.
	VerifySchema   bool          `json:"verifySchema" mapstructure:"verify_schema" toml:"verify_schema"`
	ConnBackoff    time.Duration `json:"connBackoff,omitempty" mapstructure:"conn_backoff" toml:"conn_backoff,omitempty"`
	MaxConnRetries int           `json:"maxConnRetries,omitempty" mapstructure:"max_conn_retries" toml:"max_conn_retries,omitempty"`
}

// AggregateConfig names the conformed datasets the Gold tables are built from.
type AggregateConfig struct {
	Vehicles  string `json:"vehicles" mapstructure:"vehicles" toml:"vehicles"`
	Locations string `json:"locations" mapstructure:"locations" toml:"locations"`
}

// Config is the complete definition of a pipeline. It is passed explicitly
// to New; nothing is read from global state.
type Config struct {
	Datasets  []schema.Dataset  `json:"datasets" mapstructure:"datasets" toml:"datasets"`
	Aggregate AggregateConfig   `json:"aggregate" mapstructure:"aggregate" toml:"aggregate"`
	Storage   StorageConfig     `json:"storage" mapstructure:"storage" toml:"storage"`
	Secret    secrets.Reference `json:"secret" mapstructure:"secret" toml:"secret"`
	Catalog   CatalogConfig     `json:"catalog" mapstructure:"catalog" toml:"catalog"`
	Metrics   MetricsConfig     `json:"metrics" mapstructure:"metrics" toml:"metrics"`
	// LedgerPath is the SQLite database runs are recorded in. Empty disables
	// the ledger.
	LedgerPath string `json:"ledgerPath,omitempty" mapstructure:"ledger_path" toml:"ledger_path,omitempty"`
}

// DefaultConfig returns the built-in stolen vehicle pipeline reading its
// source files from sourceDir and storing the lake below lakeDir.
func DefaultConfig(sourceDir, lakeDir string) Config {
	return Config{
		Datasets: schema.DefaultDatasets(sourceDir),
		Aggregate: AggregateConfig{
			Vehicles:  schema.VehiclesDataset,
			Locations: schema.LocationsDataset,
		},
		Storage: StorageConfig{
			Backend: StorageBackendFile,
			Root:    lakeDir,
		},
		Secret: secrets.Reference{Backend: secrets.BackendNone},
		Catalog: CatalogConfig{
			Hive:           hive.ConnectionConfig{Host: "hive-server:10000", ConnectTimeout: 30 * time.Second},
			Presto:         presto.ConnectionConfig{Host: "presto:8080", Catalog: "hive"},
			VerifySchema:   true,
			ConnBackoff:    2 * time.Second,
			MaxConnRetries: 10,
		},
		LedgerPath: "theft-lakehouse.db",
	}
}

// Dataset looks up a dataset definition by name.
func (c Config) Dataset(name string) (schema.Dataset, bool) {
	for _, ds := range c.Datasets {
		if ds.Name == name {
			return ds, true
		}
	}
	return schema.Dataset{}, false
}

func (c Config) Validate() error {
	if len(c.Datasets) == 0 {
		return fmt.Errorf("no datasets are configured")
	}
	seen := make(map[string]bool)
	for _, ds := range c.Datasets {
		if err := ds.Validate(); err != nil {
			return err
		}
		if seen[ds.Name] {
			return fmt.Errorf("dataset %s is defined more than once", ds.Name)
		}
		seen[ds.Name] = true
	}

	vehicles, ok := c.Dataset(c.Aggregate.Vehicles)
	if !ok {
		return fmt.Errorf("aggregate vehicles dataset %q is not defined", c.Aggregate.Vehicles)
	}
	locations, ok := c.Dataset(c.Aggregate.Locations)
	if !ok {
		return fmt.Errorf("aggregate locations dataset %q is not defined", c.Aggregate.Locations)
	}
	if err := requireFields("vehicles", vehicles, vehicleKeyFields); err != nil {
		return err
	}
	if err := requireFields("locations", locations, locationKeyFields); err != nil {
		return err
	}
	// Join adds the location columns to each vehicle row
	for _, f := range aggregate.JoinedLocationFields {
		if _, ok := vehicles.Field(f.Name); ok {
			return fmt.Errorf("vehicles dataset %s must not define %s, it is joined from the locations dataset", vehicles.Name, f.Name)
		}
	}

	switch c.Storage.Backend {
	case StorageBackendFile:
		if c.Storage.Root == "" {
			return fmt.Errorf("storage.root must be set for the file backend")
		}
	case StorageBackendS3:
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket must be set for the s3 backend")
		}
	default:
		return fmt.Errorf("invalid storage backend %q, must be one of: %s, %s", c.Storage.Backend, StorageBackendFile, StorageBackendS3)
	}

	switch c.Secret.Backend {
	case "", secrets.BackendNone:
	case secrets.BackendEnv, secrets.BackendSecretsManager:
		if c.Secret.Scope == "" || c.Secret.Name == "" {
			return fmt.Errorf("secret scope and name must be set for the %s backend", c.Secret.Backend)
		}
	default:
		return fmt.Errorf("invalid secret backend %q", c.Secret.Backend)
	}
	return nil
}

// vehicleKeyFields and locationKeyFields are the fields the join and the
// aggregates read, with the types they read them as.
var (
	vehicleKeyFields = []schema.Field{
		{Name: schema.VehicleIDField, Type: schema.Numeric},
		{Name: schema.VehicleTypeField, Type: schema.String},
		{Name: schema.DateStolenField, Type: schema.Date},
		{Name: schema.LocationIDField, Type: schema.Numeric},
	}
	locationKeyFields = []schema.Field{
		{Name: schema.LocationIDField, Type: schema.Numeric},
		{Name: schema.CityField, Type: schema.String},
		{Name: schema.StateField, Type: schema.String},
		{Name: schema.PostalCodeField, Type: schema.String},
	}
)

func requireFields(role string, ds schema.Dataset, want []schema.Field) error {
	for _, w := range want {
		f, ok := ds.Field(w.Name)
		if !ok {
			return fmt.Errorf("%s dataset %s has no %s field", role, ds.Name, w.Name)
		}
		if f.Type != w.Type {
			return fmt.Errorf("%s dataset %s: field %s must be %s, not %s", role, ds.Name, w.Name, w.Type, f.Type)
		}
	}
	return nil
}

// NewStore opens the configured object store with the resolved credentials.
func NewStore(cfg StorageConfig, creds *secrets.Credentials) (storage.Store, error) {
	switch cfg.Backend {
	case StorageBackendS3:
		return storage.NewS3Store(cfg.S3, creds.AWS())
	case StorageBackendFile:
		return storage.NewFileStore(cfg.Root)
	}
	return nil, fmt.Errorf("invalid storage backend %q", cfg.Backend)
}

// LoadConfig reads a pipeline definition file over base. The format is
// chosen by the file extension (toml, yaml or json). Keys missing from the
// file keep their value in base; lists such as datasets and required fields
// are replaced whole, an empty list included. base is not modified.
func LoadConfig(path string, base Config) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Config{}, errors.Wrapf(err, "error reading configuration file '%s'", path)
	}
	cfg := base.Clone()
	// ZeroFields makes the decoder allocate every list it decodes instead of
	// writing into the existing one element by element
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) { dc.ZeroFields = true }); err != nil {
		return Config{}, errors.Wrapf(err, "error decoding configuration file '%s'", path)
	}
	return cfg, nil
}

// Clone returns a copy of c sharing no slices with it.
func (c Config) Clone() Config {
	out := c
	out.Datasets = nil
	for _, ds := range c.Datasets {
		ds.Fields = schema.CopyFields(ds.Fields)
		if ds.Required != nil {
			ds.Required = append([]string(nil), ds.Required...)
		}
		if ds.DateLayouts != nil {
			ds.DateLayouts = append([]string(nil), ds.DateLayouts...)
		}
		out.Datasets = append(out.Datasets, ds)
	}
	return out
}
