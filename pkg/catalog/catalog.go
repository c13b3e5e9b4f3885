// Package catalog registers Silver and Gold tables as external Hive tables
// and verifies that Presto sees the expected schema.
package catalog

//go:generate mockgen -destination=mock/catalog.go -package=mock github.com/kube-reporting/theft-lakehouse/pkg/catalog TableManager,SchemaDescriber

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/kube-reporting/theft-lakehouse/pkg/aggregate"
	"github.com/kube-reporting/theft-lakehouse/pkg/db"
	"github.com/kube-reporting/theft-lakehouse/pkg/hive"
	"github.com/kube-reporting/theft-lakehouse/pkg/lakehouse"
	"github.com/kube-reporting/theft-lakehouse/pkg/presto"
	"github.com/kube-reporting/theft-lakehouse/pkg/schema"
)

type TableManager interface {
	CreateDatabase(ctx context.Context, params hive.DatabaseParameters) error
	CreateTable(ctx context.Context, params hive.TableParameters) error
	DropTable(ctx context.Context, database, name string, ignoreNotExists bool) error
}

type SchemaDescriber interface {
	DescribeTable(ctx context.Context, database, name string) ([]presto.Column, error)
	CountRows(ctx context.Context, database, name string) (int64, error)
}

type HiveTableManager struct {
	execer db.Execer
}

func NewHiveTableManager(execer db.Execer) *HiveTableManager {
	return &HiveTableManager{execer: execer}
}

func (m *HiveTableManager) CreateDatabase(ctx context.Context, params hive.DatabaseParameters) error {
	return hive.ExecuteCreateDatabase(ctx, m.execer, params)
}

func (m *HiveTableManager) CreateTable(ctx context.Context, params hive.TableParameters) error {
	return hive.ExecuteCreateTable(ctx, m.execer, params)
}

func (m *HiveTableManager) DropTable(ctx context.Context, database, name string, ignoreNotExists bool) error {
	return hive.ExecuteDropTable(ctx, m.execer, database, name, ignoreNotExists)
}

type PrestoSchemaDescriber struct {
	queryer db.Queryer
	catalog string
}

func NewPrestoSchemaDescriber(queryer db.Queryer, catalog string) *PrestoSchemaDescriber {
	return &PrestoSchemaDescriber{queryer: queryer, catalog: catalog}
}

func (d *PrestoSchemaDescriber) DescribeTable(ctx context.Context, database, name string) ([]presto.Column, error) {
	return presto.QueryMetadata(ctx, d.queryer, d.catalog, database, name)
}

func (d *PrestoSchemaDescriber) CountRows(ctx context.Context, database, name string) (int64, error) {
	return presto.CountRows(ctx, d.queryer, d.catalog, database, name)
}

// Table is a lake table to register.
type Table struct {
	Tier   lakehouse.Tier
	Name   string
	Fields []schema.Field
	// Rows is the number of rows written to the table's storage.
	Rows int64
}

// LakeTables lists the Silver table of every dataset followed by the Gold
// tables, whose fact schema derives from the vehicles dataset fields. Row
// counts are left for the caller to fill in.
func LakeTables(datasets []schema.Dataset, vehicleFields []schema.Field) []Table {
	var tables []Table
	for _, ds := range datasets {
		tables = append(tables, Table{Tier: lakehouse.Silver, Name: ds.Name, Fields: ds.Fields})
	}
	for _, t := range aggregate.GoldSchemas(vehicleFields) {
		tables = append(tables, Table{Tier: lakehouse.Gold, Name: t.Name, Fields: t.Fields})
	}
	return tables
}

// Registration is the outcome of registering one table.
type Registration struct {
	Database string `json:"database"`
	Name     string `json:"name"`
	Location string `json:"location"`
	Verified bool   `json:"verified"`
}

// HiveType is the Hive column type a field is stored as.
func HiveType(t schema.FieldType) string {
	switch t {
	case schema.Numeric:
		return "bigint"
	case schema.Date:
		return "date"
	default:
		return "string"
	}
}

// PrestoType is the type Presto reports for a column of the given field type.
func PrestoType(t schema.FieldType) string {
	switch t {
	case schema.Numeric:
		return "bigint"
	case schema.Date:
		return "date"
	default:
		return "varchar"
	}
}

// Locator resolves a storage key to the URI Hive reads it from.
type Locator func(key string) string

type Registrar struct {
	logger         log.FieldLogger
	tables         TableManager
	describer      SchemaDescriber
	locate         Locator
	databasePrefix string
}

// NewRegistrar returns a Registrar. Schema verification is skipped when
// describer is nil.
func NewRegistrar(logger log.FieldLogger, tables TableManager, describer SchemaDescriber, locate Locator, databasePrefix string) *Registrar {
	return &Registrar{
		logger:         logger.WithField("component", "catalog"),
		tables:         tables,
		describer:      describer,
		locate:         locate,
		databasePrefix: databasePrefix,
	}
}

// Database is the Hive database tables of a tier are registered in.
func (r *Registrar) Database(tier lakehouse.Tier) string {
	return r.databasePrefix + string(tier)
}

// Register creates or replaces the external table of every given table,
// then checks the column names, types and row count Presto reports for it.
func (r *Registrar) Register(ctx context.Context, tables []Table) ([]Registration, error) {
	created := make(map[string]bool)
	var registrations []Registration
	for _, t := range tables {
		if t.Tier != lakehouse.Silver && t.Tier != lakehouse.Gold {
			return nil, fmt.Errorf("cannot register %s table %s, only silver and gold tables are registered", t.Tier, t.Name)
		}
		if !schema.ValidTableName(t.Name) {
			return nil, fmt.Errorf("invalid table name %q", t.Name)
		}
		database := r.Database(t.Tier)
		logger := r.logger.WithFields(log.Fields{"database": database, "table": t.Name})

		if !created[database] {
			if err := r.tables.CreateDatabase(ctx, hive.DatabaseParameters{Name: database}); err != nil {
				return nil, errors.Wrapf(err, "creating hive database %s", database)
			}
			created[database] = true
		}

		location := r.locate(lakehouse.TablePrefix(t.Tier, t.Name))
		params := hive.TableParameters{
			Database:     database,
			Name:         t.Name,
			Columns:      hiveColumns(t.Fields),
			Location:     location,
			FileFormat:   hive.ParquetFileFormat,
			External:     true,
			IgnoreExists: true,
			TableProperties: map[string]string{
				"tier": string(t.Tier),
			},
		}
		// the table is recreated so schema changes take effect; dropping an
		// external table leaves its data in place
		if err := r.tables.DropTable(ctx, database, t.Name, true); err != nil {
			return nil, errors.Wrapf(err, "dropping hive table %s.%s", database, t.Name)
		}
		if err := r.tables.CreateTable(ctx, params); err != nil {
			return nil, errors.Wrapf(err, "creating hive table %s.%s", database, t.Name)
		}
		logger.Infof("registered table at %s", location)

		reg := Registration{Database: database, Name: t.Name, Location: location}
		if r.describer != nil {
			if err := r.verify(ctx, database, t); err != nil {
				return nil, err
			}
			reg.Verified = true
			logger.Debugf("verified table schema and %d rows", t.Rows)
		}
		registrations = append(registrations, reg)
	}
	return registrations, nil
}

func (r *Registrar) verify(ctx context.Context, database string, t Table) error {
	cols, err := r.describer.DescribeTable(ctx, database, t.Name)
	if err != nil {
		return errors.Wrapf(err, "describing %s.%s", database, t.Name)
	}
	if len(cols) != len(t.Fields) {
		return errors.Wrapf(lakehouse.ErrSchemaMismatch, "table %s.%s has %d columns, expected %d", database, t.Name, len(cols), len(t.Fields))
	}
	for i, f := range t.Fields {
		name := strings.ToLower(cols[i].Name)
		typ := strings.ToLower(cols[i].Type)
		if name != f.Name || typ != PrestoType(f.Type) {
			return errors.Wrapf(lakehouse.ErrSchemaMismatch, "table %s.%s column %d is %s %s, expected %s %s",
				database, t.Name, i, name, typ, f.Name, PrestoType(f.Type))
		}
	}

	n, err := r.describer.CountRows(ctx, database, t.Name)
	if err != nil {
		return errors.Wrapf(err, "counting rows of %s.%s", database, t.Name)
	}
	if n != t.Rows {
		return fmt.Errorf("table %s.%s reads %d rows, %d were written to %s", database, t.Name, n, t.Rows, r.locate(lakehouse.TablePrefix(t.Tier, t.Name)))
	}
	return nil
}

func hiveColumns(fields []schema.Field) []hive.Column {
	cols := make([]hive.Column, len(fields))
	for i, f := range fields {
		cols[i] = hive.Column{Name: f.Name, Type: HiveType(f.Type)}
	}
	return cols
}
