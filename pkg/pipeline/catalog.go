package pipeline

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/kube-reporting/theft-lakehouse/pkg/catalog"
	"github.com/kube-reporting/theft-lakehouse/pkg/db"
	"github.com/kube-reporting/theft-lakehouse/pkg/hive"
	"github.com/kube-reporting/theft-lakehouse/pkg/presto"
	"github.com/kube-reporting/theft-lakehouse/pkg/storage"
)

// Catalog holds the Hive and Presto connections used to register tables.
type Catalog struct {
	Registrar *catalog.Registrar
	Health    *presto.HealthChecker

	hiveConn   *sql.DB
	prestoConn *sql.DB
}

// OpenCatalog connects to Hive, and to Presto when schema verification is
// enabled, retrying with backoff until both answer.
func OpenCatalog(ctx context.Context, logger log.FieldLogger, cfg CatalogConfig, store storage.Store, logDDL bool) (*Catalog, error) {
	logger = logger.WithField("component", "catalog")

	hiveConn, err := hive.NewHiveConnWithRetry(ctx, logger, cfg.Hive.DataSourceName(), cfg.ConnBackoff, cfg.MaxConnRetries)
	if err != nil {
		return nil, errors.Wrapf(err, "connecting to hive at %s", cfg.Hive.Host)
	}
	c := &Catalog{hiveConn: hiveConn}
	tables := catalog.NewHiveTableManager(db.NewLoggingExecer(hiveConn, logger, logDDL))

	var describer catalog.SchemaDescriber
	if cfg.VerifySchema {
		prestoConn, err := presto.NewPrestoConnWithRetry(ctx, logger, cfg.Presto.DataSourceName(), cfg.ConnBackoff, cfg.MaxConnRetries)
		if err != nil {
			hiveConn.Close()
			return nil, errors.Wrapf(err, "connecting to presto at %s", cfg.Presto.Host)
		}
		c.prestoConn = prestoConn
		queryer := db.NewLoggingQueryer(prestoConn, logger, logDDL)
		describer = catalog.NewPrestoSchemaDescriber(queryer, cfg.Presto.Catalog)
		c.Health = presto.NewHealthChecker(logger, queryer)
	}

	c.Registrar = catalog.NewRegistrar(logger, tables, describer, store.Location, cfg.DatabasePrefix)
	return c, nil
}

func (c *Catalog) Close() error {
	var firstErr error
	for _, conn := range []*sql.DB{c.hiveConn, c.prestoConn} {
		if conn == nil {
			continue
		}
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
