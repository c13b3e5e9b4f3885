// Package pipeline wires the ingestion, conformance, aggregation and catalog
// stages into runs that are serialized and recorded in the run ledger.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/kube-reporting/theft-lakehouse/pkg/aggregate"
	"github.com/kube-reporting/theft-lakehouse/pkg/catalog"
	"github.com/kube-reporting/theft-lakehouse/pkg/conform"
	"github.com/kube-reporting/theft-lakehouse/pkg/ingest"
	"github.com/kube-reporting/theft-lakehouse/pkg/lakehouse"
	"github.com/kube-reporting/theft-lakehouse/pkg/ledger"
	"github.com/kube-reporting/theft-lakehouse/pkg/schema"
	"github.com/kube-reporting/theft-lakehouse/pkg/secrets"
	"github.com/kube-reporting/theft-lakehouse/pkg/storage"
	"github.com/kube-reporting/theft-lakehouse/pkg/tableformat"
)

const (
	StageIngest    = "ingest"
	StageConform   = "conform"
	StageAggregate = "aggregate"
	StageRegister  = "register"
)

// Options override the components New would otherwise build from the Config.
type Options struct {
	// Store replaces the configured object store. No credentials are
	// resolved when it is set.
	Store storage.Store
	// Resolver replaces the resolver of the configured secret backend.
	Resolver secrets.Resolver
	// Ledger records runs. Runs are not recorded when it is nil.
	Ledger *ledger.Ledger
	// Registrar registers tables in the catalog. Register fails when it is
	// nil.
	Registrar *catalog.Registrar
}

type Pipeline struct {
	logger log.FieldLogger
	cfg    Config
	store  storage.Store

	ingester   *ingest.Ingester
	conformer  *conform.Stage
	aggregator *aggregate.Stage
	registrar  *catalog.Registrar
	ledger     *ledger.Ledger

	// runs are serialized so two runs never write the same table
	runMu sync.Mutex
	now   func() time.Time
	newID func() string
}

// New validates cfg, resolves the storage credentials once and builds every
// stage. A credential failure is reported before any object is read or
// written.
func New(ctx context.Context, logger log.FieldLogger, cfg Config, opts Options) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid pipeline configuration")
	}
	store := opts.Store
	if store == nil {
		resolver := opts.Resolver
		if resolver == nil {
			var err error
			if resolver, err = secrets.NewResolver(cfg.Secret); err != nil {
				return nil, err
			}
		}
		creds, err := resolver.Resolve(ctx, cfg.Secret)
		if err != nil {
			return nil, errors.Wrapf(lakehouse.ErrSecretResolution, "resolving storage credentials: %v", err)
		}
		if store, err = NewStore(cfg.Storage, creds); err != nil {
			return nil, err
		}
	}

	return &Pipeline{
		logger:     logger.WithField("component", "pipeline"),
		cfg:        cfg,
		store:      store,
		ingester:   ingest.NewIngester(logger, store),
		conformer:  conform.NewStage(logger, store),
		aggregator: aggregate.NewStage(logger, store),
		registrar:  opts.Registrar,
		ledger:     opts.Ledger,
		now:        time.Now,
		newID:      func() string { return uuid.New().String() },
	}, nil
}

func (p *Pipeline) Store() storage.Store { return p.store }

func (p *Pipeline) Config() Config { return p.cfg }

func (p *Pipeline) Ledger() *ledger.Ledger { return p.ledger }

// ConformSummary is the outcome of conforming one dataset.
type ConformSummary struct {
	Dataset  string         `json:"dataset"`
	RowsRead int            `json:"rowsRead"`
	Rows     int            `json:"rows"`
	Dropped  map[string]int `json:"dropped,omitempty"`
}

// RunSummary collects the outcome of every stage a run executed.
type RunSummary struct {
	RunID         string                 `json:"runId"`
	Manifests     []*ingest.Manifest     `json:"manifests,omitempty"`
	Conformed     []ConformSummary       `json:"conformed,omitempty"`
	Aggregate     *aggregate.Summary     `json:"aggregate,omitempty"`
	Registrations []catalog.Registration `json:"registrations,omitempty"`
}

// Ingest lands the named datasets, or every dataset if none are named.
func (p *Pipeline) Ingest(ctx context.Context, datasets ...string) (*RunSummary, error) {
	return p.execute(ctx, StageIngest, func(ctx context.Context, r *run) error {
		return r.ingest(ctx, datasets)
	})
}

// Conform rebuilds the Silver tables of the named datasets, or of every
// dataset if none are named.
func (p *Pipeline) Conform(ctx context.Context, datasets ...string) (*RunSummary, error) {
	return p.execute(ctx, StageConform, func(ctx context.Context, r *run) error {
		return r.conform(ctx, datasets)
	})
}

// Aggregate rebuilds the Gold tables from the current Silver tables.
func (p *Pipeline) Aggregate(ctx context.Context) (*RunSummary, error) {
	return p.execute(ctx, StageAggregate, func(ctx context.Context, r *run) error {
		return r.aggregate(ctx)
	})
}

// Register registers every Silver and Gold table in the catalog.
func (p *Pipeline) Register(ctx context.Context) (*RunSummary, error) {
	return p.execute(ctx, StageRegister, func(ctx context.Context, r *run) error {
		return r.register(ctx)
	})
}

// Run executes ingestion, conformance and aggregation in order, stopping at
// the first failing stage, and registers the tables if register is set.
func (p *Pipeline) Run(ctx context.Context, register bool) (*RunSummary, error) {
	return p.execute(ctx, "run", func(ctx context.Context, r *run) error {
		if err := r.ingest(ctx, nil); err != nil {
			return err
		}
		if err := r.conform(ctx, nil); err != nil {
			return err
		}
		if err := r.aggregate(ctx); err != nil {
			return err
		}
		if register {
			return r.register(ctx)
		}
		return nil
	})
}

// run is the state of one serialized invocation.
type run struct {
	p       *Pipeline
	id      string
	logger  log.FieldLogger
	summary *RunSummary
}

func (p *Pipeline) execute(ctx context.Context, command string, fn func(context.Context, *run) error) (*RunSummary, error) {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	r := &run{
		p:       p,
		id:      p.newID(),
		summary: &RunSummary{},
	}
	r.summary.RunID = r.id
	r.logger = p.logger.WithFields(log.Fields{"runID": r.id, "command": command})

	if p.ledger != nil {
		if err := p.ledger.StartRun(ctx, r.id, command, p.now()); err != nil {
			r.logger.WithError(err).Warnf("unable to record run start")
		}
	}
	r.logger.Infof("starting %s", command)

	err := fn(ctx, r)

	status, _ := ledger.Outcome(err)
	runsCounter.WithLabelValues(command, string(status)).Inc()
	if p.ledger != nil {
		// the run outcome is recorded even if ctx was canceled
		if lerr := p.ledger.FinishRun(context.Background(), r.id, p.now(), err); lerr != nil {
			r.logger.WithError(lerr).Warnf("unable to record run end")
		}
	}
	if p.cfg.Metrics.PushgatewayURL != "" {
		if perr := pushMetrics(p.cfg.Metrics, command); perr != nil {
			r.logger.WithError(perr).Warnf("unable to push metrics to %s", p.cfg.Metrics.PushgatewayURL)
		}
	}
	if err != nil {
		r.logger.WithError(err).Errorf("%s failed", command)
		return r.summary, err
	}
	r.logger.Infof("%s finished", command)
	return r.summary, nil
}

type stageCounts struct {
	read, written, dropped int64
}

// stage times fn and records its outcome as metrics and in the ledger.
func (r *run) stage(stage, target string, fn func() (stageCounts, error)) error {
	start := r.p.now()
	counts, err := fn()
	finish := r.p.now()

	stageDurationHistogram.WithLabelValues(stage, target).Observe(finish.Sub(start).Seconds())
	if err != nil {
		stageFailedCounter.WithLabelValues(stage, target).Inc()
	}
	if r.p.ledger != nil {
		status, msg := ledger.Outcome(err)
		result := ledger.StageResult{
			Stage:       stage,
			Target:      target,
			RowsRead:    counts.read,
			RowsWritten: counts.written,
			RowsDropped: counts.dropped,
			Status:      status,
			Error:       msg,
			StartedAt:   start,
			FinishedAt:  finish,
		}
		if lerr := r.p.ledger.RecordStage(context.Background(), r.id, result); lerr != nil {
			r.logger.WithError(lerr).Warnf("unable to record %s stage", stage)
		}
	}
	return err
}

func (r *run) datasets(names []string) ([]schema.Dataset, error) {
	if len(names) == 0 {
		return r.p.cfg.Datasets, nil
	}
	var out []schema.Dataset
	for _, name := range names {
		ds, ok := r.p.cfg.Dataset(name)
		if !ok {
			var known []string
			for _, d := range r.p.cfg.Datasets {
				known = append(known, d.Name)
			}
			return nil, fmt.Errorf("unknown dataset %q, must be one of: %s", name, strings.Join(known, ", "))
		}
		out = append(out, ds)
	}
	return out, nil
}

func (r *run) ingest(ctx context.Context, names []string) error {
	datasets, err := r.datasets(names)
	if err != nil {
		return err
	}
	for _, ds := range datasets {
		ds := ds
		err := r.stage(StageIngest, ds.Name, func() (stageCounts, error) {
			manifest, err := r.p.ingester.Ingest(ctx, ds)
			if err != nil {
				return stageCounts{}, err
			}
			r.summary.Manifests = append(r.summary.Manifests, manifest)
			filesLandedCounter.WithLabelValues(ds.Name).Add(float64(len(manifest.Files)))
			n := int64(len(manifest.Files))
			return stageCounts{read: n, written: n}, nil
		})
		if err != nil {
			return errors.Wrapf(err, "ingesting %s", ds.Name)
		}
	}
	return nil
}

func (r *run) conform(ctx context.Context, names []string) error {
	datasets, err := r.datasets(names)
	if err != nil {
		return err
	}
	for _, ds := range datasets {
		ds := ds
		err := r.stage(StageConform, ds.Name, func() (stageCounts, error) {
			result, err := r.p.conformer.Run(ctx, ds)
			if err != nil {
				return stageCounts{}, err
			}
			summary := ConformSummary{
				Dataset:  ds.Name,
				RowsRead: result.RowsRead,
				Rows:     len(result.Table.Rows),
			}
			for _, reason := range []conform.DropReason{conform.DropMissingRequired, conform.DropInvalidIdentifier, conform.DropUncastable} {
				n := result.DroppedBy(reason)
				if n == 0 {
					continue
				}
				if summary.Dropped == nil {
					summary.Dropped = make(map[string]int)
				}
				summary.Dropped[string(reason)] = n
				rowsDroppedCounter.WithLabelValues(ds.Name, string(reason)).Add(float64(n))
			}
			r.summary.Conformed = append(r.summary.Conformed, summary)
			rowsReadCounter.WithLabelValues(ds.Name).Add(float64(result.RowsRead))
			rowsConformedCounter.WithLabelValues(ds.Name).Add(float64(len(result.Table.Rows)))
			return stageCounts{
				read:    int64(result.RowsRead),
				written: int64(len(result.Table.Rows)),
				dropped: int64(len(result.Dropped)),
			}, nil
		})
		if err != nil {
			return errors.Wrapf(err, "conforming %s", ds.Name)
		}
	}
	return nil
}

func (r *run) aggregate(ctx context.Context) error {
	err := r.stage(StageAggregate, string(lakehouse.Gold), func() (stageCounts, error) {
		summary, err := r.p.aggregator.Run(ctx, r.p.cfg.Aggregate.Vehicles, r.p.cfg.Aggregate.Locations)
		if err != nil {
			return stageCounts{}, err
		}
		r.summary.Aggregate = summary
		for _, t := range summary.Tables {
			aggregateGroupsGauge.WithLabelValues(t.Name).Set(float64(t.Rows))
		}
		return stageCounts{read: int64(summary.Facts), written: int64(summary.Facts)}, nil
	})
	return errors.Wrap(err, "aggregating")
}

func (r *run) register(ctx context.Context) error {
	if r.p.registrar == nil {
		return fmt.Errorf("no catalog is configured")
	}
	err := r.stage(StageRegister, "catalog", func() (stageCounts, error) {
		vehicles, _ := r.p.cfg.Dataset(r.p.cfg.Aggregate.Vehicles)
		tables := catalog.LakeTables(r.p.cfg.Datasets, vehicles.Fields)
		for i := range tables {
			n, err := r.p.writtenRows(ctx, tables[i].Tier, tables[i].Name)
			if err != nil {
				return stageCounts{}, err
			}
			tables[i].Rows = n
		}
		regs, err := r.p.registrar.Register(ctx, tables)
		if err != nil {
			return stageCounts{}, err
		}
		r.summary.Registrations = regs
		return stageCounts{written: int64(len(regs))}, nil
	})
	return errors.Wrap(err, "registering tables")
}

// writtenRows reads the row count of a table from its parquet footer.
func (p *Pipeline) writtenRows(ctx context.Context, tier lakehouse.Tier, name string) (int64, error) {
	data, err := p.store.Get(ctx, lakehouse.TableKey(tier, name))
	if errors.Is(err, storage.ErrNotFound) {
		return 0, errors.Wrapf(lakehouse.ErrMissingInput, "%s table %s has not been written", tier, name)
	}
	if err != nil {
		return 0, errors.Wrapf(err, "reading %s table %s", tier, name)
	}
	n, err := tableformat.RowCount(data)
	if err != nil {
		return 0, errors.Wrapf(err, "counting rows of %s table %s", tier, name)
	}
	return n, nil
}
