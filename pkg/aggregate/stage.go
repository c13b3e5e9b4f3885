package aggregate

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/kube-reporting/theft-lakehouse/pkg/lakehouse"
	"github.com/kube-reporting/theft-lakehouse/pkg/schema"
	"github.com/kube-reporting/theft-lakehouse/pkg/storage"
	"github.com/kube-reporting/theft-lakehouse/pkg/tableformat"
)

// TableSummary describes one written Gold table.
type TableSummary struct {
	Name  string `json:"name"`
	Rows  int    `json:"rows"`
	Total int64  `json:"total"`
}

// Summary is the outcome of an aggregation run.
type Summary struct {
	Facts  int            `json:"facts"`
	Tables []TableSummary `json:"tables"`
}

// Stage joins the Silver vehicle and location tables and overwrites the Gold
// fact and aggregate tables.
type Stage struct {
	logger log.FieldLogger
	store  storage.Store
}

func NewStage(logger log.FieldLogger, store storage.Store) *Stage {
	return &Stage{
		logger: logger.WithField("component", "aggregate"),
		store:  store,
	}
}

type encodedTable struct {
	summary TableSummary
	data    []byte
}

// Run computes every Gold table before writing any of them. The aggregates
// are computed and written concurrently from the same joined rows. If any
// write fails the tables already written are restored to their previous
// version.
func (s *Stage) Run(ctx context.Context, vehiclesTable, locationsTable string) (*Summary, error) {
	vehicles, err := s.readSilver(ctx, vehiclesTable)
	if err != nil {
		return nil, err
	}
	locations, err := s.readSilver(ctx, locationsTable)
	if err != nil {
		return nil, err
	}

	// the fact schema follows the conformed vehicles table as written
	facts := schema.Table{
		Name:   FactsTable,
		Fields: FactFields(vehicles.Fields),
		Rows:   Join(vehicles.Rows, locations.Rows),
	}
	s.logger.Infof("joined %d vehicles with %d locations", len(vehicles.Rows), len(locations.Rows))

	aggregations := Aggregations()
	encoded := make([]encodedTable, len(aggregations)+1)

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		data, err := tableformat.Encode(facts)
		if err != nil {
			return err
		}
		encoded[0] = encodedTable{
			summary: TableSummary{Name: FactsTable, Rows: len(facts.Rows), Total: int64(len(facts.Rows))},
			data:    data,
		}
		return nil
	})
	for i, agg := range aggregations {
		i, agg := i, agg
		g.Go(func() error {
			table := agg.Compute(facts.Rows)
			total := Total(table)
			if total != int64(len(facts.Rows)) {
				return fmt.Errorf("aggregate %s counts %d thefts, expected %d", agg.Table, total, len(facts.Rows))
			}
			data, err := tableformat.Encode(table)
			if err != nil {
				return err
			}
			encoded[i+1] = encodedTable{
				summary: TableSummary{Name: agg.Table, Rows: len(table.Rows), Total: total},
				data:    data,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	previous, err := s.snapshot(ctx, encoded)
	if err != nil {
		return nil, err
	}
	written := make([]bool, len(encoded))
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range encoded {
		i, t := i, t
		g.Go(func() error {
			key := lakehouse.TableKey(lakehouse.Gold, t.summary.Name)
			if err := s.store.Put(gctx, key, t.data); err != nil {
				return errors.Wrapf(err, "writing gold table %s", t.summary.Name)
			}
			written[i] = true
			s.logger.WithField("table", t.summary.Name).Infof("wrote %s: %d rows", key, t.summary.Rows)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.restore(context.WithoutCancel(ctx), encoded, previous, written)
		return nil, err
	}

	summary := &Summary{Facts: len(facts.Rows)}
	for _, t := range encoded {
		summary.Tables = append(summary.Tables, t.summary)
	}
	return summary, nil
}

// snapshot reads the Gold objects the run is about to replace. Tables that do
// not exist yet have a nil entry.
func (s *Stage) snapshot(ctx context.Context, tables []encodedTable) ([][]byte, error) {
	previous := make([][]byte, len(tables))
	for i, t := range tables {
		key := lakehouse.TableKey(lakehouse.Gold, t.summary.Name)
		data, err := s.store.Get(ctx, key)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "reading gold table %s before overwriting it", t.summary.Name)
		}
		previous[i] = data
	}
	return previous, nil
}

// restore puts back the previous version of every table that was written,
// and removes tables that did not exist before the run.
func (s *Stage) restore(ctx context.Context, tables []encodedTable, previous [][]byte, written []bool) {
	for i, t := range tables {
		if !written[i] {
			continue
		}
		key := lakehouse.TableKey(lakehouse.Gold, t.summary.Name)
		logger := s.logger.WithField("table", t.summary.Name)
		var err error
		if previous[i] == nil {
			err = s.store.Delete(ctx, key)
		} else {
			err = s.store.Put(ctx, key, previous[i])
		}
		if err != nil {
			logger.WithError(err).Errorf("unable to restore %s after a failed write, it holds the output of the failed run", key)
			continue
		}
		logger.Warnf("restored %s after a failed write", key)
	}
}

func (s *Stage) readSilver(ctx context.Context, table string) (schema.Table, error) {
	key := lakehouse.TableKey(lakehouse.Silver, table)
	data, err := s.store.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return schema.Table{}, errors.Wrapf(lakehouse.ErrMissingInput, "conformed table %s has not been written", table)
	}
	if err != nil {
		return schema.Table{}, err
	}
	return tableformat.Decode(ctx, table, data)
}
