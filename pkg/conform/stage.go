package conform

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/kube-reporting/theft-lakehouse/pkg/ingest"
	"github.com/kube-reporting/theft-lakehouse/pkg/lakehouse"
	"github.com/kube-reporting/theft-lakehouse/pkg/schema"
	"github.com/kube-reporting/theft-lakehouse/pkg/storage"
	"github.com/kube-reporting/theft-lakehouse/pkg/tableformat"
)

// Stage reads a dataset's landed files, conforms them and overwrites the
// dataset's Silver table.
type Stage struct {
	logger log.FieldLogger
	store  storage.Store
}

func NewStage(logger log.FieldLogger, store storage.Store) *Stage {
	return &Stage{
		logger: logger.WithField("component", "conform"),
		store:  store,
	}
}

// Run conforms every data file listed in the dataset's landing manifest. The
// Silver table is only written once all files have been read and conformed.
func (s *Stage) Run(ctx context.Context, ds schema.Dataset) (*Result, error) {
	logger := s.logger.WithField("dataset", ds.Name)

	manifest, err := ingest.LoadManifest(ctx, s.store, ds.Name)
	if err != nil {
		return nil, err
	}
	if err := manifest.Verify(ctx, s.store); err != nil {
		return nil, err
	}
	logger = logger.WithField("batchID", manifest.BatchID)

	result := &Result{
		Table: schema.Table{
			Name:   ds.Name,
			Fields: ds.Fields,
		},
	}
	files := 0
	for _, f := range manifest.Files {
		if !IsDataFile(f.Name) {
			logger.Warnf("skipping landed file %s: unsupported format", f.Key)
			continue
		}
		data, err := s.store.Get(ctx, f.Key)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errors.Wrapf(lakehouse.ErrMissingInput, "dataset %s: landed file %s", ds.Name, f.Key)
		}
		if err != nil {
			return nil, err
		}
		sum := sha256.Sum256(data)
		if hex.EncodeToString(sum[:]) != f.SHA256 {
			return nil, errors.Wrapf(lakehouse.ErrMissingInput, "dataset %s: landed file %s does not match its manifest checksum", ds.Name, f.Key)
		}

		raw, err := ReadFile(f.Name, data)
		if err != nil {
			return nil, err
		}
		fileResult, err := Conform(raw, ds)
		if err != nil {
			return nil, err
		}
		logger.Debugf("conformed %s: read %d rows, dropped %d", f.Key, fileResult.RowsRead, len(fileResult.Dropped))
		result.Merge(fileResult)
		files++
	}
	if files == 0 {
		return nil, errors.Wrapf(lakehouse.ErrMissingInput, "dataset %s: landing contains no data files", ds.Name)
	}
	for _, d := range result.Dropped {
		logger.WithFields(log.Fields{
			"file":   d.File,
			"line":   d.Line,
			"field":  d.Field,
			"reason": d.Reason,
		}).Debugf("dropped row, value %q", d.Value)
	}

	data, err := tableformat.Encode(result.Table)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := lakehouse.TableKey(lakehouse.Silver, ds.Name)
	if err := s.store.Put(ctx, key, data); err != nil {
		return nil, errors.Wrapf(err, "writing conformed table %s", ds.Name)
	}
	logger.Infof("wrote %s: %d rows kept, %d dropped of %d read", key, len(result.Table.Rows), len(result.Dropped), result.RowsRead)
	return result, nil
}
