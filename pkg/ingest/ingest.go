// Package ingest copies raw source files into the Bronze landing area.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/kube-reporting/theft-lakehouse/pkg/lakehouse"
	"github.com/kube-reporting/theft-lakehouse/pkg/schema"
	"github.com/kube-reporting/theft-lakehouse/pkg/storage"
)

// Ingester lands the source files of a dataset unchanged in the store.
type Ingester struct {
	logger log.FieldLogger
	store  storage.Store

	now   func() time.Time
	newID func() string
}

func NewIngester(logger log.FieldLogger, store storage.Store) *Ingester {
	return &Ingester{
		logger: logger.WithField("component", "ingest"),
		store:  store,
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
	}
}

type sourceFile struct {
	name string
	data []byte
}

// Ingest copies the dataset's source file, or every file below its source
// directory, to bronze/<dataset>/ keeping relative names. The previous
// manifest is removed first and the new one written last, so readers never
// observe a partially landed batch as complete. Landed files of the previous
// batch that are not part of this one are deleted.
func (i *Ingester) Ingest(ctx context.Context, ds schema.Dataset) (*Manifest, error) {
	logger := i.logger.WithField("dataset", ds.Name)

	files, err := readSource(ds.Source)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	manifest := &Manifest{
		BatchID: i.newID(),
		Dataset: ds.Name,
		Source:  ds.Source,
	}
	logger = logger.WithField("batchID", manifest.BatchID)
	logger.Infof("landing %d files from %s", len(files), ds.Source)

	manifestKey := lakehouse.ManifestKey(ds.Name)
	if err := i.store.Delete(ctx, manifestKey); err != nil {
		return nil, errors.Wrapf(err, "removing previous manifest of dataset %s", ds.Name)
	}

	landed := make(map[string]struct{}, len(files))
	for _, f := range files {
		key := lakehouse.LandingKey(ds.Name, f.name)
		sum := sha256.Sum256(f.data)
		if err := i.store.Put(ctx, key, f.data); err != nil {
			return nil, errors.Wrapf(err, "landing %s", f.name)
		}
		landed[key] = struct{}{}
		manifest.Files = append(manifest.Files, File{
			Key:    key,
			Name:   f.name,
			Size:   int64(len(f.data)),
			SHA256: hex.EncodeToString(sum[:]),
		})
		logger.Debugf("landed %s (%d bytes)", key, len(f.data))
	}

	existing, err := i.store.List(ctx, lakehouse.LandingPrefix(ds.Name))
	if err != nil {
		return nil, err
	}
	for _, obj := range existing {
		if _, ok := landed[obj.Key]; ok || obj.Key == manifestKey {
			continue
		}
		logger.Debugf("removing stale landed file %s", obj.Key)
		if err := i.store.Delete(ctx, obj.Key); err != nil {
			return nil, errors.Wrapf(err, "removing stale landed file %s", obj.Key)
		}
	}

	manifest.LandedAt = Time{i.now().UTC()}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := i.store.Put(ctx, manifestKey, data); err != nil {
		return nil, errors.Wrapf(err, "writing manifest of dataset %s", ds.Name)
	}
	logger.Infof("landed %d files", len(manifest.Files))
	return manifest, nil
}

// readSource reads a single file, or every regular non-hidden file below a
// directory sorted by relative path.
func readSource(source string) ([]sourceFile, error) {
	info, err := os.Stat(source)
	if os.IsNotExist(err) {
		return nil, errors.Wrapf(lakehouse.ErrMissingInput, "source %s does not exist", source)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "accessing source %s", source)
	}

	if !info.IsDir() {
		data, err := ioutil.ReadFile(source)
		if err != nil {
			return nil, errors.Wrapf(err, "reading source %s", source)
		}
		return []sourceFile{{name: filepath.Base(source), data: data}}, nil
	}

	var files []sourceFile
	err = filepath.Walk(source, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if strings.HasPrefix(fi.Name(), ".") && p != source {
			if fi.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !fi.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(source, p)
		if err != nil {
			return err
		}
		data, err := ioutil.ReadFile(p)
		if err != nil {
			return err
		}
		files = append(files, sourceFile{name: filepath.ToSlash(rel), data: data})
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "reading source directory %s", source)
	}
	if len(files) == 0 {
		return nil, errors.Wrapf(lakehouse.ErrMissingInput, "source directory %s contains no files", source)
	}
	sort.Slice(files, func(a, b int) bool { return files[a].name < files[b].name })
	return files, nil
}
