package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/kube-reporting/theft-lakehouse/pkg/lakehouse"
	"github.com/kube-reporting/theft-lakehouse/pkg/storage"
)

// Manifest is written next to the landed files of a dataset once every file
// of a batch has been copied. Its presence marks the landing as complete.
type Manifest struct {
	BatchID  string `json:"batchId"`
	Dataset  string `json:"dataset"`
	Source   string `json:"source"`
	LandedAt Time   `json:"landedAt"`
	Files    []File `json:"files"`
}

// File is one landed object.
type File struct {
	Key    string `json:"key"`
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

// Verify checks that every file listed in the manifest is present in the
// store with the recorded size.
func (m Manifest) Verify(ctx context.Context, store storage.Store) error {
	objects, err := store.List(ctx, lakehouse.LandingPrefix(m.Dataset))
	if err != nil {
		return err
	}
	sizes := make(map[string]int64, len(objects))
	for _, obj := range objects {
		sizes[obj.Key] = obj.Size
	}
	for _, f := range m.Files {
		size, ok := sizes[f.Key]
		if !ok {
			return errors.Wrapf(lakehouse.ErrMissingInput, "dataset %s: landed file %s is missing", m.Dataset, f.Key)
		}
		if size != f.Size {
			return errors.Wrapf(lakehouse.ErrMissingInput,
				"dataset %s: landed file %s has size %d, manifest records %d", m.Dataset, f.Key, size, f.Size)
		}
	}
	return nil
}

// LoadManifest reads the manifest of a dataset's landing area. A missing
// manifest means the last ingestion never completed.
func LoadManifest(ctx context.Context, store storage.Store, dataset string) (*Manifest, error) {
	data, err := store.Get(ctx, lakehouse.ManifestKey(dataset))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, errors.Wrapf(lakehouse.ErrMissingInput, "dataset %s has no landing manifest", dataset)
	}
	if err != nil {
		return nil, err
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, errors.Wrapf(lakehouse.ErrMissingInput, "dataset %s: unreadable landing manifest: %v", dataset, err)
	}
	if len(manifest.Files) == 0 {
		return nil, errors.Wrapf(lakehouse.ErrMissingInput, "dataset %s: landing manifest lists no files", dataset)
	}
	return &manifest, nil
}

// Time is a UTC timestamp serialized in the compact manifest layout.
type Time struct {
	time.Time
}

const manifestTime = "20060102T150405.000Z"

func (t Time) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.UTC().Format(manifestTime))
}

func (t *Time) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	tt, err := time.Parse(manifestTime, s)
	if err == nil {
		*t = Time{tt}
	}
	return err
}

func (t Time) String() string {
	return t.UTC().Format(manifestTime)
}
