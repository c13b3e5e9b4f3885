package ingest

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kube-reporting/theft-lakehouse/pkg/lakehouse"
	"github.com/kube-reporting/theft-lakehouse/pkg/schema"
	"github.com/kube-reporting/theft-lakehouse/pkg/storage"
)

func newTestIngester(t *testing.T) (*Ingester, storage.Store, string) {
	t.Helper()
	root, err := ioutil.TempDir("", "theft-lakehouse-ingest-test")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(root) })

	store, err := storage.NewFileStore(filepath.Join(root, "lake"))
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetOutput(ioutil.Discard)
	ing := NewIngester(logger, store)
	ing.now = func() time.Time { return time.Date(2022, 4, 6, 12, 30, 0, 0, time.UTC) }
	ing.newID = func() string { return "batch-1" }
	return ing, store, root
}

func writeSourceFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, ioutil.WriteFile(path, []byte(contents), 0644))
}

func TestIngestSingleFile(t *testing.T) {
	ing, store, root := newTestIngester(t)
	ctx := context.Background()

	contents := "location_id,region\n1,Auckland\n"
	src := filepath.Join(root, "src", "locations.csv")
	writeSourceFile(t, src, contents)

	ds := schema.Dataset{Name: "locations", Source: src}
	manifest, err := ing.Ingest(ctx, ds)
	require.NoError(t, err)

	assert.Equal(t, "batch-1", manifest.BatchID)
	require.Len(t, manifest.Files, 1)
	assert.Equal(t, "bronze/locations/locations.csv", manifest.Files[0].Key)
	assert.Equal(t, int64(len(contents)), manifest.Files[0].Size)
	assert.Len(t, manifest.Files[0].SHA256, 64)

	data, err := store.Get(ctx, "bronze/locations/locations.csv")
	require.NoError(t, err)
	assert.Equal(t, contents, string(data))

	loaded, err := LoadManifest(ctx, store, "locations")
	require.NoError(t, err)
	assert.Equal(t, manifest.Files, loaded.Files)
	assert.True(t, manifest.LandedAt.Equal(loaded.LandedAt.Time))
	assert.NoError(t, loaded.Verify(ctx, store))
}

func TestIngestDirectoryPreservesStructureAndRemovesStale(t *testing.T) {
	ing, store, root := newTestIngester(t)
	ctx := context.Background()

	srcDir := filepath.Join(root, "src", "vehicles")
	writeSourceFile(t, filepath.Join(srcDir, "2021", "part-1.csv"), "vehicle_id\n1\n")
	writeSourceFile(t, filepath.Join(srcDir, "2022", "part-1.csv"), "vehicle_id\n2\n")
	writeSourceFile(t, filepath.Join(srcDir, ".hidden"), "ignored")

	ds := schema.Dataset{Name: "stolen_vehicles", Source: srcDir}
	manifest, err := ing.Ingest(ctx, ds)
	require.NoError(t, err)
	var landed []string
	for _, f := range manifest.Files {
		landed = append(landed, f.Key)
	}
	assert.Equal(t, []string{
		"bronze/stolen_vehicles/2021/part-1.csv",
		"bronze/stolen_vehicles/2022/part-1.csv",
	}, landed)

	// the next batch no longer contains 2021
	require.NoError(t, os.RemoveAll(filepath.Join(srcDir, "2021")))
	_, err = ing.Ingest(ctx, ds)
	require.NoError(t, err)

	objects, err := store.List(ctx, lakehouse.LandingPrefix("stolen_vehicles"))
	require.NoError(t, err)
	var keys []string
	for _, obj := range objects {
		keys = append(keys, obj.Key)
	}
	assert.Equal(t, []string{
		"bronze/stolen_vehicles/2022/part-1.csv",
		"bronze/stolen_vehicles/_MANIFEST.json",
	}, keys)
}

func TestIngestMissingSource(t *testing.T) {
	ing, store, root := newTestIngester(t)
	ctx := context.Background()

	_, err := ing.Ingest(ctx, schema.Dataset{Name: "locations", Source: filepath.Join(root, "nope.csv")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, lakehouse.ErrMissingInput))

	empty := filepath.Join(root, "empty")
	require.NoError(t, os.MkdirAll(empty, 0755))
	_, err = ing.Ingest(ctx, schema.Dataset{Name: "locations", Source: empty})
	assert.True(t, errors.Is(err, lakehouse.ErrMissingInput))

	_, err = LoadManifest(ctx, store, "locations")
	assert.True(t, errors.Is(err, lakehouse.ErrMissingInput))
}

func TestManifestVerify(t *testing.T) {
	ing, store, root := newTestIngester(t)
	ctx := context.Background()

	src := filepath.Join(root, "src", "locations.csv")
	writeSourceFile(t, src, "location_id\n1\n")
	manifest, err := ing.Ingest(ctx, schema.Dataset{Name: "locations", Source: src})
	require.NoError(t, err)

	tests := map[string]struct {
		mutate func()
	}{
		"truncated file": {
			mutate: func() {
				require.NoError(t, store.Put(ctx, "bronze/locations/locations.csv", []byte("loc")))
			},
		},
		"missing file": {
			mutate: func() {
				require.NoError(t, store.Delete(ctx, "bronze/locations/locations.csv"))
			},
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			tt.mutate()
			err := manifest.Verify(ctx, store)
			require.Error(t, err)
			assert.True(t, errors.Is(err, lakehouse.ErrMissingInput))
		})
	}
}

func TestLoadManifestRejectsInvalid(t *testing.T) {
	_, store, _ := newTestIngester(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, lakehouse.ManifestKey("locations"), []byte("{not json")))
	_, err := LoadManifest(ctx, store, "locations")
	assert.True(t, errors.Is(err, lakehouse.ErrMissingInput))

	empty, err := json.Marshal(Manifest{Dataset: "locations"})
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, lakehouse.ManifestKey("locations"), empty))
	_, err = LoadManifest(ctx, store, "locations")
	assert.True(t, errors.Is(err, lakehouse.ErrMissingInput))
}

func TestManifestTimeJSON(t *testing.T) {
	in := Time{time.Date(2017, 7, 1, 3, 4, 5, 0, time.UTC)}
	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Equal(t, `"20170701T030405.000Z"`, string(data))

	var out Time
	require.NoError(t, json.Unmarshal(data, &out))
	assert.True(t, in.Equal(out.Time))
	assert.Error(t, json.Unmarshal([]byte(`"yesterday"`), &out))
}
