package aggregate

import (
	"context"
	"io/ioutil"
	"os"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kube-reporting/theft-lakehouse/pkg/lakehouse"
	"github.com/kube-reporting/theft-lakehouse/pkg/schema"
	"github.com/kube-reporting/theft-lakehouse/pkg/storage"
	"github.com/kube-reporting/theft-lakehouse/pkg/tableformat"
)

func newTestStage(t *testing.T) (*Stage, storage.Store) {
	t.Helper()
	root, err := ioutil.TempDir("", "theft-lakehouse-aggregate-test")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(root) })

	store, err := storage.NewFileStore(root)
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetOutput(ioutil.Discard)
	return NewStage(logger, store), store
}

func writeSilver(t *testing.T, store storage.Store, name string, fields []schema.Field, rows []schema.Row) {
	t.Helper()
	data, err := tableformat.Encode(schema.Table{Name: name, Fields: fields, Rows: rows})
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), lakehouse.TableKey(lakehouse.Silver, name), data))
}

func readGold(t *testing.T, store storage.Store, name string) schema.Table {
	t.Helper()
	data, err := store.Get(context.Background(), lakehouse.TableKey(lakehouse.Gold, name))
	require.NoError(t, err)
	table, err := tableformat.Decode(context.Background(), name, data)
	require.NoError(t, err)
	return table
}

func TestStageRun(t *testing.T) {
	stage, store := newTestStage(t)
	ctx := context.Background()

	writeSilver(t, store, schema.VehiclesDataset, schema.VehiclesSchema, []schema.Row{
		vehicle(1, "Trailer", date(2021, 11, 5), 102),
		vehicle(2, "Roadbike", date(2021, 12, 22), 104),
		vehicle(3, "Trailer", date(2022, 1, 14), 102),
	})
	writeSilver(t, store, schema.LocationsDataset, schema.LocationsSchema, []schema.Row{
		location(102, "Auckland", "Auckland"),
	})

	summary, err := stage.Run(ctx, schema.VehiclesDataset, schema.LocationsDataset)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Facts)
	require.Len(t, summary.Tables, 4)

	byYear := readGold(t, store, ByYearTable)
	assert.Equal(t, []schema.Row{
		{YearColumn: int64(2021), TheftCountColumn: int64(2)},
		{YearColumn: int64(2022), TheftCountColumn: int64(1)},
	}, byYear.Rows)

	facts := readGold(t, store, FactsTable)
	assert.Len(t, facts.Rows, 3)
	for _, name := range []string{ByYearTable, ByVehicleTable, ByLocationTable} {
		assert.Equal(t, int64(len(facts.Rows)), Total(readGold(t, store, name)), "sum of %s", name)
	}
}

func TestStageRerunReflectsLatestConformedData(t *testing.T) {
	stage, store := newTestStage(t)
	ctx := context.Background()

	writeSilver(t, store, schema.LocationsDataset, schema.LocationsSchema, nil)
	writeSilver(t, store, schema.VehiclesDataset, schema.VehiclesSchema, []schema.Row{
		vehicle(1, "Trailer", date(2019, 1, 1), -1),
		vehicle(2, "Trailer", date(2020, 1, 1), -1),
	})
	_, err := stage.Run(ctx, schema.VehiclesDataset, schema.LocationsDataset)
	require.NoError(t, err)

	// conformance overwrote the vehicles table
	writeSilver(t, store, schema.VehiclesDataset, schema.VehiclesSchema, []schema.Row{
		vehicle(7, "Moped", date(2022, 6, 1), -1),
	})
	_, err = stage.Run(ctx, schema.VehiclesDataset, schema.LocationsDataset)
	require.NoError(t, err)

	assert.Equal(t, []schema.Row{
		{YearColumn: int64(2022), TheftCountColumn: int64(1)},
	}, readGold(t, store, ByYearTable).Rows)
	assert.Equal(t, []schema.Row{
		{schema.VehicleTypeField: "Moped", TheftCountColumn: int64(1)},
	}, readGold(t, store, ByVehicleTable).Rows)
	assert.Len(t, readGold(t, store, FactsTable).Rows, 1)
}

func TestStageRunIsByteIdentical(t *testing.T) {
	stage, store := newTestStage(t)
	ctx := context.Background()

	writeSilver(t, store, schema.LocationsDataset, schema.LocationsSchema, []schema.Row{location(1, "Nelson", "Nelson")})
	writeSilver(t, store, schema.VehiclesDataset, schema.VehiclesSchema, []schema.Row{
		vehicle(1, "Trailer", date(2021, 1, 1), 1),
		vehicle(2, "Roadbike", date(2022, 1, 1), 1),
		vehicle(3, "Moped", date(2022, 2, 1), 1),
	})

	_, err := stage.Run(ctx, schema.VehiclesDataset, schema.LocationsDataset)
	require.NoError(t, err)
	first, err := store.Get(ctx, lakehouse.TableKey(lakehouse.Gold, ByVehicleTable))
	require.NoError(t, err)

	_, err = stage.Run(ctx, schema.VehiclesDataset, schema.LocationsDataset)
	require.NoError(t, err)
	second, err := store.Get(ctx, lakehouse.TableKey(lakehouse.Gold, ByVehicleTable))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestStageRunMissingInput(t *testing.T) {
	stage, store := newTestStage(t)
	ctx := context.Background()

	_, err := stage.Run(ctx, schema.VehiclesDataset, schema.LocationsDataset)
	require.Error(t, err)
	assert.True(t, errors.Is(err, lakehouse.ErrMissingInput))

	objects, err := store.List(ctx, "gold/")
	require.NoError(t, err)
	assert.Empty(t, objects)
}

func TestStageRunFactsFollowConformedVehicles(t *testing.T) {
	stage, store := newTestStage(t)
	ctx := context.Background()

	fields := append(schema.CopyFields(schema.VehiclesSchema), schema.Field{Name: "odometer", Type: schema.Numeric})
	v := vehicle(1, "Trailer", date(2021, 11, 5), 102)
	v["odometer"] = int64(120000)
	writeSilver(t, store, schema.VehiclesDataset, fields, []schema.Row{v})
	writeSilver(t, store, schema.LocationsDataset, schema.LocationsSchema, []schema.Row{location(102, "Auckland", "Auckland")})

	_, err := stage.Run(ctx, schema.VehiclesDataset, schema.LocationsDataset)
	require.NoError(t, err)

	facts := readGold(t, store, FactsTable)
	assert.Equal(t, FactFields(fields), facts.Fields)
	require.Len(t, facts.Rows, 1)
	assert.Equal(t, int64(120000), facts.Rows[0]["odometer"])
	assert.Equal(t, "Auckland", facts.Rows[0][schema.CityField])
}

type failingPutStore struct {
	storage.Store
	failKey string
}

func (s *failingPutStore) Put(ctx context.Context, key string, data []byte) error {
	if key == s.failKey {
		return errors.New("disk full")
	}
	return s.Store.Put(ctx, key, data)
}

func TestStageRunRestoresGoldOnFailedWrite(t *testing.T) {
	tests := map[string]struct {
		previousRun bool
	}{
		"previous tables are restored": {previousRun: true},
		"new tables are removed":       {previousRun: false},
	}

	for name, tc := range tests {
		tc := tc
		t.Run(name, func(t *testing.T) {
			stage, store := newTestStage(t)
			ctx := context.Background()

			writeSilver(t, store, schema.LocationsDataset, schema.LocationsSchema, []schema.Row{location(1, "Nelson", "Nelson")})
			writeSilver(t, store, schema.VehiclesDataset, schema.VehiclesSchema, []schema.Row{
				vehicle(1, "Trailer", date(2021, 1, 1), 1),
			})

			before := map[string][]byte{}
			if tc.previousRun {
				_, err := stage.Run(ctx, schema.VehiclesDataset, schema.LocationsDataset)
				require.NoError(t, err)
				for _, table := range []string{FactsTable, ByYearTable, ByVehicleTable, ByLocationTable} {
					data, err := store.Get(ctx, lakehouse.TableKey(lakehouse.Gold, table))
					require.NoError(t, err)
					before[table] = data
				}
			}

			writeSilver(t, store, schema.VehiclesDataset, schema.VehiclesSchema, []schema.Row{
				vehicle(1, "Trailer", date(2021, 1, 1), 1),
				vehicle(2, "Moped", date(2022, 3, 1), 1),
			})
			failing := &failingPutStore{
				Store:   store,
				failKey: lakehouse.TableKey(lakehouse.Gold, ByLocationTable),
			}
			_, err := NewStage(stage.logger, failing).Run(ctx, schema.VehiclesDataset, schema.LocationsDataset)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "disk full")

			objects, err := store.List(ctx, "gold/")
			require.NoError(t, err)
			assert.Len(t, objects, len(before))
			for table, data := range before {
				got, err := store.Get(ctx, lakehouse.TableKey(lakehouse.Gold, table))
				require.NoError(t, err)
				assert.Equal(t, data, got, table)
			}
		})
	}
}
