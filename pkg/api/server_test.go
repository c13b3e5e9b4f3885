package api

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kube-reporting/theft-lakehouse/pkg/aggregate"
	"github.com/kube-reporting/theft-lakehouse/pkg/lakehouse"
	"github.com/kube-reporting/theft-lakehouse/pkg/ledger"
	"github.com/kube-reporting/theft-lakehouse/pkg/schema"
	"github.com/kube-reporting/theft-lakehouse/pkg/storage"
	"github.com/kube-reporting/theft-lakehouse/pkg/tableformat"
)

type staticReadiness bool

func (s staticReadiness) TestReadFromPrestoSingleFlight(context.Context) bool { return bool(s) }

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)

	byYear := aggregate.Aggregations()[0].Compute([]schema.Row{
		{schema.DateStolenField: time.Date(2021, 11, 5, 0, 0, 0, 0, time.UTC)},
		{schema.DateStolenField: time.Date(2021, 12, 13, 0, 0, 0, 0, time.UTC)},
		{schema.DateStolenField: time.Date(2022, 2, 13, 0, 0, 0, 0, time.UTC)},
	})
	locations := schema.Table{
		Name:   schema.LocationsDataset,
		Fields: schema.LocationsSchema,
		Rows: []schema.Row{
			{schema.LocationIDField: int64(102), schema.CityField: "Auckland", schema.StateField: "New Zealand", schema.PostalCodeField: schema.MissingString},
		},
	}
	for key, table := range map[string]schema.Table{
		lakehouse.TableKey(lakehouse.Gold, byYear.Name):      byYear,
		lakehouse.TableKey(lakehouse.Silver, locations.Name): locations,
	} {
		data, err := tableformat.Encode(table)
		require.NoError(t, err)
		require.NoError(t, store.Put(context.Background(), key, data))
	}
	require.NoError(t, store.Put(context.Background(), lakehouse.LandingKey("locations", "locations.csv"), []byte("location_id\n")))
	return store
}

func newTestRouter(t *testing.T, l *ledger.Ledger, ready ReadinessChecker) (http.Handler, storage.Store) {
	store := newTestStore(t)
	return NewRouter(logrus.New(), rand.New(rand.NewSource(1)), store, l, ready), store
}

func doGet(h http.Handler, url string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, url, nil))
	return w
}

func TestListTables(t *testing.T) {
	router, store := newTestRouter(t, nil, nil)
	w := doGet(router, APIV1TablesEndpoint)
	require.Equal(t, http.StatusOK, w.Code)

	var tables []TableInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tables))
	require.Len(t, tables, 2)
	assert.Equal(t, "silver", tables[0].Tier)
	assert.Equal(t, "locations", tables[0].Name)
	assert.Equal(t, "gold", tables[1].Tier)
	assert.Equal(t, "thefts_by_year", tables[1].Name)
	assert.Equal(t, store.Location("gold/thefts_by_year/"), tables[1].Location)
	assert.NotZero(t, tables[1].Size)
}

func TestGetTable(t *testing.T) {
	router, _ := newTestRouter(t, nil, nil)
	tests := map[string]struct {
		url          string
		expectedCode int
		expectedBody string
		contentType  string
	}{
		"csv": {
			url:          APIV1TablesEndpoint + "/gold/thefts_by_year?format=csv",
			expectedCode: http.StatusOK,
			expectedBody: "year,theft_count\n2021,2\n2022,1\n",
			contentType:  "text/csv",
		},
		"tabular": {
			url:          APIV1TablesEndpoint + "/gold/thefts_by_year?format=tab&padding=1",
			expectedCode: http.StatusOK,
			expectedBody: "year\ttheft_count\n2021\t2\n2022\t1\n",
			contentType:  "text/tab-separated-values",
		},
		"json": {
			url:          APIV1TablesEndpoint + "/silver/locations",
			expectedCode: http.StatusOK,
			expectedBody: `{"tier":"silver","name":"locations","columns":[{"name":"location_id","type":"numeric"},{"name":"city","type":"string"},{"name":"state","type":"string"},{"name":"postal_code","type":"string"}],"rows":[{"city":"Auckland","location_id":102,"postal_code":"Unknown","state":"New Zealand"}]}`,
			contentType:  "application/json",
		},
		"missing table": {
			url:          APIV1TablesEndpoint + "/gold/thefts_by_color",
			expectedCode: http.StatusNotFound,
			expectedBody: `{"error":"table gold/thefts_by_color does not exist"}`,
		},
		"bronze": {
			url:          APIV1TablesEndpoint + "/bronze/locations",
			expectedCode: http.StatusBadRequest,
		},
		"invalid tier": {
			url:          APIV1TablesEndpoint + "/platinum/locations",
			expectedCode: http.StatusBadRequest,
			expectedBody: `{"error":"invalid tier \"platinum\", must be one of: bronze, silver, gold"}`,
		},
		"invalid format": {
			url:          APIV1TablesEndpoint + "/gold/thefts_by_year?format=xml",
			expectedCode: http.StatusBadRequest,
			expectedBody: `{"error":"format must be one of: csv, json or tabular"}`,
		},
	}
	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			w := doGet(router, tt.url)
			assert.Equal(t, tt.expectedCode, w.Code)
			if tt.expectedBody != "" {
				assert.Equal(t, tt.expectedBody, w.Body.String())
			}
			if tt.contentType != "" {
				assert.Equal(t, tt.contentType, w.Header().Get("Content-Type"))
			}
		})
	}
}

func TestRuns(t *testing.T) {
	ctx := context.Background()
	router, _ := newTestRouter(t, nil, nil)
	w := doGet(router, APIV1RunsEndpoint)
	assert.Equal(t, http.StatusNotFound, w.Code)

	l, err := ledger.Open(ctx, logrus.New(), filepath.Join(t.TempDir(), "ledger.db"), false)
	require.NoError(t, err)
	defer l.Close()
	start := time.Date(2022, 4, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, l.StartRun(ctx, "run-1", "run", start))
	require.NoError(t, l.FinishRun(ctx, "run-1", start.Add(time.Minute), nil))

	router, _ = newTestRouter(t, l, nil)
	w = doGet(router, APIV1RunsEndpoint+"?limit=10")
	require.Equal(t, http.StatusOK, w.Code)
	var runs []ledger.Run
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, ledger.StatusSucceeded, runs[0].Status)

	w = doGet(router, APIV1RunsEndpoint+"/run-1")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, w.Header().Get(requestIDHeader), requestIDLength)
	w = doGet(router, APIV1RunsEndpoint+"/run-2")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = doGet(router, APIV1RunsEndpoint+"?limit=-1")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthAndReadiness(t *testing.T) {
	tests := map[string]struct {
		ready        ReadinessChecker
		expectedCode int
	}{
		"no query engine":    {expectedCode: http.StatusOK},
		"presto reachable":   {ready: staticReadiness(true), expectedCode: http.StatusOK},
		"presto unreachable": {ready: staticReadiness(false), expectedCode: http.StatusServiceUnavailable},
	}
	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			router, _ := newTestRouter(t, nil, tt.ready)
			assert.Equal(t, http.StatusOK, doGet(router, "/healthy").Code)
			assert.Equal(t, tt.expectedCode, doGet(router, "/ready").Code)
		})
	}
}

func TestMetrics(t *testing.T) {
	router, _ := newTestRouter(t, nil, nil)
	doGet(router, "/healthy")
	w := doGet(router, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `theft_lakehouse_http_requests_total{code="200",handler="healthy"}`)
}
