// Package api serves the lake's Silver and Gold tables and the run ledger
// over HTTP.
package api

import (
	"context"
	"math/rand"
	"net/http"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/kube-reporting/theft-lakehouse/pkg/lakehouse"
	"github.com/kube-reporting/theft-lakehouse/pkg/ledger"
	"github.com/kube-reporting/theft-lakehouse/pkg/schema"
	"github.com/kube-reporting/theft-lakehouse/pkg/storage"
	"github.com/kube-reporting/theft-lakehouse/pkg/tableformat"
)

const (
	APIV1TablesEndpoint = "/api/v1/tables"
	APIV1RunsEndpoint   = "/api/v1/runs"
)

var (
	httpRequestsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "theft_lakehouse",
			Name:      "http_requests_total",
			Help:      "HTTP requests by handler and status code.",
		},
		[]string{"handler", "code"},
	)

	httpRequestDurationHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "theft_lakehouse",
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests by handler.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"handler"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsCounter)
	prometheus.MustRegister(httpRequestDurationHistogram)
}

// ReadinessChecker reports whether the query engine answers.
type ReadinessChecker interface {
	TestReadFromPrestoSingleFlight(ctx context.Context) bool
}

type server struct {
	logger log.FieldLogger
	// rand is not safe for concurrent use
	randMu sync.Mutex
	rand   *rand.Rand

	store  storage.Store
	ledger *ledger.Ledger
	ready  ReadinessChecker
}

type requestLogger struct {
	log.FieldLogger
}

func (l *requestLogger) Print(v ...interface{}) {
	l.FieldLogger.Info(v...)
}

// NewRouter returns the HTTP API. ledger and ready may be nil, in which case
// the run endpoints report the ledger as disabled and readiness only checks
// the object store.
func NewRouter(logger log.FieldLogger, rand *rand.Rand, store storage.Store, runLedger *ledger.Ledger, ready ReadinessChecker) chi.Router {
	router := chi.NewRouter()
	logger = logger.WithField("component", "api")
	router.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: &requestLogger{logger}}))

	srv := &server{
		logger: logger,
		rand:   rand,
		store:  store,
		ledger: runLedger,
		ready:  ready,
	}

	router.Get(APIV1TablesEndpoint, instrument("tables", srv.listTablesHandler))
	router.Get(APIV1TablesEndpoint+"/{tier}/{name}", instrument("table", srv.getTableHandler))
	router.Get(APIV1RunsEndpoint, instrument("runs", srv.listRunsHandler))
	router.Get(APIV1RunsEndpoint+"/{id}", instrument("run", srv.getRunHandler))
	router.Get("/healthy", instrument("healthy", srv.healthinessHandler))
	router.Get("/ready", instrument("ready", srv.readinessHandler))
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return router
}

func instrument(handler string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		httpRequestsCounter.WithLabelValues(handler, strconv.Itoa(status)).Inc()
		httpRequestDurationHistogram.WithLabelValues(handler).Observe(time.Since(start).Seconds())
	}
}

// TableInfo describes a stored table.
type TableInfo struct {
	Tier     string `json:"tier"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Location string `json:"location"`
}

func (srv *server) listTablesHandler(w http.ResponseWriter, r *http.Request) {
	logger := srv.tagRequest(w, r)
	tables := []TableInfo{}
	for _, tier := range []lakehouse.Tier{lakehouse.Silver, lakehouse.Gold} {
		objects, err := srv.store.List(r.Context(), string(tier)+"/")
		if err != nil {
			writeErrorResponse(logger, w, http.StatusInternalServerError, "error listing %s tables: %v", tier, err)
			return
		}
		for _, obj := range objects {
			if path.Base(obj.Key) != lakehouse.TableObjectName {
				continue
			}
			name := path.Base(path.Dir(obj.Key))
			if lakehouse.TableKey(tier, name) != obj.Key {
				continue
			}
			tables = append(tables, TableInfo{
				Tier:     string(tier),
				Name:     name,
				Size:     obj.Size,
				Location: srv.store.Location(lakehouse.TablePrefix(tier, name)),
			})
		}
	}
	writeResponseAsJSON(logger, w, http.StatusOK, tables)
}

func (srv *server) getTableHandler(w http.ResponseWriter, r *http.Request) {
	logger := srv.tagRequest(w, r)
	tier, err := lakehouse.ParseTier(chi.URLParam(r, "tier"))
	if err != nil {
		writeErrorResponse(logger, w, http.StatusBadRequest, "%v", err)
		return
	}
	if tier == lakehouse.Bronze {
		writeErrorResponse(logger, w, http.StatusBadRequest, "bronze files are not tables, only silver and gold tables can be read")
		return
	}
	name := chi.URLParam(r, "name")
	if !schema.ValidTableName(name) {
		writeErrorResponse(logger, w, http.StatusBadRequest, "invalid table name %q", name)
		return
	}
	format := r.FormValue("format")
	if format == "" {
		format = FormatJSON
	}
	if !validFormat(format) {
		writeErrorResponse(logger, w, http.StatusBadRequest, "format must be one of: csv, json or tabular")
		return
	}

	data, err := srv.store.Get(r.Context(), lakehouse.TableKey(tier, name))
	if errors.Is(err, storage.ErrNotFound) {
		writeErrorResponse(logger, w, http.StatusNotFound, "table %s/%s does not exist", tier, name)
		return
	}
	if err != nil {
		writeErrorResponse(logger, w, http.StatusInternalServerError, "error reading table %s/%s: %v", tier, name, err)
		return
	}
	table, err := tableformat.Decode(r.Context(), name, data)
	if err != nil {
		writeErrorResponse(logger, w, http.StatusInternalServerError, "error decoding table %s/%s: %v", tier, name, err)
		return
	}
	writeTableResponse(logger, string(tier), format, table, w, r)
}

func (srv *server) listRunsHandler(w http.ResponseWriter, r *http.Request) {
	logger := srv.tagRequest(w, r)
	if srv.ledger == nil {
		writeErrorResponse(logger, w, http.StatusNotFound, "the run ledger is not enabled")
		return
	}
	limit := 0
	if s := r.FormValue("limit"); s != "" {
		var err error
		if limit, err = strconv.Atoi(s); err != nil || limit <= 0 {
			writeErrorResponse(logger, w, http.StatusBadRequest, "invalid limit %q, must be a positive integer", s)
			return
		}
	}
	runs, err := srv.ledger.ListRuns(r.Context(), limit)
	if err != nil {
		writeErrorResponse(logger, w, http.StatusInternalServerError, "error listing runs: %v", err)
		return
	}
	if runs == nil {
		runs = []ledger.Run{}
	}
	writeResponseAsJSON(logger, w, http.StatusOK, runs)
}

func (srv *server) getRunHandler(w http.ResponseWriter, r *http.Request) {
	logger := srv.tagRequest(w, r)
	if srv.ledger == nil {
		writeErrorResponse(logger, w, http.StatusNotFound, "the run ledger is not enabled")
		return
	}
	id := chi.URLParam(r, "id")
	run, err := srv.ledger.GetRun(r.Context(), id)
	if errors.Is(err, ledger.ErrRunNotFound) {
		writeErrorResponse(logger, w, http.StatusNotFound, "run %s does not exist", id)
		return
	}
	if err != nil {
		writeErrorResponse(logger, w, http.StatusInternalServerError, "error getting run %s: %v", id, err)
		return
	}
	writeResponseAsJSON(logger, w, http.StatusOK, run)
}

type statusResponse struct {
	Status string `json:"status"`
}

func (srv *server) healthinessHandler(w http.ResponseWriter, r *http.Request) {
	writeResponseAsJSON(srv.logger, w, http.StatusOK, statusResponse{Status: "ok"})
}

func (srv *server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	logger := srv.tagRequest(w, r)
	if _, err := srv.store.List(r.Context(), string(lakehouse.Gold)+"/"); err != nil {
		writeErrorResponse(logger, w, http.StatusServiceUnavailable, "object store is not readable: %v", err)
		return
	}
	if srv.ready != nil && !srv.ready.TestReadFromPrestoSingleFlight(r.Context()) {
		writeErrorResponse(logger, w, http.StatusServiceUnavailable, "cannot read from PrestoDB")
		return
	}
	writeResponseAsJSON(logger, w, http.StatusOK, statusResponse{Status: "ok"})
}
