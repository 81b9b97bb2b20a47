// Package telemetry holds the import counters and the tracing setup.
package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dusk-indust/cohortgraph/internal/logger"
)

// Metrics definitions
var (
	EntitiesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cohortgraph_entities_created_total",
		Help: "Entities created, by entity type.",
	}, []string{"type"})

	EntitiesReused = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cohortgraph_entities_reused_total",
		Help: "Resolver lookups that found an existing entity, by entity type.",
	}, []string{"type"})

	RelationsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cohortgraph_relations_written_total",
		Help: "Relations written, by relation type.",
	}, []string{"relation"})

	RelationsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cohortgraph_relations_skipped_total",
		Help: "Checked relation writes skipped because the edge already existed.",
	}, []string{"relation"})

	Flushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cohortgraph_store_flushes_total",
		Help: "Store flushes that reached the engine, by store mode.",
	}, []string{"mode"})

	FlushedWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cohortgraph_store_flushed_writes_total",
		Help: "Nodes and edges handed to the engine by flushes, by store mode.",
	}, []string{"mode"})

	FlushDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cohortgraph_store_flush_seconds",
		Help:    "Latency of one store flush.",
		Buckets: prometheus.DefBuckets,
	}, []string{"mode"})

	Faults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cohortgraph_faults_total",
		Help: "Faults raised, by kind.",
	}, []string{"kind"})

	RecordsImported = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cohortgraph_records_imported_total",
		Help: "Top-level input records processed, by importer.",
	}, []string{"importer"})
)

// MetricsServer exposes /metrics while a long import runs.
type MetricsServer struct {
	addr   string
	log    *logger.Logger
	server *http.Server
}

func NewMetricsServer(addr string, log *logger.Logger) *MetricsServer {
	return &MetricsServer{addr: addr, log: logger.OrNop(log)}
}

// Start serves in the background and returns immediately.
func (s *MetricsServer) Start() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.log.Info("metrics server starting", "addr", s.addr)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("metrics server failed", "error", err)
		}
	}()
}

func (s *MetricsServer) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
