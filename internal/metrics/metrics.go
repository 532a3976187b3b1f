package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SyncRuns = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tidemark_sync_runs_total",
		Help: "Total sync passes",
	})
	SyncErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tidemark_sync_errors_total",
		Help: "Total failed sync passes",
	})
	SyncDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tidemark_sync_duration_seconds",
		Help:    "Sync pass duration seconds",
		Buckets: prometheus.DefBuckets,
	})
	PagesFetched = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tidemark_pages_fetched_total",
		Help: "Total bookmark pages fetched",
	})
	BookmarksStored = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tidemark_bookmarks_stored_total",
		Help: "Total bookmarks written to the store",
	})
	BookmarksDuplicate = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tidemark_bookmarks_duplicate_total",
		Help: "Total re-fetched bookmarks absorbed as duplicates",
	})
	StoreOpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tidemark_store_op_duration_seconds",
		Help:    "Store operation duration seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})
	StoreSlowOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tidemark_store_slow_ops_total",
		Help: "Store operations exceeding the slow-op threshold",
	}, []string{"op"})
	Deletes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tidemark_deletes_total",
		Help: "Remote delete calls by outcome",
	}, []string{"outcome"})
	RateLimitHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tidemark_rate_limit_hits_total",
		Help: "Total 429 responses from the remote API",
	})
	APIRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tidemark_api_retries_total",
		Help: "Total API retry attempts",
	}, []string{"endpoint"})
)

func init() {
	prometheus.MustRegister(
		SyncRuns, SyncErrors, SyncDuration, PagesFetched,
		BookmarksStored, BookmarksDuplicate,
		StoreOpDuration, StoreSlowOps,
		Deletes, RateLimitHits, APIRetries,
	)
}

// StartServer starts a metrics HTTP server on addr (e.g. ":9090").
// Empty addr disables it.
func StartServer(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	go func() { _ = http.ListenAndServe(addr, mux) }()
}

// ObserveSyncDuration records one pass duration.
func ObserveSyncDuration(start time.Time) {
	SyncDuration.Observe(time.Since(start).Seconds())
}

// ObserveStoreOp records one store operation.
func ObserveStoreOp(op string, d time.Duration, slow bool) {
	StoreOpDuration.WithLabelValues(op).Observe(d.Seconds())
	if slow {
		StoreSlowOps.WithLabelValues(op).Inc()
	}
}

// IncAPIRetry increments the retry counter for an endpoint.
func IncAPIRetry(endpoint string) { APIRetries.WithLabelValues(endpoint).Inc() }
