package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	// Poll cycle metrics
	CycleCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentry_poll_cycles_total",
			Help: "Poll cycles by outcome",
		}, []string{"result"})
	CycleLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sentry_poll_cycle_latency_seconds",
			Help:    "Time to run one poll cycle",
			Buckets: prometheus.DefBuckets,
		})

	// Fetch metrics
	FetchErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentry_fetch_errors_total",
			Help: "Quote fetches that returned no data",
		})
	FetchedQuotes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentry_fetched_quotes_total",
			Help: "Total quotes fetched from the price provider",
		})

	// Store metrics
	SnapshotRecords = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentry_snapshot_records_total",
			Help: "Snapshot records written",
		})
	StoreErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentry_store_errors_total",
			Help: "Snapshot store failures",
		})

	// Alert metrics
	DropAlerts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentry_drop_alerts_total",
			Help: "Drop alerts detected",
		})
	NotifyErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentry_notify_errors_total",
			Help: "Alert deliveries that failed",
		})
)

// Serve 暴露 /metrics，直到ctx取消
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	zap.L().Info("📈 指标服务已启动", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
