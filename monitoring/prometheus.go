package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/treelinehq/treeline/logx"
)

type indexerPromMetrics struct {
	nodeUpUnixSeconds    prometheus.Gauge
	blocksProcessed      prometheus.Counter
	extensionResultCount *prometheus.CounterVec
	bestTipHeight        prometheus.Gauge
	canonicalTipHeight   prometheus.Gauge
	danglingBranchCount  prometheus.Gauge
	danglingEvictedCount prometheus.Counter
	receiverErrorCount   prometheus.Counter
	panicCount           prometheus.Counter
}

func newIndexerPromMetrics() *indexerPromMetrics {
	return &indexerPromMetrics{
		nodeUpUnixSeconds: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "treeline_up_timestamp_unix_seconds",
				Help: "Unix timestamp when the indexer started",
			},
		),
		blocksProcessed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "treeline_blocks_processed_total",
				Help: "Blocks handed to the witness tree since startup",
			},
		),
		extensionResultCount: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "treeline_extension_result_total",
				Help: "Witness add-block outcomes by extension type",
			},
			[]string{"result"},
		),
		bestTipHeight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "treeline_best_tip_height",
				Help: "Height of the current best tip",
			},
		),
		canonicalTipHeight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "treeline_canonical_tip_height",
				Help: "Height of the current canonical tip",
			},
		),
		danglingBranchCount: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "treeline_dangling_branches",
				Help: "Dangling branches currently held by the witness",
			},
		),
		danglingEvictedCount: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "treeline_dangling_evicted_total",
				Help: "Dangling branches dropped by the orphan eviction policy",
			},
		),
		receiverErrorCount: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "treeline_receiver_errors_total",
				Help: "Parse/IO errors reported by block receivers",
			},
		),
		panicCount: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "treeline_panic_total",
				Help: "Recovered panics in background goroutines",
			},
		),
	}
}

var metrics = newIndexerPromMetrics()

func SetNodeUp() {
	metrics.nodeUpUnixSeconds.Set(float64(time.Now().Unix()))
}

func IncreaseBlocksProcessed() {
	metrics.blocksProcessed.Inc()
}

func RecordExtensionResult(result string) {
	metrics.extensionResultCount.WithLabelValues(result).Inc()
}

func SetBestTipHeight(height uint32) {
	metrics.bestTipHeight.Set(float64(height))
}

func SetCanonicalTipHeight(height uint32) {
	metrics.canonicalTipHeight.Set(float64(height))
}

func SetDanglingBranchCount(n int) {
	metrics.danglingBranchCount.Set(float64(n))
}

func IncreaseDanglingEvicted() {
	metrics.danglingEvictedCount.Inc()
}

func IncreaseReceiverErrorCount() {
	metrics.receiverErrorCount.Inc()
}

func IncreasePanicCount() {
	metrics.panicCount.Inc()
}

// ServeMetrics exposes the prometheus endpoint on addr. Blocks, so run it
// on its own goroutine.
func ServeMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		logx.Error("MONITORING", "metrics endpoint stopped: ", err)
	}
}
