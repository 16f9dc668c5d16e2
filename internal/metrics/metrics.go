// Package metrics tracks sync progress and store/worker health, grounded on
// chaindata_fetcher.go's gauge-per-concern convention
// (txsInsertionTimeGauge.Update(elapsed), checkpointGauge.Update(checkpoint))
// and the wider pack's metrics.GetOrRegisterGauge(name, nil) idiom, backed by
// github.com/rcrowley/go-metrics. Bridged to Prometheus exposition via
// github.com/prometheus/client_golang, grounded on cmd/kcn/main.go's
// promhttp.Handler() wiring.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rcrowley/go-metrics"
)

var (
	registry = metrics.NewRegistry()

	gatewayHeightGauge  = metrics.GetOrRegisterGauge("vartex/sync/gatewayHeight", registry)
	currentHeightGauge  = metrics.GetOrRegisterGauge("vartex/sync/currentHeight", registry)
	topHeightGauge      = metrics.GetOrRegisterGauge("vartex/sync/topHeight", registry)
	txInFlightGauge     = metrics.GetOrRegisterGauge("vartex/workerpool/txInFlight", registry)
	importTimeGauge     = metrics.GetOrRegisterGauge("vartex/sync/importBlockMillis", registry)
	blockGapGauge       = metrics.GetOrRegisterGauge("vartex/doctor/blockGaps", registry)
	forkResolutionGauge = metrics.GetOrRegisterCounter("vartex/sync/forkResolutions", registry)
)

// SetGatewayHeight records the maximum persisted height (spec.md §4.6
// gatewayHeight).
func SetGatewayHeight(h uint64) { gatewayHeightGauge.Update(int64(h)) }

// SetCurrentHeight records the last dispatched height (spec.md §4.6
// currentHeight).
func SetCurrentHeight(h uint64) { currentHeightGauge.Update(int64(h)) }

// SetTopHeight records the authoritative hash list length (spec.md §4.6
// topHeight).
func SetTopHeight(h uint64) { topHeightGauge.Update(int64(h)) }

// SetTxInFlight records the worker pool's in-flight job count (spec.md §4.5
// getTxsInFlight).
func SetTxInFlight(n int) { txInFlightGauge.Update(int64(n)) }

// ObserveImportDuration records one importBlock job's wall-clock duration,
// mirroring chaindata_fetcher.go's updateGauge wrapper.
func ObserveImportDuration(d time.Duration) { importTimeGauge.Update(d.Milliseconds()) }

// SetBlockGaps records the current size of Doctor's detected-gap set.
func SetBlockGaps(n int) { blockGapGauge.Update(int64(n)) }

// IncForkResolutions counts one completed resolveFork invocation.
func IncForkResolutions() { forkResolutionGauge.Inc(1) }

// gaugeCollector adapts one rcrowley/go-metrics Gauge into a Prometheus
// GaugeFunc, so the existing registry stays the single source of truth
// instead of duplicating every Update call against two client libraries.
func gaugeCollector(name string, help string, g metrics.Gauge) prometheus.Collector {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: name,
		Help: help,
	}, func() float64 { return float64(g.Value()) })
}

func counterCollector(name string, help string, c metrics.Counter) prometheus.Collector {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: name,
		Help: help,
	}, func() float64 { return float64(c.Count()) })
}

// Handler builds the /metrics HTTP handler (cmd/kcn/main.go's
// promhttp.Handler() wiring), registering every gauge/counter above against
// a dedicated Prometheus registry.
func Handler() http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		gaugeCollector("vartex_sync_gateway_height", "highest persisted block height", gatewayHeightGauge),
		gaugeCollector("vartex_sync_current_height", "last dispatched block height", currentHeightGauge),
		gaugeCollector("vartex_sync_top_height", "authoritative hash list length", topHeightGauge),
		gaugeCollector("vartex_workerpool_tx_in_flight", "jobs currently in flight", txInFlightGauge),
		gaugeCollector("vartex_sync_import_block_millis", "last importBlock duration in milliseconds", importTimeGauge),
		gaugeCollector("vartex_doctor_block_gaps", "size of the currently detected gap set", blockGapGauge),
		counterCollector("vartex_sync_fork_resolutions_total", "completed fork resolutions", forkResolutionGauge),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
