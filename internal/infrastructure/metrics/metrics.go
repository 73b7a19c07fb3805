// Package metrics exposes engine counters in the Prometheus text format.
//
//	vab_scans_total                    completed scan cycles
//	vab_scan_duration_seconds          scan cycle latency
//	vab_scan_symbols                   symbols in the last scan
//	vab_fetch_failures_total{reason}   historical fetch failures
//	vab_detections_total{result}       detector verdicts
//	vab_leads_total{result}            resolved watchlist entries
//	vab_positions_opened_total{side}
//	vab_positions_closed_total{reason}
//	vab_realized_pnl                   cumulative realized profit/loss
//	vab_levels_executed_total
//	vab_break_even_total
//	vab_watchlist_size / vab_open_positions
//	vab_persist_failures_total{collection}
//	vab_notifications_dropped_total
//	vab_symbols_halted_total
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vitos/volume_anomaly_bot/internal/usecase"
)

const namespace = "vab"

type Prometheus struct {
	registry *prometheus.Registry

	scans         prometheus.Counter
	scanDuration  prometheus.Histogram
	scanSymbols   prometheus.Gauge
	fetchFailures *prometheus.CounterVec
	detections    *prometheus.CounterVec
	leads         *prometheus.CounterVec
	opened        *prometheus.CounterVec
	closed        *prometheus.CounterVec
	realized      prometheus.Gauge
	levels        prometheus.Counter
	breakEven     prometheus.Counter
	watchlist     prometheus.Gauge
	positions     prometheus.Gauge
	persistFailed *prometheus.CounterVec
	dropped       prometheus.Counter
	halted        prometheus.Counter
}

var _ usecase.MetricsRecorder = (*Prometheus)(nil)

// New registers every collector on a private registry, plus the Go runtime collectors.
func New() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		scans: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "scans_total",
			Help: "Completed scan cycles.",
		}),
		scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "scan_duration_seconds",
			Help:    "Wall time of one scan cycle.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		scanSymbols: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "scan_symbols",
			Help: "Symbols processed by the last scan.",
		}),
		fetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "fetch_failures_total",
			Help: "Historical candle fetches that failed after retries.",
		}, []string{"reason"}),
		detections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "detections_total",
			Help: "Detector verdicts by result.",
		}, []string{"result"}),
		leads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "leads_total",
			Help: "Watchlist entries resolved, by result.",
		}, []string{"result"}),
		opened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "positions_opened_total",
			Help: "Virtual positions opened.",
		}, []string{"side"}),
		closed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "positions_closed_total",
			Help: "Virtual positions closed, by reason.",
		}, []string{"reason"}),
		realized: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "realized_pnl",
			Help: "Cumulative realized profit/loss in quote currency.",
		}),
		levels: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "levels_executed_total",
			Help: "Partial take-profit levels filled.",
		}),
		breakEven: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "break_even_total",
			Help: "Stops promoted to break-even.",
		}),
		watchlist: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "watchlist_size",
			Help: "Entries currently on the watchlist.",
		}),
		positions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "open_positions",
			Help: "Currently open virtual positions.",
		}),
		persistFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "persist_failures_total",
			Help: "State saves that failed, by collection.",
		}, []string{"collection"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "notifications_dropped_total",
			Help: "Events dropped because the notification queue was full.",
		}),
		halted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "symbols_halted_total",
			Help: "Symbols halted after an inconsistent state transition.",
		}),
	}

	p.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		p.scans, p.scanDuration, p.scanSymbols, p.fetchFailures, p.detections,
		p.leads, p.opened, p.closed, p.realized, p.levels, p.breakEven,
		p.watchlist, p.positions, p.persistFailed, p.dropped, p.halted,
	)
	return p
}

func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the private registry.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func (p *Prometheus) ScanCompleted(symbols int, took time.Duration) {
	p.scans.Inc()
	p.scanDuration.Observe(took.Seconds())
	p.scanSymbols.Set(float64(symbols))
}

func (p *Prometheus) FetchFailed(reason string) {
	p.fetchFailures.WithLabelValues(reason).Inc()
}

func (p *Prometheus) DetectionResult(result usecase.DetectionResult) {
	p.detections.WithLabelValues(string(result)).Inc()
}

func (p *Prometheus) LeadResolved(result string) {
	p.leads.WithLabelValues(result).Inc()
}

func (p *Prometheus) PositionOpened(side string) {
	p.opened.WithLabelValues(side).Inc()
}

func (p *Prometheus) PositionClosed(reason string, profitLoss float64) {
	p.closed.WithLabelValues(reason).Inc()
	p.realized.Add(profitLoss)
}

func (p *Prometheus) LevelExecuted()       { p.levels.Inc() }
func (p *Prometheus) BreakEvenPromoted()   { p.breakEven.Inc() }
func (p *Prometheus) WatchlistSize(n int)  { p.watchlist.Set(float64(n)) }
func (p *Prometheus) OpenPositions(n int)  { p.positions.Set(float64(n)) }
func (p *Prometheus) NotificationDropped() { p.dropped.Inc() }
func (p *Prometheus) SymbolHalted()        { p.halted.Inc() }

func (p *Prometheus) PersistFailed(collection string) {
	p.persistFailed.WithLabelValues(collection).Inc()
}
