package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"turtle-trader/internal/model"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics 扫描流程的 Prometheus 指标，使用独立的 Registry
type Metrics struct {
	registry *prometheus.Registry

	SignalsTotal            *prometheus.CounterVec // labels: kind, system
	InstrumentErrorsTotal   *prometheus.CounterVec // labels: stage
	IndicatorComputeSeconds prometheus.Histogram
	ScanDurationSeconds     prometheus.Histogram
	TrackedInstruments      prometheus.Gauge
	AccountEquity           prometheus.Gauge
}

// NewMetrics 创建并注册全部指标
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "turtle_signals_total",
			Help: "Signals emitted by the signal engine",
		}, []string{"kind", "system"}),
		InstrumentErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "turtle_instrument_errors_total",
			Help: "Per-instrument failures by pipeline stage",
		}, []string{"stage"}),
		IndicatorComputeSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "turtle_indicator_compute_seconds",
			Help:    "Time to compute the indicator series of one instrument",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		ScanDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "turtle_scan_duration_seconds",
			Help:    "Wall time of a full universe scan",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		TrackedInstruments: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "turtle_tracked_instruments",
			Help: "Instruments analyzed successfully in the last scan",
		}),
		AccountEquity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "turtle_paper_equity",
			Help: "Paper account equity after the last scan",
		}),
	}
	m.registry.MustRegister(
		m.SignalsTotal,
		m.InstrumentErrorsTotal,
		m.IndicatorComputeSeconds,
		m.ScanDurationSeconds,
		m.TrackedInstruments,
		m.AccountEquity,
	)
	return m
}

// Registry 返回内部 Registry (测试和自定义导出使用)
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveSignals 按类型和系统累加信号计数
func (m *Metrics) ObserveSignals(signals []model.Signal) {
	for _, s := range signals {
		m.SignalsTotal.WithLabelValues(s.Kind.String(), s.System.String()).Inc()
	}
}

// ObserveError 记录某个阶段的失败
func (m *Metrics) ObserveError(stage string) {
	m.InstrumentErrorsTotal.WithLabelValues(stage).Inc()
}

// ObserveCompute 记录单个标的的指标计算耗时
func (m *Metrics) ObserveCompute(d time.Duration) {
	m.IndicatorComputeSeconds.Observe(d.Seconds())
}

// Handler 返回 /metrics 的 HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve 在后台启动 metrics HTTP 服务，ctx 取消时关闭
func (m *Metrics) Serve(ctx context.Context, addr string, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("Metrics server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	return srv
}
