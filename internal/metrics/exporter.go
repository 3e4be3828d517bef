package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter Prometheus 指标导出器
type Exporter struct {
	registry *prometheus.Registry

	// 看守进程指标
	watchersActive  prometheus.Gauge
	watcherFailures prometheus.Counter

	// 转发周期指标
	cyclesTotal     prometheus.Counter
	cycleErrors     prometheus.Counter
	skippedMessages prometheus.Counter

	// 外发指标
	forwardedTotal prometheus.Counter
	forwardErrors  prometheus.Counter
}

// NewExporter 创建指标导出器
func NewExporter() *Exporter {
	registry := prometheus.NewRegistry()

	exporter := &Exporter{
		registry: registry,

		watchersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gml_watchers_active",
			Help: "当前运行中的邮箱看守进程数",
		}),
		watcherFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gml_watcher_failures_total",
			Help: "看守进程致命失败总数（连接、认证等）",
		}),

		cyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gml_forward_cycles_total",
			Help: "完成的转发周期总数",
		}),
		cycleErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gml_forward_cycle_errors_total",
			Help: "中途失败的转发周期总数",
		}),
		skippedMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gml_skipped_messages_total",
			Help: "因格式错误被跳过的邮件总数",
		}),

		forwardedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gml_forwarded_total",
			Help: "成功转发给订阅者的邮件总数",
		}),
		forwardErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gml_forward_errors_total",
			Help: "单个订阅者发送失败总数",
		}),
	}

	// 注册指标
	registry.MustRegister(
		exporter.watchersActive,
		exporter.watcherFailures,
		exporter.cyclesTotal,
		exporter.cycleErrors,
		exporter.skippedMessages,
		exporter.forwardedTotal,
		exporter.forwardErrors,
	)

	return exporter
}

// Handler 返回 HTTP 处理器
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// IncWatchersActive 增加运行中的看守进程数
func (e *Exporter) IncWatchersActive() {
	e.watchersActive.Inc()
}

// DecWatchersActive 减少运行中的看守进程数
func (e *Exporter) DecWatchersActive() {
	e.watchersActive.Dec()
}

// IncWatcherFailures 增加看守进程失败数
func (e *Exporter) IncWatcherFailures() {
	e.watcherFailures.Inc()
}

// IncCycles 增加完成的转发周期数
func (e *Exporter) IncCycles() {
	e.cyclesTotal.Inc()
}

// IncCycleErrors 增加失败的转发周期数
func (e *Exporter) IncCycleErrors() {
	e.cycleErrors.Inc()
}

// IncSkippedMessages 增加被跳过的邮件数
func (e *Exporter) IncSkippedMessages() {
	e.skippedMessages.Inc()
}

// IncForwarded 增加成功转发数
func (e *Exporter) IncForwarded() {
	e.forwardedTotal.Inc()
}

// IncForwardErrors 增加发送失败数
func (e *Exporter) IncForwardErrors() {
	e.forwardErrors.Inc()
}
