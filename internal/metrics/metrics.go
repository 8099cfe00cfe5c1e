package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricPrefix = "iot_realtime_"

// 事件丢弃原因
const (
	DropNormalize   = "normalize"
	DropNotOwned    = "not_owned"
	DropLookupError = "lookup_error"
	DropViewClosed  = "view_closed"
)

var (
	registerOnce sync.Once

	feedEvents       *prometheus.CounterVec
	feedErrors       *prometheus.CounterVec
	changesApplied   *prometheus.CounterVec
	changesDropped   *prometheus.CounterVec
	ownershipLookups *prometheus.CounterVec
	activeViews      prometheus.Gauge
	degradedViews    prometheus.Gauge
	snapshotLoads    *prometheus.CounterVec
	snapshotLatency  prometheus.Histogram
	webhookDelivery  *prometheus.CounterVec
)

// Init 注册指标（只执行一次）
func Init() {
	registerOnce.Do(func() {
		feedEvents = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "feed_events_total",
				Help: "Change events received from the transport by entity",
			},
			[]string{"transport", "entity"},
		)
		feedErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "feed_errors_total",
				Help: "Transport level errors by reason",
			},
			[]string{"transport", "reason"},
		)
		changesApplied = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "changes_applied_total",
				Help: "Changes applied to view collections",
			},
			[]string{"entity", "op"},
		)
		changesDropped = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "changes_dropped_total",
				Help: "Changes discarded before reaching a collection",
			},
			[]string{"entity", "reason"},
		)
		ownershipLookups = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ownership_lookups_total",
				Help: "Parent device owner lookups by result",
			},
			[]string{"result"},
		)
		activeViews = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "active_views",
			Help: "Currently mounted views",
		})
		degradedViews = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "degraded_views",
			Help: "Mounted views running without a live subscription",
		})
		snapshotLoads = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "snapshot_loads_total",
				Help: "Snapshot loads by result",
			},
			[]string{"result"},
		)
		snapshotLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    metricPrefix + "snapshot_latency_seconds",
			Help:    "Snapshot load latency in seconds",
			Buckets: prometheus.DefBuckets,
		})
		webhookDelivery = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "webhook_deliveries_total",
				Help: "Alert webhook deliveries by result",
			},
			[]string{"result"},
		)

		prometheus.MustRegister(
			feedEvents,
			feedErrors,
			changesApplied,
			changesDropped,
			ownershipLookups,
			activeViews,
			degradedViews,
			snapshotLoads,
			snapshotLatency,
			webhookDelivery,
		)
	})
}

// Handler /metrics 处理器
func Handler() http.Handler {
	return promhttp.Handler()
}

// IncFeedEvent 传输层收到一条变更
func IncFeedEvent(transport, entity string) {
	if feedEvents != nil {
		feedEvents.WithLabelValues(transport, orUnknown(entity)).Inc()
	}
}

// IncFeedError 传输层错误（解码失败、断线等）
func IncFeedError(transport, reason string) {
	if feedErrors != nil {
		feedErrors.WithLabelValues(transport, orUnknown(reason)).Inc()
	}
}

// IncChangeApplied 变更已写入视图集合
func IncChangeApplied(entity, op string) {
	if changesApplied != nil {
		changesApplied.WithLabelValues(entity, op).Inc()
	}
}

// IncChangeDropped 变更被丢弃
func IncChangeDropped(entity, reason string) {
	if changesDropped != nil {
		changesDropped.WithLabelValues(orUnknown(entity), reason).Inc()
	}
}

// IncOwnershipLookup 所有者查询结果：cached / owned / denied / error
func IncOwnershipLookup(result string) {
	if ownershipLookups != nil {
		ownershipLookups.WithLabelValues(result).Inc()
	}
}

// AddActiveViews 调整已挂载视图数
func AddActiveViews(delta float64) {
	if activeViews != nil {
		activeViews.Add(delta)
	}
}

// AddDegradedViews 调整降级视图数
func AddDegradedViews(delta float64) {
	if degradedViews != nil {
		degradedViews.Add(delta)
	}
}

// ObserveSnapshot 记录快照加载耗时与结果
func ObserveSnapshot(err error, duration time.Duration) {
	result := "success"
	if err != nil {
		result = "error"
	}
	if snapshotLoads != nil {
		snapshotLoads.WithLabelValues(result).Inc()
	}
	if snapshotLatency != nil {
		snapshotLatency.Observe(duration.Seconds())
	}
}

// IncWebhookDelivery webhook 推送结果
func IncWebhookDelivery(result string) {
	if webhookDelivery != nil {
		webhookDelivery.WithLabelValues(result).Inc()
	}
}

func orUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
