// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector 指标收集器
type Collector struct {
	// 模型请求指标
	modelRequestsTotal   *prometheus.CounterVec
	modelRequestDuration *prometheus.HistogramVec
	modelTokensUsed      *prometheus.CounterVec

	// 缓存指标
	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter

	// 评测指标
	cellsCompleted prometheus.Counter
	cellsSkipped   prometheus.Counter
	scores         prometheus.Histogram

	logger *zap.Logger
}

// NewCollector 创建指标收集器。reg 为 nil 时使用默认注册表。
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.modelRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_requests_total",
			Help:      "Total number of model requests",
		},
		[]string{"provider", "model", "status"},
	)

	c.modelRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_request_duration_seconds",
			Help:      "Model request duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"provider", "model"},
	)

	c.modelTokensUsed = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_tokens_used_total",
			Help:      "Total tokens consumed by model requests",
		},
		[]string{"provider", "model", "type"},
	)

	c.cacheHits = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "completion_cache_hits_total",
		Help:      "Completion cache hits",
	})

	c.cacheMisses = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "completion_cache_misses_total",
		Help:      "Completion cache misses",
	})

	c.cellsCompleted = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "evaluation_cells_completed_total",
		Help:      "Evaluation cells completed",
	})

	c.cellsSkipped = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "evaluation_cells_skipped_total",
		Help:      "Evaluation cells skipped because a result already existed",
	})

	c.scores = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "evaluation_scores",
		Help:      "Distribution of evaluation scores",
		Buckets:   prometheus.LinearBuckets(1, 1, 10),
	})

	return c
}

// RecordModelRequest 记录一次模型请求。
func (c *Collector) RecordModelRequest(provider, model, status string, duration time.Duration) {
	c.modelRequestsTotal.WithLabelValues(provider, model, status).Inc()
	c.modelRequestDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
}

// RecordTokens 记录 token 消耗。
func (c *Collector) RecordTokens(provider, model string, promptTokens, completionTokens int) {
	c.modelTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	c.modelTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
}

// ObserveCacheHit 实现 llm.CacheObserver。
func (c *Collector) ObserveCacheHit() { c.cacheHits.Inc() }

// ObserveCacheMiss 实现 llm.CacheObserver。
func (c *Collector) ObserveCacheMiss() { c.cacheMisses.Inc() }

// RecordCell 记录一个完成的评测单元及其得分。
func (c *Collector) RecordCell(score int) {
	c.cellsCompleted.Inc()
	c.scores.Observe(float64(score))
}

// RecordCellSkipped 记录一个因已有结果被跳过的单元。
func (c *Collector) RecordCellSkipped() { c.cellsSkipped.Inc() }
