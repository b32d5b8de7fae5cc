package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func newTestCollector(t *testing.T) *Collector {
	t.Helper()
	return NewCollector("haystack", prometheus.NewRegistry(), zaptest.NewLogger(t))
}

func TestRecordModelRequest(t *testing.T) {
	c := newTestCollector(t)

	c.RecordModelRequest("openai", "gpt-4o", "ok", 1500*time.Millisecond)
	c.RecordModelRequest("openai", "gpt-4o", "ok", 500*time.Millisecond)
	c.RecordModelRequest("openai", "gpt-4o", "error", 100*time.Millisecond)

	assert.Equal(t, float64(2),
		testutil.ToFloat64(c.modelRequestsTotal.WithLabelValues("openai", "gpt-4o", "ok")))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(c.modelRequestsTotal.WithLabelValues("openai", "gpt-4o", "error")))
}

func TestRecordTokens(t *testing.T) {
	c := newTestCollector(t)

	c.RecordTokens("openai", "gpt-4o", 1000, 50)
	c.RecordTokens("openai", "gpt-4o", 2000, 30)

	assert.Equal(t, float64(3000),
		testutil.ToFloat64(c.modelTokensUsed.WithLabelValues("openai", "gpt-4o", "prompt")))
	assert.Equal(t, float64(80),
		testutil.ToFloat64(c.modelTokensUsed.WithLabelValues("openai", "gpt-4o", "completion")))
}

func TestCacheObservations(t *testing.T) {
	c := newTestCollector(t)

	c.ObserveCacheHit()
	c.ObserveCacheHit()
	c.ObserveCacheMiss()

	assert.Equal(t, float64(2), testutil.ToFloat64(c.cacheHits))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.cacheMisses))
}

func TestRecordCell(t *testing.T) {
	c := newTestCollector(t)

	c.RecordCell(10)
	c.RecordCell(1)
	c.RecordCellSkipped()

	assert.Equal(t, float64(2), testutil.ToFloat64(c.cellsCompleted))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.cellsSkipped))
}

func TestCollectorsAreIsolatedPerRegistry(t *testing.T) {
	// 独立注册表之间互不影响，也不会重复注册 panic。
	a := NewCollector("haystack", prometheus.NewRegistry(), zaptest.NewLogger(t))
	b := NewCollector("haystack", prometheus.NewRegistry(), zaptest.NewLogger(t))

	a.ObserveCacheHit()
	assert.Equal(t, float64(1), testutil.ToFloat64(a.cacheHits))
	assert.Equal(t, float64(0), testutil.ToFloat64(b.cacheHits))
}
