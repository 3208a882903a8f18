package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestQueriesTotalIncrements(t *testing.T) {
	QueriesTotal.Reset()
	QueriesTotal.WithLabelValues(ResultHit).Inc()
	QueriesTotal.WithLabelValues(ResultHit).Inc()
	QueriesTotal.WithLabelValues(ResultMiss).Inc()

	if got := testutil.ToFloat64(QueriesTotal.WithLabelValues(ResultHit)); got != 2 {
		t.Errorf("hit counter = %v, want 2", got)
	}
	if got := testutil.ToFloat64(QueriesTotal.WithLabelValues(ResultMiss)); got != 1 {
		t.Errorf("miss counter = %v, want 1", got)
	}
}

func TestCacheEntriesGaugeSettable(t *testing.T) {
	CacheEntries.Set(7)
	if got := testutil.ToFloat64(CacheEntries); got != 7 {
		t.Errorf("CacheEntries = %v, want 7", got)
	}
}
