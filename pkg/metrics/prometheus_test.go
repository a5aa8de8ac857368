package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorderCounters(t *testing.T) {
	r := NewWithRegistry(prometheus.NewRegistry())

	r.RecordSymbolResult("READY")
	r.RecordSymbolResult("READY")
	r.RecordSymbolResult("ERROR")
	r.RecordCacheLookup(true)
	r.RecordCacheLookup(false)
	r.RecordCacheLookup(false)
	r.RecordError("indicator_fetch")

	assert.Equal(t, 2.0, testutil.ToFloat64(r.symbolResults.WithLabelValues("READY")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.symbolResults.WithLabelValues("ERROR")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.cacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.cacheLookups.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.errorsTotal.WithLabelValues("indicator_fetch")))
}

func TestRecordRunTotalsResetsGauge(t *testing.T) {
	r := NewWithRegistry(prometheus.NewRegistry())

	r.RecordRunTotals("DONE", map[string]int{"READY": 3, "ERROR": 1}, 2*time.Second)
	r.RecordRunTotals("DONE", map[string]int{"READY": 5}, time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.runsTotal.WithLabelValues("DONE")))
	assert.Equal(t, 5.0, testutil.ToFloat64(r.runSymbols.WithLabelValues("READY")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.runSymbols))
}
