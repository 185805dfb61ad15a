package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounter(t *testing.T) {
	r := NewRegistry()
	r.IncrementCounter("requests", nil)
	r.IncrementCounter("requests", nil)
	r.AddToCounter("requests", 3, nil)

	all := r.GetAllMetrics()
	counters := all["counters"].(map[string]*Metric)
	require.Contains(t, counters, "requests")
	assert.Equal(t, float64(5), counters["requests"].Value)
}

func TestCounterLabelsSeparateSeries(t *testing.T) {
	r := NewRegistry()
	r.IncrementCounter("responses", map[string]string{"status_code": "200"})
	r.IncrementCounter("responses", map[string]string{"status_code": "500"})

	counters := r.GetAllMetrics()["counters"].(map[string]*Metric)
	assert.Len(t, counters, 2)
}

func TestLabelKeyIsDeterministic(t *testing.T) {
	r := NewRegistry()
	r.IncrementCounter("m", map[string]string{"a": "1", "b": "2"})
	r.IncrementCounter("m", map[string]string{"b": "2", "a": "1"})

	counters := r.GetAllMetrics()["counters"].(map[string]*Metric)
	require.Len(t, counters, 1)
	for _, m := range counters {
		assert.Equal(t, float64(2), m.Value)
	}
}

func TestTimer(t *testing.T) {
	r := NewRegistry()
	r.RecordTimer("op", 10*time.Millisecond, nil)
	r.RecordTimer("op", 30*time.Millisecond, nil)

	timers := r.GetAllMetrics()["timers"].(map[string]*TimerMetric)
	require.Contains(t, timers, "op")
	timer := timers["op"]
	assert.Equal(t, int64(2), timer.Count)
	assert.InDelta(t, 20.0, timer.Average, 0.01)
	assert.InDelta(t, 10.0, timer.Min, 0.01)
	assert.InDelta(t, 30.0, timer.Max, 0.01)
}

func TestGauge(t *testing.T) {
	r := NewRegistry()
	r.SetGauge("backlog", 7, nil)
	r.SetGauge("backlog", 3, nil)

	gauges := r.GetAllMetrics()["gauges"].(map[string]*Metric)
	require.Contains(t, gauges, "backlog")
	assert.Equal(t, float64(3), gauges["backlog"].Value)
}
