package testutil

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

// CounterValue returns the current value for a CounterVec label set.
func CounterValue(tb testing.TB, vec *prometheus.CounterVec, labels ...string) float64 {
	tb.Helper()

	counter, err := vec.GetMetricWithLabelValues(labels...)
	require.NoError(tb, err)
	return value(tb, counter).GetCounter().GetValue()
}

// GaugeValue returns the current value of a gauge.
func GaugeValue(tb testing.TB, gauge prometheus.Gauge) float64 {
	tb.Helper()

	return value(tb, gauge).GetGauge().GetValue()
}

func value(tb testing.TB, metric prometheus.Metric) *dto.Metric {
	tb.Helper()

	var m dto.Metric
	require.NoError(tb, metric.Write(&m))
	return &m
}
