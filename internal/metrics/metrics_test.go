package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := MustNewMetrics(reg)

	m.IncImageFetch("ok")
	m.IncImageFetch("ok")
	m.IncImageFetch("http_error")
	m.IncSectionFailure("reviews")
	m.IncCacheOp("put", "ok")
	m.IncToolCall("taobao_fetch_product_info", "error")
	m.AddImageBytes(2048)
	m.ObserveScrape("success", 3*time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.imageFetches.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.imageFetches.WithLabelValues("http_error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sectionFailures.WithLabelValues("reviews")))
	assert.Equal(t, 2048.0, testutil.ToFloat64(m.imageBytes))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 6)
}

func TestMustNewMetricsReusesRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := MustNewMetrics(reg)
	second := MustNewMetrics(reg)

	first.IncToolCall("taobao_initialize_login", "ok")
	assert.Equal(t, 1.0, testutil.ToFloat64(second.toolCalls.WithLabelValues("taobao_initialize_login", "ok")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncImageFetch("ok")
		m.ObserveScrape("error", time.Second)
		m.IncCacheOp("get", "miss")
		m.AddImageBytes(1)
	})
}
