package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollector_Counters(t *testing.T) {
	c := NewCollectorWith("test", prometheus.NewRegistry())

	c.RecordFlowTransition("form", "quote-loading")
	c.RecordFlowTransition("form", "quote-loading")
	c.RecordTransaction("create", "confirmed")
	c.RecordChainError("getOption")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.FlowTransitionsTotal.WithLabelValues("form", "quote-loading")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.TransactionsTotal.WithLabelValues("create", "confirmed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ChainErrorsTotal.WithLabelValues("getOption")))
}

func TestCollector_DBPool(t *testing.T) {
	c := NewCollectorWith("test", prometheus.NewRegistry())
	c.UpdateDBConnectionPool(2, 3, 5)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.DBConnectionPool.WithLabelValues("in_use")))
	assert.Equal(t, 5.0, testutil.ToFloat64(c.DBConnectionPool.WithLabelValues("total")))
}

func TestTimer_ObserveDuration(t *testing.T) {
	c := NewCollectorWith("test", prometheus.NewRegistry())
	timer := c.ChainTimer("latestBlock")
	d := timer.ObserveDuration()
	assert.GreaterOrEqual(t, int64(d), int64(0))
	assert.Equal(t, 1, testutil.CollectAndCount(c.ChainCallDuration))
}
