package prometheus

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/clamentos/blackhole/pkg/metrics"
)

func TestServerMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewServerMetricsWith(reg).(*serverMetrics)

	m.RecordConnectionAccepted()
	m.RecordConnectionAccepted()
	m.RecordConnectionClosed()
	m.RecordConnectionRefused()
	m.RecordRequestStart()
	m.RecordRequest("READ", "SYSTEM", "OK", 2*time.Millisecond)
	m.RecordBytes("in", 64)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.connectionsAccepted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeConnections))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectionsRefused))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.requestsInFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("READ", "SYSTEM", "OK")))
	assert.Equal(t, 64.0, testutil.ToFloat64(m.bytesTransferred.WithLabelValues("in")))
}

func TestPoolMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPoolMetricsWith(reg).(*poolMetrics)

	m.SetPoolSize(3)
	m.RecordAcquire(time.Millisecond, true)
	m.RecordAcquire(0, false)
	m.RecordRelease()
	m.RecordRefresh(false, nil)
	m.RecordRefresh(true, nil)
	m.RecordRefresh(true, errors.New("down"))

	assert.Equal(t, 3.0, testutil.ToFloat64(m.size))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.inUse))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.refreshes.WithLabelValues("valid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.refreshes.WithLabelValues("reconnected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.refreshes.WithLabelValues("failed")))
}

func TestRepositoryMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRepositoryMetricsWith(reg).(*repositoryMetrics)

	m.RecordOperation("insert", time.Millisecond, true, nil)
	m.RecordOperation("insert", time.Millisecond, false, errors.New("dup"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("insert", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("insert", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retries.WithLabelValues("insert")))
}

func TestDisabledRegistryYieldsNoops(t *testing.T) {
	if metrics.IsEnabled() {
		t.Skip("registry initialised elsewhere")
	}
	assert.Equal(t, metrics.NewNoopServerMetrics(), NewServerMetrics())
	assert.Equal(t, metrics.NewNoopPoolMetrics(), NewPoolMetrics())
	assert.Equal(t, metrics.NewNoopRepositoryMetrics(), NewRepositoryMetrics())
}
