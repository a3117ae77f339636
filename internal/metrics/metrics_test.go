package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilCollector(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.RequestObserved("pause")
		c.Disposition("resume", nil)
		c.Paused(1)
		c.BodyStored(10, 5)
		c.ScopeTracked(1)
		c.ProtocolCall("Network.enable", nil)
	})
}

func TestCollector(t *testing.T) {
	c := New(prometheus.NewRegistry())
	c.RequestObserved("pause")
	c.RequestObserved("pause")
	c.Disposition("abort", errors.New("boom"))
	c.Paused(2)
	c.Paused(-1)
	c.BodyStored(100, 40)
	c.BodyStored(10, 0)
	c.ProtocolCall("Network.enable", nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.requests.WithLabelValues("pause")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.dispositions.WithLabelValues("abort", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.paused))
	assert.Equal(t, 110.0, testutil.ToFloat64(c.bodyBytes))
	assert.Equal(t, 40.0, testutil.ToFloat64(c.evictedBytes))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.protocolCalls.WithLabelValues("Network.enable", "ok")))
}
