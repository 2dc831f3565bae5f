package stats_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zdnscloud/dhcp4-slave/internal/stats"
)

func TestNoop(t *testing.T) {
	var s stats.Sink = stats.Noop{}

	assert.NotPanics(t, func() {
		s.IncDropped("no-subnet")
		s.ObserveLatency("DISCOVER", time.Millisecond)
		s.SetQueueDepth("ingress", 42)
	})
}

func TestPrometheus(t *testing.T) {
	p := stats.NewPrometheus("dhcp4slave_test")
	require.NotNil(t, p)

	var s stats.Sink = p
	assert.NotPanics(t, func() {
		s.IncDropped("bad-server-id")
		s.ObserveLatency("REQUEST", 5*time.Millisecond)
		s.SetQueueDepth("egress", 3)
	})

	assert.NotNil(t, p.Handler())
}
