package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.Connections.Inc()
	m.Rooms.Set(3)
	m.Relayed.WithLabelValues("offer").Inc()
	m.Dropped.WithLabelValues(ReasonBufferFull).Add(2)

	assert.Equal(t, float64(3), testutil.ToFloat64(m.Rooms))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.Dropped.WithLabelValues(ReasonBufferFull)))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "signaling_connections 1")
	assert.Contains(t, string(body), `signaling_relayed_total{event="offer"} 1`)
}

func TestRegistryGathersServerFamilies(t *testing.T) {
	m := New()
	m.Joins.WithLabelValues("admitted").Inc()
	m.Dropped.WithLabelValues(ReasonNotMember).Inc()

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"signaling_connections",
		"signaling_rooms",
		"signaling_joins_total",
		"signaling_dropped_total",
		"go_goroutines",
	} {
		assert.True(t, names[want], "missing family %s", want)
	}

	n, err := testutil.GatherAndCount(m.Registry(), "signaling_joins_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
