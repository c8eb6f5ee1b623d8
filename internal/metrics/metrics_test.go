package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Passes.WithLabelValues("complete").Inc()
	m.Optimized.WithLabelValues("peak_solar").Add(3)
	m.Readings.Add(250)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Passes.WithLabelValues("complete")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Optimized.WithLabelValues("peak_solar")))
	assert.Equal(t, 250.0, testutil.ToFloat64(m.Readings))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "campus_energy_passes_total")
	assert.Contains(t, names, "campus_energy_readings_committed_total")
}

func TestNew_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
