package simulation

import (
	"time"

	"github.com/smukkama/campus-energy/internal/model"
)

// TemperaturePolicy produces the ambient temperature for a reading. It is a
// call-site decision of the tick driver, not part of the load model.
type TemperaturePolicy func(ts time.Time, rng Rand) float64

// LiveTemperature draws uniformly across 24-36 °C
func LiveTemperature(ts time.Time, rng Rand) float64 {
	return model.Round1(24 + 12*rng.Float64())
}

// DiurnalTemperature is warmer between 06:00 and 18:59 (30 ± 3 °C) and
// cooler at night (26 ± 1 °C)
func DiurnalTemperature(ts time.Time, rng Rand) float64 {
	base, variance := 26.0, 2.0
	if h := ts.Hour(); h >= 6 && h <= 18 {
		base, variance = 30.0, 6.0
	}
	return model.Round1(base - variance/2 + variance*rng.Float64())
}
