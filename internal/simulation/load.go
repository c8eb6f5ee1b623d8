// Package simulation synthesizes sensor-like load readings for a space.
package simulation

import (
	"github.com/smukkama/campus-energy/internal/model"
)

// OffSchedulePresence is the probability that an unscheduled space is
// occupied anyway (maintenance, cleaning, self study)
const OffSchedulePresence = 0.10

// ACThresholdC is the temperature above which an occupied space runs AC
const ACThresholdC = 29.0

// Fixed idle draws in kW
const (
	IdleACKW    = 0.2
	IdleLightKW = 0.05
)

// Loads is the output of one load model evaluation
type Loads struct {
	Occupancy     bool
	BaseLoad      float64
	ACLoad        float64
	LightLoad     float64
	EquipmentLoad float64
	TotalLoad     float64
}

type band struct{ lo, hi float64 }

type equipmentProfile struct {
	scheduled band
	idle      float64
	// always draws from scheduled regardless of the timetable
	always bool
}

var equipmentProfiles = map[model.SpaceType]equipmentProfile{
	model.SpaceClassroom:  {scheduled: band{0.2, 0.5}, idle: 0.1},
	model.SpaceLab:        {scheduled: band{2.5, 4.0}, idle: 0.3},
	model.SpaceSmartClass: {scheduled: band{3.0, 4.5}, idle: 0.5},
	model.SpaceStaff:      {scheduled: band{0.3, 0.7}, always: true},
}

// ComputeLoads evaluates the stochastic load components of one reading.
// Draw order is fixed (occupancy, equipment, AC, light) so a seeded rng
// reproduces the same sequence.
func ComputeLoads(space model.Space, isScheduled bool, temperature float64, rng Rand) Loads {
	occupancy := isScheduled
	if !isScheduled {
		occupancy = bernoulli(rng, OffSchedulePresence)
	}

	equipment := idleEquipment(space.Type)
	if p, ok := equipmentProfiles[space.Type]; ok && (isScheduled || p.always) {
		equipment = uniform(rng, p.scheduled.lo, p.scheduled.hi)
	}

	ac := IdleACKW
	if temperature > ACThresholdC && occupancy {
		ac = uniform(rng, 1.5, 2.0)
	}

	light := IdleLightKW
	if occupancy {
		light = uniform(rng, 0.3, 0.5)
	}

	loads := Loads{
		Occupancy:     occupancy,
		BaseLoad:      space.BaseLoadKW,
		ACLoad:        ac,
		LightLoad:     light,
		EquipmentLoad: equipment,
	}
	loads.TotalLoad = model.Round2(loads.BaseLoad + loads.ACLoad + loads.LightLoad + loads.EquipmentLoad)
	return loads
}

func idleEquipment(t model.SpaceType) float64 {
	if p, ok := equipmentProfiles[t]; ok && !p.always {
		return p.idle
	}
	return 0.1
}
