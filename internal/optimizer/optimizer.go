// Package optimizer applies the waste-reduction rules to computed readings
// before they are persisted.
package optimizer

import (
	"github.com/smukkama/campus-energy/internal/model"
)

// Rule identifies an optimization rule
type Rule string

const (
	// RulePeakSolar moves classrooms and smart classes from grid to solar
	// during peak solar hours
	RulePeakSolar Rule = "peak_solar"

	// RuleIdleSuppression turns off AC and dims lights in unscheduled,
	// unoccupied spaces
	RuleIdleSuppression Rule = "idle_suppression"
)

// Peak solar window, [PeakSolarStartHour, PeakSolarEndHour)
const (
	PeakSolarStartHour = 10
	PeakSolarEndHour   = 15
)

// Idle suppression targets in kW
const (
	SuppressedACKW    = 0.0
	SuppressedLightKW = 0.05
)

// Outcome describes what Apply changed. BaselineKW is the total before idle
// suppression and is never persisted.
type Outcome struct {
	Fired      []Rule
	BaselineKW float64
	SavedKW    float64
}

// Optimized reports whether any rule fired
func (o Outcome) Optimized() bool {
	return len(o.Fired) > 0
}

// Optimizer evaluates the rules against one energy source catalog
type Optimizer struct {
	catalog model.SourceCatalog
}

// New creates an optimizer bound to the catalog of the current pass
func New(catalog model.SourceCatalog) *Optimizer {
	return &Optimizer{catalog: catalog}
}

// Apply evaluates the peak solar rule and then the idle suppression rule,
// mutating r in place. Optimized is only ever set, never cleared. The hour
// is taken from r.Timestamp in its own location.
func (o *Optimizer) Apply(r *model.EnergyReading, space model.Space, isScheduled bool) Outcome {
	out := Outcome{BaselineKW: r.TotalLoad}

	if o.peakSolar(r, space) {
		out.Fired = append(out.Fired, RulePeakSolar)
	}
	if saved, ok := idleSuppression(r, isScheduled); ok {
		out.Fired = append(out.Fired, RuleIdleSuppression)
		out.SavedKW = saved
	}

	if out.Optimized() {
		r.Optimized = true
	}
	return out
}

func (o *Optimizer) peakSolar(r *model.EnergyReading, space model.Space) bool {
	hour := r.Timestamp.Hour()
	if hour < PeakSolarStartHour || hour >= PeakSolarEndHour {
		return false
	}
	if space.Type != model.SpaceClassroom && space.Type != model.SpaceSmartClass {
		return false
	}
	if r.SourceName != model.SourceGrid {
		return false
	}
	solar, ok := o.catalog.Lookup(model.SourceSolar)
	if !ok {
		return false
	}
	r.SourceID = solar.ID
	r.SourceName = solar.Name
	return true
}

func idleSuppression(r *model.EnergyReading, isScheduled bool) (float64, bool) {
	if isScheduled || r.Occupancy {
		return 0, false
	}
	baseline := r.TotalLoad
	r.ACLoad = SuppressedACKW
	r.LightLoad = SuppressedLightKW
	r.RecomputeTotal()
	return model.Round2(baseline - r.TotalLoad), true
}
