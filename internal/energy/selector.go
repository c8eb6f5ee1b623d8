// Package energy chooses which energy source serves a space.
package energy

import (
	"errors"
	"fmt"

	"github.com/smukkama/campus-energy/internal/model"
)

var (
	// ErrSourceNotFound is returned when the resolved source is missing from the catalog
	ErrSourceNotFound = errors.New("energy source not found in catalog")

	// ErrCatalogUnavailable is returned when no energy sources are seeded at all
	ErrCatalogUnavailable = errors.New("energy source catalog is empty")
)

// NotFoundError names the source that could not be resolved
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("energy source %q not found in catalog", e.Name)
}

// Is makes errors.Is(err, ErrSourceNotFound) match
func (e *NotFoundError) Is(target error) bool {
	return target == ErrSourceNotFound
}

// SourceNameFor returns the source a space should draw from given grid availability
func SourceNameFor(spaceType model.SpaceType, gridAvailable bool) string {
	if gridAvailable {
		return model.SourceGrid
	}
	switch spaceType {
	case model.SpaceClassroom, model.SpaceStaff:
		return model.SourceSolar
	case model.SpaceLab, model.SpaceSmartClass:
		return model.SourceDiesel
	default:
		return model.SourceGrid
	}
}

// SelectSource resolves the source for a space against the catalog. It never
// substitutes another source when the resolved one is missing.
func SelectSource(spaceType model.SpaceType, gridAvailable bool, catalog model.SourceCatalog) (model.EnergySource, error) {
	if catalog.Len() == 0 {
		return model.EnergySource{}, ErrCatalogUnavailable
	}
	name := SourceNameFor(spaceType, gridAvailable)
	source, ok := catalog.Lookup(name)
	if !ok {
		return model.EnergySource{}, &NotFoundError{Name: name}
	}
	return source, nil
}
