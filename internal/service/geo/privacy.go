// internal/service/geo/privacy.go

package geo

import (
	"math"

	"github.com/VictorHono/agrosense-ai-sub001/internal/domain/geo"
)

// Privacy levels applied to positions stored in activity history
const (
	PrivacyDisabled     = "disabled"
	PrivacyApproximate  = "approximate"
	PrivacyNeighborhood = "neighborhood"
	PrivacyPrecise      = "precise"
)

// metersPerDegree is the rough length of one degree of latitude
const metersPerDegree = 111000

// PrivacyManager coarsens positions before they leave the device session
type PrivacyManager struct {
	levels map[string]float64
}

// NewPrivacyManager creates a privacy manager with the default grid sizes
func NewPrivacyManager() *PrivacyManager {
	return &PrivacyManager{
		levels: map[string]float64{
			PrivacyDisabled:     0.0,
			PrivacyApproximate:  0.05,   // ~5km
			PrivacyNeighborhood: 0.01,   // ~1km
			PrivacyPrecise:      0.0001, // ~10m
		},
	}
}

// Apply snaps p to the grid of the given level. Unknown levels fall back to
// neighborhood. The disabled level returns nil.
func (m *PrivacyManager) Apply(p geo.Position, level string) *geo.Position {
	if level == PrivacyDisabled {
		return nil
	}

	precision, ok := m.levels[level]
	if !ok {
		precision = m.levels[PrivacyNeighborhood]
	}

	out := geo.Position{
		Latitude:  math.Round(p.Latitude/precision) * precision,
		Longitude: math.Round(p.Longitude/precision) * precision,
		Altitude:  p.Altitude,
		Accuracy:  math.Max(p.Accuracy, precision*metersPerDegree),
		Timestamp: p.Timestamp,
	}
	return &out
}

// Valid reports whether level is a known privacy level
func (m *PrivacyManager) Valid(level string) bool {
	_, ok := m.levels[level]
	return ok
}
