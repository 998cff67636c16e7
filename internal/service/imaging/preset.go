// internal/service/imaging/preset.go

package imaging

// DefaultTarget is the default byte budget for an upload
const DefaultTarget = 400 * 1024

// Policy selects how the engine walks from the first encode to the budget
type Policy string

const (
	// PolicyAdaptive lowers quality first, then resolution, resetting quality
	// at every new resolution tier
	PolicyAdaptive Policy = "adaptive"

	// PolicySchedule tries a fixed list of (scale, quality) pairs
	PolicySchedule Policy = "schedule"
)

// Step is one (scale, quality) pair of a schedule, scale relative to the
// source dimensions
type Step struct {
	Scale   float64 `json:"scale"`
	Quality float64 `json:"quality"`
}

// Preset configures one compression policy
type Preset struct {
	Name   string
	Policy Policy
	Target int

	// Adaptive policy
	MaxDimension    int
	MinDimension    int
	StartQuality    float64
	MinQuality      float64
	QualityStep     float64
	DimensionFactor float64
	MaxAttempts     int
	CeilingFactor   float64

	// Schedule policy
	Steps    []Step
	Fallback Step
}

// AdaptivePreset returns the diagnosis upload policy. A non-positive target
// selects DefaultTarget.
func AdaptivePreset(target int) Preset {
	if target <= 0 {
		target = DefaultTarget
	}
	return Preset{
		Name:            string(PolicyAdaptive),
		Policy:          PolicyAdaptive,
		Target:          target,
		MaxDimension:    768,
		MinDimension:    384,
		StartQuality:    0.75,
		MinQuality:      0.30,
		QualityStep:     0.08,
		DimensionFactor: 0.8,
		MaxAttempts:     12,
		CeilingFactor:   1.5,
	}
}

// SchedulePreset returns the harvest upload policy. A non-positive target
// selects DefaultTarget.
func SchedulePreset(target int) Preset {
	if target <= 0 {
		target = DefaultTarget
	}
	return Preset{
		Name:   string(PolicySchedule),
		Policy: PolicySchedule,
		Target: target,
		Steps: []Step{
			{Scale: 1.0, Quality: 0.8},
			{Scale: 0.85, Quality: 0.7},
			{Scale: 0.7, Quality: 0.6},
			{Scale: 0.5, Quality: 0.5},
			{Scale: 0.4, Quality: 0.4},
		},
		Fallback: Step{Scale: 0.3, Quality: 0.3},
	}
}

// PresetByName resolves a preset from its name
func PresetByName(name string, target int) (Preset, bool) {
	switch Policy(name) {
	case PolicyAdaptive:
		return AdaptivePreset(target), true
	case PolicySchedule:
		return SchedulePreset(target), true
	default:
		return Preset{}, false
	}
}
