package model

// Style names — closed enumeration per spec.md §6. Unknown styles are
// rejected at JobService.Create.
const (
	StyleCinematicDrama = "cinematic_drama"
	StyleEnergeticDance = "energetic_dance"
	StyleLuxeTravel     = "luxe_travel"
	StyleModernMinimal  = "modern_minimal"
)

// ColorGrade is the parameter set the style_grade stage feeds to the
// media tool.
type ColorGrade struct {
	TemperatureKelvin int     `json:"temperatureKelvin"`
	SaturationScale   float64 `json:"saturationScale"`
	ContrastScale     float64 `json:"contrastScale"`
}

// StylePreset is one entry of the closed style enumeration. Description
// is carried over from the original's style_editor.py STYLE_CONFIGS and
// is additive (see SPEC_FULL.md §7) — the spec itself never asks for it,
// but nothing excludes it either.
type StylePreset struct {
	Name              string
	DefaultTransition Transition
	Grade             ColorGrade
	Description       string
}

// Styles is the closed table of style presets. The pipeline never
// branches on style name except in the style_grade stage and in the
// planner's transition defaults (spec.md §9 "Style as behavior").
var Styles = map[string]StylePreset{
	StyleCinematicDrama: {
		Name:              StyleCinematicDrama,
		DefaultTransition: Transition{Kind: TransitionCrossfade, DurationMs: 500},
		Grade:             ColorGrade{TemperatureKelvin: 5600, SaturationScale: 0.9, ContrastScale: 1.15},
		Description:       "Professional, dramatic, moody",
	},
	StyleEnergeticDance: {
		Name:              StyleEnergeticDance,
		DefaultTransition: Transition{Kind: TransitionHardCut, DurationMs: 0},
		Grade:             ColorGrade{TemperatureKelvin: 2700, SaturationScale: 1.2, ContrastScale: 1.1},
		Description:       "Energetic, confident, fast-paced",
	},
	StyleLuxeTravel: {
		Name:              StyleLuxeTravel,
		DefaultTransition: Transition{Kind: TransitionCrossfade, DurationMs: 500},
		Grade:             ColorGrade{TemperatureKelvin: 3200, SaturationScale: 1.1, ContrastScale: 1.05},
		Description:       "Wanderlust, luxury, peaceful",
	},
	StyleModernMinimal: {
		Name:              StyleModernMinimal,
		DefaultTransition: Transition{Kind: TransitionCrossfade, DurationMs: 200},
		Grade:             ColorGrade{TemperatureKelvin: 4500, SaturationScale: 0.9, ContrastScale: 1.0},
		Description:       "Clean, professional, modern",
	},
}

// ValidStyle reports whether name is one of the closed enumeration.
func ValidStyle(name string) bool {
	_, ok := Styles[name]
	return ok
}
