package regional

import "math"

// Level is a TEC risk grade.
type Level string

const (
	LevelLow      Level = "LOW"
	LevelModerate Level = "MODERATE"
	LevelHigh     Level = "HIGH"
	LevelSevere   Level = "SEVERE"
	LevelExtreme  Level = "EXTREME"
)

// Thresholds are the TEC cutoffs (TECU) between risk levels for a region.
type Thresholds struct {
	Low, Moderate, High, Extreme float64
}

var thresholds = map[string]Thresholds{
	Equatorial:  {Low: 18, Moderate: 25, High: 35, Extreme: 45},
	MidLatitude: {Low: 12, Moderate: 18, High: 25, Extreme: 35},
	Auroral:     {Low: 10, Moderate: 15, High: 22, Extreme: 30},
	Polar:       {Low: 8, Moderate: 12, High: 18, Extreme: 25},
	Global:      {Low: 12, Moderate: 18, High: 25, Extreme: 35},
}

// ThresholdsFor returns the cutoffs for code; unknown codes use global.
func ThresholdsFor(code string) Thresholds {
	if t, ok := thresholds[code]; ok {
		return t
	}
	return thresholds[Global]
}

// Risk is a graded TEC value.
type Risk struct {
	Level       Level   `json:"level"`
	Severity    int     `json:"severity"`
	Color       string  `json:"color"`
	Description string  `json:"description"`
	Tec         float64 `json:"tec"`
}

type grade struct {
	level       Level
	color       string
	description string
}

var grades = [...]grade{
	{LevelLow, "#10b981", "Minimal ionospheric disturbance. Normal GPS and communication conditions."},
	{LevelModerate, "#fbbf24", "Moderate ionospheric activity. Minor GPS and HF radio impacts possible."},
	{LevelHigh, "#f97316", "Elevated ionospheric disturbance. GPS errors 3-5m, HF radio disruption likely."},
	{LevelSevere, "#ef4444", "Severe ionospheric storm. Significant GPS degradation, satellite communication issues."},
	{LevelExtreme, "#991b1b", "Extreme ionospheric storm. Major GPS outages possible, widespread communication disruption."},
}

// AssessRisk grades tec against the region's thresholds.
func AssessRisk(code string, tec float64) Risk {
	t := ThresholdsFor(code)
	sev := 5
	switch {
	case tec < t.Low:
		sev = 1
	case tec < t.Moderate:
		sev = 2
	case tec < t.High:
		sev = 3
	case tec < t.Extreme:
		sev = 4
	}
	g := grades[sev-1]
	return Risk{
		Level:       g.level,
		Severity:    sev,
		Color:       g.color,
		Description: g.description,
		Tec:         round(tec, 2),
	}
}

// OverallRisk is an area-weighted combination of regional risks.
type OverallRisk struct {
	Level    Level   `json:"level"`
	Severity float64 `json:"severity"`
	Color    string  `json:"color"`
}

var globalWeights = map[string]float64{
	Equatorial:  0.25,
	MidLatitude: 0.40,
	Auroral:     0.20,
	Polar:       0.05,
	Global:      0.10,
}

const unknownWeight = 0.2

// GlobalRisk weights each region's severity by area and population.
func GlobalRisk(risks map[string]Risk) OverallRisk {
	var weighted float64
	for code, r := range risks {
		w, ok := globalWeights[code]
		if !ok {
			w = unknownWeight
		}
		weighted += float64(r.Severity) * w
	}

	idx := 4
	switch {
	case weighted < 1.5:
		idx = 0
	case weighted < 2.5:
		idx = 1
	case weighted < 3.5:
		idx = 2
	case weighted < 4.5:
		idx = 3
	}
	return OverallRisk{
		Level:    grades[idx].level,
		Severity: round(weighted, 1),
		Color:    grades[idx].color,
	}
}

// ProbabilityLevel grades storm probabilities.
type ProbabilityLevel string

const (
	ProbabilityLow      ProbabilityLevel = "low"
	ProbabilityModerate ProbabilityLevel = "moderate"
	ProbabilityElevated ProbabilityLevel = "elevated"
	ProbabilityHigh     ProbabilityLevel = "high"
	ProbabilitySevere   ProbabilityLevel = "severe"
)

// ProbabilityRisk grades the maximum and average of a set of storm
// probabilities in [0,1].
func ProbabilityRisk(maxProb, avgProb float64) ProbabilityLevel {
	combined := 0.6*maxProb + 0.4*avgProb
	switch {
	case combined < 0.2:
		return ProbabilityLow
	case combined < 0.4:
		return ProbabilityModerate
	case combined < 0.6:
		return ProbabilityElevated
	case combined < 0.8:
		return ProbabilityHigh
	default:
		return ProbabilitySevere
	}
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
