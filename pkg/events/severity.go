package events

// Severity is a NOAA geomagnetic storm scale classification.
type Severity struct {
	Tier   int    `json:"severity"`
	Name   string `json:"severity_name"`
	GScale string `json:"g_scale"`
}

var severityScale = []struct {
	minKp float64
	Severity
}{
	{9, Severity{5, "Extreme", "G5"}},
	{8, Severity{4, "Severe", "G4"}},
	{7, Severity{3, "Strong", "G3"}},
	{6, Severity{2, "Moderate", "G2"}},
	{5, Severity{1, "Minor", "G1"}},
}

// Classify maps a peak activity index to its storm scale tier.
func Classify(kp float64) Severity {
	for _, s := range severityScale {
		if kp >= s.minKp {
			return s.Severity
		}
	}
	return Severity{0, "No Storm", "G0"}
}
