// Package impact translates storm forecasts into sector impact scores for
// GPS, HF radio, satellite operations and power grids.
//
// Every sector score is on a 0-10 scale and graded with the same five
// levels as the overall severity.
package impact

import (
	"math"

	"github.com/HatiCode/stormcast/pkg/measurement"
	"github.com/HatiCode/stormcast/pkg/stormerr"
)

// DefaultLatitude is used when the caller has no location.
const DefaultLatitude = 45.0

// Level grades an impact score.
type Level string

const (
	LevelMinimal  Level = "minimal"
	LevelLow      Level = "low"
	LevelModerate Level = "moderate"
	LevelHigh     Level = "high"
	LevelSevere   Level = "severe"
)

// LevelFor grades score in steps of 2.
func LevelFor(score float64) Level {
	switch {
	case score < 2:
		return LevelMinimal
	case score < 4:
		return LevelLow
	case score < 6:
		return LevelModerate
	case score < 8:
		return LevelHigh
	default:
		return LevelSevere
	}
}

// Conditions are the inputs of an assessment. Probabilities are in [0, 1].
type Conditions struct {
	Probability24h float64
	Probability48h float64
	Kp             float64
	TecMean        float64
	Dst            float64
	Latitude       float64
}

// Validate rejects values outside their physical range.
func (c Conditions) Validate() error {
	for _, v := range []float64{c.Probability24h, c.Probability48h, c.Kp, c.TecMean, c.Dst, c.Latitude} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return stormerr.Invalid("impact inputs must be finite")
		}
	}
	switch {
	case c.Probability24h < 0 || c.Probability24h > 1 || c.Probability48h < 0 || c.Probability48h > 1:
		return stormerr.Invalid("probabilities must be in [0, 1]: 24h=%v 48h=%v", c.Probability24h, c.Probability48h)
	case c.Kp < 0 || c.Kp > measurement.MaxKp:
		return stormerr.Invalid("kp %v outside [0, %v]", c.Kp, measurement.MaxKp)
	case c.TecMean < 0:
		return stormerr.Invalid("tec %v must not be negative", c.TecMean)
	case c.Latitude < -90 || c.Latitude > 90:
		return stormerr.Invalid("latitude %v outside [-90, 90]", c.Latitude)
	}
	return nil
}

// Impact is the part every sector shares.
type Impact struct {
	Score           float64  `json:"impact_score"`
	Level           Level    `json:"impact_level"`
	Description     string   `json:"description"`
	Recommendations []string `json:"recommendations"`
}

// GPS is positioning accuracy degradation.
type GPS struct {
	NormalAccuracy   float64 `json:"normal_accuracy_m"`
	DegradedAccuracy float64 `json:"degraded_accuracy_m"`
	AccuracyLoss     float64 `json:"accuracy_loss_pct"`
	Impact
}

// Band is one HF frequency band.
type Band struct {
	Score  float64 `json:"impact_score"`
	Status string  `json:"status"`
}

// Radio is HF propagation impact.
type Radio struct {
	BlackoutProbability float64         `json:"blackout_probability_pct"`
	Bands               map[string]Band `json:"frequency_impacts"`
	Impact
}

// Satellite covers drag, surface charging and single event upsets.
type Satellite struct {
	DragMultiplier float64 `json:"atmospheric_drag_multiplier"`
	ChargingRisk   float64 `json:"surface_charging_risk_pct"`
	UpsetRisk      float64 `json:"single_event_upset_risk_pct"`
	Impact
}

// PowerGrid is geomagnetically induced current risk.
type PowerGrid struct {
	GICRisk         float64 `json:"gic_risk_pct"`
	AffectedRegions string  `json:"affected_regions"`
	Impact
}

// Overall weighs probability, Kp and TEC into one severity.
type Overall struct {
	Score      float64 `json:"severity_score"`
	Level      Level   `json:"severity_level"`
	Confidence string  `json:"confidence"`
}

// Inputs echoes the conditions with probabilities as percentages.
type Inputs struct {
	Probability24h float64 `json:"probability_24h"`
	Probability48h float64 `json:"probability_48h"`
	Kp             float64 `json:"kp_index"`
	TecMean        float64 `json:"tec_mean"`
	Dst            float64 `json:"dst_index"`
	Latitude       float64 `json:"latitude"`
}

// Assessment is the full sector breakdown.
type Assessment struct {
	GPS       GPS       `json:"gps"`
	Radio     Radio     `json:"radio"`
	Satellite Satellite `json:"satellite"`
	PowerGrid PowerGrid `json:"power_grid"`
	Overall   Overall   `json:"overall"`
	Inputs    Inputs    `json:"metadata"`
}

// Assess scores every sector for c.
func Assess(c Conditions) (Assessment, error) {
	if err := c.Validate(); err != nil {
		return Assessment{}, err
	}
	p24, p48 := c.Probability24h*100, c.Probability48h*100

	overall := overallSeverity(p24, c.Kp, c.TecMean)
	confidence := "medium"
	if p24 > 50 {
		confidence = "high"
	}

	return Assessment{
		GPS:       assessGPS(p24, c.Kp, c.TecMean, c.Latitude),
		Radio:     assessRadio(p24, c.Kp, c.TecMean),
		Satellite: assessSatellite(p24, c.Kp),
		PowerGrid: assessPowerGrid(p24, c.Kp, c.Latitude),
		Overall:   Overall{Score: overall, Level: LevelFor(overall), Confidence: confidence},
		Inputs: Inputs{
			Probability24h: round(p24, 2),
			Probability48h: round(p48, 2),
			Kp:             c.Kp,
			TecMean:        c.TecMean,
			Dst:            c.Dst,
			Latitude:       c.Latitude,
		},
	}, nil
}

// baseGPSError is quiet-time single-frequency accuracy in metres.
const baseGPSError = 3.5

func assessGPS(prob, kp, tec, lat float64) GPS {
	tecFactor := tec / 20
	kpFactor := 1 + math.Pow(kp/3, 1.5)
	probFactor := 1 + prob/100*2
	latFactor := 1 + math.Abs(lat)/90*0.5

	degraded := baseGPSError * tecFactor * kpFactor * probFactor * latFactor
	score := clamp(degraded/3, 1, 10)

	return GPS{
		NormalAccuracy:   baseGPSError,
		DegradedAccuracy: round(degraded, 1),
		AccuracyLoss:     round((degraded-baseGPSError)/baseGPSError*100, 1),
		Impact:           sectorImpact(score, gpsText, gpsAdvice),
	}
}

func assessRadio(prob, kp, tec float64) Radio {
	blackout := math.Min(95, prob+kp*5+tec/2)
	low := math.Min(10, blackout/10)
	mid := math.Min(10, blackout/12)
	high := math.Min(10, blackout/15)
	score := (low + mid + high) / 3

	return Radio{
		BlackoutProbability: round(blackout, 1),
		Bands: map[string]Band{
			"low_band_3_10_mhz":   band(low),
			"mid_band_10_20_mhz":  band(mid),
			"high_band_20_30_mhz": band(high),
		},
		Impact: sectorImpact(score, radioText, radioAdvice),
	}
}

func band(score float64) Band {
	status := "blackout_likely"
	switch {
	case score < 3:
		status = "normal"
	case score < 6:
		status = "degraded"
	}
	return Band{Score: round(score, 1), Status: status}
}

func assessSatellite(prob, kp float64) Satellite {
	drag := 1 + prob/100*(kp/2)
	charging := math.Min(95, prob+kp*8)
	upset := math.Min(90, prob*0.8+kp*7)
	score := (math.Min(10, drag) + math.Min(10, charging/10) + math.Min(10, upset/10)) / 3

	return Satellite{
		DragMultiplier: round(drag, 2),
		ChargingRisk:   round(charging, 1),
		UpsetRisk:      round(upset, 1),
		Impact:         sectorImpact(score, satelliteText, satelliteAdvice),
	}
}

func assessPowerGrid(prob, kp, lat float64) PowerGrid {
	var latFactor float64
	switch a := math.Abs(lat); {
	case a < 45:
		latFactor = 0.1
	case a < 60:
		latFactor = 0.5
	default:
		latFactor = 1
	}
	gic := math.Min(95, prob*latFactor+kp*10*latFactor)
	score := math.Min(10, gic/10)

	affected := "Minimal impact at this latitude"
	if latFactor > 0.5 {
		affected = "High latitudes (>60°)"
	}
	imp := sectorImpact(score, powerText, powerAdvice)
	if math.Abs(lat) < 45 {
		imp.Description = "Minimal power grid risk at this latitude"
	}
	return PowerGrid{GICRisk: round(gic, 1), AffectedRegions: affected, Impact: imp}
}

func overallSeverity(prob, kp, tec float64) float64 {
	probScore := prob / 100 * 10
	kpScore := kp / 9 * 10
	tecScore := math.Min(10, tec/50*10)
	return round(probScore*0.5+kpScore*0.3+tecScore*0.2, 1)
}

// sectorImpact grades score; the level uses the unrounded score.
func sectorImpact(score float64, text func(float64) string, advice func(float64) []string) Impact {
	return Impact{
		Score:           round(score, 1),
		Level:           LevelFor(score),
		Description:     text(score),
		Recommendations: advice(score),
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
