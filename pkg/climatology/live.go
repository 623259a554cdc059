package climatology

import (
	"context"
	"fmt"
	"math"

	"github.com/HatiCode/stormcast/pkg/measurement"
	"github.com/HatiCode/stormcast/pkg/regional"
)

// Conditions are the current space-weather drivers.
type Conditions struct {
	Kp             float64 `json:"kp_index"`
	SolarWindSpeed float64 `json:"solar_wind_speed"`
	ForecastHours  int     `json:"forecast_hours"`
}

// ConditionsFrom reads current conditions from the latest measurement.
func ConditionsFrom(m measurement.Measurement) Conditions {
	kp := m.Kp
	if !m.ValidKp() {
		kp = 3
	}
	return Conditions{Kp: kp, SolarWindSpeed: m.Speed(), ForecastHours: 24}
}

// RegionalPrediction is the live value for one region.
type RegionalPrediction struct {
	Region            string        `json:"region"`
	Code              string        `json:"code"`
	LatMin            float64       `json:"lat_min"`
	LatMax            float64       `json:"lat_max"`
	Description       string        `json:"description"`
	Tec               float64       `json:"tec"`
	ClimatologyNormal *float64      `json:"climatology_normal"`
	ChangePercent     float64       `json:"change_percent"`
	Risk              regional.Risk `json:"risk"`
}

// Overview is the global summary of a regional forecast.
type Overview struct {
	Tec  float64              `json:"tec"`
	Risk regional.OverallRisk `json:"risk"`
	Kp   float64              `json:"kp_index"`
}

// Highlights name the regions that matter most right now.
type Highlights struct {
	MostAffected     string  `json:"most_affected_region"`
	MostAffectedName string  `json:"most_affected_name"`
	HighestSeverity  int     `json:"highest_severity"`
	HighestTecRegion string  `json:"highest_tec_region"`
	HighestTec       float64 `json:"highest_tec_value"`
	Message          string  `json:"message"`
}

// RegionalForecast is the live per-region prediction set.
type RegionalForecast struct {
	IssuedAt      string                        `json:"timestamp"`
	ForecastHours int                           `json:"forecast_hours"`
	Global        Overview                      `json:"global_overview"`
	Regions       map[string]RegionalPrediction `json:"regional_predictions"`
	Highlights    Highlights                    `json:"highlights"`
}

// Regional predicts every region for the current clock time: climatology
// when built (otherwise the adjusted global value), storm enhancement when
// kp >= 5, then risk grading.
func (s *Service) Regional(ctx context.Context, c Conditions) (RegionalForecast, error) {
	if err := ctx.Err(); err != nil {
		return RegionalForecast{}, err
	}
	if c.ForecastHours <= 0 {
		c.ForecastHours = 24
	}
	if c.SolarWindSpeed <= 0 {
		c.SolarWindSpeed = measurement.DefaultSolarWindSpeed
	}

	now := s.clock.Now().UTC()
	globalTec := regional.DefaultGlobalMean
	if v, ok := s.lookup(regional.MustLookup(regional.Global), now, c.Kp); ok && v > 0 {
		globalTec = v
	}

	out := RegionalForecast{
		IssuedAt:      now.Format("2006-01-02T15:04:05Z"),
		ForecastHours: c.ForecastHours,
		Regions:       make(map[string]RegionalPrediction),
	}

	risks := make(map[string]regional.Risk)
	var mostAffected, highestTec *RegionalPrediction
	for _, r := range regional.All() {
		normal, ok := s.lookup(r, now, c.Kp)
		tec := normal
		if !ok || normal <= 0 {
			tec = regional.Adjust(globalTec, c.Kp, regional.DefaultGlobalMean, r)
		}
		if c.Kp >= 5 {
			tec = regional.Enhance(tec, c.Kp, c.SolarWindSpeed, r)
		}

		p := RegionalPrediction{
			Region:      r.Name,
			Code:        r.Code,
			LatMin:      r.LatMin,
			LatMax:      r.LatMax,
			Description: r.Description,
			Tec:         round2(tec),
			Risk:        regional.AssessRisk(r.Code, tec),
		}
		if ok && normal > 0 {
			p.ClimatologyNormal = measurement.Float(round2(normal))
			p.ChangePercent = math.Round((tec-normal)/normal*1000) / 10
		}
		out.Regions[r.Code] = p
		risks[r.Code] = p.Risk

		if mostAffected == nil || p.Risk.Severity > mostAffected.Risk.Severity {
			mostAffected = &p
		}
		if highestTec == nil || p.Tec > highestTec.Tec {
			highestTec = &p
		}
	}

	out.Global = Overview{
		Tec:  round2(globalTec),
		Risk: regional.GlobalRisk(risks),
		Kp:   math.Round(c.Kp*10) / 10,
	}
	out.Highlights = Highlights{
		MostAffected:     mostAffected.Code,
		MostAffectedName: mostAffected.Region,
		HighestSeverity:  mostAffected.Risk.Severity,
		HighestTecRegion: highestTec.Code,
		HighestTec:       highestTec.Tec,
		Message:          highlight(*mostAffected),
	}

	s.logger.Debug("regional forecast",
		"kp", c.Kp,
		"global_risk", out.Global.Risk.Level,
		"most_affected", mostAffected.Code,
	)
	return out, nil
}

func highlight(p RegionalPrediction) string {
	switch {
	case p.Risk.Severity >= 4:
		return fmt.Sprintf("SEVERE STORM impacting %s regions (%+.0f%% above normal)", p.Region, p.ChangePercent)
	case p.Risk.Severity >= 3:
		return fmt.Sprintf("Elevated conditions in %s zones (%+.0f%% above normal)", p.Region, p.ChangePercent)
	case p.Risk.Severity >= 2:
		return fmt.Sprintf("Moderate activity in %s regions (%+.0f%% from normal)", p.Region, p.ChangePercent)
	default:
		return "Quiet conditions across all regions"
	}
}
