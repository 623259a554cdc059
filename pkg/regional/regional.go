// Package regional maps global ionospheric values onto latitude bands and
// grades them into risk levels.
//
// The factors are empirical: equatorial TEC sits well above the global mean,
// polar TEC well below, and auroral zones respond hardest to geomagnetic
// storms.
package regional

import (
	"fmt"
	"math"
)

// Region is one latitude band.
type Region struct {
	Code              string  `json:"code"`
	Name              string  `json:"region"`
	LatMin            float64 `json:"lat_min"`
	LatMax            float64 `json:"lat_max"`
	BaselineFactor    float64 `json:"baseline_factor"`
	VariabilityFactor float64 `json:"variability_factor"`
	StormResponse     float64 `json:"storm_response"`
	Description       string  `json:"description"`
}

// Region codes.
const (
	Equatorial  = "equatorial"
	MidLatitude = "mid_latitude"
	Auroral     = "auroral"
	Polar       = "polar"
	Global      = "global"
)

// DefaultGlobalMean is the long-run global TEC mean in TECU, used when no
// training data is available.
const DefaultGlobalMean = 12.74

var regions = []Region{
	{
		Code: Equatorial, Name: "Equatorial", LatMin: -20, LatMax: 20,
		BaselineFactor: 1.4, VariabilityFactor: 1.3, StormResponse: 1.15,
		Description: "Equatorial region (±20°), highest TEC and the equatorial anomaly",
	},
	{
		Code: MidLatitude, Name: "Mid-Latitude", LatMin: 20, LatMax: 50,
		BaselineFactor: 1.0, VariabilityFactor: 1.0, StormResponse: 1.35,
		Description: "Mid-latitude region (20-50°), moderate TEC with seasonal variation",
	},
	{
		Code: Auroral, Name: "Auroral", LatMin: 50, LatMax: 70,
		BaselineFactor: 0.85, VariabilityFactor: 1.5, StormResponse: 1.65,
		Description: "Auroral region (50-70°), high variability and storm enhancements",
	},
	{
		Code: Polar, Name: "Polar", LatMin: 70, LatMax: 90,
		BaselineFactor: 0.7, VariabilityFactor: 1.8, StormResponse: 1.45,
		Description: "Polar region (>70°), lower baseline and extreme storm responses",
	},
	{
		Code: Global, Name: "Global", LatMin: -90, LatMax: 90,
		BaselineFactor: 1.0, VariabilityFactor: 1.0, StormResponse: 1.30,
		Description: "Global average across all latitudes",
	},
}

// All returns every region in fixed order: equatorial, mid_latitude,
// auroral, polar, global.
func All() []Region {
	out := make([]Region, len(regions))
	copy(out, regions)
	return out
}

// Lookup finds a region by code.
func Lookup(code string) (Region, bool) {
	for _, r := range regions {
		if r.Code == code {
			return r, true
		}
	}
	return Region{}, false
}

// MustLookup is Lookup for codes known at compile time.
func MustLookup(code string) Region {
	r, ok := Lookup(code)
	if !ok {
		panic(fmt.Sprintf("regional: unknown region %q", code))
	}
	return r
}

// Adjust scales a global value to the region. During storms (kp > 5) the
// excess over the global mean is amplified by the variability factor
// instead of the whole value being scaled.
func Adjust(value, kp, globalMean float64, r Region) float64 {
	v := value * r.BaselineFactor
	if kp > 5 {
		v = globalMean*r.BaselineFactor + (value-globalMean)*r.VariabilityFactor
	}
	return math.Max(0, v)
}

// StormIntensity maps Kp to the fraction of the regional storm response
// that applies.
func StormIntensity(kp float64) float64 {
	switch {
	case kp < 5:
		return 0
	case kp < 6:
		return 0.20
	case kp < 7:
		return 0.35
	case kp < 8:
		return 0.55
	case kp < 9:
		return 0.75
	default:
		return 1.0
	}
}

// Enhance applies storm-time enhancement to a climatological value. Fast
// solar wind (above 600 km/s) adds up to 20% on top.
func Enhance(value, kp, solarWindSpeed float64, r Region) float64 {
	factor := 1 + StormIntensity(kp)*(r.StormResponse-1)
	if solarWindSpeed > 600 {
		factor += math.Min((solarWindSpeed-600)/400, 0.2)
	}
	return value * factor
}
