package impact

func gpsText(score float64) string {
	switch {
	case score < 3:
		return "Normal GPS performance expected"
	case score < 5:
		return "Minor GPS accuracy degradation possible"
	case score < 7:
		return "Moderate GPS errors likely (5-15m)"
	case score < 9:
		return "Significant GPS degradation (15-30m)"
	default:
		return "Severe GPS disruption possible (>30m errors)"
	}
}

func gpsAdvice(score float64) []string {
	switch {
	case score < 5:
		return []string{"No special precautions needed"}
	case score < 7:
		return []string{
			"Use DGPS or WAAS if available",
			"Increase position tolerance margins",
		}
	default:
		return []string{
			"Avoid GPS-critical operations if possible",
			"Use alternative navigation (inertial, visual)",
			"Increase safety margins significantly",
		}
	}
}

func radioText(score float64) string {
	switch {
	case score < 3:
		return "Normal HF radio conditions"
	case score < 5:
		return "Minor HF propagation disturbances"
	case score < 7:
		return "Moderate HF signal degradation"
	case score < 9:
		return "Severe HF propagation issues"
	default:
		return "HF radio blackout conditions likely"
	}
}

func radioAdvice(score float64) []string {
	switch {
	case score < 5:
		return []string{"Monitor conditions, no action needed"}
	case score < 7:
		return []string{
			"Use lower frequencies when possible",
			"Increase transmit power if available",
			"Prepare backup communication methods",
		}
	default:
		return []string{
			"Expect HF communication difficulties",
			"Switch to VHF/UHF or satellite communications",
			"Critical messages may not get through",
		}
	}
}

func satelliteText(score float64) string {
	switch {
	case score < 3:
		return "Normal satellite operations expected"
	case score < 5:
		return "Minor satellite impacts possible"
	case score < 7:
		return "Moderate satellite operation challenges"
	case score < 9:
		return "Significant satellite risks"
	default:
		return "Severe satellite environment"
	}
}

func satelliteAdvice(score float64) []string {
	switch {
	case score < 5:
		return []string{"Normal operations, monitor conditions"}
	case score < 7:
		return []string{
			"Increase orbit determination frequency",
			"Monitor surface charging",
			"Prepare for possible anomalies",
		}
	default:
		return []string{
			"Delay non-essential maneuvers",
			"Increase telemetry monitoring",
			"Activate fault protection modes",
			"Expect increased atmospheric drag",
		}
	}
}

// powerText ignores latitude; assessPowerGrid overrides it below 45°.
func powerText(score float64) string {
	switch {
	case score < 5:
		return "Low GIC risk for power infrastructure"
	case score < 7:
		return "Moderate GIC risk - monitor transformers"
	default:
		return "High GIC risk - potential transformer damage"
	}
}

func powerAdvice(score float64) []string {
	switch {
	case score < 5:
		return []string{"Normal grid operations"}
	case score < 7:
		return []string{
			"Monitor transformer temperatures",
			"Prepare for possible voltage fluctuations",
			"Have backup power ready for critical systems",
		}
	default:
		return []string{
			"Consider reducing grid load if possible",
			"Closely monitor all transformers",
			"Prepare for potential localized outages",
			"Alert emergency services",
		}
	}
}
