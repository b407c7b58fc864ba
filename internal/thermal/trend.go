package thermal

const minTrendSamples = 3

// Slope returns the ordinary least-squares slope of value over time in units
// per second. It returns 0 for fewer than two readings or zero time spread.
func Slope(readings []Reading) float64 {
	n := float64(len(readings))
	if len(readings) < 2 {
		return 0
	}

	t0 := readings[0].Timestamp
	var sumX, sumY, sumXY, sumXX float64
	for _, r := range readings {
		x := r.Timestamp.Sub(t0).Seconds()
		sumX += x
		sumY += r.Value
		sumXY += x * r.Value
		sumXX += x * x
	}

	den := n*sumXX - sumX*sumX
	if den == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / den
}

// ClassifyTrend maps readings onto a Trend. Fewer than three readings are
// stable by definition.
func ClassifyTrend(readings []Reading, stableSlope, fastSlope float64) Trend {
	if len(readings) < minTrendSamples {
		return TrendStable
	}
	s := Slope(readings)
	switch {
	case s >= fastSlope:
		return TrendRisingFast
	case s >= stableSlope:
		return TrendRising
	case s <= -fastSlope:
		return TrendFallingFast
	case s <= -stableSlope:
		return TrendFalling
	default:
		return TrendStable
	}
}
