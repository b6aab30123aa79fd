package domain

import "math"

// Quality score penalties.
const (
	maxQualityScore        = 100.0
	penaltyPerError        = 25.0
	penaltyPerWarning      = 10.0
	penaltyPerMissingField = 15.0
)

// heatIndexThresholdF is the Fahrenheit temperature below which the heat
// index equals the air temperature.
const heatIndexThresholdF = 80.0

// Magnus approximation coefficients.
const (
	magnusA = 17.27
	magnusB = 237.7
)

// EnrichReading derives heat index, dew point and comfort level for a reading
// that already carries a validation record, recomputes its quality score, and
// stamps processed_at. Readings without both temperature and humidity only
// get the score and timestamp.
func EnrichReading(r Reading) Reading {
	r.ProcessedAt = Now()

	if r.Temperature != nil && r.Humidity != nil {
		t, h := *r.Temperature, *r.Humidity

		hiF := heatIndexF(celsiusToFahrenheit(t), h)
		r.HeatIndex = float64Ptr(fahrenheitToCelsius(hiF))

		if dp, ok := dewPoint(t, h); ok {
			r.DewPoint = &dp
		}
		r.ComfortLevel = classifyComfort(t, h)
	}

	r.DataQualityScore = float64Ptr(QualityScore(r))
	return r
}

// QualityScore rates a reading from 0 to 100: 25 points off per validation
// error, 10 per warning, and 15 per missing essential field (temperature,
// humidity, device_id).
func QualityScore(r Reading) float64 {
	score := maxQualityScore

	if r.Validation != nil {
		score -= float64(len(r.Validation.Errors)) * penaltyPerError
		score -= float64(len(r.Validation.Warnings)) * penaltyPerWarning
	}

	score -= float64(missingEssentialFields(r)) * penaltyPerMissingField

	return math.Max(0, score)
}

// missingEssentialFields counts absent essential fields. A field present with
// the wrong type is an error, not a missing field.
func missingEssentialFields(r Reading) int {
	missing := 0
	if r.raw != nil {
		for _, f := range []string{FieldTemperature, FieldHumidity, FieldDeviceID} {
			if _, ok := r.raw[f]; !ok {
				missing++
			}
		}
		return missing
	}

	if r.Temperature == nil {
		missing++
	}
	if r.Humidity == nil {
		missing++
	}
	if r.DeviceID == "" {
		missing++
	}
	return missing
}

// heatIndexF implements the NOAA heat index in Fahrenheit. Below 80°F the air
// temperature is returned unchanged; otherwise the Steadman simple formula is
// tried first and the Rothfusz regression replaces it once that reaches 80°F.
func heatIndexF(tempF, humidity float64) float64 {
	if tempF < heatIndexThresholdF {
		return tempF
	}

	hi := 0.5 * (tempF + 61.0 + ((tempF - 68.0) * 1.2) + (humidity * 0.094))
	if hi < heatIndexThresholdF {
		return hi
	}

	t2 := tempF * tempF
	h2 := humidity * humidity
	return -42.379 +
		2.04901523*tempF +
		10.14333127*humidity -
		0.22475541*tempF*humidity -
		0.00683783*t2 -
		0.05481717*h2 +
		0.00122874*t2*humidity +
		0.00085282*tempF*h2 -
		0.00000199*t2*h2
}

// dewPoint applies the Magnus approximation, rounded to two decimals.
// It is undefined at 0% humidity.
func dewPoint(tempC, humidity float64) (float64, bool) {
	if humidity <= 0 {
		return 0, false
	}
	alpha := (magnusA*tempC)/(magnusB+tempC) + math.Log(humidity/100.0)
	return round2((magnusB * alpha) / (magnusA - alpha)), true
}

// classifyComfort evaluates the comfort bands in precedence order.
func classifyComfort(tempC, humidity float64) ComfortLevel {
	switch {
	case tempC < 18:
		return ComfortCold
	case tempC > 26:
		if humidity > 70 {
			return ComfortHotHumid
		}
		return ComfortHot
	case tempC >= 20 && tempC <= 24 && humidity >= 40 && humidity <= 60:
		return ComfortComfortable
	case humidity > 70:
		return ComfortHumid
	default:
		return ComfortMild
	}
}

func celsiusToFahrenheit(c float64) float64 {
	return c*9/5 + 32
}

func fahrenheitToCelsius(f float64) float64 {
	return (f - 32) * 5 / 9
}
