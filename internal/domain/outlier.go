package domain

import "sort"

// OutlierWindowSize is how many recent persisted readings form the reference
// window for outlier detection.
const OutlierWindowSize = 50

// minOutlierSamples is the fewest historical values needed before a value can
// be called an outlier. Below it the detector abstains.
const minOutlierSamples = 10

const iqrFactor = 1.5

// OutlierDetector flags values outside 1.5×IQR of a window of recent readings.
type OutlierDetector struct {
	temperatures []float64
	humidities   []float64
}

// NewOutlierDetector collects the temperature and humidity values present in
// window. Readings missing a field simply don't contribute to that field.
func NewOutlierDetector(window []Reading) *OutlierDetector {
	d := &OutlierDetector{}
	for _, r := range window {
		if r.Temperature != nil {
			d.temperatures = append(d.temperatures, *r.Temperature)
		}
		if r.Humidity != nil {
			d.humidities = append(d.humidities, *r.Humidity)
		}
	}
	return d
}

// Temperature reports whether v is a temperature outlier. evaluated is false
// when the window held fewer than ten temperatures.
func (d *OutlierDetector) Temperature(v float64) (outlier, evaluated bool) {
	return isOutlier(v, d.temperatures)
}

// Humidity reports whether v is a humidity outlier. evaluated is false when
// the window held fewer than ten humidities.
func (d *OutlierDetector) Humidity(v float64) (outlier, evaluated bool) {
	return isOutlier(v, d.humidities)
}

func isOutlier(v float64, dataset []float64) (bool, bool) {
	if len(dataset) < minOutlierSamples {
		return false, false
	}
	q1, q3 := quartiles(dataset)
	iqr := q3 - q1
	lower := q1 - iqrFactor*iqr
	upper := q3 + iqrFactor*iqr
	return v < lower || v > upper, true
}

// quartiles returns Q1 and Q3 using the exclusive method: cut points at
// positions i(n+1)/4 of the sorted data, linearly interpolated. len(data) must
// be at least 2.
func quartiles(data []float64) (float64, float64) {
	sorted := make([]float64, len(data))
	copy(sorted, data)
	sort.Float64s(sorted)

	n := len(sorted)
	cut := func(i int) float64 {
		j := i * (n + 1) / 4
		delta := i*(n+1) - j*4
		switch {
		case j < 1:
			return sorted[0]
		case j >= n:
			return sorted[n-1]
		}
		return (sorted[j-1]*float64(4-delta) + sorted[j]*float64(delta)) / 4
	}
	return cut(1), cut(3)
}

// Flag sets the outlier flags of r for each field that is present and could be
// evaluated, and reports whether any flag came out true.
func (d *OutlierDetector) Flag(r *Reading) bool {
	flagged := false
	if r.Temperature != nil {
		if out, ok := d.Temperature(*r.Temperature); ok {
			r.IsTemperatureOutlier = boolPtr(out)
			flagged = flagged || out
		}
	}
	if r.Humidity != nil {
		if out, ok := d.Humidity(*r.Humidity); ok {
			r.IsHumidityOutlier = boolPtr(out)
			flagged = flagged || out
		}
	}
	return flagged
}
