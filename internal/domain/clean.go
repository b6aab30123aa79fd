package domain

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrMalformedReading marks a submission rejected before it enters the
// pipeline. Unlike a failed Validation, nothing is persisted for it.
var ErrMalformedReading = errors.New("malformed reading")

// CleanReading converts a device submission's temperature and humidity to
// floats rounded to two decimals. Missing, non-numeric, NaN/Inf, or
// physically impossible values are rejected with ErrMalformedReading.
func CleanReading(temperature, humidity any) (float64, float64, error) {
	if temperature == nil || humidity == nil {
		return 0, 0, fmt.Errorf("%w: temperature and humidity are required", ErrMalformedReading)
	}

	t, errT := toFloat(temperature)
	h, errH := toFloat(humidity)
	if errT != nil || errH != nil {
		return 0, 0, fmt.Errorf("%w: invalid numeric values", ErrMalformedReading)
	}

	if math.IsNaN(t) || math.IsNaN(h) || math.IsInf(t, 0) || math.IsInf(h, 0) {
		return 0, 0, fmt.Errorf("%w: NaN/Inf reading", ErrMalformedReading)
	}
	if t < TemperatureMin || t > TemperatureMax {
		return 0, 0, fmt.Errorf("%w: temperature out of range: %g", ErrMalformedReading, t)
	}
	if h < HumidityMin || h > HumidityMax {
		return 0, 0, fmt.Errorf("%w: humidity out of range: %g", ErrMalformedReading, h)
	}

	return round2(t), round2(h), nil
}

func toFloat(v any) (float64, error) {
	if s, ok := v.(string); ok {
		return strconv.ParseFloat(strings.TrimSpace(s), 64)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	}
	if f, ok := Numeric(v); ok {
		return f, nil
	}
	return 0, fmt.Errorf("unsupported type %T", v)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
