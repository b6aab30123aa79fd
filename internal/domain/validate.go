package domain

// Validation error codes.
const (
	ErrCodeTemperatureMissing    = "temperature_missing"
	ErrCodeTemperatureInvalid    = "temperature_invalid_type"
	ErrCodeTemperatureOutOfRange = "temperature_out_of_range"
	ErrCodeHumidityMissing       = "humidity_missing"
	ErrCodeHumidityInvalid       = "humidity_invalid_type"
	ErrCodeHumidityOutOfRange    = "humidity_out_of_range"
)

// Validation warning codes.
const (
	WarnCodeTemperatureExtreme = "temperature_extreme"
	WarnCodeHumidityVeryHigh   = "humidity_very_high"
)

// Physical sensor limits and the softer limits that only raise warnings.
const (
	TemperatureMin = -40.0
	TemperatureMax = 80.0
	HumidityMin    = 0.0
	HumidityMax    = 100.0

	temperatureWarnMin = -10.0
	temperatureWarnMax = 50.0
	humidityWarnMax    = 95.0
)

// Validate checks temperature and humidity independently and returns the
// resulting validation record. It never fails: invalid readings are still
// persisted, just flagged.
func Validate(raw RawReading) Validation {
	v := Validation{Errors: []string{}, Warnings: []string{}}

	if val, present := raw[FieldTemperature]; !present {
		v.Errors = append(v.Errors, ErrCodeTemperatureMissing)
	} else if t, ok := Numeric(val); !ok {
		v.Errors = append(v.Errors, ErrCodeTemperatureInvalid)
	} else if t < TemperatureMin || t > TemperatureMax {
		v.Errors = append(v.Errors, ErrCodeTemperatureOutOfRange)
	} else if t < temperatureWarnMin || t > temperatureWarnMax {
		v.Warnings = append(v.Warnings, WarnCodeTemperatureExtreme)
	}

	if val, present := raw[FieldHumidity]; !present {
		v.Errors = append(v.Errors, ErrCodeHumidityMissing)
	} else if h, ok := Numeric(val); !ok {
		v.Errors = append(v.Errors, ErrCodeHumidityInvalid)
	} else if h < HumidityMin || h > HumidityMax {
		v.Errors = append(v.Errors, ErrCodeHumidityOutOfRange)
	} else if h > humidityWarnMax {
		v.Warnings = append(v.Warnings, WarnCodeHumidityVeryHigh)
	}

	v.IsValid = len(v.Errors) == 0
	return v
}
