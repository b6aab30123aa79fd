// Package domain models environmental telemetry readings (temperature and
// relative humidity) and the pure rules applied to them on ingestion.
//
// # Data Sources
//
// Readings arrive either from field devices posting to the ingestion endpoint
// or from the ThingSpeak channel feed, where field1 carries temperature (°C)
// and field2 relative humidity (%), both as numeric strings. Feed items carry
// an entry_id that ThingSpeak assigns in increasing order; it is kept on the
// persisted document as feed_entry_id.
//
// # Validation
//
// Each field is checked on its own:
//
//	temperature: missing | not numeric | outside [-40, 80] → error
//	             outside [-10, 50]                         → warning (temperature_extreme)
//	humidity:    missing | not numeric | outside [0, 100]  → error
//	             above 95                                  → warning (humidity_very_high)
//
// A reading is valid iff it has no errors. Invalid readings are still stored.
// Submissions that cannot be parsed at all are rejected earlier by
// [CleanReading] and never reach the pipeline.
//
// # Derived Metrics
//
// Heat index follows the NOAA procedure in Fahrenheit: below 80°F it equals
// the air temperature, otherwise the Steadman estimate is refined with the
// Rothfusz regression. The result is stored in Celsius.
//
// Dew point uses the Magnus approximation with a=17.27, b=237.7:
//
//	α  = a·T/(b+T) + ln(RH/100)
//	Td = b·α/(a−α)
//
// Comfort bands, first match wins:
//
//	T < 18                         cold
//	T > 26                         hot_humid if RH > 70, else hot
//	20 ≤ T ≤ 24 and 40 ≤ RH ≤ 60   comfortable
//	RH > 70                        humid
//	otherwise                      mild
//
// # Quality Score
//
// 100 minus 25 per validation error, 10 per warning and 15 per missing
// essential field (temperature, humidity, device_id), floored at 0.
//
// # Outliers
//
// [OutlierDetector] uses the interquartile range of up to the 50 most recent
// persisted readings, with quartiles computed by the exclusive method. It
// abstains until ten values of a field are available.
package domain
