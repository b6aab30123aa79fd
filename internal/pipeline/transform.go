package pipeline

import (
	"github.com/couchcryptid/telemetry-quality-etl/internal/domain"
)

// RuleValidator implements Validator with the physical-bounds rules in domain.
type RuleValidator struct{}

// Validate checks raw temperature and humidity values.
func (RuleValidator) Validate(raw domain.RawReading) domain.Validation {
	return domain.Validate(raw)
}

// ReadingEnricher implements Enricher using domain transform functions.
type ReadingEnricher struct{}

// Enrich adds heat index, dew point, comfort level and quality score.
func (ReadingEnricher) Enrich(r domain.Reading) domain.Reading {
	return domain.EnrichReading(r)
}
