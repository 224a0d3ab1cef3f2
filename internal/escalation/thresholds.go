package escalation

import (
	"fmt"

	"tagrouter/internal/hierarchy"
)

// DefaultThreshold applies to any level without an explicit threshold.
const DefaultThreshold = 0.8

// Thresholds holds the per-level confidence cutoffs. A fully populated value
// is required before evaluation; use Merge to overlay partial overrides.
type Thresholds struct {
	Primary   float64 `json:"primary" toml:"primary"`
	Secondary float64 `json:"secondary" toml:"secondary"`
	Tertiary  float64 `json:"tertiary" toml:"tertiary"`
}

// DefaultThresholds returns the built-in cutoffs.
func DefaultThresholds() Thresholds {
	return Thresholds{Primary: DefaultThreshold, Secondary: DefaultThreshold, Tertiary: DefaultThreshold}
}

// For returns the threshold configured for level.
func (t Thresholds) For(level hierarchy.Level) float64 {
	switch level {
	case hierarchy.Primary:
		return t.Primary
	case hierarchy.Secondary:
		return t.Secondary
	case hierarchy.Tertiary:
		return t.Tertiary
	default:
		return DefaultThreshold
	}
}

// With returns a copy with level set to value.
func (t Thresholds) With(level hierarchy.Level, value float64) Thresholds {
	switch level {
	case hierarchy.Primary:
		t.Primary = value
	case hierarchy.Secondary:
		t.Secondary = value
	case hierarchy.Tertiary:
		t.Tertiary = value
	}
	return t
}

// Merge overlays the supplied per-level overrides.
func (t Thresholds) Merge(overrides map[hierarchy.Level]float64) Thresholds {
	for level, value := range overrides {
		t = t.With(level, value)
	}
	return t
}

// Map returns the thresholds keyed by level.
func (t Thresholds) Map() map[hierarchy.Level]float64 {
	return map[hierarchy.Level]float64{
		hierarchy.Primary:   t.Primary,
		hierarchy.Secondary: t.Secondary,
		hierarchy.Tertiary:  t.Tertiary,
	}
}

// Validate ensures every threshold lies within [0,1].
func (t Thresholds) Validate() error {
	for _, level := range hierarchy.Order {
		if err := ValidateThreshold(level, t.For(level)); err != nil {
			return err
		}
	}
	return nil
}

// ValidateThreshold checks a single threshold value.
func ValidateThreshold(level hierarchy.Level, value float64) error {
	if value < 0 || value > 1 || value != value {
		return fmt.Errorf("threshold for %s must be between 0 and 1, got %v", level, value)
	}
	return nil
}
