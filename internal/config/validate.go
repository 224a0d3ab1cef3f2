package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateThresholds(); err != nil {
		return err
	}
	if err := c.validateFastClassifier(); err != nil {
		return err
	}
	if err := c.validateExpensiveClassifier(); err != nil {
		return err
	}
	if err := c.validateLLM(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateThresholds() error {
	values := map[string]float64{
		"thresholds.primary":   c.Thresholds.Primary,
		"thresholds.secondary": c.Thresholds.Secondary,
		"thresholds.tertiary":  c.Thresholds.Tertiary,
	}
	for key, value := range values {
		if value < 0 || value > 1 {
			return fmt.Errorf("%s must be between 0 and 1", key)
		}
	}
	return nil
}

func (c *Config) validateFastClassifier() error {
	switch c.FastClassifier.Mode {
	case ModeEmbedded:
	case ModeRemote:
		if err := validateServiceURL("fast_classifier.url", c.FastClassifier.URL); err != nil {
			return err
		}
	default:
		return fmt.Errorf("fast_classifier.mode must be %q or %q", ModeRemote, ModeEmbedded)
	}
	if len(c.FastClassifier.BeamWidths) != levelCount {
		return fmt.Errorf("fast_classifier.beam_widths must list %d values (primary, secondary, tertiary)", levelCount)
	}
	for _, width := range c.FastClassifier.BeamWidths {
		if width <= 0 {
			return errors.New("fast_classifier.beam_widths must be positive")
		}
	}
	return nil
}

func (c *Config) validateExpensiveClassifier() error {
	switch c.ExpensiveClassifier.Mode {
	case ModeEmbedded, ModeDisabled:
		return nil
	case ModeRemote:
		return validateServiceURL("expensive_classifier.url", c.ExpensiveClassifier.URL)
	default:
		return fmt.Errorf("expensive_classifier.mode must be %q, %q or %q", ModeRemote, ModeEmbedded, ModeDisabled)
	}
}

func (c *Config) validateLLM() error {
	switch c.LLM.Provider {
	case ProviderOpenRouter, ProviderAnthropic:
	default:
		return fmt.Errorf("llm.provider must be %q or %q", ProviderOpenRouter, ProviderAnthropic)
	}
	if c.ExpensiveClassifier.Mode != ModeEmbedded {
		return nil
	}
	if c.LLM.APIKey == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = defaultConfigPath
		}
		return fmt.Errorf("llm.api_key is required for the embedded expensive classifier. Set TAGROUTER_LLM_API_KEY or edit %s (create with 'tagrouter config init')", defaultPath)
	}
	return nil
}

func validateServiceURL(key, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required in remote mode", key)
	}
	parsed, err := url.Parse(value)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("%s must be an absolute URL", key)
	}
	return nil
}
