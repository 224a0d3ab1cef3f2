package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeFastClassifier()
	c.normalizeExpensiveClassifier()
	c.normalizeLLM()
	if err := c.normalizeTaxonomy(); err != nil {
		return err
	}
	if c.Text.MaxChars <= 0 {
		c.Text.MaxChars = defaultMaxChars
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		c.Paths.APIToken = strings.TrimSpace(os.Getenv("TAGROUTER_API_TOKEN"))
	}
	return nil
}

func (c *Config) normalizeFastClassifier() {
	c.FastClassifier.Mode = strings.ToLower(strings.TrimSpace(c.FastClassifier.Mode))
	if c.FastClassifier.Mode == "" {
		c.FastClassifier.Mode = defaultFastMode
	}
	c.FastClassifier.URL = strings.TrimRight(strings.TrimSpace(c.FastClassifier.URL), "/")
	if c.FastClassifier.TimeoutSeconds <= 0 {
		c.FastClassifier.TimeoutSeconds = defaultFastTimeoutSeconds
	}
	if len(c.FastClassifier.BeamWidths) == 0 {
		c.FastClassifier.BeamWidths = []int{defaultBeamWidth, defaultBeamWidth, defaultBeamWidth}
	}
}

func (c *Config) normalizeExpensiveClassifier() {
	c.ExpensiveClassifier.Mode = strings.ToLower(strings.TrimSpace(c.ExpensiveClassifier.Mode))
	if c.ExpensiveClassifier.Mode == "" {
		c.ExpensiveClassifier.Mode = defaultExpensiveMode
	}
	c.ExpensiveClassifier.URL = strings.TrimRight(strings.TrimSpace(c.ExpensiveClassifier.URL), "/")
	if c.ExpensiveClassifier.TimeoutSeconds <= 0 {
		c.ExpensiveClassifier.TimeoutSeconds = defaultExpensiveTimeout
	}
}

func (c *Config) normalizeLLM() {
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	if c.LLM.Provider == "" {
		c.LLM.Provider = defaultLLMProvider
	}
	c.LLM.BaseURL = strings.TrimSpace(c.LLM.BaseURL)
	c.LLM.Model = strings.TrimSpace(c.LLM.Model)
	switch c.LLM.Provider {
	case ProviderAnthropic:
		if c.LLM.Model == "" {
			c.LLM.Model = defaultAnthropicModel
		}
	default:
		if c.LLM.BaseURL == "" {
			c.LLM.BaseURL = defaultOpenRouterBaseURL
		}
		if c.LLM.Model == "" {
			c.LLM.Model = defaultOpenRouterModel
		}
	}
	c.LLM.Referer = strings.TrimSpace(c.LLM.Referer)
	if c.LLM.Referer == "" {
		c.LLM.Referer = defaultLLMReferer
	}
	c.LLM.Title = strings.TrimSpace(c.LLM.Title)
	if c.LLM.Title == "" {
		c.LLM.Title = defaultLLMTitle
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = defaultLLMTimeoutSeconds
	}
	if c.LLM.MaxAttempts <= 0 {
		c.LLM.MaxAttempts = defaultLLMMaxAttempts
	}
	if c.LLM.MaxTokens <= 0 {
		c.LLM.MaxTokens = defaultLLMMaxTokens
	}
	if c.LLM.RequestsPerMinute < 0 {
		c.LLM.RequestsPerMinute = 0
	}
	c.LLM.APIKey = strings.TrimSpace(c.LLM.APIKey)
	if c.LLM.APIKey == "" {
		envKeys := []string{"TAGROUTER_LLM_API_KEY", "OPENROUTER_API_KEY"}
		if c.LLM.Provider == ProviderAnthropic {
			envKeys = []string{"TAGROUTER_LLM_API_KEY", "ANTHROPIC_API_KEY"}
		}
		for _, key := range envKeys {
			if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
				c.LLM.APIKey = strings.TrimSpace(value)
				break
			}
		}
	}
}

func (c *Config) normalizeTaxonomy() error {
	c.Taxonomy.Path = strings.TrimSpace(c.Taxonomy.Path)
	if c.Taxonomy.Path == "" {
		return nil
	}
	expanded, err := expandPath(c.Taxonomy.Path)
	if err != nil {
		return fmt.Errorf("taxonomy.path: %w", err)
	}
	c.Taxonomy.Path = expanded
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "json":
	default:
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
