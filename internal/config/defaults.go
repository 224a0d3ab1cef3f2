package config

const (
	defaultConfigPath         = "~/.config/tagrouter/config.toml"
	defaultDataDir            = "~/.local/share/tagrouter"
	defaultLogDir             = "~/.local/share/tagrouter/logs"
	defaultAPIBind            = "127.0.0.1:7590"
	defaultFastMode           = ModeEmbedded
	defaultFastTimeoutSeconds = 10
	defaultBeamWidth          = 3
	defaultExpensiveMode      = ModeEmbedded
	defaultExpensiveTimeout   = 60
	defaultLLMProvider        = ProviderOpenRouter
	defaultOpenRouterBaseURL  = "https://openrouter.ai/api/v1/chat/completions"
	defaultOpenRouterModel    = "google/gemini-3-flash-preview"
	defaultAnthropicModel     = "claude-sonnet-4-5-20250929"
	defaultLLMReferer         = "https://github.com/tagrouter/tagrouter"
	defaultLLMTitle           = "tagrouter"
	defaultLLMTimeoutSeconds  = 30
	defaultLLMMaxAttempts     = 3
	defaultLLMMaxTokens       = 1024
	defaultThreshold          = 0.8
	defaultMaxChars           = 20000
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
	levelCount                = 3
)

// Classifier modes.
const (
	ModeRemote   = "remote"
	ModeEmbedded = "embedded"
	// ModeDisabled turns escalation off; only valid for the expensive classifier.
	ModeDisabled = "disabled"
)

// LLM providers.
const (
	ProviderOpenRouter = "openrouter"
	ProviderAnthropic  = "anthropic"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		FastClassifier: FastClassifier{
			Mode:           defaultFastMode,
			TimeoutSeconds: defaultFastTimeoutSeconds,
			BeamWidths:     []int{defaultBeamWidth, defaultBeamWidth, defaultBeamWidth},
		},
		ExpensiveClassifier: ExpensiveClassifier{
			Mode:           defaultExpensiveMode,
			TimeoutSeconds: defaultExpensiveTimeout,
		},
		LLM: LLM{
			Provider:       defaultLLMProvider,
			Referer:        defaultLLMReferer,
			Title:          defaultLLMTitle,
			TimeoutSeconds: defaultLLMTimeoutSeconds,
			MaxAttempts:    defaultLLMMaxAttempts,
			MaxTokens:      defaultLLMMaxTokens,
		},
		Thresholds: Thresholds{
			Primary:   defaultThreshold,
			Secondary: defaultThreshold,
			Tertiary:  defaultThreshold,
		},
		Text: Text{MaxChars: defaultMaxChars},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
