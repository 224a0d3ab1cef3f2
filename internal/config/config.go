package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir  string `toml:"data_dir"`
	LogDir   string `toml:"log_dir"`
	APIBind  string `toml:"api_bind"`
	// APIToken, when set, is required as a bearer token on threshold writes.
	APIToken string `toml:"api_token"`
}

// FastClassifier configures the statistical classifier that answers every request.
type FastClassifier struct {
	// Mode is "remote" (HTTP service at URL) or "embedded" (in-process beam search).
	Mode           string `toml:"mode"`
	URL            string `toml:"url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	// BeamWidths holds the beam size for primary, secondary and tertiary.
	BeamWidths []int `toml:"beam_widths"`
}

// ExpensiveClassifier configures the LLM-backed fallback classifier.
type ExpensiveClassifier struct {
	// Mode is "remote" (HTTP service at URL) or "embedded" (in-process LLM prompts).
	Mode           string `toml:"mode"`
	URL            string `toml:"url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// LLM contains the connection settings used by the embedded expensive classifier.
type LLM struct {
	// Provider is "openrouter" (any OpenAI-compatible chat endpoint) or "anthropic".
	Provider          string `toml:"provider"`
	APIKey            string `toml:"api_key"`
	BaseURL           string `toml:"base_url"`
	Model             string `toml:"model"`
	Referer           string `toml:"referer"`
	Title             string `toml:"title"`
	TimeoutSeconds    int    `toml:"timeout_seconds"`
	MaxAttempts       int    `toml:"max_attempts"`
	MaxTokens         int    `toml:"max_tokens"`
	RequestsPerMinute int    `toml:"requests_per_minute"`
}

// Thresholds holds the default per-level confidence cutoffs. Values stored
// through the management endpoint take precedence.
type Thresholds struct {
	Primary   float64 `toml:"primary"`
	Secondary float64 `toml:"secondary"`
	Tertiary  float64 `toml:"tertiary"`
}

// Taxonomy points at the tag tree. An empty path selects the built-in tree.
type Taxonomy struct {
	Path string `toml:"path"`
}

// Text controls request preprocessing.
type Text struct {
	MaxChars int `toml:"max_chars"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for tagrouter.
//
// Configuration sections by subsystem:
//   - Paths: data/log directories and API bind address
//   - FastClassifier: remote or embedded statistical classifier
//   - ExpensiveClassifier: remote or embedded LLM classifier
//   - LLM: provider connection settings for the embedded LLM classifier
//   - Thresholds: default per-level confidence cutoffs
//   - Taxonomy: tag tree location
//   - Text: request text preprocessing
//   - Logging: log format and level
type Config struct {
	Paths               Paths               `toml:"paths"`
	FastClassifier      FastClassifier      `toml:"fast_classifier"`
	ExpensiveClassifier ExpensiveClassifier `toml:"expensive_classifier"`
	LLM                 LLM                 `toml:"llm"`
	Thresholds          Thresholds          `toml:"thresholds"`
	Taxonomy            Taxonomy            `toml:"taxonomy"`
	Text                Text                `toml:"text"`
	Logging             Logging             `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		if err := decodeFile(resolvedPath, &cfg); err != nil {
			return nil, "", false, err
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

// LoadThresholds reads only the [thresholds] section of the file at path,
// layered over the built-in defaults, and validates it.
func LoadThresholds(path string) (Thresholds, error) {
	cfg := Default()
	if err := decodeFile(path, &cfg); err != nil {
		return Thresholds{}, err
	}
	if err := cfg.validateThresholds(); err != nil {
		return Thresholds{}, err
	}
	return cfg.Thresholds, nil
}

func decodeFile(path string, cfg *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := toml.NewDecoder(file)
	if err := decoder.Decode(cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("tagrouter.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the data and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// ThresholdStorePath returns the SQLite file holding stored thresholds and their history.
func (c *Config) ThresholdStorePath() string {
	return filepath.Join(c.Paths.DataDir, "thresholds.db")
}

// LockPath returns the single-instance lock file for the server.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "tagrouter.lock")
}

// LogPath returns the server log file under log_dir.
func (c *Config) LogPath() string {
	return filepath.Join(c.Paths.LogDir, "tagrouter.log")
}

// ServerURL returns the base URL CLI commands use to reach the server.
func (c *Config) ServerURL() string {
	bind := strings.TrimSpace(c.Paths.APIBind)
	if strings.HasPrefix(bind, ":") {
		bind = "127.0.0.1" + bind
	}
	return "http://" + bind
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
