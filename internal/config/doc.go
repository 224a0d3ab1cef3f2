// Package config loads, normalizes, and validates tagrouter configuration.
//
// Configuration is TOML. Load resolves an explicit path, then
// ~/.config/tagrouter/config.toml, then ./tagrouter.toml, and falls back to
// built-in defaults. Normalization expands paths and pulls API keys from the
// environment; validation rejects unusable classifier wiring before the
// server starts. LoadThresholds re-reads just the [thresholds] section for
// hot reload.
package config
