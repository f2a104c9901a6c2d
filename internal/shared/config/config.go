// Package config loads the engine's recognized configuration keys:
// model provider/id/parameters, narrator cadence, routing behavior,
// and the agent's configured capability sources. Each Load call
// builds its own viper instance so tests never touch global state.
package config

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ModelConfig names the opaque provider/model the llm.Client wraps,
// plus free-form parameters forwarded to it verbatim.
type ModelConfig struct {
	Provider   string         `mapstructure:"provider"`
	ID         string         `mapstructure:"id"`
	Parameters map[string]any `mapstructure:"parameters"`
	// CostPerThousand prices the approximate token usage recorded onto
	// a task's TokensUsed/CostUSD progress counters; zero means track
	// token counts without a dollar figure.
	CostPerThousand float64 `mapstructure:"costPerThousandUsd"`
}

// NarratorConfig mirrors engine/narrator.Config's recognized keys.
type NarratorConfig struct {
	IntervalMs   int `mapstructure:"intervalMs"`
	RecentWindow int `mapstructure:"recentWindow"`
	MaxChars     int `mapstructure:"maxChars"`
}

// RoutingConfig controls whether stage 1 routing runs at all.
type RoutingConfig struct {
	AlwaysTask bool `mapstructure:"alwaysTask"`
}

// CapabilityKind discriminates the three supported tool sources.
type CapabilityKind string

const (
	CapabilityPrebuilt CapabilityKind = "prebuilt"
	CapabilityA2A      CapabilityKind = "a2a"
	CapabilityMCP      CapabilityKind = "mcp"
)

// CapabilityConfig describes one entry of the `capabilities[]` list.
type CapabilityConfig struct {
	Kind CapabilityKind `mapstructure:"kind"`
	// Name selects a prebuilt tool (exec/memory/search) when Kind is
	// CapabilityPrebuilt.
	Name string `mapstructure:"name"`
	// URL is the remote endpoint for CapabilityA2A and CapabilityMCP.
	URL string `mapstructure:"url"`
	// Headers are forwarded on every MCP call. Load stores header names
	// in canonical HTTP form.
	Headers map[string]string `mapstructure:"headers"`
	// Transport selects the MCP wire transport; recognized values are
	// "http" and "sse".
	Transport string `mapstructure:"transport"`
}

// ServerConfig controls the External Interface Adapter's HTTP listener.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// TelemetryConfig points the process's OTel tracer/meter providers at an
// OTLP collector. Left empty, the process still records spans and
// counters against the SDK's local providers (so handler/a2a code paths
// stay identical either way); it just never ships them anywhere.
type TelemetryConfig struct {
	OTLPEndpoint string `mapstructure:"otlpEndpoint"`
}

// Config is the engine's full recognized configuration surface.
type Config struct {
	Model        ModelConfig        `mapstructure:"model"`
	Narrator     NarratorConfig     `mapstructure:"narrator"`
	Routing      RoutingConfig      `mapstructure:"routing"`
	Capabilities []CapabilityConfig `mapstructure:"capabilities"`
	Server       ServerConfig       `mapstructure:"server"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry"`
	DBPath       string             `mapstructure:"dbPath"`
	// CapabilitiesFile optionally names a separate YAML file holding
	// only the `capabilities[]` list, parsed directly with
	// gopkg.in/yaml.v3 rather than through viper (read, unmarshal,
	// then env expansion over URL/header values). Entries from this
	// file are appended after any inline `capabilities[]` entries.
	CapabilitiesFile string `mapstructure:"capabilitiesFile"`
}

// capabilitiesFileDoc is the top-level shape of a CapabilitiesFile: a
// single `capabilities:` key holding the same entries as the inline
// `capabilities[]` config key.
type capabilitiesFileDoc struct {
	Capabilities []CapabilityConfig `yaml:"capabilities"`
}

// loadCapabilitiesFile reads and parses path with yaml.v3, expanding
// `${VAR}`/`$VAR` references in Headers and URL against the process
// environment — capability entries are the one place this config
// commonly carries secrets (MCP/A2A bearer tokens), so tokens live in
// the environment, not the checked-in file.
func loadCapabilitiesFile(path string) ([]CapabilityConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read capabilities file: %w", err)
	}
	var doc capabilitiesFileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse capabilities file: %w", err)
	}
	for i := range doc.Capabilities {
		doc.Capabilities[i].URL = os.ExpandEnv(doc.Capabilities[i].URL)
		for k, v := range doc.Capabilities[i].Headers {
			doc.Capabilities[i].Headers[k] = os.ExpandEnv(v)
		}
	}
	return doc.Capabilities, nil
}

// NarratorInterval converts IntervalMs to a time.Duration for
// engine/narrator.Config.
func (c Config) NarratorInterval() time.Duration {
	return time.Duration(c.Narrator.IntervalMs) * time.Millisecond
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("narrator.intervalMs", 5000)
	v.SetDefault("narrator.recentWindow", 5)
	v.SetDefault("narrator.maxChars", 50)
	v.SetDefault("routing.alwaysTask", false)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("dbPath", "a2aengine.db")
}

// Option customizes Load's viper instance before the file and
// environment layers are applied.
type Option func(*viper.Viper)

// WithConfigFile points Load at an explicit config file path instead
// of the default search path (home dir, then working directory, for
// a file named "a2aengine-config").
func WithConfigFile(path string) Option {
	return func(v *viper.Viper) { v.SetConfigFile(path) }
}

// Load builds a Config by layering (lowest to highest precedence):
// built-in defaults, an optional YAML config file, and A2AENGINE_*
// environment variables (e.g. A2AENGINE_MODEL_PROVIDER,
// A2AENGINE_NARRATOR_INTERVALMS). A missing config file is not an
// error; a present but malformed one is.
func Load(opts ...Option) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("a2aengine-config")
	v.SetConfigType("yaml")
	v.AddConfigPath("$HOME")
	v.AddConfigPath(".")

	for _, opt := range opts {
		opt(v)
	}

	v.SetEnvPrefix("A2AENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		// An explicit --config path bypasses viper's search-path
		// lookup, so a missing file there surfaces as a plain *PathError
		// rather than ConfigFileNotFoundError; both mean "no file", not
		// "broken file".
		if !errors.As(err, &notFoundErr) && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CapabilitiesFile != "" {
		extra, err := loadCapabilitiesFile(cfg.CapabilitiesFile)
		if err != nil {
			return Config{}, err
		}
		cfg.Capabilities = append(cfg.Capabilities, extra...)
	}

	// viper lower-cases every key it reads, header names included;
	// restore the canonical HTTP form ("authorization" -> "Authorization").
	for i := range cfg.Capabilities {
		headers := cfg.Capabilities[i].Headers
		for k, v := range headers {
			if ck := http.CanonicalHeaderKey(k); ck != k {
				delete(headers, k)
				headers[ck] = v
			}
		}
	}

	return cfg, nil
}
