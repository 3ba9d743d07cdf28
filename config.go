package httpengine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// EngineConfig is the top-level configuration for an Engine: its listeners
// plus the path prefix and debug flag SPEC_FULL §6 names as the engine's
// own environment surface.
type EngineConfig struct {
	Listeners  []ListenerConfig `mapstructure:"listeners"`
	PathPrefix string           `mapstructure:"path_prefix"`
	Debug      bool             `mapstructure:"debug"`

	// AppName identifies the application in log output.
	AppName string `mapstructure:"app_name"`
	// LoggerDisabled turns off the engine's Logger. Zero value (false)
	// leaves it enabled.
	LoggerDisabled bool `mapstructure:"logger_disabled"`
	// LoggerFormat is a text/template string evaluated per log line, in
	// the teacher's logger.go style. See DefaultLoggerFormat.
	LoggerFormat string `mapstructure:"logger_format"`
}

// LoadConfigFile reads path (a .toml, .yaml/.yml, or .json file, chosen by
// extension) into a generic map, then decodes it into an EngineConfig via
// mapstructure, mirroring the teacher's own Serve()-time config loading in
// air.go.
func LoadConfigFile(path string) (EngineConfig, error) {
	var raw map[string]interface{}

	switch filepath.Ext(path) {
	case ".toml":
		if _, err := toml.DecodeFile(path, &raw); err != nil {
			return EngineConfig{}, fmt.Errorf("httpengine: failed to decode toml config: %w", err)
		}
	case ".yaml", ".yml":
		b, err := os.ReadFile(path)
		if err != nil {
			return EngineConfig{}, err
		}
		if err := yaml.Unmarshal(b, &raw); err != nil {
			return EngineConfig{}, fmt.Errorf("httpengine: failed to decode yaml config: %w", err)
		}
	case ".json":
		b, err := os.ReadFile(path)
		if err != nil {
			return EngineConfig{}, err
		}
		if err := json.Unmarshal(b, &raw); err != nil {
			return EngineConfig{}, fmt.Errorf("httpengine: failed to decode json config: %w", err)
		}
	default:
		return EngineConfig{}, fmt.Errorf("httpengine: unsupported config file extension %q", filepath.Ext(path))
	}

	var cfg EngineConfig
	if err := mapstructure.Decode(raw, &cfg); err != nil {
		return EngineConfig{}, fmt.Errorf("httpengine: failed to map config into EngineConfig: %w", err)
	}

	applyEnvironmentOverrides(&cfg)
	return cfg, nil
}

// applyEnvironmentOverrides reads PORT, the only environment variable
// SPEC_FULL §6 says the engine itself consults, applying it to every
// listener that didn't declare its own port.
func applyEnvironmentOverrides(cfg *EngineConfig) {
	port := os.Getenv("PORT")
	if port == "" {
		return
	}
	if _, err := strconv.Atoi(port); err != nil {
		return
	}
	for i := range cfg.Listeners {
		if cfg.Listeners[i].Port == "" {
			cfg.Listeners[i].Port = port
		}
	}
}

// DefaultEngineConfig returns a single-listener, plaintext-HTTP
// configuration listening on PORT or 8080, with no path prefix.
func DefaultEngineConfig() EngineConfig {
	cfg := EngineConfig{
		Listeners: []ListenerConfig{{Scheme: SchemeHTTP}},
	}
	applyEnvironmentOverrides(&cfg)
	if cfg.Listeners[0].Port == "" {
		cfg.Listeners[0].Port = "8080"
	}
	return cfg
}
