package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/woxQAQ/candid-extractor/internal/wasm"
)

// EnvPrefix prefixes every environment override, e.g.
// CANDID_EXTRACTOR_ENGINE or CANDID_EXTRACTOR_WASM_EXECUTION_TIMEOUT.
const EnvPrefix = "CANDID_EXTRACTOR"

// Report formats for batch output.
const (
	FormatText = "text"
	FormatYAML = "yaml"
	FormatJSON = "json"
)

type Config struct {
	LogLevel string     `mapstructure:"log_level"`
	Engine   string     `mapstructure:"engine"`
	Format   string     `mapstructure:"format"`
	Jobs     int        `mapstructure:"jobs"`
	Manifest string     `mapstructure:"manifest"`
	Wasm     WasmConfig `mapstructure:"wasm"`
}

// WasmConfig holds sandbox configuration.
type WasmConfig struct {
	// Execution budget per module (seconds). 0 disables the limit.
	ExecutionTimeout int `mapstructure:"execution_timeout"`
	// wazero execution mode: auto, interpreter or compiler.
	Compiler string `mapstructure:"compiler"`
}

// Load reads defaults, an optional config file, the environment and any
// flags bound by name (flags win over everything else).
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	v.SetDefault("log_level", "info")
	v.SetDefault("engine", wasm.DefaultEngine)
	v.SetDefault("format", FormatText)
	v.SetDefault("jobs", 4)
	v.SetDefault("manifest", "candid.yaml")

	v.SetDefault("wasm.execution_timeout", 30)
	v.SetDefault("wasm.compiler", wasm.CompilerAuto)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	if flags != nil {
		for key, name := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag --%s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// flagKeys maps config keys to the CLI flags that override them.
var flagKeys = map[string]string{
	"log_level":              "log-level",
	"engine":                 "engine",
	"format":                 "format",
	"jobs":                   "jobs",
	"manifest":               "manifest",
	"wasm.execution_timeout": "timeout",
	"wasm.compiler":          "wazero-compiler",
}

// Validate checks values viper cannot type-check.
func (c *Config) Validate() error {
	switch c.Format {
	case FormatText, FormatYAML, FormatJSON:
	default:
		return fmt.Errorf("unsupported format: %s (must be one of: text, yaml, json)", c.Format)
	}

	switch c.Wasm.Compiler {
	case wasm.CompilerAuto, wasm.CompilerInterpreter, wasm.CompilerNative:
	default:
		return fmt.Errorf("unsupported wazero compiler mode: %s (must be one of: auto, interpreter, compiler)", c.Wasm.Compiler)
	}

	if c.Jobs < 1 {
		return fmt.Errorf("jobs must be at least 1, got %d", c.Jobs)
	}

	if c.Wasm.ExecutionTimeout < 0 {
		return fmt.Errorf("wasm.execution_timeout must not be negative, got %d", c.Wasm.ExecutionTimeout)
	}

	return nil
}

// RuntimeConfig converts the loaded values into sandbox configuration.
func (c *Config) RuntimeConfig() *wasm.RuntimeConfig {
	return &wasm.RuntimeConfig{
		Engine:           c.Engine,
		ExecutionTimeout: time.Duration(c.Wasm.ExecutionTimeout) * time.Second,
		Compiler:         c.Wasm.Compiler,
	}
}
