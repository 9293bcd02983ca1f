// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Trust Dental Contributors

package config

import (
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	isaacerr "github.com/trustdental/isaac/pkg/errors"
)

// Config is the top-level Isaac configuration.
type Config struct {
	Server      ServerConfig              `mapstructure:"server"`
	Providers   map[string]ProviderConfig `mapstructure:"providers"`
	Models      ModelsConfig              `mapstructure:"models"`
	Containment ContainmentConfig         `mapstructure:"containment"`
	Tools       ToolsConfig               `mapstructure:"tools"`
	Storage     StorageConfig             `mapstructure:"storage"`
	Session     SessionConfig             `mapstructure:"session"`
}

// ServerConfig controls how the gateway listens for connections.
type ServerConfig struct {
	Listen      string   `mapstructure:"listen"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// ProviderConfig holds credentials and endpoint for an LLM provider.
type ProviderConfig struct {
	APIKey   string `mapstructure:"api_key"`
	Endpoint string `mapstructure:"endpoint"`
}

// ModelsConfig controls model selection and generation limits.
type ModelsConfig struct {
	Default  string        `mapstructure:"default"`
	Failover []string      `mapstructure:"failover"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ContainmentConfig tunes the security gate.
type ContainmentConfig struct {
	// DecayAfter is the run of consecutive on-topic turns that resets
	// STRIKE_1 or STRIKE_2 back to NONE. LOCKED never decays.
	DecayAfter int `mapstructure:"decay_after"`
	// DriftWindow is the number of recent turns considered for the
	// topic-drift ratio.
	DriftWindow int `mapstructure:"drift_window"`
	// DriftRatio is the off-topic fraction that forces strict
	// dental-only behavior even without a strike.
	DriftRatio float64 `mapstructure:"drift_ratio"`
}

// ToolsConfig controls external tool execution.
type ToolsConfig struct {
	Timeout    time.Duration   `mapstructure:"timeout"`
	MaxRetries int             `mapstructure:"max_retries"`
	Knowledge  KnowledgeConfig `mapstructure:"knowledge"`
}

// KnowledgeConfig points at the knowledge-retrieval backend.
type KnowledgeConfig struct {
	Endpoint string `mapstructure:"endpoint"`
}

// StorageConfig locates the patient record database and the optional
// local literature index.
type StorageConfig struct {
	RecordsPath string `mapstructure:"records_path"`
	// LiteraturePath, when set, backs knowledge lookups with a local
	// index instead of the remote retrieval endpoint.
	LiteraturePath string `mapstructure:"literature_path"`
}

// SessionConfig controls per-conversation memory.
type SessionConfig struct {
	// HistoryWindow is the number of recent turns sent to the model.
	HistoryWindow int `mapstructure:"history_window"`
}

// SetDefaults installs default values on the given viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", "127.0.0.1:8560")
	v.SetDefault("models.default", "anthropic/claude-sonnet-4-5")
	v.SetDefault("models.timeout", 60*time.Second)
	v.SetDefault("containment.decay_after", 3)
	v.SetDefault("containment.drift_window", 10)
	v.SetDefault("containment.drift_ratio", 0.30)
	v.SetDefault("tools.timeout", 15*time.Second)
	v.SetDefault("tools.max_retries", 1)
	v.SetDefault("storage.records_path", "records.db")
	v.SetDefault("session.history_window", 50)
}

// SetupEnv binds the ISAAC_ environment prefix so every key can be
// overridden, e.g. ISAAC_SERVER_LISTEN or ISAAC_PROVIDERS_OPENAI_API_KEY.
func SetupEnv(v *viper.Viper) {
	v.SetEnvPrefix("ISAAC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads configuration from the given path (or defaults) with
// environment variable overrides.
func Load(path string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)
	SetupEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, isaacerr.Errorf(isaacerr.CodeConfigLoadReadFailure, "reading config %s: %w", path, err)
		}
	}

	return FromViper(v)
}

// FromViper unmarshals and validates a pre-populated viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, isaacerr.Errorf(isaacerr.CodeConfigValidateInvalidValue, "unmarshalling config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, isaacerr.Errorf(isaacerr.CodeConfigValidateInvalidValue, "validating config: %w", errors.Join(errs...))
	}

	return &cfg, nil
}

// Validate checks the configuration for logical errors. It returns all
// validation errors found rather than stopping at the first one.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateServer()...)
	errs = append(errs, c.validateModels()...)
	errs = append(errs, c.validateContainment()...)
	errs = append(errs, c.validateTools()...)
	errs = append(errs, c.validateSession()...)

	return errs
}

func (c *Config) validateServer() []error {
	var errs []error

	if c.Server.Listen == "" {
		errs = append(errs, isaacerr.Errorf(isaacerr.CodeConfigValidateInvalidValue, "config: server.listen must not be empty"))
		return errs
	}

	_, portStr, err := net.SplitHostPort(c.Server.Listen)
	if err != nil {
		errs = append(errs, isaacerr.Errorf(isaacerr.CodeConfigValidateInvalidValue,
			"config: server.listen must be a valid host:port address, got %q: %w",
			c.Server.Listen, err,
		))
		return errs
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		errs = append(errs, isaacerr.Errorf(isaacerr.CodeConfigValidateInvalidValue,
			"config: server.listen port must be a number, got %q", portStr))
	} else if port < 1 || port > 65535 {
		errs = append(errs, isaacerr.Errorf(isaacerr.CodeConfigValidateInvalidValue,
			"config: server.listen port must be between 1 and 65535, got %d", port))
	}

	return errs
}

func (c *Config) validateModels() []error {
	var errs []error

	if c.Models.Default == "" {
		errs = append(errs, isaacerr.Errorf(isaacerr.CodeConfigValidateInvalidValue, "config: models.default must not be empty"))
	} else if !strings.Contains(c.Models.Default, "/") {
		errs = append(errs, isaacerr.Errorf(isaacerr.CodeConfigValidateInvalidValue,
			"config: models.default must be in \"provider/model\" format, got %q", c.Models.Default))
	} else if c.Providers != nil {
		// Only cross-reference providers when the providers section
		// exists; a nil map means defaults only, which is valid.
		name := ProviderFromModel(c.Models.Default)
		if _, ok := c.Providers[name]; !ok {
			errs = append(errs, isaacerr.Errorf(isaacerr.CodeConfigValidateInvalidValue,
				"config: models.default %q references provider %q which is not configured",
				c.Models.Default, name))
		}
	}

	for i, model := range c.Models.Failover {
		if !strings.Contains(model, "/") {
			errs = append(errs, isaacerr.Errorf(isaacerr.CodeConfigValidateInvalidValue,
				"config: models.failover[%d] must be in \"provider/model\" format, got %q", i, model))
			continue
		}
		if c.Providers != nil {
			name := ProviderFromModel(model)
			if _, ok := c.Providers[name]; !ok {
				errs = append(errs, isaacerr.Errorf(isaacerr.CodeConfigValidateInvalidValue,
					"config: models.failover[%d] %q references provider %q which is not configured",
					i, model, name))
			}
		}
	}

	if c.Models.Timeout <= 0 {
		errs = append(errs, isaacerr.Errorf(isaacerr.CodeConfigValidateInvalidValue,
			"config: models.timeout must be greater than 0, got %s", c.Models.Timeout))
	}

	return errs
}

func (c *Config) validateContainment() []error {
	var errs []error

	if c.Containment.DecayAfter < 1 {
		errs = append(errs, isaacerr.Errorf(isaacerr.CodeConfigValidateInvalidValue,
			"config: containment.decay_after must be at least 1, got %d", c.Containment.DecayAfter))
	}

	if c.Containment.DriftWindow < 3 {
		errs = append(errs, isaacerr.Errorf(isaacerr.CodeConfigValidateInvalidValue,
			"config: containment.drift_window must be at least 3, got %d", c.Containment.DriftWindow))
	}

	if c.Containment.DriftRatio <= 0 || c.Containment.DriftRatio >= 1 {
		errs = append(errs, isaacerr.Errorf(isaacerr.CodeConfigValidateInvalidValue,
			"config: containment.drift_ratio must be between 0 and 1 exclusive, got %g", c.Containment.DriftRatio))
	}

	return errs
}

func (c *Config) validateTools() []error {
	var errs []error

	if c.Tools.Timeout <= 0 {
		errs = append(errs, isaacerr.Errorf(isaacerr.CodeConfigValidateInvalidValue,
			"config: tools.timeout must be greater than 0, got %s", c.Tools.Timeout))
	}

	if c.Tools.MaxRetries < 0 || c.Tools.MaxRetries > 1 {
		errs = append(errs, isaacerr.Errorf(isaacerr.CodeConfigValidateInvalidValue,
			"config: tools.max_retries must be 0 or 1, got %d", c.Tools.MaxRetries))
	}

	return errs
}

func (c *Config) validateSession() []error {
	var errs []error

	if c.Session.HistoryWindow <= 0 {
		errs = append(errs, isaacerr.Errorf(isaacerr.CodeConfigValidateInvalidValue,
			"config: session.history_window must be greater than 0, got %d", c.Session.HistoryWindow))
	}

	return errs
}

// ProviderFromModel extracts the provider prefix from a "provider/model" string.
func ProviderFromModel(model string) string {
	if idx := strings.Index(model, "/"); idx > 0 {
		return model[:idx]
	}
	return model
}
