package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	defaultPort         = 5000
	defaultGrokBaseURL  = "https://api.x.ai/v1"
	defaultGlamaBaseURL = "https://glama.ai/api/gateway/openai/v1"
)

// Config represents the application configuration parsed from YAML. API
// keys are never configured here; they arrive per request.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
}

// ServerConfig defines listener configuration.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// ProvidersConfig holds per-vendor endpoint overrides.
type ProvidersConfig struct {
	Grok   EndpointConfig `yaml:"grok"`
	Glama  EndpointConfig `yaml:"glama"`
	Gemini EndpointConfig `yaml:"gemini"`
	Ollama EndpointConfig `yaml:"ollama"`
}

// EndpointConfig captures routing info for a provider endpoint.
type EndpointConfig struct {
	BaseURL string `yaml:"base_url"`
}

func builtin() Config {
	return Config{
		Server: ServerConfig{Port: defaultPort},
		Providers: ProvidersConfig{
			Grok:  EndpointConfig{BaseURL: defaultGrokBaseURL},
			Glama: EndpointConfig{BaseURL: defaultGlamaBaseURL},
		},
	}
}

// Default returns the built-in configuration with environment overrides
// applied.
func Default() Config {
	cfg := builtin()
	cfg.applyEnv()
	return cfg
}

// Load reads YAML configuration from disk on top of the defaults and
// validates the result.
func Load(path string) (Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %q: %w", absPath, err)
	}

	cfg := builtin()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file %q: %w", absPath, err)
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv honors the environment variables the panel backend has always
// recognized.
func (c *Config) applyEnv() {
	if v := os.Getenv("GLAMA_API_BASE_URL"); v != "" {
		c.Providers.Glama.BaseURL = v
	}
	if v := os.Getenv("OLLAMA_HOST"); v != "" {
		c.Providers.Ollama.BaseURL = v
	}
}

// Validate performs strict sanity checks on the configuration.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be a valid TCP port, got %d", c.Server.Port)
	}

	endpoints := map[string]EndpointConfig{
		"grok":   c.Providers.Grok,
		"glama":  c.Providers.Glama,
		"gemini": c.Providers.Gemini,
		"ollama": c.Providers.Ollama,
	}
	for name, endpoint := range endpoints {
		if err := validateEndpoint(name, endpoint); err != nil {
			return err
		}
	}

	return nil
}

func validateEndpoint(name string, endpoint EndpointConfig) error {
	if endpoint.BaseURL == "" {
		return nil
	}

	parsed, err := url.Parse(endpoint.BaseURL)
	if err != nil {
		return fmt.Errorf("provider %s: base_url %q is not a valid URL: %w", name, endpoint.BaseURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("provider %s: base_url %q must use http or https", name, endpoint.BaseURL)
	}
	if parsed.Host == "" {
		return fmt.Errorf("provider %s: base_url %q is missing a host", name, endpoint.BaseURL)
	}
	return nil
}
