package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	t.Setenv("GLAMA_API_BASE_URL", "")
	t.Setenv("OLLAMA_HOST", "")

	cfg := Default()

	if cfg.Server.Port != 5000 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Providers.Grok.BaseURL != "https://api.x.ai/v1" {
		t.Errorf("grok base url = %q", cfg.Providers.Grok.BaseURL)
	}
	if cfg.Providers.Glama.BaseURL != "https://glama.ai/api/gateway/openai/v1" {
		t.Errorf("glama base url = %q", cfg.Providers.Glama.BaseURL)
	}
	if cfg.Providers.Ollama.BaseURL != "" {
		t.Errorf("ollama base url = %q", cfg.Providers.Ollama.BaseURL)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GLAMA_API_BASE_URL", "https://glama.example/v1")
	t.Setenv("OLLAMA_HOST", "http://gpu-box:11434")

	cfg := Default()

	if cfg.Providers.Glama.BaseURL != "https://glama.example/v1" {
		t.Errorf("glama base url = %q", cfg.Providers.Glama.BaseURL)
	}
	if cfg.Providers.Ollama.BaseURL != "http://gpu-box:11434" {
		t.Errorf("ollama base url = %q", cfg.Providers.Ollama.BaseURL)
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("GLAMA_API_BASE_URL", "")
	t.Setenv("OLLAMA_HOST", "")

	path := writeConfig(t, `
server:
  port: 8080
providers:
  ollama:
    base_url: http://localhost:11434
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Providers.Ollama.BaseURL != "http://localhost:11434" {
		t.Errorf("ollama base url = %q", cfg.Providers.Ollama.BaseURL)
	}
	// Unset sections keep their defaults.
	if cfg.Providers.Grok.BaseURL != "https://api.x.ai/v1" {
		t.Errorf("grok base url = %q", cfg.Providers.Grok.BaseURL)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "server: [not a mapping")
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "server.port",
		},
		{
			name:    "bad scheme",
			mutate:  func(c *Config) { c.Providers.Ollama.BaseURL = "ftp://host" },
			wantErr: "http or https",
		},
		{
			name:    "missing host",
			mutate:  func(c *Config) { c.Providers.Gemini.BaseURL = "https://" },
			wantErr: "missing a host",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("GLAMA_API_BASE_URL", "")
			t.Setenv("OLLAMA_HOST", "")
			cfg := Default()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateOK(t *testing.T) {
	t.Setenv("GLAMA_API_BASE_URL", "")
	t.Setenv("OLLAMA_HOST", "")

	if err := Default().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}
