// Package factory builds credential-validated provider adapters from a
// provider identifier and the per-request credential.
package factory

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"panelchat-gateway/internal/config"
	"panelchat-gateway/internal/provider"
	anthropicProvider "panelchat-gateway/internal/provider/anthropic"
	geminiProvider "panelchat-gateway/internal/provider/gemini"
	ollamaProvider "panelchat-gateway/internal/provider/ollama"
	"panelchat-gateway/internal/provider/openaicompat"
	vllmProvider "panelchat-gateway/internal/provider/vllm"
)

const (
	defaultHTTPTimeout     = 60 * time.Second
	defaultDialTimeout     = 10 * time.Second
	defaultKeepAlive       = 30 * time.Second
	defaultIdleConnTimeout = 90 * time.Second

	defaultOpenAIModel = "gpt-3.5-turbo"
)

// Factory constructs provider adapters on demand. Adapters are per
// request because the credential arrives per request; the HTTP client is
// shared so connection pools survive across requests.
type Factory struct {
	cfg        config.Config
	httpClient *http.Client
}

// New constructs a factory. The shared client serves the REST-based
// adapters; SDK-based adapters manage their own transport.
func New(cfg config.Config) *Factory {
	return &Factory{
		cfg:        cfg,
		httpClient: newHTTPClient(defaultHTTPTimeout),
	}
}

// Create builds the adapter for name and validates the credential before
// returning it. Adapters may check again during use; the extra
// round-trip buys an early, unambiguous rejection of bad credentials at
// the endpoint boundary.
func (f *Factory) Create(ctx context.Context, name, credential string) (provider.Provider, error) {
	var (
		p   provider.Provider
		err error
	)

	switch name {
	case "google":
		p, err = geminiProvider.New(credential, f.cfg.Providers.Gemini.BaseURL, f.httpClient)
	case "chatgpt":
		p = openaicompat.New("chatgpt", credential, "", defaultOpenAIModel)
	case "grok":
		p = openaicompat.New("grok", credential, f.cfg.Providers.Grok.BaseURL, "")
	case "glama":
		p = openaicompat.New("glama", credential, f.cfg.Providers.Glama.BaseURL, "")
	case "anthropic":
		p, err = anthropicProvider.New(credential)
	case "ollama":
		host := credential
		if strings.TrimSpace(host) == "" {
			host = f.cfg.Providers.Ollama.BaseURL
		}
		p, err = ollamaProvider.New(host, f.httpClient)
	case "vllm":
		p, err = vllmProvider.New(credential)
	default:
		return nil, &provider.ConfigError{
			Reason: fmt.Sprintf("unsupported LLM provider: %s", name),
		}
	}
	if err != nil {
		return nil, err
	}

	if !p.ValidateCredential(ctx) {
		return nil, &provider.AuthError{Provider: name}
	}

	return p, nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAlive}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          50,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
