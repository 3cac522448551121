// Package vllm serves self-hosted OpenAI-compatible inference servers. The
// caller's credential field carries the server URL rather than a secret, so
// validation is a reachability probe against the models endpoint.
package vllm

import (
	"strings"

	"panelchat-gateway/internal/provider"
	"panelchat-gateway/internal/provider/openaicompat"
)

// Most vLLM deployments run without authentication but the OpenAI wire
// shape still requires a key field.
const placeholderKey = "EMPTY"

// Provider delegates to the shared OpenAI-compatible adapter with the
// server URL normalized to its versioned path.
type Provider struct {
	*openaicompat.Provider
}

// New constructs an adapter for the server at rawURL.
func New(rawURL string) (*Provider, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, &provider.ConfigError{Reason: "vllm server URL is required"}
	}

	return &Provider{
		Provider: openaicompat.New("vllm", placeholderKey, NormalizeBaseURL(rawURL), ""),
	}, nil
}

// NormalizeBaseURL guarantees the base URL ends in /v1 regardless of
// caller-supplied trailing slashes.
func NormalizeBaseURL(rawURL string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(rawURL), "/")
	if !strings.HasSuffix(trimmed, "/v1") {
		trimmed += "/v1"
	}
	return trimmed
}
