// Package listing provides a raw REST fallback for model listing when a
// provider adapter cannot produce a list itself. It knows the catalog
// endpoint, auth scheme and response shape for each hosted vendor and
// nothing else; generation never goes through here.
package listing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"panelchat-gateway/internal/models"
	"panelchat-gateway/internal/provider"
)

const (
	fallbackTimeout  = 15 * time.Second
	anthropicVersion = "2023-06-01"

	contentTypeJSON = "application/json"
	userAgent       = "panelchat-gateway/0.1"
)

type authStyle int

const (
	authBearer authStyle = iota
	authQueryParam
	authAnthropicHeaders
)

type listShape int

const (
	shapeOpenAI listShape = iota
	shapeGoogle
	shapeAnthropic
)

type vendorEndpoint struct {
	url   string
	auth  authStyle
	shape listShape
}

func defaultEndpoints() map[string]vendorEndpoint {
	return map[string]vendorEndpoint{
		"google": {
			url:   "https://generativelanguage.googleapis.com/v1beta/models",
			auth:  authQueryParam,
			shape: shapeGoogle,
		},
		"anthropic": {
			url:   "https://api.anthropic.com/v1/models",
			auth:  authAnthropicHeaders,
			shape: shapeAnthropic,
		},
		"chatgpt": {
			url:   "https://api.openai.com/v1/models",
			auth:  authBearer,
			shape: shapeOpenAI,
		},
		"grok": {
			url:   "https://api.x.ai/v1/models",
			auth:  authBearer,
			shape: shapeOpenAI,
		},
		"glama": {
			url:   "https://glama.ai/api/gateway/openai/v1/models",
			auth:  authBearer,
			shape: shapeOpenAI,
		},
	}
}

// Fallback fetches model catalogs directly from vendor REST endpoints.
type Fallback struct {
	client    *http.Client
	endpoints map[string]vendorEndpoint
}

// New constructs a fallback lister sharing the given HTTP client.
func New(client *http.Client) *Fallback {
	if client == nil {
		client = &http.Client{}
	}
	return &Fallback{
		client:    client,
		endpoints: defaultEndpoints(),
	}
}

// Supports reports whether name has a fallback catalog endpoint. Local
// servers (ollama, vllm) have none; their adapters are the only source.
func (f *Fallback) Supports(name string) bool {
	_, ok := f.endpoints[name]
	return ok
}

// Fetch retrieves and normalizes the model catalog for the named vendor.
func (f *Fallback) Fetch(ctx context.Context, name, credential string) ([]models.ModelDescriptor, error) {
	endpoint, ok := f.endpoints[name]
	if !ok {
		return nil, &provider.ConfigError{
			Reason: fmt.Sprintf("no fallback model listing for provider %s", name),
		}
	}

	ctx, cancel := context.WithTimeout(ctx, fallbackTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.url, nil)
	if err != nil {
		return nil, fmt.Errorf("construct request: %w", err)
	}

	req.Header.Set("Accept", contentTypeJSON)
	req.Header.Set("User-Agent", userAgent)

	switch endpoint.auth {
	case authBearer:
		req.Header.Set("Authorization", "Bearer "+credential)
	case authQueryParam:
		query := req.URL.Query()
		query.Set("key", credential)
		req.URL.RawQuery = query.Encode()
	case authAnthropicHeaders:
		req.Header.Set("x-api-key", credential)
		req.Header.Set("anthropic-version", anthropicVersion)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, &provider.TimeoutError{Provider: name, URL: endpoint.url}
		}
		return nil, &provider.UpstreamError{Provider: name, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, parseAPIError(name, resp)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
	if err != nil {
		return nil, &provider.UpstreamError{
			Provider: name,
			Message:  "failed to read model list response",
			Err:      err,
		}
	}

	descriptors, err := parseCatalog(name, endpoint.shape, body)
	if err != nil {
		return nil, err
	}

	models.SortDescriptors(descriptors)
	return descriptors, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr) && urlErr.Timeout()
}

type openAICatalog struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

type googleCatalog struct {
	Models []struct {
		Name                       string   `json:"name"`
		DisplayName                string   `json:"displayName"`
		SupportedGenerationMethods []string `json:"supportedGenerationMethods"`
	} `json:"models"`
}

type anthropicCatalog struct {
	Data []struct {
		ID          string `json:"id"`
		DisplayName string `json:"display_name"`
	} `json:"data"`
}

func parseCatalog(name string, shape listShape, body []byte) ([]models.ModelDescriptor, error) {
	switch shape {
	case shapeGoogle:
		var catalog googleCatalog
		if err := json.Unmarshal(body, &catalog); err != nil {
			return nil, decodeError(name, err)
		}
		descriptors := make([]models.ModelDescriptor, 0, len(catalog.Models))
		for _, info := range catalog.Models {
			if info.Name == "" || !contains(info.SupportedGenerationMethods, "generateContent") {
				continue
			}
			label := info.DisplayName
			if label == "" {
				if idx := strings.LastIndexByte(info.Name, '/'); idx >= 0 {
					label = info.Name[idx+1:]
				} else {
					label = info.Name
				}
			}
			descriptors = append(descriptors, models.ModelDescriptor{Label: label, Value: info.Name})
		}
		return descriptors, nil

	case shapeAnthropic:
		var catalog anthropicCatalog
		if err := json.Unmarshal(body, &catalog); err != nil {
			return nil, decodeError(name, err)
		}
		descriptors := make([]models.ModelDescriptor, 0, len(catalog.Data))
		for _, info := range catalog.Data {
			if info.ID == "" {
				continue
			}
			label := info.DisplayName
			if label == "" {
				label = info.ID
			}
			descriptors = append(descriptors, models.ModelDescriptor{Label: label, Value: info.ID})
		}
		return descriptors, nil

	default:
		var catalog openAICatalog
		if err := json.Unmarshal(body, &catalog); err != nil {
			return nil, decodeError(name, err)
		}
		descriptors := make([]models.ModelDescriptor, 0, len(catalog.Data))
		for _, info := range catalog.Data {
			if info.ID == "" {
				continue
			}
			descriptors = append(descriptors, models.ModelDescriptor{Label: info.ID, Value: info.ID})
		}
		return descriptors, nil
	}
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

func decodeError(name string, err error) error {
	return &provider.UpstreamError{
		Provider: name,
		Message:  "failed to decode model list response",
		Err:      err,
	}
}

func parseAPIError(name string, resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return &provider.UpstreamError{
			Provider:   name,
			StatusCode: resp.StatusCode,
			Message:    "failed to read error body",
			Err:        err,
		}
	}

	if resp.StatusCode == 401 || resp.StatusCode == 403 {
		return &provider.AuthError{Provider: name}
	}

	return &provider.UpstreamError{
		Provider:   name,
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(body)),
	}
}
