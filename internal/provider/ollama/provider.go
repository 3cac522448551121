// Package ollama implements the provider contract for a local Ollama
// server. The caller's credential field carries the host URL; there is no
// secret to check, so credential validation degrades to a reachability
// probe against /api/tags. Unlike the hosted vendors, the options bag is
// forwarded opaquely because Ollama accepts arbitrary runtime parameters.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"panelchat-gateway/internal/models"
	"panelchat-gateway/internal/provider"
)

const (
	contentTypeJSON = "application/json"
	userAgent       = "panelchat-gateway/0.1"
)

// Provider talks to one Ollama server.
type Provider struct {
	host   string
	client *http.Client
}

// New constructs an Ollama adapter for the server at host.
func New(host string, client *http.Client) (*Provider, error) {
	if strings.TrimSpace(host) == "" {
		return nil, &provider.ConfigError{Reason: "Ollama host URL is required"}
	}
	if client == nil {
		return nil, errors.New("http client must not be nil")
	}

	return &Provider{
		host:   strings.TrimRight(strings.TrimSpace(host), "/"),
		client: client,
	}, nil
}

func (p *Provider) Name() string {
	return "ollama"
}

type chatPayload struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Message chatMessage `json:"message"`
	Error   string      `json:"error,omitempty"`
}

func (p *Provider) GenerateResponse(ctx context.Context, prompt models.Prompt, opts models.Options) (models.Reply, error) {
	model, ok := opts.Model()
	if !ok {
		return models.Reply{}, &provider.ConfigError{
			Reason: "missing required option 'model' for provider ollama",
		}
	}

	messages := make([]chatMessage, 0, len(prompt.Turns))
	for _, turn := range prompt.Turns {
		messages = append(messages, chatMessage{
			Role:    turn.Role,
			Content: turn.Text,
		})
	}

	payload := chatPayload{
		Model:    model,
		Messages: messages,
	}

	// Forward unknown keys untouched; Ollama takes an open parameter bag.
	// max_tokens is the one remapped name.
	runtime := make(map[string]any)
	for key, value := range opts {
		switch key {
		case "model", "max_tokens":
		default:
			runtime[key] = value
		}
	}
	if v, ok := opts.Int("max_tokens"); ok {
		runtime["num_predict"] = v
	}
	if len(runtime) > 0 {
		payload.Options = runtime
	}

	httpResp, err := p.doJSON(ctx, http.MethodPost, p.host+"/api/chat", payload)
	if err != nil {
		return models.Reply{}, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 400 {
		return models.Reply{}, p.parseAPIError(httpResp)
	}

	var resp chatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return models.Reply{}, &provider.UpstreamError{
			Provider: "ollama",
			Message:  "failed to decode chat response",
			Err:      err,
		}
	}

	text := strings.TrimSpace(resp.Message.Content)
	if text == "" {
		return models.Reply{}, &provider.ValidationError{
			Reason: "ollama API returned an empty or invalid response",
		}
	}

	return models.Reply{Response: text}, nil
}

func (p *Provider) ValidateCredential(ctx context.Context) bool {
	httpResp, err := p.doJSON(ctx, http.MethodGet, p.host+"/api/tags", nil)
	if err != nil {
		return false
	}
	defer httpResp.Body.Close()
	return httpResp.StatusCode < 400
}

type tagList struct {
	Models []tagInfo `json:"models"`
}

type tagInfo struct {
	Name  string `json:"name"`
	Model string `json:"model"`
}

func (p *Provider) ListModels(ctx context.Context) ([]models.ModelDescriptor, error) {
	httpResp, err := p.doJSON(ctx, http.MethodGet, p.host+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 400 {
		return nil, p.parseAPIError(httpResp)
	}

	var tags tagList
	if err := json.NewDecoder(httpResp.Body).Decode(&tags); err != nil {
		return nil, &provider.UpstreamError{
			Provider: "ollama",
			Message:  "failed to decode tag list",
			Err:      err,
		}
	}

	descriptors := make([]models.ModelDescriptor, 0, len(tags.Models))
	for _, tag := range tags.Models {
		name := tag.Model
		if name == "" {
			name = tag.Name
		}
		if name == "" {
			continue
		}
		descriptors = append(descriptors, models.ModelDescriptor{
			Label: name,
			Value: name,
		})
	}

	models.SortDescriptors(descriptors)
	return descriptors, nil
}

func (p *Provider) doJSON(ctx context.Context, method, endpoint string, payload any) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("construct request: %w", err)
	}

	req.Header.Set("Accept", contentTypeJSON)
	req.Header.Set("User-Agent", userAgent)
	if payload != nil {
		req.Header.Set("Content-Type", contentTypeJSON)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &provider.UpstreamError{Provider: "ollama", Err: err}
	}
	return resp, nil
}

func (p *Provider) parseAPIError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return &provider.UpstreamError{
			Provider:   "ollama",
			StatusCode: resp.StatusCode,
			Message:    "failed to read error body",
			Err:        err,
		}
	}

	var apiErr struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error != "" {
		return &provider.UpstreamError{
			Provider:   "ollama",
			StatusCode: resp.StatusCode,
			Message:    apiErr.Error,
		}
	}

	return &provider.UpstreamError{
		Provider:   "ollama",
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(body)),
	}
}
