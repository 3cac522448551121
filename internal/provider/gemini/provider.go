// Package gemini implements the provider contract for the Google Gemini
// REST API (generateContent).
//
// The conversation is flattened into a single prompt string with
// System:/User:/Assistant: line labels instead of a true multi-turn
// contents array. This mirrors the behavior the panel has always had and
// is a documented simplification, not an oversight; a faithful multi-turn
// mapping would change observable output for existing dashboards.
package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"panelchat-gateway/internal/models"
	"panelchat-gateway/internal/provider"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultModel   = "gemini-2.0-flash"

	contentTypeJSON = "application/json"
	userAgent       = "panelchat-gateway/0.1"
)

// Provider talks to the Gemini REST API. The API key travels as a query
// parameter, not a header.
type Provider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// New constructs a Gemini adapter. An empty baseURL targets the public
// generative language API.
func New(apiKey, baseURL string, client *http.Client) (*Provider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, &provider.ConfigError{Reason: "Google API key is required"}
	}
	if client == nil {
		return nil, errors.New("http client must not be nil")
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &Provider{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}, nil
}

func (p *Provider) Name() string {
	return "google"
}

type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type generationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	TopK            *int     `json:"topK,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

type generateResponse struct {
	Candidates []candidate `json:"candidates"`
}

type candidate struct {
	Content content `json:"content"`
}

func (p *Provider) GenerateResponse(ctx context.Context, prompt models.Prompt, opts models.Options) (models.Reply, error) {
	model, ok := opts.Model()
	if !ok {
		model = defaultModel
	}
	// The catalog reports full resource names (models/gemini-2.0-flash);
	// the endpoint path re-adds the prefix, so accept both forms.
	model = strings.TrimPrefix(model, "models/")

	flattened, image := flattenPrompt(prompt)
	if strings.TrimSpace(flattened) == "" {
		return models.Reply{}, &provider.ValidationError{
			Reason: "gemini request requires at least one non-empty message",
		}
	}

	parts := []part{{Text: flattened}}
	if image != nil {
		parts = append(parts, part{InlineData: &inlineData{
			MimeType: image.MimeType,
			Data:     base64.StdEncoding.EncodeToString(image.Data),
		}})
	}

	payload := generateRequest{
		Contents: []content{{Role: models.RoleUser, Parts: parts}},
	}

	var config generationConfig
	configured := false
	if v, ok := opts.Float("temperature"); ok {
		config.Temperature = &v
		configured = true
	}
	if v, ok := opts.Float("top_p"); ok {
		config.TopP = &v
		configured = true
	}
	if v, ok := opts.Int("top_k"); ok {
		config.TopK = &v
		configured = true
	}
	if v, ok := opts.Int("max_tokens"); ok {
		config.MaxOutputTokens = &v
		configured = true
	}
	if stops, ok := opts.StringSlice("stop"); ok {
		config.StopSequences = stops
		configured = true
	}
	if configured {
		payload.GenerationConfig = &config
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		p.baseURL, url.PathEscape(model), url.QueryEscape(p.apiKey))

	httpResp, err := p.doJSON(ctx, http.MethodPost, endpoint, payload)
	if err != nil {
		return models.Reply{}, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 400 {
		return models.Reply{}, p.parseAPIError(httpResp)
	}

	var resp generateResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return models.Reply{}, &provider.UpstreamError{
			Provider: "google",
			Message:  "failed to decode generateContent response",
			Err:      err,
		}
	}

	if len(resp.Candidates) == 0 {
		return models.Reply{}, &provider.ValidationError{
			Reason: "gemini API returned an empty response",
		}
	}

	var text strings.Builder
	for _, pt := range resp.Candidates[0].Content.Parts {
		text.WriteString(pt.Text)
	}

	response := strings.TrimSpace(text.String())
	if response == "" {
		return models.Reply{}, &provider.ValidationError{
			Reason: "gemini API returned an empty response",
		}
	}

	return models.Reply{Response: response}, nil
}

// flattenPrompt joins all turns into one labelled prompt string and pulls
// out the inline image, if any. Labels come from the caller's original
// role so a remapped system message still reads "System:".
func flattenPrompt(prompt models.Prompt) (string, *models.ImagePart) {
	var lines []string
	var image *models.ImagePart

	for _, turn := range prompt.Turns {
		var text strings.Builder
		for _, pt := range turn.Parts {
			if pt.Image != nil {
				image = pt.Image
				continue
			}
			text.WriteString(pt.Text)
		}

		var label string
		switch turn.Origin {
		case models.RoleSystem:
			label = "System"
		case models.RoleUser:
			label = "User"
		default:
			label = "Assistant"
		}
		lines = append(lines, label+": "+text.String())
	}

	return strings.Join(lines, "\n"), image
}

func (p *Provider) ValidateCredential(ctx context.Context) bool {
	list, err := p.fetchModels(ctx)
	return err == nil && list != nil
}

type modelList struct {
	Models []modelInfo `json:"models"`
}

type modelInfo struct {
	Name                       string   `json:"name"`
	DisplayName                string   `json:"displayName"`
	SupportedGenerationMethods []string `json:"supportedGenerationMethods"`
}

func (p *Provider) ListModels(ctx context.Context) ([]models.ModelDescriptor, error) {
	list, err := p.fetchModels(ctx)
	if err != nil {
		return nil, err
	}

	descriptors := make([]models.ModelDescriptor, 0, len(list.Models))
	for _, info := range list.Models {
		if info.Name == "" || !supportsGeneration(info) {
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
		descriptors = append(descriptors, models.ModelDescriptor{
			Label: label,
			Value: info.Name,
		})
	}

	models.SortDescriptors(descriptors)
	return descriptors, nil
}

func supportsGeneration(info modelInfo) bool {
	for _, method := range info.SupportedGenerationMethods {
		if method == "generateContent" {
			return true
		}
	}
	return false
}

func (p *Provider) fetchModels(ctx context.Context) (*modelList, error) {
	endpoint := fmt.Sprintf("%s/models?key=%s", p.baseURL, url.QueryEscape(p.apiKey))

	httpResp, err := p.doJSON(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 400 {
		return nil, p.parseAPIError(httpResp)
	}

	var list modelList
	if err := json.NewDecoder(httpResp.Body).Decode(&list); err != nil {
		return nil, &provider.UpstreamError{
			Provider: "google",
			Message:  "failed to decode model list response",
			Err:      err,
		}
	}
	return &list, nil
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
		return nil, &provider.UpstreamError{Provider: "google", Err: err}
	}
	return resp, nil
}

type apiErrorResponse struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

func (p *Provider) parseAPIError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return &provider.UpstreamError{
			Provider:   "google",
			StatusCode: resp.StatusCode,
			Message:    "failed to read error body",
			Err:        err,
		}
	}

	if resp.StatusCode == 401 || resp.StatusCode == 403 {
		return &provider.AuthError{Provider: "google"}
	}

	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		if strings.Contains(apiErr.Error.Message, "API key not valid") {
			return &provider.AuthError{Provider: "google"}
		}
		return &provider.UpstreamError{
			Provider:   "google",
			StatusCode: resp.StatusCode,
			Message:    apiErr.Error.Message,
		}
	}

	return &provider.UpstreamError{
		Provider:   "google",
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(body)),
	}
}
