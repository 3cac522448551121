// Package anthropic implements the provider contract for Claude models via
// the official Anthropic SDK. System-role content is hoisted into the API's
// dedicated system parameter by the normalization engine; the adapter only
// carries it across. Thinking blocks in the response surface as a separate
// reasoning trace.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"panelchat-gateway/internal/models"
	"panelchat-gateway/internal/provider"
)

// The Messages API requires max_tokens; this default matches the original
// panel backend.
const defaultMaxTokens = 2048

// Provider implements the contract for the Anthropic Messages API.
type Provider struct {
	client *anthropic.Client
}

// New constructs an Anthropic adapter for the given API key.
func New(apiKey string) (*Provider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, &provider.ConfigError{Reason: "Anthropic API key is required"}
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &Provider{client: &client}, nil
}

func (p *Provider) Name() string {
	return "anthropic"
}

func (p *Provider) GenerateResponse(ctx context.Context, prompt models.Prompt, opts models.Options) (models.Reply, error) {
	model, ok := opts.Model()
	if !ok {
		return models.Reply{}, &provider.ConfigError{
			Reason: "missing required option 'model' for provider anthropic",
		}
	}

	messages := make([]anthropic.MessageParam, 0, len(prompt.Turns))
	for _, turn := range prompt.Turns {
		switch turn.Role {
		case models.RoleUser:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(turn.Text)))
		case models.RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(turn.Text)))
		default:
			return models.Reply{}, &provider.ValidationError{
				Reason: fmt.Sprintf("unsupported role %q for provider anthropic", turn.Role),
			}
		}
	}

	maxTokens := defaultMaxTokens
	if v, ok := opts.Int("max_tokens"); ok && v > 0 {
		maxTokens = v
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
	}

	if prompt.System != "" {
		params.System = []anthropic.TextBlockParam{
			{Type: "text", Text: prompt.System},
		}
	}
	if v, ok := opts.Float("temperature"); ok {
		params.Temperature = anthropic.Float(v)
	}
	if v, ok := opts.Float("top_p"); ok {
		params.TopP = anthropic.Float(v)
	}
	if v, ok := opts.Int("top_k"); ok {
		params.TopK = anthropic.Int(int64(v))
	}
	if stops, ok := opts.StringSlice("stop"); ok {
		params.StopSequences = stops
	}

	message, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return models.Reply{}, p.wrapAPIError(err)
	}

	var text, thought strings.Builder
	for _, block := range message.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "thinking":
			thought.WriteString(block.Thinking)
		}
	}

	response := strings.TrimSpace(text.String())
	if response == "" {
		return models.Reply{}, &provider.ValidationError{
			Reason: "anthropic API returned an empty response",
		}
	}

	return models.Reply{
		Thought:  strings.TrimSpace(thought.String()),
		Response: response,
	}, nil
}

func (p *Provider) ValidateCredential(ctx context.Context) bool {
	_, err := p.client.Models.List(ctx, anthropic.ModelListParams{})
	return err == nil
}

func (p *Provider) ListModels(ctx context.Context) ([]models.ModelDescriptor, error) {
	page, err := p.client.Models.List(ctx, anthropic.ModelListParams{})
	if err != nil {
		return nil, p.wrapAPIError(err)
	}

	descriptors := make([]models.ModelDescriptor, 0, len(page.Data))
	for _, info := range page.Data {
		if info.ID == "" {
			continue
		}
		label := info.DisplayName
		if label == "" {
			label = info.ID
		}
		descriptors = append(descriptors, models.ModelDescriptor{
			Label: label,
			Value: info.ID,
		})
	}

	models.SortDescriptors(descriptors)
	return descriptors, nil
}

func (p *Provider) wrapAPIError(err error) error {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		if apierr.StatusCode == 401 {
			return &provider.AuthError{Provider: "anthropic"}
		}
		return &provider.UpstreamError{
			Provider:   "anthropic",
			StatusCode: apierr.StatusCode,
			Message:    apierr.Error(),
			Err:        err,
		}
	}

	return &provider.UpstreamError{Provider: "anthropic", Err: err}
}
