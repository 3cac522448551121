// Package openaicompat implements the provider contract for every vendor
// speaking the OpenAI chat-completions wire shape: OpenAI itself, xAI (grok)
// and Glama, plus self-hosted servers via the vllm wrapper. Vendors differ
// only in base URL, credential handling and model defaulting.
package openaicompat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
	"github.com/tidwall/gjson"

	"panelchat-gateway/internal/models"
	"panelchat-gateway/internal/provider"
)

// Provider talks to one OpenAI-compatible endpoint.
type Provider struct {
	name         string
	client       openai.Client
	defaultModel string
}

// New constructs an adapter for the named vendor. An empty baseURL targets
// the official OpenAI API; an empty defaultModel makes the model option
// mandatory.
func New(name, apiKey, baseURL, defaultModel string) *Provider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	return &Provider{
		name:         name,
		client:       openai.NewClient(opts...),
		defaultModel: defaultModel,
	}
}

func (p *Provider) Name() string {
	return p.name
}

func (p *Provider) GenerateResponse(ctx context.Context, prompt models.Prompt, opts models.Options) (models.Reply, error) {
	model, ok := opts.Model()
	if !ok {
		if p.defaultModel == "" {
			return models.Reply{}, &provider.ConfigError{
				Reason: fmt.Sprintf("missing required option 'model' for provider %s", p.name),
			}
		}
		model = p.defaultModel
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(prompt.Turns))
	for _, turn := range prompt.Turns {
		switch turn.Role {
		case models.RoleSystem:
			messages = append(messages, openai.SystemMessage(turn.Text))
		case models.RoleUser:
			messages = append(messages, openai.UserMessage(turn.Text))
		case models.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(turn.Text))
		default:
			return models.Reply{}, &provider.ValidationError{
				Reason: fmt.Sprintf("unsupported role %q for provider %s", turn.Role, p.name),
			}
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: messages,
	}
	if v, ok := opts.Float("temperature"); ok {
		params.Temperature = openai.Float(v)
	}
	if v, ok := opts.Int("max_tokens"); ok {
		params.MaxTokens = openai.Int(int64(v))
	}
	if v, ok := opts.Float("top_p"); ok {
		params.TopP = openai.Float(v)
	}
	if stops, ok := opts.StringSlice("stop"); ok {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: stops}
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return models.Reply{}, p.wrapAPIError(err)
	}

	if len(completion.Choices) == 0 {
		return models.Reply{}, &provider.ValidationError{
			Reason: fmt.Sprintf("%s API returned an empty response", p.name),
		}
	}

	message := completion.Choices[0].Message
	text := strings.TrimSpace(message.Content)
	if text == "" {
		return models.Reply{}, &provider.ValidationError{
			Reason: fmt.Sprintf("%s API returned an empty response", p.name),
		}
	}

	return models.Reply{
		Thought:  extractReasoning(message.RawJSON()),
		Response: text,
	}, nil
}

// extractReasoning pulls a reasoning trace from the raw choice message.
// Vendors disagree on the field name: DeepSeek-style servers use
// reasoning_content, others use reasoning.
func extractReasoning(rawMessage string) string {
	for _, field := range []string{"reasoning_content", "reasoning"} {
		if value := gjson.Get(rawMessage, field); value.Exists() {
			if text := strings.TrimSpace(value.String()); text != "" {
				return text
			}
		}
	}
	return ""
}

func (p *Provider) ValidateCredential(ctx context.Context) bool {
	_, err := p.client.Models.List(ctx)
	return err == nil
}

func (p *Provider) ListModels(ctx context.Context) ([]models.ModelDescriptor, error) {
	page, err := p.client.Models.List(ctx)
	if err != nil {
		return nil, p.wrapAPIError(err)
	}

	descriptors := make([]models.ModelDescriptor, 0, len(page.Data))
	for _, model := range page.Data {
		if model.ID == "" {
			continue
		}
		descriptors = append(descriptors, models.ModelDescriptor{
			Label: model.ID,
			Value: model.ID,
		})
	}

	models.SortDescriptors(descriptors)
	return descriptors, nil
}

// wrapAPIError maps SDK failures onto the gateway taxonomy. A vendor 401 is
// an authentication failure even when it surfaces wrapped in a transport
// error.
func (p *Provider) wrapAPIError(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		if apierr.StatusCode == 401 {
			return &provider.AuthError{Provider: p.name}
		}
		return &provider.UpstreamError{
			Provider:   p.name,
			StatusCode: apierr.StatusCode,
			Message:    apierr.Message,
			Err:        err,
		}
	}

	return &provider.UpstreamError{Provider: p.name, Err: err}
}
