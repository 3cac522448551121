package provider

import (
	"context"

	"panelchat-gateway/internal/models"
)

// Provider is the capability contract every vendor adapter implements.
type Provider interface {
	// Name returns the provider identifier used in API requests.
	Name() string

	// GenerateResponse issues one completion call for the normalized prompt.
	// It fails with a *ConfigError when a required option (notably model) is
	// missing, an *AuthError when the credential is rejected, a
	// *ValidationError when the vendor returned no usable content, and an
	// *UpstreamError for any other vendor-side failure.
	GenerateResponse(ctx context.Context, prompt models.Prompt, opts models.Options) (models.Reply, error)

	// ValidateCredential performs a lightweight read-only call to confirm
	// the credential is usable. It never fails; any error, including a
	// network fault, reports false.
	ValidateCredential(ctx context.Context) bool

	// ListModels enumerates the vendor's chat-capable models, sorted
	// ascending by label.
	ListModels(ctx context.Context) ([]models.ModelDescriptor, error)
}
