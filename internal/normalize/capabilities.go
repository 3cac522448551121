package normalize

import "panelchat-gateway/internal/models"

// Capability describes how a vendor wants the conversation shaped.
type Capability struct {
	// SystemSlot hoists the first system message into the prompt's
	// dedicated system parameter; later system messages are dropped.
	SystemSlot bool
	// Roles maps caller roles to the vendor's role names. A caller role
	// absent from the map is rejected.
	Roles map[string]string
	// Structured vendors take a parts list per message instead of a flat
	// content string.
	Structured bool
	// Multimodal vendors accept an inline image on the final message.
	Multimodal bool
}

var passThroughRoles = map[string]string{
	models.RoleSystem:    models.RoleSystem,
	models.RoleUser:      models.RoleUser,
	models.RoleAssistant: models.RoleAssistant,
	models.RoleModel:     models.RoleAssistant,
}

// capabilities is the closed set of supported provider identifiers. Loaded
// once, read-only.
var capabilities = map[string]Capability{
	"google": {
		Roles: map[string]string{
			models.RoleSystem:    models.RoleUser,
			models.RoleUser:      models.RoleUser,
			models.RoleAssistant: models.RoleModel,
			models.RoleModel:     models.RoleModel,
		},
		Structured: true,
		Multimodal: true,
	},
	"anthropic": {
		SystemSlot: true,
		Roles: map[string]string{
			models.RoleUser:      models.RoleUser,
			models.RoleAssistant: models.RoleAssistant,
			models.RoleModel:     models.RoleAssistant,
		},
	},
	"chatgpt": {Roles: passThroughRoles},
	"grok":    {Roles: passThroughRoles},
	"glama":   {Roles: passThroughRoles},
	"ollama":  {Roles: passThroughRoles},
	"vllm":    {Roles: passThroughRoles},
}

// Known reports whether the provider identifier belongs to the supported set.
func Known(name string) bool {
	_, ok := capabilities[name]
	return ok
}
