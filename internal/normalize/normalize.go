// Package normalize converts caller-supplied messages into the per-vendor
// prompt shape: role remapping, system-prompt hoisting, inline screenshot
// decoding and context-appendix injection, in a single pass with no state
// carried between requests.
package normalize

import (
	"encoding/base64"
	"fmt"
	"strings"

	"panelchat-gateway/internal/models"
	"panelchat-gateway/internal/provider"
)

const appendixHeader = "\n\n--- Additional Context ---\n"

// BuildPrompt validates and reshapes the caller's message sequence for the
// named provider. The screenshot is a base64 PNG (optionally carrying a
// data-URL prefix) attached to the last message of multimodal vendors only;
// panelData is free-text context appended to the last message.
func BuildPrompt(providerName string, messages []models.Message, screenshot, panelData string) (models.Prompt, error) {
	capability, ok := capabilities[providerName]
	if !ok {
		return models.Prompt{}, &provider.ConfigError{
			Reason: fmt.Sprintf("unsupported LLM provider: %s", providerName),
		}
	}

	var image *models.ImagePart
	if screenshot != "" && capability.Multimodal {
		decoded, err := decodeScreenshot(screenshot)
		if err != nil {
			return models.Prompt{}, &provider.ValidationError{
				Reason: "failed to decode screenshot",
				Err:    err,
			}
		}
		image = decoded
	}

	var prompt models.Prompt
	systemSeen := false

	for i, msg := range messages {
		if msg.Role == "" || msg.Content == nil {
			return models.Prompt{}, &provider.ValidationError{
				Reason: fmt.Sprintf("invalid message format at index %d", i),
			}
		}

		role := strings.ToLower(strings.TrimSpace(msg.Role))

		if capability.SystemSlot && role == models.RoleSystem {
			// First system message wins the dedicated slot; later ones
			// are dropped rather than duplicated.
			if !systemSeen {
				prompt.System = *msg.Content
				systemSeen = true
			}
			continue
		}

		target, ok := capability.Roles[role]
		if !ok {
			return models.Prompt{}, &provider.ValidationError{
				Reason: fmt.Sprintf("unsupported role %q at index %d", msg.Role, i),
			}
		}

		turn := models.Turn{
			Role:   target,
			Origin: role,
		}
		if capability.Structured {
			turn.Shape = models.ShapeStructured
			turn.Parts = []models.Part{{Text: *msg.Content}}
		} else {
			turn.Shape = models.ShapeFlat
			turn.Text = *msg.Content
		}
		prompt.Turns = append(prompt.Turns, turn)
	}

	if image != nil && len(prompt.Turns) > 0 {
		last := &prompt.Turns[len(prompt.Turns)-1]
		if last.Shape == models.ShapeStructured {
			last.Parts = append(last.Parts, models.Part{Image: image})
		}
	}

	if panelData != "" && len(prompt.Turns) > 0 {
		prompt.Turns[len(prompt.Turns)-1].AppendText(appendixHeader + panelData)
	}

	return prompt, nil
}

// decodeScreenshot strips the data-URL prefix and decodes the base64
// payload, correcting for missing padding first.
func decodeScreenshot(screenshot string) (*models.ImagePart, error) {
	payload := screenshot
	if idx := strings.IndexByte(payload, ','); idx >= 0 {
		payload = payload[idx+1:]
	}

	if missing := len(payload) % 4; missing != 0 {
		payload += strings.Repeat("=", 4-missing)
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, err
	}

	return &models.ImagePart{MimeType: "image/png", Data: data}, nil
}
