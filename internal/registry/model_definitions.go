// Package registry provides model definitions for the Grok model family.
// This file contains static model definitions used when registering
// credentials with the model registry.
package registry

// GetGrokModels returns the model metadata for the Grok model family served
// by this proxy. The -reasoning variants select reasoning mode on the same
// upstream model.
func GetGrokModels() []*ModelInfo {
	return []*ModelInfo{
		{
			ID:          "grok-3",
			Object:      "model",
			Created:     1743465600, // 2025-04-01
			OwnedBy:     "xai",
			DisplayName: "Grok 3",
			Description: "Grok 3 conversational model",
		},
		{
			ID:          "grok-3-reasoning",
			Object:      "model",
			Created:     1743465600, // 2025-04-01
			OwnedBy:     "xai",
			DisplayName: "Grok 3 Reasoning",
			Description: "Grok 3 with step-by-step reasoning output",
		},
		{
			ID:          "grok-4",
			Object:      "model",
			Created:     1752192000, // 2025-07-11
			OwnedBy:     "xai",
			DisplayName: "Grok 4",
			Description: "Grok 4 conversational model with image generation",
		},
		{
			ID:          "grok-4-reasoning",
			Object:      "model",
			Created:     1752192000, // 2025-07-11
			OwnedBy:     "xai",
			DisplayName: "Grok 4 Reasoning",
			Description: "Grok 4 with step-by-step reasoning output",
		},
		{
			ID:          "grok-4-mini",
			Object:      "model",
			Created:     1752192000, // 2025-07-11
			OwnedBy:     "xai",
			DisplayName: "Grok 4 Mini",
			Description: "Smaller, faster Grok 4 variant",
		},
	}
}
