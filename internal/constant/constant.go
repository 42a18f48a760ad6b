// Package constant defines provider name constants used throughout the proxy.
// These constants identify the upstream provider and the client-facing API
// formats, ensuring consistent naming across the application.
package constant

const (
	// Grok represents the Grok conversational backend provider identifier.
	Grok = "grok"

	// OpenAI represents the OpenAI chat completions format identifier.
	OpenAI = "openai"

	// OpenaiResponse represents the OpenAI responses format identifier.
	OpenaiResponse = "openai-response"
)
