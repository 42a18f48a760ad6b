package interfaces

import "context"

// ErrorMessage carries a provider-side failure across the client/handler
// boundary together with the HTTP status code to relay.
type ErrorMessage struct {
	StatusCode int
	Error      error
}

// APIHandler exposes the identity of the client-facing API format so that
// provider clients can look up the right response translator.
type APIHandler interface {
	// HandlerType returns the API format identifier (e.g., "openai").
	HandlerType() string

	// Models returns the model metadata served by this handler.
	Models() []map[string]any
}

// TranslateRequestFunc converts a client-format request body into the
// provider's native request format.
type TranslateRequestFunc func(modelName string, rawJSON []byte, stream bool) []byte

// TranslateResponseFunc converts one provider response fragment into zero or
// more client-format frames. Per-session state lives in param and is threaded
// through every call of a stream.
type TranslateResponseFunc func(ctx context.Context, modelName string, originalRequestRawJSON, requestRawJSON, rawJSON []byte, param *any) []string

// TranslateResponseNonStreamFunc converts a complete provider response body
// into a single client-format response body.
type TranslateResponseNonStreamFunc func(ctx context.Context, modelName string, originalRequestRawJSON, requestRawJSON, rawJSON []byte, param *any) string

// TranslateResponse bundles the streaming and non-streaming response
// translators registered for a provider/format pair.
type TranslateResponse struct {
	Stream    TranslateResponseFunc
	NonStream TranslateResponseNonStreamFunc
}
