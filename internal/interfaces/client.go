// Package interfaces defines the core interfaces and shared structures for the proxy server.
// These interfaces provide a common contract for different components of the application,
// such as the upstream provider client, API handlers, and data models.
package interfaces

import (
	"context"
	"sync"
)

// Client defines the interface a provider client must implement.
// It provides methods for sending messages, streaming responses, and
// managing credential availability.
type Client interface {
	// Type returns the client type identifier (e.g., "grok").
	Type() string

	// GetRequestMutex returns the mutex used to synchronize requests for this client.
	// This ensures that only one request is processed at a time per credential.
	GetRequestMutex() *sync.Mutex

	// GetUserAgent returns the User-Agent string used for HTTP requests.
	GetUserAgent() string

	// SendRawMessage sends a raw JSON message to the provider and returns the
	// complete translated response body.
	SendRawMessage(ctx context.Context, modelName string, rawJSON []byte, alt string) ([]byte, *ErrorMessage)

	// SendRawMessageStream sends a raw JSON message and returns streaming responses.
	// Similar to SendRawMessage but for streaming responses.
	SendRawMessageStream(ctx context.Context, modelName string, rawJSON []byte, alt string) (<-chan []byte, <-chan *ErrorMessage)

	// IsModelQuotaExceeded checks if the specified model has exceeded its quota
	// on this credential. This drives failover to the next credential.
	IsModelQuotaExceeded(model string) bool

	// GetCredentialID returns a stable identifier for the credential backing
	// this client. Used for logging and persisted state.
	GetCredentialID() string

	// CanProvideModel checks if the client can provide the specified model.
	CanProvideModel(modelName string) bool

	// Provider returns the name of the upstream provider.
	Provider() string

	// RefreshTokens revalidates the credential with the upstream service.
	RefreshTokens(ctx context.Context) error

	// IsAvailable returns true if the client is available for use.
	IsAvailable() bool

	// SetUnavailable sets the client to unavailable.
	SetUnavailable()
}
