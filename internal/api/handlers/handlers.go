// Package handlers provides core API handler functionality for the proxy
// server. It includes common types, credential selection, load balancing, and
// error handling shared across the OpenAI-compatible endpoint handlers.
package handlers

import (
	"fmt"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/grokproxy/GrokProxyAPI/internal/config"
	"github.com/grokproxy/GrokProxyAPI/internal/interfaces"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/context"
)

// ErrorResponse represents a standard error response format for the API.
// It contains a single ErrorDetail field.
type ErrorResponse struct {
	// Error contains detailed information about the error that occurred.
	Error ErrorDetail `json:"error"`
}

// ErrorDetail provides specific information about an error that occurred.
// It includes a human-readable message, an error type, and an optional error code.
type ErrorDetail struct {
	// Message is a human-readable message providing more details about the error.
	Message string `json:"message"`

	// Type is the category of error that occurred (e.g., "invalid_request_error").
	Type string `json:"type"`

	// Code is a short code identifying the error, if applicable.
	Code string `json:"code,omitempty"`
}

// BaseAPIHandler contains the shared state for API endpoint handlers.
// It holds the pool of credential clients and manages load balancing and
// client selection.
type BaseAPIHandler struct {
	// CliClients is the pool of available credential clients.
	CliClients []interfaces.Client

	// Cfg holds the current application configuration.
	Cfg *config.Config

	// Mutex ensures thread-safe access to shared resources.
	Mutex *sync.Mutex

	// LastUsedClientIndex tracks the last used client index for each provider
	// to implement round-robin load balancing.
	LastUsedClientIndex map[string]int
}

// NewBaseAPIHandlers creates a new base API handlers instance.
//
// Parameters:
//   - cliClients: A slice of credential clients
//   - cfg: The application configuration
//
// Returns:
//   - *BaseAPIHandler: A new base API handlers instance
func NewBaseAPIHandlers(cliClients []interfaces.Client, cfg *config.Config) *BaseAPIHandler {
	return &BaseAPIHandler{
		CliClients:          cliClients,
		Cfg:                 cfg,
		Mutex:               &sync.Mutex{},
		LastUsedClientIndex: make(map[string]int),
	}
}

// UpdateClients updates the handlers' client list and configuration.
// This method is called when the configuration or credential pool changes.
//
// Parameters:
//   - clients: The new slice of credential clients
//   - cfg: The new application configuration
func (h *BaseAPIHandler) UpdateClients(clients []interfaces.Client, cfg *config.Config) {
	h.Mutex.Lock()
	defer h.Mutex.Unlock()
	h.CliClients = clients
	h.Cfg = cfg
}

// GetClient returns an available client from the pool using round-robin load
// balancing. Clients whose quota is exceeded for the model or that have been
// marked unavailable are skipped; among the rest an unlocked client is
// preferred so requests spread across the credential pool.
//
// Parameters:
//   - modelName: The name of the model to be used
//
// Returns:
//   - interfaces.Client: An available client for the requested model
//   - *interfaces.ErrorMessage: An error message if no client is available
func (h *BaseAPIHandler) GetClient(modelName string) (interfaces.Client, *interfaces.ErrorMessage) {
	clients := make([]interfaces.Client, 0)
	provider := ""
	for i := 0; i < len(h.CliClients); i++ {
		cli := h.CliClients[i]
		if cli.IsAvailable() && cli.CanProvideModel(modelName) {
			clients = append(clients, cli)
			provider = cli.Provider()
		}
	}

	if len(clients) == 0 {
		return nil, &interfaces.ErrorMessage{StatusCode: 500, Error: fmt.Errorf("no clients available for model %s", modelName)}
	}

	// Lock the mutex to update the last used client index
	h.Mutex.Lock()
	if _, hasKey := h.LastUsedClientIndex[provider]; !hasKey {
		h.LastUsedClientIndex[provider] = 0
	}
	startIndex := h.LastUsedClientIndex[provider]
	h.LastUsedClientIndex[provider] = (startIndex + 1) % len(clients)
	h.Mutex.Unlock()

	// Reorder the clients to start from the last used index
	var cliClient interfaces.Client
	reorderedClients := make([]interfaces.Client, 0)
	for i := 0; i < len(clients); i++ {
		cliClient = clients[(startIndex+1+i)%len(clients)]
		if cliClient.IsModelQuotaExceeded(modelName) {
			log.Debugf("model %s is quota exceeded for credential %s", modelName, cliClient.GetCredentialID())
			cliClient = nil
			continue
		}
		reorderedClients = append(reorderedClients, cliClient)
	}

	if len(reorderedClients) == 0 {
		return nil, &interfaces.ErrorMessage{StatusCode: 429, Error: fmt.Errorf(`{"error":{"code":429,"message":"All the models of '%s' are quota exceeded","status":"RESOURCE_EXHAUSTED"}}`, modelName)}
	}

	locked := false
	for i := 0; i < len(reorderedClients); i++ {
		cliClient = reorderedClients[i]
		if mutex := cliClient.GetRequestMutex(); mutex == nil || mutex.TryLock() {
			locked = true
			break
		}
	}
	if !locked {
		cliClient = reorderedClients[0]
		cliClient.GetRequestMutex().Lock()
	}

	return cliClient, nil
}

// GetContextWithCancel builds the request context used for upstream calls.
// The Gin context and the originating handler are attached so the client and
// translators can reach request-scoped state.
func (h *BaseAPIHandler) GetContextWithCancel(handler interfaces.APIHandler, c *gin.Context, ctx context.Context) (context.Context, APIHandlerCancelFunc) {
	newCtx, cancel := context.WithCancel(ctx)
	newCtx = context.WithValue(newCtx, "gin", c)
	newCtx = context.WithValue(newCtx, "handler", handler)
	return newCtx, func(params ...interface{}) {
		if h.Cfg.RequestLog && len(params) == 1 {
			data := params[0]
			switch data.(type) {
			case []byte:
				c.Set("API_RESPONSE", data.([]byte))
			case error:
				c.Set("API_RESPONSE", []byte(data.(error).Error()))
			case string:
				c.Set("API_RESPONSE", []byte(data.(string)))
			case bool:
			case nil:
			}
		}

		cancel()
	}
}

// LoggingAPIResponseError records an upstream error payload on the Gin
// context so the request logger captures it alongside the request.
func (h *BaseAPIHandler) LoggingAPIResponseError(ctx context.Context, err *interfaces.ErrorMessage) {
	if !h.Cfg.RequestLog || err == nil || err.Error == nil {
		return
	}
	if ginContext, ok := ctx.Value("gin").(*gin.Context); ok {
		ginContext.Set("API_RESPONSE", []byte(err.Error.Error()))
	}
	log.Debugf("upstream error %d: %v", err.StatusCode, err.Error)
}

// APIHandlerCancelFunc cancels an upstream request context and optionally
// records the final response payload for request logging.
type APIHandlerCancelFunc func(params ...interface{})
