// Package openai provides HTTP handlers for the OpenAI-compatible API
// endpoints. It implements model listing, chat completions, and the Responses
// API on top of the Grok conversational backend. Both streaming and
// non-streaming responses are supported, with automatic failover across the
// credential pool.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/grokproxy/GrokProxyAPI/internal/api/handlers"
	. "github.com/grokproxy/GrokProxyAPI/internal/constant"
	"github.com/grokproxy/GrokProxyAPI/internal/interfaces"
	"github.com/grokproxy/GrokProxyAPI/internal/registry"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// OpenAIAPIHandler contains the handlers for OpenAI API endpoints.
// It holds a pool of clients to interact with the backend service.
type OpenAIAPIHandler struct {
	*handlers.BaseAPIHandler
}

// NewOpenAIAPIHandler creates a new OpenAI API handlers instance.
//
// Parameters:
//   - apiHandlers: The base API handlers instance
//
// Returns:
//   - *OpenAIAPIHandler: A new OpenAI API handlers instance
func NewOpenAIAPIHandler(apiHandlers *handlers.BaseAPIHandler) *OpenAIAPIHandler {
	return &OpenAIAPIHandler{
		BaseAPIHandler: apiHandlers,
	}
}

// HandlerType returns the identifier for this handler implementation.
func (h *OpenAIAPIHandler) HandlerType() string {
	return OpenAI
}

// Models returns the OpenAI-compatible model metadata supported by this handler.
func (h *OpenAIAPIHandler) Models() []map[string]any {
	// Get dynamic models from the global registry
	modelRegistry := registry.GetGlobalRegistry()
	return modelRegistry.GetAvailableModels(OpenAI)
}

// OpenAIModels handles the /v1/models endpoint.
// It returns a list of available models with their capabilities
// and specifications in OpenAI-compatible format.
func (h *OpenAIAPIHandler) OpenAIModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"object": "list",
		"data":   h.Models(),
	})
}

// ChatCompletions handles the /v1/chat/completions endpoint.
// It determines whether the request is for a streaming or non-streaming
// response and dispatches to the appropriate handler.
//
// Parameters:
//   - c: The Gin context containing the HTTP request and response
func (h *OpenAIAPIHandler) ChatCompletions(c *gin.Context) {
	rawJSON, err := c.GetRawData()
	// If data retrieval fails, return a 400 Bad Request error.
	if err != nil {
		c.JSON(http.StatusBadRequest, handlers.ErrorResponse{
			Error: handlers.ErrorDetail{
				Message: fmt.Sprintf("Invalid request: %v", err),
				Type:    "invalid_request_error",
			},
		})
		return
	}

	// Check if the client requested a streaming response.
	streamResult := gjson.GetBytes(rawJSON, "stream")
	if streamResult.Type == gjson.True {
		h.handleStreamingResponse(c, rawJSON)
	} else {
		h.handleNonStreamingResponse(c, rawJSON)
	}
}

// handleNonStreamingResponse handles non-streaming chat completion requests.
// It selects a client from the pool, sends the request upstream, and writes
// the aggregated OpenAI-format response.
//
// Parameters:
//   - c: The Gin context containing the HTTP request and response
//   - rawJSON: The raw JSON bytes of the OpenAI-compatible request
func (h *OpenAIAPIHandler) handleNonStreamingResponse(c *gin.Context, rawJSON []byte) {
	c.Header("Content-Type", "application/json")

	modelName := gjson.GetBytes(rawJSON, "model").String()
	cliCtx, cliCancel := h.GetContextWithCancel(h, c, context.Background())

	var cliClient interfaces.Client
	defer func() {
		if cliClient != nil {
			if mutex := cliClient.GetRequestMutex(); mutex != nil {
				mutex.Unlock()
			}
		}
	}()

	retryCount := 0
	for retryCount <= h.Cfg.RequestRetry {
		var errorResponse *interfaces.ErrorMessage
		cliClient, errorResponse = h.GetClient(modelName)
		if errorResponse != nil {
			c.Status(errorResponse.StatusCode)
			_, _ = fmt.Fprint(c.Writer, errorResponse.Error.Error())
			cliCancel()
			return
		}

		resp, err := cliClient.SendRawMessage(cliCtx, modelName, rawJSON, "")
		if err != nil {
			if !h.handleUpstreamError(cliClient, modelName, err, &retryCount) {
				// Forward other errors directly to the client
				c.Status(err.StatusCode)
				_, _ = c.Writer.Write([]byte(err.Error.Error()))
				cliCancel(err.Error)
				break
			}
			h.unlockClient(&cliClient)
			continue
		}
		_, _ = c.Writer.Write(resp)
		cliCancel(resp)
		break
	}
}

// handleStreamingResponse handles streaming chat completion requests.
// It establishes a streaming connection with the backend service and forwards
// the translated chunks to the client in real-time using Server-Sent Events.
//
// Parameters:
//   - c: The Gin context containing the HTTP request and response
//   - rawJSON: The raw JSON bytes of the OpenAI-compatible request
func (h *OpenAIAPIHandler) handleStreamingResponse(c *gin.Context, rawJSON []byte) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("Access-Control-Allow-Origin", "*")

	// Get the http.Flusher interface to manually flush the response.
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, handlers.ErrorResponse{
			Error: handlers.ErrorDetail{
				Message: "Streaming not supported",
				Type:    "server_error",
			},
		})
		return
	}

	modelName := gjson.GetBytes(rawJSON, "model").String()
	cliCtx, cliCancel := h.GetContextWithCancel(h, c, context.Background())

	var cliClient interfaces.Client
	defer func() {
		// Ensure the client's mutex is unlocked on function exit.
		if cliClient != nil {
			if mutex := cliClient.GetRequestMutex(); mutex != nil {
				mutex.Unlock()
			}
		}
	}()

	retryCount := 0
outLoop:
	for retryCount <= h.Cfg.RequestRetry {
		var errorResponse *interfaces.ErrorMessage
		cliClient, errorResponse = h.GetClient(modelName)
		if errorResponse != nil {
			c.Status(errorResponse.StatusCode)
			_, _ = fmt.Fprint(c.Writer, errorResponse.Error.Error())
			flusher.Flush()
			cliCancel()
			return
		}

		// Send the message and receive response chunks and errors via channels.
		respChan, errChan := cliClient.SendRawMessageStream(cliCtx, modelName, rawJSON, "")

		for {
			select {
			// Handle client disconnection.
			case <-c.Request.Context().Done():
				if c.Request.Context().Err().Error() == "context canceled" {
					log.Debugf("client disconnected: %v", c.Request.Context().Err())
					cliCancel() // Cancel the backend request.
					return
				}
			// Process incoming response chunks.
			case chunk, okStream := <-respChan:
				if !okStream {
					// Stream is closed, send the final [DONE] message.
					_, _ = fmt.Fprintf(c.Writer, "data: [DONE]\n\n")
					flusher.Flush()
					cliCancel()
					return
				}

				_, _ = fmt.Fprintf(c.Writer, "data: %s\n\n", string(chunk))
				flusher.Flush()
			// Handle errors from the backend.
			case err, okError := <-errChan:
				if okError {
					if h.handleUpstreamError(cliClient, modelName, err, &retryCount) {
						h.unlockClient(&cliClient)
						continue outLoop
					}
					// Forward other errors directly to the client
					c.Status(err.StatusCode)
					_, _ = fmt.Fprint(c.Writer, err.Error.Error())
					flusher.Flush()
					cliCancel(err.Error)
					return
				}
			// Send a keep-alive comment so idle intermediaries do not drop
			// the connection while awaiting upstream fragments.
			case <-time.After(500 * time.Millisecond):
				_, _ = fmt.Fprint(c.Writer, ": keep-alive\n\n")
				flusher.Flush()
			}
		}
	}
}

// handleUpstreamError decides whether a failed upstream request should be
// retried on another credential. It returns true when the caller should pick
// a new client, false when the error must be forwarded as-is.
func (h *OpenAIAPIHandler) handleUpstreamError(cliClient interfaces.Client, modelName string, err *interfaces.ErrorMessage, retryCount *int) bool {
	switch err.StatusCode {
	case 429:
		log.Debugf("quota exceeded on credential %s, switch client", cliClient.GetCredentialID())
		return true
	case 401:
		// The cookie is no longer accepted; take the credential out of the
		// pool and try the next one.
		log.Warnf("credential %s rejected upstream, marking unavailable", cliClient.GetCredentialID())
		cliClient.SetUnavailable()
		*retryCount++
		return true
	case 403, 408, 500, 502, 503, 504:
		log.Debugf("http status code %d for model %s, switch client", err.StatusCode, modelName)
		*retryCount++
		return true
	default:
		return false
	}
}

// unlockClient releases the request mutex before the retry loop picks a new
// client, so a failed credential does not stay locked.
func (h *OpenAIAPIHandler) unlockClient(cliClient *interfaces.Client) {
	if *cliClient != nil {
		if mutex := (*cliClient).GetRequestMutex(); mutex != nil {
			mutex.Unlock()
		}
		*cliClient = nil
	}
}
