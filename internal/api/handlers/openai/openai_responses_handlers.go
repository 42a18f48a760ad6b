// The Responses API handler shares the base handler with the chat completions
// handler but speaks the event-stream protocol of the /v1/responses endpoint:
// translated chunks already carry their SSE event framing, so they are written
// verbatim without a data: prefix and without a [DONE] sentinel.
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
	"github.com/grokproxy/GrokProxyAPI/internal/util"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// OpenAIResponsesAPIHandler contains the handlers for the Responses API
// endpoints. It holds a pool of clients to interact with the backend service.
type OpenAIResponsesAPIHandler struct {
	*handlers.BaseAPIHandler
}

// NewOpenAIResponsesAPIHandler creates a new Responses API handlers instance.
//
// Parameters:
//   - apiHandlers: The base API handlers instance
//
// Returns:
//   - *OpenAIResponsesAPIHandler: A new Responses API handlers instance
func NewOpenAIResponsesAPIHandler(apiHandlers *handlers.BaseAPIHandler) *OpenAIResponsesAPIHandler {
	return &OpenAIResponsesAPIHandler{
		BaseAPIHandler: apiHandlers,
	}
}

// HandlerType returns the identifier for this handler implementation.
func (h *OpenAIResponsesAPIHandler) HandlerType() string {
	return OpenaiResponse
}

// Models returns the model metadata supported by this handler.
func (h *OpenAIResponsesAPIHandler) Models() []map[string]any {
	// Get dynamic models from the global registry
	modelRegistry := registry.GetGlobalRegistry()
	return modelRegistry.GetAvailableModels(OpenaiResponse)
}

// Responses handles the /v1/responses endpoint.
// It determines whether the request is for a streaming or non-streaming
// response and dispatches to the appropriate handler.
//
// Parameters:
//   - c: The Gin context containing the HTTP request and response
func (h *OpenAIResponsesAPIHandler) Responses(c *gin.Context) {
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

// handleNonStreamingResponse handles non-streaming Responses API requests.
// It selects a client from the pool, sends the request upstream, and writes
// the aggregated response object.
//
// Parameters:
//   - c: The Gin context containing the HTTP request and response
//   - rawJSON: The raw JSON bytes of the Responses API request
func (h *OpenAIResponsesAPIHandler) handleNonStreamingResponse(c *gin.Context, rawJSON []byte) {
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
			h.LoggingAPIResponseError(cliCtx, err)
			if !h.retryOnError(cliCtx, cliClient, err, &retryCount) {
				// Forward other errors directly to the client
				c.Status(err.StatusCode)
				_, _ = c.Writer.Write([]byte(err.Error.Error()))
				cliCancel(err.Error)
				break
			}
			h.releaseClient(&cliClient)
			continue
		}
		_, _ = c.Writer.Write(resp)
		cliCancel(resp)
		break
	}
}

// handleStreamingResponse handles streaming Responses API requests.
// It establishes a streaming connection with the backend service and forwards
// the translated event-stream chunks to the client in real-time.
//
// Parameters:
//   - c: The Gin context containing the HTTP request and response
//   - rawJSON: The raw JSON bytes of the Responses API request
func (h *OpenAIResponsesAPIHandler) handleStreamingResponse(c *gin.Context, rawJSON []byte) {
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
			// Process incoming response chunks. Each chunk is a complete
			// SSE event block produced by the translator.
			case chunk, okStream := <-respChan:
				if !okStream {
					flusher.Flush()
					cliCancel()
					return
				}

				_, _ = c.Writer.Write(chunk)
				_, _ = c.Writer.Write([]byte("\n"))
				flusher.Flush()
			// Handle errors from the backend.
			case err, okError := <-errChan:
				if okError {
					h.LoggingAPIResponseError(cliCtx, err)
					if h.retryOnError(cliCtx, cliClient, err, &retryCount) {
						h.releaseClient(&cliClient)
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

// retryOnError decides whether a failed upstream request should be retried on
// another credential. It returns true when the caller should pick a new
// client, false when the error must be forwarded as-is.
func (h *OpenAIResponsesAPIHandler) retryOnError(ctx context.Context, cliClient interfaces.Client, err *interfaces.ErrorMessage, retryCount *int) bool {
	switch err.StatusCode {
	case 429:
		log.Debugf("quota exceeded, switch client")
		return true
	case 401:
		log.Debugf("unauthorized request, revalidating credential %s", util.HideAPIKey(cliClient.GetCredentialID()))
		if errRefresh := cliClient.RefreshTokens(ctx); errRefresh != nil {
			log.Debugf("credential validation failed, switch client, %s", util.HideAPIKey(cliClient.GetCredentialID()))
			cliClient.SetUnavailable()
		}
		*retryCount++
		return true
	case 402:
		cliClient.SetUnavailable()
		return true
	case 403, 408, 500, 502, 503, 504:
		log.Debugf("http status code %d, switch client", err.StatusCode)
		*retryCount++
		return true
	default:
		return false
	}
}

// releaseClient releases the request mutex before the retry loop picks a new
// client, so a failed credential does not stay locked.
func (h *OpenAIResponsesAPIHandler) releaseClient(cliClient *interfaces.Client) {
	if *cliClient != nil {
		if mutex := (*cliClient).GetRequestMutex(); mutex != nil {
			mutex.Unlock()
		}
		*cliClient = nil
	}
}
