package client

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/grokproxy/GrokProxyAPI/internal/config"
	. "github.com/grokproxy/GrokProxyAPI/internal/constant"
	"github.com/grokproxy/GrokProxyAPI/internal/interfaces"
	"github.com/grokproxy/GrokProxyAPI/internal/registry"
	"github.com/grokproxy/GrokProxyAPI/internal/store"
	"github.com/grokproxy/GrokProxyAPI/internal/translator/translator"
	"github.com/grokproxy/GrokProxyAPI/internal/util"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	grokBaseURL  = "https://grok.com"
	grokEndpoint = grokBaseURL + "/rest/app-chat/conversations/new"

	// grokUserAgent must look like a real browser or the upstream edge
	// rejects the request before it reaches the conversation API.
	grokUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/129.0.0.0 Safari/537.36"

	// quotaCooldown is how long a credential sits out after a 429 on a model.
	quotaCooldown = 30 * time.Minute
)

// GrokClient implements the Client interface for the Grok conversational API.
// Each instance wraps a single SSO cookie credential from the pool.
type GrokClient struct {
	ClientBase
	cookie string
}

// NewGrokClient creates a client for one SSO cookie credential.
//
// Parameters:
//   - cfg: The application configuration.
//   - cookie: The SSO cookie value, either the bare token or a full Cookie header.
//   - st: The persistent credential state store, may be nil.
//
// Returns:
//   - *GrokClient: A new Grok client instance.
func NewGrokClient(cfg *config.Config, cookie string, st *store.CredentialStore) *GrokClient {
	httpClient := util.SetProxy(cfg, &http.Client{})

	// The credential ID is derived from the cookie so persisted quota and
	// usage state survive restarts and config reordering.
	digest := sha256.Sum256([]byte(cookie))
	clientID := fmt.Sprintf("grok-%s", hex.EncodeToString(digest[:])[:12])

	client := &GrokClient{
		ClientBase: ClientBase{
			RequestMutex:       &sync.Mutex{},
			httpClient:         httpClient,
			cfg:                cfg,
			stateStore:         st,
			modelQuotaExceeded: make(map[string]*time.Time),
			isAvailable:        true,
		},
		cookie: cookie,
	}

	// Initialize model registry and register Grok models
	client.InitializeModelRegistry(clientID)

	models := registry.GetGrokModels()
	client.RegisterModels(models)

	// Reload quota marks persisted before the last shutdown so a cooling-down
	// credential is not retried immediately.
	if st != nil {
		for _, model := range models {
			if at, ok := st.QuotaExceededAt(clientID, model.ID); ok {
				if time.Since(at) < quotaCooldown {
					markedAt := at
					client.modelQuotaExceeded[model.ID] = &markedAt
					client.modelRegistry.SetModelQuotaExceeded(clientID, model.ID)
				} else {
					_ = st.ClearQuotaExceeded(clientID, model.ID)
				}
			}
		}
	}

	return client
}

// Type returns the client type
func (c *GrokClient) Type() string {
	return Grok
}

// Provider returns the provider name for this client.
func (c *GrokClient) Provider() string {
	return "grok"
}

// CanProvideModel checks if this client can provide the specified model.
func (c *GrokClient) CanProvideModel(modelName string) bool {
	models := registry.GetGrokModels()
	modelIDs := make([]string, 0, len(models))
	for _, model := range models {
		modelIDs = append(modelIDs, model.ID)
	}
	return util.InArray(modelIDs, modelName)
}

// GetUserAgent returns the user agent string for Grok API requests
func (c *GrokClient) GetUserAgent() string {
	return grokUserAgent
}

// cookieHeader builds the Cookie header value for the credential. A bare SSO
// token is expanded to the sso/sso-rw pair the web app sends; anything that
// already looks like a cookie string passes through untouched.
func (c *GrokClient) cookieHeader() string {
	if strings.Contains(c.cookie, "=") {
		return c.cookie
	}
	return fmt.Sprintf("sso=%s; sso-rw=%s", c.cookie, c.cookie)
}

// translatorContext attaches the per-request translation options the
// response translators read: whether reasoning content is surfaced, and
// which upstream markup tags get stripped from answers.
func (c *GrokClient) translatorContext(ctx context.Context, originalRequestRawJSON []byte) context.Context {
	thinking := c.cfg.Grok.Thinking
	switch gjson.GetBytes(originalRequestRawJSON, "thinking").String() {
	case "enabled":
		thinking = true
	case "disabled":
		thinking = false
	}
	ctx = context.WithValue(ctx, "thinking", thinking)
	if len(c.cfg.Grok.FilterTags) > 0 {
		ctx = context.WithValue(ctx, "filter-tags", c.cfg.Grok.FilterTags)
	}
	return ctx
}

// SendRawMessage sends a raw message to the Grok API and collects the full
// translated response.
//
// Parameters:
//   - ctx: The context for the request.
//   - modelName: The name of the model to use.
//   - rawJSON: The raw JSON request body.
//   - alt: An alternative response format parameter.
//
// Returns:
//   - []byte: The response body.
//   - *interfaces.ErrorMessage: An error message if the request fails.
func (c *GrokClient) SendRawMessage(ctx context.Context, modelName string, rawJSON []byte, _ string) ([]byte, *interfaces.ErrorMessage) {
	originalRequestRawJSON := bytes.Clone(rawJSON)

	handler := ctx.Value("handler").(interfaces.APIHandler)
	handlerType := handler.HandlerType()
	if translator.NeedConvert(handlerType, c.Type()) {
		rawJSON = translator.Request(handlerType, c.Type(), modelName, rawJSON, false)
		rawJSON, _ = sjson.SetBytes(rawJSON, "temporary", c.cfg.Grok.Temporary)
	}
	ctx = c.translatorContext(ctx, originalRequestRawJSON)

	respBody, err := c.APIRequest(ctx, modelName, rawJSON)
	if err != nil {
		if err.StatusCode == 429 {
			now := time.Now()
			c.modelQuotaExceeded[modelName] = &now
			// Update model registry quota status
			c.SetModelQuotaExceeded(modelName)
		}
		return nil, err
	}
	delete(c.modelQuotaExceeded, modelName)
	// Clear quota status in model registry
	c.ClearModelQuotaExceeded(modelName)
	bodyBytes, errReadAll := io.ReadAll(respBody)
	if errReadAll != nil {
		return nil, &interfaces.ErrorMessage{StatusCode: 500, Error: errReadAll}
	}

	_ = respBody.Close()
	c.AddAPIResponseData(ctx, bodyBytes)

	var param any
	bodyBytes = []byte(translator.ResponseNonStream(handlerType, c.Type(), ctx, modelName, originalRequestRawJSON, rawJSON, bodyBytes, &param))

	return bodyBytes, nil
}

// SendRawMessageStream sends a raw streaming message to the Grok API.
// The upstream always answers with newline-delimited JSON; every line is fed
// through the response translator and the translated chunks are forwarded on
// the returned channel.
//
// Parameters:
//   - ctx: The context for the request.
//   - modelName: The name of the model to use.
//   - rawJSON: The raw JSON request body.
//   - alt: An alternative response format parameter.
//
// Returns:
//   - <-chan []byte: A channel for receiving response data chunks.
//   - <-chan *interfaces.ErrorMessage: A channel for receiving error messages.
func (c *GrokClient) SendRawMessageStream(ctx context.Context, modelName string, rawJSON []byte, _ string) (<-chan []byte, <-chan *interfaces.ErrorMessage) {
	originalRequestRawJSON := bytes.Clone(rawJSON)

	handler := ctx.Value("handler").(interfaces.APIHandler)
	handlerType := handler.HandlerType()
	if translator.NeedConvert(handlerType, c.Type()) {
		rawJSON = translator.Request(handlerType, c.Type(), modelName, rawJSON, true)
		rawJSON, _ = sjson.SetBytes(rawJSON, "temporary", c.cfg.Grok.Temporary)
	}
	translatorCtx := c.translatorContext(ctx, originalRequestRawJSON)

	errChan := make(chan *interfaces.ErrorMessage)
	dataChan := make(chan []byte)

	go func() {
		defer close(errChan)
		defer close(dataChan)

		var stream io.ReadCloser

		if c.IsModelQuotaExceeded(modelName) {
			errChan <- &interfaces.ErrorMessage{
				StatusCode: 429,
				Error:      fmt.Errorf(`{"error":{"code":429,"message":"All the models of '%s' are quota exceeded","status":"RESOURCE_EXHAUSTED"}}`, modelName),
			}
			return
		}

		var err *interfaces.ErrorMessage
		stream, err = c.APIRequest(translatorCtx, modelName, rawJSON)
		if err != nil {
			if err.StatusCode == 429 {
				now := time.Now()
				c.modelQuotaExceeded[modelName] = &now
				// Update model registry quota status
				c.SetModelQuotaExceeded(modelName)
			}
			errChan <- err
			return
		}
		delete(c.modelQuotaExceeded, modelName)
		// Clear quota status in model registry
		c.ClearModelQuotaExceeded(modelName)
		defer func() {
			_ = stream.Close()
		}()

		// The idle watchdog closes the upstream body when no line arrives
		// within the configured window, which unblocks the scanner below.
		var idleTimer *time.Timer
		idleTimeout := time.Duration(c.cfg.Grok.StreamIdleTimeout) * time.Second
		if idleTimeout > 0 {
			idleTimer = time.AfterFunc(idleTimeout, func() {
				log.Warnf("grok stream idle for %s, aborting", idleTimeout)
				_ = stream.Close()
			})
			defer idleTimer.Stop()
		}

		scanner := bufio.NewScanner(stream)
		buffer := make([]byte, 10240*1024)
		scanner.Buffer(buffer, 10240*1024)
		var param any
		for scanner.Scan() {
			line := scanner.Bytes()
			if idleTimer != nil {
				idleTimer.Reset(idleTimeout)
			}
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			lines := translator.Response(handlerType, c.Type(), translatorCtx, modelName, originalRequestRawJSON, rawJSON, line, &param)
			for i := 0; i < len(lines); i++ {
				dataChan <- []byte(lines[i])
			}
			c.AddAPIResponseData(translatorCtx, line)
		}

		if errScanner := scanner.Err(); errScanner != nil {
			errChan <- &interfaces.ErrorMessage{StatusCode: 500, Error: errScanner}
			return
		}

		// Upstream closed the conversation; let the translator flush any
		// buffered content and emit its terminal chunk.
		lines := translator.Response(handlerType, c.Type(), translatorCtx, modelName, originalRequestRawJSON, rawJSON, []byte("[DONE]"), &param)
		for i := 0; i < len(lines); i++ {
			dataChan <- []byte(lines[i])
		}
	}()

	return dataChan, errChan
}

// RefreshTokens revalidates the SSO cookie against the upstream service.
// Grok cookies are long-lived and cannot be rotated from here, so this only
// confirms the credential is still accepted.
func (c *GrokClient) RefreshTokens(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", grokBaseURL+"/rest/app-chat/conversations?pageSize=1", nil)
	if err != nil {
		return fmt.Errorf("failed to create validation request: %w", err)
	}
	req.Header.Set("User-Agent", c.GetUserAgent())
	req.Header.Set("Cookie", c.cookieHeader())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to validate credential: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == 401 || resp.StatusCode == 403 {
		return fmt.Errorf("grok credential %s rejected with status %d", c.GetClientID(), resp.StatusCode)
	}
	log.Debugf("grok credential %s validated", c.GetClientID())
	return nil
}

// APIRequest posts a conversation request to the Grok API and returns the
// raw NDJSON body on success.
//
// Parameters:
//   - ctx: The context for the request.
//   - modelName: The name of the model to use.
//   - body: The request body.
//
// Returns:
//   - io.ReadCloser: The response body reader.
//   - *interfaces.ErrorMessage: An error message if the request fails.
func (c *GrokClient) APIRequest(ctx context.Context, modelName string, body []byte) (io.ReadCloser, *interfaces.ErrorMessage) {
	req, err := http.NewRequestWithContext(ctx, "POST", grokEndpoint, bytes.NewBuffer(body))
	if err != nil {
		return nil, &interfaces.ErrorMessage{StatusCode: 500, Error: fmt.Errorf("failed to create request: %v", err)}
	}

	// Set headers
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "*/*")
	req.Header.Set("User-Agent", c.GetUserAgent())
	req.Header.Set("Origin", grokBaseURL)
	req.Header.Set("Referer", grokBaseURL+"/")
	req.Header.Set("Cookie", c.cookieHeader())

	if c.cfg.RequestLog {
		if ginContext, ok := ctx.Value("gin").(*gin.Context); ok {
			ginContext.Set("API_REQUEST", body)
		}
	}

	log.Debugf("Use Grok credential %s for model %s", c.GetClientID(), modelName)
	if c.stateStore != nil {
		if errRecord := c.stateStore.RecordRequest(c.GetClientID()); errRecord != nil {
			log.Warnf("failed to record request for %s: %v", c.GetClientID(), errRecord)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &interfaces.ErrorMessage{StatusCode: 500, Error: fmt.Errorf("failed to execute request: %v", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer func() {
			if err = resp.Body.Close(); err != nil {
				log.Printf("warn: failed to close response body: %v", err)
			}
		}()
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, &interfaces.ErrorMessage{StatusCode: resp.StatusCode, Error: fmt.Errorf("%s", string(bodyBytes))}
	}

	return resp.Body, nil
}

// GetCredentialID returns a stable identifier for the cookie credential.
func (c *GrokClient) GetCredentialID() string {
	return c.GetClientID()
}

// IsModelQuotaExceeded returns true if the specified model has exceeded its quota
// on this credential and the cooldown has not elapsed.
func (c *GrokClient) IsModelQuotaExceeded(model string) bool {
	if lastExceededTime, hasKey := c.modelQuotaExceeded[model]; hasKey {
		duration := time.Now().Sub(*lastExceededTime)
		if duration > quotaCooldown {
			return false
		}
		return true
	}
	return false
}

// IsAvailable returns true if the client is available for use.
func (c *GrokClient) IsAvailable() bool {
	return c.isAvailable
}

// SetUnavailable sets the client to unavailable.
func (c *GrokClient) SetUnavailable() {
	c.isAvailable = false
}
