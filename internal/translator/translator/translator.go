// Package translator maintains the registry of request and response
// translators between client-facing API formats and the provider's native
// format. Translators register themselves in init functions keyed by a
// (from, to) format pair.
package translator

import (
	"context"

	"github.com/grokproxy/GrokProxyAPI/internal/interfaces"
	log "github.com/sirupsen/logrus"
)

var (
	Requests  map[string]map[string]interfaces.TranslateRequestFunc
	Responses map[string]map[string]interfaces.TranslateResponse
)

func init() {
	Requests = make(map[string]map[string]interfaces.TranslateRequestFunc)
	Responses = make(map[string]map[string]interfaces.TranslateResponse)
}

// Register adds a translator pair for the from/to format combination.
func Register(from, to string, request interfaces.TranslateRequestFunc, response interfaces.TranslateResponse) {
	log.Debugf("Registering translator from %s to %s", from, to)
	if _, ok := Requests[from]; !ok {
		Requests[from] = make(map[string]interfaces.TranslateRequestFunc)
	}
	Requests[from][to] = request

	if _, ok := Responses[from]; !ok {
		Responses[from] = make(map[string]interfaces.TranslateResponse)
	}
	Responses[from][to] = response
}

// Request translates a client request body to the provider format, or
// returns it unchanged when no translator is registered.
func Request(from, to, modelName string, rawJSON []byte, stream bool) []byte {
	if translator, ok := Requests[from][to]; ok {
		return translator(modelName, rawJSON, stream)
	}
	return rawJSON
}

// NeedConvert reports whether a response translator exists for the pair.
func NeedConvert(from, to string) bool {
	_, ok := Responses[from][to]
	return ok
}

// Response translates one streaming response fragment into client frames.
func Response(from, to string, ctx context.Context, modelName string, originalRequestRawJSON, requestRawJSON, rawJSON []byte, param *any) []string {
	if translator, ok := Responses[from][to]; ok {
		return translator.Stream(ctx, modelName, originalRequestRawJSON, requestRawJSON, rawJSON, param)
	}
	return []string{string(rawJSON)}
}

// ResponseNonStream translates a complete response body for the buffered path.
func ResponseNonStream(from, to string, ctx context.Context, modelName string, originalRequestRawJSON, requestRawJSON, rawJSON []byte, param *any) string {
	if translator, ok := Responses[from][to]; ok {
		return translator.NonStream(ctx, modelName, originalRequestRawJSON, requestRawJSON, rawJSON, param)
	}
	return string(rawJSON)
}
