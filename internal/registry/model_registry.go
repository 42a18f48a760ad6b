// Package registry provides centralized model management for the proxy.
// It implements a dynamic model registry with reference counting to track
// active credentials and automatically hide models when no credentials are
// available or when quota is exceeded.
package registry

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// quotaExpiredDuration is the cooldown after which a quota-exceeded
// credential counts toward availability again.
const quotaExpiredDuration = 5 * time.Minute

// ModelInfo represents information about an available model
type ModelInfo struct {
	// ID is the unique identifier for the model
	ID string `json:"id"`
	// Object type for the model (typically "model")
	Object string `json:"object"`
	// Created timestamp when the model was created
	Created int64 `json:"created"`
	// OwnedBy indicates the organization that owns the model
	OwnedBy string `json:"owned_by"`
	// DisplayName is the human-readable name for the model
	DisplayName string `json:"display_name,omitempty"`
	// Description provides detailed information about the model
	Description string `json:"description,omitempty"`
	// ContextLength is the context window size
	ContextLength int `json:"context_length,omitempty"`
	// MaxCompletionTokens is the maximum completion tokens
	MaxCompletionTokens int `json:"max_completion_tokens,omitempty"`
}

// ModelRegistration tracks a model's availability
type ModelRegistration struct {
	// Info contains the model metadata
	Info *ModelInfo
	// Count is the number of active credentials that can provide this model
	Count int
	// LastUpdated tracks when this registration was last modified
	LastUpdated time.Time
	// QuotaExceededClients tracks which credentials have exceeded quota for this model
	QuotaExceededClients map[string]*time.Time
}

// ModelRegistry manages the global registry of available models
type ModelRegistry struct {
	// models maps model ID to registration information
	models map[string]*ModelRegistration
	// clientModels maps credential ID to the models it provides
	clientModels map[string][]string
	// mutex ensures thread-safe access to the registry
	mutex *sync.RWMutex
}

// Global model registry instance
var globalRegistry *ModelRegistry
var registryOnce sync.Once

// GetGlobalRegistry returns the global model registry instance
func GetGlobalRegistry() *ModelRegistry {
	registryOnce.Do(func() {
		globalRegistry = &ModelRegistry{
			models:       make(map[string]*ModelRegistration),
			clientModels: make(map[string][]string),
			mutex:        &sync.RWMutex{},
		}
	})
	return globalRegistry
}

// RegisterClient registers a credential and its supported models.
func (r *ModelRegistry) RegisterClient(clientID string, models []*ModelInfo) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	// Remove any existing registration for this credential
	r.unregisterClientInternal(clientID)

	modelIDs := make([]string, 0, len(models))
	now := time.Now()

	for _, model := range models {
		modelIDs = append(modelIDs, model.ID)

		if existing, exists := r.models[model.ID]; exists {
			existing.Count++
			existing.LastUpdated = now
			log.Debugf("Incremented count for model %s, now %d credentials", model.ID, existing.Count)
		} else {
			r.models[model.ID] = &ModelRegistration{
				Info:                 model,
				Count:                1,
				LastUpdated:          now,
				QuotaExceededClients: make(map[string]*time.Time),
			}
			log.Debugf("Registered new model %s", model.ID)
		}
	}

	r.clientModels[clientID] = modelIDs
	log.Debugf("Registered credential %s with %d models", clientID, len(models))
}

// UnregisterClient removes a credential and decrements counts for its models.
func (r *ModelRegistry) UnregisterClient(clientID string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.unregisterClientInternal(clientID)
}

// unregisterClientInternal performs the actual unregistration (internal, no locking)
func (r *ModelRegistry) unregisterClientInternal(clientID string) {
	models, exists := r.clientModels[clientID]
	if !exists {
		return
	}

	now := time.Now()
	for _, modelID := range models {
		if registration, isExists := r.models[modelID]; isExists {
			registration.Count--
			registration.LastUpdated = now
			delete(registration.QuotaExceededClients, clientID)

			if registration.Count <= 0 {
				delete(r.models, modelID)
				log.Debugf("Removed model %s as no credentials remain", modelID)
			}
		}
	}

	delete(r.clientModels, clientID)
	log.Debugf("Unregistered credential %s", clientID)
}

// SetModelQuotaExceeded marks a model as quota exceeded for a credential.
func (r *ModelRegistry) SetModelQuotaExceeded(clientID, modelID string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if registration, exists := r.models[modelID]; exists {
		now := time.Now()
		registration.QuotaExceededClients[clientID] = &now
		log.Debugf("Marked model %s as quota exceeded for credential %s", modelID, clientID)
	}
}

// ClearModelQuotaExceeded removes quota exceeded status for a model and credential.
func (r *ModelRegistry) ClearModelQuotaExceeded(clientID, modelID string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if registration, exists := r.models[modelID]; exists {
		delete(registration.QuotaExceededClients, clientID)
	}
}

// GetAvailableModels returns all models that have at least one available
// credential, formatted for the given handler type.
func (r *ModelRegistry) GetAvailableModels(handlerType string) []map[string]any {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	models := make([]map[string]any, 0)
	now := time.Now()

	for _, registration := range r.models {
		exceededClients := 0
		for _, quotaTime := range registration.QuotaExceededClients {
			if quotaTime != nil && now.Sub(*quotaTime) < quotaExpiredDuration {
				exceededClients++
			}
		}

		if registration.Count-exceededClients > 0 {
			if model := r.convertModelToMap(registration.Info, handlerType); model != nil {
				models = append(models, model)
			}
		}
	}

	return models
}

// GetModelCount returns the number of available credentials for a model.
func (r *ModelRegistry) GetModelCount(modelID string) int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	registration, exists := r.models[modelID]
	if !exists {
		return 0
	}

	now := time.Now()
	exceededClients := 0
	for _, quotaTime := range registration.QuotaExceededClients {
		if quotaTime != nil && now.Sub(*quotaTime) < quotaExpiredDuration {
			exceededClients++
		}
	}
	if result := registration.Count - exceededClients; result > 0 {
		return result
	}
	return 0
}

// convertModelToMap converts ModelInfo to the format for a handler type.
func (r *ModelRegistry) convertModelToMap(model *ModelInfo, handlerType string) map[string]any {
	if model == nil {
		return nil
	}

	switch handlerType {
	case "openai", "openai-response":
		result := map[string]any{
			"id":       model.ID,
			"object":   "model",
			"owned_by": model.OwnedBy,
		}
		if model.Created > 0 {
			result["created"] = model.Created
		}
		if model.DisplayName != "" {
			result["display_name"] = model.DisplayName
		}
		if model.Description != "" {
			result["description"] = model.Description
		}
		if model.ContextLength > 0 {
			result["context_length"] = model.ContextLength
		}
		if model.MaxCompletionTokens > 0 {
			result["max_completion_tokens"] = model.MaxCompletionTokens
		}
		return result

	default:
		result := map[string]any{
			"id":     model.ID,
			"object": "model",
		}
		if model.OwnedBy != "" {
			result["owned_by"] = model.OwnedBy
		}
		return result
	}
}

// CleanupExpiredQuotas removes expired quota tracking entries.
func (r *ModelRegistry) CleanupExpiredQuotas() {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	now := time.Now()
	for modelID, registration := range r.models {
		for clientID, quotaTime := range registration.QuotaExceededClients {
			if quotaTime != nil && now.Sub(*quotaTime) >= quotaExpiredDuration {
				delete(registration.QuotaExceededClients, clientID)
				log.Debugf("Cleaned up expired quota tracking for model %s, credential %s", modelID, clientID)
			}
		}
	}
}
