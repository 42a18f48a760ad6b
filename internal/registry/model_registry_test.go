package registry

import (
	"sync"
	"testing"
	"time"
)

func newTestRegistry() *ModelRegistry {
	return &ModelRegistry{
		models:       make(map[string]*ModelRegistration),
		clientModels: make(map[string][]string),
		mutex:        &sync.RWMutex{},
	}
}

func TestRegisterAndUnregisterClient(t *testing.T) {
	r := newTestRegistry()
	models := GetGrokModels()

	r.RegisterClient("cred-1", models)
	r.RegisterClient("cred-2", models)

	if got := r.GetModelCount("grok-4"); got != 2 {
		t.Errorf("GetModelCount(grok-4) = %d, want 2", got)
	}

	available := r.GetAvailableModels("openai")
	if len(available) != len(models) {
		t.Errorf("GetAvailableModels returned %d models, want %d", len(available), len(models))
	}

	r.UnregisterClient("cred-1")
	if got := r.GetModelCount("grok-4"); got != 1 {
		t.Errorf("GetModelCount after unregister = %d, want 1", got)
	}

	r.UnregisterClient("cred-2")
	if got := r.GetModelCount("grok-4"); got != 0 {
		t.Errorf("GetModelCount after all unregistered = %d, want 0", got)
	}
	if got := r.GetAvailableModels("openai"); len(got) != 0 {
		t.Errorf("GetAvailableModels with no clients = %d models, want 0", len(got))
	}
}

func TestReregisterClientDoesNotDoubleCount(t *testing.T) {
	r := newTestRegistry()
	models := GetGrokModels()

	r.RegisterClient("cred-1", models)
	r.RegisterClient("cred-1", models)

	if got := r.GetModelCount("grok-3"); got != 1 {
		t.Errorf("GetModelCount after re-register = %d, want 1", got)
	}
}

func TestQuotaExceededHidesModel(t *testing.T) {
	r := newTestRegistry()
	models := GetGrokModels()

	r.RegisterClient("cred-1", models)
	r.SetModelQuotaExceeded("cred-1", "grok-4")

	if got := r.GetModelCount("grok-4"); got != 0 {
		t.Errorf("GetModelCount with quota exceeded = %d, want 0", got)
	}
	// Other models stay visible.
	if got := r.GetModelCount("grok-3"); got != 1 {
		t.Errorf("GetModelCount(grok-3) = %d, want 1", got)
	}

	r.ClearModelQuotaExceeded("cred-1", "grok-4")
	if got := r.GetModelCount("grok-4"); got != 1 {
		t.Errorf("GetModelCount after clear = %d, want 1", got)
	}
}

func TestQuotaExceededSecondCredentialKeepsModel(t *testing.T) {
	r := newTestRegistry()
	models := GetGrokModels()

	r.RegisterClient("cred-1", models)
	r.RegisterClient("cred-2", models)
	r.SetModelQuotaExceeded("cred-1", "grok-4")

	if got := r.GetModelCount("grok-4"); got != 1 {
		t.Errorf("GetModelCount with one exceeded credential = %d, want 1", got)
	}
}

func TestCleanupExpiredQuotas(t *testing.T) {
	r := newTestRegistry()
	r.RegisterClient("cred-1", GetGrokModels())
	r.SetModelQuotaExceeded("cred-1", "grok-4")

	// Backdate the mark past the cooldown.
	expired := time.Now().Add(-quotaExpiredDuration - time.Minute)
	r.mutex.Lock()
	r.models["grok-4"].QuotaExceededClients["cred-1"] = &expired
	r.mutex.Unlock()

	if got := r.GetModelCount("grok-4"); got != 1 {
		t.Errorf("GetModelCount with expired mark = %d, want 1", got)
	}

	r.CleanupExpiredQuotas()

	r.mutex.RLock()
	_, stillMarked := r.models["grok-4"].QuotaExceededClients["cred-1"]
	r.mutex.RUnlock()
	if stillMarked {
		t.Error("expired quota mark survived CleanupExpiredQuotas")
	}
}

func TestGetAvailableModelsFormat(t *testing.T) {
	r := newTestRegistry()
	r.RegisterClient("cred-1", []*ModelInfo{{
		ID:      "grok-4",
		Object:  "model",
		Created: 1752192000,
		OwnedBy: "xai",
	}})

	models := r.GetAvailableModels("openai")
	if len(models) != 1 {
		t.Fatalf("GetAvailableModels = %d models, want 1", len(models))
	}
	m := models[0]
	if m["id"] != "grok-4" || m["object"] != "model" || m["owned_by"] != "xai" {
		t.Errorf("unexpected model map: %v", m)
	}
	if m["created"] != int64(1752192000) {
		t.Errorf("created = %v, want 1752192000", m["created"])
	}
}
