package handlers

import (
	"context"
	"sync"
	"testing"

	"github.com/grokproxy/GrokProxyAPI/internal/config"
	"github.com/grokproxy/GrokProxyAPI/internal/interfaces"
)

type stubClient struct {
	id            string
	available     bool
	quotaExceeded map[string]bool
	mutex         *sync.Mutex
}

func newStubClient(id string) *stubClient {
	return &stubClient{
		id:            id,
		available:     true,
		quotaExceeded: make(map[string]bool),
		mutex:         &sync.Mutex{},
	}
}

func (s *stubClient) Type() string                 { return "grok" }
func (s *stubClient) GetRequestMutex() *sync.Mutex { return s.mutex }
func (s *stubClient) GetUserAgent() string         { return "test" }
func (s *stubClient) SendRawMessage(context.Context, string, []byte, string) ([]byte, *interfaces.ErrorMessage) {
	return nil, nil
}
func (s *stubClient) SendRawMessageStream(context.Context, string, []byte, string) (<-chan []byte, <-chan *interfaces.ErrorMessage) {
	return nil, nil
}
func (s *stubClient) IsModelQuotaExceeded(model string) bool { return s.quotaExceeded[model] }
func (s *stubClient) GetCredentialID() string                { return s.id }
func (s *stubClient) CanProvideModel(string) bool            { return true }
func (s *stubClient) Provider() string                       { return "grok" }
func (s *stubClient) RefreshTokens(context.Context) error    { return nil }
func (s *stubClient) IsAvailable() bool                      { return s.available }
func (s *stubClient) SetUnavailable()                        { s.available = false }

func testHandlers(clients ...interfaces.Client) *BaseAPIHandler {
	return NewBaseAPIHandlers(clients, &config.Config{RequestRetry: 3})
}

func TestGetClientNoClients(t *testing.T) {
	h := testHandlers()
	_, errMsg := h.GetClient("grok-4")
	if errMsg == nil {
		t.Fatal("expected error with empty pool")
	}
	if errMsg.StatusCode != 500 {
		t.Errorf("StatusCode = %d, want 500", errMsg.StatusCode)
	}
}

func TestGetClientRoundRobin(t *testing.T) {
	a := newStubClient("cred-a")
	b := newStubClient("cred-b")
	h := testHandlers(a, b)

	seen := make(map[string]int)
	for i := 0; i < 4; i++ {
		cli, errMsg := h.GetClient("grok-4")
		if errMsg != nil {
			t.Fatalf("GetClient: %v", errMsg.Error)
		}
		seen[cli.GetCredentialID()]++
		cli.GetRequestMutex().Unlock()
	}
	if seen["cred-a"] != 2 || seen["cred-b"] != 2 {
		t.Errorf("round robin distribution = %v, want 2/2", seen)
	}
}

func TestGetClientSkipsQuotaExceeded(t *testing.T) {
	a := newStubClient("cred-a")
	a.quotaExceeded["grok-4"] = true
	b := newStubClient("cred-b")
	h := testHandlers(a, b)

	for i := 0; i < 3; i++ {
		cli, errMsg := h.GetClient("grok-4")
		if errMsg != nil {
			t.Fatalf("GetClient: %v", errMsg.Error)
		}
		if cli.GetCredentialID() != "cred-b" {
			t.Fatalf("selected %s, want cred-b", cli.GetCredentialID())
		}
		cli.GetRequestMutex().Unlock()
	}
}

func TestGetClientAllQuotaExceeded(t *testing.T) {
	a := newStubClient("cred-a")
	a.quotaExceeded["grok-4"] = true
	h := testHandlers(a)

	_, errMsg := h.GetClient("grok-4")
	if errMsg == nil {
		t.Fatal("expected error when all credentials are quota exceeded")
	}
	if errMsg.StatusCode != 429 {
		t.Errorf("StatusCode = %d, want 429", errMsg.StatusCode)
	}
}

func TestGetClientSkipsUnavailable(t *testing.T) {
	a := newStubClient("cred-a")
	a.SetUnavailable()
	b := newStubClient("cred-b")
	h := testHandlers(a, b)

	cli, errMsg := h.GetClient("grok-4")
	if errMsg != nil {
		t.Fatalf("GetClient: %v", errMsg.Error)
	}
	if cli.GetCredentialID() != "cred-b" {
		t.Errorf("selected %s, want cred-b", cli.GetCredentialID())
	}
	cli.GetRequestMutex().Unlock()
}

func TestGetClientPrefersUnlocked(t *testing.T) {
	a := newStubClient("cred-a")
	b := newStubClient("cred-b")
	h := testHandlers(a, b)

	// Hold the first-choice client's mutex; selection must fall through to
	// the other credential instead of blocking.
	first, errMsg := h.GetClient("grok-4")
	if errMsg != nil {
		t.Fatalf("GetClient: %v", errMsg.Error)
	}

	second, errMsg := h.GetClient("grok-4")
	if errMsg != nil {
		t.Fatalf("GetClient: %v", errMsg.Error)
	}
	if second.GetCredentialID() == first.GetCredentialID() {
		t.Errorf("second selection reused locked credential %s", first.GetCredentialID())
	}

	first.GetRequestMutex().Unlock()
	second.GetRequestMutex().Unlock()
}
