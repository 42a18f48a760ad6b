package store

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *CredentialStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func TestRecordRequest(t *testing.T) {
	s := openTestStore(t)

	if got := s.UsageCount("grok-abc"); got != 0 {
		t.Fatalf("UsageCount = %d, want 0", got)
	}
	for i := 0; i < 3; i++ {
		if err := s.RecordRequest("grok-abc"); err != nil {
			t.Fatalf("RecordRequest: %v", err)
		}
	}
	if got := s.UsageCount("grok-abc"); got != 3 {
		t.Errorf("UsageCount = %d, want 3", got)
	}
	if got := s.UsageCount("grok-other"); got != 0 {
		t.Errorf("UsageCount for untouched credential = %d, want 0", got)
	}
}

func TestQuotaMarks(t *testing.T) {
	s := openTestStore(t)

	if _, ok := s.QuotaExceededAt("grok-abc", "grok-4"); ok {
		t.Fatal("unexpected quota mark on fresh store")
	}

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if err := s.MarkQuotaExceeded("grok-abc", "grok-4", at); err != nil {
		t.Fatalf("MarkQuotaExceeded: %v", err)
	}

	got, ok := s.QuotaExceededAt("grok-abc", "grok-4")
	if !ok {
		t.Fatal("quota mark not found after MarkQuotaExceeded")
	}
	if !got.Equal(at) {
		t.Errorf("QuotaExceededAt = %v, want %v", got, at)
	}

	// Marks are scoped per credential and model.
	if _, ok = s.QuotaExceededAt("grok-abc", "grok-3"); ok {
		t.Error("quota mark leaked to another model")
	}
	if _, ok = s.QuotaExceededAt("grok-xyz", "grok-4"); ok {
		t.Error("quota mark leaked to another credential")
	}

	if err := s.ClearQuotaExceeded("grok-abc", "grok-4"); err != nil {
		t.Fatalf("ClearQuotaExceeded: %v", err)
	}
	if _, ok = s.QuotaExceededAt("grok-abc", "grok-4"); ok {
		t.Error("quota mark still present after clear")
	}
}

func TestStatePersistsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err = s.RecordRequest("grok-abc"); err != nil {
		t.Fatalf("RecordRequest: %v", err)
	}
	at := time.Now().UTC().Truncate(time.Second)
	if err = s.MarkQuotaExceeded("grok-abc", "grok-4", at); err != nil {
		t.Fatalf("MarkQuotaExceeded: %v", err)
	}
	if err = s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() {
		_ = s.Close()
	}()

	if got := s.UsageCount("grok-abc"); got != 1 {
		t.Errorf("UsageCount after reopen = %d, want 1", got)
	}
	got, ok := s.QuotaExceededAt("grok-abc", "grok-4")
	if !ok {
		t.Fatal("quota mark lost across reopen")
	}
	if !got.Equal(at) {
		t.Errorf("QuotaExceededAt after reopen = %v, want %v", got, at)
	}
}
