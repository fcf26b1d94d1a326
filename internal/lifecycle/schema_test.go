package lifecycle

import (
	"strings"
	"testing"
)

func persistedFromDefault() PersistedSchema {
	def := Default()
	out := PersistedSchema{Version: def.Version}
	for _, info := range def.Statuses() {
		out.Statuses = append(out.Statuses, string(info.Name))
	}
	return out
}

func TestCheckPersistedMatches(t *testing.T) {
	if err := Default().CheckPersisted(persistedFromDefault()); err != nil {
		t.Fatalf("CheckPersisted() error = %v", err)
	}
}

func TestCheckPersistedVersionMismatch(t *testing.T) {
	persisted := persistedFromDefault()
	persisted.Version = Version - 1
	err := Default().CheckPersisted(persisted)
	if err == nil || !strings.Contains(err.Error(), "version mismatch") {
		t.Fatalf("expected version mismatch, got %v", err)
	}
}

func TestCheckPersistedStatusDrift(t *testing.T) {
	persisted := persistedFromDefault()
	persisted.Statuses = append(persisted.Statuses[1:], "archived")
	err := Default().CheckPersisted(persisted)
	if err == nil {
		t.Fatal("expected status mismatch")
	}
	msg := err.Error()
	if !strings.Contains(msg, "missing uploaded") || !strings.Contains(msg, "unknown archived") {
		t.Fatalf("unexpected message %q", msg)
	}
}
