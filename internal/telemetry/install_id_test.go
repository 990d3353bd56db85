package telemetry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
)

func TestGetOrCreateInstallIDStable(t *testing.T) {
	dir := t.TempDir()
	first, err := GetOrCreateInstallID(dir)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := uuid.Parse(first); err != nil {
		t.Fatalf("not a uuid: %q", first)
	}
	second, err := GetOrCreateInstallID(dir)
	if err != nil {
		t.Fatalf("reread: %v", err)
	}
	if first != second {
		t.Fatalf("id changed across calls: %q vs %q", first, second)
	}
}

func TestGetOrCreateInstallIDReplacesGarbage(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "install_id"), []byte("not-a-uuid\n"), 0600); err != nil {
		t.Fatalf("seed: %v", err)
	}
	id, err := GetOrCreateInstallID(dir)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("not regenerated: %q", id)
	}
}
