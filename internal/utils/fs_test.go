package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCheckDirStatusCreatesAndProbes(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")

	status := CheckDirStatus(dir)
	if status.Error != nil {
		t.Fatalf("CheckDirStatus: %v", status.Error)
	}
	if !status.Exists || !status.Writable {
		t.Fatalf("expected created writable dir, got %+v", status)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("dir was not created: %v", err)
	}

	// Second call hits the existing-dir path.
	status = CheckDirStatus(dir)
	if !status.Exists || !status.Writable {
		t.Fatalf("existing dir reported %+v", status)
	}
}

func TestCheckDirStatusReadOnly(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	dir := t.TempDir()
	if err := os.Chmod(dir, 0555); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	defer os.Chmod(dir, 0755)

	status := CheckDirStatus(dir)
	if !status.Exists {
		t.Fatal("expected dir to exist")
	}
	if status.Writable {
		t.Fatal("read-only dir reported writable")
	}
}

func TestEnsureParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "tags.db")
	if err := EnsureParentDir(path); err != nil {
		t.Fatalf("EnsureParentDir: %v", err)
	}
	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		t.Fatalf("parent dir missing: %v", err)
	}

	// Bare filenames have no parent to create.
	if err := EnsureParentDir("tags.db"); err != nil {
		t.Fatalf("EnsureParentDir bare name: %v", err)
	}
}
