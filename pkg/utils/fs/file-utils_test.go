package fs

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestEnsureDir_CreatesNested(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b", "c")
	if err := EnsureDir(dir); err != nil {
		t.Fatalf("EnsureDir failed: %v", err)
	}
	if !IsDir(dir) {
		t.Errorf("Expected %s to be a directory", dir)
	}
}

func TestIsDir_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if IsDir(path) {
		t.Error("Expected regular file not to be reported as a directory")
	}
	if IsDir(filepath.Join(t.TempDir(), "missing")) {
		t.Error("Expected missing path not to be reported as a directory")
	}
}

func TestGetUserAppDataDir_UsesXDG(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("XDG_CONFIG_HOME only applies on linux")
	}
	base := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", base)

	dir, err := GetUserAppDataDir("d20d")
	if err != nil {
		t.Fatalf("GetUserAppDataDir failed: %v", err)
	}
	if dir != filepath.Join(base, "d20d") {
		t.Errorf("Expected %s, got %s", filepath.Join(base, "d20d"), dir)
	}
	if !IsDir(dir) {
		t.Error("Expected app data dir to be created")
	}
}
