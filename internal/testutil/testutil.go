// Package testutil provides common test helpers and fakes for vermuda tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/javanstorm/vermuda/pkg/hypervisor"
)

// TestVMConfig returns a VMConfig suitable for testing. Paths live under
// t.TempDir(), ensuring automatic cleanup.
func TestVMConfig(t *testing.T) *hypervisor.VMConfig {
	t.Helper()

	dir := t.TempDir()
	return &hypervisor.VMConfig{
		CPUs:             2,
		MemoryMB:         2048,
		EFIVariableStore: filepath.Join(dir, "efivars.bin"),
		BootDisk:         filepath.Join(dir, "boot.img"),
		RootDisk:         filepath.Join(dir, "disk.img"),
		Console:          true,
	}
}

// CreateTestDisk creates a sparse disk file at the given path with the specified size.
// The file is created as a sparse file, so it doesn't actually allocate all the space.
func CreateTestDisk(t *testing.T, path string, sizeMB int64) {
	t.Helper()

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("failed to create directory %s: %v", dir, err)
	}

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create test disk at %s: %v", path, err)
	}
	defer f.Close()

	// Create sparse file by truncating to desired size
	sizeBytes := sizeMB * 1024 * 1024
	if err := f.Truncate(sizeBytes); err != nil {
		t.Fatalf("failed to truncate test disk to %d bytes: %v", sizeBytes, err)
	}
}
