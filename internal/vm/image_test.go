package vm

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/docker/go-units"

	"github.com/javanstorm/vermuda/internal/testutil"
)

func TestEnsureDisk(t *testing.T) {
	dir := t.TempDir()
	im := NewImageManager(dir)

	// Create new disk
	path, created, err := im.EnsureDisk("disk.img", 100*units.MiB)
	if err != nil {
		t.Fatalf("EnsureDisk failed: %v", err)
	}
	if !created {
		t.Error("first EnsureDisk should create the image")
	}

	// Sparse file - logical size should match requested size
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("disk file not created: %v", err)
	}
	if info.Size() != 100*units.MiB {
		t.Errorf("disk size = %d, want %d", info.Size(), 100*units.MiB)
	}

	// Second call returns same path without recreating
	path2, created, err := im.EnsureDisk("disk.img", 200*units.MiB)
	if err != nil {
		t.Fatalf("EnsureDisk second call failed: %v", err)
	}
	if created {
		t.Error("EnsureDisk should not recreate an existing disk")
	}
	if path != path2 {
		t.Error("EnsureDisk should return same path for existing disk")
	}
	if info, _ := os.Stat(path); info.Size() != 100*units.MiB {
		t.Error("existing disk must not be resized")
	}

	if want := filepath.Join(dir, "disk.img"); path != want {
		t.Errorf("disk path = %q, want %q", path, want)
	}
}

func TestEnsureDiskDifferentSizes(t *testing.T) {
	dir := t.TempDir()
	im := NewImageManager(dir)

	tests := []struct {
		name string
		size int64
	}{
		{"small", 10 * units.MiB},
		{"medium", 100 * units.MiB},
		{"large", 1 * units.GiB},
		{"default", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path, _, err := im.EnsureDisk(tt.name+".img", tt.size)
			if err != nil {
				t.Fatalf("EnsureDisk(%d) failed: %v", tt.size, err)
			}

			info, err := os.Stat(path)
			if err != nil {
				t.Fatalf("disk file not created: %v", err)
			}

			want := tt.size
			if want == 0 {
				want = DefaultRootDiskSize
			}
			if info.Size() != want {
				t.Errorf("disk size = %d, want %d", info.Size(), want)
			}
		})
	}
}

func TestImagePath(t *testing.T) {
	dir := t.TempDir()
	im := NewImageManager(dir)

	tests := []struct {
		in   string
		want string
	}{
		{"disk.img", filepath.Join(dir, "disk.img")},
		{"sub/boot.img", filepath.Join(dir, "sub", "boot.img")},
		{"/abs/root.img", "/abs/root.img"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := im.Path(tt.in); got != tt.want {
				t.Errorf("Path(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestImageExists(t *testing.T) {
	im := NewImageManager(t.TempDir())

	if im.Exists("boot.img") {
		t.Error("Exists should return false for a missing image")
	}
	if _, _, err := im.EnsureDisk("boot.img", units.MiB); err != nil {
		t.Fatalf("EnsureDisk failed: %v", err)
	}
	if !im.Exists("boot.img") {
		t.Error("Exists should return true after creation")
	}
}

func TestImageManagerCreatesDirIfNeeded(t *testing.T) {
	// Use a nested directory that doesn't exist
	dir := filepath.Join(t.TempDir(), "nested", "data")
	im := NewImageManager(dir)

	if _, _, err := im.EnsureDisk("disk.img", 10*units.MiB); err != nil {
		t.Fatalf("EnsureDisk failed: %v", err)
	}

	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("directory not created: %v", err)
	}
	if !info.IsDir() {
		t.Error("path should be a directory")
	}
}

func TestEnsureDiskKeepsExistingAbsolutePath(t *testing.T) {
	im := NewImageManager(t.TempDir())
	existing := filepath.Join(t.TempDir(), "root.img")
	testutil.CreateTestDisk(t, existing, 8)

	path, created, err := im.EnsureDisk(existing, units.GiB)
	if err != nil {
		t.Fatalf("EnsureDisk failed: %v", err)
	}
	if created || path != existing {
		t.Errorf("EnsureDisk = %q, %v; want %q, false", path, created, existing)
	}
	if info, _ := os.Stat(existing); info.Size() != 8*units.MiB {
		t.Errorf("existing disk resized to %d", info.Size())
	}
}
