package vm

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/docker/go-units"
)

// DefaultRootDiskSize is used when the root disk has no configured size.
const DefaultRootDiskSize int64 = 64 * units.GiB

// ImageManager prepares disk images under the VM home.
type ImageManager struct {
	dataDir string
}

// NewImageManager creates an image manager rooted at dataDir.
func NewImageManager(dataDir string) *ImageManager {
	return &ImageManager{dataDir: dataDir}
}

// Path resolves p against the data directory when it is relative.
func (m *ImageManager) Path(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.dataDir, p)
}

// Exists reports whether the image at p exists.
func (m *ImageManager) Exists(p string) bool {
	_, err := os.Stat(m.Path(p))
	return err == nil
}

// EnsureDisk creates a sparse image of size bytes at p unless one already
// exists. It returns the resolved path and whether the image was created.
func (m *ImageManager) EnsureDisk(p string, size int64) (string, bool, error) {
	path := m.Path(p)
	if _, err := os.Stat(path); err == nil {
		return path, false, nil
	}
	if size <= 0 {
		size = DefaultRootDiskSize
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", false, fmt.Errorf("create image dir: %w", err)
	}
	if err := createSparseImage(path, size); err != nil {
		return "", false, fmt.Errorf("create disk image %s (%s): %w", path, units.BytesSize(float64(size)), err)
	}
	return path, true, nil
}

func createSparseImage(path string, size int64) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	// Truncate creates a sparse file on Linux/macOS
	return f.Truncate(size)
}
