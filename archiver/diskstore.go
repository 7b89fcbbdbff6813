package archiver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/c360/visionstream/errors"
)

// DiskStore writes each record to the filesystem: the image under its
// original name and the keypoint records next to it with a ".feat" suffix.
type DiskStore struct {
	dir string
}

// NewDiskStore creates the output directory if needed.
func NewDiskStore(dir string) (*DiskStore, error) {
	if dir == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig,
			"DiskStore", "NewDiskStore", "output directory required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.WrapFatal(err, "DiskStore", "NewDiskStore",
			fmt.Sprintf("create output directory %s", dir))
	}
	return &DiskStore{dir: dir}, nil
}

// Save implements Store. Filenames are flattened to their base name so a
// malicious or malformed filename cannot escape the output directory.
func (s *DiskStore) Save(_ context.Context, rec Record) error {
	name := filepath.Base(rec.Filename)
	if name == "." || name == string(filepath.Separator) || name == ".." {
		return errors.WrapInvalid(
			fmt.Errorf("unusable filename %q", rec.Filename),
			"DiskStore", "Save", "derive output name")
	}

	imagePath := filepath.Join(s.dir, name)
	if err := os.WriteFile(imagePath, rec.Image, 0o644); err != nil {
		return errors.WrapTransient(err, "DiskStore", "Save",
			fmt.Sprintf("write image %s", imagePath))
	}

	featPath := imagePath + ".feat"
	if err := os.WriteFile(featPath, rec.Features, 0o644); err != nil {
		return errors.WrapTransient(err, "DiskStore", "Save",
			fmt.Sprintf("write features %s", featPath))
	}
	return nil
}

// Close implements Store.
func (s *DiskStore) Close(_ context.Context) error {
	return nil
}
