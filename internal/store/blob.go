package store

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// DiskBlobStore stores attachment payloads under a local directory and
// derives public URLs from a configured base. Tests use it in place of the
// bucket-backed S3BlobStore so they need no credentials.
type DiskBlobStore struct {
	root    string
	baseURL string
}

func NewDiskBlobStore(root, baseURL string) *DiskBlobStore {
	return &DiskBlobStore{root: root, baseURL: strings.TrimRight(baseURL, "/")}
}

// Upload writes the blob under path and returns its public URL. Paths are
// confined to the storage root.
func (d *DiskBlobStore) Upload(ctx context.Context, blobPath, contentType string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	clean := filepath.Clean(blobPath)
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid blob path %q", blobPath)
	}

	full := filepath.Join(d.root, clean)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("creating blob directory: %w", err)
	}

	f, err := os.Create(full)
	if err != nil {
		return "", fmt.Errorf("creating blob file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		os.Remove(full)
		return "", fmt.Errorf("writing blob: %w", err)
	}

	return d.baseURL + "/" + filepath.ToSlash(clean), nil
}
