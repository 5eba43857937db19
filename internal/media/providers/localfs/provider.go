// Package localfs implements media.StorageProvider on the local filesystem.
// A key "<tenant>/<subpath>" lives at <dataRoot>/tenants/<tenant>/media/<subpath>
// and is served under /media/<key>.
package localfs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/autolumiku/wabot/internal/media"
)

const publicMediaRoot = "/media"

// Provider writes photos beneath a data root, one directory per tenant.
type Provider struct {
	dataRoot string
}

// New creates a filesystem provider rooted at dataRoot.
func New(dataRoot string) (*Provider, error) {
	abs, err := filepath.Abs(dataRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve data root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create data root: %w", err)
	}
	return &Provider{dataRoot: abs}, nil
}

// Put writes through a temp file so readers never observe partial photos.
func (p *Provider) Put(_ context.Context, key string, reader io.Reader) error {
	dest, err := p.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(tmp, reader); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close file: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("commit file: %w", err)
	}
	return nil
}

func (p *Provider) Open(_ context.Context, key string) (io.ReadCloser, error) {
	dest, err := p.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(dest)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	return f, nil
}

func (p *Provider) Delete(_ context.Context, key string) error {
	dest, err := p.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

// AccessPath returns the public URL path for a key.
func (p *Provider) AccessPath(key string) string {
	return publicMediaRoot + "/" + strings.TrimPrefix(filepath.ToSlash(filepath.Clean(key)), "/")
}

func (p *Provider) path(key string) (string, error) {
	clean := filepath.Clean(key)
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", media.ErrPathTraversal, key)
	}
	tenant, sub, ok := strings.Cut(clean, string(filepath.Separator))
	if !ok || strings.TrimSpace(tenant) == "" || strings.TrimSpace(sub) == "" {
		return "", fmt.Errorf("storage key must be <tenant>/<path>: %s", key)
	}
	joined := filepath.Join(p.dataRoot, "tenants", tenant, "media", sub)
	if !strings.HasPrefix(joined, p.dataRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", media.ErrPathTraversal, key)
	}
	return joined, nil
}
