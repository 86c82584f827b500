package files

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/invoicehub/mirror/internal/utils"
)

// Backend stores downloaded files.
type Backend interface {
	Name() string
	Exists(ctx context.Context, key string) (bool, error)
	Put(ctx context.Context, key string, body []byte, contentType string) error
}

// LocalBackend writes files under a root directory.
type LocalBackend struct {
	root string
}

func NewLocalBackend(root string) (*LocalBackend, error) {
	root, err := utils.ResolvePath(root)
	if err != nil {
		return nil, err
	}
	if err := utils.EnsureDir(root); err != nil {
		return nil, fmt.Errorf("files: create %s: %w", root, err)
	}
	return &LocalBackend{root: root}, nil
}

func (b *LocalBackend) Name() string { return "local" }

// path resolves key below root. Keys that are absolute or climb out of
// root are refused.
func (b *LocalBackend) path(key string) (string, error) {
	rel := filepath.FromSlash(key)
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: %q", ErrUnsafeKey, key)
	}
	return filepath.Join(b.root, rel), nil
}

func (b *LocalBackend) Exists(_ context.Context, key string) (bool, error) {
	p, err := b.path(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

func (b *LocalBackend) Put(_ context.Context, key string, body []byte, _ string) error {
	p, err := b.path(key)
	if err != nil {
		return err
	}
	if err := utils.EnsureParent(p); err != nil {
		return err
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, p)
}

var _ Backend = (*LocalBackend)(nil)
