// ABOUTME: Sandboxed file-area backend over an afero filesystem
// ABOUTME: Larger-quota fallback below the native file; swappable fs for tests

package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// FileAreaBackend stores the blob inside a sandboxed file area. The
// filesystem is an afero seam so tests can run against an in-memory fs.
type FileAreaBackend struct {
	fs    afero.Fs
	dir   string
	name  string
	quota int64
}

// NewFileAreaBackend creates a file-area backend rooted at dir.
// quota caps the accepted blob size in bytes; 0 means unbounded.
func NewFileAreaBackend(fs afero.Fs, dir, name string, quota int64) *FileAreaBackend {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &FileAreaBackend{fs: fs, dir: dir, name: name, quota: quota}
}

func (f *FileAreaBackend) Name() string { return "filearea" }

func (f *FileAreaBackend) Quota() int64 { return f.quota }

func (f *FileAreaBackend) Supported() bool {
	if f.dir == "" {
		return false
	}
	return f.fs.MkdirAll(f.dir, 0o755) == nil
}

func (f *FileAreaBackend) path() string {
	return filepath.Join(f.dir, f.name)
}

func (f *FileAreaBackend) Load(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(f.fs, f.path())
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading file area: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrNotFound
	}
	return data, nil
}

func (f *FileAreaBackend) Save(ctx context.Context, blob []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.quota > 0 && int64(len(blob)) > f.quota {
		return fmt.Errorf("file area save of %d bytes: %w", len(blob), ErrQuotaExceeded)
	}
	if err := f.fs.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("creating file area: %w", err)
	}
	tmp := f.path() + ".tmp"
	if err := afero.WriteFile(f.fs, tmp, blob, 0o644); err != nil {
		_ = f.fs.Remove(tmp)
		if IsQuota(err) {
			return fmt.Errorf("file area save: %w", ErrQuotaExceeded)
		}
		return fmt.Errorf("writing file area: %w", err)
	}
	if err := f.fs.Rename(tmp, f.path()); err != nil {
		_ = f.fs.Remove(tmp)
		return fmt.Errorf("replacing file area blob: %w", err)
	}
	return nil
}

func (f *FileAreaBackend) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := f.fs.Remove(f.path())
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clearing file area: %w", err)
	}
	return nil
}

var _ Backend = (*FileAreaBackend)(nil)
