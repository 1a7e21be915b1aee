// ABOUTME: Host-native file backend, optionally backed by a synchronous storage bridge
// ABOUTME: Highest-durability backend; writes are atomic via rename

package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Bridge is the read surface of the synchronous host-native storage
// interface some hosts expose: QuerySync doubles as a liveness probe and
// ReadDBBytesSync serves blob loads. The host's write primitives stay on
// the host side; engine writes go through the embedded database and the
// atomic file save.
type Bridge interface {
	QuerySync(query string, params []any) ([]map[string]any, error)
	ReadDBBytesSync() ([]byte, error)
}

// NativeBackend persists the blob as a plain file on the host filesystem.
type NativeBackend struct {
	path   string
	bridge Bridge
	logger *slog.Logger
}

// NewNativeBackend creates a native file backend at the given path.
// bridge may be nil when the host exposes no synchronous bridge.
func NewNativeBackend(path string, bridge Bridge) *NativeBackend {
	return &NativeBackend{
		path:   path,
		bridge: bridge,
		logger: slog.Default().With("component", "storage", "backend", "native"),
	}
}

func (n *NativeBackend) Name() string { return "native" }

// Quota is unbounded: the native file is only limited by the disk itself.
func (n *NativeBackend) Quota() int64 { return 0 }

// Supported reports whether the host bridge answers, or failing that,
// whether the target directory is writable.
func (n *NativeBackend) Supported() bool {
	if n.bridge != nil {
		if _, err := n.bridge.QuerySync("SELECT 1", nil); err == nil {
			return true
		}
		n.logger.Warn("bridge probe failed, falling back to file check")
	}
	if n.path == "" {
		return false
	}
	dir := filepath.Dir(n.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false
	}
	probe := filepath.Join(dir, ".localsync-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return false
	}
	_ = os.Remove(probe)
	return true
}

func (n *NativeBackend) Load(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if n.bridge != nil {
		data, err := n.bridge.ReadDBBytesSync()
		if err == nil && len(data) > 0 {
			return data, nil
		}
		if err != nil {
			n.logger.Warn("bridge read failed, falling back to file", "error", err)
		}
	}
	data, err := os.ReadFile(n.path)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading native file: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrNotFound
	}
	return data, nil
}

// Save writes to a temp file in the same directory and renames it into
// place, so a crash mid-write never leaves a truncated blob.
func (n *NativeBackend) Save(ctx context.Context, blob []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := filepath.Dir(n.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating native directory: %w", err)
	}
	tmp := n.path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o644); err != nil {
		_ = os.Remove(tmp)
		if IsQuota(err) {
			return fmt.Errorf("native save: %w", ErrQuotaExceeded)
		}
		return fmt.Errorf("writing native file: %w", err)
	}
	if err := os.Rename(tmp, n.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replacing native file: %w", err)
	}
	return nil
}

func (n *NativeBackend) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := os.Remove(n.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clearing native file: %w", err)
	}
	return nil
}

var _ Backend = (*NativeBackend)(nil)
