// ABOUTME: Small-quota key-value backend over goleveldb
// ABOUTME: Last-resort fallback with a hard size cap on the stored blob

package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/syndtr/goleveldb/leveldb"
	ldberrors "github.com/syndtr/goleveldb/leveldb/errors"
)

// DefaultLevelQuota is the cap applied when no quota is configured.
// The leveldb store is the last-resort backend and is kept deliberately
// small, mirroring the tight quotas of the host stores it stands in for.
const DefaultLevelQuota = 4 << 20 // 4 MiB

// LevelBackend stores the blob in a goleveldb database under a fixed key.
type LevelBackend struct {
	db      *leveldb.DB
	quota   int64
	openErr error
	logger  *slog.Logger
}

// NewLevelBackend opens a leveldb store at dir. quota caps the accepted
// blob size; values <= 0 fall back to DefaultLevelQuota.
func NewLevelBackend(dir string, quota int64) *LevelBackend {
	logger := slog.Default().With("component", "storage", "backend", "leveldb")
	if quota <= 0 {
		quota = DefaultLevelQuota
	}
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		logger.Warn("leveldb unavailable", "dir", dir, "error", err)
	}
	return &LevelBackend{db: db, quota: quota, openErr: err, logger: logger}
}

func (l *LevelBackend) Name() string { return "leveldb" }

func (l *LevelBackend) Quota() int64 { return l.quota }

func (l *LevelBackend) Supported() bool { return l.openErr == nil && l.db != nil }

func (l *LevelBackend) Load(ctx context.Context) ([]byte, error) {
	if !l.Supported() {
		return nil, ErrUnsupported
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	blob, err := l.db.Get(blobKey, nil)
	if errors.Is(err, ldberrors.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("leveldb load: %w", err)
	}
	return blob, nil
}

func (l *LevelBackend) Save(ctx context.Context, blob []byte) error {
	if !l.Supported() {
		return ErrUnsupported
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if int64(len(blob)) > l.quota {
		return fmt.Errorf("leveldb save of %d bytes: %w", len(blob), ErrQuotaExceeded)
	}
	if err := l.db.Put(blobKey, blob, nil); err != nil {
		if IsQuota(err) {
			return fmt.Errorf("leveldb save: %w", ErrQuotaExceeded)
		}
		return fmt.Errorf("leveldb save: %w", err)
	}
	return nil
}

func (l *LevelBackend) Clear(ctx context.Context) error {
	if !l.Supported() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := l.db.Delete(blobKey, nil); err != nil {
		return fmt.Errorf("leveldb clear: %w", err)
	}
	return nil
}

// Close releases the leveldb instance.
func (l *LevelBackend) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}

var _ Backend = (*LevelBackend)(nil)
