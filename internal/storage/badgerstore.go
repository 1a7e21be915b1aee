// ABOUTME: Large-quota key-value backend over BadgerDB
// ABOUTME: Holds the blob under a single fixed key; supports in-memory mode for tests

package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
)

// blobKey is the fixed key the database blob is stored under.
var blobKey = []byte("localsync/database")

// BadgerConfig holds configuration for the Badger-backed store.
type BadgerConfig struct {
	// Dir is the directory for Badger files. Ignored when InMemory is set.
	Dir string

	// InMemory disables disk persistence. Useful for tests.
	InMemory bool

	// Quota caps the accepted blob size in bytes; 0 means unbounded.
	Quota int64
}

// BadgerBackend stores the blob in an embedded BadgerDB instance.
type BadgerBackend struct {
	cfg     BadgerConfig
	db      *badger.DB
	openErr error
	logger  *slog.Logger
}

// badgerLogger adapts slog to Badger's logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// NewBadgerBackend opens the Badger instance eagerly. An open failure is
// not fatal: the backend just reports itself unsupported and the selector
// moves on.
func NewBadgerBackend(cfg BadgerConfig) *BadgerBackend {
	logger := slog.Default().With("component", "storage", "backend", "badger")

	opts := badger.DefaultOptions(cfg.Dir).
		WithLogger(&badgerLogger{logger: logger}).
		WithNumVersionsToKeep(1)
	if cfg.InMemory {
		opts = opts.WithInMemory(true).WithDir("").WithValueDir("")
	}

	db, err := badger.Open(opts)
	if err != nil {
		logger.Warn("badger unavailable", "dir", cfg.Dir, "error", err)
	}
	return &BadgerBackend{cfg: cfg, db: db, openErr: err, logger: logger}
}

func (b *BadgerBackend) Name() string { return "badger" }

func (b *BadgerBackend) Quota() int64 { return b.cfg.Quota }

func (b *BadgerBackend) Supported() bool { return b.openErr == nil && b.db != nil }

func (b *BadgerBackend) Load(ctx context.Context) ([]byte, error) {
	if !b.Supported() {
		return nil, ErrUnsupported
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var blob []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(blobKey)
		if err != nil {
			return err
		}
		blob, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("badger load: %w", err)
	}
	return blob, nil
}

func (b *BadgerBackend) Save(ctx context.Context, blob []byte) error {
	if !b.Supported() {
		return ErrUnsupported
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.cfg.Quota > 0 && int64(len(blob)) > b.cfg.Quota {
		return fmt.Errorf("badger save of %d bytes: %w", len(blob), ErrQuotaExceeded)
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(blobKey, blob)
	})
	if err != nil {
		if errors.Is(err, badger.ErrTxnTooBig) || IsQuota(err) {
			return fmt.Errorf("badger save: %w", ErrQuotaExceeded)
		}
		return fmt.Errorf("badger save: %w", err)
	}
	return nil
}

func (b *BadgerBackend) Clear(ctx context.Context) error {
	if !b.Supported() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(blobKey)
	})
	if err != nil {
		return fmt.Errorf("badger clear: %w", err)
	}
	return nil
}

// Close releases the Badger instance.
func (b *BadgerBackend) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

var _ Backend = (*BadgerBackend)(nil)
