// ABOUTME: Persistence coordinator: serialized saves with validation and throttled failure logs
// ABOUTME: Single-writer discipline; a new save waits for the in-flight one to finish

package persist

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rentfold/localsync/internal/database"
)

// Database is the handle the coordinator exports blobs from.
type Database interface {
	WaitIdle(ctx context.Context, budget time.Duration) error
	Export(ctx context.Context) ([]byte, error)
}

// Store receives validated blobs; in production this is the backend selector.
type Store interface {
	Save(ctx context.Context, blob []byte) error
}

// Config tunes the coordinator. Zero values get sensible defaults.
type Config struct {
	// IdleBudget bounds the wait for an open transaction to close
	// before an export fails loudly. Default 5s.
	IdleBudget time.Duration

	// ThrottleWindow is the cool-down during which repeated identical
	// failures are logged only once. Default 1m.
	ThrottleWindow time.Duration

	// Reparse enables the corruption smoke-test that re-opens every
	// exported blob into a throwaway handle before storing it.
	Reparse bool
}

// Coordinator serializes save operations and validates exported blobs
// before they reach a storage backend.
type Coordinator struct {
	db     Database
	store  Store
	cfg    Config
	logger *slog.Logger

	// saveMu is the single save slot: the next save waits for the
	// in-flight one to resolve.
	saveMu sync.Mutex

	throttleMu sync.Mutex
	lastSig    string
	lastLogged time.Time
}

// New creates a coordinator over the database and store.
func New(db Database, store Store, cfg Config) *Coordinator {
	if cfg.IdleBudget <= 0 {
		cfg.IdleBudget = 5 * time.Second
	}
	if cfg.ThrottleWindow <= 0 {
		cfg.ThrottleWindow = time.Minute
	}
	return &Coordinator{
		db:     db,
		store:  store,
		cfg:    cfg,
		logger: slog.Default().With("component", "persist"),
	}
}

// Save exports the database and writes it through the backend chain,
// propagating any error. Concurrent callers are serialized.
func (c *Coordinator) Save(ctx context.Context) error {
	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	saveAttempts.Inc()

	if err := c.db.WaitIdle(ctx, c.cfg.IdleBudget); err != nil {
		saveFailures.Inc()
		return fmt.Errorf("waiting for open transaction: %w", err)
	}

	blob, err := c.db.Export(ctx)
	if err != nil {
		saveFailures.Inc()
		return fmt.Errorf("exporting database: %w", err)
	}

	if err := database.ValidateBlob(blob); err != nil {
		saveFailures.Inc()
		return fmt.Errorf("validating exported blob: %w", err)
	}
	if c.cfg.Reparse {
		if err := database.Reparse(blob); err != nil {
			saveFailures.Inc()
			return fmt.Errorf("re-parsing exported blob: %w", err)
		}
	}

	if err := c.store.Save(ctx, blob); err != nil {
		saveFailures.Inc()
		return err
	}

	blobSize.Set(float64(len(blob)))
	c.logger.Debug("database persisted", "size", len(blob))
	return nil
}

// SaveAsync fires a save in the background. Errors are logged with the
// failure throttle instead of being returned.
func (c *Coordinator) SaveAsync() {
	go func() {
		if err := c.Save(context.Background()); err != nil {
			c.logThrottled(err)
		}
	}()
}

// logThrottled logs the failure, suppressing repeats of the same error
// signature within the cool-down window so a permanently full store
// cannot flood the log.
func (c *Coordinator) logThrottled(err error) {
	sig := err.Error()

	c.throttleMu.Lock()
	suppress := sig == c.lastSig && time.Since(c.lastLogged) < c.cfg.ThrottleWindow
	if !suppress {
		c.lastSig = sig
		c.lastLogged = time.Now()
	}
	c.throttleMu.Unlock()

	if suppress {
		c.logger.Debug("save still failing", "error", err)
		return
	}
	c.logger.Error("background save failed", "error", err)
}
