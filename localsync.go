// ABOUTME: Engine facade: wires storage, database, migrations, persistence and sync
// ABOUTME: Open probes the backend chain, migrates, and starts the periodic save loop

package localsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/rentfold/localsync/internal/config"
	"github.com/rentfold/localsync/internal/database"
	"github.com/rentfold/localsync/internal/migrate"
	"github.com/rentfold/localsync/internal/persist"
	"github.com/rentfold/localsync/internal/remote"
	"github.com/rentfold/localsync/internal/repo"
	"github.com/rentfold/localsync/internal/storage"
	"github.com/rentfold/localsync/internal/syncmerge"
)

// syncCursorKey stores the change-feed watermark in database metadata.
const syncCursorKey = "sync_cursor"

// defaultTenant scopes statements in single-tenant deployments.
const defaultTenant = "default"

// ErrNotReady is returned when an operation is attempted before Open has
// finished bringing the engine up.
var ErrNotReady = errors.New("engine not ready")

// Engine is the local persistence and synchronization layer. One Engine
// owns one working database, its ranked storage backends, and the
// background save loop.
type Engine struct {
	id     string
	cfg    *config.Config
	logger *slog.Logger

	db       *database.DB
	selector *storage.Selector
	migrator *migrate.Migrator
	steps    []migrate.Step
	coord    *persist.Coordinator
	state    *syncmerge.State

	client *remote.Client
	loader *remote.Loader

	closers []io.Closer
	ready   atomic.Bool

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// Option configures the engine at Open time.
type Option func(*openOptions)

type openOptions struct {
	bridge   storage.Bridge
	steps    []migrate.Step
	fileArea afero.Fs
}

// WithBridge installs a host bridge; when present the native backend
// reads and writes the blob through it instead of plain files.
func WithBridge(b storage.Bridge) Option {
	return func(o *openOptions) { o.bridge = b }
}

// WithMigrations overrides the built-in migration chain. Used by tests
// and by embedders that ship their own schema.
func WithMigrations(steps []migrate.Step) Option {
	return func(o *openOptions) { o.steps = steps }
}

// WithFileAreaFs overrides the filesystem backing the file-area backend.
func WithFileAreaFs(fs afero.Fs) Option {
	return func(o *openOptions) { o.fileArea = fs }
}

// Open brings the engine up: probe the backend chain for a stored blob,
// materialize or create the database, run pending migrations, and start
// the periodic save loop. A corrupt stored blob is discarded loudly and
// a fresh database is created in its place.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	options := &openOptions{
		steps:    migrate.DefaultSteps(),
		fileArea: afero.NewOsFs(),
	}
	for _, opt := range opts {
		opt(options)
	}

	e := &Engine{
		id:     uuid.New().String(),
		cfg:    cfg,
		logger: slog.Default().With("component", "engine"),
		state:  syncmerge.NewState(),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	name := cfg.Database.Name
	if cfg.Database.MultiTenant {
		name = name + "-" + cfg.Remote.TenantID
	}

	e.selector = storage.NewSelector(database.ValidateBlob, e.buildBackends(name, options)...)

	if err := e.openDatabase(ctx, name); err != nil {
		e.closeBackends()
		return nil, err
	}

	e.steps = options.steps
	e.migrator = migrate.New(e.db, e.steps)
	migrated, err := e.migrator.Run(ctx)
	if err != nil {
		e.db.Close()
		e.closeBackends()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	e.coord = persist.New(e.db, e.selector, persist.Config{
		IdleBudget:     cfg.Persistence.IdleBudget,
		ThrottleWindow: cfg.Persistence.ThrottleWindow,
		Reparse:        cfg.Persistence.Reparse,
	})

	// A migrated schema is persisted immediately so a crash before the
	// first periodic save cannot resurrect the old version.
	if migrated {
		if err := e.coord.Save(ctx); err != nil {
			e.logger.Warn("persisting migrated database failed", "error", err)
		}
	}

	if cfg.Remote.BaseURL != "" {
		e.client = remote.NewClient(cfg.Remote.BaseURL, cfg.Remote.Token, cfg.Remote.TenantID)
		e.loader = remote.NewLoader(e.client, e.state, syncmerge.DefaultMappings(),
			cfg.Remote.PageSize, cfg.Remote.PageYield)
	}

	go e.saveLoop()

	e.ready.Store(true)
	e.logger.Info("engine ready", "instance", e.id, "database", name, "migrated", migrated)
	return e, nil
}

// buildBackends assembles the ranked chain from configuration: native
// first, then the file area, then the KV fallbacks.
func (e *Engine) buildBackends(name string, options *openOptions) []storage.Backend {
	var backends []storage.Backend

	nativePath := filepath.Join(e.cfg.Database.DataDir, name+".blob")
	backends = append(backends, storage.NewNativeBackend(nativePath, options.bridge))

	if dir := e.cfg.Storage.FileAreaDir; dir != "" {
		backends = append(backends,
			storage.NewFileAreaBackend(options.fileArea, dir, name, e.cfg.Storage.FileAreaQuota))
	}
	if dir := e.cfg.Storage.BadgerDir; dir != "" {
		b := storage.NewBadgerBackend(storage.BadgerConfig{
			Dir:   dir,
			Quota: e.cfg.Storage.BadgerQuota,
		})
		backends = append(backends, b)
		e.closers = append(e.closers, b)
	}
	if dir := e.cfg.Storage.LevelDir; dir != "" {
		l := storage.NewLevelBackend(dir, e.cfg.Storage.LevelQuota)
		backends = append(backends, l)
		e.closers = append(e.closers, l)
	}
	return backends
}

// openDatabase probes the chain and materializes the stored blob, or
// creates a fresh database when nothing usable is stored.
func (e *Engine) openDatabase(ctx context.Context, name string) error {
	blob, backend, err := e.selector.Probe(ctx)
	if err != nil {
		return fmt.Errorf("probing storage backends: %w", err)
	}

	if blob != nil {
		db, err := database.OpenBlob(e.cfg.Database.DataDir, name, blob)
		if err == nil {
			e.db = db
			return nil
		}
		if !errors.Is(err, database.ErrCorrupt) {
			return fmt.Errorf("opening stored database: %w", err)
		}
		// Corruption survived the header check; start over rather than
		// refusing to boot.
		e.logger.Error("stored database blob is corrupt, creating fresh database",
			"backend", backend.Name(), "error", err)
	}

	db, err := database.New(e.cfg.Database.DataDir, name)
	if err != nil {
		return fmt.Errorf("creating database: %w", err)
	}
	e.db = db
	return nil
}

// saveLoop persists the database on the configured interval until Close.
func (e *Engine) saveLoop() {
	defer close(e.done)

	interval := e.cfg.Persistence.SaveInterval
	if interval <= 0 {
		<-e.stop
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.coord.SaveAsync()
		case <-e.stop:
			return
		}
	}
}

// ID returns the unique identifier of this engine instance.
func (e *Engine) ID() string { return e.id }

// Ready reports whether Open completed and the engine accepts work.
func (e *Engine) Ready() bool { return e.ready.Load() }

// DB exposes the underlying database handle.
func (e *Engine) DB() *database.DB { return e.db }

// State exposes the in-memory entity state populated by sync and loads.
func (e *Engine) State() *syncmerge.State { return e.state }

// Repo returns the tenant-scoped repository for this engine's tenant.
func (e *Engine) Repo() *repo.Repo {
	tenant := e.cfg.Remote.TenantID
	if tenant == "" {
		tenant = defaultTenant
	}
	return repo.New(e.db, tenant)
}

// Save exports and persists the database synchronously.
func (e *Engine) Save(ctx context.Context) error {
	if !e.Ready() {
		return ErrNotReady
	}
	return e.coord.Save(ctx)
}

// SaveAsync fires a background save; failures go through the throttled log.
func (e *Engine) SaveAsync() {
	if !e.Ready() {
		return
	}
	e.coord.SaveAsync()
}

// LoadBulk populates the in-memory state from the remote dataset. When
// chunked is set the load runs in bounded pages with progress reports;
// otherwise the whole dataset arrives in one response.
func (e *Engine) LoadBulk(ctx context.Context, chunked bool, onProgress remote.ProgressFunc) error {
	if !e.Ready() {
		return ErrNotReady
	}
	if e.loader == nil {
		return errors.New("no remote configured")
	}
	if chunked {
		return e.loader.LoadChunked(ctx, onProgress)
	}
	return e.loader.LoadAll(ctx)
}

// SyncSince pulls the change feed from the stored watermark, merges every
// page into the in-memory state, advances the watermark, and persists.
// The first sync (no watermark yet) starts from the zero time, which the
// server treats as "everything".
func (e *Engine) SyncSince(ctx context.Context) error {
	if !e.Ready() {
		return ErrNotReady
	}
	if e.client == nil {
		return errors.New("no remote configured")
	}

	since, err := e.syncCursor(ctx)
	if err != nil {
		return err
	}

	cursor := ""
	watermark := since
	merged := 0
	for {
		page, err := e.client.ChangesSince(ctx, since, cursor)
		if err != nil {
			return fmt.Errorf("fetching changes: %w", err)
		}

		for entity, rows := range page.Entities {
			changes, err := e.loader.Normalize(entity, rows)
			if err != nil {
				return err
			}
			if changes == nil {
				continue
			}
			e.state.Apply(entity, changes)
			merged += len(changes)
		}

		if page.UpdatedAt != "" {
			if t, err := time.Parse(time.RFC3339, page.UpdatedAt); err == nil && t.After(watermark) {
				watermark = t
			}
		}
		if !page.HasMore {
			break
		}
		cursor = page.NextCursor
	}

	if err := e.db.SetMeta(ctx, syncCursorKey, watermark.UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("storing sync watermark: %w", err)
	}
	e.logger.Info("incremental sync complete", "merged", merged, "watermark", watermark)

	return e.coord.Save(ctx)
}

// syncCursor reads the stored watermark; absence means the zero time.
func (e *Engine) syncCursor(ctx context.Context) (time.Time, error) {
	raw, err := e.db.GetMeta(ctx, syncCursorKey)
	if errors.Is(err, database.ErrNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("reading sync watermark: %w", err)
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing sync watermark %q: %w", raw, err)
	}
	return t, nil
}

// CatchUpSchema asks the server for its schema version and applies the
// bridging migration statements when the local database is behind.
func (e *Engine) CatchUpSchema(ctx context.Context) error {
	if !e.Ready() {
		return ErrNotReady
	}
	if e.client == nil {
		return errors.New("no remote configured")
	}

	remoteVersion, err := e.client.SchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("fetching remote schema version: %w", err)
	}
	local, err := e.db.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	if remoteVersion <= local {
		return nil
	}

	stmts, err := e.client.SchemaMigrations(ctx, local, remoteVersion)
	if err != nil {
		return fmt.Errorf("fetching remote migrations: %w", err)
	}
	if err := e.migrator.ApplyRemote(ctx, local, remoteVersion, stmts); err != nil {
		return err
	}
	e.logger.Info("applied remote schema migrations", "from", local, "to", remoteVersion)
	return e.coord.Save(ctx)
}

// Reset is the recovery path for unrecoverable local state: every backend
// is cleared, the working database is discarded, and a fresh schema is
// created and persisted. The in-memory state is dropped with it, and the
// fresh database carries no sync watermark, so the next SyncSince starts
// from the zero time.
func (e *Engine) Reset(ctx context.Context) error {
	if err := e.selector.ClearAll(ctx); err != nil {
		e.logger.Warn("clearing storage backends failed", "error", err)
	}
	e.state.Clear()
	if err := e.db.Close(); err != nil {
		e.logger.Warn("closing database failed", "error", err)
	}

	name := e.cfg.Database.Name
	if e.cfg.Database.MultiTenant {
		name = name + "-" + e.cfg.Remote.TenantID
	}
	db, err := database.New(e.cfg.Database.DataDir, name)
	if err != nil {
		e.ready.Store(false)
		return fmt.Errorf("recreating database: %w", err)
	}
	e.db = db

	e.migrator = migrate.New(db, e.steps)
	if _, err := e.migrator.Run(ctx); err != nil {
		e.ready.Store(false)
		return fmt.Errorf("migrating fresh database: %w", err)
	}

	e.coord = persist.New(db, e.selector, persist.Config{
		IdleBudget:     e.cfg.Persistence.IdleBudget,
		ThrottleWindow: e.cfg.Persistence.ThrottleWindow,
		Reparse:        e.cfg.Persistence.Reparse,
	})

	e.logger.Warn("local state reset", "database", name)
	return e.coord.Save(ctx)
}

// Close stops the save loop, performs a final save, and releases every
// backend and the database handle.
func (e *Engine) Close() error {
	e.stopOnce.Do(func() { close(e.stop) })
	<-e.done
	e.ready.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.coord.Save(ctx); err != nil {
		e.logger.Warn("final save failed", "error", err)
	}

	err := e.db.Close()
	e.closeBackends()
	return err
}

func (e *Engine) closeBackends() {
	for _, c := range e.closers {
		if err := c.Close(); err != nil {
			e.logger.Warn("closing storage backend failed", "error", err)
		}
	}
}
