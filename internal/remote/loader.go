// ABOUTME: Bulk state loader: single-shot and chunked full-dataset retrieval
// ABOUTME: Chunked mode reports progress per page and yields between pages

package remote

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rentfold/localsync/internal/syncmerge"
)

// Progress reports how far a chunked load has come.
type Progress struct {
	Loaded int // records merged so far
	Total  int // expected records, from the first page's totals
}

// ProgressFunc receives a progress report after each page.
type ProgressFunc func(Progress)

// Loader populates the in-memory application state from the remote
// dataset, normalizing each row through the entity mapping tables.
type Loader struct {
	client    *Client
	state     *syncmerge.State
	mappings  map[string]syncmerge.EntityMapping
	pageSize  int
	pageYield time.Duration
	logger    *slog.Logger
}

// NewLoader creates a loader. pageSize bounds chunked pages; pageYield
// is the pause between pages that keeps interactive work responsive.
func NewLoader(client *Client, state *syncmerge.State, mappings map[string]syncmerge.EntityMapping, pageSize int, pageYield time.Duration) *Loader {
	if pageSize <= 0 {
		pageSize = 500
	}
	if pageYield < 0 {
		pageYield = 0
	}
	return &Loader{
		client:    client,
		state:     state,
		mappings:  mappings,
		pageSize:  pageSize,
		pageYield: pageYield,
		logger:    slog.Default().With("component", "loader"),
	}
}

// LoadAll fetches the entire dataset in one response and merges it.
func (l *Loader) LoadAll(ctx context.Context) error {
	entities, err := l.client.BulkState(ctx, nil)
	if err != nil {
		return err
	}
	n, err := l.apply(entities)
	if err != nil {
		return err
	}
	l.logger.Info("bulk load complete", "records", n)
	return nil
}

// LoadChunked fetches the dataset in bounded pages until the server
// signals no more, reporting (loaded, total) after every page. The
// total is derived from the first page's per-entity counts.
func (l *Loader) LoadChunked(ctx context.Context, onProgress ProgressFunc) error {
	offset := 0
	loaded := 0
	total := 0

	for {
		page, err := l.client.BulkStateChunk(ctx, l.pageSize, offset)
		if err != nil {
			return err
		}
		if total == 0 {
			for _, count := range page.Totals {
				total += count
			}
		}

		n, err := l.apply(page.Entities)
		if err != nil {
			return err
		}
		loaded += n

		if onProgress != nil {
			onProgress(Progress{Loaded: loaded, Total: total})
		}
		if !page.HasMore {
			break
		}
		offset = page.NextOffset

		// Yield between pages so a long load does not starve the host.
		if l.pageYield > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(l.pageYield):
			}
		}
	}

	l.logger.Info("chunked load complete", "records", loaded, "expected", total)
	return nil
}

// Normalize converts raw wire rows for one entity into change rows.
// Exposed for the incremental catch-up flow, which shares the same
// normalization step.
func (l *Loader) Normalize(entity string, rows []map[string]any) ([]syncmerge.ChangeRow, error) {
	mapping, ok := l.mappings[entity]
	if !ok {
		l.logger.Warn("unknown entity in remote payload, skipping", "entity", entity)
		return nil, nil
	}
	changes := make([]syncmerge.ChangeRow, 0, len(rows))
	for _, raw := range rows {
		row, err := mapping.FromWire(raw)
		if err != nil {
			return nil, fmt.Errorf("normalizing %s row: %w", entity, err)
		}
		changes = append(changes, row)
	}
	return changes, nil
}

// apply normalizes and merges a payload, returning the row count.
func (l *Loader) apply(entities map[string][]map[string]any) (int, error) {
	n := 0
	for entity, rows := range entities {
		changes, err := l.Normalize(entity, rows)
		if err != nil {
			return n, err
		}
		if changes == nil {
			continue
		}
		l.state.Apply(entity, changes)
		n += len(changes)
	}
	return n, nil
}
