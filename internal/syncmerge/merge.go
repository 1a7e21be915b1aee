// ABOUTME: Incremental change-set merging into a keyed in-memory collection
// ABOUTME: Tombstones remove, everything else upserts; last writer by timestamp wins

package syncmerge

import (
	"sort"
	"time"
)

// Record is one entity row in the local keyed collection.
type Record struct {
	ID        string
	UpdatedAt time.Time
	Fields    map[string]any
}

// ChangeRow is a remote-origin change: an identity, a payload and an
// optional tombstone marker.
type ChangeRow struct {
	ID        string
	UpdatedAt time.Time
	DeletedAt *time.Time
	Fields    map[string]any
}

// Tombstone reports whether the row marks an upstream deletion.
func (c ChangeRow) Tombstone() bool { return c.DeletedAt != nil }

// Merge folds a batch of remote changes into the baseline and returns a
// new collection; the inputs are never mutated. Rows without an identity
// are skipped. Tombstoned identities are removed from the local view;
// all others are inserted or replaced, with the remote feed treated as
// authoritative for the identities it reports.
//
// Within one batch, rows for the same identity are ordered by update
// timestamp before folding, so recency wins rather than server
// iteration order; rows with equal timestamps keep batch order and the
// later one wins. A full bulk load is the degenerate case: an empty
// baseline and no tombstones.
func Merge(baseline map[string]Record, changes []ChangeRow) map[string]Record {
	merged := make(map[string]Record, len(baseline)+len(changes))
	for id, rec := range baseline {
		merged[id] = rec
	}

	ordered := append([]ChangeRow(nil), changes...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].UpdatedAt.Before(ordered[j].UpdatedAt)
	})

	for _, row := range ordered {
		if row.ID == "" {
			continue
		}
		if row.Tombstone() {
			delete(merged, row.ID)
			continue
		}
		merged[row.ID] = Record{
			ID:        row.ID,
			UpdatedAt: row.UpdatedAt,
			Fields:    row.Fields,
		}
	}
	return merged
}
