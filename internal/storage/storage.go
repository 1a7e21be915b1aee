// ABOUTME: Backend interface and error taxonomy for durable blob storage
// ABOUTME: Backends are ranked by durability and each holds at most one database blob

package storage

import (
	"context"
	"errors"
	"strings"
)

// ErrNotFound is returned by Load when the backend holds no blob.
var ErrNotFound = errors.New("no blob stored")

// ErrUnsupported is returned when a backend cannot operate on the current host.
var ErrUnsupported = errors.New("storage backend unsupported on this host")

// ErrQuotaExceeded is returned when a save is rejected for size.
var ErrQuotaExceeded = errors.New("storage quota exceeded")

// ErrCorrupt is returned when a loaded blob fails integrity validation.
var ErrCorrupt = errors.New("stored blob is corrupt")

// ErrAllBackendsFailed is returned when no backend accepted the blob.
// This is the user-actionable case: local storage must be cleared to recover.
var ErrAllBackendsFailed = errors.New("no storage backend accepted the database; clear local storage to recover")

// Backend is a durable storage mechanism capable of holding one binary blob.
// Implementations are ranked by durability and quota; the selector probes
// them in priority order.
type Backend interface {
	// Name identifies the backend in logs and errors.
	Name() string

	// Supported reports whether the backend can operate on this host.
	// Unsupported backends are skipped without error.
	Supported() bool

	// Quota returns the maximum blob size in bytes, or 0 for unbounded.
	Quota() int64

	// Load returns the stored blob, or ErrNotFound when the backend is empty.
	Load(ctx context.Context) ([]byte, error)

	// Save stores the blob, replacing any previous one.
	// Returns ErrQuotaExceeded when the blob does not fit.
	Save(ctx context.Context, blob []byte) error

	// Clear removes the stored blob. Clearing an empty backend is a no-op.
	Clear(ctx context.Context) error
}

// IsQuota reports whether err is a quota-class failure, either our own
// sentinel or an engine-native "out of space" error.
func IsQuota(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrQuotaExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no space left") ||
		strings.Contains(msg, "disk quota exceeded") ||
		strings.Contains(msg, "database or disk is full")
}

// fits reports whether a blob of the given size fits the backend's quota.
func fits(b Backend, size int64) bool {
	q := b.Quota()
	return q <= 0 || size <= q
}
