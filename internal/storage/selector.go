// ABOUTME: Backend selector: probes ranked backends, promotes blobs upward, falls back on save
// ABOUTME: Quota-class failures skip lower backends only when the blob cannot fit them either

package storage

import (
	"context"
	"fmt"
	"log/slog"
)

// Validator checks a loaded blob for integrity before it is trusted.
type Validator func(blob []byte) error

// Selector owns the ranked backend chain. Backends are ordered highest
// durability first; the first supported backend with a valid blob is
// authoritative for reads, and saves try the chain top-down.
type Selector struct {
	backends []Backend
	validate Validator
	logger   *slog.Logger

	authoritative Backend
}

// NewSelector creates a selector over the given backends, highest
// priority first. validate may be nil to skip blob validation.
func NewSelector(validate Validator, backends ...Backend) *Selector {
	return &Selector{
		backends: backends,
		validate: validate,
		logger:   slog.Default().With("component", "storage"),
	}
}

// Backends returns the ranked chain.
func (s *Selector) Backends() []Backend { return s.backends }

// Authoritative returns the backend currently holding the trusted blob,
// or nil before the first successful probe or save.
func (s *Selector) Authoritative() Backend { return s.authoritative }

// Probe walks the chain and returns the first valid blob found, along
// with the backend it came from. A nil blob with nil error means no
// backend holds data and a fresh database should be created.
//
// When the blob was found below the best supported backend, it is copied
// upward once, best-effort; a failed promotion never fails the probe.
func (s *Selector) Probe(ctx context.Context) ([]byte, Backend, error) {
	var bestSupported Backend

	for _, b := range s.backends {
		if !b.Supported() {
			s.logger.Debug("backend unsupported, skipping", "backend", b.Name())
			continue
		}
		if bestSupported == nil {
			bestSupported = b
		}

		blob, err := b.Load(ctx)
		if err != nil {
			if err == ErrNotFound {
				continue
			}
			if ctx.Err() != nil {
				return nil, nil, err
			}
			s.logger.Warn("backend load failed", "backend", b.Name(), "error", err)
			continue
		}

		if s.validate != nil {
			if err := s.validate(blob); err != nil {
				// Corruption is loud: the blob is ignored, never
				// silently carried forward.
				s.logger.Error("stored blob failed validation",
					"backend", b.Name(), "size", len(blob), "error", err)
				continue
			}
		}

		s.authoritative = b
		s.logger.Info("database blob loaded", "backend", b.Name(), "size", len(blob))

		if bestSupported != nil && bestSupported != b {
			s.promote(ctx, blob, bestSupported, b)
		}
		return blob, b, nil
	}

	return nil, nil, nil
}

// promote copies the blob to a higher-durability backend. Best-effort:
// failure is logged and the lower backend stays authoritative.
func (s *Selector) promote(ctx context.Context, blob []byte, dst, src Backend) {
	if err := dst.Save(ctx, blob); err != nil {
		s.logger.Warn("promotion to higher backend failed",
			"from", src.Name(), "to", dst.Name(), "error", err)
		return
	}
	s.authoritative = dst
	s.logger.Info("promoted database blob", "from", src.Name(), "to", dst.Name())
}

// Save writes the blob to the highest backend that accepts it. On a
// quota-class failure, lower backends are skipped only when the blob
// exceeds their quota too (quotas strictly tighten down the chain);
// other failures always fall through to the next backend. A save that
// lands below the best supported backend is warned about exactly once.
func (s *Selector) Save(ctx context.Context, blob []byte) error {
	size := int64(len(blob))
	var lastErr error
	var primary Backend
	quotaFailed := false

	for _, b := range s.backends {
		if !b.Supported() {
			continue
		}
		if primary == nil {
			primary = b
		}
		if quotaFailed && !fits(b, size) {
			s.logger.Debug("skipping backend, blob exceeds quota",
				"backend", b.Name(), "size", size, "quota", b.Quota())
			continue
		}

		err := b.Save(ctx, blob)
		if err == nil {
			if b != primary {
				s.logger.Warn("saved to fallback backend",
					"backend", b.Name(), "size", size)
			} else {
				s.logger.Debug("database blob saved",
					"backend", b.Name(), "size", size)
			}
			s.authoritative = b
			return nil
		}
		if ctx.Err() != nil {
			return err
		}

		lastErr = err
		if IsQuota(err) {
			quotaFailed = true
			s.logger.Debug("backend save hit quota, falling back",
				"backend", b.Name(), "size", size)
		} else {
			s.logger.Warn("backend save failed, falling back",
				"backend", b.Name(), "error", err)
		}
	}

	if lastErr == nil {
		return ErrAllBackendsFailed
	}
	if quotaFailed {
		return fmt.Errorf("%w: %w", ErrAllBackendsFailed, lastErr)
	}
	return fmt.Errorf("saving database blob: %w", lastErr)
}

// ClearAll removes the blob from every supported backend. Used by the
// "clear storage" recovery path.
func (s *Selector) ClearAll(ctx context.Context) error {
	var firstErr error
	for _, b := range s.backends {
		if !b.Supported() {
			continue
		}
		if err := b.Clear(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("clearing %s: %w", b.Name(), err)
		}
	}
	s.authoritative = nil
	return firstErr
}
