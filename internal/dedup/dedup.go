// Package dedup detects byte-identical images across a run.
package dedup

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/product-image-harvester/internal/crawler"
	"github.com/JakeFAU/product-image-harvester/internal/metrics"
)

// Status is the final outcome recorded for a digest.
type Status string

// Digest outcomes persisted in the registry.
const (
	StatusKept     Status = "kept"
	StatusRejected Status = "rejected"
)

// DigestStore persists digests across runs.
type DigestStore interface {
	LoadDigests(ctx context.Context) ([]string, error)
	SaveDigest(ctx context.Context, digest string, status Status) error
}

// Detector is the run-wide registry of content digests. Membership check and
// insert happen under one lock, so concurrent callers with identical bytes see
// exactly one non-duplicate result.
type Detector struct {
	mu     sync.Mutex
	seen   map[string]struct{}
	hasher crawler.Hasher
	store  DigestStore
	logger *zap.Logger
}

// New creates a Detector. store may be nil for an in-memory registry.
func New(hasher crawler.Hasher, store DigestStore, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{
		seen:   make(map[string]struct{}),
		hasher: hasher,
		store:  store,
		logger: logger,
	}
}

// Seed preloads digests from the store and returns how many were loaded.
func (d *Detector) Seed(ctx context.Context) (int, error) {
	if d.store == nil {
		return 0, nil
	}
	digests, err := d.store.LoadDigests(ctx)
	if err != nil {
		return 0, fmt.Errorf("load digests: %w", err)
	}
	d.mu.Lock()
	for _, digest := range digests {
		d.seen[digest] = struct{}{}
	}
	size := len(d.seen)
	d.mu.Unlock()
	metrics.SetDedupRegistrySize(size)
	return len(digests), nil
}

// CheckAndRegister hashes data and registers the digest if it is new.
func (d *Detector) CheckAndRegister(data []byte) (bool, string, error) {
	digest, err := d.hasher.Hash(data)
	if err != nil {
		return false, "", fmt.Errorf("hash content: %w", err)
	}
	d.mu.Lock()
	_, dup := d.seen[digest]
	if !dup {
		d.seen[digest] = struct{}{}
	}
	size := len(d.seen)
	d.mu.Unlock()
	if !dup {
		metrics.SetDedupRegistrySize(size)
	}
	return dup, digest, nil
}

// Forget removes a digest whose content could not be persisted.
func (d *Detector) Forget(digest string) {
	d.mu.Lock()
	delete(d.seen, digest)
	size := len(d.seen)
	d.mu.Unlock()
	metrics.SetDedupRegistrySize(size)
}

// Persist writes a digest with its final outcome through to the store.
func (d *Detector) Persist(ctx context.Context, digest string, status Status) error {
	if d.store == nil {
		return nil
	}
	if err := d.store.SaveDigest(ctx, digest, status); err != nil {
		d.logger.Warn("persist digest failed", zap.String("digest", digest), zap.Error(err))
		return fmt.Errorf("save digest: %w", err)
	}
	return nil
}

// Len returns the number of registered digests.
func (d *Detector) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
