package crawler

import (
	"context"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
)

// Dedup tracks one job's two seen-sets: canonical URLs and content hashes.
// Memory is the fast path and the authority during the run; every addition is
// written through to storage so the sets outlive the run for the retention
// grace period. Storage write failures degrade to memory-only operation.
type Dedup struct {
	userID  string
	jobID   string
	storage interfaces.DedupStorage
	logger  arbor.ILogger

	mu     sync.Mutex
	urls   map[string]bool
	hashes map[uint64]bool
}

func NewDedup(userID, jobID string, storage interfaces.DedupStorage, logger arbor.ILogger) *Dedup {
	return &Dedup{
		userID:  userID,
		jobID:   jobID,
		storage: storage,
		logger:  logger,
		urls:    make(map[string]bool),
		hashes:  make(map[uint64]bool),
	}
}

// AddURLs marks canonical URLs as seen and returns the subset that was new.
// The check and insert are atomic with respect to concurrent workers, which
// is what guarantees a URL is enqueued at most once per job.
func (d *Dedup) AddURLs(ctx context.Context, canonicals []string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	var fresh []string
	for _, canonical := range canonicals {
		if d.urls[canonical] {
			continue
		}
		d.urls[canonical] = true
		fresh = append(fresh, canonical)

		if _, err := d.storage.AddURL(ctx, d.userID, d.jobID, URLKey(canonical)); err != nil {
			d.logger.Warn().Err(err).Str("url", canonical).Msg("Dedup store write failed")
		}
	}
	return fresh
}

// SeenHash reports whether a content hash was already recorded for this job.
func (d *Dedup) SeenHash(ctx context.Context, hash uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hashes[hash]
}

// AddHash records a content hash.
func (d *Dedup) AddHash(ctx context.Context, hash uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.hashes[hash] {
		return
	}
	d.hashes[hash] = true

	if err := d.storage.AddHash(ctx, d.userID, d.jobID, hash); err != nil {
		d.logger.Warn().Err(err).Msg("Dedup store write failed")
	}
}
