package badger

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// DedupStorage implements the DedupStorage interface on raw Badger keys.
// This is the durable slow path behind the in-memory dedup cache. Membership
// lives in the key alone, the value is always empty, so the sets sidestep
// badgerhold's typed records entirely and clear with a single prefix scan.
type DedupStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewDedupStorage creates a new DedupStorage instance
func NewDedupStorage(db *BadgerDB, logger arbor.ILogger) interfaces.DedupStorage {
	return &DedupStorage{
		db:     db,
		logger: logger,
	}
}

// Key format: dedup:{jobKey}:u:{urlKey} and dedup:{jobKey}:h:{hash}.
// The trailing separator in jobPrefix keeps job_1 from matching job_12.
func urlEntryKey(jobKey, urlKey string) []byte {
	return []byte("dedup:" + jobKey + ":u:" + urlKey)
}

func hashEntryKey(jobKey string, hash uint64) []byte {
	return []byte(fmt.Sprintf("dedup:%s:h:%016x", jobKey, hash))
}

func jobPrefix(jobKey string) []byte {
	return []byte("dedup:" + jobKey + ":")
}

// AddURL inserts a URL key into the job's seen set. Returns true when the
// URL was new. The read and the write share one transaction, which makes
// the membership test atomic without a separate round trip.
func (s *DedupStorage) AddURL(ctx context.Context, userID, jobID, urlKey string) (bool, error) {
	key := urlEntryKey(models.JobKey(userID, jobID), urlKey)

	added := false
	err := s.db.Badger().Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		added = true
		return txn.Set(key, []byte{})
	})
	if err != nil {
		return false, fmt.Errorf("failed to record seen URL: %w", err)
	}
	return added, nil
}

func (s *DedupStorage) HasHash(ctx context.Context, userID, jobID string, hash uint64) (bool, error) {
	key := hashEntryKey(models.JobKey(userID, jobID), hash)

	err := s.db.Badger().View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check content hash: %w", err)
	}
	return true, nil
}

func (s *DedupStorage) AddHash(ctx context.Context, userID, jobID string, hash uint64) error {
	key := hashEntryKey(models.JobKey(userID, jobID), hash)

	err := s.db.Badger().Update(func(txn *badger.Txn) error {
		return txn.Set(key, []byte{})
	})
	if err != nil {
		return fmt.Errorf("failed to record content hash: %w", err)
	}
	return nil
}

// Clear drops both seen sets for a job. Set sizes are bounded by the page
// cap, so one transaction holds the whole delete.
func (s *DedupStorage) Clear(ctx context.Context, userID, jobID string) error {
	prefix := jobPrefix(models.JobKey(userID, jobID))

	err := s.db.Badger().Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := txn.Delete(it.Item().KeyCopy(nil)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to clear dedup sets for job %s: %w", jobID, err)
	}

	s.logger.Debug().Str("job_id", jobID).Msg("Dedup sets cleared")
	return nil
}
