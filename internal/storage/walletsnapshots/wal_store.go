// Package walletsnapshots keeps wallet state history for the dashboard stream.
package walletsnapshots

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"

	"github.com/vadiminshakov/fundbot/internal/domain"
)

const (
	defaultSnapshotDir   = "./wal/wallet"
	snapshotSegmentLimit = 1000
	snapshotMaxSegments  = 100
	snapshotKeyPrefix    = "wallet_snapshot_"
)

// WALStore persists wallet snapshots in a WAL.
type WALStore struct {
	wal *gowal.Wal
	mu  sync.RWMutex
}

// NewWALStore initializes a WAL-backed snapshot store under the provided directory.
func NewWALStore(dir string) (*WALStore, error) {
	if dir == "" {
		dir = defaultSnapshotDir
	}

	wal, err := gowal.NewWAL(gowal.Config{
		Dir:              dir,
		Prefix:           "snapshot_",
		SegmentThreshold: snapshotSegmentLimit,
		MaxSegments:      snapshotMaxSegments,
		IsInSyncDiskMode: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init wallet snapshot WAL")
	}

	return &WALStore{wal: wal}, nil
}

// Save appends the snapshot. Account and currency are required.
func (s *WALStore) Save(snapshot domain.WalletSnapshot) error {
	if s == nil || s.wal == nil {
		return errors.New("wallet snapshot store is not initialized")
	}
	if snapshot.Account == "" || snapshot.Currency == "" {
		return errors.New("wallet snapshot account and currency are required")
	}

	payload, err := json.Marshal(snapshot)
	if err != nil {
		return errors.Wrap(err, "marshal wallet snapshot")
	}

	key := fmt.Sprintf("%s%s_%s", snapshotKeyPrefix, snapshot.Account, snapshot.Currency)

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Write(s.wal.CurrentIndex()+1, key, payload)
}

// SnapshotsAfter returns all snapshots written after the provided WAL index.
func (s *WALStore) SnapshotsAfter(index uint64) ([]domain.WalletSnapshotRecord, error) {
	if s == nil || s.wal == nil {
		return nil, errors.New("wallet snapshot store is not initialized")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	current := s.wal.CurrentIndex()
	if current <= index {
		return nil, nil
	}

	records := make([]domain.WalletSnapshotRecord, 0, current-index)
	for idx := index + 1; idx <= current; idx++ {
		key, payload, ok := s.wal.Get(idx)
		if !ok || !strings.HasPrefix(key, snapshotKeyPrefix) {
			continue
		}
		var snapshot domain.WalletSnapshot
		if err := json.Unmarshal(payload, &snapshot); err != nil {
			return nil, errors.Wrap(err, "decode wallet snapshot")
		}
		records = append(records, domain.WalletSnapshotRecord{Index: idx, Snapshot: snapshot})
	}

	return records, nil
}

// Latest returns the newest snapshot, if any.
func (s *WALStore) Latest() (domain.WalletSnapshotRecord, bool, error) {
	current := s.CurrentIndex()
	if current == 0 {
		return domain.WalletSnapshotRecord{}, false, nil
	}
	records, err := s.SnapshotsAfter(current - 1)
	if err != nil || len(records) == 0 {
		return domain.WalletSnapshotRecord{}, false, err
	}
	return records[len(records)-1], true, nil
}

// CurrentIndex returns the latest WAL index stored.
func (s *WALStore) CurrentIndex() uint64 {
	if s == nil || s.wal == nil {
		return 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.wal.CurrentIndex()
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return errors.New("wallet snapshot store is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
