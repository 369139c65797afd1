package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"

	bolt "go.etcd.io/bbolt"

	"github.com/vitrinehq/vitrine/pkg/types"
)

var (
	// Bucket names
	bucketCasts      = []byte("casts")
	bucketRecoveries = []byte("recoveries")
	bucketHealth     = []byte("health")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "vitrine.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketCasts,
			bucketRecoveries,
			bucketHealth,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Cast history operations
func (s *BoltStore) SaveCastRecord(record *types.CastRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCasts)
		data, err := json.Marshal(record)
		if err != nil {
			return err
		}
		return b.Put([]byte(record.ID), data)
	})
}

func (s *BoltStore) GetCastRecord(id string) (*types.CastRecord, error) {
	var record types.CastRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCasts)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("cast record not found: %s", id)
		}
		return json.Unmarshal(data, &record)
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *BoltStore) ListCastRecords() ([]*types.CastRecord, error) {
	var records []*types.CastRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCasts)
		return b.ForEach(func(k, v []byte) error {
			var record types.CastRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			records = append(records, &record)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortCastRecords(records)
	return records, nil
}

func (s *BoltStore) ListCastRecordsByDevice(address string) ([]*types.CastRecord, error) {
	records, err := s.ListCastRecords()
	if err != nil {
		return nil, err
	}

	var filtered []*types.CastRecord
	for _, record := range records {
		if record.DeviceAddr == address {
			filtered = append(filtered, record)
		}
	}
	return filtered, nil
}

// Recovery log operations
func (s *BoltStore) SaveRecoveryRecord(record *types.RecoveryRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRecoveries)
		data, err := json.Marshal(record)
		if err != nil {
			return err
		}
		return b.Put([]byte(record.ID), data)
	})
}

func (s *BoltStore) GetRecoveryRecord(id string) (*types.RecoveryRecord, error) {
	var record types.RecoveryRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRecoveries)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("recovery record not found: %s", id)
		}
		return json.Unmarshal(data, &record)
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *BoltStore) ListRecoveryRecords() ([]*types.RecoveryRecord, error) {
	var records []*types.RecoveryRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRecoveries)
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var record types.RecoveryRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			records = append(records, &record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortRecoveryRecords(records)
	return records, nil
}

func (s *BoltStore) ListRecoveryRecordsByDevice(address string) ([]*types.RecoveryRecord, error) {
	records, err := s.ListRecoveryRecords()
	if err != nil {
		return nil, err
	}

	var filtered []*types.RecoveryRecord
	for _, record := range records {
		if record.DeviceAddr == address {
			filtered = append(filtered, record)
		}
	}
	return filtered, nil
}

// Health snapshot operations
func (s *BoltStore) SaveHealthRecord(address string, record *types.HealthRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHealth)
		data, err := json.Marshal(record)
		if err != nil {
			return err
		}
		return b.Put([]byte(address), data)
	})
}

func (s *BoltStore) GetHealthRecord(address string) (*types.HealthRecord, error) {
	var record types.HealthRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHealth)
		data := b.Get([]byte(address))
		if data == nil {
			return fmt.Errorf("health record not found: %s", address)
		}
		return json.Unmarshal(data, &record)
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *BoltStore) ListHealthRecords() (map[string]*types.HealthRecord, error) {
	records := make(map[string]*types.HealthRecord)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHealth)
		return b.ForEach(func(k, v []byte) error {
			var record types.HealthRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			records[string(k)] = &record
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Prune drops the oldest history rows so the buckets stay bounded.
// Passing 0 for a limit leaves that bucket untouched.
func (s *BoltStore) Prune(maxCasts, maxRecoveries int) error {
	if maxCasts > 0 {
		records, err := s.ListCastRecords()
		if err != nil {
			return err
		}
		if len(records) > maxCasts {
			if err := s.deleteCastRecords(records[:len(records)-maxCasts]); err != nil {
				return fmt.Errorf("failed to prune cast records: %w", err)
			}
		}
	}

	if maxRecoveries > 0 {
		records, err := s.ListRecoveryRecords()
		if err != nil {
			return err
		}
		if len(records) > maxRecoveries {
			if err := s.deleteRecoveryRecords(records[:len(records)-maxRecoveries]); err != nil {
				return fmt.Errorf("failed to prune recovery records: %w", err)
			}
		}
	}

	return nil
}

func (s *BoltStore) deleteCastRecords(records []*types.CastRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCasts)
		for _, record := range records {
			if err := b.Delete([]byte(record.ID)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) deleteRecoveryRecords(records []*types.RecoveryRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRecoveries)
		for _, record := range records {
			if err := b.Delete([]byte(record.ID)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Records are keyed by ID, so bucket order is not chronological.
func sortCastRecords(records []*types.CastRecord) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].StartedAt.Before(records[j].StartedAt)
	})
}

func sortRecoveryRecords(records []*types.RecoveryRecord) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].StartedAt.Before(records[j].StartedAt)
	})
}
