// Package store keeps gateway side state that is not part of the chain.
package store

import (
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"

	"stakechain/gateway/middleware"
)

var bucketIdempotency = []byte("idempotency")

// Store persists idempotency responses in BoltDB.
type Store struct {
	db *bolt.DB
}

// Open creates (and migrates) the store at path.
func Open(path string, options *bolt.Options) (*Store, error) {
	if options == nil {
		options = &bolt.Options{Timeout: time.Second}
	} else if options.Timeout == 0 {
		options.Timeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, options)
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketIdempotency)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the Bolt handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// GetIdempotency returns the record for key. Expired records are deleted and
// reported as missing.
func (s *Store) GetIdempotency(key string, now time.Time) (middleware.IdempotencyRecord, bool, error) {
	var (
		record middleware.IdempotencyRecord
		found  bool
	)
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketIdempotency)
		raw := bucket.Get([]byte(key))
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &record); err != nil {
			return err
		}
		if now.After(record.ExpiresAt) {
			record = middleware.IdempotencyRecord{}
			return bucket.Delete([]byte(key))
		}
		found = true
		return nil
	})
	if err != nil {
		return middleware.IdempotencyRecord{}, false, err
	}
	return record, found, nil
}

// ReserveIdempotency claims key with pending in one transaction. A live
// record (completed or pending) wins and is returned; an expired one is
// replaced.
func (s *Store) ReserveIdempotency(key string, pending middleware.IdempotencyRecord, now time.Time) (middleware.IdempotencyRecord, bool, error) {
	payload, err := json.Marshal(pending)
	if err != nil {
		return middleware.IdempotencyRecord{}, false, err
	}
	var (
		existing middleware.IdempotencyRecord
		reserved bool
	)
	err = s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketIdempotency)
		if raw := bucket.Get([]byte(key)); raw != nil {
			if err := json.Unmarshal(raw, &existing); err != nil {
				return err
			}
			if !now.After(existing.ExpiresAt) {
				return nil
			}
			existing = middleware.IdempotencyRecord{}
		}
		reserved = true
		return bucket.Put([]byte(key), payload)
	})
	if err != nil {
		return middleware.IdempotencyRecord{}, false, err
	}
	return existing, reserved, nil
}

// ReleaseIdempotency drops the record under key.
func (s *Store) ReleaseIdempotency(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIdempotency).Delete([]byte(key))
	})
}

// PutIdempotency stores record under key.
func (s *Store) PutIdempotency(key string, record middleware.IdempotencyRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIdempotency).Put([]byte(key), payload)
	})
}

// Prune deletes every record expired at now and returns how many it removed.
func (s *Store) Prune(now time.Time) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketIdempotency)
		var expired [][]byte
		err := bucket.ForEach(func(k, v []byte) error {
			var record middleware.IdempotencyRecord
			if err := json.Unmarshal(v, &record); err != nil || now.After(record.ExpiresAt) {
				expired = append(expired, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range expired {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		removed = len(expired)
		return nil
	})
	return removed, err
}
