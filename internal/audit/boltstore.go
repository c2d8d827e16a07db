package audit

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketRequests  = []byte("audit_requests")
	bucketResponses = []byte("audit_responses")
)

// BoltStore persists audit records in a local bbolt file. Keys are
// "<rayId>|<seq>"; both phases of one request share the ray id prefix.
type BoltStore struct {
	db *bolt.DB
}

func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketRequests); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketResponses)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init audit buckets: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) put(bucket []byte, rayID string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode audit record: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		key := fmt.Sprintf("%s|%d", rayID, seq)
		return b.Put([]byte(key), data)
	})
}

func (s *BoltStore) SaveRequest(rec *RequestRecord) error {
	return s.put(bucketRequests, rec.RayID, rec)
}

func (s *BoltStore) SaveResponse(rec *ResponseRecord) error {
	return s.put(bucketResponses, rec.RayID, rec)
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
