// Package store persists credential-pool state across restarts using a bbolt
// database: per-credential usage counts and quota-exceeded marks, so a
// restarted proxy does not immediately retry a credential that is cooling
// down.
package store

import (
	"encoding/binary"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"go.etcd.io/bbolt"
)

var (
	bucketUsage = []byte("usage")
	bucketQuota = []byte("quota")
)

// CredentialStore is a handle to the persistent credential state database.
type CredentialStore struct {
	db *bbolt.DB
}

// Open opens or creates the credential state database at path.
func Open(path string) (*CredentialStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketUsage, bucketQuota} {
			if _, errBucket := tx.CreateBucketIfNotExists(name); errBucket != nil {
				return errBucket
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create state buckets: %w", err)
	}
	return &CredentialStore{db: db}, nil
}

// Close closes the underlying database.
func (s *CredentialStore) Close() error {
	return s.db.Close()
}

// RecordRequest increments the usage counter of a credential.
func (s *CredentialStore) RecordRequest(credentialID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketUsage)
		count := uint64(0)
		if v := bucket.Get([]byte(credentialID)); len(v) == 8 {
			count = binary.BigEndian.Uint64(v)
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, count+1)
		return bucket.Put([]byte(credentialID), buf)
	})
}

// UsageCount returns the total recorded requests of a credential.
func (s *CredentialStore) UsageCount(credentialID string) uint64 {
	count := uint64(0)
	err := s.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(bucketUsage).Get([]byte(credentialID)); len(v) == 8 {
			count = binary.BigEndian.Uint64(v)
		}
		return nil
	})
	if err != nil {
		log.Warnf("failed to read usage count for %s: %v", credentialID, err)
	}
	return count
}

func quotaKey(credentialID, model string) []byte {
	return []byte(credentialID + "|" + model)
}

// MarkQuotaExceeded records the time a credential hit the quota on a model.
func (s *CredentialStore) MarkQuotaExceeded(credentialID, model string, at time.Time) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketQuota).Put(quotaKey(credentialID, model), []byte(at.UTC().Format(time.RFC3339)))
	})
}

// QuotaExceededAt returns the recorded quota-exceeded time for a credential
// and model, and whether one exists.
func (s *CredentialStore) QuotaExceededAt(credentialID, model string) (time.Time, bool) {
	var at time.Time
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketQuota).Get(quotaKey(credentialID, model))
		if v == nil {
			return nil
		}
		parsed, errParse := time.Parse(time.RFC3339, string(v))
		if errParse != nil {
			return errParse
		}
		at = parsed
		found = true
		return nil
	})
	if err != nil {
		log.Warnf("failed to read quota mark for %s/%s: %v", credentialID, model, err)
		return time.Time{}, false
	}
	return at, found
}

// ClearQuotaExceeded removes the quota-exceeded mark of a credential/model.
func (s *CredentialStore) ClearQuotaExceeded(credentialID, model string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketQuota).Delete(quotaKey(credentialID, model))
	})
}
