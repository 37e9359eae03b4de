package state

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	bolt "go.etcd.io/bbolt"
)

var boltBucket = []byte("sessions")

// BoltStore implements Store on a bbolt file. bbolt holds an exclusive
// file lock, so the store is single-process by construction and per-key
// locks are in-process.
type BoltStore struct {
	db     *bolt.DB
	closed atomic.Bool

	lockMu sync.Mutex
	locks  map[string]*boltLock
}

// boltEntry is the serialized form of one record.
type boltEntry struct {
	Value    []byte    `json:"value"`
	Revision uint64    `json:"revision"`
	Created  time.Time `json:"created"`
	Modified time.Time `json:"modified"`
	Expires  time.Time `json:"expires"`
}

// NewBoltStore opens or creates a bbolt-backed store at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}

	return &BoltStore{
		db:    db,
		locks: make(map[string]*boltLock),
	}, nil
}

// Get retrieves a value by key.
func (s *BoltStore) Get(key string) ([]byte, error) {
	rec, err := s.GetRecord(key)
	if err != nil {
		return nil, err
	}
	return rec.Value, nil
}

// GetRecord retrieves the full Record.
func (s *BoltStore) GetRecord(key string) (*Record, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	if s.closed.Load() {
		return nil, ErrClosed
	}

	var rec *Record
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(boltBucket).Get([]byte(key))
		if data == nil {
			return ErrNotFound
		}
		var e boltEntry
		if err := json.Unmarshal(data, &e); err != nil {
			return fmt.Errorf("decode entry: %w", err)
		}
		if !e.Expires.IsZero() && time.Now().After(e.Expires) {
			return ErrNotFound
		}
		rec = &Record{
			Key:      key,
			Value:    e.Value,
			Revision: e.Revision,
			Created:  e.Created,
			Modified: e.Modified,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Put stores a value with optional TTL.
func (s *BoltStore) Put(key string, value []byte, ttl time.Duration) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if err := ValidateTTL(ttl); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrClosed
	}

	now := time.Now()
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(boltBucket)

		e := boltEntry{
			Value:    value,
			Revision: 1,
			Created:  now,
			Modified: now,
		}
		if ttl > 0 {
			e.Expires = now.Add(ttl)
		}

		if old := bucket.Get([]byte(key)); old != nil {
			var prev boltEntry
			if err := json.Unmarshal(old, &prev); err == nil {
				e.Revision = prev.Revision + 1
				e.Created = prev.Created
			}
		}

		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode entry: %w", err)
		}
		return bucket.Put([]byte(key), data)
	})
}

// Delete removes a key.
func (s *BoltStore) Delete(key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrClosed
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Delete([]byte(key))
	})
}

// Keys returns all keys matching a pattern.
func (s *BoltStore) Keys(pattern string) ([]string, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	now := time.Now()
	var keys []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).ForEach(func(k, v []byte) error {
			if !MatchPattern(pattern, string(k)) {
				return nil
			}
			var e boltEntry
			if err := json.Unmarshal(v, &e); err == nil {
				if !e.Expires.IsZero() && now.After(e.Expires) {
					return nil
				}
			}
			keys = append(keys, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// Lock acquires a per-key lock.
func (s *BoltStore) Lock(key string, ttl time.Duration) (Lock, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	if ttl <= 0 {
		return nil, ErrInvalidTTL
	}
	if s.closed.Load() {
		return nil, ErrClosed
	}

	s.lockMu.Lock()
	defer s.lockMu.Unlock()

	lockKey := "_lock." + key
	if existing, ok := s.locks[lockKey]; ok {
		if !existing.released.Load() && time.Now().Before(existing.expires) {
			return nil, ErrLockHeld
		}
	}

	lock := &boltLock{
		store:   s,
		key:     lockKey,
		ttl:     ttl,
		expires: time.Now().Add(ttl),
	}
	s.locks[lockKey] = lock
	return lock, nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}

	s.lockMu.Lock()
	for _, lock := range s.locks {
		lock.released.Store(true)
	}
	s.locks = nil
	s.lockMu.Unlock()

	return s.db.Close()
}

type boltLock struct {
	store    *BoltStore
	key      string
	ttl      time.Duration
	expires  time.Time
	released atomic.Bool
}

// Unlock releases the lock.
func (l *boltLock) Unlock() error {
	if l.released.Swap(true) {
		return ErrLockNotHeld
	}

	l.store.lockMu.Lock()
	defer l.store.lockMu.Unlock()
	delete(l.store.locks, l.key)
	return nil
}

// Refresh extends the lock TTL.
func (l *boltLock) Refresh() error {
	if l.released.Load() {
		return ErrLockNotHeld
	}

	l.store.lockMu.Lock()
	defer l.store.lockMu.Unlock()

	if time.Now().After(l.expires) {
		l.released.Store(true)
		delete(l.store.locks, l.key)
		return ErrLockExpired
	}
	l.expires = time.Now().Add(l.ttl)
	return nil
}

// Key returns the lock key.
func (l *boltLock) Key() string {
	return l.key
}
