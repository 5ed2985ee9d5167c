// Package boltstore is an scs session store kept in a bbolt file, so that
// sessions and in-flight ceremony state survive a restart of a single node.
package boltstore

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alexedwards/scs/v2"
	"go.etcd.io/bbolt"
)

var bucketName = []byte("sessions")

// Store implements scs.Store and scs.IterableStore. Each value is the
// expiry in unix nanoseconds (8 bytes, big endian) followed by the encoded
// session.
type Store struct {
	db          *bbolt.DB
	ownsDB      bool
	stopCleanup chan struct{}
	cleanupDone sync.WaitGroup
	closeOnce   sync.Once
	now         func() time.Time
}

var (
	_ scs.Store         = (*Store)(nil)
	_ scs.IterableStore = (*Store)(nil)
)

// New wraps an open database. A cleanupInterval above zero starts a
// background sweep of expired sessions, stopped by Close.
func New(db *bbolt.DB, cleanupInterval time.Duration) (*Store, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating sessions bucket: %w", err)
	}
	s := &Store{db: db, now: time.Now}
	if cleanupInterval > 0 {
		s.stopCleanup = make(chan struct{})
		s.cleanupDone.Add(1)
		go s.startCleanup(cleanupInterval)
	}
	return s, nil
}

// Open opens (or creates) the bbolt file at path. Close also closes the file.
func Open(path string, cleanupInterval time.Duration) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening session db: %w", err)
	}
	s, err := New(db, cleanupInterval)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}

func (s *Store) Find(token string) ([]byte, bool, error) {
	var out []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketName).Get([]byte(token))
		if data == nil || s.expired(data) {
			return nil
		}
		// bbolt values are only valid inside the transaction
		out = append([]byte(nil), data[8:]...)
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, out != nil, nil
}

func (s *Store) Commit(token string, b []byte, expiry time.Time) error {
	value := make([]byte, 8+len(b))
	binary.BigEndian.PutUint64(value, uint64(expiry.UnixNano()))
	copy(value[8:], b)
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(token), value)
	})
}

func (s *Store) Delete(token string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Delete([]byte(token))
	})
}

// All returns every unexpired session keyed by token.
func (s *Store) All() (map[string][]byte, error) {
	sessions := make(map[string][]byte)
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).ForEach(func(k, v []byte) error {
			if !s.expired(v) {
				sessions[string(k)] = append([]byte(nil), v[8:]...)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

// DeleteExpired removes expired sessions and returns how many it removed.
func (s *Store) DeleteExpired() (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		var expired [][]byte
		err := b.ForEach(func(k, v []byte) error {
			if s.expired(v) {
				expired = append(expired, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range expired {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(expired)
		return nil
	})
	return removed, err
}

// Close stops the cleanup goroutine and closes the database if Open created it.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.stopCleanup != nil {
			close(s.stopCleanup)
			s.cleanupDone.Wait()
		}
		if s.ownsDB {
			err = s.db.Close()
		}
	})
	return err
}

func (s *Store) expired(value []byte) bool {
	if len(value) < 8 {
		return true
	}
	expiry := int64(binary.BigEndian.Uint64(value[:8]))
	return s.now().UnixNano() >= expiry
}

func (s *Store) startCleanup(interval time.Duration) {
	defer s.cleanupDone.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n, err := s.DeleteExpired(); err != nil {
				slog.Error("session cleanup failed", "err", err)
			} else if n > 0 {
				slog.Debug("expired sessions removed", "count", n)
			}
		case <-s.stopCleanup:
			return
		}
	}
}
