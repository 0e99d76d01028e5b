package dht

import (
	"time"

	lru "github.com/hashicorp/golang-lru"
	cerrors "github.com/najoast/actormesh/errors"
	"github.com/najoast/actormesh/identity"
)

// Record is a value published under a key.
type Record struct {
	Key       string          `msgpack:"key"`
	Value     []byte          `msgpack:"value"`
	Publisher identity.PeerID `msgpack:"publisher"`
	// Timestamp in unix nanoseconds; the newest record wins.
	Timestamp int64 `msgpack:"ts"`
}

// newer reports whether r supersedes other.
func (r *Record) newer(other *Record) bool {
	if other == nil {
		return true
	}
	if r.Timestamp != other.Timestamp {
		return r.Timestamp > other.Timestamp
	}
	// Deterministic tie break so every node converges on the same record.
	return string(r.Publisher[:]) > string(other.Publisher[:])
}

type storedRecord struct {
	rec     *Record
	expires time.Time
}

// recordStore is a bounded in-memory store whose entries expire after ttl.
type recordStore struct {
	cache *lru.Cache
	ttl   time.Duration
	now   func() time.Time
}

func newRecordStore(size int, ttl time.Duration) (*recordStore, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, cerrors.Trace(err)
	}
	return &recordStore{cache: cache, ttl: ttl, now: time.Now}, nil
}

// put keeps rec unless a newer record is already stored. It reports
// whether rec was stored.
func (s *recordStore) put(rec *Record) bool {
	if cur := s.get(rec.Key); cur != nil && !rec.newer(cur) {
		return false
	}
	s.cache.Add(rec.Key, storedRecord{rec: rec, expires: s.now().Add(s.ttl)})
	return true
}

func (s *recordStore) get(key string) *Record {
	v, ok := s.cache.Get(key)
	if !ok {
		return nil
	}
	sr := v.(storedRecord)
	if s.now().After(sr.expires) {
		s.cache.Remove(key)
		return nil
	}
	return sr.rec
}

func (s *recordStore) len() int {
	return s.cache.Len()
}
