// Package kv parks encoded digests that arrive before the view they belong to
// has been installed. Entries expire after a TTL and the least recently used
// ones are evicted once the byte capacity is exceeded.
package kv

import (
	"container/list"
	"strings"
	"sync"
	"time"
)

type entry struct {
	key      string
	value    []byte
	expireAt time.Time
}

// Store is an in-memory byte store with TTL and LRU eviction by total value size.
type Store struct {
	mu   sync.RWMutex
	data map[string]*list.Element
	ll   *list.List
	used int
	cap  int
}

func NewStore(capacityBytes int) *Store {
	return &Store{
		data: make(map[string]*list.Element),
		ll:   list.New(),
		cap:  capacityBytes,
	}
}

// Put stores a copy of val under key. A ttl of zero never expires.
func (s *Store) Put(key string, val []byte, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}

	if el, ok := s.data[key]; ok {
		old := el.Value.(*entry)
		s.used -= len(old.value)
		old.value = append([]byte(nil), val...)
		old.expireAt = exp
		s.used += len(old.value)
		s.ll.MoveToFront(el)
	} else {
		e := &entry{key: key, value: append([]byte(nil), val...), expireAt: exp}
		el := s.ll.PushFront(e)
		s.data[key] = el
		s.used += len(e.value)
	}
	s.evictIfNeeded()
}

func (s *Store) Get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.data[key]; ok {
		e := el.Value.(*entry)
		if e.expired(time.Now()) {
			s.removeElement(el)
			return nil, false
		}
		s.ll.MoveToFront(el)
		return append([]byte(nil), e.value...), true
	}
	return nil, false
}

func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.data[key]; ok {
		s.removeElement(el)
		return true
	}
	return false
}

// DrainPrefix removes and returns every live value whose key starts with
// prefix, oldest insertion or update first. Expired entries are dropped.
func (s *Store) DrainPrefix(prefix string) [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var out [][]byte
	for el := s.ll.Back(); el != nil; {
		prev := el.Prev()
		e := el.Value.(*entry)
		if strings.HasPrefix(e.key, prefix) {
			if !e.expired(now) {
				out = append(out, e.value)
			}
			s.removeElement(el)
		}
		el = prev
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Used is the number of value bytes currently held.
func (s *Store) Used() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.used
}

func (e *entry) expired(now time.Time) bool {
	return !e.expireAt.IsZero() && now.After(e.expireAt)
}

func (s *Store) evictIfNeeded() {
	for s.used > s.cap && s.ll.Back() != nil {
		s.removeElement(s.ll.Back())
	}
}

func (s *Store) removeElement(el *list.Element) {
	e := el.Value.(*entry)
	delete(s.data, e.key)
	s.used -= len(e.value)
	s.ll.Remove(el)
}
