package cache

import (
	"container/list"
	"errors"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
)

var ErrSizeMismatch = errors.New("size does not match content length")

// Entry is a read-only view of a cached response body.
type Entry struct {
	Key         string
	ContentType string
	// Content shares its backing array with the store and every other reader
	// of the same entry, so hits cost no allocation. Writing to it corrupts
	// the cached body. Its capacity equals its length, so append copies.
	Content []byte
	Size    int
}

type entry struct {
	Entry
	element *list.Element
}

type Option func(*Store)

// WithOnEvict registers fn to be called, outside the store lock, with the key
// of every entry removed to make room for a new one.
func WithOnEvict(fn func(key string)) Option {
	return func(s *Store) {
		s.onEvict = fn
	}
}

// Store is a bucketed, recency-ordered store of served file content.
//
// One mutex guards both the buckets and the recency list, so a promotion made
// by Get is visible to the very next eviction decision.
type Store struct {
	capacity uint64
	mu       sync.Mutex
	buckets  []map[string]*entry
	order    *list.List // front is most recently used
	onEvict  func(key string)
}

// NewStore creates a store with bucketHint hash buckets. A capacity of 0
// disables eviction.
func NewStore(bucketHint int, capacity uint64, opts ...Option) *Store {
	if bucketHint <= 0 {
		bucketHint = 1
	}

	s := &Store{
		capacity: capacity,
		buckets:  make([]map[string]*entry, bucketHint),
		order:    list.New(),
	}
	for i := range s.buckets {
		s.buckets[i] = make(map[string]*entry)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) bucket(key string) map[string]*entry {
	return s.buckets[xxhash.Sum64String(key)%uint64(len(s.buckets))]
}

// Get returns the entry for key and promotes it to most recently used. A miss
// leaves the store untouched.
func (s *Store) Get(key string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.bucket(key)[key]
	if !ok {
		return Entry{}, false
	}

	s.order.MoveToFront(e.element)
	view := e.Entry
	view.Content = view.Content[:len(view.Content):len(view.Content)]
	return view, true
}

// Put stores a private copy of content under key. An existing key has its
// content and type replaced and becomes most recently used. A new key evicts
// the least recently used entry first when the store is full.
func (s *Store) Put(key, contentType string, content []byte, size int) error {
	if size != len(content) {
		return fmt.Errorf("put %s: %w (size %d, content %d bytes)", key, ErrSizeMismatch, size, len(content))
	}

	owned := make([]byte, len(content))
	copy(owned, content)

	evicted, didEvict := s.put(key, contentType, owned)
	if didEvict && s.onEvict != nil {
		s.onEvict(evicted)
	}
	return nil
}

func (s *Store) put(key, contentType string, content []byte) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.bucket(key)
	if e, ok := b[key]; ok {
		e.ContentType = contentType
		e.Content = content
		e.Size = len(content)
		s.order.MoveToFront(e.element)
		return "", false
	}

	var evicted string
	var didEvict bool
	if s.capacity > 0 && uint64(s.order.Len()) >= s.capacity {
		evicted, didEvict = s.evict()
	}

	b[key] = &entry{
		Entry: Entry{
			Key:         key,
			ContentType: contentType,
			Content:     content,
			Size:        len(content),
		},
		element: s.order.PushFront(key),
	}
	return evicted, didEvict
}

func (s *Store) evict() (string, bool) {
	back := s.order.Back()
	if back == nil {
		return "", false
	}
	key := back.Value.(string)
	s.order.Remove(back)
	delete(s.bucket(key), key)
	return key, true
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

func (s *Store) Capacity() uint64 {
	return s.capacity
}

// Keys returns the live keys from most to least recently used.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, s.order.Len())
	for el := s.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(string))
	}
	return keys
}

// Close drops every entry. The store stays usable afterwards.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.buckets {
		s.buckets[i] = make(map[string]*entry)
	}
	s.order.Init()
	return nil
}
