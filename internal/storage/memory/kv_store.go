package memory

import (
	"context"
	"maps"
	"sort"
	"strings"
	"sync"

	"github.com/JakeFAU/registry-crawler/internal/crawler"
)

// KVStore is an in-process crawler.KVStore. Records are copied on the way in
// and out so callers never share maps with the store.
type KVStore struct {
	mu      sync.RWMutex
	records map[string]crawler.Record
}

// NewKVStore constructs an empty KVStore.
func NewKVStore() *KVStore {
	return &KVStore{records: make(map[string]crawler.Record)}
}

// Put replaces the record stored under key.
func (s *KVStore) Put(_ context.Context, key string, record crawler.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = maps.Clone(record)
	return nil
}

// Get returns the record under key, if any.
func (s *KVStore) Get(_ context.Context, key string) (crawler.Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[key]
	if !ok {
		return nil, false, nil
	}
	return maps.Clone(record), true, nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *KVStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}

// ScanPrefix returns every record whose key starts with prefix, ordered by key.
func (s *KVStore) ScanPrefix(_ context.Context, prefix string) ([]crawler.KV, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []crawler.KV{}
	for key, record := range s.records {
		if strings.HasPrefix(key, prefix) {
			out = append(out, crawler.KV{Key: key, Record: maps.Clone(record)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Exists reports whether key is present.
func (s *KVStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[key]
	return ok, nil
}
