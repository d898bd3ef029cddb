// Package store persists invoice records as opaque JSON documents.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
)

// ErrNotFound is returned when no record exists for a key
var ErrNotFound = errors.New("record not found")

// Kind is the record family a key belongs to
type Kind string

const (
	KindInvoice      Kind = "invoice"
	KindVerdict      Kind = "verdict"
	KindTracking     Kind = "tracking"
	KindTransmission Kind = "transmission"
)

// Store saves and loads records by kind and id. Implementations must copy
// values so callers can keep mutating what they saved.
type Store interface {
	Save(ctx context.Context, kind Kind, id string, v any) error
	Load(ctx context.Context, kind Kind, id string, v any) error
	Delete(ctx context.Context, kind Kind, id string) error
	List(ctx context.Context, kind Kind) ([]string, error)
}

// MemoryStore keeps JSON-encoded records in a go-cache instance
type MemoryStore struct {
	cache *cache.Cache
}

// NewMemoryStore creates an in-memory store. A ttl of zero keeps records forever.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	expiration := cache.NoExpiration
	cleanup := time.Duration(0)
	if ttl > 0 {
		expiration = ttl
		cleanup = ttl * 2
	}
	return &MemoryStore{cache: cache.New(expiration, cleanup)}
}

func key(kind Kind, id string) string {
	return string(kind) + "/" + id
}

// Save encodes v and stores it under kind/id
func (s *MemoryStore) Save(ctx context.Context, kind Kind, id string, v any) error {
	if id == "" {
		return fmt.Errorf("save %s: empty id", kind)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("save %s/%s: %w", kind, id, err)
	}
	s.cache.SetDefault(key(kind, id), data)
	return nil
}

// Load decodes the record stored under kind/id into v
func (s *MemoryStore) Load(ctx context.Context, kind Kind, id string, v any) error {
	raw, ok := s.cache.Get(key(kind, id))
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, kind, id)
	}
	if err := json.Unmarshal(raw.([]byte), v); err != nil {
		return fmt.Errorf("load %s/%s: %w", kind, id, err)
	}
	return nil
}

// Delete removes kind/id; deleting a missing record is not an error
func (s *MemoryStore) Delete(ctx context.Context, kind Kind, id string) error {
	s.cache.Delete(key(kind, id))
	return nil
}

// List returns the ids stored under kind in sorted order
func (s *MemoryStore) List(ctx context.Context, kind Kind) ([]string, error) {
	prefix := string(kind) + "/"
	var ids []string
	for k := range s.cache.Items() {
		if id, ok := strings.CutPrefix(k, prefix); ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Len returns the number of live records of every kind
func (s *MemoryStore) Len() int {
	return s.cache.ItemCount()
}
