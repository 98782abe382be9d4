package state

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrStoreUnavailable wraps every failure talking to the key-value store.
var ErrStoreUnavailable = errors.New("store unavailable")

// Store is the small key-value surface the dedup window needs.
// No call is retried; failures wrap ErrStoreUnavailable.
type Store interface {
	Exists(ctx context.Context, key string) (bool, error)
	SetWithExpiry(ctx context.Context, key, value string, ttl time.Duration) error
	AddMembers(ctx context.Context, setKey string, ids ...string) error
	Members(ctx context.Context, setKey string) (map[string]struct{}, error)
	Delete(ctx context.Context, keys ...string) error
	// Reseed clears setKey, fills it with ids and sets markerKey with ttl
	// as one atomic step.
	Reseed(ctx context.Context, setKey, markerKey string, ids []string, ttl time.Duration) error
	Ping(ctx context.Context) error
	Close() error
}

type entry struct {
	value   string
	members map[string]struct{}
	expires time.Time
}

// MemoryStore keeps everything in process. State is lost on restart.
type MemoryStore struct {
	mu   sync.Mutex // reads evict expired entries, so every access writes
	data map[string]*entry
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]*entry),
		now:  time.Now,
	}
}

// SetClock replaces the time source, for tests.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// get returns the live entry for key, evicting it if expired. Caller holds mu.
func (s *MemoryStore) get(key string) *entry {
	e, ok := s.data[key]
	if !ok {
		return nil
	}
	if !e.expires.IsZero() && !s.now().Before(e.expires) {
		delete(s.data, key)
		return nil
	}
	return e
}

func (s *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, errors.Join(ErrStoreUnavailable, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(key) != nil, nil
}

func (s *MemoryStore) SetWithExpiry(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(key, value, ttl)
	return nil
}

func (s *MemoryStore) setLocked(key, value string, ttl time.Duration) {
	e := &entry{value: value}
	if ttl > 0 {
		e.expires = s.now().Add(ttl)
	}
	s.data[key] = e
}

func (s *MemoryStore) AddMembers(ctx context.Context, setKey string, ids ...string) error {
	if err := ctx.Err(); err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addLocked(setKey, ids)
	return nil
}

func (s *MemoryStore) addLocked(setKey string, ids []string) {
	if len(ids) == 0 {
		return
	}
	e := s.get(setKey)
	if e == nil {
		e = &entry{}
		s.data[setKey] = e
	}
	if e.members == nil {
		e.members = make(map[string]struct{}, len(ids))
	}
	for _, id := range ids {
		e.members[id] = struct{}{}
	}
}

func (s *MemoryStore) Members(ctx context.Context, setKey string) (map[string]struct{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Join(ErrStoreUnavailable, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]struct{})
	if e := s.get(setKey); e != nil {
		for id := range e.members {
			out[id] = struct{}{}
		}
	}
	return out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.data, k)
	}
	return nil
}

func (s *MemoryStore) Reseed(ctx context.Context, setKey, markerKey string, ids []string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, setKey)
	s.addLocked(setKey, ids)
	s.setLocked(markerKey, "1", ttl)
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}
	return nil
}

func (s *MemoryStore) Close() error { return nil }
