package session

import "sync"

// Bag is the mutable key-value store scoped to one authentication session.
// The owning session store is expected to serialize access to a single
// session's bag; MemoryBag locks anyway so tests can hammer it.
type Bag interface {
	Get(key string) (string, bool)
	Set(key, value string)
	Delete(key string)
}

// MemoryBag is an in-process Bag implementation.
type MemoryBag struct {
	mu     sync.Mutex
	values map[string]string
}

func NewMemoryBag() *MemoryBag {
	return &MemoryBag{values: make(map[string]string)}
}

func (b *MemoryBag) Get(key string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.values[key]
	return v, ok
}

func (b *MemoryBag) Set(key, value string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.values[key] = value
}

func (b *MemoryBag) Delete(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.values, key)
}

// Store hands out session bags by session ID. Bags live for the
// authentication session and are dropped when the session ends.
type Store struct {
	mu   sync.Mutex
	bags map[string]*MemoryBag
}

func NewStore() *Store {
	return &Store{bags: make(map[string]*MemoryBag)}
}

// Bag returns the bag for sessionID, creating it on first use.
func (s *Store) Bag(sessionID string) Bag {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bags[sessionID]
	if !ok {
		b = NewMemoryBag()
		s.bags[sessionID] = b
	}
	return b
}

// End discards all state held for sessionID.
func (s *Store) End(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bags, sessionID)
}
