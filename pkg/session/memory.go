package session

import (
	"context"
	"sync"
	"time"

	"github.com/clamentos/blackhole/internal/protocol"
)

// MemoryStore keeps sessions in a map. Expired entries are dropped when
// they are next looked up.
type MemoryStore struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.RWMutex
	sessions map[protocol.SessionID]*Session
}

// NewMemoryStore creates an empty store. A ttl of zero uses DefaultTTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:      ttlOrDefault(ttl),
		now:      time.Now,
		sessions: make(map[protocol.SessionID]*Session),
	}
}

func (m *MemoryStore) Create(ctx context.Context, user string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s, err := newSession(user, m.ttl, m.now())
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	copied := *s
	return &copied, nil
}

func (m *MemoryStore) Validate(ctx context.Context, id protocol.SessionID) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	if s.Expired(m.now()) {
		m.mu.Lock()
		delete(m.sessions, id)
		m.mu.Unlock()
		return nil, ErrNotFound
	}

	copied := *s
	return &copied, nil
}

func (m *MemoryStore) Delete(ctx context.Context, id protocol.SessionID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, id)
	return nil
}

// Sweep drops every session that expired at or before now.
func (m *MemoryStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, s := range m.sessions {
		if s.Expired(now) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

// Len counts stored sessions, expired ones included.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *MemoryStore) Close() error {
	return nil
}
