package session

import (
	"sort"
	"time"

	"github.com/odvcencio/affilink/pkg/browser"
)

// Store maps surface handles to sessions.
type Store interface {
	Get(h browser.Handle) (*Session, bool)
	Set(h browser.Handle, s *Session)
	Delete(h browser.Handle)
	Has(h browser.Handle) bool
	Len() int
	// List returns sessions ordered by creation time.
	List() []*Session
	// Expired returns sessions older than ttl at now.
	Expired(now time.Time, ttl time.Duration) []*Session
}

// MemoryStore is an in-memory Store. It is not synchronized: it belongs to
// the single goroutine that runs the workflow loop.
type MemoryStore struct {
	sessions map[browser.Handle]*Session
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[browser.Handle]*Session)}
}

func (m *MemoryStore) Get(h browser.Handle) (*Session, bool) {
	s, ok := m.sessions[h]
	return s, ok
}

func (m *MemoryStore) Set(h browser.Handle, s *Session) {
	m.sessions[h] = s
}

func (m *MemoryStore) Delete(h browser.Handle) {
	delete(m.sessions, h)
}

func (m *MemoryStore) Has(h browser.Handle) bool {
	_, ok := m.sessions[h]
	return ok
}

func (m *MemoryStore) Len() int {
	return len(m.sessions)
}

func (m *MemoryStore) List() []*Session {
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	sortByCreated(out)
	return out
}

func (m *MemoryStore) Expired(now time.Time, ttl time.Duration) []*Session {
	var out []*Session
	for _, s := range m.sessions {
		if s.Expired(now, ttl) {
			out = append(out, s)
		}
	}
	sortByCreated(out)
	return out
}

func sortByCreated(list []*Session) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].Surface < list[j].Surface
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
}
