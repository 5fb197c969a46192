package session

import (
	"context"
	"sync"
	"time"
)

// chatLock is a per-chat mutex shared by the goroutines currently using it.
type chatLock struct {
	mu   sync.Mutex
	refs int
}

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[int64]Session
	locks    map[int64]*chatLock
	ttl      time.Duration
	now      func() time.Time
}

// NewMemoryStore creates an in-memory store. A ttl <= 0 disables expiry.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[int64]Session),
		locks:    make(map[int64]*chatLock),
		ttl:      ttl,
		now:      time.Now,
	}
}

func (s *MemoryStore) expired(sess Session, now time.Time) bool {
	return s.ttl > 0 && now.Sub(sess.UpdatedAt) > s.ttl
}

// load must be called with s.mu held
func (s *MemoryStore) load(chatID int64) Session {
	sess, ok := s.sessions[chatID]
	if !ok || s.expired(sess, s.now()) {
		return Session{ChatID: chatID}
	}
	return sess
}

// Get returns the chat's session
func (s *MemoryStore) Get(_ context.Context, chatID int64) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(chatID), nil
}

// Update applies fn under the chat's lock
func (s *MemoryStore) Update(ctx context.Context, chatID int64, fn func(*Session) error) error {
	l := s.acquire(chatID)
	defer s.release(chatID, l)

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	sess := s.load(chatID)
	s.mu.Unlock()

	if err := fn(&sess); err != nil {
		return err
	}
	sess.ChatID = chatID

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.IsZero() {
		delete(s.sessions, chatID)
		return nil
	}
	sess.UpdatedAt = s.now()
	s.sessions[chatID] = sess
	return nil
}

// Delete drops the chat's session
func (s *MemoryStore) Delete(_ context.Context, chatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, chatID)
	return nil
}

// Sweep removes sessions idle for longer than the TTL and returns how many were removed.
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sess := range s.sessions {
		if s.expired(sess, now) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored sessions, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *MemoryStore) acquire(chatID int64) *chatLock {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[chatID]
	if !ok {
		l = &chatLock{}
		s.locks[chatID] = l
	}
	l.refs++
	return l
}

func (s *MemoryStore) release(chatID int64, l *chatLock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, chatID)
	}
}
