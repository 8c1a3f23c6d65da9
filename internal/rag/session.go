package rag

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrSessionNotFound = errors.New("rag: session not found")

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Pair is one completed exchange.
type Pair struct {
	User      string
	Assistant string
}

// Session is an append-only conversation. Only completed exchanges are stored,
// so turns always alternate user, assistant.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu     sync.RWMutex
	turns  []Turn
	turnMu sync.Mutex
}

func NewSession(id string) *Session {
	return &Session{ID: id, CreatedAt: time.Now().UTC()}
}

func (s *Session) Append(user, assistant string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns,
		Turn{Role: RoleUser, Content: user},
		Turn{Role: RoleAssistant, Content: assistant},
	)
}

func (s *Session) Turns() []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns) / 2
}

// Window returns the last n completed pairs, oldest first.
func (s *Session) Window(n int) []Pair {
	if n <= 0 {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := len(s.turns) / 2
	start := total - n
	if start < 0 {
		start = 0
	}
	pairs := make([]Pair, 0, total-start)
	for i := start; i < total; i++ {
		pairs = append(pairs, Pair{User: s.turns[2*i].Content, Assistant: s.turns[2*i+1].Content})
	}
	return pairs
}

// SessionStore keeps sessions in memory for the life of the process.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*Session)}
}

func (s *SessionStore) Create() *Session {
	session := NewSession(uuid.NewString())
	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()
	return session
}

func (s *SessionStore) Get(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

func (s *SessionStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, id)
	return nil
}

func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
