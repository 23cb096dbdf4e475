// Package memory provides bounded per-conversation message logs.
//
// Each conversation is keyed by session id and persona. A log keeps only the
// most recent Capacity entries; adding to a full log evicts the oldest entry.
// Logs live for the lifetime of the Store and are never persisted.
package memory

import (
	"strings"
	"sync"
	"time"
)

// Capacity is the maximum number of entries kept per conversation.
const Capacity = 5

// Role identifies who produced an entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Label returns the human-readable role name used in prompts.
func (r Role) Label() string {
	switch r {
	case RoleUser:
		return "User"
	case RoleAssistant:
		return "Assistant"
	default:
		s := string(r)
		if s == "" {
			return "Unknown"
		}
		return strings.ToUpper(s[:1]) + s[1:]
	}
}

// Entry is one turn in a conversation.
type Entry struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Key builds the conversation key for a session and persona.
func Key(sessionID, persona string) string {
	return sessionID + ":" + persona
}

// Store holds every conversation of the process.
// It is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	logs     map[string][]Entry
	capacity int
	now      func() time.Time
}

// New creates an empty store with the default capacity.
func New() *Store {
	return NewWithCapacity(Capacity)
}

// NewWithCapacity creates an empty store keeping at most n entries per key.
// Values below one fall back to Capacity.
func NewWithCapacity(n int) *Store {
	if n < 1 {
		n = Capacity
	}
	return &Store{
		logs:     make(map[string][]Entry),
		capacity: n,
		now:      time.Now,
	}
}

// Add appends an entry to the conversation for (sessionID, persona),
// evicting the oldest entries beyond capacity.
func (s *Store) Add(sessionID, persona string, role Role, content string) {
	key := Key(sessionID, persona)
	entry := Entry{Role: role, Content: content, Timestamp: s.now()}

	s.mu.Lock()
	defer s.mu.Unlock()

	log := append(s.logs[key], entry)
	if over := len(log) - s.capacity; over > 0 {
		// Copy so the evicted prefix does not pin the old backing array.
		log = append([]Entry(nil), log[over:]...)
	}
	s.logs[key] = log
}

// History returns a copy of the conversation, oldest first.
func (s *Store) History(sessionID, persona string) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.logs[Key(sessionID, persona)]
	if len(log) == 0 {
		return nil
	}
	out := make([]Entry, len(log))
	copy(out, log)
	return out
}

// Last returns the newest entry of a conversation.
func (s *Store) Last(sessionID, persona string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.logs[Key(sessionID, persona)]
	if len(log) == 0 {
		return Entry{}, false
	}
	return log[len(log)-1], true
}

// Format renders a conversation as "Role: content" lines, oldest first.
// An empty conversation yields an empty string.
func (s *Store) Format(sessionID, persona string) string {
	history := s.History(sessionID, persona)
	if len(history) == 0 {
		return ""
	}
	var b strings.Builder
	for i, e := range history {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(e.Role.Label())
		b.WriteString(": ")
		b.WriteString(e.Content)
	}
	return b.String()
}

// Clear drops a conversation.
func (s *Store) Clear(sessionID, persona string) {
	s.mu.Lock()
	delete(s.logs, Key(sessionID, persona))
	s.mu.Unlock()
}

// Len returns the number of tracked conversations.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.logs)
}
