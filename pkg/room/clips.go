package room

import (
	"encoding/base64"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Clip store defaults.
const (
	DefaultClipCapacity = 256
	DefaultClipTTL      = 10 * time.Minute
)

// Clip is a synthesized audio buffer served over HTTP.
type Clip struct {
	ID        string
	Data      []byte
	MIMEType  string
	CreatedAt time.Time
}

// ClipStore turns audio into URLs participants can play. Without a base URL
// it returns data URIs and stores nothing; with one it keeps a bounded set of
// recent clips and returns fetchable URLs.
type ClipStore struct {
	baseURL  string
	capacity int
	ttl      time.Duration
	now      func() time.Time

	mu    sync.Mutex
	clips map[string]Clip
	order []string
}

// NewClipStore creates a store. baseURL is the public server root without a
// trailing slash.
func NewClipStore(baseURL string, capacity int, ttl time.Duration) *ClipStore {
	if capacity <= 0 {
		capacity = DefaultClipCapacity
	}
	if ttl <= 0 {
		ttl = DefaultClipTTL
	}
	return &ClipStore{
		baseURL:  baseURL,
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
		clips:    make(map[string]Clip),
	}
}

// Publish returns a URL for the audio.
func (s *ClipStore) Publish(data []byte, mimeType string) string {
	if s.baseURL == "" {
		return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
	}

	clip := Clip{ID: uuid.NewString(), Data: data, MIMEType: mimeType, CreatedAt: s.now()}

	s.mu.Lock()
	s.evictLocked()
	for len(s.order) >= s.capacity {
		delete(s.clips, s.order[0])
		s.order = s.order[1:]
	}
	s.clips[clip.ID] = clip
	s.order = append(s.order, clip.ID)
	s.mu.Unlock()

	return s.baseURL + "/api/voice/clips/" + clip.ID
}

// Get returns a stored clip that has not expired.
func (s *ClipStore) Get(id string) (Clip, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictLocked()
	c, ok := s.clips[id]
	return c, ok
}

// Len returns the number of stored clips.
func (s *ClipStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clips)
}

// evictLocked drops expired clips. Clips are ordered by creation time.
func (s *ClipStore) evictLocked() {
	cutoff := s.now().Add(-s.ttl)
	i := 0
	for ; i < len(s.order); i++ {
		c, ok := s.clips[s.order[i]]
		if ok && c.CreatedAt.After(cutoff) {
			break
		}
		delete(s.clips, s.order[i])
	}
	s.order = s.order[i:]
}
