// Package session keeps the in-memory map from session id to retrieval pipeline.
package session

import (
	"sort"
	"sync"
	"time"

	"github.com/hyperjump/kiku/internal/apperr"
	"github.com/hyperjump/kiku/internal/models"
	"github.com/hyperjump/kiku/internal/rag"
)

// Session is a fully ingested document ready for questions.
type Session struct {
	ID          string
	Filename    string
	Pipeline    *rag.Pipeline
	ChunkCount  int
	ContentHash string
	CreatedAt   time.Time
}

// Info returns the API view of s.
func (s *Session) Info() models.SessionInfo {
	info := models.SessionInfo{
		SessionID:   s.ID,
		Filename:    s.Filename,
		Chunks:      s.ChunkCount,
		ContentHash: s.ContentHash,
		CreatedAt:   s.CreatedAt,
	}
	if s.Pipeline != nil {
		info.TopK = s.Pipeline.TopK()
	}
	return info
}

// Registry maps session ids to sessions. Safe for concurrent use; sessions live
// until replaced or the process exits.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Register stores s under s.ID, replacing any existing session with that id.
// It returns the replaced session, or nil.
func (r *Registry) Register(s *Session) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.sessions[s.ID]
	r.sessions[s.ID] = s
	return prev
}

// Lookup returns the session registered under id, or apperr.ErrSessionNotFound.
func (r *Registry) Lookup(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, apperr.ErrSessionNotFound
	}
	return s, nil
}

// List returns every registered id, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
