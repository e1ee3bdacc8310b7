// apps/go-server/internal/httpserver/sessions.go
//
// In-memory registry of live match sessions.
// Sessions are ephemeral: created per page load, dropped when the
// client advances or disappears, lost on process restart.
//
// Characteristics:
//   - Stores *session.Session keyed by a uuid.
//   - Concurrency-safe via RWMutex (concurrent reads allowed, writes exclusive).
//   - Each entry carries its own mutex so match attempts against one
//     session are serialized, as the engine requires.

package httpserver

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/wordlink/wordlink/apps/go-server/internal/session"
)

var errSessionNotFound = errors.New("session not found")

// liveSession is one registered session plus its attempt lock.
type liveSession struct {
	mu   sync.Mutex // serializes CheckMatch per session
	sess *session.Session
}

// registry is an in-memory map-based session store.
type registry struct {
	mu       sync.RWMutex
	sessions map[string]*liveSession
}

func newRegistry() *registry {
	return &registry{sessions: make(map[string]*liveSession)}
}

// add registers a session under a fresh id.
func (r *registry) add(s *session.Session) string {
	id := uuid.NewString()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[id] = &liveSession{sess: s}
	return id
}

// get looks up a live session by id.
func (r *registry) get(id string) (*liveSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if ls, ok := r.sessions[id]; ok {
		return ls, nil
	}
	return nil, errSessionNotFound
}

// drop removes a session; no-op if absent.
func (r *registry) drop(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}
