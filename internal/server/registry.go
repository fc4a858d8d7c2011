package server

import (
	"sort"
	"sync"
)

// sessionRegistry maps device IP to its live session. At most one session
// is registered per IP; a newer connection replaces the older one.
type sessionRegistry struct {
	mu   sync.RWMutex
	byIP map[string]*Session
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{byIP: make(map[string]*Session)}
}

// add registers sess and returns the session it replaced, if any.
func (r *sessionRegistry) add(sess *Session) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.byIP[sess.ip]
	r.byIP[sess.ip] = sess
	if prev == sess {
		return nil
	}
	return prev
}

// remove deletes sess only if it is still the registered session for its IP.
func (r *sessionRegistry) remove(sess *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byIP[sess.ip] != sess {
		return false
	}
	delete(r.byIP, sess.ip)
	return true
}

func (r *sessionRegistry) get(ip string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.byIP[ip]
	return sess, ok
}

func (r *sessionRegistry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byIP)
}

// snapshot returns the live sessions ordered by IP.
func (r *sessionRegistry) snapshot() []*Session {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.byIP))
	for _, sess := range r.byIP {
		sessions = append(sessions, sess)
	}
	r.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ip < sessions[j].ip })
	return sessions
}
