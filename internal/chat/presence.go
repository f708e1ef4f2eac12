package chat

import "sync"

// Presence maps each authenticated user to the set of live sessions they
// currently hold. A user is "online" iff that set is non-empty.
//
// Only the connection lifecycle path (Gateway.connect / Gateway.disconnect)
// mutates this registry; everything else just reads it to target "all of a
// user's devices".
type Presence struct {
	mu    sync.RWMutex
	users map[int64]map[string]*Session
}

func NewPresence() *Presence {
	return &Presence{users: make(map[int64]map[string]*Session)}
}

// Register adds a session to the user's set. Idempotent per session id.
// Returns true when this was the user's first session, i.e. the user just
// came online.
func (p *Presence) Register(userID int64, sess *Session) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	set := p.users[userID]
	if set == nil {
		set = make(map[string]*Session)
		p.users[userID] = set
	}
	first := len(set) == 0
	set[sess.ID] = sess
	return first
}

// Unregister removes one session. Returns true when the user's set became
// empty, i.e. the user just went offline. Unknown sessions are a no-op.
func (p *Presence) Unregister(userID int64, sessionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	set, ok := p.users[userID]
	if !ok {
		return false
	}
	if _, ok := set[sessionID]; !ok {
		return false
	}
	delete(set, sessionID)
	if len(set) == 0 {
		delete(p.users, userID)
		return true
	}
	return false
}

func (p *Presence) IsOnline(userID int64) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.users[userID]) > 0
}

// SessionsOf returns a snapshot of the user's live sessions.
func (p *Presence) SessionsOf(userID int64) []*Session {
	p.mu.RLock()
	defer p.mu.RUnlock()

	set := p.users[userID]
	if len(set) == 0 {
		return nil
	}
	out := make([]*Session, 0, len(set))
	for _, s := range set {
		out = append(out, s)
	}
	return out
}
