package chat

import (
	"sync"

	"github.com/rs/zerolog"
)

// Hub tracks live sessions and their chat-room subscriptions, and fans
// delivered envelopes out to local sessions. Room membership is transient
// websocket state; chat membership itself lives in the store.
//
// All maps are guarded by one RWMutex. Delivery holds the read lock only;
// slow consumers are collected and evicted after the lock is released.
type Hub struct {
	mu           sync.RWMutex
	sessions     map[string]*Session
	rooms        map[int64]map[string]*Session // chatID -> sessionID -> session
	sessionRooms map[string]map[int64]struct{} // sessionID -> set of chatIDs

	presence *Presence
	log      zerolog.Logger
}

func NewHub(presence *Presence, log zerolog.Logger) *Hub {
	return &Hub{
		sessions:     make(map[string]*Session),
		rooms:        make(map[int64]map[string]*Session),
		sessionRooms: make(map[string]map[int64]struct{}),
		presence:     presence,
		log:          log.With().Str("component", "hub").Logger(),
	}
}

func (h *Hub) AddSession(sess *Session) {
	h.mu.Lock()
	h.sessions[sess.ID] = sess
	h.sessionRooms[sess.ID] = make(map[int64]struct{})
	total := len(h.sessions)
	h.mu.Unlock()

	h.log.Debug().Str("session", sess.ID).Int64("user", sess.UserID).
		Int("total", total).Msg("session registered")
}

// RemoveSession drops the session and all its room subscriptions, and closes
// its send channel to stop the write pump. Safe to call twice.
func (h *Hub) RemoveSession(sess *Session) {
	h.mu.Lock()
	if _, ok := h.sessions[sess.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.sessions, sess.ID)
	for chatID := range h.sessionRooms[sess.ID] {
		h.leaveLocked(chatID, sess.ID)
	}
	delete(h.sessionRooms, sess.ID)
	total := len(h.sessions)
	h.mu.Unlock()

	close(sess.send)
	h.log.Debug().Str("session", sess.ID).Int64("user", sess.UserID).
		Int("total", total).Msg("session removed")
}

func (h *Hub) Join(chatID int64, sess *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.sessions[sess.ID]; !ok {
		return
	}
	room := h.rooms[chatID]
	if room == nil {
		room = make(map[string]*Session)
		h.rooms[chatID] = room
	}
	room[sess.ID] = sess
	h.sessionRooms[sess.ID][chatID] = struct{}{}
}

func (h *Hub) Leave(chatID int64, sess *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(chatID, sess.ID)
	if memberships, ok := h.sessionRooms[sess.ID]; ok {
		delete(memberships, chatID)
	}
}

func (h *Hub) leaveLocked(chatID int64, sessionID string) {
	if room, ok := h.rooms[chatID]; ok {
		delete(room, sessionID)
		if len(room) == 0 {
			delete(h.rooms, chatID)
		}
	}
}

// Deliver resolves an envelope's target set against local state and writes
// the frame to every matching session exactly once. Sessions whose send
// buffer is full are evicted: their connection is closed and the regular
// disconnect path cleans them up.
func (h *Hub) Deliver(env Envelope) {
	var slow []*Session

	h.mu.RLock()
	targets := make(map[*Session]struct{})

	switch {
	case env.SessionID != "":
		if s, ok := h.sessions[env.SessionID]; ok {
			targets[s] = struct{}{}
		}
	case env.All:
		for _, s := range h.sessions {
			targets[s] = struct{}{}
		}
	default:
		for _, chatID := range env.Rooms {
			for _, s := range h.rooms[chatID] {
				targets[s] = struct{}{}
			}
		}
		for _, userID := range env.Users {
			for _, s := range h.presence.SessionsOf(userID) {
				// Presence entries can outlive hub registration for an
				// instant during disconnect; only deliver to tracked ones.
				if _, ok := h.sessions[s.ID]; ok {
					targets[s] = struct{}{}
				}
			}
		}
	}

	for s := range targets {
		if s.ID == env.ExcludeSession {
			continue
		}
		if !s.trySend(env.Frame) {
			slow = append(slow, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range slow {
		h.log.Warn().Str("session", s.ID).Int64("user", s.UserID).
			Msg("send buffer full, evicting slow session")
		s.closeConn()
	}
}
