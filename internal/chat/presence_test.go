package chat

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBareSession(id string, userID int64) *Session {
	return &Session{ID: id, UserID: userID, send: make(chan []byte, 8)}
}

func TestPresenceFirstAndLastTransitions(t *testing.T) {
	p := NewPresence()

	s1 := newBareSession("s1", 7)
	s2 := newBareSession("s2", 7)

	require.True(t, p.Register(7, s1), "first session must report online transition")
	require.False(t, p.Register(7, s2), "second session must not")
	assert.True(t, p.IsOnline(7))
	assert.Len(t, p.SessionsOf(7), 2)

	require.False(t, p.Unregister(7, s1.ID), "one session left, still online")
	assert.True(t, p.IsOnline(7))

	require.True(t, p.Unregister(7, s2.ID), "last session must report offline transition")
	assert.False(t, p.IsOnline(7))
	assert.Empty(t, p.SessionsOf(7))
}

func TestPresenceRegisterIdempotent(t *testing.T) {
	p := NewPresence()
	s := newBareSession("s1", 1)

	require.True(t, p.Register(1, s))
	require.False(t, p.Register(1, s), "re-registering the same session id is a no-op")
	assert.Len(t, p.SessionsOf(1), 1)

	require.True(t, p.Unregister(1, s.ID))
	require.False(t, p.Unregister(1, s.ID), "unknown session unregister is a no-op")
}

// The invariant: isOnline(U) iff sessionsOf(U) is non-empty, across arbitrary
// interleavings of connect/disconnect from many sessions of the same user.
func TestPresenceConcurrentRegisterUnregister(t *testing.T) {
	p := NewPresence()

	const workers = 16
	const rounds = 200

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				s := newBareSession(fmt.Sprintf("w%d-i%d", w, i), 42)
				p.Register(42, s)
				assert.True(t, p.IsOnline(42))
				p.Unregister(42, s.ID)
			}
		}(w)
	}
	wg.Wait()

	assert.False(t, p.IsOnline(42))
	assert.Empty(t, p.SessionsOf(42))
}

// Exactly one goroutine observes the online transition and one the offline
// transition, no matter how registrations interleave.
func TestPresenceTransitionCounts(t *testing.T) {
	p := NewPresence()

	const sessions = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	firsts := 0

	ids := make([]string, sessions)
	for i := 0; i < sessions; i++ {
		ids[i] = fmt.Sprintf("s%d", i)
	}

	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if p.Register(9, newBareSession(id, 9)) {
				mu.Lock()
				firsts++
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()
	require.Equal(t, 1, firsts, "exactly one online transition")

	lasts := 0
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if p.Unregister(9, id) {
				mu.Lock()
				lasts++
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()
	require.Equal(t, 1, lasts, "exactly one offline transition")
}
