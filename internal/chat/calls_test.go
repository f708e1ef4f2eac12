package chat

import (
	"context"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startCall runs call:start for the host and returns the new call id from the
// call:created frame on the host session.
func startCall(t *testing.T, env *testEnv, host *Session, chatID int64, kind string) string {
	t.Helper()
	require.NoError(t, env.calls.Start(context.Background(), host, chatID, kind))

	created := eventsNamed(drain(t, host), EvCallCreated)
	require.Len(t, created, 1)
	var ev CallCreatedEvent
	decodeData(t, created[0], &ev)
	require.NotEmpty(t, ev.CallID)
	return ev.CallID
}

func TestCallStartRingsEveryDeviceOfEveryCallee(t *testing.T) {
	env := newTestEnv()
	env.store.addChat(groupChat(20, false, nil, []int64{1, 2, 3}))
	host := env.addSession(1)
	hostPhone := env.addSession(1)
	b1 := env.addSession(2)
	b2 := env.addSession(2)
	c := env.addSession(3)

	callID := startCall(t, env, host, 20, "video")

	for _, s := range []*Session{b1, b2, c} {
		rings := eventsNamed(drain(t, s), EvCallRing)
		require.Len(t, rings, 1)
		var ev CallRingEvent
		decodeData(t, rings[0], &ev)
		assert.Equal(t, callID, ev.CallID)
		assert.Equal(t, int64(20), ev.ChatID)
		assert.Equal(t, "video", ev.Kind)
		assert.Equal(t, int64(1), ev.FromUserID)
	}

	// The host's other devices do not ring themselves.
	assert.Empty(t, eventsNamed(drain(t, hostPhone), EvCallRing))
	assert.Equal(t, 1, env.calls.ActiveCalls())
}

func TestCallStartRequiresMembership(t *testing.T) {
	env := newTestEnv()
	env.store.addChat(privateChat(10, 1, 2))
	outsider := env.addSession(9)

	err := env.calls.Start(context.Background(), outsider, 10, "audio")
	assert.ErrorIs(t, err, ErrNotParticipant)
	assert.Zero(t, env.calls.ActiveCalls())
}

func TestCallAcceptExchangesRosters(t *testing.T) {
	env := newTestEnv()
	env.store.addChat(privateChat(10, 1, 2))
	host := env.addSession(1)
	callee := env.addSession(2)

	callID := startCall(t, env, host, 10, "audio")
	drain(t, callee)

	require.NoError(t, env.calls.Accept(context.Background(), callee, callID))

	// Joiner gets the pre-join member list.
	parts := eventsNamed(drain(t, callee), EvCallParticipants)
	require.Len(t, parts, 1)
	var roster CallParticipantsEvent
	decodeData(t, parts[0], &roster)
	assert.Equal(t, []int64{1}, roster.Members)

	// Existing members learn about the joiner.
	joined := eventsNamed(drain(t, host), EvCallJoined)
	require.Len(t, joined, 1)
	var member CallMemberEvent
	decodeData(t, joined[0], &member)
	assert.Equal(t, int64(2), member.UserID)
}

// Knowing a call id is not enough: accept and reject are open to the chat's
// participants only.
func TestCallAcceptAndRejectRequireChatMembership(t *testing.T) {
	env := newTestEnv()
	env.store.addChat(privateChat(10, 1, 2))
	host := env.addSession(1)
	callee := env.addSession(2)
	stranger := env.addSession(9)

	callID := startCall(t, env, host, 10, "audio")
	drain(t, callee)
	ctx := context.Background()

	assert.ErrorIs(t, env.calls.Accept(ctx, stranger, callID), ErrNotParticipant)
	assert.ErrorIs(t, env.calls.Reject(ctx, stranger, callID), ErrNotParticipant)
	assert.Empty(t, drain(t, host), "a rejected outsider must be invisible to the host")
	assert.Empty(t, drain(t, stranger))

	// The legitimate callee still joins, and the roster never saw the outsider.
	require.NoError(t, env.calls.Accept(ctx, callee, callID))
	parts := eventsNamed(drain(t, callee), EvCallParticipants)
	require.Len(t, parts, 1)
	var roster CallParticipantsEvent
	decodeData(t, parts[0], &roster)
	assert.Equal(t, []int64{1}, roster.Members)
}

func TestCallAcceptIsIdempotent(t *testing.T) {
	env := newTestEnv()
	env.store.addChat(privateChat(10, 1, 2))
	host := env.addSession(1)
	callee := env.addSession(2)

	callID := startCall(t, env, host, 10, "audio")
	drain(t, callee)
	ctx := context.Background()

	require.NoError(t, env.calls.Accept(ctx, callee, callID))
	drain(t, host)
	drain(t, callee)

	// A duplicate accept changes nothing and notifies nobody.
	require.NoError(t, env.calls.Accept(ctx, callee, callID))
	assert.Empty(t, eventsNamed(drain(t, host), EvCallJoined))
	assert.Empty(t, eventsNamed(drain(t, callee), EvCallParticipants))

	// Still exactly one membership: the callee's leave notifies once and the
	// call survives with the host.
	require.NoError(t, env.calls.Leave(ctx, callee.UserID, callID))
	require.Len(t, eventsNamed(drain(t, host), EvCallLeft), 1)
	assert.Equal(t, 1, env.calls.ActiveCalls())
}

func TestCallRejectNotifiesHostOnly(t *testing.T) {
	env := newTestEnv()
	env.store.addChat(groupChat(20, false, nil, []int64{1, 2, 3}))
	host := env.addSession(1)
	b := env.addSession(2)
	c := env.addSession(3)

	callID := startCall(t, env, host, 20, "audio")
	drain(t, b)
	drain(t, c)

	require.NoError(t, env.calls.Reject(context.Background(), b, callID))

	rejected := eventsNamed(drain(t, host), EvCallRejected)
	require.Len(t, rejected, 1)
	var ev CallMemberEvent
	decodeData(t, rejected[0], &ev)
	assert.Equal(t, int64(2), ev.UserID)

	assert.Empty(t, drain(t, c), "a reject is between callee and host")
	assert.Equal(t, 1, env.calls.ActiveCalls(), "one reject does not end a group call")
}

func TestCallMemberLeaveKeepsSessionAlive(t *testing.T) {
	env := newTestEnv()
	env.store.addChat(groupChat(20, false, nil, []int64{1, 2, 3}))
	host := env.addSession(1)
	b := env.addSession(2)
	c := env.addSession(3)

	callID := startCall(t, env, host, 20, "audio")
	ctx := context.Background()
	require.NoError(t, env.calls.Accept(ctx, b, callID))
	require.NoError(t, env.calls.Accept(ctx, c, callID))
	drain(t, host)
	drain(t, b)
	drain(t, c)

	require.NoError(t, env.calls.Leave(ctx, b.UserID, callID))

	for _, s := range []*Session{host, c} {
		left := eventsNamed(drain(t, s), EvCallLeft)
		require.Len(t, left, 1)
		var ev CallMemberEvent
		decodeData(t, left[0], &ev)
		assert.Equal(t, int64(2), ev.UserID)
	}
	assert.Equal(t, 1, env.calls.ActiveCalls())
}

func TestHostLeaveEndsCallForEveryone(t *testing.T) {
	env := newTestEnv()
	env.store.addChat(groupChat(20, false, nil, []int64{1, 2, 3}))
	host := env.addSession(1)
	b := env.addSession(2)
	c := env.addSession(3)

	callID := startCall(t, env, host, 20, "audio")
	ctx := context.Background()
	require.NoError(t, env.calls.Accept(ctx, b, callID))
	require.NoError(t, env.calls.Accept(ctx, c, callID))
	drain(t, host)
	drain(t, b)
	drain(t, c)

	require.NoError(t, env.calls.Leave(ctx, host.UserID, callID))

	for _, s := range []*Session{b, c} {
		ended := eventsNamed(drain(t, s), EvCallEnded)
		require.Len(t, ended, 1, "host exit ends the call for everyone")
	}
	assert.Zero(t, env.calls.ActiveCalls())

	// The call id is now unknown; stragglers get a soft error.
	assert.ErrorIs(t, env.calls.Leave(ctx, b.UserID, callID), ErrUnknownCall)
}

func TestLastMemberLeaveTearsDownSilently(t *testing.T) {
	env := newTestEnv()
	env.store.addChat(privateChat(10, 1, 2))
	host := env.addSession(1)
	callee := env.addSession(2)

	callID := startCall(t, env, host, 10, "audio")
	ctx := context.Background()
	require.NoError(t, env.calls.Accept(ctx, callee, callID))
	drain(t, host)
	drain(t, callee)

	// Callee leaves first, then the host drains the member set.
	require.NoError(t, env.calls.Leave(ctx, callee.UserID, callID))
	require.NoError(t, env.calls.Leave(ctx, host.UserID, callID))

	assert.Zero(t, env.calls.ActiveCalls())
	assert.Empty(t, eventsNamed(drain(t, callee), EvCallEnded), "nobody left to notify")
}

func TestHostEndRequiresHost(t *testing.T) {
	env := newTestEnv()
	env.store.addChat(privateChat(10, 1, 2))
	host := env.addSession(1)
	callee := env.addSession(2)

	callID := startCall(t, env, host, 10, "audio")
	ctx := context.Background()
	require.NoError(t, env.calls.Accept(ctx, callee, callID))
	drain(t, host)
	drain(t, callee)

	assert.ErrorIs(t, env.calls.End(ctx, callee, callID), ErrNotHost)

	require.NoError(t, env.calls.End(ctx, host, callID))
	require.Len(t, eventsNamed(drain(t, callee), EvCallEnded), 1)
	assert.Zero(t, env.calls.ActiveCalls())
}

// Concurrent leaves and ends racing on one call must resolve to at most one
// call:ended per remaining device, never a duplicate and never a panic.
func TestCallTeardownRaceEndsExactlyOnce(t *testing.T) {
	env := newTestEnv()
	env.store.addChat(groupChat(20, false, nil, []int64{1, 2, 3, 4}))
	host := env.addSession(1)
	b := env.addSession(2)
	c := env.addSession(3)
	observer := env.addSession(4)

	callID := startCall(t, env, host, 20, "audio")
	ctx := context.Background()
	require.NoError(t, env.calls.Accept(ctx, b, callID))
	require.NoError(t, env.calls.Accept(ctx, c, callID))
	require.NoError(t, env.calls.Accept(ctx, observer, callID))
	drain(t, host)
	drain(t, b)
	drain(t, c)
	drain(t, observer)

	var wg sync.WaitGroup
	for _, userID := range []int64{1, 2, 3} {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			// Losers of the teardown race see ErrUnknownCall, a soft no-op.
			_ = env.calls.Leave(ctx, id, callID)
		}(userID)
	}
	wg.Wait()

	ended := eventsNamed(drain(t, observer), EvCallEnded)
	assert.Len(t, ended, 1, "call:ended must fire exactly once")
	assert.Zero(t, env.calls.ActiveCalls())
}

func TestCallSignalRelaysOpaquePayload(t *testing.T) {
	env := newTestEnv()
	env.store.addChat(privateChat(10, 1, 2))
	host := env.addSession(1)
	calleePhone := env.addSession(2)
	calleeLaptop := env.addSession(2)

	callID := startCall(t, env, host, 10, "video")
	ctx := context.Background()
	require.NoError(t, env.calls.Accept(ctx, calleePhone, callID))
	drain(t, host)
	drain(t, calleePhone)
	drain(t, calleeLaptop)

	blob := json.RawMessage(`{"sdp":"v=0...","kind":"offer"}`)
	require.NoError(t, env.calls.Signal(ctx, host, CallSignalPayload{
		CallID: callID, ToUserID: 2, Data: blob,
	}))

	// Every device of the target user receives the blob untouched.
	for _, s := range []*Session{calleePhone, calleeLaptop} {
		signals := eventsNamed(drain(t, s), EvCallSignal)
		require.Len(t, signals, 1)
		var ev CallSignalEvent
		decodeData(t, signals[0], &ev)
		assert.Equal(t, callID, ev.CallID)
		assert.Equal(t, int64(1), ev.FromUserID)
		assert.JSONEq(t, string(blob), string(ev.Data))
	}
}

func TestCallSignalRequiresMembership(t *testing.T) {
	env := newTestEnv()
	env.store.addChat(groupChat(20, false, nil, []int64{1, 2, 3}))
	host := env.addSession(1)
	stranger := env.addSession(3)

	callID := startCall(t, env, host, 20, "audio")

	err := env.calls.Signal(context.Background(), stranger, CallSignalPayload{
		CallID: callID, ToUserID: 1, Data: json.RawMessage(`{}`),
	})
	assert.ErrorIs(t, err, ErrNotCallMember)

	err = env.calls.Signal(context.Background(), host, CallSignalPayload{
		CallID: "nope", ToUserID: 2, Data: json.RawMessage(`{}`),
	})
	assert.ErrorIs(t, err, ErrUnknownCall)
}

func TestSweepUserAppliesLeaveSemantics(t *testing.T) {
	env := newTestEnv()
	env.store.addChat(privateChat(10, 1, 2))
	env.store.addChat(groupChat(20, false, nil, []int64{2, 3, 4}))
	alice := env.addSession(1)
	bob := env.addSession(2)
	carol := env.addSession(3)

	// Bob hosts one call and is a member of another.
	hostedID := startCall(t, env, bob, 10, "audio")
	otherID := startCall(t, env, carol, 20, "audio")
	ctx := context.Background()
	require.NoError(t, env.calls.Accept(ctx, alice, hostedID))
	require.NoError(t, env.calls.Accept(ctx, bob, otherID))
	drain(t, alice)
	drain(t, bob)
	drain(t, carol)

	env.calls.SweepUser(ctx, 2)

	// The call Bob hosted ended for Alice; the one he merely joined survives.
	require.Len(t, eventsNamed(drain(t, alice), EvCallEnded), 1)
	require.Len(t, eventsNamed(drain(t, carol), EvCallLeft), 1)
	assert.Equal(t, 1, env.calls.ActiveCalls())
}
