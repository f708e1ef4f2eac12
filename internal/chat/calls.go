package chat

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/muhammadhasnaindev/chat/internal/metrics"
)

const (
	callRinging = "ringing"
	callActive  = "active"
)

// CallSession is an ephemeral, in-memory grouping of users currently ringing
// or connected for a voice/video call. It is never persisted; it dies with
// the host, with its last member, or with an explicit end.
type CallSession struct {
	ID      string
	ChatID  int64
	Kind    string // "audio" or "video"
	HostID  int64
	members map[int64]struct{}
	state   string
	created time.Time
}

func (c *CallSession) memberIDs() []int64 {
	out := make([]int64, 0, len(c.members))
	for id := range c.members {
		out = append(out, id)
	}
	return out
}

// CallCoordinator owns the table of active call sessions. All mutation goes
// through its mutex, so near-simultaneous leave/end races resolve to exactly
// one teardown; the loser sees ErrUnknownCall, which callers treat as a soft
// no-op.
type CallCoordinator struct {
	mu    sync.Mutex
	calls map[string]*CallSession

	store Store
	bus   Broadcaster
	log   zerolog.Logger
}

func NewCallCoordinator(store Store, bus Broadcaster, log zerolog.Logger) *CallCoordinator {
	return &CallCoordinator{
		calls: make(map[string]*CallSession),
		store: store,
		bus:   bus,
		log:   log.With().Str("component", "calls").Logger(),
	}
}

// Start creates a ringing session hosted by the caller and rings every other
// participant on every device they have connected.
func (c *CallCoordinator) Start(ctx context.Context, sess *Session, chatID int64, kind string) error {
	chat, err := c.store.ChatByID(ctx, chatID)
	if err != nil {
		return err
	}
	if !chat.HasParticipant(sess.UserID) {
		return ErrNotParticipant
	}

	call := &CallSession{
		ID:      uuid.NewString(),
		ChatID:  chatID,
		Kind:    kind,
		HostID:  sess.UserID,
		members: map[int64]struct{}{sess.UserID: {}},
		state:   callRinging,
		created: time.Now(),
	}

	c.mu.Lock()
	c.calls[call.ID] = call
	c.mu.Unlock()

	metrics.CallsStarted.Inc()
	metrics.CallsActive.Inc()
	c.log.Info().Str("call", call.ID).Int64("chat", chatID).Str("kind", kind).
		Int64("host", sess.UserID).Msg("call started")

	if err := c.toSession(ctx, sess.ID, EvCallCreated, CallCreatedEvent{
		CallID: call.ID, ChatID: chatID, Kind: kind,
	}); err != nil {
		return err
	}

	var callees []int64
	for _, id := range chat.Participants {
		if id != sess.UserID {
			callees = append(callees, id)
		}
	}
	if len(callees) == 0 {
		return nil
	}
	return c.toUsers(ctx, callees, EvCallRing, CallRingEvent{
		CallID: call.ID, ChatID: chatID, Kind: kind, FromUserID: sess.UserID,
	})
}

// Accept joins the caller: they get the full current member list, everyone
// already in gets the new joiner (which triggers the offer/answer exchange
// at the media layer above). Only chat participants may join; a duplicate
// accept from a user already in the call is a silent no-op.
func (c *CallCoordinator) Accept(ctx context.Context, sess *Session, callID string) error {
	chat, err := c.chatOf(ctx, callID)
	if err != nil {
		return err
	}
	if !chat.HasParticipant(sess.UserID) {
		return ErrNotParticipant
	}

	c.mu.Lock()
	call, ok := c.calls[callID]
	if !ok {
		// Torn down while we were checking membership.
		c.mu.Unlock()
		return ErrUnknownCall
	}
	if _, already := call.members[sess.UserID]; already {
		c.mu.Unlock()
		return nil
	}
	others := call.memberIDs()
	call.members[sess.UserID] = struct{}{}
	call.state = callActive
	c.mu.Unlock()

	if err := c.toSession(ctx, sess.ID, EvCallParticipants, CallParticipantsEvent{
		CallID: callID, Members: others,
	}); err != nil {
		return err
	}
	return c.toUsers(ctx, others, EvCallJoined, CallMemberEvent{
		CallID: callID, UserID: sess.UserID,
	})
}

// Reject notifies the host only. A reject before accept never joined the
// member set, so the session state is untouched. Like Accept, it is open to
// chat participants only.
func (c *CallCoordinator) Reject(ctx context.Context, sess *Session, callID string) error {
	chat, err := c.chatOf(ctx, callID)
	if err != nil {
		return err
	}
	if !chat.HasParticipant(sess.UserID) {
		return ErrNotParticipant
	}

	c.mu.Lock()
	call, ok := c.calls[callID]
	if !ok {
		c.mu.Unlock()
		return ErrUnknownCall
	}
	hostID := call.HostID
	c.mu.Unlock()

	return c.toUsers(ctx, []int64{hostID}, EvCallRejected, CallMemberEvent{
		CallID: callID, UserID: sess.UserID,
	})
}

// chatOf resolves the chat a call belongs to.
func (c *CallCoordinator) chatOf(ctx context.Context, callID string) (*Chat, error) {
	c.mu.Lock()
	call, ok := c.calls[callID]
	if !ok {
		c.mu.Unlock()
		return nil, ErrUnknownCall
	}
	chatID := call.ChatID
	c.mu.Unlock()

	return c.store.ChatByID(ctx, chatID)
}

// Leave removes the user. The host leaving, or the member set draining,
// terminates the session for everyone; there is no host hand-off.
func (c *CallCoordinator) Leave(ctx context.Context, userID int64, callID string) error {
	c.mu.Lock()
	call, ok := c.calls[callID]
	if !ok {
		c.mu.Unlock()
		return ErrUnknownCall
	}
	if _, member := call.members[userID]; !member {
		c.mu.Unlock()
		return ErrNotCallMember
	}
	delete(call.members, userID)

	if userID == call.HostID || len(call.members) == 0 {
		remaining := call.memberIDs()
		delete(c.calls, callID)
		c.mu.Unlock()

		metrics.CallsActive.Dec()
		c.log.Info().Str("call", callID).Int64("user", userID).Msg("call ended")
		if len(remaining) == 0 {
			return nil
		}
		return c.toUsers(ctx, remaining, EvCallEnded, CallEndedEvent{CallID: callID})
	}

	remaining := call.memberIDs()
	c.mu.Unlock()

	return c.toUsers(ctx, remaining, EvCallLeft, CallMemberEvent{
		CallID: callID, UserID: userID,
	})
}

// End is the host's explicit termination.
func (c *CallCoordinator) End(ctx context.Context, sess *Session, callID string) error {
	c.mu.Lock()
	call, ok := c.calls[callID]
	if !ok {
		c.mu.Unlock()
		return ErrUnknownCall
	}
	if call.HostID != sess.UserID {
		c.mu.Unlock()
		return ErrNotHost
	}
	delete(call.members, sess.UserID)
	remaining := call.memberIDs()
	delete(c.calls, callID)
	c.mu.Unlock()

	metrics.CallsActive.Dec()
	c.log.Info().Str("call", callID).Int64("host", sess.UserID).Msg("call ended by host")
	if len(remaining) == 0 {
		return nil
	}
	return c.toUsers(ctx, remaining, EvCallEnded, CallEndedEvent{CallID: callID})
}

// Signal relays an opaque negotiation payload to every session of the target
// user. The payload is never parsed here.
func (c *CallCoordinator) Signal(ctx context.Context, sess *Session, p CallSignalPayload) error {
	c.mu.Lock()
	call, ok := c.calls[p.CallID]
	if !ok {
		c.mu.Unlock()
		return ErrUnknownCall
	}
	if _, member := call.members[sess.UserID]; !member {
		c.mu.Unlock()
		return ErrNotCallMember
	}
	c.mu.Unlock()

	return c.toUsers(ctx, []int64{p.ToUserID}, EvCallSignal, CallSignalEvent{
		CallID: p.CallID, FromUserID: sess.UserID, Data: p.Data,
	})
}

// SweepUser applies Leave semantics for every call the user is a member of.
// The lifecycle manager calls this when the user's last session drops.
func (c *CallCoordinator) SweepUser(ctx context.Context, userID int64) {
	c.mu.Lock()
	var stale []string
	for id, call := range c.calls {
		if _, member := call.members[userID]; member {
			stale = append(stale, id)
		}
	}
	c.mu.Unlock()

	for _, id := range stale {
		// A concurrent leave/end may have won the race; that is expected.
		if err := c.Leave(ctx, userID, id); err != nil {
			c.log.Debug().Err(err).Str("call", id).Int64("user", userID).
				Msg("disconnect sweep skipped call")
		}
	}
}

// ActiveCalls reports the number of tracked call sessions.
func (c *CallCoordinator) ActiveCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func (c *CallCoordinator) toSession(ctx context.Context, sessionID, event string, data interface{}) error {
	frame, err := EncodeEvent(event, data)
	if err != nil {
		return err
	}
	return c.bus.Publish(ctx, Envelope{SessionID: sessionID, Frame: frame})
}

func (c *CallCoordinator) toUsers(ctx context.Context, users []int64, event string, data interface{}) error {
	frame, err := EncodeEvent(event, data)
	if err != nil {
		return err
	}
	return c.bus.Publish(ctx, Envelope{Users: users, Frame: frame})
}
