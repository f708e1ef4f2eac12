package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/muhammadhasnaindev/chat/internal/metrics"
)

// Store is the persistence collaborator the messaging core consumes. It owns
// chat membership, permission facts and message rows; the core never defines
// their storage format.
type Store interface {
	ChatByID(ctx context.Context, id int64) (*Chat, error)
	// IsBlocked reports whether userID has blocked otherID.
	IsBlocked(ctx context.Context, userID, otherID int64) (bool, error)
	CreateMessage(ctx context.Context, m *Message) error
	MessageByID(ctx context.Context, id int64) (*Message, error)
	UpdateMessage(ctx context.Context, m *Message) error
}

// Pipeline validates, persists and fans out messages, and re-broadcasts them
// after every state change. The broadcast always happens after the durable
// write succeeds, never speculatively, so all observers agree on order.
type Pipeline struct {
	store Store
	bus   Broadcaster
	log   zerolog.Logger
}

func NewPipeline(store Store, bus Broadcaster, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		store: store,
		bus:   bus,
		log:   log.With().Str("component", "pipeline").Logger(),
	}
}

// Send runs the full delivery pipeline for one message:
// validate -> persist -> hydrate -> fan out. The originating session gets
// the only copy carrying the client correlation id.
func (p *Pipeline) Send(ctx context.Context, sess *Session, in SendPayload) error {
	chat, err := p.store.ChatByID(ctx, in.ChatID)
	if err != nil {
		return err
	}
	if err := p.validateSender(ctx, chat, sess.UserID); err != nil {
		return err
	}

	if in.Type == TypeText && strings.TrimSpace(in.Text) == "" {
		return ErrEmptyMessage
	}
	if in.Type != TypeText && in.MediaURL == "" {
		return ErrEmptyMessage
	}

	if in.ReplyToID != 0 {
		reply, err := p.store.MessageByID(ctx, in.ReplyToID)
		if err != nil {
			return err
		}
		if reply.ChatID != chat.ID {
			return ErrMessageNotFound
		}
	}

	m := &Message{
		ChatID:        chat.ID,
		SenderID:      sess.UserID,
		ClientID:      in.ClientID,
		Type:          in.Type,
		Content:       in.Text,
		MediaURL:      in.MediaURL,
		MediaName:     in.MediaName,
		MediaSize:     in.MediaSize,
		MediaDuration: in.MediaDuration,
		ReplyToID:     in.ReplyToID,
		Status:        StatusSent,
	}
	if err := p.store.CreateMessage(ctx, m); err != nil {
		return fmt.Errorf("persist message: %w", err)
	}

	hydrated, err := p.store.MessageByID(ctx, m.ID)
	if err != nil {
		return fmt.Errorf("hydrate message: %w", err)
	}

	if err := p.deliverNew(ctx, chat, hydrated, sess.ID, in.ClientID); err != nil {
		return err
	}
	metrics.MessagesSent.WithLabelValues(chat.Type).Inc()
	return nil
}

// validateSender is the fail-fast check sequence shared by send and forward:
// membership, then the group admin gate, then DM block rules both ways.
func (p *Pipeline) validateSender(ctx context.Context, chat *Chat, userID int64) error {
	if !chat.HasParticipant(userID) {
		return ErrNotParticipant
	}
	if chat.IsGroup() {
		if chat.OnlyAdmins && !chat.IsAdmin(userID) {
			return ErrAdminsOnly
		}
		return nil
	}
	peer := chat.DirectPeer(userID)
	if peer == 0 {
		return nil
	}
	if blocked, err := p.store.IsBlocked(ctx, userID, peer); err != nil {
		return err
	} else if blocked {
		return ErrBlockedPeer
	}
	if blocked, err := p.store.IsBlocked(ctx, peer, userID); err != nil {
		return err
	} else if blocked {
		return ErrBlockedByPeer
	}
	return nil
}

// deliverNew broadcasts a freshly persisted message to every session in the
// chat room, every session of every participant (for list previews on devices
// not viewing the chat) and, when originSession is set, sends that session
// its own copy carrying the correlation id. The hub de-duplicates the target
// union so each session sees the message exactly once.
func (p *Pipeline) deliverNew(ctx context.Context, chat *Chat, m *Message, originSession, clientID string) error {
	public := *m
	public.ClientID = ""
	frame, err := EncodeEvent(EvMessageNew, &public)
	if err != nil {
		return err
	}
	if err := p.bus.Publish(ctx, Envelope{
		Rooms:          []int64{chat.ID},
		Users:          chat.Participants,
		ExcludeSession: originSession,
		Frame:          frame,
	}); err != nil {
		return err
	}

	if originSession == "" {
		return nil
	}
	own := *m
	own.ClientID = clientID
	ownFrame, err := EncodeEvent(EvMessageNew, &own)
	if err != nil {
		return err
	}
	return p.bus.Publish(ctx, Envelope{SessionID: originSession, Frame: ownFrame})
}

// mutate is the shared flow of every message mutation: load, authorize,
// apply idempotently, persist, re-hydrate, re-broadcast. When apply reports
// no change, nothing is written or broadcast.
func (p *Pipeline) mutate(ctx context.Context, sess *Session, messageID int64, op string,
	apply func(m *Message, chat *Chat) (bool, error)) error {

	m, err := p.store.MessageByID(ctx, messageID)
	if err != nil {
		return err
	}
	chat, err := p.store.ChatByID(ctx, m.ChatID)
	if err != nil {
		return err
	}
	if !chat.HasParticipant(sess.UserID) {
		return ErrNotParticipant
	}

	changed, err := apply(m, chat)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	if err := p.store.UpdateMessage(ctx, m); err != nil {
		return fmt.Errorf("persist %s: %w", op, err)
	}
	hydrated, err := p.store.MessageByID(ctx, m.ID)
	if err != nil {
		return fmt.Errorf("hydrate %s: %w", op, err)
	}

	public := *hydrated
	public.ClientID = ""
	frame, err := EncodeEvent(EvMessageUpdate, &public)
	if err != nil {
		return err
	}
	if err := p.bus.Publish(ctx, Envelope{
		Rooms: []int64{chat.ID},
		Users: chat.Participants,
		Frame: frame,
	}); err != nil {
		return err
	}
	metrics.MessageUpdates.WithLabelValues(op).Inc()
	return nil
}

func (p *Pipeline) MarkDelivered(ctx context.Context, sess *Session, messageID int64) error {
	return p.mutate(ctx, sess, messageID, "delivered", func(m *Message, _ *Chat) (bool, error) {
		if sess.UserID == m.SenderID {
			return false, nil
		}
		changed := appendUnique(&m.DeliveredTo, sess.UserID)
		if m.AdvanceStatus(StatusDelivered) {
			changed = true
		}
		return changed, nil
	})
}

func (p *Pipeline) MarkRead(ctx context.Context, sess *Session, messageID int64) error {
	return p.mutate(ctx, sess, messageID, "read", func(m *Message, _ *Chat) (bool, error) {
		if sess.UserID == m.SenderID {
			return false, nil
		}
		changed := appendUnique(&m.DeliveredTo, sess.UserID)
		if appendUnique(&m.ReadBy, sess.UserID) {
			changed = true
		}
		if m.AdvanceStatus(StatusRead) {
			changed = true
		}
		return changed, nil
	})
}

func (p *Pipeline) Edit(ctx context.Context, sess *Session, messageID int64, text string) error {
	return p.mutate(ctx, sess, messageID, "edit", func(m *Message, _ *Chat) (bool, error) {
		if m.SenderID != sess.UserID {
			return false, ErrNotSender
		}
		if m.Type != TypeText {
			return false, ErrNotEditable
		}
		if m.IsDeleted() {
			return false, ErrMessageDeleted
		}
		if strings.TrimSpace(text) == "" {
			return false, ErrEmptyMessage
		}
		if m.Content == text {
			return false, nil
		}
		now := time.Now().UTC()
		m.Content = text
		m.EditedAt = &now
		return true, nil
	})
}

// Delete removes a message either just for the acting user (soft) or for
// everyone. Delete-for-all is a tombstone: content and media are cleared in
// place so ordering and reply references stay stable.
func (p *Pipeline) Delete(ctx context.Context, sess *Session, messageID int64, forEveryone bool) error {
	return p.mutate(ctx, sess, messageID, "delete", func(m *Message, chat *Chat) (bool, error) {
		if !forEveryone {
			return appendUnique(&m.DeletedFor, sess.UserID), nil
		}
		if m.SenderID != sess.UserID && !(chat.IsGroup() && chat.IsAdmin(sess.UserID)) {
			return false, ErrNotAllowed
		}
		if m.IsDeleted() {
			return false, nil
		}
		now := time.Now().UTC()
		m.Content = ""
		m.MediaURL = ""
		m.MediaName = ""
		m.MediaSize = 0
		m.MediaDuration = 0
		m.DeletedAt = &now
		return true, nil
	})
}

// React toggles a reaction: the same user reacting with the same emoji twice
// returns the reaction set to its original state.
func (p *Pipeline) React(ctx context.Context, sess *Session, messageID int64, emoji string) error {
	return p.mutate(ctx, sess, messageID, "react", func(m *Message, _ *Chat) (bool, error) {
		if m.IsDeleted() {
			return false, ErrMessageDeleted
		}
		for i, r := range m.Reactions {
			if r.UserID == sess.UserID && r.Emoji == emoji {
				m.Reactions = append(m.Reactions[:i], m.Reactions[i+1:]...)
				return true, nil
			}
		}
		m.Reactions = append(m.Reactions, Reaction{UserID: sess.UserID, Emoji: emoji})
		return true, nil
	})
}

func (p *Pipeline) Star(ctx context.Context, sess *Session, messageID int64, star bool) error {
	return p.mutate(ctx, sess, messageID, "star", func(m *Message, _ *Chat) (bool, error) {
		if star {
			return appendUnique(&m.StarredBy, sess.UserID), nil
		}
		return removeID(&m.StarredBy, sess.UserID), nil
	})
}

// Pin requires admin rights in groups; in a DM either participant may pin.
func (p *Pipeline) Pin(ctx context.Context, sess *Session, messageID int64, pin bool) error {
	return p.mutate(ctx, sess, messageID, "pin", func(m *Message, chat *Chat) (bool, error) {
		if chat.IsGroup() && !chat.IsAdmin(sess.UserID) {
			return false, ErrNotAllowed
		}
		if m.Pinned == pin {
			return false, nil
		}
		m.Pinned = pin
		return true, nil
	})
}

// Forward creates a new message in the target chat copying the source's
// content but not its identity, then runs the normal delivery fan-out there.
func (p *Pipeline) Forward(ctx context.Context, sess *Session, in ForwardPayload) error {
	src, err := p.store.MessageByID(ctx, in.MessageID)
	if err != nil {
		return err
	}
	srcChat, err := p.store.ChatByID(ctx, src.ChatID)
	if err != nil {
		return err
	}
	if !srcChat.HasParticipant(sess.UserID) {
		return ErrNotParticipant
	}
	if src.IsDeleted() {
		return ErrMessageDeleted
	}

	dest, err := p.store.ChatByID(ctx, in.ToChatID)
	if err != nil {
		return err
	}
	if err := p.validateSender(ctx, dest, sess.UserID); err != nil {
		return err
	}

	m := &Message{
		ChatID:        dest.ID,
		SenderID:      sess.UserID,
		Type:          src.Type,
		Content:       src.Content,
		MediaURL:      src.MediaURL,
		MediaName:     src.MediaName,
		MediaSize:     src.MediaSize,
		MediaDuration: src.MediaDuration,
		Status:        StatusSent,
	}
	if err := p.store.CreateMessage(ctx, m); err != nil {
		return fmt.Errorf("persist forward: %w", err)
	}
	hydrated, err := p.store.MessageByID(ctx, m.ID)
	if err != nil {
		return fmt.Errorf("hydrate forward: %w", err)
	}

	if err := p.deliverNew(ctx, dest, hydrated, "", ""); err != nil {
		return err
	}
	metrics.MessagesSent.WithLabelValues(dest.Type).Inc()
	return nil
}
