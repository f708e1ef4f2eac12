package chat

import (
	"context"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/muhammadhasnaindev/chat/internal/metrics"
	myMiddleware "github.com/muhammadhasnaindev/chat/internal/middleware"
)

// opTimeout bounds the store work triggered by a single inbound event.
const opTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Origin is enforced by the CORS middleware in front.
	},
}

// Gateway is the connection lifecycle manager: it authenticates upgrades,
// registers sessions with the hub and presence registry, dispatches inbound
// events to the pipeline and call coordinator, and cleans everything up on
// disconnect.
type Gateway struct {
	hub      *Hub
	presence *Presence
	pipeline *Pipeline
	calls    *CallCoordinator
	bus      Broadcaster
	store    Store
	validate *validator.Validate
	log      zerolog.Logger
}

func NewGateway(hub *Hub, presence *Presence, pipeline *Pipeline, calls *CallCoordinator, bus Broadcaster, store Store, log zerolog.Logger) *Gateway {
	return &Gateway{
		hub:      hub,
		presence: presence,
		pipeline: pipeline,
		calls:    calls,
		bus:      bus,
		store:    store,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      log.With().Str("component", "gateway").Logger(),
	}
}

// ServeWs upgrades an authenticated request to a websocket session. The JWT
// middleware in front of this handler guarantees the identity values are
// present; connections without them never get an event handler attached.
func (g *Gateway) ServeWs(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(myMiddleware.UserKey).(int64)
	username, ok2 := r.Context().Value(myMiddleware.UsernameKey).(string)
	if !ok || !ok2 {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	sess := &Session{
		ID:       uuid.NewString(),
		UserID:   userID,
		Username: username,
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		gw:       g,
	}
	g.connect(sess)

	go sess.writePump()
	go sess.readPump()
}

func (g *Gateway) connect(sess *Session) {
	g.hub.AddSession(sess)
	first := g.presence.Register(sess.UserID, sess)
	metrics.ConnectionsActive.Inc()

	if first {
		g.broadcastPresence(sess.UserID, true)
	}
	g.log.Info().Int64("user", sess.UserID).Str("session", sess.ID).
		Bool("first_session", first).Msg("connected")
}

func (g *Gateway) disconnect(sess *Session) {
	g.hub.RemoveSession(sess)
	last := g.presence.Unregister(sess.UserID, sess.ID)
	metrics.ConnectionsActive.Dec()

	if last {
		g.broadcastPresence(sess.UserID, false)

		// The user has no device left; drop them from any call they were in,
		// with the same semantics as an explicit call:leave.
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		g.calls.SweepUser(ctx, sess.UserID)
		cancel()
	}
	g.log.Info().Int64("user", sess.UserID).Str("session", sess.ID).
		Bool("last_session", last).Msg("disconnected")
}

func (g *Gateway) broadcastPresence(userID int64, online bool) {
	frame, err := EncodeEvent(EvPresenceUpdate, PresencePayload{UserID: userID, Online: online})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := g.bus.Publish(ctx, Envelope{All: true, Frame: frame}); err != nil {
		g.log.Error().Err(err).Int64("user", userID).Msg("presence broadcast failed")
	}
}

// dispatch routes one inbound frame. Every failure path ends in a scoped
// error event on the originating session; nothing a client sends may take
// down the connection handler, let alone the process.
func (g *Gateway) dispatch(sess *Session, raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			g.log.Error().Interface("panic", r).Str("session", sess.ID).
				Msg("recovered from event handler panic")
			g.sendError(sess, "internal", ErrBadPayload)
		}
	}()

	var ev wireEvent
	if err := json.Unmarshal(raw, &ev); err != nil || ev.Event == "" {
		g.sendError(sess, "protocol", ErrBadPayload)
		return
	}
	metrics.EventsTotal.WithLabelValues(ev.Event).Inc()

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := g.handleEvent(ctx, sess, ev); err != nil {
		g.sendError(sess, ev.Event, err)
	}
}

func (g *Gateway) handleEvent(ctx context.Context, sess *Session, ev wireEvent) error {
	switch ev.Event {
	case EvChatJoin:
		var p JoinPayload
		if err := g.decode(ev.Data, &p); err != nil {
			return err
		}
		return g.joinRoom(ctx, sess, p.ChatID)

	case EvChatLeave:
		var p JoinPayload
		if err := g.decode(ev.Data, &p); err != nil {
			return err
		}
		g.hub.Leave(p.ChatID, sess)
		return nil

	case EvTyping:
		var p TypingPayload
		if err := g.decode(ev.Data, &p); err != nil {
			return err
		}
		return g.relayTyping(ctx, sess, p)

	case EvMessageSend:
		var p SendPayload
		if err := g.decode(ev.Data, &p); err != nil {
			return err
		}
		return g.pipeline.Send(ctx, sess, p)

	case EvMessageDelivered:
		var p MessageIDPayload
		if err := g.decode(ev.Data, &p); err != nil {
			return err
		}
		return g.pipeline.MarkDelivered(ctx, sess, p.MessageID)

	case EvMessageRead:
		var p MessageIDPayload
		if err := g.decode(ev.Data, &p); err != nil {
			return err
		}
		return g.pipeline.MarkRead(ctx, sess, p.MessageID)

	case EvMessageEdit:
		var p EditPayload
		if err := g.decode(ev.Data, &p); err != nil {
			return err
		}
		return g.pipeline.Edit(ctx, sess, p.MessageID, p.Text)

	case EvMessageDelete:
		var p DeletePayload
		if err := g.decode(ev.Data, &p); err != nil {
			return err
		}
		return g.pipeline.Delete(ctx, sess, p.MessageID, p.ForEveryone)

	case EvMessageReact:
		var p ReactPayload
		if err := g.decode(ev.Data, &p); err != nil {
			return err
		}
		return g.pipeline.React(ctx, sess, p.MessageID, p.Emoji)

	case EvMessageStar:
		var p StarPayload
		if err := g.decode(ev.Data, &p); err != nil {
			return err
		}
		return g.pipeline.Star(ctx, sess, p.MessageID, p.Star)

	case EvMessagePin:
		var p PinPayload
		if err := g.decode(ev.Data, &p); err != nil {
			return err
		}
		return g.pipeline.Pin(ctx, sess, p.MessageID, p.Pin)

	case EvMessageForward:
		var p ForwardPayload
		if err := g.decode(ev.Data, &p); err != nil {
			return err
		}
		return g.pipeline.Forward(ctx, sess, p)

	case EvCallStart:
		var p CallStartPayload
		if err := g.decode(ev.Data, &p); err != nil {
			return err
		}
		return g.calls.Start(ctx, sess, p.ChatID, p.Kind)

	case EvCallAccept:
		var p CallIDPayload
		if err := g.decode(ev.Data, &p); err != nil {
			return err
		}
		return g.calls.Accept(ctx, sess, p.CallID)

	case EvCallReject:
		var p CallIDPayload
		if err := g.decode(ev.Data, &p); err != nil {
			return err
		}
		return g.calls.Reject(ctx, sess, p.CallID)

	case EvCallLeave:
		var p CallIDPayload
		if err := g.decode(ev.Data, &p); err != nil {
			return err
		}
		return g.calls.Leave(ctx, sess.UserID, p.CallID)

	case EvCallEnd:
		var p CallIDPayload
		if err := g.decode(ev.Data, &p); err != nil {
			return err
		}
		return g.calls.End(ctx, sess, p.CallID)

	case EvCallSignal:
		var p CallSignalPayload
		if err := g.decode(ev.Data, &p); err != nil {
			return err
		}
		return g.calls.Signal(ctx, sess, p)

	default:
		return ErrBadPayload
	}
}

// joinRoom subscribes the session to a chat room after verifying membership,
// so room broadcasts never leak to non-participants.
func (g *Gateway) joinRoom(ctx context.Context, sess *Session, chatID int64) error {
	chat, err := g.store.ChatByID(ctx, chatID)
	if err != nil {
		return err
	}
	if !chat.HasParticipant(sess.UserID) {
		return ErrNotParticipant
	}
	g.hub.Join(chatID, sess)
	return nil
}

// relayTyping is a stateless pass-through: no persistence, no ordering
// guarantee, scoped to the sessions currently in the room.
func (g *Gateway) relayTyping(ctx context.Context, sess *Session, p TypingPayload) error {
	frame, err := EncodeEvent(EvTyping, TypingEvent{
		ChatID: p.ChatID,
		UserID: sess.UserID,
		Typing: p.Typing,
	})
	if err != nil {
		return err
	}
	return g.bus.Publish(ctx, Envelope{
		Rooms:          []int64{p.ChatID},
		ExcludeSession: sess.ID,
		Frame:          frame,
	})
}

func (g *Gateway) decode(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return ErrBadPayload
	}
	if err := json.Unmarshal(data, v); err != nil {
		return ErrBadPayload
	}
	if err := g.validate.Struct(v); err != nil {
		return ErrBadPayload
	}
	return nil
}

// sendError reports a failure to the originating session only. It goes
// straight to the session, never through the bus, so a scoped error can
// never reach another connection.
func (g *Gateway) sendError(sess *Session, where string, err error) {
	metrics.EventErrors.WithLabelValues(where).Inc()
	msg := publicMessage(err)
	if msg == "internal error" {
		g.log.Error().Err(err).Str("where", where).Int64("user", sess.UserID).
			Msg("event handler failed")
	}
	frame, encErr := EncodeEvent(EvError, ErrorPayload{Where: where, Message: msg})
	if encErr != nil {
		return
	}
	sess.trySend(frame)
}
