package chat

import (
	"github.com/goccy/go-json"
)

// Inbound event names (client -> server).
const (
	EvChatJoin         = "chat:join"
	EvChatLeave        = "chat:leave"
	EvTyping           = "typing"
	EvMessageSend      = "message:send"
	EvMessageDelivered = "message:delivered"
	EvMessageRead      = "message:read"
	EvMessageEdit      = "message:edit"
	EvMessageDelete    = "message:delete"
	EvMessageReact     = "message:react"
	EvMessageStar      = "message:star"
	EvMessagePin       = "message:pin"
	EvMessageForward   = "message:forward"
	EvCallStart        = "call:start"
	EvCallAccept       = "call:accept"
	EvCallReject       = "call:reject"
	EvCallLeave        = "call:leave"
	EvCallEnd          = "call:end"
	EvCallSignal       = "call:signal"
)

// Outbound event names (server -> client).
const (
	EvPresenceUpdate   = "presence:update"
	EvMessageNew       = "message:new"
	EvMessageUpdate    = "message:update"
	EvCallCreated      = "call:created"
	EvCallRing         = "call:ring"
	EvCallParticipants = "call:participants"
	EvCallJoined       = "call:joined"
	EvCallLeft         = "call:left"
	EvCallEnded        = "call:ended"
	EvCallRejected     = "call:rejected"
	EvError            = "error"
)

// wireEvent is the envelope every websocket frame uses, both directions:
// {"event": "...", "data": {...}}
type wireEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// EncodeEvent builds a ready-to-send frame for one outbound event.
func EncodeEvent(name string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireEvent{Event: name, Data: raw})
}

// ---------------------------------------------
// Inbound payloads
// ---------------------------------------------

type JoinPayload struct {
	ChatID int64 `json:"chat_id" validate:"required,gt=0"`
}

type TypingPayload struct {
	ChatID int64 `json:"chat_id" validate:"required,gt=0"`
	Typing bool  `json:"typing"`
}

type SendPayload struct {
	ChatID        int64   `json:"chat_id" validate:"required,gt=0"`
	Type          string  `json:"type" validate:"required,oneof=text image video audio file"`
	Text          string  `json:"text" validate:"max=65536"`
	MediaURL      string  `json:"media_url" validate:"max=2048"`
	MediaName     string  `json:"media_name" validate:"max=255"`
	MediaSize     int64   `json:"media_size" validate:"gte=0"`
	MediaDuration float64 `json:"media_duration" validate:"gte=0"`
	ClientID      string  `json:"client_id" validate:"required,max=64"`
	ReplyToID     int64   `json:"reply_to_id" validate:"gte=0"`
}

type MessageIDPayload struct {
	MessageID int64 `json:"message_id" validate:"required,gt=0"`
}

type EditPayload struct {
	MessageID int64  `json:"message_id" validate:"required,gt=0"`
	Text      string `json:"text" validate:"required,max=65536"`
}

type DeletePayload struct {
	MessageID   int64 `json:"message_id" validate:"required,gt=0"`
	ForEveryone bool  `json:"for_everyone"`
}

type ReactPayload struct {
	MessageID int64  `json:"message_id" validate:"required,gt=0"`
	Emoji     string `json:"emoji" validate:"required,max=16"`
}

type StarPayload struct {
	MessageID int64 `json:"message_id" validate:"required,gt=0"`
	Star      bool  `json:"star"`
}

type PinPayload struct {
	MessageID int64 `json:"message_id" validate:"required,gt=0"`
	Pin       bool  `json:"pin"`
}

type ForwardPayload struct {
	MessageID int64 `json:"message_id" validate:"required,gt=0"`
	ToChatID  int64 `json:"to_chat_id" validate:"required,gt=0"`
}

type CallStartPayload struct {
	ChatID int64  `json:"chat_id" validate:"required,gt=0"`
	Kind   string `json:"kind" validate:"required,oneof=audio video"`
}

type CallIDPayload struct {
	CallID string `json:"call_id" validate:"required,max=64"`
}

// CallSignalPayload relays an opaque negotiation blob. The coordinator never
// parses Data; its shape is owned by the media layer above this core.
type CallSignalPayload struct {
	CallID   string          `json:"call_id" validate:"required,max=64"`
	ToUserID int64           `json:"to_user_id" validate:"required,gt=0"`
	Data     json.RawMessage `json:"data" validate:"required"`
}

// ---------------------------------------------
// Outbound payloads
// ---------------------------------------------

type PresencePayload struct {
	UserID int64 `json:"user_id"`
	Online bool  `json:"online"`
}

type TypingEvent struct {
	ChatID int64 `json:"chat_id"`
	UserID int64 `json:"user_id"`
	Typing bool  `json:"typing"`
}

type CallCreatedEvent struct {
	CallID string `json:"call_id"`
	ChatID int64  `json:"chat_id"`
	Kind   string `json:"kind"`
}

type CallRingEvent struct {
	CallID     string `json:"call_id"`
	ChatID     int64  `json:"chat_id"`
	Kind       string `json:"kind"`
	FromUserID int64  `json:"from_user_id"`
}

type CallParticipantsEvent struct {
	CallID  string  `json:"call_id"`
	Members []int64 `json:"members"`
}

type CallMemberEvent struct {
	CallID string `json:"call_id"`
	UserID int64  `json:"user_id"`
}

type CallEndedEvent struct {
	CallID string `json:"call_id"`
}

type CallSignalEvent struct {
	CallID     string          `json:"call_id"`
	FromUserID int64           `json:"from_user_id"`
	Data       json.RawMessage `json:"data"`
}

type ErrorPayload struct {
	Where   string `json:"where"`
	Message string `json:"message"`
}
