package chat

import "time"

// ---------------------------------------------
// Database & API Models
// ---------------------------------------------

const (
	ChatTypePrivate = "private"
	ChatTypeGroup   = "group"
)

// Message lifecycle. Rank order matters: a status may only ever advance.
const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
)

const (
	TypeText  = "text"
	TypeImage = "image"
	TypeVideo = "video"
	TypeAudio = "audio"
	TypeFile  = "file"
)

type Chat struct {
	ID           int64     `json:"id"`
	Type         string    `json:"type"` // 'private' or 'group'
	Name         string    `json:"name,omitempty"`
	OnlyAdmins   bool      `json:"only_admins"`
	Participants []int64   `json:"participants"`
	Admins       []int64   `json:"admins,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func (c *Chat) IsGroup() bool {
	return c.Type == ChatTypeGroup
}

func (c *Chat) HasParticipant(userID int64) bool {
	return containsID(c.Participants, userID)
}

func (c *Chat) IsAdmin(userID int64) bool {
	return containsID(c.Admins, userID)
}

// DirectPeer returns the other participant of a private chat, or 0 if the
// chat is not a two-party private chat.
func (c *Chat) DirectPeer(userID int64) int64 {
	if c.IsGroup() || len(c.Participants) != 2 {
		return 0
	}
	for _, id := range c.Participants {
		if id != userID {
			return id
		}
	}
	return 0
}

type Reaction struct {
	UserID int64  `json:"user_id"`
	Emoji  string `json:"emoji"`
}

// ReplyPreview carries the resolved display fields of a replied-to message.
// It is hydrated on every read, never stored as a durable copy.
type ReplyPreview struct {
	ID         int64  `json:"id"`
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	MediaName  string `json:"media_name,omitempty"`
	SenderName string `json:"sender_name"`
}

type Message struct {
	ID         int64  `json:"id"`
	ChatID     int64  `json:"chat_id"`
	SenderID   int64  `json:"sender_id"`
	SenderName string `json:"sender_name"` // Denormalized for UI speed (fetched via JOIN)

	// ClientID is the client-generated correlation id. It is persisted, but
	// only the copy sent back to the originating session carries it on the
	// wire, so the optimistic placeholder is reconciled exactly once.
	ClientID string `json:"client_id,omitempty"`

	Type          string  `json:"type"`
	Content       string  `json:"text,omitempty"`
	MediaURL      string  `json:"media_url,omitempty"`
	MediaName     string  `json:"media_name,omitempty"`
	MediaSize     int64   `json:"media_size,omitempty"`
	MediaDuration float64 `json:"media_duration,omitempty"`

	ReplyToID int64         `json:"reply_to_id,omitempty"`
	ReplyTo   *ReplyPreview `json:"reply_to,omitempty"`

	Status      string  `json:"status"`
	DeliveredTo []int64 `json:"delivered_to"`
	ReadBy      []int64 `json:"read_by"`

	DeletedFor []int64    `json:"-"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty"`
	EditedAt   *time.Time `json:"edited_at,omitempty"`

	Reactions []Reaction `json:"reactions"`
	StarredBy []int64    `json:"starred_by"`
	Pinned    bool       `json:"pinned"`

	CreatedAt time.Time `json:"created_at"`
}

func (m *Message) IsDeleted() bool {
	return m.DeletedAt != nil
}

func (m *Message) DeletedForUser(userID int64) bool {
	return containsID(m.DeletedFor, userID)
}

// AdvanceStatus moves the display status forward, never backward.
// Returns true when the status actually changed (a stale lower-or-equal
// status is a no-op).
func (m *Message) AdvanceStatus(status string) bool {
	if statusRank(status) <= statusRank(m.Status) {
		return false
	}
	m.Status = status
	return true
}

func statusRank(s string) int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return 0
}

// ---------------------------------------------
// Small id-set helpers (kept as slices so they
// map 1:1 onto Postgres bigint arrays)
// ---------------------------------------------

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// appendUnique returns true if id was actually added.
func appendUnique(ids *[]int64, id int64) bool {
	if containsID(*ids, id) {
		return false
	}
	*ids = append(*ids, id)
	return true
}

// removeID returns true if id was actually removed.
func removeID(ids *[]int64, id int64) bool {
	for i, v := range *ids {
		if v == id {
			*ids = append((*ids)[:i], (*ids)[i+1:]...)
			return true
		}
	}
	return false
}
