package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements Store on PostgreSQL. Reply hydration is a read-side
// join: the replied-to message's display fields are resolved on every fetch,
// never copied durably.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) ChatByID(ctx context.Context, id int64) (*Chat, error) {
	c := &Chat{}
	query := `
		SELECT c.id, c.type, c.name, c.only_admins, c.created_at,
		       COALESCE(array_agg(p.user_id) FILTER (WHERE p.user_id IS NOT NULL), '{}'),
		       COALESCE(array_agg(p.user_id) FILTER (WHERE p.is_admin), '{}')
		FROM chats c
		LEFT JOIN participants p ON p.chat_id = c.id
		WHERE c.id = $1
		GROUP BY c.id
	`
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&c.ID, &c.Type, &c.Name, &c.OnlyAdmins, &c.CreatedAt,
		&c.Participants, &c.Admins,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrChatNotFound
		}
		return nil, err
	}
	return c, nil
}

func (r *Repository) IsBlocked(ctx context.Context, userID, otherID int64) (bool, error) {
	var blocked bool
	query := `SELECT EXISTS (SELECT 1 FROM blocks WHERE user_id = $1 AND blocked_id = $2)`
	if err := r.pool.QueryRow(ctx, query, userID, otherID).Scan(&blocked); err != nil {
		return false, err
	}
	return blocked, nil
}

func (r *Repository) CreateMessage(ctx context.Context, m *Message) error {
	query := `
		INSERT INTO messages (chat_id, sender_id, client_id, type, content,
		                      media_url, media_name, media_size, media_duration,
		                      reply_to_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10::bigint, 0), $11)
		RETURNING id, created_at
	`
	return r.pool.QueryRow(ctx, query,
		m.ChatID, m.SenderID, m.ClientID, m.Type, m.Content,
		m.MediaURL, m.MediaName, m.MediaSize, m.MediaDuration,
		m.ReplyToID, m.Status,
	).Scan(&m.ID, &m.CreatedAt)
}

// messageSelect is the shared hydrating projection: the message row joined
// with its sender's name and the replied-to message's display fields.
const messageSelect = `
	SELECT m.id, m.chat_id, m.sender_id, u.username, m.client_id, m.type,
	       m.content, m.media_url, m.media_name, m.media_size, m.media_duration,
	       COALESCE(m.reply_to_id, 0), m.status, m.delivered_to, m.read_by,
	       m.deleted_for, m.deleted_at, m.edited_at, m.reactions, m.starred_by,
	       m.pinned, m.created_at,
	       rm.id, rm.type, rm.content, rm.media_name, ru.username
	FROM messages m
	JOIN users u ON u.id = m.sender_id
	LEFT JOIN messages rm ON rm.id = m.reply_to_id
	LEFT JOIN users ru ON ru.id = rm.sender_id
`

func scanMessage(row pgx.Row) (*Message, error) {
	m := &Message{}
	var (
		replyID     *int64
		replyType   *string
		replyText   *string
		replyMedia  *string
		replySender *string
	)
	err := row.Scan(
		&m.ID, &m.ChatID, &m.SenderID, &m.SenderName, &m.ClientID, &m.Type,
		&m.Content, &m.MediaURL, &m.MediaName, &m.MediaSize, &m.MediaDuration,
		&m.ReplyToID, &m.Status, &m.DeliveredTo, &m.ReadBy,
		&m.DeletedFor, &m.DeletedAt, &m.EditedAt, &m.Reactions, &m.StarredBy,
		&m.Pinned, &m.CreatedAt,
		&replyID, &replyType, &replyText, &replyMedia, &replySender,
	)
	if err != nil {
		return nil, err
	}
	if replyID != nil {
		m.ReplyTo = &ReplyPreview{
			ID:   *replyID,
			Type: derefStr(replyType),
			Text: derefStr(replyText),
		}
		m.ReplyTo.MediaName = derefStr(replyMedia)
		m.ReplyTo.SenderName = derefStr(replySender)
	}
	return m, nil
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (r *Repository) MessageByID(ctx context.Context, id int64) (*Message, error) {
	m, err := scanMessage(r.pool.QueryRow(ctx, messageSelect+` WHERE m.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	return m, nil
}

func (r *Repository) UpdateMessage(ctx context.Context, m *Message) error {
	query := `
		UPDATE messages
		SET content = $2, media_url = $3, media_name = $4, media_size = $5,
		    media_duration = $6, status = $7, delivered_to = $8, read_by = $9,
		    deleted_for = $10, deleted_at = $11, edited_at = $12,
		    reactions = $13, starred_by = $14, pinned = $15
		WHERE id = $1
	`
	reactions := m.Reactions
	if reactions == nil {
		reactions = []Reaction{}
	}
	tag, err := r.pool.Exec(ctx, query,
		m.ID, m.Content, m.MediaURL, m.MediaName, m.MediaSize,
		m.MediaDuration, m.Status, ids(m.DeliveredTo), ids(m.ReadBy),
		ids(m.DeletedFor), m.DeletedAt, m.EditedAt,
		reactions, ids(m.StarredBy), m.Pinned,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// ids maps a nil slice onto an empty one so pgx encodes '{}', not NULL.
func ids(v []int64) []int64 {
	if v == nil {
		return []int64{}
	}
	return v
}

// History returns the chat's most recent messages in chronological order,
// skipping messages the user deleted for themselves. Tombstoned messages are
// included so ordering and reply references stay intact.
func (r *Repository) History(ctx context.Context, chatID, userID int64, limit int) ([]*Message, error) {
	query := messageSelect + `
		WHERE m.chat_id = $1 AND NOT $2 = ANY(m.deleted_for)
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT $3
	`
	rows, err := r.pool.Query(ctx, query, chatID, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		m.ClientID = "" // correlation ids only live for one optimistic send
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Oldest first.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// FindOrCreatePrivateChat returns the id of the two users' direct chat,
// creating it (with both participants) when none exists yet.
func (r *Repository) FindOrCreatePrivateChat(ctx context.Context, a, b int64) (int64, error) {
	var id int64
	query := `
		SELECT c.id FROM chats c
		JOIN participants p1 ON p1.chat_id = c.id AND p1.user_id = $1
		JOIN participants p2 ON p2.chat_id = c.id AND p2.user_id = $2
		WHERE c.type = 'private'
		LIMIT 1
	`
	err := r.pool.QueryRow(ctx, query, a, b).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	if err := tx.QueryRow(ctx,
		`INSERT INTO chats (type) VALUES ('private') RETURNING id`).Scan(&id); err != nil {
		return 0, err
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO participants (chat_id, user_id) VALUES ($1, $2), ($1, $3)`,
		id, a, b); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("create private chat: %w", err)
	}
	return id, nil
}
