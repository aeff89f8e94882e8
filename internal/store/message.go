package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const messageColumns = `
	m.id, m.sender_id, COALESCE(s.username, ''), m.recipient_id, COALESCE(r.username, ''),
	m.content, m.message_type, m.status, COALESCE(m.reply_to, ''),
	m.created_at, m.delivered_at, m.read_at`

const messageJoins = `
	FROM messages m
	LEFT JOIN users s ON s.id = m.sender_id
	LEFT JOIN users r ON r.id = m.recipient_id`

func scanMessage(row interface{ Scan(...any) error }) (*Message, error) {
	var (
		m                 Message
		createdAt         int64
		deliveredAt, read sql.NullInt64
	)
	if err := row.Scan(&m.ID, &m.SenderID, &m.SenderName, &m.RecipientID, &m.RecipientName,
		&m.Content, &m.MessageType, &m.Status, &m.ReplyTo,
		&createdAt, &deliveredAt, &read); err != nil {
		return nil, err
	}
	m.CreatedAt = fromMillis(createdAt)
	m.DeliveredAt = fromNullMillis(deliveredAt)
	m.ReadAt = fromNullMillis(read)
	return &m, nil
}

// InsertMessage persists m in the sent state. ID and CreatedAt are generated
// when empty; the stored values are written back into m.
func (db *DB) InsertMessage(ctx context.Context, m *Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	if m.MessageType == "" {
		m.MessageType = TypeText
	}
	m.Status = StatusSent
	m.DeliveredAt = nil
	m.ReadAt = nil

	var replyTo any
	if m.ReplyTo != "" {
		replyTo = m.ReplyTo
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO messages (id, sender_id, recipient_id, content, message_type, status, reply_to, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.SenderID, m.RecipientID, m.Content, string(m.MessageType), string(m.Status), replyTo, millis(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// UpdateMessageStatus moves a message forward to status, stamping the matching
// timestamp. The update is conditional on the current status ranking lower, so
// it never regresses a message; changed reports whether a row was updated.
func (db *DB) UpdateMessageStatus(ctx context.Context, id string, status MessageStatus, at time.Time) (changed bool, err error) {
	if status.Rank() < StatusDelivered.Rank() {
		return false, fmt.Errorf("invalid target status %q", status)
	}
	ts := millis(at)
	res, err := db.ExecContext(ctx, `
		UPDATE messages SET
			status = ?,
			delivered_at = CASE WHEN ? = 'delivered' THEN ? ELSE delivered_at END,
			read_at = CASE WHEN ? = 'read' THEN ? ELSE read_at END
		WHERE id = ?
		  AND (CASE status WHEN 'sent' THEN 0 WHEN 'delivered' THEN 1 ELSE 2 END) < ?`,
		string(status), string(status), ts, string(status), ts, id, status.Rank())
	if err != nil {
		return false, fmt.Errorf("update message status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetMessage returns a message by id, or nil if none exists.
func (db *DB) GetMessage(ctx context.Context, id string) (*Message, error) {
	m, err := scanMessage(db.QueryRowContext(ctx, `SELECT `+messageColumns+messageJoins+` WHERE m.id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// FindMessagesBetween returns the messages exchanged by a and b in persistence
// order, oldest or newest first as the page requests.
func (db *DB) FindMessagesBetween(ctx context.Context, a, b string, p Page) ([]Message, error) {
	if p.Limit <= 0 {
		p.Limit = 50
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	dir := "ASC"
	if p.Order == NewestFirst {
		dir = "DESC"
	}
	rows, err := db.QueryContext(ctx, `SELECT `+messageColumns+messageJoins+`
		WHERE (m.sender_id = ? AND m.recipient_id = ?) OR (m.sender_id = ? AND m.recipient_id = ?)
		ORDER BY m.seq `+dir+`
		LIMIT ? OFFSET ?`, a, b, b, a, p.Limit, p.Offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// ListConversations returns one entry per peer userID has exchanged messages
// with, most recent first, with the count of that peer's messages not yet read.
func (db *DB) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	rows, err := db.QueryContext(ctx, `
		WITH thread AS (
			SELECT CASE WHEN sender_id = ? THEN recipient_id ELSE sender_id END AS peer,
			       seq, content, message_type, created_at
			FROM messages
			WHERE sender_id = ? OR recipient_id = ?
		)
		SELECT t.peer, u.username, u.is_online, u.last_seen,
		       t.content, t.message_type, t.created_at,
		       (SELECT COUNT(*) FROM messages x
		        WHERE x.sender_id = t.peer AND x.recipient_id = ? AND x.status != 'read')
		FROM thread t
		JOIN users u ON u.id = t.peer
		WHERE t.seq = (SELECT MAX(seq) FROM thread t2 WHERE t2.peer = t.peer)
		ORDER BY t.seq DESC`, userID, userID, userID, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		var (
			c                  Conversation
			lastSeen, lastTime int64
		)
		if err := rows.Scan(&c.PeerID, &c.PeerName, &c.PeerOnline, &lastSeen,
			&c.LastMessage, &c.LastMessageType, &lastTime, &c.UnreadCount); err != nil {
			return nil, err
		}
		c.PeerLastSeen = fromMillis(lastSeen)
		c.LastMessageAt = fromMillis(lastTime)
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// CountMessages returns the number of persisted messages.
func (db *DB) CountMessages(ctx context.Context) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n)
	return n, err
}
