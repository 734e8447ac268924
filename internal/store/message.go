package store

import "database/sql"

// GetMessage returns a message by natural key, or nil if not mirrored.
func (db *DB) GetMessage(channelID, ts string) (*Message, error) {
	var m Message
	err := db.QueryRow(`
		SELECT id, channel_id, ts, user_id, text, thread_ts, reply_count, is_edited, subtype, created_at
		FROM messages WHERE channel_id = ? AND ts = ?`, channelID, ts).
		Scan(&m.ID, &m.ChannelID, &m.TS, &m.UserID, &m.Text, &m.ThreadTS, &m.ReplyCount, &m.IsEdited, &m.Subtype, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetMessageByID returns a message by row id, or nil if not mirrored.
func (db *DB) GetMessageByID(id int64) (*Message, error) {
	var m Message
	err := db.QueryRow(`
		SELECT id, channel_id, ts, user_id, text, thread_ts, reply_count, is_edited, subtype, created_at
		FROM messages WHERE id = ?`, id).
		Scan(&m.ID, &m.ChannelID, &m.TS, &m.UserID, &m.Text, &m.ThreadTS, &m.ReplyCount, &m.IsEdited, &m.Subtype, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMessages returns messages for a channel using keyset pagination by ts,
// newest first. beforeTS "" starts from the newest message.
func (db *DB) ListMessages(channelID, beforeTS string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `
		SELECT id, channel_id, ts, user_id, text, thread_ts, reply_count, is_edited, subtype, created_at
		FROM messages
		WHERE channel_id = ?`
	args := []any{channelID}
	if beforeTS != "" {
		q += ` AND ts < ?`
		args = append(args, beforeTS)
	}
	q += ` ORDER BY ts DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChannelID, &m.TS, &m.UserID, &m.Text, &m.ThreadTS, &m.ReplyCount, &m.IsEdited, &m.Subtype, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// GetReactions returns the current reaction set for a message row.
func (db *DB) GetReactions(messageID int64) ([]Reaction, error) {
	rows, err := db.Query(`SELECT name, user_id FROM reactions WHERE message_id = ? ORDER BY name, user_id`, messageID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var reactions []Reaction
	for rows.Next() {
		var r Reaction
		if err := rows.Scan(&r.Name, &r.UserID); err != nil {
			return nil, err
		}
		reactions = append(reactions, r)
	}
	return reactions, rows.Err()
}
