package store

import "database/sql"

// MentionsSince returns messages mentioning the given user since a reference
// time (unix millis), newest first. Slack encodes mentions as <@USERID>.
func (db *DB) MentionsSince(selfID string, since int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, channel_id, ts, user_id, text, thread_ts, reply_count, is_edited, subtype, created_at
		FROM messages
		WHERE text LIKE '%<@' || ? || '>%' AND created_at > ? AND user_id != ?
		ORDER BY created_at DESC
		LIMIT ?`, selfID, since, selfID, limit)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

// DMsSince returns messages in direct-message channels since a reference
// time, excluding self-DM channels, newest first.
func (db *DB) DMsSince(since int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT m.id, m.channel_id, m.ts, m.user_id, m.text, m.thread_ts, m.reply_count, m.is_edited, m.subtype, m.created_at
		FROM messages m
		JOIN channels c ON c.id = m.channel_id
		WHERE c.kind = 'im' AND c.is_self_dm = 0 AND m.created_at > ?
		ORDER BY m.created_at DESC
		LIMIT ?`, since, limit)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

// ThreadRepliesSince returns replies by others, since a reference time, in
// threads the given user participated in.
func (db *DB) ThreadRepliesSince(selfID string, since int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT m.id, m.channel_id, m.ts, m.user_id, m.text, m.thread_ts, m.reply_count, m.is_edited, m.subtype, m.created_at
		FROM messages m
		WHERE m.user_id != ?
		  AND m.created_at > ?
		  AND m.thread_ts != ''
		  AND EXISTS (
			SELECT 1 FROM messages u
			WHERE u.user_id = ?
			  AND u.channel_id = m.channel_id
			  AND (u.ts = m.thread_ts OR u.thread_ts = m.thread_ts)
		  )
		ORDER BY m.created_at DESC
		LIMIT ?`, selfID, since, selfID, limit)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

// HasUserReplied reports whether the given user posted in a thread after the
// given message timestamp. Used to demote mentions the user already handled.
func (db *DB) HasUserReplied(selfID, channelID, threadTS, afterTS string) (bool, error) {
	var n int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM messages
		WHERE user_id = ? AND channel_id = ? AND thread_ts = ? AND ts > ?`,
		selfID, channelID, threadTS, afterTS).Scan(&n)
	return n > 0, err
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
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
