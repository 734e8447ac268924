package store

// SearchMessagesFTS performs a full-text search on message text, ranked by
// bm25 (lower rank = better match).
func (db *DB) SearchMessagesFTS(query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := db.Query(`
		SELECT m.id, m.channel_id, m.ts, m.user_id, m.text, m.thread_ts,
		       m.reply_count, m.is_edited, m.subtype, m.created_at,
		       snippet(messages_fts, 0, '<<', '>>', '...', 32),
		       bm25(messages_fts)
		FROM messages_fts f
		JOIN messages m ON m.id = f.rowid
		WHERE messages_fts MATCH ?
		ORDER BY rank
		LIMIT ?`, query, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(
			&r.Message.ID, &r.Message.ChannelID, &r.Message.TS,
			&r.Message.UserID, &r.Message.Text, &r.Message.ThreadTS,
			&r.Message.ReplyCount, &r.Message.IsEdited, &r.Message.Subtype,
			&r.Message.CreatedAt, &r.Snippet, &r.Rank,
		); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
