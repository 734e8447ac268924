package store

import (
	"fmt"
	"time"
)

// ApplyBatch merges one fetched page of records into the mirror in a single
// transaction: messages are upserted by natural key (mutable fields
// last-writer-wins), each message's reactions are replaced with the set the
// remote currently reports, and the channel activity marker is bumped.
//
// Re-applying an identical batch is a no-op beyond redundant writes. That
// makes a crash between ApplyBatch and AdvanceCursor safe: the batch is
// simply fetched and applied again.
func (db *DB) ApplyBatch(channelID string, records []Record) (int, []IndexEntry, error) {
	if len(records) == 0 {
		return 0, nil, nil
	}

	tx, err := db.Begin()
	if err != nil {
		return 0, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	written := 0
	entries := make([]IndexEntry, 0, len(records))
	newestTS := ""

	for _, rec := range records {
		m := rec.Message
		if m.ChannelID == "" {
			m.ChannelID = channelID
		}
		if m.ChannelID != channelID {
			return 0, nil, fmt.Errorf("record for channel %q in batch for %q", m.ChannelID, channelID)
		}

		var id int64
		err := tx.QueryRow(`
			INSERT INTO messages (channel_id, ts, user_id, text, thread_ts, reply_count, is_edited, subtype, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(channel_id, ts) DO UPDATE SET
				user_id = excluded.user_id,
				text = excluded.text,
				thread_ts = excluded.thread_ts,
				reply_count = excluded.reply_count,
				is_edited = excluded.is_edited,
				updated_at = excluded.updated_at
			RETURNING id`,
			m.ChannelID, m.TS, m.UserID, m.Text, m.ThreadTS, m.ReplyCount, m.IsEdited, m.Subtype, now, now).
			Scan(&id)
		if err != nil {
			return 0, nil, fmt.Errorf("upsert message %s/%s: %w", m.ChannelID, m.TS, err)
		}
		written++

		// The remote reports the full current reaction set per message,
		// so replace rather than merge.
		if _, err := tx.Exec(`DELETE FROM reactions WHERE message_id = ?`, id); err != nil {
			return 0, nil, fmt.Errorf("clear reactions for %d: %w", id, err)
		}
		for _, r := range rec.Reactions {
			if _, err := tx.Exec(`
				INSERT INTO reactions (message_id, name, user_id)
				VALUES (?, ?, ?)
				ON CONFLICT(message_id, name, user_id) DO NOTHING`,
				id, r.Name, r.UserID); err != nil {
				return 0, nil, fmt.Errorf("insert reaction %q on %d: %w", r.Name, id, err)
			}
		}

		if m.Text != "" {
			entries = append(entries, IndexEntry{MessageID: id, Text: m.Text})
		}
		if m.TS > newestTS {
			newestTS = m.TS
		}
	}

	if newestTS != "" {
		if _, err := tx.Exec(`
			UPDATE channels SET last_activity_ts = MAX(last_activity_ts, ?), updated_at = ?
			WHERE id = ?`, newestTS, now, channelID); err != nil {
			return 0, nil, fmt.Errorf("bump channel activity: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, nil, fmt.Errorf("commit batch: %w", err)
	}
	return written, entries, nil
}
