package store

import (
	"database/sql"
	"time"
)

// UpsertChannel inserts or updates a channel record. The activity marker
// only moves forward; discovery with an older marker never rewinds it.
func (db *DB) UpsertChannel(c *Channel) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO channels (id, name, kind, is_archived, is_self_dm, peer_user_id, last_activity_ts, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE channels.name END,
			kind = excluded.kind,
			is_archived = excluded.is_archived,
			is_self_dm = excluded.is_self_dm,
			peer_user_id = CASE WHEN excluded.peer_user_id != '' THEN excluded.peer_user_id ELSE channels.peer_user_id END,
			last_activity_ts = MAX(channels.last_activity_ts, excluded.last_activity_ts),
			updated_at = excluded.updated_at`,
		c.ID, c.Name, c.Kind, c.IsArchived, c.IsSelfDM, c.PeerUserID, c.LastActivityTS, now, now)
	return err
}

// GetChannel returns a single channel by ID, or nil if unknown.
func (db *DB) GetChannel(id string) (*Channel, error) {
	var c Channel
	err := db.QueryRow(`
		SELECT id, name, kind, is_archived, is_self_dm, peer_user_id, last_activity_ts
		FROM channels WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &c.Kind, &c.IsArchived, &c.IsSelfDM, &c.PeerUserID, &c.LastActivityTS)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListChannels returns all mirrored channels ordered by recent activity.
func (db *DB) ListChannels() ([]Channel, error) {
	rows, err := db.Query(`
		SELECT id, name, kind, is_archived, is_self_dm, peer_user_id, last_activity_ts
		FROM channels
		ORDER BY last_activity_ts DESC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var channels []Channel
	for rows.Next() {
		var c Channel
		if err := rows.Scan(&c.ID, &c.Name, &c.Kind, &c.IsArchived, &c.IsSelfDM, &c.PeerUserID, &c.LastActivityTS); err != nil {
			return nil, err
		}
		channels = append(channels, c)
	}
	return channels, rows.Err()
}

// ChannelDisplayName renders a channel the way a human refers to it:
// "#name" for channels, "DM: @peer" for DMs, "Group DM: name" for group DMs.
func (db *DB) ChannelDisplayName(channelID string) (string, error) {
	ch, err := db.GetChannel(channelID)
	if err != nil {
		return "", err
	}
	if ch == nil {
		return channelID, nil
	}
	switch ch.Kind {
	case KindIM:
		peer, err := db.UserDisplayName(ch.PeerUserID)
		if err != nil {
			return "", err
		}
		return "DM: @" + peer, nil
	case KindMpIM:
		return "Group DM: " + ch.Name, nil
	default:
		return "#" + ch.Name, nil
	}
}

// ChannelCount returns the total number of mirrored channels.
func (db *DB) ChannelCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM channels`).Scan(&count)
	return count, err
}

// ChannelMessageCount returns the number of mirrored messages in a channel.
func (db *DB) ChannelMessageCount(channelID string) (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages WHERE channel_id = ?`, channelID).Scan(&count)
	return count, err
}

// MessageCount returns the total number of mirrored messages.
func (db *DB) MessageCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}
