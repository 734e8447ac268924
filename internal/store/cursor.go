package store

import (
	"database/sql"
	"fmt"
	"time"
)

// StaleCursorError is returned by AdvanceCursor when another writer already
// moved the position past the expected one. Workers treat it as transient:
// re-read the cursor and resume from the held position.
type StaleCursorError struct {
	ChannelID string
	Expected  string
	Held      string
}

func (e *StaleCursorError) Error() string {
	return fmt.Sprintf("stale cursor for %s: expected %q, store holds %q", e.ChannelID, e.Expected, e.Held)
}

// GetCursor returns the sync cursor for a channel. Unseen channels get the
// zero-value cursor (position "", beginning of history).
func (db *DB) GetCursor(channelID string) (Cursor, error) {
	c := Cursor{ChannelID: channelID}
	err := db.QueryRow(`
		SELECT position, last_synced_at, last_attempt_at, failure_count
		FROM sync_cursors WHERE channel_id = ?`, channelID).
		Scan(&c.Position, &c.LastSyncedAt, &c.LastAttemptAt, &c.FailureCount)
	if err == sql.ErrNoRows {
		return c, nil
	}
	if err != nil {
		return c, err
	}
	return c, nil
}

// AdvanceCursor moves a channel's position with compare-and-swap semantics:
// the update only applies if the stored position still equals expectedOld.
// A successful advance resets the failure count. Callers must have durably
// upserted the batch the new position accounts for before calling this.
func (db *DB) AdvanceCursor(channelID, newPos, expectedOld string) error {
	now := time.Now().UnixMilli()
	res, err := db.Exec(`
		UPDATE sync_cursors
		SET position = ?, last_synced_at = ?, failure_count = 0
		WHERE channel_id = ? AND position = ?`,
		newPos, now, channelID, expectedOld)
	if err != nil {
		return fmt.Errorf("advance cursor %s: %w", channelID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	// No row matched: either the channel has no cursor row yet (only legal
	// when advancing from the beginning) or another writer moved it.
	if expectedOld == "" {
		res, err := db.Exec(`
			INSERT INTO sync_cursors (channel_id, position, last_synced_at, last_attempt_at, failure_count)
			VALUES (?, ?, ?, ?, 0)
			ON CONFLICT(channel_id) DO NOTHING`,
			channelID, newPos, now, now)
		if err != nil {
			return fmt.Errorf("insert cursor %s: %w", channelID, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 1 {
			return nil
		}
	}

	held, err := db.GetCursor(channelID)
	if err != nil {
		return err
	}
	return &StaleCursorError{ChannelID: channelID, Expected: expectedOld, Held: held.Position}
}

// ResetCursorFailures clears a channel's consecutive failure count without
// moving its position. Called when a sync attempt completes cleanly even if
// nothing advanced (e.g. an empty history window).
func (db *DB) ResetCursorFailures(channelID string) error {
	_, err := db.Exec(`UPDATE sync_cursors SET failure_count = 0 WHERE channel_id = ?`, channelID)
	return err
}

// TouchCursorAttempt stamps last_attempt_at at the start of a sync attempt,
// creating the row for a first-time channel.
func (db *DB) TouchCursorAttempt(channelID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO sync_cursors (channel_id, position, last_attempt_at)
		VALUES (?, '', ?)
		ON CONFLICT(channel_id) DO UPDATE SET last_attempt_at = excluded.last_attempt_at`,
		channelID, now)
	return err
}

// RecordCursorFailure increments a channel's consecutive failure count
// without touching its position.
func (db *DB) RecordCursorFailure(channelID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO sync_cursors (channel_id, position, last_attempt_at, failure_count)
		VALUES (?, '', ?, 1)
		ON CONFLICT(channel_id) DO UPDATE SET
			failure_count = sync_cursors.failure_count + 1,
			last_attempt_at = excluded.last_attempt_at`,
		channelID, now)
	return err
}
