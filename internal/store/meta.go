package store

import (
	"database/sql"
	"time"
)

// Well-known workspace_meta keys.
const (
	MetaSelfUserID = "self_user_id"
	MetaSelfName   = "self_name"
	MetaTeamName   = "team_name"
	MetaTeamURL    = "team_url"
)

// SetMeta stores a workspace-level key/value pair.
func (db *DB) SetMeta(key, value string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO workspace_meta (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now)
	return err
}

// GetMeta returns a workspace-level value, or "" if unset.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM workspace_meta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}
