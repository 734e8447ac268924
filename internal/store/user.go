package store

import (
	"database/sql"
	"time"
)

// UpsertUser inserts or updates a user profile snapshot.
func (db *DB) UpsertUser(u *User) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO users (id, name, real_name, display_name, is_bot, deleted, tz, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE users.name END,
			real_name = CASE WHEN excluded.real_name != '' THEN excluded.real_name ELSE users.real_name END,
			display_name = CASE WHEN excluded.display_name != '' THEN excluded.display_name ELSE users.display_name END,
			is_bot = excluded.is_bot,
			deleted = excluded.deleted,
			tz = CASE WHEN excluded.tz != '' THEN excluded.tz ELSE users.tz END,
			updated_at = excluded.updated_at`,
		u.ID, u.Name, u.RealName, u.DisplayName, u.IsBot, u.Deleted, u.TZ, now)
	return err
}

// GetUser returns a user by ID, or nil if unknown.
func (db *DB) GetUser(id string) (*User, error) {
	var u User
	err := db.QueryRow(`
		SELECT id, name, real_name, display_name, is_bot, deleted, tz
		FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Name, &u.RealName, &u.DisplayName, &u.IsBot, &u.Deleted, &u.TZ)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// UserDisplayName resolves the best human-readable name for a user ID:
// display_name -> real_name -> name -> the raw ID.
func (db *DB) UserDisplayName(id string) (string, error) {
	var name string
	err := db.QueryRow(`
		SELECT COALESCE(NULLIF(display_name,''), NULLIF(real_name,''), NULLIF(name,''), id)
		FROM users WHERE id = ?`, id).Scan(&name)
	if err == sql.ErrNoRows {
		return id, nil
	}
	if err != nil {
		return "", err
	}
	return name, nil
}
