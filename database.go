package main

import (
	"database/sql"
	"log"
	"sort"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite database connection
type DB struct {
	conn *sql.DB
}

// StatsRow represents the lifetime stats of one account
type StatsRow struct {
	Username    string
	TotalTags   int
	TotalTimeIt float64 // seconds
	LongestHold float64 // seconds
	UpdatedAt   time.Time
}

// StatsDelta is what one flush adds to an account
type StatsDelta struct {
	Username string
	Tags     int
	TimeIt   float64
	Longest  float64
}

// OpenDB opens (or creates) the SQLite database
func OpenDB(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate creates tables if they don't exist
func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS account_stats (
		username TEXT PRIMARY KEY,
		total_tags INTEGER NOT NULL DEFAULT 0,
		total_time_it REAL NOT NULL DEFAULT 0,
		longest_hold REAL NOT NULL DEFAULT 0,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS achievements (
		username TEXT NOT NULL,
		achievement_id TEXT NOT NULL,
		unlocked_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (username, achievement_id)
	);
	`
	_, err := db.conn.Exec(schema)
	if err != nil {
		log.Printf("DB migration error: %v", err)
	}
	return err
}

// ApplyStats adds a batch of deltas in one transaction
func (db *DB) ApplyStats(deltas []StatsDelta) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO account_stats (username, total_tags, total_time_it, longest_hold, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(username) DO UPDATE SET
			total_tags = total_tags + excluded.total_tags,
			total_time_it = total_time_it + excluded.total_time_it,
			longest_hold = MAX(longest_hold, excluded.longest_hold),
			updated_at = excluded.updated_at`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, d := range deltas {
		if _, err := stmt.Exec(d.Username, d.Tags, d.TimeIt, d.Longest, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetStats returns account stats, nil when the account never played
func (db *DB) GetStats(username string) (*StatsRow, error) {
	row := db.conn.QueryRow(
		"SELECT username, total_tags, total_time_it, longest_hold, updated_at FROM account_stats WHERE username = ?",
		username,
	)
	s := &StatsRow{}
	err := row.Scan(&s.Username, &s.TotalTags, &s.TotalTimeIt, &s.LongestHold, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// TopByTimeIt returns the accounts with the most lifetime seconds as IT
func (db *DB) TopByTimeIt(limit int) ([]StatsRow, error) {
	rows, err := db.conn.Query(
		"SELECT username, total_tags, total_time_it, longest_hold, updated_at FROM account_stats ORDER BY total_time_it DESC, username ASC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StatsRow
	for rows.Next() {
		var s StatsRow
		if err := rows.Scan(&s.Username, &s.TotalTags, &s.TotalTimeIt, &s.LongestHold, &s.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// UnlockAchievement records an achievement. Returns true if it was new.
func (db *DB) UnlockAchievement(username, achievementID string) (bool, error) {
	res, err := db.conn.Exec(
		"INSERT OR IGNORE INTO achievements (username, achievement_id) VALUES (?, ?)",
		username, achievementID,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// GetAchievements returns the achievement ids an account has unlocked
func (db *DB) GetAchievements(username string) ([]string, error) {
	rows, err := db.conn.Query(
		"SELECT achievement_id FROM achievements WHERE username = ?",
		username,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, rows.Err()
}
