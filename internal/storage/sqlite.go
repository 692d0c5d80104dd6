package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const timeLayout = "2006-01-02 15:04:05"

// SQLiteStorage keeps the dashboard's history: per-tick snapshots, credited
// blocks and weekly results. The live counters are not stored here.
type SQLiteStorage struct {
	db *sql.DB
}

// parseTimestamp parses a timestamp string from SQLite in multiple formats.
// All timestamps are stored in UTC.
func parseTimestamp(s string) time.Time {
	// modernc/sqlite may hand DATETIME columns back as RFC3339
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if t, err := time.Parse(timeLayout, s); err == nil {
		return t
	}
	return time.Time{}
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// NewSQLiteStorage opens a SQLite database at the given path,
// runs migrations, and enables WAL mode
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Limit to single connection to avoid SQLite locking issues
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &SQLiteStorage{db: db}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

// migrate creates the necessary tables and indexes
func (s *SQLiteStorage) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS miner_snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		miner_name TEXT NOT NULL,
		miner_ip TEXT NOT NULL DEFAULT '',
		timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		online INTEGER NOT NULL DEFAULT 0,
		hashrate_ths REAL NOT NULL DEFAULT 0,
		asic_temp REAL NOT NULL DEFAULT 0,
		vr_temp REAL NOT NULL DEFAULT 0,
		fan_speed REAL NOT NULL DEFAULT 0,
		shares_accepted INTEGER NOT NULL DEFAULT 0,
		shares_rejected INTEGER NOT NULL DEFAULT 0,
		session_best REAL NOT NULL DEFAULT 0,
		weekly_best REAL NOT NULL DEFAULT 0,
		best_overall REAL NOT NULL DEFAULT 0,
		uptime_seconds INTEGER NOT NULL DEFAULT 0,
		blocks INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_miner_snapshots_timestamp ON miner_snapshots(timestamp);
	CREATE INDEX IF NOT EXISTS idx_miner_snapshots_miner_timestamp ON miner_snapshots(miner_name, timestamp);

	CREATE TABLE IF NOT EXISTS blocks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		miner_name TEXT NOT NULL,
		miner_ip TEXT NOT NULL DEFAULT '',
		timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		delta INTEGER NOT NULL DEFAULT 1,
		total INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_blocks_miner_name ON blocks(miner_name);
	CREATE INDEX IF NOT EXISTS idx_blocks_timestamp ON blocks(timestamp);

	CREATE TABLE IF NOT EXISTS weekly_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		week_iso TEXT NOT NULL UNIQUE,
		timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		winner TEXT NOT NULL DEFAULT '',
		score INTEGER NOT NULL DEFAULT 0,
		summary TEXT NOT NULL DEFAULT '',
		best_name TEXT NOT NULL DEFAULT '',
		best_value REAL NOT NULL DEFAULT 0,
		best_str TEXT NOT NULL DEFAULT '',
		restarts_ok INTEGER NOT NULL DEFAULT 0,
		restarts_failed INTEGER NOT NULL DEFAULT 0
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// InsertSnapshot inserts a new miner snapshot
func (s *SQLiteStorage) InsertSnapshot(snap *MinerSnapshot) error {
	query := `
	INSERT INTO miner_snapshots (
		miner_name, miner_ip, timestamp, online,
		hashrate_ths, asic_temp, vr_temp, fan_speed,
		shares_accepted, shares_rejected,
		session_best, weekly_best, best_overall,
		uptime_seconds, blocks
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.Exec(query,
		snap.MinerName, snap.MinerIP, formatTimestamp(snap.Timestamp), snap.Online,
		snap.HashrateTHs, snap.ASICTemp, snap.VRTemp, snap.FanSpeed,
		snap.SharesAccepted, snap.SharesRejected,
		snap.SessionBest, snap.WeeklyBest, snap.BestOverall,
		snap.UptimeSecs, snap.Blocks,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err == nil {
		snap.ID = id
	}
	return nil
}

// GetSnapshots retrieves snapshots for a miner since a given time, newest first
func (s *SQLiteStorage) GetSnapshots(minerName string, since time.Time, limit int) ([]*MinerSnapshot, error) {
	query := `
	SELECT id, miner_name, miner_ip, timestamp, online,
		hashrate_ths, asic_temp, vr_temp, fan_speed,
		shares_accepted, shares_rejected,
		session_best, weekly_best, best_overall,
		uptime_seconds, blocks
	FROM miner_snapshots
	WHERE miner_name = ? AND timestamp >= ?
	ORDER BY timestamp DESC, id DESC
	LIMIT ?
	`

	rows, err := s.db.Query(query, minerName, formatTimestamp(since), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snapshots []*MinerSnapshot
	for rows.Next() {
		snap := &MinerSnapshot{}
		var timestamp string
		err := rows.Scan(
			&snap.ID, &snap.MinerName, &snap.MinerIP, &timestamp, &snap.Online,
			&snap.HashrateTHs, &snap.ASICTemp, &snap.VRTemp, &snap.FanSpeed,
			&snap.SharesAccepted, &snap.SharesRejected,
			&snap.SessionBest, &snap.WeeklyBest, &snap.BestOverall,
			&snap.UptimeSecs, &snap.Blocks,
		)
		if err != nil {
			return nil, err
		}
		snap.Timestamp = parseTimestamp(timestamp)
		snapshots = append(snapshots, snap)
	}

	return snapshots, rows.Err()
}

// InsertBlock records a ledger credit
func (s *SQLiteStorage) InsertBlock(block *Block) error {
	query := `
	INSERT INTO blocks (miner_name, miner_ip, timestamp, delta, total)
	VALUES (?, ?, ?, ?, ?)
	`

	result, err := s.db.Exec(query,
		block.MinerName,
		block.MinerIP,
		formatTimestamp(block.Timestamp),
		block.Delta,
		block.Total,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err == nil {
		block.ID = id
	}
	return nil
}

// GetBlocks retrieves blocks since a given time, newest first
func (s *SQLiteStorage) GetBlocks(since time.Time, limit int) ([]*Block, error) {
	query := `
	SELECT id, miner_name, miner_ip, timestamp, delta, total
	FROM blocks
	WHERE timestamp >= ?
	ORDER BY timestamp DESC, id DESC
	LIMIT ?
	`

	rows, err := s.db.Query(query, formatTimestamp(since), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var blocks []*Block
	for rows.Next() {
		block := &Block{}
		var timestamp string
		if err := rows.Scan(&block.ID, &block.MinerName, &block.MinerIP, &timestamp, &block.Delta, &block.Total); err != nil {
			return nil, err
		}
		block.Timestamp = parseTimestamp(timestamp)
		blocks = append(blocks, block)
	}

	return blocks, rows.Err()
}

// GetBlockCountInRange sums credited blocks for a miner within a time range
func (s *SQLiteStorage) GetBlockCountInRange(minerName string, start, end time.Time) (int64, error) {
	var count int64
	err := s.db.QueryRow(
		"SELECT COALESCE(SUM(delta), 0) FROM blocks WHERE miner_name = ? AND timestamp >= ? AND timestamp < ?",
		minerName, formatTimestamp(start), formatTimestamp(end),
	).Scan(&count)
	return count, err
}

// InsertWeeklyResult archives a rollover. A second result for the same ISO
// week replaces the first.
func (s *SQLiteStorage) InsertWeeklyResult(r *WeeklyResult) error {
	query := `
	INSERT INTO weekly_results (
		week_iso, timestamp, winner, score, summary,
		best_name, best_value, best_str, restarts_ok, restarts_failed
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(week_iso) DO UPDATE SET
		timestamp = excluded.timestamp,
		winner = excluded.winner,
		score = excluded.score,
		summary = excluded.summary,
		best_name = excluded.best_name,
		best_value = excluded.best_value,
		best_str = excluded.best_str,
		restarts_ok = excluded.restarts_ok,
		restarts_failed = excluded.restarts_failed
	`

	_, err := s.db.Exec(query,
		r.WeekISO, formatTimestamp(r.Timestamp), r.Winner, r.Score, r.Summary,
		r.BestName, r.BestValue, r.BestStr, r.RestartsOK, r.RestartsFailed,
	)
	return err
}

// GetWeeklyResults returns archived weeks, newest first
func (s *SQLiteStorage) GetWeeklyResults(limit int) ([]*WeeklyResult, error) {
	query := `
	SELECT id, week_iso, timestamp, winner, score, summary,
		best_name, best_value, best_str, restarts_ok, restarts_failed
	FROM weekly_results
	ORDER BY timestamp DESC, id DESC
	LIMIT ?
	`

	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*WeeklyResult
	for rows.Next() {
		r := &WeeklyResult{}
		var timestamp string
		err := rows.Scan(&r.ID, &r.WeekISO, &timestamp, &r.Winner, &r.Score, &r.Summary,
			&r.BestName, &r.BestValue, &r.BestStr, &r.RestartsOK, &r.RestartsFailed)
		if err != nil {
			return nil, err
		}
		r.Timestamp = parseTimestamp(timestamp)
		results = append(results, r)
	}

	return results, rows.Err()
}

// PurgeOldSnapshots removes snapshots older than the specified number of hours
func (s *SQLiteStorage) PurgeOldSnapshots(retentionHours int) (int64, error) {
	cutoff := formatTimestamp(time.Now().Add(-time.Duration(retentionHours) * time.Hour))

	result, err := s.db.Exec("DELETE FROM miner_snapshots WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge old snapshots: %w", err)
	}

	deleted, _ := result.RowsAffected()
	return deleted, nil
}

// Vacuum compacts the database file to reclaim disk space after deletions
func (s *SQLiteStorage) Vacuum() error {
	_, err := s.db.Exec("VACUUM")
	if err != nil {
		return fmt.Errorf("failed to vacuum database: %w", err)
	}
	return nil
}
