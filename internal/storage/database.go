package storage

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/wktk1187/dagitoru/internal/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// Open connects to the configured database.
func Open(dbType string, cfg *config.Config) (*sql.DB, error) {
	dbCfg, ok := cfg.Databases[dbType]
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", dbType)
	}

	var (
		db  *sql.DB
		err error
	)

	switch strings.ToLower(dbType) {
	case "sqlite", "sqlite3":
		if dbCfg.DSN == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
		db, err = sql.Open("sqlite3", dbCfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable sqlite foreign keys: %w", err)
		}
	case "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
			dbCfg.Username,
			dbCfg.Password,
			dbCfg.Host,
			dbCfg.Port,
			dbCfg.DBName,
			dbCfg.Params,
		)
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", dbType)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Migrate ensures the required tables are present.
func Migrate(db *sql.DB, driver string) error {
	var stmts []string
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS slack_events (
				event_id TEXT PRIMARY KEY,
				event_type TEXT NOT NULL,
				received_at DATETIME NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS jobs (
				job_id TEXT PRIMARY KEY,
				source_file_id TEXT NOT NULL,
				download_url TEXT NOT NULL,
				file_name TEXT NOT NULL,
				file_ext TEXT NOT NULL,
				channel_id TEXT NOT NULL,
				thread_ts TEXT NOT NULL,
				permalink TEXT NOT NULL,
				requester_id TEXT NOT NULL,
				message_text TEXT NOT NULL DEFAULT '',
				state TEXT NOT NULL,
				fail_reason TEXT NOT NULL DEFAULT '',
				audio_uri TEXT NOT NULL DEFAULT '',
				transcript TEXT NOT NULL DEFAULT '',
				summary_json TEXT NOT NULL DEFAULT '',
				page_url TEXT NOT NULL DEFAULT '',
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_jobs_file ON jobs(source_file_id)`,
			`CREATE INDEX IF NOT EXISTS idx_jobs_state ON jobs(state)`,
		}
	case "mysql":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS slack_events (
				event_id VARCHAR(64) NOT NULL PRIMARY KEY,
				event_type VARCHAR(64) NOT NULL,
				received_at DATETIME NOT NULL
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS jobs (
				job_id VARCHAR(64) NOT NULL PRIMARY KEY,
				source_file_id VARCHAR(64) NOT NULL,
				download_url TEXT NOT NULL,
				file_name VARCHAR(255) NOT NULL,
				file_ext VARCHAR(32) NOT NULL,
				channel_id VARCHAR(32) NOT NULL,
				thread_ts VARCHAR(32) NOT NULL,
				permalink TEXT NOT NULL,
				requester_id VARCHAR(32) NOT NULL,
				message_text MEDIUMTEXT NOT NULL,
				state VARCHAR(32) NOT NULL,
				fail_reason TEXT NOT NULL,
				audio_uri TEXT NOT NULL,
				transcript MEDIUMTEXT NOT NULL,
				summary_json MEDIUMTEXT NOT NULL,
				page_url TEXT NOT NULL,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL,
				INDEX idx_jobs_file (source_file_id),
				INDEX idx_jobs_state (state)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	default:
		return fmt.Errorf("unsupported driver for migration: %s", driver)
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", driver, err)
		}
	}
	return nil
}
