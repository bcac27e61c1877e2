// Package db provides PostgreSQL-backed local storage for the personal-data
// API: the Storage(local) and UserAccountStorage components of the mall.
//
// This file implements the core database connection and schema lifecycle.
//
// Purpose:
// - Establish and maintain the PostgreSQL connection pool
// - Initialize the local store's schema on startup
// - Provide the *Database handle every repository in this package wraps
// - Validate configuration to prevent connection-string injection
//
// Persisted layout (the primary document store mapped onto Postgres):
//   - users: unique on username, on email
//   - accesses: unique on token, on (user_id, id); indexed on deleted
//   - sessions: TTL-indexed on expires_at
//   - streams: unique on (user_id, id)
//   - events: composite index on (user_id, time), GIN on stream_ids, index on modified
//   - password_history: unique on (user_id, time)
//   - store_kv: unique on (store_id, user_id, key) — UserAccountStorage's per-store KV
//
// Dependencies:
// - PostgreSQL 12+ via database/sql + lib/pq
package db

import (
	"database/sql"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/corestream/datacore/internal/logger"
)

// Config holds database configuration.
type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// Database wraps the pooled PostgreSQL connection shared by every
// repository in this package.
type Database struct {
	db *sql.DB
}

// validateConfig validates database configuration to prevent connection
// string injection via unexpected characters in host/user/dbname.
func validateConfig(config Config) error {
	if config.Host == "" {
		return fmt.Errorf("database host cannot be empty")
	}
	if net.ParseIP(config.Host) == nil {
		hostnameRegex := regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9\-\.]{0,253}[a-zA-Z0-9])?$`)
		if !hostnameRegex.MatchString(config.Host) {
			return fmt.Errorf("invalid database host: %s", config.Host)
		}
	}

	if config.Port == "" {
		return fmt.Errorf("database port cannot be empty")
	}
	port, err := strconv.Atoi(config.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid database port: %s (must be 1-65535)", config.Port)
	}

	if config.User == "" {
		return fmt.Errorf("database user cannot be empty")
	}
	userRegex := regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	if !userRegex.MatchString(config.User) {
		return fmt.Errorf("invalid database user: %s (only alphanumeric, underscore, and hyphen allowed)", config.User)
	}

	if config.DBName == "" {
		return fmt.Errorf("database name cannot be empty")
	}
	dbNameRegex := regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	if !dbNameRegex.MatchString(config.DBName) {
		return fmt.Errorf("invalid database name: %s (only alphanumeric, underscore, and hyphen allowed)", config.DBName)
	}

	validSSLModes := []string{"disable", "allow", "prefer", "require", "verify-ca", "verify-full"}
	if config.SSLMode != "" {
		valid := false
		for _, mode := range validSSLModes {
			if config.SSLMode == mode {
				valid = true
				break
			}
		}
		if !valid {
			return fmt.Errorf("invalid SSL mode: %s (must be one of: %s)", config.SSLMode, strings.Join(validSSLModes, ", "))
		}
	}

	if config.SSLMode == "" || config.SSLMode == "disable" {
		logger.Database().Warn().Msg("database SSL/TLS is disabled; set DB_SSL_MODE=require for production")
	}

	return nil
}

// NewDatabase creates a new database connection with connection pooling.
func NewDatabase(config Config) (*Database, error) {
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid database configuration: %w", err)
	}

	if config.SSLMode == "" {
		config.SSLMode = "disable"
	}

	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	sqlDB, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)
	sqlDB.SetConnMaxIdleTime(1 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Database{db: sqlDB}, nil
}

// NewDatabaseForTesting creates a Database from an existing sql.DB
// connection, for dependency injection with sqlmock in tests. Do not use in
// production code — use NewDatabase instead.
func NewDatabaseForTesting(sqlDB *sql.DB) *Database {
	return &Database{db: sqlDB}
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.db.Close()
}

// DB returns the underlying sql.DB.
func (d *Database) DB() *sql.DB {
	return d.db
}

// Migrate creates the local store's schema if it does not already exist.
func (d *Database) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id VARCHAR(255) PRIMARY KEY,
			username VARCHAR(255) UNIQUE NOT NULL,
			email VARCHAR(255) UNIQUE NOT NULL,
			language VARCHAR(16) DEFAULT 'en',
			custom_fields JSONB DEFAULT '{}',
			password_hash VARCHAR(255) NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_users_username ON users(username)`,
		`CREATE INDEX IF NOT EXISTS idx_users_email ON users(email)`,

		`CREATE TABLE IF NOT EXISTS password_history (
			user_id VARCHAR(255) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			password_hash VARCHAR(255) NOT NULL,
			time TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(user_id, time)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_password_history_user_id ON password_history(user_id)`,

		`CREATE TABLE IF NOT EXISTS store_kv (
			store_id VARCHAR(100) NOT NULL,
			user_id VARCHAR(255) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			key VARCHAR(255) NOT NULL,
			value JSONB,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(store_id, user_id, key)
		)`,

		`CREATE TABLE IF NOT EXISTS streams (
			user_id VARCHAR(255) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			id VARCHAR(255) NOT NULL,
			name VARCHAR(255) NOT NULL,
			parent_id VARCHAR(255),
			client_data JSONB DEFAULT '{}',
			trashed BOOLEAN DEFAULT false,
			single_activity BOOLEAN DEFAULT false,
			created TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			created_by VARCHAR(255),
			modified TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			modified_by VARCHAR(255),
			PRIMARY KEY (user_id, id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_streams_user_parent ON streams(user_id, parent_id)`,

		`CREATE TABLE IF NOT EXISTS events (
			id VARCHAR(255) NOT NULL,
			user_id VARCHAR(255) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			stream_ids TEXT[] NOT NULL,
			type VARCHAR(255),
			content JSONB,
			time DOUBLE PRECISION NOT NULL,
			duration DOUBLE PRECISION,
			tags TEXT[],
			description TEXT,
			client_data JSONB DEFAULT '{}',
			trashed BOOLEAN DEFAULT false,
			integrity VARCHAR(128),
			created TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			created_by VARCHAR(255),
			modified TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			modified_by VARCHAR(255),
			deleted DOUBLE PRECISION,
			PRIMARY KEY (user_id, id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_user_time ON events(user_id, time)`,
		`CREATE INDEX IF NOT EXISTS idx_events_stream_ids ON events USING GIN(stream_ids)`,
		`CREATE INDEX IF NOT EXISTS idx_events_modified ON events(modified)`,

		`CREATE TABLE IF NOT EXISTS accesses (
			id VARCHAR(255) NOT NULL,
			user_id VARCHAR(255) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			token VARCHAR(255) NOT NULL,
			name VARCHAR(255) NOT NULL,
			type VARCHAR(20) NOT NULL,
			permissions JSONB DEFAULT '[]',
			expires BIGINT,
			created_by VARCHAR(255),
			modified_by VARCHAR(255),
			created TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			modified TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			deleted DOUBLE PRECISION,
			integrity VARCHAR(128),
			PRIMARY KEY (user_id, id)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_accesses_token ON accesses(token)`,
		`CREATE INDEX IF NOT EXISTS idx_accesses_deleted ON accesses(deleted)`,

		`CREATE TABLE IF NOT EXISTS sessions (
			token VARCHAR(255) PRIMARY KEY,
			username VARCHAR(255) NOT NULL,
			app_id VARCHAR(255),
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			expires_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at)`,
	}

	for _, migration := range migrations {
		if _, err := d.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}
