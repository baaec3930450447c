// Package storage opens the account database and keeps its schema current.
package storage

import (
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"

	"scribeflow/internal/config"
)

const defaultMySQLPort = 3306

// Open connects to the database configured under dbType.
func Open(dbType string, cfg *config.Config) (*sql.DB, error) {
	dbCfg, ok := cfg.Databases[dbType]
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", dbType)
	}
	driver, dsn, err := dataSource(dbType, dbCfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}
	if driver == "sqlite3" {
		// an in-memory database lives and dies with its connection
		if dsn == ":memory:" {
			db.SetMaxOpenConns(1)
		}
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable sqlite foreign keys: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// dataSource resolves the driver name and DSN for a database section. MySQL
// sections without an explicit dsn are assembled from their parts, always
// with parseTime so DATETIME columns scan into time.Time.
func dataSource(dbType string, c config.DatabaseConfig) (string, string, error) {
	switch strings.ToLower(dbType) {
	case "sqlite", "sqlite3":
		if c.DSN == "" {
			return "", "", fmt.Errorf("sqlite dsn must be provided")
		}
		return "sqlite3", c.DSN, nil
	case "mysql":
		if c.DSN != "" {
			return "mysql", c.DSN, nil
		}
		mc := mysql.NewConfig()
		mc.User = c.Username
		mc.Passwd = c.Password
		mc.Net = "tcp"
		port := c.Port
		if port == 0 {
			port = defaultMySQLPort
		}
		mc.Addr = net.JoinHostPort(c.Host, strconv.Itoa(port))
		mc.DBName = c.DBName
		mc.ParseTime = true
		if c.Params != "" {
			values, err := url.ParseQuery(c.Params)
			if err != nil {
				return "", "", fmt.Errorf("parse mysql params: %w", err)
			}
			for key := range values {
				if strings.EqualFold(key, "parseTime") {
					continue
				}
				if mc.Params == nil {
					mc.Params = make(map[string]string)
				}
				mc.Params[key] = values.Get(key)
			}
		}
		return "mysql", mc.FormatDSN(), nil
	default:
		return "", "", fmt.Errorf("unsupported driver: %s", dbType)
	}
}

var schemas = map[string][]string{
	"sqlite3": {
		`CREATE TABLE IF NOT EXISTS accounts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'user',
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS user_tokens (
			token TEXT PRIMARY KEY,
			user_id INTEGER NOT NULL,
			created_at DATETIME NOT NULL,
			expires_at DATETIME NOT NULL,
			FOREIGN KEY(user_id) REFERENCES accounts(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_user_tokens_user ON user_tokens(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_user_tokens_expiry ON user_tokens(expires_at)`,
	},
	"mysql": {
		`CREATE TABLE IF NOT EXISTS accounts (
			id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
			username VARCHAR(255) NOT NULL UNIQUE,
			password_hash VARCHAR(255) NOT NULL,
			role VARCHAR(32) NOT NULL DEFAULT 'user',
			created_at DATETIME NOT NULL,
			PRIMARY KEY (id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS user_tokens (
			token CHAR(64) NOT NULL,
			user_id BIGINT UNSIGNED NOT NULL,
			created_at DATETIME NOT NULL,
			expires_at DATETIME NOT NULL,
			PRIMARY KEY (token),
			INDEX idx_user_tokens_user (user_id),
			INDEX idx_user_tokens_expiry (expires_at),
			CONSTRAINT fk_user_tokens_account FOREIGN KEY (user_id) REFERENCES accounts(id) ON DELETE CASCADE
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	},
}

// Migrate ensures the account and token tables are present.
func Migrate(db *sql.DB, driver string) error {
	name := strings.ToLower(driver)
	if name == "sqlite" {
		name = "sqlite3"
	}
	stmts, ok := schemas[name]
	if !ok {
		return fmt.Errorf("unsupported driver: %s", driver)
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// PurgeExpiredTokens deletes tokens past their expiry and reports how many
// were removed.
func PurgeExpiredTokens(db *sql.DB, now time.Time) (int64, error) {
	res, err := db.Exec(`DELETE FROM user_tokens WHERE expires_at < ?`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge expired tokens: %w", err)
	}
	return res.RowsAffected()
}
