package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"scribeflow/internal/models"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Remote      RemoteConfig              `json:"remote"`
	Settings    models.Settings           `json:"settings"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	Accounts    []AccountConfig           `json:"accounts"`
}

type BasicConfig struct {
	ServerAddress string `json:"server_address"`
	DatabaseType  string `json:"database_type"`
	TokenTTLHours int    `json:"token_ttl_hours"`
}

// RemoteConfig points at the job service.
type RemoteConfig struct {
	BaseURL           string `json:"base_url"`
	APIKey            string `json:"api_key"`
	PollIntervalMS    int    `json:"poll_interval_ms"`
	PollTimeoutSec    int    `json:"poll_timeout_sec"`
	RequestTimeoutSec int    `json:"request_timeout_sec"`
}

func (r RemoteConfig) PollInterval() time.Duration {
	return time.Duration(r.PollIntervalMS) * time.Millisecond
}

func (r RemoteConfig) PollTimeout() time.Duration {
	return time.Duration(r.PollTimeoutSec) * time.Second
}

func (r RemoteConfig) RequestTimeout() time.Duration {
	return time.Duration(r.RequestTimeoutSec) * time.Second
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// Addr returns host:port with the local defaults filled in.
func (r RedisConfig) Addr() string {
	host := r.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := r.Port
	if port == 0 {
		port = 6379
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// AccountConfig seeds a login for the control API.
type AccountConfig struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// Load reads configuration from the provided path (defaults to config.json).
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	// settings keep their defaults for any key the file leaves out
	cfg := Config{Settings: models.DefaultSettings()}
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.BasicConfig.DatabaseType == "" {
		cfg.BasicConfig.DatabaseType = "sqlite3"
	}
	if cfg.BasicConfig.TokenTTLHours <= 0 {
		cfg.BasicConfig.TokenTTLHours = 24
	}
	for name, db := range cfg.Databases {
		if isSQLite(name) && db.DSN != "" && !filepath.IsAbs(db.DSN) && !strings.HasPrefix(db.DSN, "file:") && db.DSN != ":memory:" {
			db.DSN = filepath.Join(filepath.Dir(absPath), db.DSN)
			cfg.Databases[name] = db
		}
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Remote.BaseURL == "" {
		return fmt.Errorf("remote.base_url must be configured")
	}
	if !strings.HasPrefix(c.Remote.BaseURL, "http://") && !strings.HasPrefix(c.Remote.BaseURL, "https://") {
		return fmt.Errorf("remote.base_url must be an http(s) url")
	}
	if c.Remote.PollIntervalMS < 0 || c.Remote.PollTimeoutSec < 0 || c.Remote.RequestTimeoutSec < 0 {
		return fmt.Errorf("remote timings must not be negative")
	}
	seen := make(map[string]bool, len(c.Accounts))
	for i := range c.Accounts {
		acc := &c.Accounts[i]
		if acc.Username == "" || acc.Password == "" {
			return fmt.Errorf("accounts[%d]: username and password required", i)
		}
		if seen[acc.Username] {
			return fmt.Errorf("accounts[%d]: duplicate username %q", i, acc.Username)
		}
		seen[acc.Username] = true
		switch acc.Role {
		case "":
			acc.Role = RoleUser
		case RoleAdmin, RoleUser:
		default:
			return fmt.Errorf("accounts[%d]: unknown role %q", i, acc.Role)
		}
	}
	return nil
}

func isSQLite(name string) bool {
	name = strings.ToLower(name)
	return name == "sqlite" || name == "sqlite3"
}
