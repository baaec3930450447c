package auth

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"scribeflow/internal/config"
	"scribeflow/internal/redis"
)

const redisTokenPrefix = "auth:token:"

// ErrInvalidCredentials is returned for an unknown user or a wrong password.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Account is an authenticated control API user.
type Account struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// IsAdmin reports whether the account may change configuration.
func (a *Account) IsAdmin() bool {
	return a != nil && a.Role == config.RoleAdmin
}

// Service issues, validates, and revokes account tokens.
type Service struct {
	db         *sql.DB
	cache      *redis.Client
	tokenTTL   time.Duration
	headerName string
}

// NewService constructs an auth service with the supplied token lifetime.
// cache may be nil.
func NewService(db *sql.DB, cache *redis.Client, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{
		db:         db,
		cache:      cache,
		tokenTTL:   ttl,
		headerName: "Authorization",
	}
}

// SyncAccounts makes the accounts table match the configured accounts.
// Accounts whose password or role changed, or that were removed, lose their
// tokens.
func (s *Service) SyncAccounts(ctx context.Context, accounts []config.AccountConfig) error {
	keep := make(map[string]bool, len(accounts))
	for _, acc := range accounts {
		keep[acc.Username] = true
		if err := s.syncAccount(ctx, acc); err != nil {
			return err
		}
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, username FROM accounts`)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}
	var stale []int64
	for rows.Next() {
		var id int64
		var username string
		if err := rows.Scan(&id, &username); err != nil {
			rows.Close()
			return fmt.Errorf("scan account: %w", err)
		}
		if !keep[username] {
			stale = append(stale, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}
	for _, id := range stale {
		if err := s.RevokeUserTokens(ctx, id); err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete account: %w", err)
		}
	}
	return nil
}

func (s *Service) syncAccount(ctx context.Context, acc config.AccountConfig) error {
	role := acc.Role
	if role == "" {
		role = config.RoleUser
	}
	var (
		id      int64
		hash    string
		curRole string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, password_hash, role FROM accounts WHERE username = ?`, acc.Username,
	).Scan(&id, &hash, &curRole)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		newHash, err := hashPassword(acc.Password)
		if err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO accounts (username, password_hash, role, created_at) VALUES (?, ?, ?, ?)`,
			acc.Username, newHash, role, time.Now().UTC(),
		); err != nil {
			return fmt.Errorf("create account: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("lookup account: %w", err)
	}

	if curRole == role && bcrypt.CompareHashAndPassword([]byte(hash), []byte(acc.Password)) == nil {
		return nil
	}
	newHash, err := hashPassword(acc.Password)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET password_hash = ?, role = ? WHERE id = ?`, newHash, role, id,
	); err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	return s.RevokeUserTokens(ctx, id)
}

// Login validates credentials and returns the account.
func (s *Service) Login(ctx context.Context, username, password string) (*Account, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, errors.New("username and password are required")
	}
	var acc Account
	var hash string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, role, password_hash FROM accounts WHERE username = ?`, username,
	).Scan(&acc.ID, &acc.Username, &acc.Role, &hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("query account: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return &acc, nil
}

// IssueToken mints a new random token for the account and persists it.
func (s *Service) IssueToken(ctx context.Context, acc *Account) (string, error) {
	if acc == nil || acc.ID <= 0 {
		return "", errors.New("invalid account")
	}
	now := time.Now().UTC()
	expiresAt := now.Add(s.tokenTTL)
	for i := 0; i < 5; i++ {
		token, err := generateToken()
		if err != nil {
			return "", err
		}
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO user_tokens (token, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
			token, acc.ID, now, expiresAt,
		)
		if err == nil {
			s.cacheToken(ctx, token, acc, s.tokenTTL)
			return token, nil
		}
	}
	return "", errors.New("could not issue token")
}

// ValidateToken verifies the token exists and has not expired, returning the account.
func (s *Service) ValidateToken(ctx context.Context, authToken string) (*Account, error) {
	if authToken == "" {
		return nil, errors.New("token required")
	}
	if acc, ok := s.cachedToken(ctx, authToken); ok {
		return acc, nil
	}
	var acc Account
	var expires time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT a.id, a.username, a.role, t.expires_at
		FROM user_tokens t JOIN accounts a ON a.id = t.user_id
		WHERE t.token = ?`, authToken,
	).Scan(&acc.ID, &acc.Username, &acc.Role, &expires)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.New("invalid token")
		}
		return nil, fmt.Errorf("lookup token: %w", err)
	}
	if time.Now().UTC().After(expires) {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM user_tokens WHERE token = ?`, authToken)
		return nil, errors.New("token expired")
	}
	s.cacheToken(ctx, authToken, &acc, time.Until(expires))
	return &acc, nil
}

// RevokeToken deletes a single token.
func (s *Service) RevokeToken(ctx context.Context, authToken string) error {
	if authToken == "" {
		return nil
	}
	s.uncacheTokens(ctx, authToken)
	if _, err := s.db.ExecContext(ctx, `DELETE FROM user_tokens WHERE token = ?`, authToken); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// RevokeUserTokens removes all tokens belonging to the account.
func (s *Service) RevokeUserTokens(ctx context.Context, userID int64) error {
	if userID <= 0 {
		return nil
	}
	if s.cache.Enabled() {
		rows, err := s.db.QueryContext(ctx, `SELECT token FROM user_tokens WHERE user_id = ?`, userID)
		if err != nil {
			return fmt.Errorf("list user tokens: %w", err)
		}
		var tokens []string
		for rows.Next() {
			var tok string
			if err := rows.Scan(&tok); err == nil {
				tokens = append(tokens, tok)
			}
		}
		rows.Close()
		s.uncacheTokens(ctx, tokens...)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM user_tokens WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("revoke user tokens: %w", err)
	}
	return nil
}

// TokenTTL reports the configured token lifetime.
func (s *Service) TokenTTL() time.Duration {
	return s.tokenTTL
}

// cached tokens are stored as "id|role|username"

func (s *Service) cacheToken(ctx context.Context, token string, acc *Account, ttl time.Duration) {
	if !s.cache.Enabled() || ttl <= 0 {
		return
	}
	value := strconv.FormatInt(acc.ID, 10) + "|" + acc.Role + "|" + acc.Username
	if err := s.cache.Set(ctx, redisTokenPrefix+token, value, ttl); err != nil {
		log.Printf("auth cache token: %v", err)
	}
}

func (s *Service) cachedToken(ctx context.Context, token string) (*Account, bool) {
	if !s.cache.Enabled() {
		return nil, false
	}
	raw, err := s.cache.Get(ctx, redisTokenPrefix+token)
	if err != nil {
		if !errors.Is(err, redis.ErrCacheMiss) {
			log.Printf("auth cache lookup: %v", err)
		}
		return nil, false
	}
	parts := strings.SplitN(raw, "|", 3)
	if len(parts) != 3 {
		return nil, false
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return nil, false
	}
	return &Account{ID: id, Role: parts[1], Username: parts[2]}, true
}

func (s *Service) uncacheTokens(ctx context.Context, tokens ...string) {
	if !s.cache.Enabled() || len(tokens) == 0 {
		return
	}
	keys := make([]string, len(tokens))
	for i, t := range tokens {
		keys[i] = redisTokenPrefix + t
	}
	if err := s.cache.Del(ctx, keys...); err != nil {
		log.Printf("auth cache delete: %v", err)
	}
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
