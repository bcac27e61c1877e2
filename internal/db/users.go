// Package db provides PostgreSQL database access and management for the
// personal-data API.
//
// This file implements the user repository and UserAccountStorage: account
// CRUD, password hashing/reuse checks, and the per-store key/value bag a
// store implementation may use to remember arbitrary bookkeeping about a
// user (e.g. a sync cursor).
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/corestream/datacore/internal/models"
)

// bcryptCost matches internal/auth/tokenhash.go's default.
const bcryptCost = bcrypt.DefaultCost

// passwordHistoryDepth is how many prior password hashes IsPasswordReused
// checks before reporting a password as reused.
const passwordHistoryDepth = 5

// UserDB handles database operations for user accounts and UserAccountStorage.
type UserDB struct {
	db *sql.DB
}

// NewUserDB creates a new UserDB instance.
func NewUserDB(db *sql.DB) *UserDB {
	return &UserDB{db: db}
}

// DB returns the underlying database connection.
func (u *UserDB) DB() *sql.DB {
	return u.db
}

// CreateUser registers a new account, hashing the password and seeding its
// first password-history entry.
func (u *UserDB) CreateUser(ctx context.Context, req *models.RegisterUserRequest) (*models.User, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	language := req.Language
	if language == "" {
		language = "en"
	}

	fields, err := json.Marshal(req.Fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode custom fields: %w", err)
	}

	user := &models.User{
		ID:           uuid.New().String(),
		Username:     req.Username,
		Email:        req.Email,
		Language:     language,
		CustomFields: req.Fields,
		PasswordHash: string(hashed),
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}

	tx, err := u.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO users (id, username, email, language, custom_fields, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, user.ID, user.Username, user.Email, user.Language, fields, user.PasswordHash, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO password_history (user_id, password_hash, time) VALUES ($1, $2, $3)
	`, user.ID, user.PasswordHash, user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to record initial password history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return user, nil
}

func scanUser(row interface {
	Scan(dest ...interface{}) error
}) (*models.User, error) {
	user := &models.User{}
	var fields []byte
	err := row.Scan(&user.ID, &user.Username, &user.Email, &user.Language, &fields,
		&user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &user.CustomFields); err != nil {
			return nil, fmt.Errorf("failed to decode custom fields: %w", err)
		}
	}
	return user, nil
}

// GetUser retrieves a user by id.
func (u *UserDB) GetUser(ctx context.Context, userID string) (*models.User, error) {
	row := u.db.QueryRowContext(ctx, `
		SELECT id, username, email, language, custom_fields, password_hash, created_at, updated_at
		FROM users WHERE id = $1
	`, userID)
	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return user, err
}

// GetUserByUsername retrieves a user by username (case-sensitive; uniqueness
// is enforced by the caller normalizing to lowercase before registration).
func (u *UserDB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	row := u.db.QueryRowContext(ctx, `
		SELECT id, username, email, language, custom_fields, password_hash, created_at, updated_at
		FROM users WHERE username = $1
	`, username)
	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return user, err
}

// GetUserByEmail retrieves a user by email address.
func (u *UserDB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	row := u.db.QueryRowContext(ctx, `
		SELECT id, username, email, language, custom_fields, password_hash, created_at, updated_at
		FROM users WHERE email = $1
	`, email)
	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return user, err
}

// UpdateAccount applies a partial update to email/language/custom fields.
func (u *UserDB) UpdateAccount(ctx context.Context, userID string, req *models.UpdateAccountRequest) error {
	updates := []string{}
	args := []interface{}{}
	argIdx := 1

	if req.Email != nil {
		updates = append(updates, fmt.Sprintf("email = $%d", argIdx))
		args = append(args, *req.Email)
		argIdx++
	}
	if req.Language != nil {
		updates = append(updates, fmt.Sprintf("language = $%d", argIdx))
		args = append(args, *req.Language)
		argIdx++
	}
	if req.Fields != nil {
		encoded, err := json.Marshal(req.Fields)
		if err != nil {
			return fmt.Errorf("failed to encode custom fields: %w", err)
		}
		updates = append(updates, fmt.Sprintf("custom_fields = $%d", argIdx))
		args = append(args, encoded)
		argIdx++
	}

	if len(updates) == 0 {
		return nil
	}

	updates = append(updates, fmt.Sprintf("updated_at = $%d", argIdx))
	args = append(args, time.Now())
	argIdx++
	args = append(args, userID)

	query := fmt.Sprintf("UPDATE users SET %s WHERE id = $%d", join(updates, ", "), argIdx)
	_, err := u.db.ExecContext(ctx, query, args...)
	return err
}

// DeleteUser deletes a user and every row that cascades from it (password
// history, store KV, streams, events and accesses are FK'd ON DELETE
// CASCADE onto users.id). Sessions are keyed by username with no foreign
// key, so they are not removed.
func (u *UserDB) DeleteUser(ctx context.Context, userID string) error {
	_, err := u.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, userID)
	return err
}

// === Password history (UserAccountStorage) ===

// RecentPasswordHashes returns the most recent password hashes for a user,
// newest first, used by IsPasswordReused.
func (u *UserDB) RecentPasswordHashes(ctx context.Context, userID string, limit int) ([]string, error) {
	rows, err := u.db.QueryContext(ctx, `
		SELECT password_hash FROM password_history
		WHERE user_id = $1 ORDER BY time DESC LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	hashes := []string{}
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return nil, err
		}
		hashes = append(hashes, hash)
	}
	return hashes, rows.Err()
}

// IsPasswordReused reports whether candidate matches any of the user's last
// passwordHistoryDepth password hashes.
func (u *UserDB) IsPasswordReused(ctx context.Context, userID, candidate string) (bool, error) {
	hashes, err := u.RecentPasswordHashes(ctx, userID, passwordHistoryDepth)
	if err != nil {
		return false, err
	}
	for _, hash := range hashes {
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(candidate)) == nil {
			return true, nil
		}
	}
	return false, nil
}

// UpdatePassword hashes and stores a new password, recording it in the
// history table so future reuse checks see it.
func (u *UserDB) UpdatePassword(ctx context.Context, userID, newPassword string) error {
	hashed, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcryptCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	tx, err := u.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	if _, err := tx.ExecContext(ctx, `
		UPDATE users SET password_hash = $1, updated_at = $2 WHERE id = $3
	`, string(hashed), now, userID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO password_history (user_id, password_hash, time) VALUES ($1, $2, $3)
	`, userID, string(hashed), now); err != nil {
		return err
	}
	return tx.Commit()
}

// VerifyPassword checks a plaintext password against the stored hash.
func (u *UserDB) VerifyPassword(ctx context.Context, username, password string) (*models.User, error) {
	user, err := u.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("user not found")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, fmt.Errorf("invalid password")
	}
	return user, nil
}

// === Per-store key/value bag (UserAccountStorage) ===

// GetStoreValue retrieves one key from a store's per-user KV bag, or nil if unset.
func (u *UserDB) GetStoreValue(ctx context.Context, storeID, userID, key string) (json.RawMessage, error) {
	var value json.RawMessage
	err := u.db.QueryRowContext(ctx, `
		SELECT value FROM store_kv WHERE store_id = $1 AND user_id = $2 AND key = $3
	`, storeID, userID, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return value, err
}

// SetStoreValue upserts one key in a store's per-user KV bag.
func (u *UserDB) SetStoreValue(ctx context.Context, storeID, userID, key string, value json.RawMessage) error {
	_, err := u.db.ExecContext(ctx, `
		INSERT INTO store_kv (store_id, user_id, key, value, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (store_id, user_id, key) DO UPDATE SET value = $4, updated_at = $5
	`, storeID, userID, key, value, time.Now())
	return err
}

// DeleteStoreValue removes one key from a store's per-user KV bag.
func (u *UserDB) DeleteStoreValue(ctx context.Context, storeID, userID, key string) error {
	_, err := u.db.ExecContext(ctx, `
		DELETE FROM store_kv WHERE store_id = $1 AND user_id = $2 AND key = $3
	`, storeID, userID, key)
	return err
}

// join concatenates strs with sep; used to build dynamic UPDATE clauses.
func join(strs []string, sep string) string {
	if len(strs) == 0 {
		return ""
	}
	result := strs[0]
	for i := 1; i < len(strs); i++ {
		result += sep + strs[i]
	}
	return result
}
