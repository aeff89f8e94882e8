package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// ErrUsernameTaken is returned by CreateUser when the username already exists.
var ErrUsernameTaken = errors.New("username already taken")

const userColumns = `id, username, password_hash, status, is_online, last_seen, created_at`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var (
		u                   User
		lastSeen, createdAt int64
	)
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Status, &u.IsOnline, &lastSeen, &createdAt); err != nil {
		return nil, err
	}
	u.LastSeen = fromMillis(lastSeen)
	u.CreatedAt = fromMillis(createdAt)
	return &u, nil
}

// CreateUser inserts a user with a bcrypt hash of password. An empty
// password stores an empty hash, which no login attempt can match.
func (db *DB) CreateUser(ctx context.Context, username, password string) (*User, error) {
	var hash string
	if password != "" {
		h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		hash = string(h)
	}

	existing, err := db.FindUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrUsernameTaken
	}

	now := time.Now()
	u := &User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: hash,
		Status:       "Hey there! I am using pigeon.",
		LastSeen:     now,
		CreatedAt:    now,
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, status, is_online, last_seen, created_at)
		VALUES (?, ?, ?, ?, 0, ?, ?)`,
		u.ID, u.Username, u.PasswordHash, u.Status, millis(now), millis(now))
	if err != nil {
		return nil, err
	}
	return u, nil
}

// FindUserByID returns a user by id, or nil if none exists.
func (db *DB) FindUserByID(ctx context.Context, id string) (*User, error) {
	u, err := scanUser(db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}

// FindUserByUsername returns a user by username, or nil if none exists.
func (db *DB) FindUserByUsername(ctx context.Context, username string) (*User, error) {
	u, err := scanUser(db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}

// CheckPassword reports whether password matches the user's stored hash.
func CheckPassword(u *User, password string) bool {
	if u == nil || u.PasswordHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}

// UpdateUserPresence persists the online flag and last-seen time.
func (db *DB) UpdateUserPresence(ctx context.Context, id string, online bool, lastSeen time.Time) error {
	_, err := db.ExecContext(ctx, `UPDATE users SET is_online = ?, last_seen = ? WHERE id = ?`,
		online, millis(lastSeen), id)
	return err
}

// UpdateUserStatus persists the user's status text.
func (db *DB) UpdateUserStatus(ctx context.Context, id, status string) error {
	_, err := db.ExecContext(ctx, `UPDATE users SET status = ? WHERE id = ?`, status, id)
	return err
}

// ResetPresence marks every user offline. Called at startup, since no
// connection survives a daemon restart.
func (db *DB) ResetPresence(ctx context.Context) (int64, error) {
	res, err := db.ExecContext(ctx, `UPDATE users SET is_online = 0 WHERE is_online = 1`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
