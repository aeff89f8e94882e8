package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// pair orders two ids so an edge has one row regardless of direction.
func pair(a, b string) (string, string) {
	if a < b {
		return a, b
	}
	return b, a
}

// FriendshipStatus returns the state of the edge between a and b, or
// FriendshipNone when no edge exists. The result does not depend on argument order.
func (db *DB) FriendshipStatus(ctx context.Context, a, b string) (FriendshipState, error) {
	lo, hi := pair(a, b)
	var status string
	err := db.QueryRowContext(ctx, `SELECT status FROM friendships WHERE user_a = ? AND user_b = ?`, lo, hi).Scan(&status)
	if err == sql.ErrNoRows {
		return FriendshipNone, nil
	}
	if err != nil {
		return "", err
	}
	return FriendshipState(status), nil
}

// SetFriendship creates or updates the edge between a and b.
func (db *DB) SetFriendship(ctx context.Context, a, b string, state FriendshipState) error {
	if a == b {
		return fmt.Errorf("friendship with self: %q", a)
	}
	if !state.Valid() {
		return fmt.Errorf("invalid friendship state %q", state)
	}
	lo, hi := pair(a, b)
	now := time.Now().UnixMilli()
	_, err := db.ExecContext(ctx, `
		INSERT INTO friendships (user_a, user_b, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_a, user_b) DO UPDATE SET
			status = excluded.status,
			updated_at = excluded.updated_at`,
		lo, hi, string(state), now, now)
	return err
}

// ListFriends returns the users sharing an accepted edge with userID, by username.
func (db *DB) ListFriends(ctx context.Context, userID string) ([]User, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE id IN (
			SELECT CASE WHEN user_a = ? THEN user_b ELSE user_a END
			FROM friendships
			WHERE (user_a = ? OR user_b = ?) AND status = 'accepted'
		)
		ORDER BY username`,
		userID, userID, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var friends []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		friends = append(friends, *u)
	}
	return friends, rows.Err()
}
