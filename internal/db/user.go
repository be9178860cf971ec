package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/imnothoan/verygoodmail/internal/models"
	"github.com/jackc/pgx/v5"
)

// ErrUserNotFound is returned when no mailbox owner matches the lookup.
var ErrUserNotFound = errors.New("user not found")

// GetOrCreateUser returns the user's id for the given email.
// If no user exists with that email, it creates a new one.
func GetOrCreateUser(ctx context.Context, q Querier, email string) (string, error) {
	var userID string

	err := q.QueryRow(ctx, `
		INSERT INTO users (email)
		VALUES ($1)
		ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email
		RETURNING id
	`, normalizeAddress(email)).Scan(&userID)

	if err != nil {
		return "", fmt.Errorf("failed to get or create user: %w", err)
	}

	return userID, nil
}

// GetUserIDByEmail resolves a mailbox address to its owner's id.
func GetUserIDByEmail(ctx context.Context, q Querier, email string) (string, error) {
	var userID string

	err := q.QueryRow(ctx, `
		SELECT id FROM users WHERE email = $1
	`, normalizeAddress(email)).Scan(&userID)

	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrUserNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up user: %w", err)
	}

	return userID, nil
}

// GetUserByID returns the user with the given id.
func GetUserByID(ctx context.Context, q Querier, userID string) (*models.User, error) {
	var user models.User

	err := q.QueryRow(ctx, `
		SELECT id, email, display_name, created_at, updated_at
		FROM users
		WHERE id = $1
	`, userID).Scan(&user.ID, &user.Email, &user.DisplayName, &user.CreatedAt, &user.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &user, nil
}

// SetDisplayName updates the name shown on the user's outgoing mail.
func SetDisplayName(ctx context.Context, q Querier, userID, displayName string) error {
	tag, err := q.Exec(ctx, `
		UPDATE users SET display_name = $2, updated_at = now() WHERE id = $1
	`, userID, displayName)
	if err != nil {
		return fmt.Errorf("failed to set display name: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func normalizeAddress(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
