package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"n1verse/internal/game"
)

// UpdateUserBalance applies a ledger movement. BalanceSubtract is
// guarded in the statement itself: it only lands when the balance
// covers the amount, so a race can never push a balance negative.
func (s *service) UpdateUserBalance(ctx context.Context, userID string, amount float64, op game.BalanceOp) (bool, error) {
	var query string
	switch op {
	case game.BalanceAdd:
		query = `UPDATE users SET balance = balance + $1, updated_at = NOW() WHERE id = $2`
	case game.BalanceSubtract:
		query = `UPDATE users SET balance = balance - $1, updated_at = NOW() WHERE id = $2 AND balance >= $1`
	case game.BalanceSet:
		query = `UPDATE users SET balance = $1, updated_at = NOW() WHERE id = $2`
	default:
		return false, fmt.Errorf("unknown balance op %q", op)
	}

	tag, err := s.pool.Exec(ctx, query, amount, userID)
	if err != nil {
		return false, fmt.Errorf("update balance for user %s: %w", userID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *service) UpdateUserStats(ctx context.Context, userID string, wagered, won float64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE users
		SET total_wagered = total_wagered + $1,
		    total_won = total_won + $2,
		    games_played = games_played + 1,
		    updated_at = NOW()
		WHERE id = $3`,
		wagered, won, userID,
	)
	if err != nil {
		return fmt.Errorf("update stats for user %s: %w", userID, err)
	}
	return nil
}

func (s *service) GetUserByID(ctx context.Context, userID string) (*game.User, error) {
	var user game.User
	err := s.pool.QueryRow(ctx, `
		SELECT id, username, balance, COALESCE(profile_picture, '')
		FROM users WHERE id = $1`,
		userID,
	).Scan(&user.ID, &user.Username, &user.Balance, &user.ProfilePicture)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", userID, err)
	}
	return &user, nil
}

func (s *service) GetUserProfilePicture(ctx context.Context, userID string) (string, error) {
	var picture string
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(profile_picture, '') FROM users WHERE id = $1`,
		userID,
	).Scan(&picture)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get profile picture for user %s: %w", userID, err)
	}
	return picture, nil
}

// EnsureUser registers a user on first contact with the starting
// balance, leaving existing rows untouched.
func (s *service) EnsureUser(ctx context.Context, userID, username, profilePicture string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, username, profile_picture)
		VALUES ($1, $2, NULLIF($3, ''))
		ON CONFLICT (id) DO UPDATE
		SET username = EXCLUDED.username,
		    profile_picture = COALESCE(EXCLUDED.profile_picture, users.profile_picture),
		    updated_at = NOW()`,
		userID, username, profilePicture,
	)
	if err != nil {
		return fmt.Errorf("ensure user %s: %w", userID, err)
	}
	return nil
}
