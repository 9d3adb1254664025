package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"n1verse/internal/game"
)

func (s *service) CreateRound(ctx context.Context, round *game.Round) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rounds (id, game_type, server_seed, hashed_seed, nonce, phase, crash_point, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		round.ID, round.GameType, round.ServerSeed, round.HashedSeed,
		round.Nonce, round.Phase, round.CrashPoint, round.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create round %s: %w", round.ID, err)
	}
	return nil
}

func (s *service) CompleteRound(ctx context.Context, gameType game.GameType, roundID string, result game.RoundCompletion) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE rounds
		SET phase = 'complete',
		    dice_value = $1,
		    is_odd = $2,
		    crash_point = $3,
		    total_wagered = $4,
		    total_payout = $5,
		    players_count = $6,
		    completed_at = NOW()
		WHERE id = $7 AND game_type = $8`,
		nullableInt(result.DiceValue), result.IsOdd, result.CrashPoint,
		result.TotalWagered, result.TotalPayout, result.PlayersCount,
		roundID, gameType,
	)
	if err != nil {
		return fmt.Errorf("complete round %s: %w", roundID, err)
	}
	return nil
}

// PlaceBet inserts the bet only if the round is still open, the user
// exists and the user has no bet on this round yet; one statement, so
// the checks and the insert cannot interleave with a competing bet.
func (s *service) PlaceBet(ctx context.Context, gameType game.GameType, bet *game.Bet) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO bets (id, game_type, round_id, user_id, username, amount, choice, auto_cashout, placed_at)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9
		WHERE EXISTS (SELECT 1 FROM users WHERE id = $4)
		  AND EXISTS (SELECT 1 FROM rounds WHERE id = $3 AND phase = 'betting')
		  AND NOT EXISTS (SELECT 1 FROM bets WHERE round_id = $3 AND user_id = $4)`,
		bet.ID, gameType, bet.RoundID, bet.UserID, bet.Username,
		bet.Amount, nullableString(bet.Choice), nullableFloat(bet.CashOutAt), bet.PlacedAt,
	)
	if err != nil {
		return false, fmt.Errorf("place bet for user %s: %w", bet.UserID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *service) UpdateBetResult(ctx context.Context, gameType game.GameType, betID string, isWinner bool, payout float64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE bets SET is_winner = $1, payout = $2 WHERE id = $3 AND game_type = $4`,
		isWinner, payout, betID, gameType,
	)
	if err != nil {
		return fmt.Errorf("update bet result %s: %w", betID, err)
	}
	return nil
}

func (s *service) CashOutBet(ctx context.Context, betID string, multiplier, payout float64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE bets
		SET is_cashed_out = TRUE, cash_out_at = $1, payout = $2, is_winner = TRUE
		WHERE id = $3 AND is_cashed_out = FALSE`,
		multiplier, payout, betID,
	)
	if err != nil {
		return fmt.Errorf("cash out bet %s: %w", betID, err)
	}
	return nil
}

func (s *service) GetActiveBetForUser(ctx context.Context, userID, roundID string) (*game.Bet, error) {
	var bet game.Bet
	var choice, username *string
	var cashOutAt *float64

	err := s.pool.QueryRow(ctx, `
		SELECT b.id, b.round_id, b.user_id, b.username, b.amount, b.choice,
		       b.is_cashed_out, b.cash_out_at, b.payout, b.placed_at,
		       COALESCE(u.profile_picture, '')
		FROM bets b
		LEFT JOIN users u ON u.id = b.user_id
		WHERE b.user_id = $1 AND b.round_id = $2`,
		userID, roundID,
	).Scan(&bet.ID, &bet.RoundID, &bet.UserID, &username, &bet.Amount, &choice,
		&bet.IsCashedOut, &cashOutAt, &bet.Payout, &bet.PlacedAt, &bet.ProfilePicture)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active bet for user %s: %w", userID, err)
	}

	if username != nil {
		bet.Username = *username
	}
	if choice != nil {
		bet.Choice = *choice
	}
	if cashOutAt != nil {
		bet.CashOutAt = *cashOutAt
	}
	return &bet, nil
}

func nullableInt(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}

func nullableFloat(v float64) *float64 {
	if v == 0 {
		return nil
	}
	return &v
}

func nullableString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
