package database

import (
	"context"
	"fmt"

	"n1verse/internal/game"
)

func (s *service) CreateLobby(ctx context.Context, lobby *game.Lobby) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rps_lobbies (id, creator_id, amount, status, server_seed, hashed_seed, nonce, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		lobby.ID, lobby.Creator.UserID, lobby.Creator.Amount, lobby.Status,
		lobby.ServerSeed, lobby.HashedSeed, lobby.Nonce, lobby.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create lobby %s: %w", lobby.ID, err)
	}
	return nil
}

func (s *service) UpdateLobbyStatus(ctx context.Context, lobbyID string, status game.LobbyStatus, opponentID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE rps_lobbies
		SET status = $1, opponent_id = NULLIF($2, ''), updated_at = NOW()
		WHERE id = $3`,
		status, opponentID, lobbyID,
	)
	if err != nil {
		return fmt.Errorf("update lobby %s: %w", lobbyID, err)
	}
	return nil
}

func (s *service) CreateBattle(ctx context.Context, battle *game.BattleRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rps_battles (id, lobby_id, player1_id, player2_id, amount, server_seed, hashed_seed, nonce, is_vs_bot)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9)`,
		battle.ID, battle.LobbyID, battle.Player1ID, battle.Player2ID,
		battle.Amount, battle.ServerSeed, battle.HashedSeed, battle.Nonce, battle.IsVsBot,
	)
	if err != nil {
		return fmt.Errorf("create battle %s: %w", battle.ID, err)
	}
	return nil
}

func (s *service) CompleteBattle(ctx context.Context, battleID, player1Move, player2Move, winnerID string, payout float64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE rps_battles
		SET player1_move = $1, player2_move = $2, winner_id = NULLIF($3, ''),
		    payout = $4, completed_at = NOW()
		WHERE id = $5`,
		player1Move, player2Move, winnerID, payout, battleID,
	)
	if err != nil {
		return fmt.Errorf("complete battle %s: %w", battleID, err)
	}
	return nil
}

func (s *service) AddUserHistory(ctx context.Context, entry *game.UserHistoryEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rps_user_history
			(id, user_id, opponent_id, opponent_username, user_move, opponent_move, result, amount, payout, is_vs_bot)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.ID, entry.UserID, entry.OpponentID, entry.OpponentUsername,
		entry.UserMove, entry.OpponentMove, entry.Result, entry.Amount,
		entry.Payout, entry.IsVsBot,
	)
	if err != nil {
		return fmt.Errorf("add history for user %s: %w", entry.UserID, err)
	}
	return nil
}

// AddRecentBattle appends to the public feed and trims it back to the
// newest fifty rows.
func (s *service) AddRecentBattle(ctx context.Context, battle *game.RecentBattle) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rps_recent_battles
			(id, player1_id, player1_username, player1_avatar, player1_move,
			 player2_id, player2_username, player2_avatar, player2_move,
			 winner_id, winner_username, amount, payout, is_vs_bot)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''), $11, $12, $13, $14)`,
		battle.ID, battle.Player1ID, battle.Player1Username, battle.Player1Avatar, battle.Player1Move,
		battle.Player2ID, battle.Player2Username, battle.Player2Avatar, battle.Player2Move,
		battle.WinnerID, battle.WinnerUsername, battle.Amount, battle.Payout, battle.IsVsBot,
	)
	if err != nil {
		return fmt.Errorf("add recent battle %s: %w", battle.ID, err)
	}

	_, err = s.pool.Exec(ctx, `
		DELETE FROM rps_recent_battles
		WHERE id NOT IN (
			SELECT id FROM rps_recent_battles ORDER BY created_at DESC LIMIT 50
		)`)
	if err != nil {
		return fmt.Errorf("trim recent battles: %w", err)
	}
	return nil
}
