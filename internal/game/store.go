package game

import (
	"context"
)

// BalanceOp selects how UpdateUserBalance applies its amount.
type BalanceOp string

const (
	BalanceAdd      BalanceOp = "add"
	BalanceSubtract BalanceOp = "subtract"
	BalanceSet      BalanceOp = "set"
)

// User is the read-only profile shape consumed when building payloads.
type User struct {
	ID             string  `json:"id"`
	Username       string  `json:"username"`
	Balance        float64 `json:"balance"`
	ProfilePicture string  `json:"profile_picture"`
}

// RoundCompletion is the final persisted summary of a settled round.
type RoundCompletion struct {
	DiceValue    int
	IsOdd        bool
	CrashPoint   float64
	TotalWagered float64
	TotalPayout  float64
	PlayersCount int
}

// BattleRecord is the persisted form of an RPS battle.
type BattleRecord struct {
	ID         string
	LobbyID    string
	Player1ID  string
	Player2ID  string // empty for bot
	Amount     float64
	ServerSeed string
	HashedSeed string
	Nonce      int
	IsVsBot    bool
}

// UserHistoryEntry is one row of a player's personal RPS history.
type UserHistoryEntry struct {
	ID               string
	UserID           string
	OpponentID       string
	OpponentUsername string
	UserMove         string
	OpponentMove     string
	Result           string // win, lose, draw
	Amount           float64
	Payout           float64
	IsVsBot          bool
}

// RecentBattle is one row of the public recent-battles feed.
type RecentBattle struct {
	ID              string
	Player1ID       string
	Player1Username string
	Player1Avatar   string
	Player1Move     string
	Player2ID       string
	Player2Username string
	Player2Avatar   string
	Player2Move     string
	WinnerID        string
	WinnerUsername  string
	Amount          float64
	Payout          float64
	IsVsBot         bool
}

// Store is the persistence collaborator the game engines run against.
// Implemented by internal/database; tests substitute an in-memory fake.
type Store interface {
	CreateRound(ctx context.Context, round *Round) error
	CompleteRound(ctx context.Context, gameType GameType, roundID string, result RoundCompletion) error

	// PlaceBet must atomically check round-is-open, user-exists and
	// no-duplicate-bet before inserting; it returns false on any
	// violation without error.
	PlaceBet(ctx context.Context, gameType GameType, bet *Bet) (bool, error)
	UpdateBetResult(ctx context.Context, gameType GameType, betID string, isWinner bool, payout float64) error
	CashOutBet(ctx context.Context, betID string, multiplier, payout float64) error
	GetActiveBetForUser(ctx context.Context, userID, roundID string) (*Bet, error)

	// UpdateUserBalance with BalanceSubtract must fail (no-op, false)
	// if it would drive the balance negative.
	UpdateUserBalance(ctx context.Context, userID string, amount float64, op BalanceOp) (bool, error)
	UpdateUserStats(ctx context.Context, userID string, wagered, won float64) error
	GetUserByID(ctx context.Context, userID string) (*User, error)
	GetUserProfilePicture(ctx context.Context, userID string) (string, error)

	CreateLobby(ctx context.Context, lobby *Lobby) error
	UpdateLobbyStatus(ctx context.Context, lobbyID string, status LobbyStatus, opponentID string) error
	CreateBattle(ctx context.Context, battle *BattleRecord) error
	CompleteBattle(ctx context.Context, battleID, player1Move, player2Move, winnerID string, payout float64) error
	AddUserHistory(ctx context.Context, entry *UserHistoryEntry) error
	AddRecentBattle(ctx context.Context, battle *RecentBattle) error
}

// Broadcaster is the fan-out side of the hub as seen by the game engines.
type Broadcaster interface {
	Publish(room, event string, payload interface{})
}
