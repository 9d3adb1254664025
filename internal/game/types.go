package game

import (
	"time"
)

type GameType string

const (
	GameTypeDice  GameType = "dice"
	GameTypeCrash GameType = "crash"
	GameTypeRPS   GameType = "rps"
)

// Phase is the authoritative round phase. Dice rounds move
// betting -> rolling -> complete; crash rounds move
// betting -> flying -> crashed -> complete.
type Phase string

const (
	PhaseWaiting  Phase = "waiting"
	PhaseBetting  Phase = "betting"
	PhaseRolling  Phase = "rolling"
	PhaseFlying   Phase = "flying"
	PhaseCrashed  Phase = "crashed"
	PhaseComplete Phase = "complete"
)

// Round is one betting cycle of a game type. The server seed stays
// hidden until the result broadcast; only the commitment is public.
type Round struct {
	ID          string    `json:"round_id"`
	GameType    GameType  `json:"game_type"`
	ServerSeed  string    `json:"-"`
	HashedSeed  string    `json:"hashed_seed"`
	Nonce       int       `json:"nonce"`
	Phase       Phase     `json:"phase"`
	TimeLeft    int       `json:"time_left"`
	CrashPoint  float64   `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// Bet is the in-memory record of one accepted stake. ConnID goes empty
// when the owning connection drops; the bet itself stays resolvable
// until the round settles.
type Bet struct {
	ID             string    `json:"bet_id"`
	UserID         string    `json:"user_id"`
	Username       string    `json:"username"`
	ProfilePicture string    `json:"profile_picture"`
	RoundID        string    `json:"round_id"`
	Amount         float64   `json:"amount"`
	Choice         string    `json:"choice,omitempty"`
	ConnID         string    `json:"-"`
	PlacedAt       time.Time `json:"placed_at"`
	IsCashedOut    bool      `json:"is_cashed_out"`
	CashOutAt      float64   `json:"cash_out_at,omitempty"`
	Payout         float64   `json:"payout"`
	IsWinner       bool      `json:"is_winner"`
}

// DiceOutcome is the resolved dice face and its parity.
type DiceOutcome struct {
	Value int  `json:"dice_value"`
	IsOdd bool `json:"is_odd"`
}

type LobbyStatus string

const (
	LobbyWaiting   LobbyStatus = "waiting"
	LobbyReady     LobbyStatus = "ready"
	LobbyVsBot     LobbyStatus = "vs-bot"
	LobbyCompleted LobbyStatus = "completed"
)

// BotUserID is the sentinel opponent for battles against the house bot.
const BotUserID = "bot"

// LobbyPlayer describes one side of an RPS lobby. The bot sentinel
// uses UserID "bot" and no connection.
type LobbyPlayer struct {
	ConnID         string  `json:"conn_id"`
	UserID         string  `json:"user_id"`
	Username       string  `json:"username"`
	Amount         float64 `json:"amount"`
	ProfilePicture string  `json:"profile_picture"`
}

// Lobby is a two-party RPS matchmaking record. Status transitions
// waiting -> ready|vs-bot exactly once, then -> completed exactly once.
type Lobby struct {
	ID         string       `json:"id"`
	Creator    LobbyPlayer  `json:"creator"`
	Opponent   *LobbyPlayer `json:"opponent,omitempty"`
	Status     LobbyStatus  `json:"status"`
	HashedSeed string       `json:"hashed_seed"`
	ServerSeed string       `json:"-"`
	Nonce      int          `json:"nonce"`
	CreatedAt  time.Time    `json:"created_at"`
	moves      map[string]string
}

// Inbound request/response pairs. Requests are funneled into the owning
// manager's loop over channels; the reply channel carries the verdict
// back to the submitting connection only.

type DiceBetRequest struct {
	UserID         string           `json:"user_id"`
	Username       string           `json:"username"`
	ProfilePicture string           `json:"profile_picture"`
	Amount         float64          `json:"amount"`
	Choice         string           `json:"choice"`
	ConnID         string           `json:"-"`
	Reply          chan BetResponse `json:"-"`
}

type CrashBetRequest struct {
	UserID         string           `json:"user_id"`
	Username       string           `json:"username"`
	ProfilePicture string           `json:"profile_picture"`
	Amount         float64          `json:"amount"`
	AutoCashout    float64          `json:"auto_cashout,omitempty"`
	ConnID         string           `json:"-"`
	Reply          chan BetResponse `json:"-"`
}

type BetResponse struct {
	Success bool    `json:"success"`
	Message string  `json:"message"`
	BetID   string  `json:"bet_id,omitempty"`
	Balance float64 `json:"balance,omitempty"`
	Bet     *Bet    `json:"bet,omitempty"`
}

type CashoutRequest struct {
	UserID string               `json:"user_id"`
	ConnID string               `json:"-"`
	Reply  chan CashoutResponse `json:"-"`
}

type CashoutResponse struct {
	Success    bool    `json:"success"`
	Message    string  `json:"message"`
	Multiplier float64 `json:"multiplier,omitempty"`
	Payout     float64 `json:"payout,omitempty"`
	Balance    float64 `json:"balance,omitempty"`
}

// Outbound broadcast payloads.

type RoundStartedMessage struct {
	GameID     string `json:"gameId"`
	HashedSeed string `json:"hashedSeed"`
	Phase      Phase  `json:"phase"`
	TimeLeft   int    `json:"timeLeft"`
}

type GameStateMessage struct {
	GameID            string      `json:"gameId"`
	HashedSeed        string      `json:"hashedSeed,omitempty"`
	Phase             Phase       `json:"phase"`
	TimeLeft          int         `json:"timeLeft"`
	CurrentMultiplier float64     `json:"currentMultiplier,omitempty"`
	Result            interface{} `json:"result,omitempty"`
}

type PlayerJoinedMessage struct {
	ConnID         string  `json:"playerId"`
	UserID         string  `json:"userId"`
	Username       string  `json:"username"`
	Amount         float64 `json:"amount"`
	Choice         string  `json:"choice,omitempty"`
	ProfilePicture string  `json:"profilePicture"`
	IsCashedOut    bool    `json:"isCashedOut,omitempty"`
	CashOutAt      float64 `json:"cashOutAt,omitempty"`
	Payout         float64 `json:"payout,omitempty"`
}

type MultiplierUpdateMessage struct {
	CurrentMultiplier float64 `json:"currentMultiplier"`
}

type CashedOutMessage struct {
	ConnID    string  `json:"playerId"`
	UserID    string  `json:"userId"`
	Username  string  `json:"username"`
	Amount    float64 `json:"amount"`
	CashOutAt float64 `json:"cashOutAt"`
	Payout    float64 `json:"payout"`
}

type BetRecoveredMessage struct {
	Bet     *Bet   `json:"bet"`
	Message string `json:"message"`
}

// DiceResult is the full result broadcast for a settled dice round and
// the shape retained in the round history ring.
type DiceResult struct {
	GameID       string    `json:"gameId"`
	DiceValue    int       `json:"diceValue"`
	IsOdd        bool      `json:"isOdd"`
	ServerSeed   string    `json:"serverSeed"`
	HashedSeed   string    `json:"hashedSeed"`
	Winners      []*Bet    `json:"winners"`
	Losers       []*Bet    `json:"losers"`
	TotalWagered float64   `json:"totalWagered"`
	TotalPayout  float64   `json:"totalPayout"`
	PlayersCount int       `json:"playersCount"`
	Timestamp    time.Time `json:"timestamp"`
}

// CrashResult is the crash-round counterpart of DiceResult.
type CrashResult struct {
	GameID       string    `json:"gameId"`
	CrashPoint   float64   `json:"crashPoint"`
	ServerSeed   string    `json:"serverSeed"`
	HashedSeed   string    `json:"hashedSeed"`
	Winners      []*Bet    `json:"winners"`
	Losers       []*Bet    `json:"losers"`
	TotalWagered float64   `json:"totalWagered"`
	TotalPayout  float64   `json:"totalPayout"`
	PlayersCount int       `json:"playersCount"`
	Timestamp    time.Time `json:"timestamp"`
}

// BattleResult is the settled outcome of one RPS lobby.
type BattleResult struct {
	ID         string            `json:"id"`
	Player1    LobbyPlayer       `json:"player1"`
	Player2    LobbyPlayer       `json:"player2"`
	Amount     float64           `json:"amount"`
	Payout     float64           `json:"payout"`
	Moves      map[string]string `json:"moves"`
	Winner     string            `json:"winner"`
	IsVsBot    bool              `json:"isVsBot"`
	ServerSeed string            `json:"serverSeed"`
	HashedSeed string            `json:"hashedSeed"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// ChatMessage is one relayed chat entry.
type ChatMessage struct {
	ID             string    `json:"id"`
	UserID         string    `json:"userId"`
	Username       string    `json:"username"`
	Message        string    `json:"message"`
	ProfilePicture string    `json:"profilePicture"`
	Timestamp      time.Time `json:"timestamp"`
}
