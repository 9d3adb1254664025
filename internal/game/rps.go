package game

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrLobbyNotFound   = errors.New("lobby not found")
	ErrLobbyNotWaiting = errors.New("lobby is no longer open")
	ErrOwnLobby        = errors.New("cannot join your own lobby")
	ErrNotInLobby      = errors.New("you are not part of this lobby")
	ErrInvalidMove     = errors.New("move must be rock, paper or scissors")
	ErrInvalidStake    = errors.New("invalid stake")
	ErrInsufficient    = errors.New("insufficient balance")
	ErrTooManyLobbies  = errors.New("lobby limit reached")
)

func validRPSMove(move string) bool {
	return move == "rock" || move == "paper" || move == "scissors"
}

// RPSManager owns the lobby table for rock-paper-scissors battles.
// Lobbies are short-lived; a mutex is enough here, there is no
// long-running round loop to serialize against.
type RPSManager struct {
	store   Store
	hub     Broadcaster
	settler *Settler
	cfg     Config
	ctx     context.Context

	mu      sync.Mutex
	lobbies map[string]*Lobby
	timers  map[string]*time.Timer
	history []*BattleResult
	nonce   int
	stopped bool
}

func NewRPSManager(store Store, hub Broadcaster, cfg Config) *RPSManager {
	return &RPSManager{
		store:   store,
		hub:     hub,
		settler: NewSettler(store),
		cfg:     cfg,
		ctx:     context.Background(),
		lobbies: make(map[string]*Lobby),
		timers:  make(map[string]*time.Timer),
	}
}

// Stop cancels every pending expiry timer and refunds open lobbies.
func (m *RPSManager) Stop() {
	m.mu.Lock()
	m.stopped = true
	open := make([]*Lobby, 0, len(m.lobbies))
	for id, timer := range m.timers {
		timer.Stop()
		delete(m.timers, id)
	}
	for id, lobby := range m.lobbies {
		if lobby.Status == LobbyWaiting {
			open = append(open, lobby)
		}
		delete(m.lobbies, id)
	}
	m.mu.Unlock()

	for _, lobby := range open {
		m.refund(lobby.Creator)
	}
}

// Lobbies returns the currently open (waiting) lobbies.
func (m *RPSManager) Lobbies() []*Lobby {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Lobby, 0, len(m.lobbies))
	for _, lobby := range m.lobbies {
		if lobby.Status == LobbyWaiting {
			out = append(out, lobby)
		}
	}
	return out
}

// History returns recent battle results, newest first.
func (m *RPSManager) History() []*BattleResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*BattleResult, len(m.history))
	copy(out, m.history)
	return out
}

// CreateLobby debits the creator's stake, opens a lobby and arms its
// expiry timer. The seed commitment is public from the start; the seed
// itself is revealed only with the battle result.
func (m *RPSManager) CreateLobby(creator LobbyPlayer) (*Lobby, error) {
	if creator.Amount < MIN_BET_AMOUNT || creator.Amount > m.cfg.MaxBetAmount {
		return nil, ErrInvalidStake
	}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil, errors.New("lobby manager stopped")
	}
	if len(m.lobbies) >= MAX_LOBBIES {
		m.mu.Unlock()
		return nil, ErrTooManyLobbies
	}
	m.nonce++
	nonce := m.nonce
	m.mu.Unlock()

	ok, err := m.store.UpdateUserBalance(m.ctx, creator.UserID, creator.Amount, BalanceSubtract)
	if err != nil {
		log.Printf("[RPS] Stake debit failed for user %s: %v", creator.UserID, err)
		return nil, errors.New("lobby could not be created")
	}
	if !ok {
		return nil, ErrInsufficient
	}

	serverSeed := GenerateSeed()
	lobby := &Lobby{
		ID:         fmt.Sprintf("rps_%d_%s", time.Now().Unix(), uuid.NewString()[:8]),
		Creator:    creator,
		Status:     LobbyWaiting,
		ServerSeed: serverSeed,
		HashedSeed: HashCommitment(serverSeed),
		Nonce:      nonce,
		CreatedAt:  time.Now(),
		moves:      make(map[string]string),
	}

	if err := m.store.CreateLobby(m.ctx, lobby); err != nil {
		log.Printf("[RPS] CreateLobby persist failed: %v", err)
		m.refund(creator)
		return nil, errors.New("lobby could not be created")
	}

	m.mu.Lock()
	m.lobbies[lobby.ID] = lobby
	m.timers[lobby.ID] = time.AfterFunc(LOBBY_TIMEOUT, func() { m.expireLobby(lobby.ID) })
	m.mu.Unlock()

	log.Printf("[RPS] Lobby %s created by %s for %.2f", lobby.ID, creator.Username, creator.Amount)
	m.hub.Publish(RoomRPS, "lobby-created", lobby)
	return lobby, nil
}

// expireLobby refunds and removes a lobby that nobody joined in time.
func (m *RPSManager) expireLobby(lobbyID string) {
	m.mu.Lock()
	lobby, ok := m.lobbies[lobbyID]
	if !ok || lobby.Status != LobbyWaiting {
		m.mu.Unlock()
		return
	}
	delete(m.lobbies, lobbyID)
	delete(m.timers, lobbyID)
	m.mu.Unlock()

	m.refund(lobby.Creator)
	if err := m.store.UpdateLobbyStatus(m.ctx, lobbyID, "expired", ""); err != nil {
		log.Printf("[RPS] Lobby %s expiry persist failed: %v", lobbyID, err)
	}

	log.Printf("[RPS] Lobby %s expired, stake refunded", lobbyID)
	m.hub.Publish(RoomRPS, "lobby-removed", map[string]string{"lobbyId": lobbyID, "reason": "expired"})
}

// RemoveForConn tears down waiting lobbies whose creator's connection
// dropped, refunding the stake.
func (m *RPSManager) RemoveForConn(connID string) {
	m.mu.Lock()
	var doomed []*Lobby
	for id, lobby := range m.lobbies {
		if lobby.Status == LobbyWaiting && lobby.Creator.ConnID == connID {
			doomed = append(doomed, lobby)
			delete(m.lobbies, id)
			if timer, ok := m.timers[id]; ok {
				timer.Stop()
				delete(m.timers, id)
			}
		}
	}
	m.mu.Unlock()

	for _, lobby := range doomed {
		m.refund(lobby.Creator)
		if err := m.store.UpdateLobbyStatus(m.ctx, lobby.ID, "cancelled", ""); err != nil {
			log.Printf("[RPS] Lobby %s cancel persist failed: %v", lobby.ID, err)
		}
		log.Printf("[RPS] Lobby %s removed, creator disconnected", lobby.ID)
		m.hub.Publish(RoomRPS, "lobby-removed", map[string]string{"lobbyId": lobby.ID, "reason": "creator-disconnected"})
	}
}

// JoinLobby debits the joiner at the creator's stake and flips the lobby
// to ready. The waiting -> ready transition happens exactly once.
func (m *RPSManager) JoinLobby(lobbyID string, joiner LobbyPlayer) (*Lobby, error) {
	m.mu.Lock()
	lobby, ok := m.lobbies[lobbyID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrLobbyNotFound
	}
	if lobby.Status != LobbyWaiting {
		m.mu.Unlock()
		return nil, ErrLobbyNotWaiting
	}
	if lobby.Creator.UserID == joiner.UserID {
		m.mu.Unlock()
		return nil, ErrOwnLobby
	}
	m.mu.Unlock()

	joiner.Amount = lobby.Creator.Amount
	ok, err := m.store.UpdateUserBalance(m.ctx, joiner.UserID, joiner.Amount, BalanceSubtract)
	if err != nil {
		log.Printf("[RPS] Stake debit failed for user %s: %v", joiner.UserID, err)
		return nil, errors.New("could not join lobby")
	}
	if !ok {
		return nil, ErrInsufficient
	}

	m.mu.Lock()
	// Re-check under lock; the lobby may have expired or been taken
	// while the debit was in flight.
	lobby, ok = m.lobbies[lobbyID]
	if !ok || lobby.Status != LobbyWaiting {
		m.mu.Unlock()
		m.refund(joiner)
		if !ok {
			return nil, ErrLobbyNotFound
		}
		return nil, ErrLobbyNotWaiting
	}
	lobby.Status = LobbyReady
	lobby.Opponent = &joiner
	if timer, tok := m.timers[lobbyID]; tok {
		timer.Stop()
		delete(m.timers, lobbyID)
	}
	m.mu.Unlock()

	if err := m.store.UpdateLobbyStatus(m.ctx, lobbyID, LobbyReady, joiner.UserID); err != nil {
		log.Printf("[RPS] Lobby %s ready persist failed: %v", lobbyID, err)
	}

	log.Printf("[RPS] %s joined lobby %s", joiner.Username, lobbyID)
	m.hub.Publish(RoomRPS, "lobby-updated", lobby)
	m.hub.Publish(LobbyRoom(lobbyID), "lobby-ready", lobby)
	return lobby, nil
}

// PlayBot summons the house bot into the caller's waiting lobby.
func (m *RPSManager) PlayBot(lobbyID, userID string) (*Lobby, error) {
	m.mu.Lock()
	lobby, ok := m.lobbies[lobbyID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrLobbyNotFound
	}
	if lobby.Status != LobbyWaiting {
		m.mu.Unlock()
		return nil, ErrLobbyNotWaiting
	}
	if lobby.Creator.UserID != userID {
		m.mu.Unlock()
		return nil, ErrNotInLobby
	}
	lobby.Status = LobbyVsBot
	lobby.Opponent = &LobbyPlayer{
		UserID:   BotUserID,
		Username: "House Bot",
		Amount:   lobby.Creator.Amount,
	}
	if timer, tok := m.timers[lobbyID]; tok {
		timer.Stop()
		delete(m.timers, lobbyID)
	}
	m.mu.Unlock()

	if err := m.store.UpdateLobbyStatus(m.ctx, lobbyID, LobbyVsBot, BotUserID); err != nil {
		log.Printf("[RPS] Lobby %s vs-bot persist failed: %v", lobbyID, err)
	}

	log.Printf("[RPS] Lobby %s switched to vs-bot", lobbyID)
	m.hub.Publish(RoomRPS, "lobby-updated", lobby)
	m.hub.Publish(LobbyRoom(lobbyID), "bot-joined", lobby)
	return lobby, nil
}

// SubmitMove records one player's move. Against the bot the battle
// resolves immediately; PvP resolves once both moves are in.
func (m *RPSManager) SubmitMove(lobbyID, userID, move string) (*BattleResult, error) {
	if !validRPSMove(move) {
		return nil, ErrInvalidMove
	}

	m.mu.Lock()
	lobby, ok := m.lobbies[lobbyID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrLobbyNotFound
	}
	if lobby.Status != LobbyReady && lobby.Status != LobbyVsBot {
		m.mu.Unlock()
		return nil, ErrLobbyNotWaiting
	}
	isParty := lobby.Creator.UserID == userID ||
		(lobby.Opponent != nil && lobby.Opponent.UserID == userID)
	if !isParty {
		m.mu.Unlock()
		return nil, ErrNotInLobby
	}
	if _, dup := lobby.moves[userID]; dup {
		m.mu.Unlock()
		return nil, errors.New("move already submitted")
	}
	lobby.moves[userID] = move

	if lobby.Status == LobbyVsBot {
		lobby.moves[BotUserID] = RPSMove(lobby.ServerSeed, lobby.Nonce)
	}

	complete := len(lobby.moves) >= 2
	if complete {
		lobby.Status = LobbyCompleted
		delete(m.lobbies, lobbyID)
	}
	m.mu.Unlock()

	if !complete {
		m.hub.Publish(LobbyRoom(lobbyID), "moves-update", map[string]interface{}{
			"lobbyId":        lobbyID,
			"movesSubmitted": 1,
			"movesNeeded":    2,
		})
		return nil, nil
	}

	return m.resolveBattle(lobby), nil
}

func (m *RPSManager) resolveBattle(lobby *Lobby) *BattleResult {
	creatorMove := lobby.moves[lobby.Creator.UserID]
	opponentMove := lobby.moves[lobby.Opponent.UserID]
	verdict := DetermineRPSWinner(creatorMove, opponentMove)
	winnerID, payout := m.settler.SettleRPS(m.ctx, lobby, verdict)
	isVsBot := lobby.Opponent.UserID == BotUserID

	battleID := uuid.NewString()
	if err := m.store.CreateBattle(m.ctx, &BattleRecord{
		ID:         battleID,
		LobbyID:    lobby.ID,
		Player1ID:  lobby.Creator.UserID,
		Player2ID:  lobby.Opponent.UserID,
		Amount:     lobby.Creator.Amount,
		ServerSeed: lobby.ServerSeed,
		HashedSeed: lobby.HashedSeed,
		Nonce:      lobby.Nonce,
		IsVsBot:    isVsBot,
	}); err != nil {
		log.Printf("[RPS] CreateBattle persist failed for lobby %s: %v", lobby.ID, err)
	}
	if err := m.store.CompleteBattle(m.ctx, battleID, creatorMove, opponentMove, winnerID, payout); err != nil {
		log.Printf("[RPS] CompleteBattle persist failed for %s: %v", battleID, err)
	}
	m.persistHistory(battleID, lobby, creatorMove, opponentMove, verdict, winnerID, payout, isVsBot)

	result := &BattleResult{
		ID:      battleID,
		Player1: lobby.Creator,
		Player2: *lobby.Opponent,
		Amount:  lobby.Creator.Amount,
		Payout:  payout,
		Moves: map[string]string{
			lobby.Creator.UserID:  creatorMove,
			lobby.Opponent.UserID: opponentMove,
		},
		Winner:     winnerID,
		IsVsBot:    isVsBot,
		ServerSeed: lobby.ServerSeed,
		HashedSeed: lobby.HashedSeed,
		CreatedAt:  time.Now(),
	}

	m.mu.Lock()
	m.history = append([]*BattleResult{result}, m.history...)
	if len(m.history) > RPS_HISTORY_SIZE {
		m.history = m.history[:RPS_HISTORY_SIZE]
	}
	m.mu.Unlock()

	log.Printf("[RPS] Battle %s resolved: %s vs %s, winner %s, payout %.2f",
		battleID, creatorMove, opponentMove, winnerID, payout)

	m.hub.Publish(LobbyRoom(lobby.ID), "battle-result", result)
	m.hub.Publish(RoomRPS, "battle-result", result)
	m.hub.Publish(RoomRPS, "lobby-removed", map[string]string{"lobbyId": lobby.ID, "reason": "completed"})
	return result
}

// persistHistory writes both players' personal history rows and the
// public recent-battles row.
func (m *RPSManager) persistHistory(battleID string, lobby *Lobby, creatorMove, opponentMove, verdict, winnerID string, payout float64, isVsBot bool) {
	resultFor := func(side string) string {
		if verdict == "draw" {
			return "draw"
		}
		if verdict == side {
			return "win"
		}
		return "lose"
	}
	payoutFor := func(side string) float64 {
		if verdict == "draw" {
			return lobby.Creator.Amount
		}
		if verdict == side {
			return payout
		}
		return 0
	}

	if err := m.store.AddUserHistory(m.ctx, &UserHistoryEntry{
		ID:               uuid.NewString(),
		UserID:           lobby.Creator.UserID,
		OpponentID:       lobby.Opponent.UserID,
		OpponentUsername: lobby.Opponent.Username,
		UserMove:         creatorMove,
		OpponentMove:     opponentMove,
		Result:           resultFor("player1"),
		Amount:           lobby.Creator.Amount,
		Payout:           payoutFor("player1"),
		IsVsBot:          isVsBot,
	}); err != nil {
		log.Printf("[RPS] AddUserHistory failed for user %s: %v", lobby.Creator.UserID, err)
	}

	if !isVsBot {
		if err := m.store.AddUserHistory(m.ctx, &UserHistoryEntry{
			ID:               uuid.NewString(),
			UserID:           lobby.Opponent.UserID,
			OpponentID:       lobby.Creator.UserID,
			OpponentUsername: lobby.Creator.Username,
			UserMove:         opponentMove,
			OpponentMove:     creatorMove,
			Result:           resultFor("player2"),
			Amount:           lobby.Opponent.Amount,
			Payout:           payoutFor("player2"),
			IsVsBot:          false,
		}); err != nil {
			log.Printf("[RPS] AddUserHistory failed for user %s: %v", lobby.Opponent.UserID, err)
		}
	}

	winnerUsername := ""
	switch winnerID {
	case lobby.Creator.UserID:
		winnerUsername = lobby.Creator.Username
	case "":
	default:
		winnerUsername = lobby.Opponent.Username
	}

	if err := m.store.AddRecentBattle(m.ctx, &RecentBattle{
		ID:              battleID,
		Player1ID:       lobby.Creator.UserID,
		Player1Username: lobby.Creator.Username,
		Player1Avatar:   lobby.Creator.ProfilePicture,
		Player1Move:     creatorMove,
		Player2ID:       lobby.Opponent.UserID,
		Player2Username: lobby.Opponent.Username,
		Player2Avatar:   lobby.Opponent.ProfilePicture,
		Player2Move:     opponentMove,
		WinnerID:        winnerID,
		WinnerUsername:  winnerUsername,
		Amount:          lobby.Creator.Amount,
		Payout:          payout,
		IsVsBot:         isVsBot,
	}); err != nil {
		log.Printf("[RPS] AddRecentBattle failed for battle %s: %v", battleID, err)
	}
}

func (m *RPSManager) refund(player LobbyPlayer) {
	if player.UserID == BotUserID {
		return
	}
	if ok, err := m.store.UpdateUserBalance(m.ctx, player.UserID, player.Amount, BalanceAdd); err != nil || !ok {
		log.Printf("[RPS] Refund failed for user %s: %v", player.UserID, err)
	}
}
