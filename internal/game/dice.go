package game

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DiceManager runs the odd/even dice game. One goroutine owns all round
// state; bets arrive over betChannel and are answered on per-request
// reply channels.
type DiceManager struct {
	store   Store
	hub     Broadcaster
	settler *Settler
	cfg     Config
	ctx     context.Context

	registry   *BetRegistry
	betChannel chan DiceBetRequest
	stopChan   chan struct{}

	stateMutex sync.RWMutex
	current    *Round
	lastResult *DiceResult
	history    []*DiceResult
	nonce      int
}

func NewDiceManager(store Store, hub Broadcaster, cfg Config) *DiceManager {
	return &DiceManager{
		store:      store,
		hub:        hub,
		settler:    NewSettler(store),
		cfg:        cfg,
		ctx:        context.Background(),
		registry:   NewBetRegistry(),
		betChannel: make(chan DiceBetRequest, 1000),
		stopChan:   make(chan struct{}),
	}
}

func (m *DiceManager) Start() {
	go m.gameLoop()
}

func (m *DiceManager) Stop() {
	close(m.stopChan)
}

// PlaceBet funnels a bet into the game loop and waits for the verdict.
func (m *DiceManager) PlaceBet(req DiceBetRequest) BetResponse {
	respChan := make(chan BetResponse, 1)
	req.Reply = respChan

	select {
	case m.betChannel <- req:
		select {
		case resp := <-respChan:
			return resp
		case <-time.After(REQUEST_TIMEOUT):
			return BetResponse{Success: false, Message: "Bet timeout"}
		}
	default:
		return BetResponse{Success: false, Message: "Bet queue full"}
	}
}

// Snapshot returns the state a fresh subscriber should see.
func (m *DiceManager) Snapshot() GameStateMessage {
	m.stateMutex.RLock()
	defer m.stateMutex.RUnlock()
	if m.current == nil {
		return GameStateMessage{Phase: PhaseWaiting}
	}
	msg := GameStateMessage{
		GameID:     m.current.ID,
		HashedSeed: m.current.HashedSeed,
		Phase:      m.current.Phase,
		TimeLeft:   m.current.TimeLeft,
	}
	// Only this round's result may ride along; during the settlement
	// window lastResult still belongs to the previous round.
	if m.current.Phase == PhaseComplete && m.lastResult != nil && m.lastResult.GameID == m.current.ID {
		msg.Result = m.lastResult
	}
	return msg
}

// Players returns the bets of the round in progress.
func (m *DiceManager) Players() []*Bet {
	return m.registry.All()
}

// History returns the most recent settled rounds, newest first.
func (m *DiceManager) History() []*DiceResult {
	m.stateMutex.RLock()
	defer m.stateMutex.RUnlock()
	out := make([]*DiceResult, len(m.history))
	copy(out, m.history)
	return out
}

// DetachConn drops the connection reference of a disconnected player.
// The bet stays live and is settled normally.
func (m *DiceManager) DetachConn(connID string) (*Bet, bool) {
	return m.registry.Detach(connID)
}

func (m *DiceManager) gameLoop() {
	for {
		select {
		case <-m.stopChan:
			log.Println("[DICE] Game loop stopped")
			return
		default:
			m.runRound()
		}
	}
}

func (m *DiceManager) runRound() {
	m.registry.Clear()
	m.nonce++

	serverSeed := GenerateSeed()
	hashedSeed := HashCommitment(serverSeed)
	roundID := fmt.Sprintf("dice_%d_%d", time.Now().Unix(), m.nonce)

	round := &Round{
		ID:         roundID,
		GameType:   GameTypeDice,
		ServerSeed: serverSeed,
		HashedSeed: hashedSeed,
		Nonce:      m.nonce,
		Phase:      PhaseBetting,
		TimeLeft:   int(BETTING_TIME.Seconds()),
		CreatedAt:  time.Now(),
	}

	if !m.persistRound(round) {
		// Persistence is down; reschedule instead of stalling forever.
		select {
		case <-time.After(CREATE_RESCHEDULE):
		case <-m.stopChan:
		}
		return
	}

	m.stateMutex.Lock()
	m.current = round
	m.stateMutex.Unlock()

	log.Printf("[DICE] Round %s started (commitment %s...)", roundID, hashedSeed[:16])
	m.hub.Publish(RoomDice, "new-dice-game", RoundStartedMessage{
		GameID:     roundID,
		HashedSeed: hashedSeed,
		Phase:      PhaseBetting,
		TimeLeft:   round.TimeLeft,
	})
	m.broadcastState()

	if !m.bettingPhase(round) {
		return
	}
	if !m.rollingPhase(round) {
		return
	}
	m.completeRound(round)

	select {
	case <-time.After(DICE_COOLDOWN):
	case <-m.stopChan:
	}
}

// persistRound retries round creation with a short backoff so a brief
// database blip does not kill the loop.
func (m *DiceManager) persistRound(round *Round) bool {
	for attempt := 1; attempt <= CREATE_RETRIES; attempt++ {
		err := m.store.CreateRound(m.ctx, round)
		if err == nil {
			return true
		}
		log.Printf("[DICE] CreateRound attempt %d/%d failed: %v", attempt, CREATE_RETRIES, err)
		select {
		case <-time.After(CREATE_RETRY_BACKOFF):
		case <-m.stopChan:
			return false
		}
	}
	return false
}

func (m *DiceManager) bettingPhase(round *Round) bool {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return false
		case req := <-m.betChannel:
			m.processBet(round, req)
		case <-ticker.C:
			m.stateMutex.Lock()
			round.TimeLeft--
			timeLeft := round.TimeLeft
			m.stateMutex.Unlock()

			m.hub.Publish(RoomDice, "dice-timer-update", timeLeft)
			if timeLeft%5 == 0 {
				m.broadcastState()
			}
			if timeLeft <= 0 {
				return true
			}
		}
	}
}

func (m *DiceManager) rollingPhase(round *Round) bool {
	m.stateMutex.Lock()
	round.Phase = PhaseRolling
	round.TimeLeft = int(DICE_ROLL_TIME.Seconds())
	m.stateMutex.Unlock()
	m.broadcastState()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return false
		case req := <-m.betChannel:
			req.Reply <- BetResponse{Success: false, Message: "Betting is not currently open"}
		case <-ticker.C:
			m.stateMutex.Lock()
			round.TimeLeft--
			timeLeft := round.TimeLeft
			m.stateMutex.Unlock()

			m.hub.Publish(RoomDice, "dice-timer-update", timeLeft)
			if timeLeft <= 0 {
				return true
			}
		}
	}
}

func (m *DiceManager) completeRound(round *Round) {
	outcome := DiceRoll(round.ServerSeed, round.Nonce)
	// Drain hands the bets over exclusively, so settlement writes
	// cannot race a player-list snapshot.
	bets := m.registry.Drain()
	report := m.settler.SettleDice(m.ctx, bets, outcome)

	m.stateMutex.Lock()
	round.Phase = PhaseComplete
	round.TimeLeft = 0
	round.CompletedAt = time.Now()
	m.stateMutex.Unlock()

	if err := m.store.CompleteRound(m.ctx, GameTypeDice, round.ID, RoundCompletion{
		DiceValue:    outcome.Value,
		IsOdd:        outcome.IsOdd,
		TotalWagered: report.TotalWagered,
		TotalPayout:  report.TotalPayout,
		PlayersCount: report.PlayersCount,
	}); err != nil {
		log.Printf("[DICE] CompleteRound failed for %s: %v", round.ID, err)
	}

	result := &DiceResult{
		GameID:       round.ID,
		DiceValue:    outcome.Value,
		IsOdd:        outcome.IsOdd,
		ServerSeed:   round.ServerSeed,
		HashedSeed:   round.HashedSeed,
		Winners:      report.Winners,
		Losers:       report.Losers,
		TotalWagered: report.TotalWagered,
		TotalPayout:  report.TotalPayout,
		PlayersCount: report.PlayersCount,
		Timestamp:    time.Now(),
	}

	m.stateMutex.Lock()
	m.lastResult = result
	m.history = append([]*DiceResult{result}, m.history...)
	if len(m.history) > DICE_HISTORY_SIZE {
		m.history = m.history[:DICE_HISTORY_SIZE]
	}
	m.stateMutex.Unlock()

	log.Printf("[DICE] Round %s rolled %d (%d winners, %d losers, wagered %.2f, paid %.2f)",
		round.ID, outcome.Value, len(report.Winners), len(report.Losers),
		report.TotalWagered, report.TotalPayout)

	m.hub.Publish(RoomDice, "dice-result", result)
	m.broadcastState()
}

// processBet runs inside the game loop during the betting phase, so the
// phase check is implicit. Stake is taken off the ledger before the bet
// is accepted; any later failure refunds it.
func (m *DiceManager) processBet(round *Round, req DiceBetRequest) {
	if req.Choice != "odd" && req.Choice != "even" {
		req.Reply <- BetResponse{Success: false, Message: "Choice must be odd or even"}
		return
	}
	if req.Amount < MIN_BET_AMOUNT || req.Amount > m.cfg.MaxBetAmount {
		req.Reply <- BetResponse{Success: false, Message: fmt.Sprintf("Bet must be between %.0f and %.0f", MIN_BET_AMOUNT, m.cfg.MaxBetAmount)}
		return
	}
	if !m.registry.Reserve(req.UserID) {
		req.Reply <- BetResponse{Success: false, Message: "You already have a bet this round"}
		return
	}

	ok, err := m.store.UpdateUserBalance(m.ctx, req.UserID, req.Amount, BalanceSubtract)
	if err != nil || !ok {
		m.registry.Release(req.UserID)
		if err != nil {
			log.Printf("[DICE] Balance debit failed for user %s: %v", req.UserID, err)
			req.Reply <- BetResponse{Success: false, Message: "Bet could not be placed"}
			return
		}
		req.Reply <- BetResponse{Success: false, Message: "Insufficient balance"}
		return
	}

	bet := &Bet{
		ID:             uuid.NewString(),
		UserID:         req.UserID,
		Username:       req.Username,
		ProfilePicture: req.ProfilePicture,
		RoundID:        round.ID,
		Amount:         req.Amount,
		Choice:         req.Choice,
		ConnID:         req.ConnID,
		PlacedAt:       time.Now(),
	}

	placed, err := m.store.PlaceBet(m.ctx, GameTypeDice, bet)
	if err != nil || !placed {
		// Put the stake back; the bet never existed.
		if _, rerr := m.store.UpdateUserBalance(m.ctx, req.UserID, req.Amount, BalanceAdd); rerr != nil {
			log.Printf("[DICE] Refund failed for user %s: %v", req.UserID, rerr)
		}
		m.registry.Release(req.UserID)
		if err != nil {
			log.Printf("[DICE] PlaceBet failed for user %s: %v", req.UserID, err)
		}
		req.Reply <- BetResponse{Success: false, Message: "Bet could not be placed"}
		return
	}

	m.registry.Confirm(bet)

	m.hub.Publish(RoomDice, "player-joined", PlayerJoinedMessage{
		ConnID:         bet.ConnID,
		UserID:         bet.UserID,
		Username:       bet.Username,
		Amount:         bet.Amount,
		Choice:         bet.Choice,
		ProfilePicture: bet.ProfilePicture,
	})

	accepted := *bet
	req.Reply <- BetResponse{Success: true, Message: "Bet placed", BetID: bet.ID, Bet: &accepted}
}

func (m *DiceManager) broadcastState() {
	m.hub.Publish(RoomDice, "dice-game-state", m.Snapshot())
}
