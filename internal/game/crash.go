package game

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CrashManager runs the multiplier game. Like the dice manager it is a
// single-goroutine actor; cashouts go through their own channel so they
// are serialized against the flight ticks.
type CrashManager struct {
	store   Store
	hub     Broadcaster
	settler *Settler
	cfg     Config
	ctx     context.Context

	registry       *BetRegistry
	betChannel     chan CrashBetRequest
	cashoutChannel chan CashoutRequest
	stopChan       chan struct{}

	stateMutex sync.RWMutex
	current    *Round
	multiplier float64
	lastResult *CrashResult
	history    []*CrashResult
	nonce      int
}

func NewCrashManager(store Store, hub Broadcaster, cfg Config) *CrashManager {
	return &CrashManager{
		store:          store,
		hub:            hub,
		settler:        NewSettler(store),
		cfg:            cfg,
		ctx:            context.Background(),
		registry:       NewBetRegistry(),
		betChannel:     make(chan CrashBetRequest, 1000),
		cashoutChannel: make(chan CashoutRequest, 1000),
		stopChan:       make(chan struct{}),
	}
}

func (m *CrashManager) Start() {
	go m.gameLoop()
}

func (m *CrashManager) Stop() {
	close(m.stopChan)
}

func (m *CrashManager) PlaceBet(req CrashBetRequest) BetResponse {
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

func (m *CrashManager) CashOut(req CashoutRequest) CashoutResponse {
	respChan := make(chan CashoutResponse, 1)
	req.Reply = respChan

	select {
	case m.cashoutChannel <- req:
		select {
		case resp := <-respChan:
			return resp
		case <-time.After(REQUEST_TIMEOUT):
			return CashoutResponse{Success: false, Message: "Cashout timeout"}
		}
	default:
		return CashoutResponse{Success: false, Message: "Cashout queue full"}
	}
}

func (m *CrashManager) Snapshot() GameStateMessage {
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
	if m.current.Phase == PhaseFlying {
		msg.CurrentMultiplier = m.multiplier
	}
	if m.current.Phase == PhaseCrashed || m.current.Phase == PhaseComplete {
		msg.CurrentMultiplier = m.multiplier
		// Settlement may still be running; a result from an earlier
		// round must never be paired with this round's id.
		if m.lastResult != nil && m.lastResult.GameID == m.current.ID {
			msg.Result = m.lastResult
		}
	}
	return msg
}

func (m *CrashManager) Players() []*Bet {
	return m.registry.All()
}

func (m *CrashManager) History() []*CrashResult {
	m.stateMutex.RLock()
	defer m.stateMutex.RUnlock()
	out := make([]*CrashResult, len(m.history))
	copy(out, m.history)
	return out
}

// DetachConn nulls the connection on a live bet. Crash bets survive a
// disconnect; the player can rejoin mid-flight and cash out.
func (m *CrashManager) DetachConn(connID string) (*Bet, bool) {
	return m.registry.Detach(connID)
}

// RecoverBet re-attaches a rejoining player to their live bet for the
// round in progress. Memory first, persistence as fallback for the case
// where the process restarted between bet and rejoin.
func (m *CrashManager) RecoverBet(userID, connID string) (*Bet, bool) {
	m.stateMutex.RLock()
	round := m.current
	m.stateMutex.RUnlock()
	if round == nil || (round.Phase != PhaseBetting && round.Phase != PhaseFlying) {
		return nil, false
	}

	if bet, ok := m.registry.Reattach(userID, connID); ok {
		return bet, true
	}

	bet, err := m.store.GetActiveBetForUser(m.ctx, userID, round.ID)
	if err != nil || bet == nil {
		if err != nil {
			log.Printf("[CRASH] Bet recovery lookup failed for user %s: %v", userID, err)
		}
		return nil, false
	}
	bet.ConnID = connID
	recovered := *bet
	if !m.registry.Restore(bet) {
		return m.registry.Reattach(userID, connID)
	}
	return &recovered, true
}

func (m *CrashManager) gameLoop() {
	for {
		select {
		case <-m.stopChan:
			log.Println("[CRASH] Game loop stopped")
			return
		default:
			m.runRound()
		}
	}
}

func (m *CrashManager) runRound() {
	m.registry.Clear()
	m.nonce++

	serverSeed := GenerateSeed()
	hashedSeed := HashCommitment(serverSeed)
	crashPoint := CrashPoint(serverSeed, m.nonce, m.cfg.CrashHouseEdge)
	roundID := fmt.Sprintf("crash_%d_%d", time.Now().Unix(), m.nonce)

	round := &Round{
		ID:         roundID,
		GameType:   GameTypeCrash,
		ServerSeed: serverSeed,
		HashedSeed: hashedSeed,
		Nonce:      m.nonce,
		Phase:      PhaseBetting,
		TimeLeft:   int(BETTING_TIME.Seconds()),
		CrashPoint: crashPoint,
		CreatedAt:  time.Now(),
	}

	if !m.persistRound(round) {
		select {
		case <-time.After(CREATE_RESCHEDULE):
		case <-m.stopChan:
		}
		return
	}

	m.stateMutex.Lock()
	m.current = round
	m.multiplier = MIN_MULTIPLIER
	m.stateMutex.Unlock()

	log.Printf("[CRASH] Round %s started (commitment %s..., crash point hidden)", roundID, hashedSeed[:16])
	m.hub.Publish(RoomCrash, "new-crash-game", RoundStartedMessage{
		GameID:     roundID,
		HashedSeed: hashedSeed,
		Phase:      PhaseBetting,
		TimeLeft:   round.TimeLeft,
	})
	m.broadcastState()

	if !m.bettingPhase(round) {
		return
	}
	if !m.flyingPhase(round) {
		return
	}
	m.completeRound(round)

	select {
	case <-time.After(CRASH_COOLDOWN):
	case <-m.stopChan:
	}
}

func (m *CrashManager) persistRound(round *Round) bool {
	for attempt := 1; attempt <= CREATE_RETRIES; attempt++ {
		err := m.store.CreateRound(m.ctx, round)
		if err == nil {
			return true
		}
		log.Printf("[CRASH] CreateRound attempt %d/%d failed: %v", attempt, CREATE_RETRIES, err)
		select {
		case <-time.After(CREATE_RETRY_BACKOFF):
		case <-m.stopChan:
			return false
		}
	}
	return false
}

func (m *CrashManager) bettingPhase(round *Round) bool {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return false
		case req := <-m.betChannel:
			m.processBet(round, req)
		case req := <-m.cashoutChannel:
			req.Reply <- CashoutResponse{Success: false, Message: "Round has not launched yet"}
		case <-ticker.C:
			m.stateMutex.Lock()
			round.TimeLeft--
			timeLeft := round.TimeLeft
			m.stateMutex.Unlock()

			m.hub.Publish(RoomCrash, "crash-timer-update", timeLeft)
			if timeLeft%5 == 0 {
				m.broadcastState()
			}
			if timeLeft <= 0 {
				return true
			}
		}
	}
}

// flightMultiplier maps elapsed flight time to the visible multiplier:
// gentle initial climb, quadratic ramp after one second, steeper still
// past five.
func flightMultiplier(seconds float64) float64 {
	switch {
	case seconds < 1:
		return 1.00 + seconds*0.1
	case seconds < 5:
		t := seconds - 1
		return 1.10 + t*0.08 + t*t*0.005
	default:
		base := 1.10 + 4*0.08 + 16*0.005
		t := seconds - 5
		return base + t*0.15 + t*t*0.008
	}
}

func (m *CrashManager) flyingPhase(round *Round) bool {
	m.stateMutex.Lock()
	round.Phase = PhaseFlying
	round.TimeLeft = 0
	m.multiplier = MIN_MULTIPLIER
	m.stateMutex.Unlock()
	m.broadcastState()
	log.Printf("[CRASH] Round %s flying", round.ID)

	start := time.Now()
	ticker := time.NewTicker(CRASH_TICK)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return false
		case req := <-m.betChannel:
			req.Reply <- BetResponse{Success: false, Message: "Betting is not currently open"}
		case req := <-m.cashoutChannel:
			m.processCashout(req)
		case <-ticker.C:
			elapsed := time.Since(start)

			next := flightMultiplier(elapsed.Seconds())
			m.stateMutex.Lock()
			// Strictly increasing with a minimum visible step.
			if next < m.multiplier+CRASH_MIN_STEP {
				next = m.multiplier + CRASH_MIN_STEP
			}
			next = math.Round(next*100) / 100
			crashed := next >= round.CrashPoint
			if crashed {
				next = round.CrashPoint
			}
			m.multiplier = next
			m.stateMutex.Unlock()

			if crashed {
				m.runAutoCashouts(round.CrashPoint)
				return true
			}

			m.hub.Publish(RoomCrash, "crash-multiplier-update", MultiplierUpdateMessage{CurrentMultiplier: next})
			m.runAutoCashouts(next)

			if elapsed > CRASH_MAX_FLIGHT {
				log.Printf("[CRASH] Round %s hit the flight ceiling, forcing crash", round.ID)
				m.stateMutex.Lock()
				round.CrashPoint = m.multiplier
				m.stateMutex.Unlock()
				return true
			}
		}
	}
}

// runAutoCashouts fires any pending auto-cashout targets the multiplier
// has reached. Runs on the flight goroutine, so it is serialized with
// manual cashouts. Targets at or past the crash point never fire.
func (m *CrashManager) runAutoCashouts(current float64) {
	m.stateMutex.RLock()
	round := m.current
	m.stateMutex.RUnlock()

	for _, bet := range m.registry.All() {
		if bet.IsCashedOut || bet.CashOutAt <= 0 || bet.CashOutAt > current {
			continue
		}
		if round != nil && bet.CashOutAt >= round.CrashPoint {
			continue
		}
		m.executeCashout(bet.UserID, bet.CashOutAt)
	}
}

func (m *CrashManager) processCashout(req CashoutRequest) {
	m.stateMutex.RLock()
	round := m.current
	current := m.multiplier
	m.stateMutex.RUnlock()

	if round == nil || round.Phase != PhaseFlying {
		req.Reply <- CashoutResponse{Success: false, Message: "No flight in progress"}
		return
	}

	bet, ok := m.registry.Get(req.UserID)
	if !ok {
		req.Reply <- CashoutResponse{Success: false, Message: "No active bet"}
		return
	}
	if bet.IsCashedOut {
		req.Reply <- CashoutResponse{Success: false, Message: "Already cashed out"}
		return
	}

	payout, ok := m.executeCashout(req.UserID, current)
	if !ok {
		req.Reply <- CashoutResponse{Success: false, Message: "Already cashed out"}
		return
	}
	req.Reply <- CashoutResponse{
		Success:    true,
		Message:    "Cashed out",
		Multiplier: current,
		Payout:     payout,
	}
}

// executeCashout credits the player immediately and broadcasts the
// cash-out. The live record is updated under the registry lock; the
// persistence calls and the broadcast work from the returned copy.
func (m *CrashManager) executeCashout(userID string, multiplier float64) (float64, bool) {
	held, ok := m.registry.Get(userID)
	if !ok || held.IsCashedOut {
		return 0, false
	}
	payout := math.Round(held.Amount*multiplier*100) / 100

	bet, ok := m.registry.MarkCashedOut(userID, multiplier, payout)
	if !ok {
		return 0, false
	}

	if err := m.store.CashOutBet(m.ctx, bet.ID, multiplier, payout); err != nil {
		log.Printf("[CRASH] CashOutBet persist failed for bet %s: %v", bet.ID, err)
	}
	if ok, err := m.store.UpdateUserBalance(m.ctx, bet.UserID, payout, BalanceAdd); err != nil || !ok {
		log.Printf("[CRASH] Cashout credit failed for user %s: %v", bet.UserID, err)
	}
	if err := m.store.UpdateUserStats(m.ctx, bet.UserID, bet.Amount, payout); err != nil {
		log.Printf("[CRASH] Cashout stats failed for user %s: %v", bet.UserID, err)
	}

	log.Printf("[CRASH] %s cashed out at %.2fx for %.2f", bet.Username, multiplier, payout)
	m.hub.Publish(RoomCrash, "crash-player-cashed-out", CashedOutMessage{
		ConnID:    bet.ConnID,
		UserID:    bet.UserID,
		Username:  bet.Username,
		Amount:    bet.Amount,
		CashOutAt: multiplier,
		Payout:    payout,
	})
	return payout, true
}

func (m *CrashManager) completeRound(round *Round) {
	m.stateMutex.Lock()
	round.Phase = PhaseCrashed
	round.CompletedAt = time.Now()
	finalPoint := round.CrashPoint
	m.multiplier = finalPoint
	m.stateMutex.Unlock()

	// Drain hands the bets over exclusively, so settlement writes
	// cannot race a player-list snapshot.
	bets := m.registry.Drain()
	report := m.settler.SettleCrash(m.ctx, bets, finalPoint)

	if err := m.store.CompleteRound(m.ctx, GameTypeCrash, round.ID, RoundCompletion{
		CrashPoint:   finalPoint,
		TotalWagered: report.TotalWagered,
		TotalPayout:  report.TotalPayout,
		PlayersCount: report.PlayersCount,
	}); err != nil {
		log.Printf("[CRASH] CompleteRound failed for %s: %v", round.ID, err)
	}

	result := &CrashResult{
		GameID:       round.ID,
		CrashPoint:   finalPoint,
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
	round.Phase = PhaseComplete
	m.lastResult = result
	m.history = append([]*CrashResult{result}, m.history...)
	if len(m.history) > CRASH_HISTORY_SIZE {
		m.history = m.history[:CRASH_HISTORY_SIZE]
	}
	m.stateMutex.Unlock()

	log.Printf("[CRASH] Round %s crashed at %.2fx (%d winners, %d losers, wagered %.2f, paid %.2f)",
		round.ID, finalPoint, len(report.Winners), len(report.Losers),
		report.TotalWagered, report.TotalPayout)

	m.hub.Publish(RoomCrash, "crash-result", result)
	m.broadcastState()
}

func (m *CrashManager) processBet(round *Round, req CrashBetRequest) {
	if req.Amount < MIN_BET_AMOUNT || req.Amount > m.cfg.MaxBetAmount {
		req.Reply <- BetResponse{Success: false, Message: fmt.Sprintf("Bet must be between %.0f and %.0f", MIN_BET_AMOUNT, m.cfg.MaxBetAmount)}
		return
	}
	if req.AutoCashout != 0 && req.AutoCashout < MIN_MULTIPLIER+CRASH_MIN_STEP {
		req.Reply <- BetResponse{Success: false, Message: "Auto cashout must be above 1.01"}
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
			log.Printf("[CRASH] Balance debit failed for user %s: %v", req.UserID, err)
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
		ConnID:         req.ConnID,
		PlacedAt:       time.Now(),
	}
	if req.AutoCashout > 0 {
		// CashOutAt doubles as the pending auto-cashout target until the
		// bet actually cashes out.
		bet.CashOutAt = req.AutoCashout
	}

	placed, err := m.store.PlaceBet(m.ctx, GameTypeCrash, bet)
	if err != nil || !placed {
		if _, rerr := m.store.UpdateUserBalance(m.ctx, req.UserID, req.Amount, BalanceAdd); rerr != nil {
			log.Printf("[CRASH] Refund failed for user %s: %v", req.UserID, rerr)
		}
		m.registry.Release(req.UserID)
		if err != nil {
			log.Printf("[CRASH] PlaceBet failed for user %s: %v", req.UserID, err)
		}
		req.Reply <- BetResponse{Success: false, Message: "Bet could not be placed"}
		return
	}

	m.registry.Confirm(bet)

	m.hub.Publish(RoomCrash, "crash-player-joined", PlayerJoinedMessage{
		ConnID:         bet.ConnID,
		UserID:         bet.UserID,
		Username:       bet.Username,
		Amount:         bet.Amount,
		ProfilePicture: bet.ProfilePicture,
	})

	accepted := *bet
	req.Reply <- BetResponse{Success: true, Message: "Bet placed", BetID: bet.ID, Bet: &accepted}
}

func (m *CrashManager) broadcastState() {
	m.hub.Publish(RoomCrash, "crash-game-state", m.Snapshot())
}
