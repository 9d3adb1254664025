package game

import (
	"testing"
	"time"
)

func newTestDiceManager(store *fakeStore) (*DiceManager, *fakeBroadcaster) {
	hub := newFakeBroadcaster()
	m := NewDiceManager(store, hub, Config{CrashHouseEdge: HOUSE_EDGE, MaxBetAmount: MAX_BET_AMOUNT})
	return m, hub
}

func testDiceRound() *Round {
	return &Round{
		ID:       "dice_test_1",
		GameType: GameTypeDice,
		Phase:    PhaseBetting,
		TimeLeft: 25,
	}
}

func placeDiceBet(m *DiceManager, round *Round, userID string, amount float64, choice string) BetResponse {
	reply := make(chan BetResponse, 1)
	m.processBet(round, DiceBetRequest{
		UserID:   userID,
		Username: "user-" + userID,
		Amount:   amount,
		Choice:   choice,
		ConnID:   "conn-" + userID,
		Reply:    reply,
	})
	return <-reply
}

func TestDiceProcessBet(t *testing.T) {
	store := newFakeStore()
	store.setBalance("u1", 500)
	m, hub := newTestDiceManager(store)
	round := testDiceRound()

	resp := placeDiceBet(m, round, "u1", 100, "odd")

	if !resp.Success {
		t.Fatalf("bet rejected: %s", resp.Message)
	}
	if resp.Bet == nil || resp.Bet.Choice != "odd" {
		t.Fatalf("response bet malformed: %+v", resp.Bet)
	}
	if got := store.balance("u1"); got != 400 {
		t.Errorf("stake not debited, balance = %.2f", got)
	}
	if m.registry.Len() != 1 {
		t.Error("bet should be registered")
	}
	if len(hub.eventsNamed("player-joined")) != 1 {
		t.Error("player-joined should be broadcast")
	}
}

func TestDiceProcessBetValidation(t *testing.T) {
	store := newFakeStore()
	store.setBalance("u1", 1e6)
	m, _ := newTestDiceManager(store)
	round := testDiceRound()

	tests := []struct {
		name   string
		amount float64
		choice string
	}{
		{"bad choice", 100, "seven"},
		{"below minimum", 0.5, "odd"},
		{"above maximum", MAX_BET_AMOUNT + 1, "even"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := placeDiceBet(m, round, "u1", tt.amount, tt.choice)
			if resp.Success {
				t.Errorf("bet should be rejected")
			}
		})
	}

	if got := store.balance("u1"); got != 1e6 {
		t.Errorf("rejected bets must not touch the balance, got %.2f", got)
	}
}

func TestDiceProcessBetDuplicate(t *testing.T) {
	store := newFakeStore()
	store.setBalance("u1", 500)
	m, _ := newTestDiceManager(store)
	round := testDiceRound()

	if resp := placeDiceBet(m, round, "u1", 100, "odd"); !resp.Success {
		t.Fatalf("first bet rejected: %s", resp.Message)
	}
	if resp := placeDiceBet(m, round, "u1", 100, "even"); resp.Success {
		t.Fatal("second bet from same user should be rejected")
	}
	if got := store.balance("u1"); got != 400 {
		t.Errorf("duplicate must not debit again, balance = %.2f", got)
	}
}

func TestDiceProcessBetInsufficientBalance(t *testing.T) {
	store := newFakeStore()
	store.setBalance("u1", 50)
	m, _ := newTestDiceManager(store)
	round := testDiceRound()

	resp := placeDiceBet(m, round, "u1", 100, "odd")

	if resp.Success {
		t.Fatal("bet should be rejected on insufficient balance")
	}
	if got := store.balance("u1"); got != 50 {
		t.Errorf("balance must be untouched, got %.2f", got)
	}
	if m.registry.Len() != 0 {
		t.Error("reservation should be released after rejection")
	}
}

func TestDiceProcessBetPersistFailureRefunds(t *testing.T) {
	store := newFakeStore()
	store.setBalance("u1", 500)
	store.failOn("PlaceBet")
	m, _ := newTestDiceManager(store)
	round := testDiceRound()

	resp := placeDiceBet(m, round, "u1", 100, "odd")

	if resp.Success {
		t.Fatal("bet should fail when persistence fails")
	}
	if got := store.balance("u1"); got != 500 {
		t.Errorf("stake must be refunded, balance = %.2f", got)
	}
	if m.registry.Len() != 0 {
		t.Error("failed bet must not stay registered")
	}
}

func TestDiceCompleteRound(t *testing.T) {
	store := newFakeStore()
	store.setBalance("u1", 500)
	store.setBalance("u2", 500)
	m, hub := newTestDiceManager(store)

	round := testDiceRound()
	round.ServerSeed = GenerateSeed()
	round.HashedSeed = HashCommitment(round.ServerSeed)
	round.Nonce = 1
	store.CreateRound(m.ctx, round)

	placeDiceBet(m, round, "u1", 100, "odd")
	placeDiceBet(m, round, "u2", 100, "even")

	m.completeRound(round)

	if round.Phase != PhaseComplete {
		t.Errorf("phase = %s, want complete", round.Phase)
	}

	results := hub.eventsNamed("dice-result")
	if len(results) != 1 {
		t.Fatalf("expected one dice-result broadcast, got %d", len(results))
	}
	result := results[0].Payload.(*DiceResult)
	if result.ServerSeed != round.ServerSeed {
		t.Error("result must reveal the server seed")
	}
	if !VerifyCommitment(result.ServerSeed, result.HashedSeed) {
		t.Error("revealed seed must match the commitment")
	}
	if len(result.Winners)+len(result.Losers) != 2 {
		t.Errorf("all bets must settle, got %d winners %d losers",
			len(result.Winners), len(result.Losers))
	}

	// Exactly one of odd/even wins.
	if len(result.Winners) != 1 {
		t.Errorf("exactly one parity should win, got %d", len(result.Winners))
	}

	history := m.History()
	if len(history) != 1 || history[0].GameID != round.ID {
		t.Errorf("round should enter history, got %+v", history)
	}
}

func TestDiceHistoryRing(t *testing.T) {
	store := newFakeStore()
	m, _ := newTestDiceManager(store)

	for i := 0; i < DICE_HISTORY_SIZE+5; i++ {
		round := testDiceRound()
		round.ID = GenerateSeed()[:8]
		round.ServerSeed = GenerateSeed()
		round.HashedSeed = HashCommitment(round.ServerSeed)
		round.Nonce = i
		m.completeRound(round)
	}

	history := m.History()
	if len(history) != DICE_HISTORY_SIZE {
		t.Fatalf("history = %d entries, want %d", len(history), DICE_HISTORY_SIZE)
	}
}

func TestDiceDetachKeepsBet(t *testing.T) {
	store := newFakeStore()
	store.setBalance("u1", 500)
	m, _ := newTestDiceManager(store)
	round := testDiceRound()

	placeDiceBet(m, round, "u1", 100, "odd")

	bet, ok := m.DetachConn("conn-u1")
	if !ok {
		t.Fatal("detach should find the bet")
	}
	if bet.ConnID != "" {
		t.Error("connection should be nulled")
	}
	if m.registry.Len() != 1 {
		t.Error("bet must survive the disconnect")
	}
}

func TestDicePlayersSnapshotIsolated(t *testing.T) {
	store := newFakeStore()
	store.setBalance("u1", 500)
	m, _ := newTestDiceManager(store)
	round := testDiceRound()

	placeDiceBet(m, round, "u1", 100, "odd")

	players := m.Players()
	if len(players) != 1 {
		t.Fatalf("expected 1 player, got %d", len(players))
	}
	players[0].IsWinner = true
	players[0].Payout = 999

	if held, _ := m.registry.Get("u1"); held.IsWinner || held.Payout != 0 {
		t.Error("mutating the player list leaked into the live bet")
	}
}

func TestDiceSnapshotNeverPairsStaleResult(t *testing.T) {
	m, _ := newTestDiceManager(newFakeStore())
	round := testDiceRound()
	round.Phase = PhaseComplete

	m.stateMutex.Lock()
	m.current = round
	m.lastResult = &DiceResult{GameID: "dice_test_0", DiceValue: 6}
	m.stateMutex.Unlock()

	if snap := m.Snapshot(); snap.Result != nil {
		t.Fatalf("snapshot carries the previous round's result: %+v", snap.Result)
	}

	m.stateMutex.Lock()
	m.lastResult = &DiceResult{GameID: round.ID, DiceValue: 3}
	m.stateMutex.Unlock()

	if snap := m.Snapshot(); snap.Result == nil {
		t.Error("own result should be included after settlement")
	}
}

func TestDiceSnapshotWaiting(t *testing.T) {
	m, _ := newTestDiceManager(newFakeStore())
	snap := m.Snapshot()
	if snap.Phase != PhaseWaiting {
		t.Errorf("phase = %s, want waiting before first round", snap.Phase)
	}
}

func TestDiceStopBeforeStart(t *testing.T) {
	m, _ := newTestDiceManager(newFakeStore())
	m.Start()
	m.Stop()

	// The loop should wind down without panicking; give it a moment.
	time.Sleep(50 * time.Millisecond)
}
