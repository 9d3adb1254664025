package game

import (
	"context"
	"errors"
	"sync"
)

// fakeStore is the in-memory Store used by the manager and settlement
// tests. Individual operations can be made to fail by name.
type fakeStore struct {
	mu sync.Mutex

	balances map[string]float64
	rounds   map[string]*Round
	bets     map[string]*Bet // bet id -> bet
	betsByRU map[string]string
	stats    map[string][2]float64 // user id -> wagered, won
	lobbies  map[string]LobbyStatus
	battles  map[string]*BattleRecord
	history  []*UserHistoryEntry
	recent   []*RecentBattle

	failing map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		balances: make(map[string]float64),
		rounds:   make(map[string]*Round),
		bets:     make(map[string]*Bet),
		betsByRU: make(map[string]string),
		stats:    make(map[string][2]float64),
		lobbies:  make(map[string]LobbyStatus),
		battles:  make(map[string]*BattleRecord),
		failing:  make(map[string]bool),
	}
}

func (f *fakeStore) failOn(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing[op] = true
}

func (f *fakeStore) shouldFail(op string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failing[op]
}

func (f *fakeStore) balance(userID string) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[userID]
}

func (f *fakeStore) setBalance(userID string, amount float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[userID] = amount
}

func (f *fakeStore) CreateRound(ctx context.Context, round *Round) error {
	if f.shouldFail("CreateRound") {
		return errors.New("create round failed")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	copy := *round
	f.rounds[round.ID] = &copy
	return nil
}

func (f *fakeStore) CompleteRound(ctx context.Context, gameType GameType, roundID string, result RoundCompletion) error {
	if f.shouldFail("CompleteRound") {
		return errors.New("complete round failed")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if round, ok := f.rounds[roundID]; ok {
		round.Phase = PhaseComplete
	}
	return nil
}

func (f *fakeStore) PlaceBet(ctx context.Context, gameType GameType, bet *Bet) (bool, error) {
	if f.shouldFail("PlaceBet") {
		return false, errors.New("place bet failed")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := bet.RoundID + "/" + bet.UserID
	if _, dup := f.betsByRU[key]; dup {
		return false, nil
	}
	copy := *bet
	f.bets[bet.ID] = &copy
	f.betsByRU[key] = bet.ID
	return true, nil
}

func (f *fakeStore) UpdateBetResult(ctx context.Context, gameType GameType, betID string, isWinner bool, payout float64) error {
	if f.shouldFail("UpdateBetResult") {
		return errors.New("update bet result failed")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if bet, ok := f.bets[betID]; ok {
		bet.IsWinner = isWinner
		bet.Payout = payout
	}
	return nil
}

func (f *fakeStore) CashOutBet(ctx context.Context, betID string, multiplier, payout float64) error {
	if f.shouldFail("CashOutBet") {
		return errors.New("cash out failed")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if bet, ok := f.bets[betID]; ok {
		bet.IsCashedOut = true
		bet.CashOutAt = multiplier
		bet.Payout = payout
	}
	return nil
}

func (f *fakeStore) GetActiveBetForUser(ctx context.Context, userID, roundID string) (*Bet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.betsByRU[roundID+"/"+userID]; ok {
		copy := *f.bets[id]
		return &copy, nil
	}
	return nil, nil
}

func (f *fakeStore) UpdateUserBalance(ctx context.Context, userID string, amount float64, op BalanceOp) (bool, error) {
	if f.shouldFail("UpdateUserBalance") {
		return false, errors.New("balance update failed")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	switch op {
	case BalanceAdd:
		f.balances[userID] += amount
	case BalanceSubtract:
		if f.balances[userID] < amount {
			return false, nil
		}
		f.balances[userID] -= amount
	case BalanceSet:
		f.balances[userID] = amount
	}
	return true, nil
}

func (f *fakeStore) UpdateUserStats(ctx context.Context, userID string, wagered, won float64) error {
	if f.shouldFail("UpdateUserStats") {
		return errors.New("stats update failed")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	prev := f.stats[userID]
	f.stats[userID] = [2]float64{prev[0] + wagered, prev[1] + won}
	return nil
}

func (f *fakeStore) GetUserByID(ctx context.Context, userID string) (*User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if balance, ok := f.balances[userID]; ok {
		return &User{ID: userID, Username: "user-" + userID, Balance: balance}, nil
	}
	return nil, nil
}

func (f *fakeStore) GetUserProfilePicture(ctx context.Context, userID string) (string, error) {
	return "", nil
}

func (f *fakeStore) CreateLobby(ctx context.Context, lobby *Lobby) error {
	if f.shouldFail("CreateLobby") {
		return errors.New("create lobby failed")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lobbies[lobby.ID] = lobby.Status
	return nil
}

func (f *fakeStore) UpdateLobbyStatus(ctx context.Context, lobbyID string, status LobbyStatus, opponentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lobbies[lobbyID] = status
	return nil
}

func (f *fakeStore) CreateBattle(ctx context.Context, battle *BattleRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.battles[battle.ID] = battle
	return nil
}

func (f *fakeStore) CompleteBattle(ctx context.Context, battleID, player1Move, player2Move, winnerID string, payout float64) error {
	return nil
}

func (f *fakeStore) AddUserHistory(ctx context.Context, entry *UserHistoryEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append(f.history, entry)
	return nil
}

func (f *fakeStore) AddRecentBattle(ctx context.Context, battle *RecentBattle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recent = append(f.recent, battle)
	return nil
}

// fakeBroadcaster records published events for assertions.
type fakeBroadcaster struct {
	mu     sync.Mutex
	events []publishedEvent
}

type publishedEvent struct {
	Room    string
	Event   string
	Payload interface{}
}

func newFakeBroadcaster() *fakeBroadcaster {
	return &fakeBroadcaster{}
}

func (b *fakeBroadcaster) Publish(room, event string, payload interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, publishedEvent{Room: room, Event: event, Payload: payload})
}

func (b *fakeBroadcaster) eventsNamed(event string) []publishedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []publishedEvent
	for _, ev := range b.events {
		if ev.Event == event {
			out = append(out, ev)
		}
	}
	return out
}
