package game

import (
	"errors"
	"testing"
)

func newTestRPSManager(store *fakeStore) (*RPSManager, *fakeBroadcaster) {
	hub := newFakeBroadcaster()
	m := NewRPSManager(store, hub, Config{CrashHouseEdge: HOUSE_EDGE, MaxBetAmount: MAX_BET_AMOUNT})
	return m, hub
}

func testPlayer(userID string, amount float64) LobbyPlayer {
	return LobbyPlayer{
		ConnID:   "conn-" + userID,
		UserID:   userID,
		Username: "user-" + userID,
		Amount:   amount,
	}
}

func TestRPSCreateLobby(t *testing.T) {
	store := newFakeStore()
	store.setBalance("u1", 500)
	m, hub := newTestRPSManager(store)

	lobby, err := m.CreateLobby(testPlayer("u1", 100))
	if err != nil {
		t.Fatalf("create lobby: %v", err)
	}

	if lobby.Status != LobbyWaiting {
		t.Errorf("status = %s, want waiting", lobby.Status)
	}
	if lobby.HashedSeed == "" || lobby.ServerSeed == "" {
		t.Error("lobby must carry a seed commitment")
	}
	if !VerifyCommitment(lobby.ServerSeed, lobby.HashedSeed) {
		t.Error("commitment must match the secret seed")
	}
	if got := store.balance("u1"); got != 400 {
		t.Errorf("stake not debited, balance = %.2f", got)
	}
	if len(hub.eventsNamed("lobby-created")) != 1 {
		t.Error("lobby-created should be broadcast")
	}
	if len(m.Lobbies()) != 1 {
		t.Error("lobby should be listed as open")
	}
}

func TestRPSCreateLobbyInsufficientBalance(t *testing.T) {
	store := newFakeStore()
	store.setBalance("u1", 10)
	m, _ := newTestRPSManager(store)

	if _, err := m.CreateLobby(testPlayer("u1", 100)); !errors.Is(err, ErrInsufficient) {
		t.Fatalf("err = %v, want ErrInsufficient", err)
	}
	if got := store.balance("u1"); got != 10 {
		t.Errorf("balance must be untouched, got %.2f", got)
	}
}

func TestRPSCreateLobbyPersistFailureRefunds(t *testing.T) {
	store := newFakeStore()
	store.setBalance("u1", 500)
	store.failOn("CreateLobby")
	m, _ := newTestRPSManager(store)

	if _, err := m.CreateLobby(testPlayer("u1", 100)); err == nil {
		t.Fatal("create should fail when persistence fails")
	}
	if got := store.balance("u1"); got != 500 {
		t.Errorf("stake must be refunded, balance = %.2f", got)
	}
}

func TestRPSCreateLobbyLimit(t *testing.T) {
	store := newFakeStore()
	m, _ := newTestRPSManager(store)

	for i := 0; i < MAX_LOBBIES; i++ {
		userID := GenerateSeed()[:8]
		store.setBalance(userID, 100)
		if _, err := m.CreateLobby(testPlayer(userID, 10)); err != nil {
			t.Fatalf("lobby %d rejected: %v", i, err)
		}
	}

	store.setBalance("late", 100)
	if _, err := m.CreateLobby(testPlayer("late", 10)); !errors.Is(err, ErrTooManyLobbies) {
		t.Fatalf("err = %v, want ErrTooManyLobbies", err)
	}
}

func TestRPSJoinLobby(t *testing.T) {
	store := newFakeStore()
	store.setBalance("u1", 500)
	store.setBalance("u2", 500)
	m, hub := newTestRPSManager(store)

	lobby, _ := m.CreateLobby(testPlayer("u1", 100))

	joined, err := m.JoinLobby(lobby.ID, testPlayer("u2", 0))
	if err != nil {
		t.Fatalf("join: %v", err)
	}

	if joined.Status != LobbyReady {
		t.Errorf("status = %s, want ready", joined.Status)
	}
	if joined.Opponent == nil || joined.Opponent.UserID != "u2" {
		t.Fatalf("opponent not set: %+v", joined.Opponent)
	}
	// Joiner stakes the creator's amount.
	if got := store.balance("u2"); got != 400 {
		t.Errorf("joiner balance = %.2f, want 400", got)
	}
	if len(hub.eventsNamed("lobby-ready")) != 1 {
		t.Error("lobby-ready should be broadcast")
	}
	if len(m.Lobbies()) != 0 {
		t.Error("ready lobby must not be listed as open")
	}
}

func TestRPSJoinLobbyRejections(t *testing.T) {
	store := newFakeStore()
	store.setBalance("u1", 500)
	store.setBalance("u2", 500)
	m, _ := newTestRPSManager(store)

	lobby, _ := m.CreateLobby(testPlayer("u1", 100))

	if _, err := m.JoinLobby("missing", testPlayer("u2", 0)); !errors.Is(err, ErrLobbyNotFound) {
		t.Errorf("err = %v, want ErrLobbyNotFound", err)
	}
	if _, err := m.JoinLobby(lobby.ID, testPlayer("u1", 0)); !errors.Is(err, ErrOwnLobby) {
		t.Errorf("err = %v, want ErrOwnLobby", err)
	}

	// Single transition: a second join must fail.
	if _, err := m.JoinLobby(lobby.ID, testPlayer("u2", 0)); err != nil {
		t.Fatalf("first join: %v", err)
	}
	store.setBalance("u3", 500)
	if _, err := m.JoinLobby(lobby.ID, testPlayer("u3", 0)); !errors.Is(err, ErrLobbyNotWaiting) {
		t.Errorf("err = %v, want ErrLobbyNotWaiting", err)
	}
	if got := store.balance("u3"); got != 500 {
		t.Errorf("failed join must not keep the stake, got %.2f", got)
	}
}

func TestRPSPlayBot(t *testing.T) {
	store := newFakeStore()
	store.setBalance("u1", 500)
	m, hub := newTestRPSManager(store)

	lobby, _ := m.CreateLobby(testPlayer("u1", 100))

	updated, err := m.PlayBot(lobby.ID, "u1")
	if err != nil {
		t.Fatalf("play bot: %v", err)
	}
	if updated.Status != LobbyVsBot {
		t.Errorf("status = %s, want vs-bot", updated.Status)
	}
	if updated.Opponent.UserID != BotUserID {
		t.Errorf("opponent = %s, want bot", updated.Opponent.UserID)
	}
	if len(hub.eventsNamed("bot-joined")) != 1 {
		t.Error("bot-joined should be broadcast")
	}

	// Only the creator can summon the bot.
	lobby2, _ := func() (*Lobby, error) {
		store.setBalance("u2", 500)
		return m.CreateLobby(testPlayer("u2", 50))
	}()
	if _, err := m.PlayBot(lobby2.ID, "u1"); !errors.Is(err, ErrNotInLobby) {
		t.Errorf("err = %v, want ErrNotInLobby", err)
	}
}

func TestRPSBotBattleResolves(t *testing.T) {
	store := newFakeStore()
	store.setBalance("u1", 500)
	m, hub := newTestRPSManager(store)

	lobby, _ := m.CreateLobby(testPlayer("u1", 100))
	m.PlayBot(lobby.ID, "u1")

	result, err := m.SubmitMove(lobby.ID, "u1", "rock")
	if err != nil {
		t.Fatalf("submit move: %v", err)
	}
	if result == nil {
		t.Fatal("bot battle should resolve immediately")
	}

	// Bot move is derived from the committed seed.
	wantBotMove := RPSMove(lobby.ServerSeed, lobby.Nonce)
	if result.Moves[BotUserID] != wantBotMove {
		t.Errorf("bot move = %s, want %s", result.Moves[BotUserID], wantBotMove)
	}
	if result.ServerSeed != lobby.ServerSeed {
		t.Error("result must reveal the server seed")
	}

	verdict := DetermineRPSWinner("rock", wantBotMove)
	balance := store.balance("u1")
	switch verdict {
	case "player1":
		if balance != 400+200*RPS_POT_SPLIT {
			t.Errorf("winner balance = %.2f", balance)
		}
	case "draw":
		if balance != 500 {
			t.Errorf("draw balance = %.2f, want 500", balance)
		}
	default:
		if balance != 400 {
			t.Errorf("loser balance = %.2f, want 400", balance)
		}
	}

	if len(hub.eventsNamed("battle-result")) == 0 {
		t.Error("battle-result should be broadcast")
	}
	if len(m.History()) != 1 {
		t.Error("battle should enter history")
	}
	if _, err := m.SubmitMove(lobby.ID, "u1", "rock"); !errors.Is(err, ErrLobbyNotFound) {
		t.Error("completed lobby should be gone")
	}
}

func TestRPSPvPBattle(t *testing.T) {
	store := newFakeStore()
	store.setBalance("u1", 500)
	store.setBalance("u2", 500)
	m, _ := newTestRPSManager(store)

	lobby, _ := m.CreateLobby(testPlayer("u1", 100))
	m.JoinLobby(lobby.ID, testPlayer("u2", 0))

	result, err := m.SubmitMove(lobby.ID, "u1", "rock")
	if err != nil {
		t.Fatalf("first move: %v", err)
	}
	if result != nil {
		t.Fatal("battle must wait for the second move")
	}

	if _, err := m.SubmitMove(lobby.ID, "u1", "paper"); err == nil {
		t.Error("second move from the same player should be rejected")
	}

	result, err = m.SubmitMove(lobby.ID, "u2", "scissors")
	if err != nil {
		t.Fatalf("second move: %v", err)
	}
	if result == nil {
		t.Fatal("battle should resolve once both moves are in")
	}
	if result.Winner != "u1" {
		t.Errorf("winner = %s, want u1 (rock beats scissors)", result.Winner)
	}
	if got := store.balance("u1"); got != 400+200*RPS_POT_SPLIT {
		t.Errorf("winner balance = %.2f", got)
	}
	if got := store.balance("u2"); got != 400 {
		t.Errorf("loser balance = %.2f, want 400", got)
	}
}

func TestRPSSubmitMoveValidation(t *testing.T) {
	store := newFakeStore()
	store.setBalance("u1", 500)
	m, _ := newTestRPSManager(store)

	lobby, _ := m.CreateLobby(testPlayer("u1", 100))

	if _, err := m.SubmitMove(lobby.ID, "u1", "lizard"); !errors.Is(err, ErrInvalidMove) {
		t.Errorf("err = %v, want ErrInvalidMove", err)
	}
	// Waiting lobby has no opponent yet.
	if _, err := m.SubmitMove(lobby.ID, "u1", "rock"); !errors.Is(err, ErrLobbyNotWaiting) {
		t.Errorf("err = %v, want ErrLobbyNotWaiting", err)
	}
	m.PlayBot(lobby.ID, "u1")
	if _, err := m.SubmitMove(lobby.ID, "stranger", "rock"); !errors.Is(err, ErrNotInLobby) {
		t.Errorf("err = %v, want ErrNotInLobby", err)
	}
}

func TestRPSExpireLobbyRefunds(t *testing.T) {
	store := newFakeStore()
	store.setBalance("u1", 500)
	m, hub := newTestRPSManager(store)

	lobby, _ := m.CreateLobby(testPlayer("u1", 100))

	m.expireLobby(lobby.ID)

	if got := store.balance("u1"); got != 500 {
		t.Errorf("expiry must refund the stake, balance = %.2f", got)
	}
	if len(m.Lobbies()) != 0 {
		t.Error("expired lobby should be gone")
	}
	if len(hub.eventsNamed("lobby-removed")) != 1 {
		t.Error("lobby-removed should be broadcast")
	}

	// Expiry after a join is a no-op.
	store.setBalance("u2", 500)
	store.setBalance("u3", 500)
	lobby2, _ := m.CreateLobby(testPlayer("u2", 100))
	m.JoinLobby(lobby2.ID, testPlayer("u3", 0))
	m.expireLobby(lobby2.ID)
	if got := store.balance("u2"); got != 400 {
		t.Errorf("joined lobby must not refund on expiry, balance = %.2f", got)
	}
}

func TestRPSRemoveForConn(t *testing.T) {
	store := newFakeStore()
	store.setBalance("u1", 500)
	m, _ := newTestRPSManager(store)

	m.CreateLobby(testPlayer("u1", 100))
	m.RemoveForConn("conn-u1")

	if got := store.balance("u1"); got != 500 {
		t.Errorf("disconnect must refund the waiting lobby, balance = %.2f", got)
	}
	if len(m.Lobbies()) != 0 {
		t.Error("lobby should be gone after creator disconnect")
	}
}

func TestRPSStopRefundsOpenLobbies(t *testing.T) {
	store := newFakeStore()
	store.setBalance("u1", 500)
	m, _ := newTestRPSManager(store)

	m.CreateLobby(testPlayer("u1", 100))
	m.Stop()

	if got := store.balance("u1"); got != 500 {
		t.Errorf("stop must refund open lobbies, balance = %.2f", got)
	}
	if _, err := m.CreateLobby(testPlayer("u1", 100)); err == nil {
		t.Error("stopped manager must not open lobbies")
	}
}
