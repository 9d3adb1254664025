package game

import (
	"context"
	"log"
	"sync"
)

// SettlementFailure records one store write that did not land. Money
// movement is never retried automatically; failures are surfaced for
// manual reconciliation.
type SettlementFailure struct {
	BetID  string
	UserID string
	Op     string
	Err    error
}

// SettlementReport is the outcome of settling one round's bets.
type SettlementReport struct {
	Winners      []*Bet
	Losers       []*Bet
	TotalWagered float64
	TotalPayout  float64
	PlayersCount int
	Failures     []SettlementFailure
}

// Settler resolves a round's bets against the balance ledger. It holds
// no round state of its own; each state machine calls it exactly once
// per round.
type Settler struct {
	store Store
}

func NewSettler(store Store) *Settler {
	return &Settler{store: store}
}

// SettleDice pays every bet whose parity choice matches the outcome at
// the fixed dice multiplier and records stats and bet results for all.
func (s *Settler) SettleDice(ctx context.Context, bets []*Bet, outcome DiceOutcome) *SettlementReport {
	report := &SettlementReport{PlayersCount: len(bets)}
	winChoice := "even"
	if outcome.IsOdd {
		winChoice = "odd"
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	fail := func(bet *Bet, op string, err error) {
		mu.Lock()
		report.Failures = append(report.Failures, SettlementFailure{BetID: bet.ID, UserID: bet.UserID, Op: op, Err: err})
		mu.Unlock()
		log.Printf("[SETTLE] dice %s failed for bet %s user %s: %v", op, bet.ID, bet.UserID, err)
	}

	for _, bet := range bets {
		report.TotalWagered += bet.Amount

		if bet.Choice == winChoice {
			bet.IsWinner = true
			bet.Payout = bet.Amount * DICE_PAYOUT_MULTIPLIER
			report.Winners = append(report.Winners, bet)
			report.TotalPayout += bet.Payout

			wg.Add(1)
			go func(b *Bet) {
				defer wg.Done()
				if ok, err := s.store.UpdateUserBalance(ctx, b.UserID, b.Payout, BalanceAdd); err != nil || !ok {
					fail(b, "credit", err)
				}
				if err := s.store.UpdateUserStats(ctx, b.UserID, b.Amount, b.Payout); err != nil {
					fail(b, "stats", err)
				}
				if err := s.store.UpdateBetResult(ctx, GameTypeDice, b.ID, true, b.Payout); err != nil {
					fail(b, "result", err)
				}
			}(bet)
		} else {
			report.Losers = append(report.Losers, bet)

			wg.Add(1)
			go func(b *Bet) {
				defer wg.Done()
				if err := s.store.UpdateUserStats(ctx, b.UserID, b.Amount, 0); err != nil {
					fail(b, "stats", err)
				}
				if err := s.store.UpdateBetResult(ctx, GameTypeDice, b.ID, false, 0); err != nil {
					fail(b, "result", err)
				}
			}(bet)
		}
	}
	wg.Wait()
	return report
}

// SettleCrash closes out a crashed round. Cashed-out bets were already
// credited the moment they cashed out, so only stats and bet results are
// written here; everyone still holding a bet at the crash point loses.
func (s *Settler) SettleCrash(ctx context.Context, bets []*Bet, crashPoint float64) *SettlementReport {
	report := &SettlementReport{PlayersCount: len(bets)}

	var wg sync.WaitGroup
	var mu sync.Mutex
	fail := func(bet *Bet, op string, err error) {
		mu.Lock()
		report.Failures = append(report.Failures, SettlementFailure{BetID: bet.ID, UserID: bet.UserID, Op: op, Err: err})
		mu.Unlock()
		log.Printf("[SETTLE] crash %s failed for bet %s user %s: %v", op, bet.ID, bet.UserID, err)
	}

	for _, bet := range bets {
		report.TotalWagered += bet.Amount

		if bet.IsCashedOut && bet.CashOutAt <= crashPoint {
			bet.IsWinner = true
			report.Winners = append(report.Winners, bet)
			report.TotalPayout += bet.Payout
			continue
		}

		bet.IsWinner = false
		report.Losers = append(report.Losers, bet)

		wg.Add(1)
		go func(b *Bet) {
			defer wg.Done()
			if err := s.store.UpdateUserStats(ctx, b.UserID, b.Amount, 0); err != nil {
				fail(b, "stats", err)
			}
			if err := s.store.UpdateBetResult(ctx, GameTypeCrash, b.ID, false, 0); err != nil {
				fail(b, "result", err)
			}
		}(bet)
	}
	wg.Wait()
	return report
}

// DetermineRPSWinner applies rock > scissors > paper > rock.
// Returns "player1", "player2" or "draw".
func DetermineRPSWinner(move1, move2 string) string {
	if move1 == move2 {
		return "draw"
	}
	beats := map[string]string{
		"rock":     "scissors",
		"paper":    "rock",
		"scissors": "paper",
	}
	if beats[move1] == move2 {
		return "player1"
	}
	return "player2"
}

// SettleRPS moves the money for one finished battle. Both stakes were
// debited when the players entered the lobby, so a win credits the
// pot split, a draw refunds both stakes, and a loss moves nothing.
// Returns winner user id ("" on draw) and the winner payout.
func (s *Settler) SettleRPS(ctx context.Context, lobby *Lobby, verdict string) (winnerID string, payout float64) {
	creator := lobby.Creator
	opponent := lobby.Opponent
	pot := creator.Amount * 2

	credit := func(userID string, amount float64, op string) {
		if userID == BotUserID || amount <= 0 {
			return
		}
		if ok, err := s.store.UpdateUserBalance(ctx, userID, amount, BalanceAdd); err != nil || !ok {
			log.Printf("[SETTLE] rps %s failed for user %s: %v", op, userID, err)
		}
	}
	stats := func(userID string, wagered, won float64) {
		if userID == BotUserID {
			return
		}
		if err := s.store.UpdateUserStats(ctx, userID, wagered, won); err != nil {
			log.Printf("[SETTLE] rps stats failed for user %s: %v", userID, err)
		}
	}

	switch verdict {
	case "draw":
		// A refund is not a win; a draw counts the wager only.
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			credit(creator.UserID, creator.Amount, "refund")
			stats(creator.UserID, creator.Amount, 0)
		}()
		go func() {
			defer wg.Done()
			if opponent != nil {
				credit(opponent.UserID, opponent.Amount, "refund")
				stats(opponent.UserID, opponent.Amount, 0)
			}
		}()
		wg.Wait()
		return "", 0

	case "player1":
		payout = pot * RPS_POT_SPLIT
		credit(creator.UserID, payout, "payout")
		stats(creator.UserID, creator.Amount, payout)
		if opponent != nil {
			stats(opponent.UserID, opponent.Amount, 0)
		}
		return creator.UserID, payout

	default: // player2
		payout = pot * RPS_POT_SPLIT
		if opponent != nil {
			credit(opponent.UserID, payout, "payout")
			stats(opponent.UserID, opponent.Amount, payout)
		}
		stats(creator.UserID, creator.Amount, 0)
		if opponent != nil {
			return opponent.UserID, payout
		}
		return BotUserID, payout
	}
}
