package game

import (
	"sync"
)

// BetRegistry holds the accepted bets of the round in progress, keyed by
// user id. Reserve/Confirm/Release close the window between the duplicate
// check and the persistence calls, so two racing requests from the same
// user can never both pass validation.
type BetRegistry struct {
	mu      sync.Mutex
	bets    map[string]*Bet      // user id -> accepted bet
	pending map[string]struct{}  // user ids with an acceptance in flight
	conns   map[string]string    // conn id -> user id
}

func NewBetRegistry() *BetRegistry {
	return &BetRegistry{
		bets:    make(map[string]*Bet),
		pending: make(map[string]struct{}),
		conns:   make(map[string]string),
	}
}

// Reserve marks userID as having a bet in flight. It returns false if the
// user already holds a bet or a reservation this round.
func (r *BetRegistry) Reserve(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bets[userID]; ok {
		return false
	}
	if _, ok := r.pending[userID]; ok {
		return false
	}
	r.pending[userID] = struct{}{}
	return true
}

// Confirm promotes a reservation into an accepted bet.
func (r *BetRegistry) Confirm(bet *Bet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, bet.UserID)
	r.bets[bet.UserID] = bet
	if bet.ConnID != "" {
		r.conns[bet.ConnID] = bet.UserID
	}
}

// Release drops a reservation after a failed acceptance.
func (r *BetRegistry) Release(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, userID)
}

// Get returns a copy of the user's bet. Live records never leave the
// registry; callers that need to change one go through MarkCashedOut
// or Drain, so readers on other goroutines cannot race a write.
func (r *BetRegistry) Get(userID string) (*Bet, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bet, ok := r.bets[userID]
	if !ok {
		return nil, false
	}
	c := *bet
	return &c, true
}

// All returns copies of the current bets.
func (r *BetRegistry) All() []*Bet {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Bet, 0, len(r.bets))
	for _, bet := range r.bets {
		c := *bet
		out = append(out, &c)
	}
	return out
}

// MarkCashedOut applies a cash-out to the live record under the lock
// and returns a copy of the updated bet. A second cash-out misses.
func (r *BetRegistry) MarkCashedOut(userID string, multiplier, payout float64) (Bet, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bet, ok := r.bets[userID]
	if !ok || bet.IsCashedOut {
		return Bet{}, false
	}
	bet.IsCashedOut = true
	bet.CashOutAt = multiplier
	bet.Payout = payout
	bet.IsWinner = true
	return *bet, true
}

// Drain removes and returns every accepted bet, handing exclusive
// ownership to the caller. Settlement uses it so result bookkeeping
// cannot race snapshot reads.
func (r *BetRegistry) Drain() []*Bet {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Bet, 0, len(r.bets))
	for _, bet := range r.bets {
		out = append(out, bet)
	}
	r.bets = make(map[string]*Bet)
	r.conns = make(map[string]string)
	return out
}

func (r *BetRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bets)
}

// Clear resets the registry at the round boundary.
func (r *BetRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bets = make(map[string]*Bet)
	r.pending = make(map[string]struct{})
	r.conns = make(map[string]string)
}

// Detach nulls the connection reference of the bet owned by connID. The
// bet itself stays until the round settles, so a disconnected player is
// still paid.
func (r *BetRegistry) Detach(connID string) (*Bet, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	userID, ok := r.conns[connID]
	if !ok {
		return nil, false
	}
	delete(r.conns, connID)
	bet, ok := r.bets[userID]
	if !ok {
		return nil, false
	}
	bet.ConnID = ""
	c := *bet
	return &c, true
}

// Reattach points an existing bet at a fresh connection after a rejoin.
func (r *BetRegistry) Reattach(userID, connID string) (*Bet, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bet, ok := r.bets[userID]
	if !ok {
		return nil, false
	}
	if bet.ConnID != "" {
		delete(r.conns, bet.ConnID)
	}
	bet.ConnID = connID
	r.conns[connID] = userID
	c := *bet
	return &c, true
}

// Restore inserts a bet recovered from persistence, e.g. after the
// in-memory record was lost. It refuses to overwrite a live bet.
func (r *BetRegistry) Restore(bet *Bet) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bets[bet.UserID]; ok {
		return false
	}
	r.bets[bet.UserID] = bet
	if bet.ConnID != "" {
		r.conns[bet.ConnID] = bet.UserID
	}
	return true
}
