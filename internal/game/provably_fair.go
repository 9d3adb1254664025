package game

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
)

const (
	MIN_MULTIPLIER = 1.00
	MAX_MULTIPLIER = 1000000.00
	HOUSE_EDGE     = 0.01 // 1%
)

var rpsMoves = []string{"rock", "paper", "scissors"}

// GenerateSeed creates a cryptographically secure random seed
func GenerateSeed() string {
	b := make([]byte, 32)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// HashCommitment creates a SHA256 hash of the seed, published before
// betting closes so players can verify the seed was not swapped
func HashCommitment(seed string) string {
	h := sha256.New()
	h.Write([]byte(seed))
	return hex.EncodeToString(h.Sum(nil))
}

// outcomeDigest computes HMAC-SHA256(serverSeed, "nonce:gameTag"), the
// shared derivation every game outcome is mapped from
func outcomeDigest(serverSeed string, nonce int, gameTag string) string {
	h := hmac.New(sha256.New, []byte(serverSeed))
	h.Write([]byte(fmt.Sprintf("%d:%s", nonce, gameTag)))
	return hex.EncodeToString(h.Sum(nil))
}

// DiceRoll derives a dice face 1-6 from the seed and round nonce
func DiceRoll(serverSeed string, nonce int) DiceOutcome {
	hash := outcomeDigest(serverSeed, nonce, "dice")

	intValue, _ := new(big.Int).SetString(hash[:2], 16)
	value := int(intValue.Int64())%6 + 1

	return DiceOutcome{
		Value: value,
		IsOdd: value%2 == 1,
	}
}

// RPSMove derives a bot move from the seed and nonce
func RPSMove(serverSeed string, nonce int) string {
	hash := outcomeDigest(serverSeed, nonce, "rps")

	intValue, _ := new(big.Int).SetString(hash[:2], 16)
	return rpsMoves[int(intValue.Int64())%3]
}

// CrashPoint derives the committed crash multiplier. The first 13 hex
// characters normalize to [0,1); a houseEdge fraction of that range maps
// to an instant 1.00x crash, the rest follows (1-edge)/(1-r), which makes
// low multipliers common and high ones exponentially rarer.
func CrashPoint(serverSeed string, nonce int, houseEdge float64) float64 {
	hash := outcomeDigest(serverSeed, nonce, "crash")

	hexValue := hash[:13]
	i := new(big.Int)
	i.SetString(hexValue, 16)

	maxValue := new(big.Int).Lsh(big.NewInt(1), 52) // 16^13
	r, _ := new(big.Rat).SetFrac(i, maxValue).Float64()

	if r < houseEdge {
		return MIN_MULTIPLIER
	}

	crashValue := (1.0 - houseEdge) / (1.0 - r)

	// Round to 2 decimal places
	finalMultiplier := float64(int(crashValue*100)) / 100.0

	if finalMultiplier < MIN_MULTIPLIER {
		return MIN_MULTIPLIER
	}
	if finalMultiplier > MAX_MULTIPLIER {
		return MAX_MULTIPLIER
	}

	return finalMultiplier
}

// VerifyDiceRoll recomputes a dice outcome for the public verify endpoint
func VerifyDiceRoll(serverSeed string, nonce int, claimedValue int) bool {
	return DiceRoll(serverSeed, nonce).Value == claimedValue
}

// VerifyRPSMove recomputes a bot move
func VerifyRPSMove(serverSeed string, nonce int, claimedMove string) bool {
	return RPSMove(serverSeed, nonce) == claimedMove
}

// VerifyCrashPoint recomputes a crash point, allowing for small floating
// point differences
func VerifyCrashPoint(serverSeed string, nonce int, houseEdge, claimedPoint float64) bool {
	diff := CrashPoint(serverSeed, nonce, houseEdge) - claimedPoint
	if diff < 0 {
		diff = -diff
	}
	return diff < 0.01
}

// VerifyCommitment checks that a revealed seed matches its published hash
func VerifyCommitment(serverSeed, hashedSeed string) bool {
	return HashCommitment(serverSeed) == hashedSeed
}
