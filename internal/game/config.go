package game

import (
	"os"
	"strconv"
	"time"

	_ "github.com/joho/godotenv/autoload"
)

const (
	MIN_BET_AMOUNT = 1.0
	MAX_BET_AMOUNT = 10000.0

	BETTING_TIME     = 25 * time.Second
	DICE_ROLL_TIME   = 5 * time.Second
	DICE_COOLDOWN    = 2 * time.Second
	CRASH_COOLDOWN   = 3 * time.Second
	CRASH_TICK       = 50 * time.Millisecond
	CRASH_MAX_FLIGHT = 180 * time.Second

	LOBBY_TIMEOUT   = 30 * time.Second
	MAX_LOBBIES     = 20
	REQUEST_TIMEOUT = 5 * time.Second

	DICE_PAYOUT_MULTIPLIER = 1.96
	RPS_POT_SPLIT          = 0.95

	// Minimum visible multiplier step during flight; keeps the broadcast
	// sequence strictly increasing.
	CRASH_MIN_STEP = 0.01

	DICE_HISTORY_SIZE  = 20
	CRASH_HISTORY_SIZE = 50
	RPS_HISTORY_SIZE   = 50

	CREATE_RETRIES       = 3
	CREATE_RETRY_BACKOFF = 1 * time.Second
	CREATE_RESCHEDULE    = 2 * time.Second
)

// Config carries the tunables the provably-fair curve leaves open.
type Config struct {
	CrashHouseEdge float64
	MaxBetAmount   float64
}

func LoadConfig() Config {
	return Config{
		CrashHouseEdge: getEnvAsFloat("CRASH_HOUSE_EDGE", HOUSE_EDGE),
		MaxBetAmount:   getEnvAsFloat("MAX_BET_AMOUNT", MAX_BET_AMOUNT),
	}
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
