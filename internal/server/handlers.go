package server

import (
	"github.com/gofiber/fiber/v2"

	"n1verse/internal/game"
)

func (s *FiberServer) healthHandler(c *fiber.Ctx) error {
	health := fiber.Map{
		"database": s.db.Health(),
		"game": fiber.Map{
			"status":            "running",
			"connected_clients": s.hub.GetClientCount(),
			"online_users":      s.chat.OnlineCount(),
		},
	}
	if s.cache != nil {
		health["cache"] = s.cache.Health()
	}
	return c.JSON(health)
}

func (s *FiberServer) diceStateHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"state":   s.dice.Snapshot(),
		"players": s.dice.Players(),
	})
}

func (s *FiberServer) diceHistoryHandler(c *fiber.Ctx) error {
	if s.cache != nil {
		var cached []*game.DiceResult
		if hit, err := s.cache.GetHistory(c.Context(), "dice", &cached); err == nil && hit {
			return c.JSON(cached)
		}
	}
	history := s.dice.History()
	if s.cache != nil {
		s.cache.CacheHistory(c.Context(), "dice", history)
	}
	return c.JSON(history)
}

func (s *FiberServer) crashStateHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"state":   s.crash.Snapshot(),
		"players": s.crash.Players(),
	})
}

func (s *FiberServer) crashHistoryHandler(c *fiber.Ctx) error {
	if s.cache != nil {
		var cached []*game.CrashResult
		if hit, err := s.cache.GetHistory(c.Context(), "crash", &cached); err == nil && hit {
			return c.JSON(cached)
		}
	}
	history := s.crash.History()
	if s.cache != nil {
		s.cache.CacheHistory(c.Context(), "crash", history)
	}
	return c.JSON(history)
}

func (s *FiberServer) rpsLobbiesHandler(c *fiber.Ctx) error {
	return c.JSON(s.rps.Lobbies())
}

func (s *FiberServer) rpsHistoryHandler(c *fiber.Ctx) error {
	return c.JSON(s.rps.History())
}

type verifyRequest struct {
	Game       string  `json:"game"`
	ServerSeed string  `json:"serverSeed"`
	HashedSeed string  `json:"hashedSeed"`
	Nonce      int     `json:"nonce"`
	HouseEdge  float64 `json:"houseEdge,omitempty"`
}

// verifyHandler recomputes a revealed round so anyone can check the
// outcome matched the published commitment.
func (s *FiberServer) verifyHandler(c *fiber.Ctx) error {
	var req verifyRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if req.ServerSeed == "" || req.HashedSeed == "" {
		return c.Status(400).JSON(fiber.Map{"error": "serverSeed and hashedSeed are required"})
	}

	resp := fiber.Map{
		"commitmentValid": game.VerifyCommitment(req.ServerSeed, req.HashedSeed),
	}

	switch req.Game {
	case "dice":
		outcome := game.DiceRoll(req.ServerSeed, req.Nonce)
		resp["diceValue"] = outcome.Value
		resp["isOdd"] = outcome.IsOdd
	case "crash":
		edge := req.HouseEdge
		if edge == 0 {
			edge = game.HOUSE_EDGE
		}
		resp["crashPoint"] = game.CrashPoint(req.ServerSeed, req.Nonce, edge)
	case "rps":
		resp["botMove"] = game.RPSMove(req.ServerSeed, req.Nonce)
	default:
		return c.Status(400).JSON(fiber.Map{"error": "game must be dice, crash or rps"})
	}

	return c.JSON(resp)
}

func (s *FiberServer) getUserBalanceHandler(c *fiber.Ctx) error {
	userID := c.Params("userId")
	user, err := s.db.GetUserByID(c.Context(), userID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to load user"})
	}
	if user == nil {
		return c.Status(404).JSON(fiber.Map{"error": "User not found"})
	}
	return c.JSON(fiber.Map{"userId": user.ID, "balance": user.Balance})
}

type setBalanceRequest struct {
	Balance float64 `json:"balance"`
}

// setUserBalanceHandler is an admin/testing convenience; there is no
// auth layer in front of it.
func (s *FiberServer) setUserBalanceHandler(c *fiber.Ctx) error {
	userID := c.Params("userId")

	var req setBalanceRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if req.Balance < 0 {
		return c.Status(400).JSON(fiber.Map{"error": "Balance cannot be negative"})
	}

	ok, err := s.db.UpdateUserBalance(c.Context(), userID, req.Balance, game.BalanceSet)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to update balance"})
	}
	if !ok {
		return c.Status(404).JSON(fiber.Map{"error": "User not found"})
	}
	return c.JSON(fiber.Map{"userId": userID, "balance": req.Balance})
}
