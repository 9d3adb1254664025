package server

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"

	"n1verse/internal/cache"
	"n1verse/internal/database"
	"n1verse/internal/game"
)

type FiberServer struct {
	*fiber.App

	db    database.Service
	cache cache.Service
	hub   *game.Hub
	dice  *game.DiceManager
	crash *game.CrashManager
	rps   *game.RPSManager
	chat  *game.ChatRelay
}

func New() *FiberServer {
	// Initialize database
	db := database.New()

	// Redis is optional; chat degrades to in-memory history without it
	redisService := cache.New()
	var redisClient *redis.Client
	if redisService != nil {
		redisClient = redisService.GetClient()
	}

	cfg := game.LoadConfig()
	hub := game.NewHub()
	dice := game.NewDiceManager(db, hub, cfg)
	crash := game.NewCrashManager(db, hub, cfg)
	rps := game.NewRPSManager(db, hub, cfg)
	chat := game.NewChatRelay(hub, redisClient)

	server := &FiberServer{
		App: fiber.New(fiber.Config{
			ServerHeader:  "n1verse",
			AppName:       "n1verse",
			ReadTimeout:   10 * time.Second,
			WriteTimeout:  10 * time.Second,
			IdleTimeout:   120 * time.Second,
			StrictRouting: false,
		}),

		db:    db,
		cache: redisService,
		hub:   hub,
		dice:  dice,
		crash: crash,
		rps:   rps,
		chat:  chat,
	}

	// Apply global middleware
	server.App.Use(recover.New())
	server.App.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
	}))

	// Start game components
	go hub.Run()
	dice.Start()
	crash.Start()

	return server
}

// Shutdown stops the game loops, then the HTTP server, then the
// backing services.
func (s *FiberServer) Shutdown(ctx context.Context) error {
	s.dice.Stop()
	s.crash.Stop()
	s.rps.Stop()
	s.hub.Stop()

	err := s.App.ShutdownWithContext(ctx)

	if s.cache != nil {
		s.cache.Close()
	}
	s.db.Close()
	return err
}
