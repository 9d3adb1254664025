package server

import (
	"context"
	"encoding/json"
	"log"

	"github.com/gofiber/contrib/websocket"

	"n1verse/internal/game"
)

// Inbound payloads, validated here at the boundary. Identity always
// comes from the session (user-connect), never from a game payload.

type userConnectPayload struct {
	UserID         string `json:"userId"`
	Username       string `json:"username"`
	ProfilePicture string `json:"profilePicture"`
}

type diceBetPayload struct {
	Amount float64 `json:"amount"`
	Choice string  `json:"choice"`
}

type crashBetPayload struct {
	Amount      float64 `json:"amount"`
	AutoCashout float64 `json:"autoCashout,omitempty"`
}

type lobbyPayload struct {
	LobbyID string  `json:"lobbyId"`
	Amount  float64 `json:"amount,omitempty"`
	Move    string  `json:"move,omitempty"`
}

type chatPayload struct {
	Message string `json:"message"`
}

func (s *FiberServer) websocketHandler(conn *websocket.Conn) {
	client := s.hub.Register(conn)
	defer func() {
		s.handleDisconnect(client)
		s.hub.Unregister(client)
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}

		var env game.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			client.Send("error", map[string]string{"message": "Malformed message"})
			continue
		}
		s.dispatch(client, env)
	}
}

func (s *FiberServer) dispatch(client *game.Client, env game.Envelope) {
	switch env.Type {
	case "ping":
		client.Send("pong", nil)

	case "user-connect":
		s.handleUserConnect(client, env.Data)

	case "join-dice":
		s.hub.Join(client, game.RoomDice)
		client.Send("dice-game-state", s.dice.Snapshot())
		client.Send("dice-players", s.dice.Players())

	case "place-dice-bet":
		s.handleDiceBet(client, env.Data)

	case "join-crash":
		s.handleJoinCrash(client)

	case "place-crash-bet":
		s.handleCrashBet(client, env.Data)

	case "crash-cash-out":
		s.handleCrashCashout(client)

	case "join-rps":
		s.hub.Join(client, game.RoomRPS)
		client.Send("lobbies-list", s.rps.Lobbies())
		client.Send("rps-history", s.rps.History())

	case "create-rps-lobby":
		s.handleCreateLobby(client, env.Data)

	case "join-rps-lobby":
		s.handleJoinLobby(client, env.Data)

	case "play-rps-bot":
		s.handlePlayBot(client, env.Data)

	case "submit-rps-move":
		s.handleSubmitMove(client, env.Data)

	case "join-chat":
		s.chat.Join(client)

	case "send-chat-message":
		var payload chatPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			client.Send("error", map[string]string{"message": "Malformed message"})
			return
		}
		s.chat.Send(client, payload.Message)

	default:
		log.Printf("[WS] Unknown event %q from client %s", env.Type, client.ID)
		client.Send("error", map[string]string{"message": "Unknown event: " + env.Type})
	}
}

func (s *FiberServer) handleUserConnect(client *game.Client, data json.RawMessage) {
	var payload userConnectPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.UserID == "" || payload.Username == "" {
		client.Send("error", map[string]string{"message": "userId and username are required"})
		return
	}

	client.SetIdentity(payload.UserID, payload.Username, payload.ProfilePicture)

	ctx := context.Background()
	if err := s.db.EnsureUser(ctx, payload.UserID, payload.Username, payload.ProfilePicture); err != nil {
		log.Printf("[WS] EnsureUser failed for %s: %v", payload.UserID, err)
	}

	resp := map[string]interface{}{"userId": payload.UserID}
	if user, err := s.db.GetUserByID(ctx, payload.UserID); err == nil && user != nil {
		resp["balance"] = user.Balance
	}
	client.Send("user-connected", resp)
}

// requireIdentity rejects game actions from connections that never sent
// user-connect.
func (s *FiberServer) requireIdentity(client *game.Client) (userID, username, profilePicture string, ok bool) {
	userID, username, profilePicture = client.Identity()
	if userID == "" {
		client.Send("error", map[string]string{"message": "Connect with user-connect first"})
		return "", "", "", false
	}
	return userID, username, profilePicture, true
}

func (s *FiberServer) handleDiceBet(client *game.Client, data json.RawMessage) {
	userID, username, profilePicture, ok := s.requireIdentity(client)
	if !ok {
		return
	}

	var payload diceBetPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		client.Send("dice-bet-response", game.BetResponse{Success: false, Message: "Malformed bet"})
		return
	}

	resp := s.dice.PlaceBet(game.DiceBetRequest{
		UserID:         userID,
		Username:       username,
		ProfilePicture: profilePicture,
		Amount:         payload.Amount,
		Choice:         payload.Choice,
		ConnID:         client.ID,
	})
	client.Send("dice-bet-response", resp)
}

func (s *FiberServer) handleJoinCrash(client *game.Client) {
	s.hub.Join(client, game.RoomCrash)
	client.Send("crash-game-state", s.crash.Snapshot())
	client.Send("crash-players", s.crash.Players())

	// Re-attach a live bet from a previous connection of this user.
	if userID, _, _ := client.Identity(); userID != "" {
		if bet, ok := s.crash.RecoverBet(userID, client.ID); ok {
			client.Send("crash-bet-recovered", game.BetRecoveredMessage{
				Bet:     bet,
				Message: "Your bet is still active",
			})
		}
	}
}

func (s *FiberServer) handleCrashBet(client *game.Client, data json.RawMessage) {
	userID, username, profilePicture, ok := s.requireIdentity(client)
	if !ok {
		return
	}

	var payload crashBetPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		client.Send("crash-bet-response", game.BetResponse{Success: false, Message: "Malformed bet"})
		return
	}

	resp := s.crash.PlaceBet(game.CrashBetRequest{
		UserID:         userID,
		Username:       username,
		ProfilePicture: profilePicture,
		Amount:         payload.Amount,
		AutoCashout:    payload.AutoCashout,
		ConnID:         client.ID,
	})
	client.Send("crash-bet-response", resp)
}

func (s *FiberServer) handleCrashCashout(client *game.Client) {
	userID, _, _, ok := s.requireIdentity(client)
	if !ok {
		return
	}
	resp := s.crash.CashOut(game.CashoutRequest{UserID: userID, ConnID: client.ID})
	client.Send("crash-cashout-response", resp)
}

func (s *FiberServer) handleCreateLobby(client *game.Client, data json.RawMessage) {
	userID, username, profilePicture, ok := s.requireIdentity(client)
	if !ok {
		return
	}

	var payload lobbyPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		client.Send("rps-error", map[string]string{"message": "Malformed request"})
		return
	}

	lobby, err := s.rps.CreateLobby(game.LobbyPlayer{
		ConnID:         client.ID,
		UserID:         userID,
		Username:       username,
		Amount:         payload.Amount,
		ProfilePicture: profilePicture,
	})
	if err != nil {
		client.Send("rps-error", map[string]string{"message": err.Error()})
		return
	}
	s.hub.Join(client, game.LobbyRoom(lobby.ID))
	client.Send("lobby-created-response", lobby)
}

func (s *FiberServer) handleJoinLobby(client *game.Client, data json.RawMessage) {
	userID, username, profilePicture, ok := s.requireIdentity(client)
	if !ok {
		return
	}

	var payload lobbyPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.LobbyID == "" {
		client.Send("rps-error", map[string]string{"message": "lobbyId is required"})
		return
	}

	lobby, err := s.rps.JoinLobby(payload.LobbyID, game.LobbyPlayer{
		ConnID:         client.ID,
		UserID:         userID,
		Username:       username,
		ProfilePicture: profilePicture,
	})
	if err != nil {
		client.Send("rps-error", map[string]string{"message": err.Error()})
		return
	}
	s.hub.Join(client, game.LobbyRoom(lobby.ID))
	client.Send("lobby-joined-response", lobby)
}

func (s *FiberServer) handlePlayBot(client *game.Client, data json.RawMessage) {
	userID, _, _, ok := s.requireIdentity(client)
	if !ok {
		return
	}

	var payload lobbyPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.LobbyID == "" {
		client.Send("rps-error", map[string]string{"message": "lobbyId is required"})
		return
	}

	if _, err := s.rps.PlayBot(payload.LobbyID, userID); err != nil {
		client.Send("rps-error", map[string]string{"message": err.Error()})
	}
}

func (s *FiberServer) handleSubmitMove(client *game.Client, data json.RawMessage) {
	userID, _, _, ok := s.requireIdentity(client)
	if !ok {
		return
	}

	var payload lobbyPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.LobbyID == "" {
		client.Send("rps-error", map[string]string{"message": "lobbyId is required"})
		return
	}

	if _, err := s.rps.SubmitMove(payload.LobbyID, userID, payload.Move); err != nil {
		client.Send("rps-error", map[string]string{"message": err.Error()})
	}
}

// handleDisconnect detaches the connection everywhere. Dice and crash
// bets survive the disconnect; waiting RPS lobbies are refunded and
// torn down.
func (s *FiberServer) handleDisconnect(client *game.Client) {
	s.chat.Leave(client)
	s.rps.RemoveForConn(client.ID)

	if bet, ok := s.dice.DetachConn(client.ID); ok {
		log.Printf("[WS] Dice bet %s kept after disconnect of %s", bet.ID, client.ID)
	}
	if bet, ok := s.crash.DetachConn(client.ID); ok {
		log.Printf("[WS] Crash bet %s kept after disconnect of %s", bet.ID, client.ID)
	}
}
