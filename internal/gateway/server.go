package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/channel27tech/clubmaster-sub003/internal/obslog"
	"github.com/channel27tech/clubmaster-sub003/pkg/gamewire"
)

// Engine is the slice of the session layer reachable from a channel.
type Engine interface {
	SubmitMove(gameID, playerID, channelID string, rec *gamewire.MoveRecord) error
	Resign(gameID, playerID string) error
	AgreeDraw(gameID, playerID string) error
	ReportRepetition(gameID, playerID string) error
	RequestResync(gameID, channelID string) error
}

// Presence mirrors the coordinator's connect/disconnect surface.
type Presence interface {
	Connect(gameID, playerID, channelID string) (superseded string, err error)
	Disconnect(gameID, playerID, channelID string)
}

// IdentityVerifier resolves the handshake request to a verified player
// identity. Token verification is an external capability; the gateway only
// consumes its result.
type IdentityVerifier func(r *http.Request) (string, error)

// HeaderIdentity trusts an upstream-verified identity header. Suitable when
// the gateway sits behind an authenticating proxy.
func HeaderIdentity(header string) IdentityVerifier {
	return func(r *http.Request) (string, error) {
		id := r.Header.Get(header)
		if id == "" {
			id = r.URL.Query().Get("playerId")
		}
		if id == "" {
			return "", gamewire.DomainError{Code: gamewire.CodeValidationFailure, Message: "missing player identity"}
		}
		return id, nil
	}
}

const writeTimeout = 5 * time.Second

// Server upgrades player connections and pumps frames between the socket and
// the engine.
type Server struct {
	hub      *Hub
	engine   Engine
	presence Presence
	verify   IdentityVerifier
}

func NewServer(hub *Hub, engine Engine, presence Presence, verify IdentityVerifier) *Server {
	return &Server{hub: hub, engine: engine, presence: presence, verify: verify}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	playerID, err := s.verify(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		obslog.L().Warn("ws_accept_failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	var once sync.Once
	c := &client{
		id:       uuid.NewString(),
		playerID: playerID,
		out:      make(chan gamewire.Envelope, 64),
	}
	c.stop = func() {
		once.Do(func() {
			cancel()
			_ = conn.Close(websocket.StatusGoingAway, "channel closed")
		})
	}
	s.hub.add(c)

	obslog.L().Info("ws_connect", zap.String("channel_id", c.id), zap.String("player_id", playerID))

	go s.writeLoop(ctx, conn, c)
	s.readLoop(ctx, conn, c)

	if gameID := c.room(); gameID != "" {
		s.presence.Disconnect(gameID, playerID, c.id)
	}
	s.hub.remove(c.id)
	c.stop()
	obslog.L().Info("ws_disconnect", zap.String("channel_id", c.id), zap.String("player_id", playerID))
}

func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, c *client) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-c.out:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, env)
			cancel()
			if err != nil {
				c.stop()
				return
			}
		}
	}
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, c *client) {
	// the first frame must join a game before anything else is accepted
	var env gamewire.Envelope
	if err := wsjson.Read(ctx, conn, &env); err != nil {
		return
	}
	if env.Type != gamewire.TypeJoin {
		s.sendError(c, "", gamewire.CodeInvalidState, "first frame must join a game")
		return
	}
	var join gamewire.JoinRequest
	if err := json.Unmarshal(env.Payload, &join); err != nil || join.GameID == "" {
		s.sendError(c, "", gamewire.CodeValidationFailure, "malformed join request")
		return
	}
	superseded, err := s.presence.Connect(join.GameID, c.playerID, c.id)
	if err != nil {
		s.sendError(c, join.GameID, errCode(err), err.Error())
		return
	}
	if superseded != "" {
		s.hub.CloseChannel(superseded)
	}
	s.hub.join(join.GameID, c)
	gameID := join.GameID

	for {
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			return
		}
		if err := s.dispatch(gameID, c, env); err != nil {
			s.sendError(c, gameID, errCode(err), err.Error())
		}
	}
}

func (s *Server) dispatch(gameID string, c *client, env gamewire.Envelope) error {
	switch env.Type {
	case gamewire.TypeMove:
		var rec gamewire.MoveRecord
		if err := json.Unmarshal(env.Payload, &rec); err != nil {
			return gamewire.ErrMalformedMove
		}
		rec.GameID = gameID
		return s.engine.SubmitMove(gameID, c.playerID, c.id, &rec)
	case gamewire.TypeResign:
		return s.engine.Resign(gameID, c.playerID)
	case gamewire.TypeDrawAgreed:
		return s.engine.AgreeDraw(gameID, c.playerID)
	case gamewire.TypeRepetitionReport:
		return s.engine.ReportRepetition(gameID, c.playerID)
	case gamewire.TypeResyncRequest:
		return s.engine.RequestResync(gameID, c.id)
	default:
		return gamewire.DomainError{Code: gamewire.CodeValidationFailure, Message: "unknown frame type " + env.Type}
	}
}

func (s *Server) sendError(c *client, gameID, code, message string) {
	s.hub.Send(c.id, gamewire.NewEnvelope(gamewire.TypeError, &gamewire.ErrorEvent{
		GameID:  gameID,
		Code:    code,
		Message: message,
	}))
}

func errCode(err error) string {
	if de, ok := err.(gamewire.DomainError); ok && de.Code != "" {
		return de.Code
	}
	return gamewire.CodeInvalidState
}
