// Package presence tracks which player channels are live per game and drives
// grace-period forfeiture when a channel drops mid-game.
package presence

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/channel27tech/clubmaster-sub003/internal/clock"
	"github.com/channel27tech/clubmaster-sub003/internal/obslog"
	"github.com/channel27tech/clubmaster-sub003/pkg/gamewire"
)

// Engine is the slice of the session layer the coordinator drives.
type Engine interface {
	Participants(gameID string) (white, black string, err error)
	HandleAbandonment(gameID, playerID string)
	ResumeClock(gameID string) error
}

// Broadcaster fans presence events out to a game room.
type Broadcaster interface {
	Broadcast(gameID string, env gamewire.Envelope)
}

type entry struct {
	channelID string
	connected bool
	deadline  *time.Timer
}

// Coordinator keeps at most one live channel per (game id, player) pair. A
// newer connection for the same player supersedes the older one; the
// superseded channel id is handed back to the caller for closing.
type Coordinator struct {
	mu    sync.Mutex
	games map[string]map[string]*entry

	clocks  *clock.Service
	engine  Engine
	rooms   Broadcaster
	ceiling time.Duration
}

func NewCoordinator(clocks *clock.Service, engine Engine, rooms Broadcaster, ceiling time.Duration) *Coordinator {
	if ceiling <= 0 {
		ceiling = 60 * time.Second
	}
	return &Coordinator{
		games:   make(map[string]map[string]*entry),
		clocks:  clocks,
		engine:  engine,
		rooms:   rooms,
		ceiling: ceiling,
	}
}

// Connect registers a player channel on a game. A pending forfeiture for the
// player is cancelled. Returns the channel id this connection superseded, if
// any.
func (c *Coordinator) Connect(gameID, playerID, channelID string) (superseded string, err error) {
	white, black, err := c.engine.Participants(gameID)
	if err != nil {
		return "", err
	}
	if playerID != white && playerID != black {
		return "", gamewire.ErrNotParticipant
	}

	c.mu.Lock()
	players, ok := c.games[gameID]
	if !ok {
		players = make(map[string]*entry)
		c.games[gameID] = players
	}
	e, ok := players[playerID]
	if !ok {
		e = &entry{}
		players[playerID] = e
	}
	wasAbsent := !e.connected
	if e.channelID != channelID {
		superseded = e.channelID
	}
	e.channelID = channelID
	e.connected = true
	if e.deadline != nil {
		e.deadline.Stop()
		e.deadline = nil
	}
	bothUp := connectedLocked(players, white) && connectedLocked(players, black)
	c.mu.Unlock()

	obslog.L().Info("presence_connect",
		zap.String("game_id", gameID),
		zap.String("player_id", playerID),
		zap.String("channel_id", channelID),
		zap.Bool("reconnect", wasAbsent && superseded != ""),
	)
	c.rooms.Broadcast(gameID, gamewire.NewEnvelope(gamewire.TypePresenceChanged, &gamewire.PresenceChanged{
		GameID:         gameID,
		PlayerIdentity: playerID,
		Connected:      true,
	}))
	if bothUp {
		if err := c.engine.ResumeClock(gameID); err != nil {
			obslog.L().Debug("clock_resume_skipped", zap.String("game_id", gameID), zap.Error(err))
		}
	}
	return superseded, nil
}

func connectedLocked(players map[string]*entry, playerID string) bool {
	e, ok := players[playerID]
	return ok && e.connected
}

// Disconnect marks the player absent and arms the forfeiture timer. A
// disconnect for a channel that has already been superseded is ignored.
func (c *Coordinator) Disconnect(gameID, playerID, channelID string) {
	grace := c.grace(gameID, playerID)

	c.mu.Lock()
	e := c.lookupLocked(gameID, playerID)
	if e == nil || e.channelID != channelID || !e.connected {
		c.mu.Unlock()
		return
	}
	e.connected = false
	if e.deadline != nil {
		e.deadline.Stop()
	}
	e.deadline = time.AfterFunc(grace, func() {
		c.forfeit(gameID, playerID)
	})
	c.mu.Unlock()

	obslog.L().Info("presence_disconnect",
		zap.String("game_id", gameID),
		zap.String("player_id", playerID),
		zap.Duration("grace", grace),
	)
	c.rooms.Broadcast(gameID, gamewire.NewEnvelope(gamewire.TypePresenceChanged, &gamewire.PresenceChanged{
		GameID:              gameID,
		PlayerIdentity:      playerID,
		Connected:           false,
		ReconnectDeadlineMs: grace.Milliseconds(),
	}))
}

// Channel reports the live channel id for a player, if connected.
func (c *Coordinator) Channel(gameID, playerID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.lookupLocked(gameID, playerID)
	if e == nil || !e.connected {
		return "", false
	}
	return e.channelID, true
}

// DropGame cancels all pending timers and forgets the game. Wired as the
// session manager's evict hook.
func (c *Coordinator) DropGame(gameID string) {
	c.mu.Lock()
	players := c.games[gameID]
	delete(c.games, gameID)
	c.mu.Unlock()

	for _, e := range players {
		if e.deadline != nil {
			e.deadline.Stop()
		}
	}
}

func (c *Coordinator) lookupLocked(gameID, playerID string) *entry {
	players, ok := c.games[gameID]
	if !ok {
		return nil
	}
	return players[playerID]
}

// grace caps the reconnection window at the lesser of the fixed ceiling and
// the absent side's remaining clock time.
func (c *Coordinator) grace(gameID, playerID string) time.Duration {
	grace := c.ceiling
	white, _, err := c.engine.Participants(gameID)
	if err != nil {
		return grace
	}
	snap, err := c.clocks.State(gameID)
	if err != nil {
		return grace
	}
	remaining := snap.BlackMs
	if playerID == white {
		remaining = snap.WhiteMs
	}
	if r := time.Duration(remaining) * time.Millisecond; r < grace {
		grace = r
	}
	return grace
}

func (c *Coordinator) forfeit(gameID, playerID string) {
	c.mu.Lock()
	e := c.lookupLocked(gameID, playerID)
	if e == nil || e.connected {
		c.mu.Unlock()
		return
	}
	e.deadline = nil
	c.mu.Unlock()

	obslog.L().Info("presence_forfeit", zap.String("game_id", gameID), zap.String("player_id", playerID))
	c.engine.HandleAbandonment(gameID, playerID)
}
