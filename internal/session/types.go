package session

import (
	"context"
	"time"

	"github.com/channel27tech/clubmaster-sub003/pkg/gamewire"
)

// Status is a game lifecycle state.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusFinished Status = "FINISHED"
	StatusAborted  Status = "ABORTED"
)

// Game is the session state of one match. The move list is append-only while
// the game is active and immutable once terminal.
type Game struct {
	ID          string    `json:"id"`
	WhiteID     string    `json:"white_id"`
	BlackID     string    `json:"black_id"`
	TimeControl string    `json:"time_control"`
	MovesUCI    []string  `json:"moves_uci"`
	MovesSAN    []string  `json:"moves_san"`
	FEN         string    `json:"fen"`
	Turn        string    `json:"turn"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Repository persists finalized games. The engine never reads persisted
// state mid-game.
type Repository interface {
	SaveResult(ctx context.Context, g *Game, fin *gamewire.GameTerminated) error
}

// Broadcaster delivers events to a game room or a single channel.
type Broadcaster interface {
	Broadcast(gameID string, env gamewire.Envelope)
	Send(channelID string, env gamewire.Envelope)
}

// Notifier emits fire-and-forget events for delivery to a player's other
// devices. Delivery failures never affect game correctness.
type Notifier interface {
	Publish(ctx context.Context, event string, payload any)
}
