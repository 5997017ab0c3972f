package gamewire

import "encoding/json"

// Envelope is the frame exchanged on a player channel in both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Outbound event types.
const (
	TypeClockUpdate     = "clock_update"
	TypeMoveApplied     = "move_applied"
	TypeResyncSnapshot  = "resync_snapshot"
	TypeGameTerminated  = "game_terminated"
	TypePresenceChanged = "presence_changed"
	TypeDrawOffered     = "draw_offered"
	TypeError           = "error"
)

// Inbound command types.
const (
	TypeJoin             = "join"
	TypeMove             = "move"
	TypeResign           = "resign"
	TypeDrawAgreed       = "draw_agreed"
	TypeRepetitionReport = "repetition_report"
	TypeResyncRequest    = "resync_request"
)

// NewEnvelope marshals payload into a typed frame. Marshal failures are
// programming errors on our own DTOs, so they surface as an empty payload.
func NewEnvelope(typ string, payload any) Envelope {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{Type: typ}
	}
	return Envelope{Type: typ, Payload: raw}
}

// MoveRecord is both the client-submitted move and the relayed move_applied
// payload. The digest is a consistency check, never the applied source of truth.
type MoveRecord struct {
	GameID         string `json:"gameId"`
	From           string `json:"from"`
	To             string `json:"to"`
	Promotion      string `json:"promotion,omitempty"`
	Side           string `json:"side"`
	Notation       string `json:"notation"`
	PositionDigest string `json:"positionDigest"`
}

type ClockUpdate struct {
	GameID     string `json:"gameId"`
	WhiteMs    int64  `json:"whiteMs"`
	BlackMs    int64  `json:"blackMs"`
	SideToMove string `json:"sideToMove"`
	Running    bool   `json:"running"`
}

type ResyncSnapshot struct {
	GameID          string   `json:"gameId"`
	NotationHistory []string `json:"notationHistory"`
	PositionDigest  string   `json:"positionDigest"`
	SideToMove      string   `json:"sideToMove"`
}

type GameTerminated struct {
	GameID         string `json:"gameId"`
	Result         string `json:"result"`
	Reason         string `json:"reason"`
	WinnerIdentity string `json:"winnerIdentity,omitempty"`
	LoserIdentity  string `json:"loserIdentity,omitempty"`
	RatingDeltaA   int    `json:"ratingDeltaA"`
	RatingDeltaB   int    `json:"ratingDeltaB"`
}

type DrawOffer struct {
	GameID         string `json:"gameId"`
	PlayerIdentity string `json:"playerIdentity"`
}

type PresenceChanged struct {
	GameID              string `json:"gameId"`
	PlayerIdentity      string `json:"playerIdentity"`
	Connected           bool   `json:"connected"`
	ReconnectDeadlineMs int64  `json:"reconnectDeadlineMs,omitempty"`
}

// JoinRequest is the first frame a channel must send after the handshake.
type JoinRequest struct {
	GameID string `json:"gameId"`
}

type ErrorEvent struct {
	GameID  string `json:"gameId,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
