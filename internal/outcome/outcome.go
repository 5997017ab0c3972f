// Package outcome maps a termination-triggering event plus the current
// position to a single result descriptor. It is a pure decision function;
// memoizing the first outcome per game is the session layer's job.
package outcome

import (
	nchess "github.com/corentings/chess/v2"
)

// Result of a finished game.
type Result string

const (
	ResultWhiteWins Result = "white"
	ResultBlackWins Result = "black"
	ResultDraw      Result = "draw"
	ResultAborted   Result = "aborted"
)

// Reason enumerates termination causes.
type Reason string

const (
	ReasonCheckmate            Reason = "checkmate"
	ReasonTimeout              Reason = "timeout"
	ReasonResignation          Reason = "resignation"
	ReasonDrawAgreed           Reason = "draw_agreed"
	ReasonAbandonment          Reason = "abandonment"
	ReasonAborted              Reason = "aborted"
	ReasonStalemate            Reason = "stalemate"
	ReasonThreefoldRepetition  Reason = "threefold_repetition"
	ReasonInsufficientMaterial Reason = "insufficient_material"
	ReasonFiftyMoveRule        Reason = "fifty_move_rule"
)

// Event carries at most one externally-triggered cause. Zero values mean the
// caller is only asking about rule-engine-observable conditions.
type Event struct {
	TimedOut     nchess.Color
	Resigned     nchess.Color
	DrawAgreed   bool
	Disconnected nchess.Color
	// set when the disconnection happened before white's first move
	BeforeFirstMove    bool
	RepetitionReported bool
	FiftyMoveClaimed   bool
}

// Outcome is the immutable terminal descriptor.
type Outcome struct {
	Result Result
	Reason Reason
	Winner nchess.Color // NoColor for draws and aborts
}

// Decide evaluates the fixed precedence order: timeout, resignation, draw
// agreement, disconnection, then rule-engine conditions. The boolean is false
// when the game simply continues.
func Decide(game *nchess.Game, ev Event) (Outcome, bool) {
	if ev.TimedOut != nchess.NoColor {
		winner := other(ev.TimedOut)
		if game != nil && !HasWinnableMaterial(game.Position().Board(), winner) {
			// flag fall against bare (or single-minor) material is a draw
			return Outcome{Result: ResultDraw, Reason: ReasonTimeout}, true
		}
		return win(winner, ReasonTimeout), true
	}

	if ev.Resigned != nchess.NoColor {
		return win(other(ev.Resigned), ReasonResignation), true
	}

	if ev.DrawAgreed {
		return Outcome{Result: ResultDraw, Reason: ReasonDrawAgreed}, true
	}

	if ev.Disconnected != nchess.NoColor {
		if ev.BeforeFirstMove {
			return Outcome{Result: ResultAborted, Reason: ReasonAborted}, true
		}
		return win(other(ev.Disconnected), ReasonAbandonment), true
	}

	if game != nil {
		switch game.Outcome() {
		case nchess.WhiteWon:
			return win(nchess.White, ReasonCheckmate), true
		case nchess.BlackWon:
			return win(nchess.Black, ReasonCheckmate), true
		case nchess.Draw:
			return Outcome{Result: ResultDraw, Reason: drawReason(game.Method())}, true
		}
	}

	if ev.RepetitionReported {
		return Outcome{Result: ResultDraw, Reason: ReasonThreefoldRepetition}, true
	}

	if ev.FiftyMoveClaimed {
		return Outcome{Result: ResultDraw, Reason: ReasonFiftyMoveRule}, true
	}

	return Outcome{}, false
}

func win(c nchess.Color, reason Reason) Outcome {
	r := ResultWhiteWins
	if c == nchess.Black {
		r = ResultBlackWins
	}
	return Outcome{Result: r, Reason: reason, Winner: c}
}

func other(c nchess.Color) nchess.Color {
	if c == nchess.White {
		return nchess.Black
	}
	return nchess.White
}

func drawReason(m nchess.Method) Reason {
	switch m {
	case nchess.Stalemate:
		return ReasonStalemate
	case nchess.ThreefoldRepetition:
		return ReasonThreefoldRepetition
	case nchess.InsufficientMaterial:
		return ReasonInsufficientMaterial
	case nchess.FiftyMoveRule:
		return ReasonFiftyMoveRule
	default:
		return ReasonDrawAgreed
	}
}

// HasWinnableMaterial reports whether the given side could still win on the
// opponent's flag fall. A lone king, king+knight and king+bishop cannot; two
// knights are treated as winnable on purpose, since practical play makes the
// position losable even though it is a book draw.
func HasWinnableMaterial(board *nchess.Board, side nchess.Color) bool {
	knights, bishops := 0, 0
	for _, piece := range board.SquareMap() {
		if piece.Color() != side || piece.Type() == nchess.King {
			continue
		}
		switch piece.Type() {
		case nchess.Knight:
			knights++
		case nchess.Bishop:
			bishops++
		default:
			// pawn, rook or queen is always enough
			return true
		}
	}
	minors := knights + bishops
	return minors >= 2
}
