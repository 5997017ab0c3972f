// Package gamesync keeps one rule-engine instance aligned with the
// authoritative move history of a game. Both ends of a game hold a
// Reconciler: clients apply their own moves optimistically, and the session
// uses one as the authoritative instance.
package gamesync

import (
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
	"go.uber.org/zap"

	"github.com/channel27tech/clubmaster-sub003/internal/obslog"
	"github.com/channel27tech/clubmaster-sub003/pkg/gamewire"
)

type syncErr string

func (e syncErr) Error() string { return string(e) }

// Recoverable reconciliation failures. Callers fall through to the next
// reconciliation level; these are never fatal to a session.
var (
	ErrDigestMismatch = syncErr("position digest mismatch after apply")
	ErrDesynchronized = syncErr("local state cannot be reconciled")
)

// Reconciler wraps one rule-engine instance plus the bookkeeping needed to
// resynchronize it: the SAN history, and a digest-occurrence map for local
// threefold detection.
type Reconciler struct {
	gameID string
	game   *nchess.Game
	san    []string
	seen   map[string]int
}

func NewReconciler(gameID string) *Reconciler {
	r := &Reconciler{gameID: gameID}
	r.reset(nchess.NewGame())
	return r
}

func (r *Reconciler) reset(g *nchess.Game) {
	r.game = g
	r.san = r.san[:0]
	r.seen = make(map[string]int)
	r.note()
}

func (r *Reconciler) note() { r.seen[RepetitionKey(r.game.FEN())]++ }

// ApplyLocal validates and applies a move chosen on this side (UCI preferred,
// SAN fallback) and returns the record to transmit.
func (r *Reconciler) ApplyLocal(moveStr string) (*gamewire.MoveRecord, error) {
	pos := r.game.Position()
	raw := strings.TrimSpace(moveStr)
	if raw == "" {
		return nil, gamewire.ErrMalformedMove
	}

	mv, err := nchess.UCINotation{}.Decode(pos, strings.ToLower(raw))
	if err != nil {
		mv, err = nchess.AlgebraicNotation{}.Decode(pos, raw)
	}
	if err != nil {
		return nil, gamewire.ErrMalformedMove
	}

	san := nchess.AlgebraicNotation{}.Encode(pos, mv)
	side := colorName(pos.Turn())
	if err := r.game.Move(mv, nil); err != nil {
		return nil, gamewire.ErrMalformedMove
	}
	r.san = append(r.san, san)
	r.note()

	uci := mv.String()
	return &gamewire.MoveRecord{
		GameID:         r.gameID,
		From:           mv.S1().String(),
		To:             mv.S2().String(),
		Promotion:      promoFromUCI(uci),
		Side:           side,
		Notation:       san,
		PositionDigest: r.game.FEN(),
	}, nil
}

// ApplyRemote applies a relayed move record through the local rule engine
// rather than trusting the record's digest; the digest serves only as a
// consistency check afterwards. A record duplicating the last applied move is
// dropped silently to tolerate at-least-once delivery.
func (r *Reconciler) ApplyRemote(rec *gamewire.MoveRecord) error {
	if rec == nil {
		return gamewire.ErrMalformedMove
	}
	// A duplicate of the last applied move carries the side that is no longer
	// to move. The notation alone is not enough: consecutive moves can share
	// their SAN (1.O-O O-O), and the second one is a new move.
	if n := len(r.san); n > 0 && r.san[n-1] == rec.Notation && rec.Side != colorName(r.game.Position().Turn()) {
		return nil
	}

	pos := r.game.Position()
	mv, err := nchess.AlgebraicNotation{}.Decode(pos, rec.Notation)
	if err != nil {
		uci := strings.ToLower(rec.From + rec.To + rec.Promotion)
		mv, err = nchess.UCINotation{}.Decode(pos, uci)
	}
	if err != nil {
		return gamewire.ErrMalformedMove
	}

	san := nchess.AlgebraicNotation{}.Encode(pos, mv)
	if err := r.game.Move(mv, nil); err != nil {
		return gamewire.ErrMalformedMove
	}
	r.san = append(r.san, san)
	r.note()

	if rec.PositionDigest != "" && !SamePlacement(r.game.FEN(), rec.PositionDigest) {
		return ErrDigestMismatch
	}
	return nil
}

// ReplayHistory is reconciliation level 1: rebuild the engine from the
// initial position by replaying the authoritative notation list. A malformed
// history fails loudly so the caller can drop to level 2.
func (r *Reconciler) ReplayHistory(history []string) error {
	r.reset(nchess.NewGame())
	for i, san := range history {
		if err := r.game.PushNotationMove(san, nchess.AlgebraicNotation{}, nil); err != nil {
			return fmt.Errorf("replay move %d (%s): %w", i+1, san, err)
		}
		r.san = append(r.san, san)
		r.note()
	}
	return nil
}

// LoadDigest is reconciliation level 2: adopt the authoritative position
// directly. The SAN history is no longer self-validated after this.
func (r *Reconciler) LoadDigest(digest string) error {
	opt, err := nchess.FEN(digest)
	if err != nil {
		return gamewire.ErrBadDigest
	}
	r.san = nil
	r.game = nchess.NewGame(opt)
	r.seen = make(map[string]int)
	r.note()
	return nil
}

// Resync executes level 1 against a full snapshot, then level 2 as fallback.
func (r *Reconciler) Resync(snap *gamewire.ResyncSnapshot) error {
	if snap == nil {
		return ErrDesynchronized
	}
	if err := r.ReplayHistory(snap.NotationHistory); err == nil {
		if snap.PositionDigest == "" || SamePlacement(r.game.FEN(), snap.PositionDigest) {
			return nil
		}
		obslog.L().Warn("resync_replay_digest_mismatch",
			zap.String("game_id", r.gameID),
			zap.String("local", r.game.FEN()),
			zap.String("authoritative", snap.PositionDigest),
		)
	} else {
		obslog.L().Warn("resync_replay_failed", zap.String("game_id", r.gameID), zap.Error(err))
	}
	if err := r.LoadDigest(snap.PositionDigest); err != nil {
		return ErrDesynchronized
	}
	return nil
}

// DetectRepetition reports whether the current position has now occurred
// three or more times, counting piece placement, side to move, castling and
// en-passant rights.
func (r *Reconciler) DetectRepetition() bool {
	return r.seen[RepetitionKey(r.game.FEN())] >= 3
}

// FiftyMoveExceeded reports whether the half-move clock has reached 100.
func (r *Reconciler) FiftyMoveExceeded() bool {
	fields := strings.Fields(r.game.FEN())
	if len(fields) < 5 {
		return false
	}
	var n int
	if _, err := fmt.Sscanf(fields[4], "%d", &n); err != nil {
		return false
	}
	return n >= 100
}

// Game exposes the underlying rule-engine instance for terminal-state checks.
func (r *Reconciler) Game() *nchess.Game { return r.game }

// Digest returns the current position digest.
func (r *Reconciler) Digest() string { return r.game.FEN() }

// History returns a copy of the SAN move list.
func (r *Reconciler) History() []string { return append([]string(nil), r.san...) }

func (r *Reconciler) MoveCount() int { return len(r.san) }

func (r *Reconciler) SideToMove() string { return colorName(r.game.Position().Turn()) }

func (r *Reconciler) TurnColor() nchess.Color { return r.game.Position().Turn() }

// Snapshot builds the authoritative resync payload for this engine instance.
func (r *Reconciler) Snapshot() *gamewire.ResyncSnapshot {
	return &gamewire.ResyncSnapshot{
		GameID:          r.gameID,
		NotationHistory: r.History(),
		PositionDigest:  r.Digest(),
		SideToMove:      r.SideToMove(),
	}
}

// SamePlacement compares only the piece-placement field of two digests;
// move-count metadata legitimately differs between independently-computed
// positions.
func SamePlacement(a, b string) bool {
	return firstField(a) != "" && firstField(a) == firstField(b)
}

// RepetitionKey normalizes a digest down to the fields that matter for
// repetition: placement, side to move, castling and en-passant rights.
func RepetitionKey(fen string) string {
	fields := strings.Fields(fen)
	if len(fields) > 4 {
		fields = fields[:4]
	}
	return strings.Join(fields, " ")
}

func firstField(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func colorName(c nchess.Color) string {
	if c == nchess.Black {
		return "black"
	}
	return "white"
}

func promoFromUCI(uci string) string {
	if len(uci) == 5 {
		return uci[4:]
	}
	return ""
}
