package session

import (
	"context"
	"time"

	nchess "github.com/corentings/chess/v2"
	"go.uber.org/zap"

	"github.com/channel27tech/clubmaster-sub003/internal/clock"
	"github.com/channel27tech/clubmaster-sub003/internal/gamesync"
	"github.com/channel27tech/clubmaster-sub003/internal/obslog"
	"github.com/channel27tech/clubmaster-sub003/internal/outcome"
	"github.com/channel27tech/clubmaster-sub003/internal/rating"
	"github.com/channel27tech/clubmaster-sub003/pkg/gamewire"
)

type cmdKind int

const (
	cmdMove cmdKind = iota
	cmdResign
	cmdDrawAgreed
	cmdRepetition
	cmdResync
	cmdSnapshot
	cmdClockExpired
	cmdAbandon
	cmdStop
)

type command struct {
	kind    cmdKind
	player  string
	channel string
	move    *gamewire.MoveRecord
	side    clock.Side

	reply    chan error
	snapshot chan *gamewire.ResyncSnapshot
}

// runtime is one game's task. Its loop goroutine is the only mutator of the
// game doc, the reconciler and the terminal outcome; everything reaches it
// through the mailbox.
type runtime struct {
	m       *Manager
	game    *Game
	rules   *gamesync.Reconciler
	mailbox chan command
	done    chan struct{}

	drawOffer nchess.Color
	final     *gamewire.GameTerminated
}

func newRuntime(m *Manager, gameID, whiteID, blackID, timeControl string) *runtime {
	now := time.Now().UTC()
	rules := gamesync.NewReconciler(gameID)
	return &runtime{
		m: m,
		game: &Game{
			ID:          gameID,
			WhiteID:     whiteID,
			BlackID:     blackID,
			TimeControl: timeControl,
			FEN:         rules.Digest(),
			Turn:        rules.SideToMove(),
			Status:      StatusActive,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		rules:   rules,
		mailbox: make(chan command, 32),
		done:    make(chan struct{}),
	}
}

// post enqueues a command unless the loop has already exited.
func (rt *runtime) post(c command) bool {
	select {
	case rt.mailbox <- c:
		return true
	case <-rt.done:
		return false
	}
}

func (rt *runtime) loop() {
	defer close(rt.done)
	for c := range rt.mailbox {
		switch c.kind {
		case cmdMove:
			respond(c, rt.handleMove(c))
		case cmdResign:
			respond(c, rt.terminateBy(c.player, func(side nchess.Color) outcome.Event {
				return outcome.Event{Resigned: side}
			}))
		case cmdDrawAgreed:
			respond(c, rt.handleDraw(c))
		case cmdRepetition:
			respond(c, rt.handleRepetition(c))
		case cmdResync:
			rt.m.rooms.Send(c.channel, gamewire.NewEnvelope(gamewire.TypeResyncSnapshot, rt.rules.Snapshot()))
			respond(c, nil)
		case cmdSnapshot:
			c.snapshot <- rt.rules.Snapshot()
		case cmdClockExpired:
			rt.handleClockExpired(c.side)
		case cmdAbandon:
			respond(c, rt.handleAbandon(c))
		case cmdStop:
			return
		}
	}
}

func respond(c command, err error) {
	if c.reply != nil {
		c.reply <- err
	}
}

func (rt *runtime) handleMove(c command) error {
	if rt.final != nil {
		return gamewire.ErrAlreadyTerminated
	}
	side, err := rt.sideOf(c.player)
	if err != nil {
		return err
	}
	if h := rt.game.MovesSAN; len(h) > 0 && h[len(h)-1] == c.move.Notation && colorName(side) != rt.rules.SideToMove() {
		// at-least-once redelivery of the mover's own last move
		return nil
	}
	if colorName(side) != rt.rules.SideToMove() {
		return gamewire.ErrNotYourTurn
	}
	// the submitter's identity decides the mover side, never the payload
	c.move.Side = colorName(side)

	before := rt.rules.MoveCount()
	applyErr := rt.rules.ApplyRemote(c.move)
	switch applyErr {
	case nil:
	case gamesync.ErrDigestMismatch:
		// the move itself was legal and is kept; the submitter's board has
		// drifted, so push the authoritative snapshot at it
		obslog.L().Warn("move_digest_mismatch",
			zap.String("game_id", rt.game.ID),
			zap.String("player_id", c.player),
			zap.String("notation", c.move.Notation),
		)
		rt.sendSnapshot(c.channel)
	default:
		rt.sendSnapshot(c.channel)
		return applyErr
	}
	if rt.rules.MoveCount() == before {
		// at-least-once redelivery of the last move
		return nil
	}

	// a standing draw offer lapses once play continues
	rt.drawOffer = nchess.NoColor

	rt.game.MovesSAN = rt.rules.History()
	rt.game.MovesUCI = append(rt.game.MovesUCI, uciOf(c.move))
	rt.game.FEN = rt.rules.Digest()
	rt.game.Turn = rt.rules.SideToMove()
	rt.game.UpdatedAt = time.Now().UTC()

	if err := rt.m.clocks.SwitchTurn(rt.game.ID); err != nil {
		obslog.L().Warn("clock_switch_failed", zap.String("game_id", rt.game.ID), zap.Error(err))
	}
	if err := rt.m.ResumeClock(rt.game.ID); err != nil {
		obslog.L().Warn("clock_resume_failed", zap.String("game_id", rt.game.ID), zap.Error(err))
	}

	rt.m.rooms.Broadcast(rt.game.ID, gamewire.NewEnvelope(gamewire.TypeMoveApplied, &gamewire.MoveRecord{
		GameID:         rt.game.ID,
		From:           c.move.From,
		To:             c.move.To,
		Promotion:      c.move.Promotion,
		Side:           colorName(side),
		Notation:       rt.game.MovesSAN[len(rt.game.MovesSAN)-1],
		PositionDigest: rt.game.FEN,
	}))

	if out, done := outcome.Decide(rt.rules.Game(), outcome.Event{}); done {
		rt.commit(out)
		return nil
	}
	if rt.rules.DetectRepetition() {
		rt.commit(outcome.Outcome{Result: outcome.ResultDraw, Reason: outcome.ReasonThreefoldRepetition})
		return nil
	}
	if rt.rules.FiftyMoveExceeded() {
		rt.commit(outcome.Outcome{Result: outcome.ResultDraw, Reason: outcome.ReasonFiftyMoveRule})
		return nil
	}
	return nil
}

// terminateBy handles player-initiated terminations (resign, agreed draw).
// After the game is final these are idempotent no-ops.
func (rt *runtime) terminateBy(player string, ev func(nchess.Color) outcome.Event) error {
	if rt.final != nil {
		return nil
	}
	side, err := rt.sideOf(player)
	if err != nil {
		return err
	}
	if out, done := outcome.Decide(rt.rules.Game(), ev(side)); done {
		rt.commit(out)
	}
	return nil
}

// handleDraw is the agreement handshake: the first frame from a side records
// an offer, a frame from the opposing side seals the draw. An offer stands
// until a move is applied.
func (rt *runtime) handleDraw(c command) error {
	if rt.final != nil {
		return nil
	}
	side, err := rt.sideOf(c.player)
	if err != nil {
		return err
	}
	if rt.drawOffer == nchess.NoColor || rt.drawOffer == side {
		rt.drawOffer = side
		rt.m.rooms.Broadcast(rt.game.ID, gamewire.NewEnvelope(gamewire.TypeDrawOffered, &gamewire.DrawOffer{
			GameID:         rt.game.ID,
			PlayerIdentity: c.player,
		}))
		return nil
	}
	if out, done := outcome.Decide(rt.rules.Game(), outcome.Event{DrawAgreed: true}); done {
		rt.commit(out)
	}
	return nil
}

func (rt *runtime) handleRepetition(c command) error {
	if rt.final != nil {
		return nil
	}
	if _, err := rt.sideOf(c.player); err != nil {
		return err
	}
	if !rt.rules.DetectRepetition() {
		return gamewire.DomainError{Code: gamewire.CodeValidationFailure, Message: "threefold repetition not confirmed"}
	}
	if out, done := outcome.Decide(rt.rules.Game(), outcome.Event{RepetitionReported: true}); done {
		rt.commit(out)
	}
	return nil
}

func (rt *runtime) handleClockExpired(flagged clock.Side) {
	if rt.final != nil {
		return
	}
	ev := outcome.Event{TimedOut: nchess.White}
	if flagged == clock.SideBlack {
		ev.TimedOut = nchess.Black
	}
	if out, done := outcome.Decide(rt.rules.Game(), ev); done {
		rt.commit(out)
	}
}

func (rt *runtime) handleAbandon(c command) error {
	if rt.final != nil {
		return nil
	}
	side, err := rt.sideOf(c.player)
	if err != nil {
		return err
	}
	ev := outcome.Event{Disconnected: side, BeforeFirstMove: rt.rules.MoveCount() == 0}
	if out, done := outcome.Decide(rt.rules.Game(), ev); done {
		rt.commit(out)
	}
	return nil
}

// commit finalizes the game exactly once. Clock teardown is the first side
// effect so no further expiry can race the outcome; everything after the
// memoization is delivery, and delivery failures never reopen the game.
func (rt *runtime) commit(out outcome.Outcome) {
	if rt.final != nil {
		return
	}
	rt.m.clocks.Teardown(rt.game.ID)

	fin := &gamewire.GameTerminated{
		GameID: rt.game.ID,
		Result: string(out.Result),
		Reason: string(out.Reason),
	}
	switch out.Winner {
	case nchess.White:
		fin.WinnerIdentity, fin.LoserIdentity = rt.game.WhiteID, rt.game.BlackID
	case nchess.Black:
		fin.WinnerIdentity, fin.LoserIdentity = rt.game.BlackID, rt.game.WhiteID
	}

	if out.Result == outcome.ResultAborted {
		rt.game.Status = StatusAborted
	} else {
		rt.game.Status = StatusFinished
		rt.applyRatings(out, fin)
	}
	rt.game.UpdatedAt = time.Now().UTC()

	rt.final = fin
	rt.m.storeFinal(rt.game.ID, fin)

	obslog.L().Info("game_terminate",
		zap.String("game_id", rt.game.ID),
		zap.String("result", fin.Result),
		zap.String("reason", fin.Reason),
		zap.String("winner_id", fin.WinnerIdentity),
		zap.Int("delta_white", fin.RatingDeltaA),
		zap.Int("delta_black", fin.RatingDeltaB),
	)

	rt.m.rooms.Broadcast(rt.game.ID, gamewire.NewEnvelope(gamewire.TypeGameTerminated, fin))
	rt.persist(fin)
	if rt.m.notify != nil {
		rt.m.notify.Publish(context.Background(), gamewire.TypeGameTerminated, fin)
	}

	gameID := rt.game.ID
	time.AfterFunc(rt.m.linger, func() { rt.m.evict(gameID) })
}

func (rt *runtime) applyRatings(out outcome.Outcome, fin *gamewire.GameTerminated) {
	if rt.m.ratings == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	white, err := rt.m.ratings.Standing(ctx, rt.game.WhiteID)
	if err != nil {
		obslog.L().Error("rating_load_failed", zap.String("game_id", rt.game.ID), zap.Error(err))
		return
	}
	black, err := rt.m.ratings.Standing(ctx, rt.game.BlackID)
	if err != nil {
		obslog.L().Error("rating_load_failed", zap.String("game_id", rt.game.ID), zap.Error(err))
		return
	}

	scoreWhite := 0.5
	switch out.Result {
	case outcome.ResultWhiteWins:
		scoreWhite = 1
	case outcome.ResultBlackWins:
		scoreWhite = 0
	}

	adj := rating.Adjust(white, black, scoreWhite)
	fin.RatingDeltaA = adj.DeltaA
	fin.RatingDeltaB = adj.DeltaB

	if err := rt.m.ratings.Apply(ctx, white, adj.DeltaA); err != nil {
		obslog.L().Error("rating_apply_failed", zap.String("player_id", white.Identity), zap.Error(err))
	}
	if err := rt.m.ratings.Apply(ctx, black, adj.DeltaB); err != nil {
		obslog.L().Error("rating_apply_failed", zap.String("player_id", black.Identity), zap.Error(err))
	}
}

func (rt *runtime) persist(fin *gamewire.GameTerminated) {
	if rt.m.repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snapshot := *rt.game
	if err := rt.m.repo.SaveResult(ctx, &snapshot, fin); err != nil {
		obslog.L().Error("game_persist_failed", zap.String("game_id", rt.game.ID), zap.Error(err))
	}
}

func (rt *runtime) sendSnapshot(channelID string) {
	if channelID == "" {
		return
	}
	rt.m.rooms.Send(channelID, gamewire.NewEnvelope(gamewire.TypeResyncSnapshot, rt.rules.Snapshot()))
}

func (rt *runtime) sideOf(player string) (nchess.Color, error) {
	switch player {
	case rt.game.WhiteID:
		return nchess.White, nil
	case rt.game.BlackID:
		return nchess.Black, nil
	default:
		return nchess.NoColor, gamewire.ErrNotParticipant
	}
}

func colorName(c nchess.Color) string {
	if c == nchess.Black {
		return "black"
	}
	return "white"
}

func uciOf(rec *gamewire.MoveRecord) string {
	return rec.From + rec.To + rec.Promotion
}
