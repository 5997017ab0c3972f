package gamesync

import (
	"errors"
	"testing"

	"github.com/channel27tech/clubmaster-sub003/pkg/gamewire"
)

// Two independent engine instances exchange move records; after e4 e5 Nf3
// both digests must be byte-equal.
func TestTwoClientsConverge(t *testing.T) {
	white := NewReconciler("g1")
	black := NewReconciler("g1")

	for _, mv := range []string{"e4", "e5", "Nf3"} {
		var mover, watcher *Reconciler
		if white.SideToMove() == "white" {
			mover, watcher = white, black
		} else {
			mover, watcher = black, white
		}
		rec, err := mover.ApplyLocal(mv)
		if err != nil {
			t.Fatalf("ApplyLocal(%s): %v", mv, err)
		}
		if err := watcher.ApplyRemote(rec); err != nil {
			t.Fatalf("ApplyRemote(%s): %v", mv, err)
		}
	}

	if white.Digest() != black.Digest() {
		t.Fatalf("digests diverged:\n  white: %s\n  black: %s", white.Digest(), black.Digest())
	}
	if white.MoveCount() != 3 || black.MoveCount() != 3 {
		t.Fatalf("move counts: %d vs %d", white.MoveCount(), black.MoveCount())
	}
}

func TestApplyLocalAcceptsUCIAndSAN(t *testing.T) {
	r := NewReconciler("g1")
	rec, err := r.ApplyLocal("e2e4")
	if err != nil {
		t.Fatalf("UCI move: %v", err)
	}
	if rec.Notation != "e4" || rec.From != "e2" || rec.To != "e4" || rec.Side != "white" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if _, err := r.ApplyLocal("Nc6"); err != nil {
		t.Fatalf("SAN move: %v", err)
	}
	if _, err := r.ApplyLocal("zz9"); !errors.Is(err, gamewire.ErrMalformedMove) {
		t.Fatalf("expected malformed move, got %v", err)
	}
}

func TestApplyRemoteDropsDuplicateDelivery(t *testing.T) {
	sender := NewReconciler("g1")
	receiver := NewReconciler("g1")

	rec, err := sender.ApplyLocal("e4")
	if err != nil {
		t.Fatalf("ApplyLocal: %v", err)
	}
	if err := receiver.ApplyRemote(rec); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	// at-least-once delivery: the duplicate must be ignored, not applied
	if err := receiver.ApplyRemote(rec); err != nil {
		t.Fatalf("duplicate delivery: %v", err)
	}
	if receiver.MoveCount() != 1 {
		t.Fatalf("duplicate was applied, history len %d", receiver.MoveCount())
	}
}

func TestApplyRemoteFlagsDigestMismatch(t *testing.T) {
	r := NewReconciler("g1")
	rec := &gamewire.MoveRecord{
		GameID:   "g1",
		From:     "e2",
		To:       "e4",
		Side:     "white",
		Notation: "e4",
		// digest from a different position entirely
		PositionDigest: "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1",
	}
	if err := r.ApplyRemote(rec); !errors.Is(err, ErrDigestMismatch) {
		t.Fatalf("expected digest mismatch, got %v", err)
	}
	// the move itself was applied; a resync decides what happens next
	if r.MoveCount() != 1 {
		t.Fatalf("move should be applied before the check, got %d", r.MoveCount())
	}
}

// Replaying the notation history on a fresh engine must yield the digest the
// incremental applies produced.
func TestReplayConvergesWithIncremental(t *testing.T) {
	incremental := NewReconciler("g1")
	moves := []string{"d4", "d5", "c4", "e6", "Nc3", "Nf6", "cxd5", "exd5"}
	for _, mv := range moves {
		if _, err := incremental.ApplyLocal(mv); err != nil {
			t.Fatalf("ApplyLocal(%s): %v", mv, err)
		}
	}

	replayed := NewReconciler("g1")
	if err := replayed.ReplayHistory(incremental.History()); err != nil {
		t.Fatalf("ReplayHistory: %v", err)
	}
	if replayed.Digest() != incremental.Digest() {
		t.Fatalf("replay diverged:\n  %s\n  %s", replayed.Digest(), incremental.Digest())
	}
}

func TestReplayFailsLoudlyOnMalformedHistory(t *testing.T) {
	r := NewReconciler("g1")
	if err := r.ReplayHistory([]string{"e4", "e5", "Ke7"}); err == nil {
		t.Fatalf("expected replay failure on illegal move")
	}
}

func TestResyncFallsBackToDigestLoad(t *testing.T) {
	r := NewReconciler("g1")
	if _, err := r.ApplyLocal("a4"); err != nil {
		t.Fatalf("ApplyLocal: %v", err)
	}

	snap := &gamewire.ResyncSnapshot{
		GameID:          "g1",
		NotationHistory: []string{"e4", "e5", "Qq9"}, // broken history
		PositionDigest:  "rnbqkbnr/pppp1ppp/8/4p3/4P3/8/PPPP1PPP/RNBQKBNR w KQkq - 0 2",
		SideToMove:      "white",
	}
	if err := r.Resync(snap); err != nil {
		t.Fatalf("Resync should recover via digest load: %v", err)
	}
	if !SamePlacement(r.Digest(), snap.PositionDigest) {
		t.Fatalf("placement mismatch after resync: %s", r.Digest())
	}
}

func TestResyncPrefersReplay(t *testing.T) {
	authoritative := NewReconciler("g1")
	for _, mv := range []string{"e4", "c5", "Nf3"} {
		if _, err := authoritative.ApplyLocal(mv); err != nil {
			t.Fatalf("ApplyLocal(%s): %v", mv, err)
		}
	}

	stale := NewReconciler("g1")
	if _, err := stale.ApplyLocal("d4"); err != nil {
		t.Fatalf("ApplyLocal: %v", err)
	}
	if err := stale.Resync(authoritative.Snapshot()); err != nil {
		t.Fatalf("Resync: %v", err)
	}
	if stale.Digest() != authoritative.Digest() {
		t.Fatalf("resync did not converge: %s vs %s", stale.Digest(), authoritative.Digest())
	}
	if stale.MoveCount() != 3 {
		t.Fatalf("history should be rebuilt by replay, got %d moves", stale.MoveCount())
	}
}

func TestDetectRepetition(t *testing.T) {
	r := NewReconciler("g1")
	// shuffle knights back and forth until the start position recurs twice
	moves := []string{"Nf3", "Nf6", "Ng1", "Ng8", "Nf3", "Nf6", "Ng1", "Ng8"}
	for i, mv := range moves {
		if _, err := r.ApplyLocal(mv); err != nil {
			t.Fatalf("ApplyLocal(%s): %v", mv, err)
		}
		if i < len(moves)-1 && r.DetectRepetition() {
			t.Fatalf("repetition flagged too early at move %d", i+1)
		}
	}
	if !r.DetectRepetition() {
		t.Fatalf("threefold repetition not detected")
	}
}

func TestSamePlacementIgnoresMoveCounters(t *testing.T) {
	a := "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"
	b := "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR b - - 42 99"
	if !SamePlacement(a, b) {
		t.Fatalf("placement comparison must ignore metadata")
	}
	if SamePlacement(a, "8/8/8/8/8/8/8/8 w - - 0 1") {
		t.Fatalf("different placements compared equal")
	}
}

// Consecutive moves can share their notation (1.O-O O-O); only a true
// redelivery of the last move may be absorbed.
func TestApplyRemoteKeepsConsecutiveIdenticalNotation(t *testing.T) {
	white := NewReconciler("g1")
	black := NewReconciler("g1")

	moves := []string{"e4", "e5", "Nf3", "Nf6", "Bc4", "Bc5", "O-O", "O-O"}
	for i, san := range moves {
		sender, receiver := white, black
		if i%2 == 1 {
			sender, receiver = black, white
		}
		rec, err := sender.ApplyLocal(san)
		if err != nil {
			t.Fatalf("ApplyLocal %s: %v", san, err)
		}
		if err := receiver.ApplyRemote(rec); err != nil {
			t.Fatalf("ApplyRemote %s: %v", san, err)
		}
	}

	if white.MoveCount() != 8 || black.MoveCount() != 8 {
		t.Fatalf("history length %d/%d, want 8", white.MoveCount(), black.MoveCount())
	}
	if white.Digest() != black.Digest() {
		t.Fatalf("digests diverged:\n%s\n%s", white.Digest(), black.Digest())
	}
}
