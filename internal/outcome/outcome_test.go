package outcome

import (
	"testing"

	nchess "github.com/corentings/chess/v2"
)

func gameFromFEN(t *testing.T, fen string) *nchess.Game {
	t.Helper()
	opt, err := nchess.FEN(fen)
	if err != nil {
		t.Fatalf("FEN(%q): %v", fen, err)
	}
	return nchess.NewGame(opt)
}

func TestTimeoutAgainstFullMaterialLoses(t *testing.T) {
	g := nchess.NewGame()
	out, ok := Decide(g, Event{TimedOut: nchess.White})
	if !ok {
		t.Fatalf("expected a terminal outcome")
	}
	if out.Result != ResultBlackWins || out.Reason != ReasonTimeout || out.Winner != nchess.Black {
		t.Fatalf("unexpected outcome: %+v", out)
	}
}

func TestTimeoutAgainstLoneKingIsDraw(t *testing.T) {
	// black has only the king; white flag falls
	g := gameFromFEN(t, "4k3/8/8/8/8/8/PPPPPPPP/RNBQKBNR w KQ - 0 1")
	out, ok := Decide(g, Event{TimedOut: nchess.White})
	if !ok {
		t.Fatalf("expected a terminal outcome")
	}
	if out.Result != ResultDraw || out.Reason != ReasonTimeout {
		t.Fatalf("lone-king timeout must be a draw, got %+v", out)
	}
}

func TestTimeoutSingleMinorIsDrawTwoKnightsIsNot(t *testing.T) {
	cases := []struct {
		fen  string
		want Result
	}{
		// king+knight cannot win on the flag
		{"4k3/8/8/8/8/8/8/4KN2 b - - 0 1", ResultDraw},
		// king+bishop cannot win on the flag
		{"4k3/8/8/8/8/8/8/4KB2 b - - 0 1", ResultDraw},
		// king+two knights is treated as winnable by design
		{"4k3/8/8/8/8/8/8/3NKN2 b - - 0 1", ResultWhiteWins},
		// a single pawn is always winnable
		{"4k3/8/8/8/8/8/4P3/4K3 b - - 0 1", ResultWhiteWins},
	}
	for _, tc := range cases {
		g := gameFromFEN(t, tc.fen)
		out, ok := Decide(g, Event{TimedOut: nchess.Black})
		if !ok {
			t.Fatalf("%s: expected terminal outcome", tc.fen)
		}
		if out.Result != tc.want {
			t.Fatalf("%s: got %s, want %s", tc.fen, out.Result, tc.want)
		}
	}
}

func TestResignation(t *testing.T) {
	out, ok := Decide(nchess.NewGame(), Event{Resigned: nchess.Black})
	if !ok || out.Result != ResultWhiteWins || out.Reason != ReasonResignation {
		t.Fatalf("unexpected outcome: %+v ok=%v", out, ok)
	}
}

func TestDrawAgreement(t *testing.T) {
	out, ok := Decide(nchess.NewGame(), Event{DrawAgreed: true})
	if !ok || out.Result != ResultDraw || out.Reason != ReasonDrawAgreed {
		t.Fatalf("unexpected outcome: %+v ok=%v", out, ok)
	}
}

func TestDisconnectionBeforeFirstMoveAborts(t *testing.T) {
	out, ok := Decide(nchess.NewGame(), Event{Disconnected: nchess.White, BeforeFirstMove: true})
	if !ok || out.Result != ResultAborted || out.Reason != ReasonAborted {
		t.Fatalf("unexpected outcome: %+v ok=%v", out, ok)
	}
	if out.Winner != nchess.NoColor {
		t.Fatalf("aborted game has no winner, got %v", out.Winner)
	}
}

func TestDisconnectionMidGameForfeits(t *testing.T) {
	out, ok := Decide(nchess.NewGame(), Event{Disconnected: nchess.Black})
	if !ok || out.Result != ResultWhiteWins || out.Reason != ReasonAbandonment {
		t.Fatalf("unexpected outcome: %+v ok=%v", out, ok)
	}
}

func TestCheckmateDetected(t *testing.T) {
	g := nchess.NewGame()
	for _, san := range []string{"f3", "e5", "g4", "Qh4"} {
		if err := g.PushNotationMove(san, nchess.AlgebraicNotation{}, nil); err != nil {
			t.Fatalf("move %s: %v", san, err)
		}
	}
	out, ok := Decide(g, Event{})
	if !ok || out.Result != ResultBlackWins || out.Reason != ReasonCheckmate {
		t.Fatalf("fool's mate not detected: %+v ok=%v", out, ok)
	}
}

func TestStalemateIsDraw(t *testing.T) {
	// black to move, stalemated
	g := gameFromFEN(t, "7k/5Q2/6K1/8/8/8/8/8 b - - 0 1")
	out, ok := Decide(g, Event{})
	if !ok || out.Result != ResultDraw || out.Reason != ReasonStalemate {
		t.Fatalf("stalemate not detected: %+v ok=%v", out, ok)
	}
}

func TestClientReportedRepetition(t *testing.T) {
	out, ok := Decide(nchess.NewGame(), Event{RepetitionReported: true})
	if !ok || out.Result != ResultDraw || out.Reason != ReasonThreefoldRepetition {
		t.Fatalf("unexpected outcome: %+v ok=%v", out, ok)
	}
}

func TestNoEventNoOutcome(t *testing.T) {
	if out, ok := Decide(nchess.NewGame(), Event{}); ok {
		t.Fatalf("fresh game must continue, got %+v", out)
	}
}

func TestTimeoutBeatsSimultaneousResignation(t *testing.T) {
	// precedence: timeout is evaluated before resignation
	out, ok := Decide(nchess.NewGame(), Event{TimedOut: nchess.White, Resigned: nchess.Black})
	if !ok || out.Reason != ReasonTimeout {
		t.Fatalf("expected timeout to take precedence, got %+v", out)
	}
}
