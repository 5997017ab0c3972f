package rating

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// Mixed K-factors: A provisional (15 games), B established (40 games),
// equal ratings, A wins.
func TestAdjustMixedExperience(t *testing.T) {
	a := Standing{Identity: "a", Rating: 1500, GamesPlayed: 15}
	b := Standing{Identity: "b", Rating: 1500, GamesPlayed: 40}

	adj := Adjust(a, b, 1)
	if adj.DeltaA != 20 {
		t.Fatalf("provisional winner delta: got %d, want 20", adj.DeltaA)
	}
	if adj.DeltaB != -10 {
		t.Fatalf("established loser delta: got %d, want -10", adj.DeltaB)
	}
}

func TestAdjustSymmetricWhenEqualExperience(t *testing.T) {
	a := Standing{Rating: 1600, GamesPlayed: 50}
	b := Standing{Rating: 1400, GamesPlayed: 50}

	adj := Adjust(a, b, 1)
	if adj.DeltaA+adj.DeltaB < -1 || adj.DeltaA+adj.DeltaB > 1 {
		t.Fatalf("equal-K deltas should cancel within rounding: %+v", adj)
	}
	if adj.DeltaA <= 0 || adj.DeltaB >= 0 {
		t.Fatalf("winner gains, loser loses: %+v", adj)
	}
}

func TestAdjustDrawFavorsUnderdog(t *testing.T) {
	favored := Standing{Rating: 1800, GamesPlayed: 100}
	underdog := Standing{Rating: 1500, GamesPlayed: 100}

	adj := Adjust(favored, underdog, 0.5)
	if adj.DeltaA >= 0 {
		t.Fatalf("favored player must lose points on a draw, got %d", adj.DeltaA)
	}
	if adj.DeltaB <= 0 {
		t.Fatalf("underdog must gain points on a draw, got %d", adj.DeltaB)
	}
}

func TestAdjustDefaultsZeroRating(t *testing.T) {
	a := Standing{Rating: 0, GamesPlayed: 0}
	b := Standing{Rating: 1500, GamesPlayed: 0}

	adj := Adjust(a, b, 1)
	// both at effective 1500: expected 0.5, K=40
	if adj.DeltaA != 20 || adj.DeltaB != -20 {
		t.Fatalf("zero rating must default to 1500: %+v", adj)
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	return NewStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
}

func TestStoreRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	st, err := s.Standing(ctx, "p1")
	if err != nil {
		t.Fatalf("Standing: %v", err)
	}
	if st.Rating != 1500 || st.GamesPlayed != 0 {
		t.Fatalf("fresh player should default: %+v", st)
	}

	if err := s.Apply(ctx, st, 20); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	st2, err := s.Standing(ctx, "p1")
	if err != nil {
		t.Fatalf("Standing: %v", err)
	}
	if st2.Rating != 1520 || st2.GamesPlayed != 1 {
		t.Fatalf("after apply: %+v", st2)
	}
}

// Two games can finish at once for the same player; both deltas must land
// even though each was computed from a standing read before the other wrote.
func TestApplyAccumulatesStaleStandings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.Standing(ctx, "p1")
	if err != nil {
		t.Fatalf("Standing: %v", err)
	}
	second, err := s.Standing(ctx, "p1")
	if err != nil {
		t.Fatalf("Standing: %v", err)
	}

	if err := s.Apply(ctx, first, 20); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := s.Apply(ctx, second, -10); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	st, err := s.Standing(ctx, "p1")
	if err != nil {
		t.Fatalf("Standing: %v", err)
	}
	if st.Rating != 1510 {
		t.Fatalf("final rating %d, want 1510", st.Rating)
	}
	if st.GamesPlayed != 2 {
		t.Fatalf("games played %d, want 2", st.GamesPlayed)
	}
}
