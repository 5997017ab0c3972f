// Package rating implements the ELO update applied when a game terminates.
package rating

import "math"

const (
	defaultRating = 1500

	// provisional players move faster
	provisionalGames   = 30
	provisionalKFactor = 40
	establishedKFactor = 20
)

// Standing is a player's pre-game rating state.
type Standing struct {
	Identity    string
	Rating      int
	GamesPlayed int
}

// Adjustment is the immutable delta pair for one finished game.
type Adjustment struct {
	DeltaA int
	DeltaB int
}

// Adjust computes both deltas for scoreA in {1, 0.5, 0}. The two sides are
// computed independently; with differing K-factors the deltas are not exact
// negatives of each other, and must not be balanced to be.
func Adjust(a, b Standing, scoreA float64) Adjustment {
	ra := normalize(a.Rating)
	rb := normalize(b.Rating)

	expectedA := expectedScore(ra, rb)
	expectedB := expectedScore(rb, ra)
	scoreB := 1 - scoreA

	return Adjustment{
		DeltaA: delta(kFactor(a.GamesPlayed), scoreA, expectedA),
		DeltaB: delta(kFactor(b.GamesPlayed), scoreB, expectedB),
	}
}

func expectedScore(player, opponent int) float64 {
	return 1 / (1 + math.Pow(10, float64(opponent-player)/400))
}

func delta(k int, score, expected float64) int {
	return int(math.Round(float64(k) * (score - expected)))
}

func kFactor(gamesPlayed int) int {
	if gamesPlayed < provisionalGames {
		return provisionalKFactor
	}
	return establishedKFactor
}

func normalize(r int) int {
	if r <= 0 {
		return defaultRating
	}
	return r
}
