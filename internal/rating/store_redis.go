package rating

import (
	"context"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/channel27tech/clubmaster-sub003/internal/obslog"
	"go.uber.org/zap"
)

// Store keeps per-player rating state in Redis hashes. Profiles persist
// indefinitely; the durable game record belongs to the result repository.
type Store struct{ rdb *redis.Client }

func NewStore(rdb *redis.Client) *Store { return &Store{rdb: rdb} }

func (s *Store) keyPlayer(id string) string { return "rating:player:" + strings.TrimSpace(id) }

// Standing loads a player's current standing, defaulting to an unrated
// profile when nothing is stored yet.
func (s *Store) Standing(ctx context.Context, identity string) (Standing, error) {
	st := Standing{Identity: identity, Rating: defaultRating}
	if s == nil || s.rdb == nil || strings.TrimSpace(identity) == "" {
		return st, nil
	}
	fields, err := s.rdb.HGetAll(ctx, s.keyPlayer(identity)).Result()
	if err != nil {
		return st, err
	}
	if v, ok := fields["rating"]; ok {
		if n, perr := strconv.Atoi(v); perr == nil && n > 0 {
			st.Rating = n
		}
	}
	if v, ok := fields["games"]; ok {
		if n, perr := strconv.Atoi(v); perr == nil && n >= 0 {
			st.GamesPlayed = n
		}
	}
	return st, nil
}

// Apply moves one side's rating by delta and advances the game counter. The
// rating is written as an increment, never an absolute value: two games
// finishing at once for the same player must both land.
func (s *Store) Apply(ctx context.Context, st Standing, delta int) error {
	if s == nil || s.rdb == nil || strings.TrimSpace(st.Identity) == "" {
		return nil
	}
	key := s.keyPlayer(st.Identity)
	pipe := s.rdb.TxPipeline()
	// seed unrated profiles inside the same transaction
	pipe.HSetNX(ctx, key, "rating", defaultRating)
	incr := pipe.HIncrBy(ctx, key, "rating", int64(delta))
	pipe.HIncrBy(ctx, key, "games", 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	obslog.L().Info("rating_apply",
		zap.String("player", st.Identity),
		zap.Int64("rating", incr.Val()),
		zap.Int("delta", delta),
	)
	return nil
}
