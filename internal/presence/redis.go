package presence

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKey is the sorted set holding user ids scored by last activity.
const DefaultKey = "presence:online"

// RedisStore keeps presence in a Redis sorted set scored by unix milliseconds,
// so every instance sees the same online set.
type RedisStore struct {
	rdb redis.UniversalClient
	key string
}

// NewRedisStore uses key, or DefaultKey when key is empty.
func NewRedisStore(rdb redis.UniversalClient, key string) *RedisStore {
	if key == "" {
		key = DefaultKey
	}
	return &RedisStore{rdb: rdb, key: key}
}

func member(userID int64) string {
	return strconv.FormatInt(userID, 10)
}

func (s *RedisStore) Touch(ctx context.Context, userID int64, at time.Time) error {
	return s.rdb.ZAdd(ctx, s.key, redis.Z{
		Score:  float64(at.UnixMilli()),
		Member: member(userID),
	}).Err()
}

func (s *RedisStore) Remove(ctx context.Context, userID int64) error {
	return s.rdb.ZRem(ctx, s.key, member(userID)).Err()
}

func (s *RedisStore) Prune(ctx context.Context, cutoff time.Time) error {
	// "(" makes the bound exclusive: an entry exactly at the cutoff survives.
	maxScore := "(" + strconv.FormatInt(cutoff.UnixMilli(), 10)
	return s.rdb.ZRemRangeByScore(ctx, s.key, "-inf", maxScore).Err()
}

func (s *RedisStore) Members(ctx context.Context) ([]int64, error) {
	raw, err := s.rdb.ZRange(ctx, s.key, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]int64, 0, len(raw))
	for _, m := range raw {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

func (s *RedisStore) LastSeen(ctx context.Context, userID int64) (time.Time, bool, error) {
	score, err := s.rdb.ZScore(ctx, s.key, member(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(int64(score)), true, nil
}
