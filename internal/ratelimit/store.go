package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReserveResult is the outcome of a single-dimension admission attempt.
type ReserveResult struct {
	Allowed           bool
	EffectiveUsage    float64
	Limit             float64
	Member            string
	OldestTimestampMs int64
	RetryAfter        time.Duration
	// ResetAt is when this dimension's window next has room: the oldest
	// sample's timestamp plus the window size, i.e. the moment that
	// sample ages out of the sliding window.
	ResetAt time.Time
}

// Store performs the log-based sliding-window computation for one
// dimension key. Implementations must guarantee that a rejected Reserve
// leaves the underlying set exactly as it was before the call.
type Store interface {
	Reserve(ctx context.Context, key string, now time.Time, window time.Duration, amount, limit float64, isCost bool) (ReserveResult, error)
	Release(ctx context.Context, key string, member string) error
}

var memberSeq uint64

// newMember encodes (timestamp, amount) into a ZSET member string. The
// trailing sequence number guarantees uniqueness across same-millisecond
// concurrent requests, since ZADD treats equal members as an overwrite
// rather than a second entry.
func newMember(nowMs int64, amount float64) string {
	seq := atomic.AddUint64(&memberSeq, 1)
	return fmt.Sprintf("%d:%s:%d", nowMs, strconv.FormatFloat(amount, 'f', -1, 64), seq)
}

func parseMemberAmount(member string) float64 {
	parts := strings.SplitN(member, ":", 3)
	if len(parts) < 2 {
		return 0
	}
	v, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return 0
	}
	return v
}

// RedisStore implements Store against a sorted set per key, following the
// evict/count/add/expire pipeline.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Reserve(ctx context.Context, key string, now time.Time, window time.Duration, amount, limit float64, isCost bool) (ReserveResult, error) {
	nowMs := now.UnixMilli()
	windowMs := window.Milliseconds()
	cutoff := nowMs - windowMs

	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("(%d", cutoff))
	oldestCmd := pipe.ZRangeWithScores(ctx, key, 0, 0)
	cardCmd := pipe.ZCard(ctx, key)
	var membersCmd *redis.StringSliceCmd
	membersCmd = pipe.ZRange(ctx, key, 0, -1)
	member := newMember(nowMs, amount)
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(nowMs), Member: member})
	pipe.PExpire(ctx, key, window+time.Minute)

	if _, err := pipe.Exec(ctx); err != nil {
		return ReserveResult{}, err
	}

	var oldestMs int64 = nowMs
	if zs := oldestCmd.Val(); len(zs) > 0 {
		oldestMs = int64(zs[0].Score)
	}

	var effective float64
	if isCost {
		sum := amount
		for _, m := range membersCmd.Val() {
			sum += parseMemberAmount(m)
		}
		effective = sum
	} else {
		effective = float64(cardCmd.Val()) + 1
	}

	result := ReserveResult{
		EffectiveUsage:    effective,
		Limit:             limit,
		Member:            member,
		OldestTimestampMs: oldestMs,
		ResetAt:           time.UnixMilli(oldestMs + windowMs),
	}

	if effective > limit {
		if err := s.Release(ctx, key, member); err != nil {
			return ReserveResult{}, err
		}
		result.Allowed = false
		retryMs := oldestMs + windowMs - nowMs
		if retryMs < 0 {
			retryMs = 0
		}
		result.RetryAfter = time.Duration(retryMs) * time.Millisecond
		return result, nil
	}

	result.Allowed = true
	return result, nil
}

func (s *RedisStore) Release(ctx context.Context, key string, member string) error {
	return s.client.ZRem(ctx, key, member).Err()
}
