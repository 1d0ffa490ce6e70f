package deadletter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/goran-ethernal/ChainSync/internal/logger"
	"github.com/goran-ethernal/ChainSync/pkg/config"
	"github.com/redis/go-redis/v9"
)

// RedisRecorder keeps skipped items in Redis: a sorted set of members scored by
// block number, and one payload key per member that expires after the TTL.
type RedisRecorder struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
	log    *logger.Logger
}

// NewRedisRecorder connects to the configured Redis server.
func NewRedisRecorder(ctx context.Context, cfg *config.DeadLetterConfig, log *logger.Logger) (*RedisRecorder, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid dead letter redis url: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to dead letter redis: %w", err)
	}

	log.Infow("dead letter recorder connected", "addr", opts.Addr, "prefix", cfg.KeyPrefix)

	return NewRedisRecorderWithClient(rdb, cfg.KeyPrefix, cfg.TTL.Duration, log), nil
}

// NewRedisRecorderWithClient wraps an existing client.
func NewRedisRecorderWithClient(rdb *redis.Client, prefix string, ttl time.Duration, log *logger.Logger) *RedisRecorder {
	return &RedisRecorder{
		rdb:    rdb,
		prefix: prefix,
		ttl:    ttl,
		log:    log,
	}
}

func (r *RedisRecorder) indexKey() string {
	return r.prefix + ":index"
}

func (r *RedisRecorder) entryKey(member string) string {
	return r.prefix + ":entry:" + member
}

// Record stores e and indexes it by block number.
func (r *RedisRecorder) Record(ctx context.Context, e Entry) error {
	if e.RecordedAt == 0 {
		e.RecordedAt = now()
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode dead letter entry: %w", err)
	}

	member := e.member()
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.entryKey(member), payload, r.ttl)
		pipe.ZAdd(ctx, r.indexKey(), redis.Z{Score: float64(e.BlockNumber), Member: member})
		return nil
	})
	if err != nil {
		recordFailuresInc()
		return fmt.Errorf("failed to record dead letter entry: %w", err)
	}

	recordedInc(e.Kind)
	r.log.Warnw("skipped item recorded",
		"kind", e.Kind,
		"collection", e.Collection,
		"id", e.DocumentID,
		"block", e.BlockNumber,
		"reason", e.Reason,
	)

	return nil
}

// List returns up to limit entries, highest block first. Members whose payload
// expired are dropped from the index.
func (r *RedisRecorder) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, nil
	}

	members, err := r.rdb.ZRevRange(ctx, r.indexKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letter entries: %w", err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	keys := make([]string, len(members))
	for i, m := range members {
		keys[i] = r.entryKey(m)
	}

	payloads, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load dead letter entries: %w", err)
	}

	entries := make([]Entry, 0, len(members))
	var expired []any
	for i, p := range payloads {
		s, ok := p.(string)
		if !ok {
			expired = append(expired, members[i])
			continue
		}

		var e Entry
		if err := json.Unmarshal([]byte(s), &e); err != nil {
			r.log.Warnw("dropping unreadable dead letter entry", "member", members[i], "error", err)
			expired = append(expired, members[i])
			continue
		}
		entries = append(entries, e)
	}

	if len(expired) > 0 {
		if err := r.rdb.ZRem(ctx, r.indexKey(), expired...).Err(); err != nil {
			r.log.Warnw("failed to prune expired dead letter entries", "error", err)
		}
	}

	return entries, nil
}

// RemoveFrom drops every entry at or above block.
func (r *RedisRecorder) RemoveFrom(ctx context.Context, block uint64) error {
	from := strconv.FormatUint(block, 10)

	members, err := r.rdb.ZRangeByScore(ctx, r.indexKey(), &redis.ZRangeBy{Min: from, Max: "+inf"}).Result()
	if err != nil {
		return fmt.Errorf("failed to find dead letter entries from block %d: %w", block, err)
	}
	if len(members) == 0 {
		return nil
	}

	keys := make([]string, len(members))
	for i, m := range members {
		keys[i] = r.entryKey(m)
	}

	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		pipe.ZRemRangeByScore(ctx, r.indexKey(), from, "+inf")
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to remove dead letter entries from block %d: %w", block, err)
	}

	r.log.Debugw("dead letter entries removed", "from_block", block, "count", len(members))
	return nil
}

func (r *RedisRecorder) Close() error {
	if err := r.rdb.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return err
	}
	return nil
}
