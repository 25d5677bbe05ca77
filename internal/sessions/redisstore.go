package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix  = "echovision:session:"
	defaultRedisTTL = 7 * 24 * time.Hour
)

// RedisStore keeps snapshots under echovision:session:<id> with a sliding TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultRedisTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

// DialRedisStore parses url ("redis://host:6379/0"), connects and pings.
func DialRedisStore(ctx context.Context, url string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisStore(client, ttl), nil
}

// Save writes the snapshot and resets its TTL.
func (s *RedisStore) Save(ctx context.Context, snap *Snapshot) error {
	if err := ValidateID(snap.SessionID); err != nil {
		return err
	}
	val, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := s.client.Set(ctx, s.key(snap.SessionID), val, s.ttl).Err(); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Load returns nil, nil when the key is missing. Reads refresh the TTL.
func (s *RedisStore) Load(ctx context.Context, id string) (*Snapshot, error) {
	key := s.key(id)
	val, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(val, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	if err := s.client.Expire(ctx, key, s.ttl).Err(); err != nil {
		slog.Debug("refresh snapshot ttl", "session_id", id, "error", err)
	}
	return &snap, nil
}

// Delete removes the key.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

// List scans every snapshot key, most recently saved first.
func (s *RedisStore) List(ctx context.Context) ([]*Snapshot, error) {
	var snaps []*Snapshot
	iter := s.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		val, err := s.client.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue // expired between SCAN and GET
		}
		if err != nil {
			return nil, fmt.Errorf("get snapshot: %w", err)
		}
		var snap Snapshot
		if err := json.Unmarshal(val, &snap); err != nil {
			continue
		}
		snaps = append(snaps, &snap)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan snapshots: %w", err)
	}

	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].SavedAt.After(snaps[j].SavedAt)
	})
	return snaps, nil
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(id string) string {
	return redisKeyPrefix + id
}
