package profilestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/ppiankov/roomguard/internal/trust"
)

// RedisStore keeps each profile as a JSON string under
// "{prefix}:profile:{identity}" and tracks identities in the
// "{prefix}:profiles" set.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "roomguard"
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

func (s *RedisStore) key(identity string) string {
	return fmt.Sprintf("%s:profile:%s", s.prefix, identity)
}

func (s *RedisStore) indexKey() string {
	return s.prefix + ":profiles"
}

func (s *RedisStore) Get(ctx context.Context, identity string) (*trust.Profile, error) {
	body, err := s.client.Get(ctx, s.key(identity)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, trust.ErrNotFound
		}
		return nil, fmt.Errorf("redis get %q: %w", identity, err)
	}
	return decodeProfile(identity, body)
}

func (s *RedisStore) Put(ctx context.Context, p *trust.Profile) error {
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(p.Identity), body, 0)
		pipe.SAdd(ctx, s.indexKey(), p.Identity)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis put %q: %w", p.Identity, err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context) ([]*trust.Profile, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list: %w", err)
	}
	sort.Strings(ids)

	profiles := make([]*trust.Profile, 0, len(ids))
	for _, id := range ids {
		p, err := s.Get(ctx, id)
		if errors.Is(err, trust.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}

func (s *RedisStore) Delete(ctx context.Context, identity string) error {
	var del *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, s.key(identity))
		pipe.SRem(ctx, s.indexKey(), identity)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete %q: %w", identity, err)
	}
	if del.Val() == 0 {
		return trust.ErrNotFound
	}
	return nil
}

func (s *RedisStore) Close() error { return s.client.Close() }
