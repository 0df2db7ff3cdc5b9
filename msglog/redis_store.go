package msglog

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/taskmesh/taskmesh/types"
)

// RedisConfig configures the redis-backed message store.
type RedisConfig struct {
	Addr      string `json:"addr" yaml:"addr"`
	Password  string `json:"password" yaml:"password"`
	DB        int    `json:"db" yaml:"db"`
	PoolSize  int    `json:"pool_size" yaml:"pool_size"`
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
}

// RedisStore is the redis-backed Store. Envelopes are kept in a sorted
// set per target agent, scored by timestamp, so window queries map to
// ZRANGEBYSCORE.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	now       func() time.Time
}

// NewRedisStore connects to redis and returns a store.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable, "failed to connect to redis").WithCause(err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "taskmesh:"
	}
	return &RedisStore{
		client:    client,
		keyPrefix: prefix + "msg:",
		now:       time.Now,
	}, nil
}

// agentKey is the sorted-set key holding one agent's backlog.
func (s *RedisStore) agentKey(agent string) string {
	return s.keyPrefix + "agent:" + agent
}

// agentsKey indexes every agent with a backlog, for cleanup sweeps.
func (s *RedisStore) agentsKey() string {
	return s.keyPrefix + "agents"
}

// Append persists one envelope.
func (s *RedisStore) Append(ctx context.Context, msg Message) (Message, error) {
	if msg.ToAgent == "" {
		return Message{}, types.NewError(types.ErrInvalidArgument, "message target agent is required")
	}
	if _, err := ParseType(string(msg.Type)); err != nil {
		return Message{}, err
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return Message{}, types.NewError(types.ErrInvalidArgument, "failed to encode message").WithCause(err)
	}

	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, s.agentKey(msg.ToAgent), redis.Z{
		Score:  float64(msg.Timestamp.UnixNano()),
		Member: data,
	})
	pipe.SAdd(ctx, s.agentsKey(), msg.ToAgent)
	if _, err := pipe.Exec(ctx); err != nil {
		return Message{}, types.NewError(types.ErrStoreUnavailable, "redis append failed").WithCause(err)
	}
	return msg, nil
}

// ForAgent filters and orders the agent's backlog.
func (s *RedisStore) ForAgent(ctx context.Context, agent string, since time.Time) ([]Message, error) {
	if since.IsZero() {
		since = s.now().Add(-DefaultWindow)
	}

	raw, err := s.client.ZRangeByScore(ctx, s.agentKey(agent), &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", since.UnixNano()),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable, "redis range failed").WithCause(err)
	}

	out := make([]Message, 0, len(raw))
	for _, item := range raw {
		var m Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			continue // skip undecodable entries rather than fail the poll
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool { return sortKeyLess(out[i], out[j]) })
	return out, nil
}

// Cleanup drops messages older than the cutoff across all agents.
func (s *RedisStore) Cleanup(ctx context.Context, cutoff time.Time) (int, error) {
	agents, err := s.client.SMembers(ctx, s.agentsKey()).Result()
	if err != nil {
		return 0, types.NewError(types.ErrStoreUnavailable, "redis members failed").WithCause(err)
	}

	removed := 0
	max := fmt.Sprintf("(%d", cutoff.UnixNano())
	for _, agent := range agents {
		n, err := s.client.ZRemRangeByScore(ctx, s.agentKey(agent), "-inf", max).Result()
		if err != nil {
			return removed, types.NewError(types.ErrStoreUnavailable, "redis trim failed").WithCause(err)
		}
		removed += int(n)
	}
	return removed, nil
}

// Stats reports store contents.
func (s *RedisStore) Stats(ctx context.Context) (Stats, error) {
	agents, err := s.client.SMembers(ctx, s.agentsKey()).Result()
	if err != nil {
		return Stats{}, types.NewError(types.ErrStoreUnavailable, "redis members failed").WithCause(err)
	}
	total := 0
	for _, agent := range agents {
		n, err := s.client.ZCard(ctx, s.agentKey(agent)).Result()
		if err != nil {
			return Stats{}, types.NewError(types.ErrStoreUnavailable, "redis card failed").WithCause(err)
		}
		total += int(n)
	}
	return Stats{Total: total}, nil
}

// Close releases the redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
