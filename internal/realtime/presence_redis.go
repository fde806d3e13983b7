package realtime

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

// RedisPresence shares presence between processes. It keeps one set of
// connection ids per user, a set of online user ids and a hash of each user's
// latest connection.
type RedisPresence struct {
	client *redis.Client
	prefix string
}

func NewRedisPresence(client *redis.Client) *RedisPresence {
	return &RedisPresence{client: client, prefix: "presence:"}
}

func (p *RedisPresence) connsKey(userID string) string {
	return p.prefix + "conns:" + userID
}

func (p *RedisPresence) onlineKey() string {
	return p.prefix + "online"
}

func (p *RedisPresence) latestKey() string {
	return p.prefix + "latest"
}

func (p *RedisPresence) Add(ctx context.Context, userID, connID string) error {
	_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, p.connsKey(userID), connID)
		pipe.SAdd(ctx, p.onlineKey(), userID)
		pipe.HSet(ctx, p.latestKey(), userID, connID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("add presence: %w", err)
	}
	return nil
}

func (p *RedisPresence) Remove(ctx context.Context, userID, connID string) error {
	if err := p.client.SRem(ctx, p.connsKey(userID), connID).Err(); err != nil {
		return fmt.Errorf("remove presence: %w", err)
	}
	remaining, err := p.client.SMembers(ctx, p.connsKey(userID)).Result()
	if err != nil {
		return fmt.Errorf("read presence: %w", err)
	}
	if len(remaining) == 0 {
		_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SRem(ctx, p.onlineKey(), userID)
			pipe.HDel(ctx, p.latestKey(), userID)
			return nil
		})
		if err != nil {
			return fmt.Errorf("clear presence: %w", err)
		}
		return nil
	}

	latest, err := p.client.HGet(ctx, p.latestKey(), userID).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("read latest connection: %w", err)
	}
	if latest == connID || errors.Is(err, redis.Nil) {
		sort.Strings(remaining)
		if err := p.client.HSet(ctx, p.latestKey(), userID, remaining[len(remaining)-1]).Err(); err != nil {
			return fmt.Errorf("update latest connection: %w", err)
		}
	}
	return nil
}

func (p *RedisPresence) Online(ctx context.Context) ([]string, error) {
	users, err := p.client.SMembers(ctx, p.onlineKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list online users: %w", err)
	}
	sort.Strings(users)
	return users, nil
}

func (p *RedisPresence) Latest(ctx context.Context, userID string) (string, bool, error) {
	connID, err := p.client.HGet(ctx, p.latestKey(), userID).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read latest connection: %w", err)
	}
	return connID, true, nil
}
