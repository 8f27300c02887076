// Package redis caches the most recent messages of each chat. The cache is
// best effort: it accelerates chat listings, and every miss falls through to
// the database.
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/actogram/server/chat"
)

// Redis provides caching in Redis.
type Redis struct {
	cli *redis.Client
}

// Connect connects to the Redis server and pings it to ensure the
// connection is working.
func Connect(ctx context.Context, addr string) (*Redis, error) {
	cli := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	if err := cli.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{
		cli: cli,
	}, nil
}

const (
	// maxPerChat caps how many recent messages are kept per chat.
	maxPerChat = 10
)

func chatKey(chatID string) string {
	return fmt.Sprintf("chat:%s:messages", chatID)
}

func messageKey(id string) string {
	return fmt.Sprintf("message:%s", id)
}

// InsertMessage adds the message under message:MESSAGE_ID and indexes the key
// in the chat's sorted set, scored by the persisted timestamp. Older entries
// beyond the per-chat cap are evicted.
func (r *Redis) InsertMessage(ctx context.Context, msg chat.Message) error {
	m := messageFrom(msg)

	err := r.cli.Watch(ctx, func(tx *redis.Tx) error {
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			key := messageKey(m.ID)
			pipe.HSet(ctx, key, m)
			pipe.ZAdd(ctx, chatKey(m.ChatID), redis.Z{
				Score:  float64(msg.CreatedAt.UnixNano()),
				Member: key,
			})
			return nil
		})
		return err
	}, m.ID)
	if err != nil {
		return fmt.Errorf("redis insert message: %w", err)
	}

	if err := r.evictOldest(ctx, msg.ChatID); err != nil {
		return fmt.Errorf("evict oldest: %w", err)
	}
	return nil
}

// LastMessage returns the most recent cached message of the chat. The second
// return value reports whether the cache had one.
func (r *Redis) LastMessage(ctx context.Context, chatID string) (chat.Message, bool, error) {
	keys, err := r.cli.ZRevRange(ctx, chatKey(chatID), 0, 0).Result()
	if err != nil {
		return chat.Message{}, false, fmt.Errorf("zrevrange: %w", err)
	}
	if len(keys) == 0 {
		return chat.Message{}, false, nil
	}

	var m message
	if err := r.cli.HGetAll(ctx, keys[0]).Scan(&m); err != nil {
		return chat.Message{}, false, fmt.Errorf("hgetall: %w", err)
	}
	if m.ID == "" {
		// Hash expired or was evicted underneath the index entry.
		return chat.Message{}, false, nil
	}
	return m.domain(), true, nil
}

// RecentMessages returns the chat's cached messages, newest first.
func (r *Redis) RecentMessages(ctx context.Context, chatID string) ([]chat.Message, error) {
	keys, err := r.cli.ZRevRange(ctx, chatKey(chatID), 0, maxPerChat-1).Result()
	if err != nil {
		return nil, fmt.Errorf("zrevrange: %w", err)
	}
	out := make([]chat.Message, 0, len(keys))
	for _, key := range keys {
		var m message
		if err := r.cli.HGetAll(ctx, key).Scan(&m); err != nil {
			return nil, fmt.Errorf("hgetall: %w", err)
		}
		if m.ID == "" {
			continue
		}
		out = append(out, m.domain())
	}
	return out, nil
}

// DropChat removes the chat's index and every cached message under it. Used
// when a chat is cleared.
func (r *Redis) DropChat(ctx context.Context, chatID string) error {
	keys, err := r.cli.ZRange(ctx, chatKey(chatID), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("zrange: %w", err)
	}
	for _, key := range keys {
		_ = r.cli.Del(ctx, key).Err()
	}
	if err := r.cli.Del(ctx, chatKey(chatID)).Err(); err != nil {
		return fmt.Errorf("del: %w", err)
	}
	return nil
}

func (r *Redis) evictOldest(ctx context.Context, chatID string) error {
	keys, err := r.cli.ZRange(ctx, chatKey(chatID), 0, int64(-maxPerChat-1)).Result()
	if err != nil {
		return fmt.Errorf("zrange: %w", err)
	}
	for _, key := range keys {
		_ = r.cli.ZRem(ctx, chatKey(chatID), key).Err()
		_ = r.cli.Del(ctx, key).Err()
	}
	return nil
}
