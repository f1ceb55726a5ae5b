package services

import (
	"context"
	"encoding/json"
	"fmt"

	"flipmaster/internal/config"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type changeEnvelope struct {
	Origin string `json:"origin"`
	Change
}

// RedisBackend stores keys as plain strings and announces every write on a
// pub/sub channel so other contexts can follow along.
type RedisBackend struct {
	client  *redis.Client
	prefix  string
	channel string
	origin  string
}

func NewRedisBackend(cfg *config.Config) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPass,
		DB:       cfg.RedisDB,
	})

	ctx := context.Background()

	_, err := client.Ping(ctx).Result()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return newRedisBackend(client, cfg.StorePrefix), nil
}

func newRedisBackend(client *redis.Client, prefix string) *RedisBackend {
	return &RedisBackend{
		client:  client,
		prefix:  prefix,
		channel: fmt.Sprintf(KeyChanges, prefix),
		origin:  uuid.NewString(),
	}
}

func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := b.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return data, nil
}

func (b *RedisBackend) Set(ctx context.Context, key string, value []byte) error {
	return b.writeAndAnnounce(ctx, Change{Key: key, Value: value}, func(pipe redis.Pipeliner) {
		pipe.Set(ctx, key, value, 0)
	})
}

func (b *RedisBackend) Delete(ctx context.Context, key string) error {
	return b.writeAndAnnounce(ctx, Change{Key: key}, func(pipe redis.Pipeliner) {
		pipe.Del(ctx, key)
	})
}

func (b *RedisBackend) writeAndAnnounce(ctx context.Context, change Change, write func(redis.Pipeliner)) error {
	envelope, err := json.Marshal(changeEnvelope{Origin: b.origin, Change: change})
	if err != nil {
		return fmt.Errorf("failed to marshal change: %w", err)
	}

	tx := b.client.TxPipeline()
	write(tx)
	tx.Publish(ctx, b.channel, envelope)

	if _, err := tx.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write %s: %w", change.Key, err)
	}
	return nil
}

func (b *RedisBackend) Keys(ctx context.Context) ([]string, error) {
	var keys []string

	iter := b.client.Scan(ctx, 0, fmt.Sprintf(KeyPattern, b.prefix), 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan keys: %w", err)
	}

	return keys, nil
}

// Clear removes only keys under this backend's prefix.
func (b *RedisBackend) Clear(ctx context.Context) error {
	keys, err := b.Keys(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	pipe := b.client.Pipeline()
	for _, key := range keys {
		envelope, err := json.Marshal(changeEnvelope{Origin: b.origin, Change: Change{Key: key}})
		if err != nil {
			return fmt.Errorf("failed to marshal change: %w", err)
		}
		pipe.Del(ctx, key)
		pipe.Publish(ctx, b.channel, envelope)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pipeline execution failed: %w", err)
	}
	return nil
}

func (b *RedisBackend) Subscribe(ctx context.Context) (<-chan Change, error) {
	pubsub := b.client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}

	out := make(chan Change, 16)
	messages := pubsub.Channel()

	go func() {
		defer close(out)
		defer pubsub.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}

				var envelope changeEnvelope
				if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
					continue
				}
				if envelope.Origin == b.origin {
					continue
				}

				select {
				case out <- envelope.Change:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}
