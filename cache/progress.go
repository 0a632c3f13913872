package cache

import (
	"context"
	"fmt"

	"Versewell/logger"
	"Versewell/model"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

const progressChannelPrefix = "versewell:progress:"

// ProgressChannel returns the pub/sub channel for one session.
func ProgressChannel(sessionID string) string {
	return progressChannelPrefix + sessionID
}

// RedisProgressBus fans session progress out to every process subscribed to it.
type RedisProgressBus struct {
	client *redis.Client
}

// NewRedisProgressBus 创建 Redis 发布订阅进度总线
func NewRedisProgressBus(client *redis.Client) *RedisProgressBus {
	return &RedisProgressBus{client: client}
}

func (b *RedisProgressBus) Publish(ctx context.Context, ev model.ProgressEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal progress event: %w", err)
	}
	if err := b.client.Publish(ctx, ProgressChannel(ev.SessionID), payload).Err(); err != nil {
		return fmt.Errorf("publish progress event: %w", err)
	}
	return nil
}

// Subscribe delivers events for sessionID until ctx is done or cancel is called.
func (b *RedisProgressBus) Subscribe(ctx context.Context, sessionID string) (<-chan model.ProgressEvent, func(), error) {
	pubsub := b.client.Subscribe(ctx, ProgressChannel(sessionID))
	// 等待订阅确认，避免丢失紧随其后的消息
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, nil, fmt.Errorf("subscribe progress %s: %w", sessionID, err)
	}

	out := make(chan model.ProgressEvent, 16)
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer close(out)
		defer pubsub.Close()
		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev model.ProgressEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					logger.Warn("丢弃无法解析的进度消息",
						logger.String("channel", msg.Channel),
						logger.ErrorField(err))
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, cancel, nil
}
