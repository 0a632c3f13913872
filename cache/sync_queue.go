package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"Versewell/logger"

	"github.com/redis/go-redis/v9"
)

// DefaultSyncQueueKey holds ids of PendingLyricsSync rows waiting for a worker.
const DefaultSyncQueueKey = "versewell:lyrics-sync:queue"

// RedisSyncQueue is a FIFO of sync item ids backed by a Redis list.
type RedisSyncQueue struct {
	client *redis.Client
	key    string
}

// NewRedisSyncQueue 创建基于 Redis 列表的同步队列
func NewRedisSyncQueue(client *redis.Client, key string) *RedisSyncQueue {
	if key == "" {
		key = DefaultSyncQueueKey
	}
	return &RedisSyncQueue{client: client, key: key}
}

// Enqueue pushes id onto the head; Dequeue pops from the tail.
func (q *RedisSyncQueue) Enqueue(ctx context.Context, id string) error {
	if err := q.client.LPush(ctx, q.key, id).Err(); err != nil {
		logger.Error("同步任务入队失败",
			logger.String("key", q.key),
			logger.String("itemId", id),
			logger.ErrorField(err))
		return fmt.Errorf("enqueue %s: %w", id, err)
	}
	return nil
}

// Dequeue blocks up to timeout. It returns "" and no error when nothing arrived.
func (q *RedisSyncQueue) Dequeue(ctx context.Context, timeout time.Duration) (string, error) {
	res, err := q.client.BRPop(ctx, timeout, q.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("dequeue: %w", err)
	}
	// BRPOP replies [key, value]
	if len(res) != 2 {
		return "", fmt.Errorf("dequeue: unexpected reply %v", res)
	}
	return res[1], nil
}

// Len reports the number of queued ids.
func (q *RedisSyncQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}
