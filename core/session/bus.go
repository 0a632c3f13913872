package session

import (
	"context"
	"sync"

	"Versewell/logger"
	"Versewell/model"
)

// ProgressBus delivers session progress events to live subscribers.
type ProgressBus interface {
	Publish(ctx context.Context, ev model.ProgressEvent) error
	// Subscribe streams events for one session until ctx ends or the returned
	// cancel func is called. The channel is closed afterwards.
	Subscribe(ctx context.Context, sessionID string) (<-chan model.ProgressEvent, func(), error)
}

const localBufferSize = 16

// LocalBus is an in-process ProgressBus for single-instance deployments and tests.
type LocalBus struct {
	mu   sync.Mutex
	subs map[string]map[*localSub]struct{}
}

type localSub struct {
	ch   chan model.ProgressEvent
	once sync.Once
}

func NewLocalBus() *LocalBus {
	return &LocalBus{subs: map[string]map[*localSub]struct{}{}}
}

// Publish never blocks; a subscriber whose buffer is full misses the event.
func (b *LocalBus) Publish(_ context.Context, ev model.ProgressEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs[ev.SessionID] {
		select {
		case s.ch <- ev:
		default:
			logger.Warn("进度订阅者缓冲已满，丢弃事件", logger.String("sessionId", ev.SessionID))
		}
	}
	return nil
}

func (b *LocalBus) Subscribe(ctx context.Context, sessionID string) (<-chan model.ProgressEvent, func(), error) {
	s := &localSub{ch: make(chan model.ProgressEvent, localBufferSize)}

	b.mu.Lock()
	if b.subs[sessionID] == nil {
		b.subs[sessionID] = map[*localSub]struct{}{}
	}
	b.subs[sessionID][s] = struct{}{}
	b.mu.Unlock()

	remove := func() {
		s.once.Do(func() {
			b.mu.Lock()
			delete(b.subs[sessionID], s)
			if len(b.subs[sessionID]) == 0 {
				delete(b.subs, sessionID)
			}
			close(s.ch)
			b.mu.Unlock()
		})
	}
	stop := context.AfterFunc(ctx, remove)
	cancel := func() {
		stop()
		remove()
	}
	return s.ch, cancel, nil
}

// subscribers reports the live subscriber count for sessionID.
func (b *LocalBus) subscribers(sessionID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[sessionID])
}
