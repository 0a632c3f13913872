package timing

import (
	"context"
	"time"

	"Versewell/logger"
	"Versewell/repository"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const sweepBatch = 100

// Sweeper periodically re-enqueues pending items that were lost from the queue,
// for example on restart, and recovers items whose worker died mid-alignment. Duplicate ids are harmless because workers claim rows.
type Sweeper struct {
	cron       *cron.Cron
	syncs      repository.LyricsSyncRepository
	queue      Queue
	staleAfter time.Duration
	log        *zap.Logger
}

// NewSweeper 创建定时恢复任务，spec 为 cron 表达式（如 "@every 1m"）
func NewSweeper(spec string, staleAfter time.Duration, syncs repository.LyricsSyncRepository, queue Queue) (*Sweeper, error) {
	s := &Sweeper{
		cron:       cron.New(),
		syncs:      syncs,
		queue:      queue,
		staleAfter: staleAfter,
		log:        logger.Named("timing.sweeper"),
	}
	if _, err := s.cron.AddFunc(spec, func() { s.Sweep(context.Background()) }); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// Sweep returns items stuck in processing to pending, then re-enqueues stale
// pending items and returns how many were queued.
func (s *Sweeper) Sweep(ctx context.Context) int {
	cutoff := time.Now().Add(-s.staleAfter)
	if n, err := s.syncs.ResetStuck(ctx, cutoff); err != nil {
		s.log.Error("重置卡住的同步任务失败", logger.ErrorField(err))
	} else if n > 0 {
		s.log.Warn("重置卡在处理中的歌词同步任务", logger.Int64("count", n))
	}

	items, err := s.syncs.ListStale(ctx, cutoff, sweepBatch)
	if err != nil {
		s.log.Error("查询待同步任务失败", logger.ErrorField(err))
		return 0
	}
	queued := 0
	for _, item := range items {
		if err := s.queue.Enqueue(ctx, item.ID); err != nil {
			s.log.Warn("重新入队失败", logger.String("syncId", item.ID), logger.ErrorField(err))
			continue
		}
		queued++
	}
	if queued > 0 {
		s.log.Info("重新入队滞留的歌词同步任务", logger.Int("count", queued))
	}
	return queued
}
