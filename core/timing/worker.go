// Package timing aligns generated lyrics to the produced audio in the background.
package timing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"Versewell/core/audio"
	"Versewell/core/provider"
	"Versewell/logger"
	"Versewell/metrics"
	"Versewell/model"
	"Versewell/repository"

	"github.com/cenkalti/backoff/v4"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

// Alignment methods, used as metric labels.
const (
	MethodClip  = "clip"
	MethodAudio = "audio"
)

// CapabilityLookup resolves a provider's static capabilities.
type CapabilityLookup interface {
	GetProviderCapabilities(name string) (provider.Capabilities, bool)
}

// WorkerConfig tunes the sync worker.
type WorkerConfig struct {
	Concurrency  int
	Attempts     int
	RetryDelay   time.Duration
	InitialDelay time.Duration
	PollTimeout  time.Duration
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = 3
	}
	if c.Attempts <= 0 {
		c.Attempts = 3
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = 5 * time.Second
	}
	if c.InitialDelay < 0 {
		c.InitialDelay = 20 * time.Second
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 5 * time.Second
	}
	return c
}

// NewSyncParams describe a track whose lyrics need timing.
type NewSyncParams struct {
	TrackID    string
	LyricsID   string
	ClipID     string
	Provider   string
	AudioKey   string
	Visibility model.Visibility
}

// Worker drains PendingLyricsSync items: provider-native alignment first, then
// acoustic alignment of the stored audio.
type Worker struct {
	queue   Queue
	syncs   repository.LyricsSyncRepository
	lyrics  repository.LyricsRepository
	tracks  *repository.TrackLibraries
	aligner Aligner
	store   audio.Opener
	caps    CapabilityLookup
	cfg     WorkerConfig
	log     *zap.Logger
}

// NewWorker 创建歌词时间轴同步 worker。caps 可以为 nil。
func NewWorker(
	queue Queue,
	syncs repository.LyricsSyncRepository,
	lyrics repository.LyricsRepository,
	tracks *repository.TrackLibraries,
	aligner Aligner,
	store audio.Opener,
	caps CapabilityLookup,
	cfg WorkerConfig,
) *Worker {
	return &Worker{
		queue:   queue,
		syncs:   syncs,
		lyrics:  lyrics,
		tracks:  tracks,
		aligner: aligner,
		store:   store,
		caps:    caps,
		cfg:     cfg.withDefaults(),
		log:     logger.Named("timing"),
	}
}

// Enqueue records a pending sync and wakes a worker. The item becomes eligible
// after the initial delay so the provider can finish its own processing.
func (w *Worker) Enqueue(ctx context.Context, p NewSyncParams) (*model.PendingLyricsSync, error) {
	item := &model.PendingLyricsSync{
		TrackID:    p.TrackID,
		LyricsID:   p.LyricsID,
		ClipID:     p.ClipID,
		Provider:   p.Provider,
		AudioKey:   p.AudioKey,
		Visibility: p.Visibility,
		Status:     model.SyncStatusPending,
		NotBefore:  time.Now().Add(w.cfg.InitialDelay),
	}
	if err := w.syncs.Create(ctx, item); err != nil {
		return nil, fmt.Errorf("create lyrics sync: %w", err)
	}
	if err := w.queue.Enqueue(ctx, item.ID); err != nil {
		// the sweeper picks the row up later
		w.log.Warn("歌词同步入队失败", logger.String("syncId", item.ID), logger.ErrorField(err))
	}
	return item, nil
}

// Queue returns the queue the worker drains.
func (w *Worker) Queue() Queue {
	return w.queue
}

// Run processes items until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("歌词同步 worker 启动", logger.Int("concurrency", w.cfg.Concurrency))
	p := pool.New().WithContext(ctx)
	for i := 0; i < w.cfg.Concurrency; i++ {
		p.Go(func(ctx context.Context) error {
			w.loop(ctx)
			return nil
		})
	}
	err := p.Wait()
	w.log.Info("歌词同步 worker 已停止")
	return err
}

func (w *Worker) loop(ctx context.Context) {
	for ctx.Err() == nil {
		id, err := w.queue.Dequeue(ctx, w.cfg.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.log.Warn("读取同步队列失败", logger.ErrorField(err))
			sleep(ctx, w.cfg.PollTimeout)
			continue
		}
		if id == "" {
			continue
		}
		if err := w.Process(ctx, id); err != nil {
			w.log.Error("处理歌词同步失败", logger.String("syncId", id), logger.ErrorField(err))
		}
	}
}

// Process handles one item. Items that are missing or no longer pending are skipped.
func (w *Worker) Process(ctx context.Context, id string) error {
	item, err := w.syncs.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load sync %s: %w", id, err)
	}
	if item == nil || item.Status != model.SyncStatusPending {
		return nil
	}
	if wait := time.Until(item.NotBefore); wait > 0 {
		if !sleep(ctx, wait) {
			return ctx.Err()
		}
	}

	claimed, err := w.syncs.Claim(ctx, id)
	if err != nil {
		return fmt.Errorf("claim sync %s: %w", id, err)
	}
	if !claimed {
		return nil
	}

	// status writes after the claim must land even when ctx is cancelled
	store := context.WithoutCancel(ctx)

	lyrics, err := w.lyrics.GetByID(ctx, item.LyricsID)
	if err != nil || lyrics == nil {
		if ctx.Err() != nil {
			return w.release(store, id, ctx.Err())
		}
		if err == nil {
			err = fmt.Errorf("lyrics %s not found", item.LyricsID)
		}
		return w.syncs.MarkFailed(store, id, 0, err.Error())
	}

	lines, method, attempts, err := w.align(ctx, item, lyrics.Content)
	if err != nil && ctx.Err() != nil {
		return w.release(store, id, ctx.Err())
	}
	metrics.LyricsSyncTotal.WithLabelValues(method, resultOf(err)).Inc()
	if err != nil {
		w.log.Warn("歌词时间轴同步失败",
			logger.String("syncId", id),
			logger.String("trackId", item.TrackID),
			logger.Int("attempts", attempts),
			logger.ErrorField(err))
		return w.syncs.MarkFailed(store, id, attempts, err.Error())
	}

	if err := w.lyrics.UpdateSyncedLines(store, lyrics.ID, lines); err != nil {
		return w.syncs.MarkFailed(store, id, attempts, err.Error())
	}
	if item.ClipID != "" && lyrics.ClipID == "" {
		if err := w.lyrics.UpdateClipID(store, lyrics.ID, item.ClipID); err != nil {
			w.log.Warn("更新歌词 clipId 失败", logger.String("lyricsId", lyrics.ID), logger.ErrorField(err))
		}
	}
	if err := w.tracks.For(item.Visibility).MarkSyncedLyrics(store, item.TrackID); err != nil {
		return w.syncs.MarkFailed(store, id, attempts, err.Error())
	}

	w.log.Info("歌词时间轴同步完成",
		logger.String("syncId", id),
		logger.String("trackId", item.TrackID),
		logger.String("method", method),
		logger.Int("lines", len(lines)))
	return w.syncs.MarkDone(store, id, attempts)
}

// release puts an interrupted item back to pending and returns cause.
func (w *Worker) release(ctx context.Context, id string, cause error) error {
	if err := w.syncs.Release(ctx, id); err != nil {
		w.log.Error("归还歌词同步任务失败", logger.String("syncId", id), logger.ErrorField(err))
		return errors.Join(cause, err)
	}
	w.log.Info("歌词同步被中断，任务已归还", logger.String("syncId", id))
	return cause
}

// align returns the lines, the method that produced the final outcome and the
// number of alignment calls made.
func (w *Worker) align(ctx context.Context, item *model.PendingLyricsSync, lyrics string) ([]model.SyncedLine, string, int, error) {
	attempts := 0
	var clipErr error

	if w.clipCapable(item) {
		var lines []model.SyncedLine
		op := func() error {
			attempts++
			var err error
			lines, err = w.aligner.AlignClip(ctx, item.ClipID, lyrics)
			return err
		}
		b := backoff.WithContext(
			backoff.WithMaxRetries(backoff.NewConstantBackOff(w.cfg.RetryDelay), uint64(w.cfg.Attempts-1)),
			ctx)
		if clipErr = backoff.Retry(op, b); clipErr == nil {
			return lines, MethodClip, attempts, nil
		}
		if ctx.Err() != nil {
			return nil, MethodClip, attempts, ctx.Err()
		}
		w.log.Info("原生时间轴失败，回退到音频对齐",
			logger.String("syncId", item.ID),
			logger.Int("attempts", attempts),
			logger.ErrorField(clipErr))
	}

	if item.AudioKey == "" {
		if clipErr == nil {
			clipErr = errors.New("no clip id or stored audio to align")
		}
		return nil, MethodClip, attempts, clipErr
	}

	attempts++
	file, cleanup, err := audio.SpoolToTemp(ctx, w.store, item.AudioKey)
	if err != nil {
		return nil, MethodAudio, attempts, err
	}
	defer cleanup()
	lines, err := w.aligner.AlignAudio(ctx, file, lyrics)
	return lines, MethodAudio, attempts, err
}

func (w *Worker) clipCapable(item *model.PendingLyricsSync) bool {
	if item.ClipID == "" {
		return false
	}
	if w.caps == nil || item.Provider == "" {
		return true
	}
	caps, ok := w.caps.GetProviderCapabilities(item.Provider)
	return !ok || caps.SupportsSyncedLyrics
}

func resultOf(err error) string {
	if err != nil {
		return metrics.ResultFailed
	}
	return metrics.ResultOK
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
