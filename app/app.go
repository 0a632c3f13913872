// Package app assembles the generation service from configuration.
package app

import (
	"context"
	"fmt"

	"Versewell/cache"
	"Versewell/config"
	"Versewell/core/ai"
	"Versewell/core/audio"
	"Versewell/core/gate"
	"Versewell/core/generation"
	"Versewell/core/lyrics"
	"Versewell/core/profile"
	"Versewell/core/provider"
	"Versewell/core/session"
	"Versewell/core/timing"
	"Versewell/db"
	"Versewell/logger"
	"Versewell/repository"
	"Versewell/storage"

	"github.com/redis/go-redis/v9"
	"github.com/sourcegraph/conc"
	"gorm.io/gorm"
)

// App holds the long-lived components of one process.
type App struct {
	Config *config.Config

	DB    *gorm.DB
	Redis *redis.Client
	Store *storage.MinioStore

	Gate      *gate.Gate
	Providers *provider.Orchestrator
	Tracker   *session.Tracker
	Service   *generation.Service
	Worker    *timing.Worker
	Sweeper   *timing.Sweeper

	background conc.WaitGroup
}

// InitLogging configures the global logger. Call it before New so component
// loggers are not the no-op default.
func InitLogging(cfg *config.Config) {
	logger.InitLogger(logger.Config{
		Level:      logger.LogLevel(cfg.LogLevel),
		OutputPath: cfg.LogFile,
		MaxSize:    cfg.LogMaxSize,
		MaxBackups: cfg.LogMaxBackups,
		MaxAge:     cfg.LogMaxAge,
		Compress:   cfg.LogCompress,
	})
}

// New connects to the database, Redis (when enabled) and MinIO and wires the
// generation pipeline.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	gdb, err := db.Open(cfg)
	if err != nil {
		return nil, err
	}
	a.DB = gdb
	if err := db.AutoMigrate(gdb); err != nil {
		a.Close()
		return nil, err
	}

	if cfg.RedisEnabled {
		client, err := cache.NewRedisClient(cfg)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Redis = client
	}

	store, err := storage.NewMinioStore(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("初始化 MinIO 失败: %w", err)
	}
	a.Store = store

	a.wire()
	logger.Info("应用组件初始化完成",
		logger.String("env", cfg.AppEnv),
		logger.Bool("redis", a.Redis != nil),
		logger.Strings("providers", a.Providers.Providers()))
	return a, nil
}

func (a *App) wire() {
	cfg := a.Config

	var (
		bus   session.ProgressBus
		queue timing.Queue
	)
	if a.Redis != nil {
		bus = cache.NewRedisProgressBus(a.Redis)
		queue = cache.NewRedisSyncQueue(a.Redis, "")
	} else {
		bus = session.NewLocalBus()
		queue = timing.NewMemoryQueue()
	}

	openai := ai.NewOpenAIClient(ai.OpenAIConfig{
		APIKey:     cfg.OpenAIAPIKey,
		BaseURL:    cfg.OpenAIBaseURL,
		Model:      cfg.OpenAIModel,
		ImageModel: cfg.OpenAIImageModel,
		Timeout:    cfg.AITimeout,
	})
	var content ai.ContentGenerator = ai.NewServiceClient(cfg.AIContentServiceURL, cfg.AITimeout, cfg.ModelConfigTTL)
	if cfg.UseOpenAILyrics {
		content = openai
	}
	var artwork ai.ImageGenerator
	if cfg.OpenAIAPIKey != "" {
		artwork = openai
	}

	a.Gate = gate.New(cfg.GateMaxConcurrent, cfg.GateStagger)
	a.Providers = NewProviders(cfg)

	tracks := repository.NewTrackLibraries(a.DB)
	lyricsRepo := repository.NewGormLyricsRepository(a.DB)
	syncs := repository.NewGormLyricsSyncRepository(a.DB)

	a.Tracker = session.NewTracker(repository.NewGormSessionRepository(a.DB), bus)

	a.Worker = timing.NewWorker(
		queue, syncs, lyricsRepo, tracks,
		timing.NewClient(cfg.TimingServiceURL, cfg.AITimeout),
		a.Store, a.Providers,
		timing.WorkerConfig{
			Concurrency:  cfg.SyncWorkers,
			Attempts:     cfg.SyncAttempts,
			RetryDelay:   cfg.SyncRetryDelay,
			InitialDelay: cfg.SyncInitialDelay,
		})

	pipeline := lyrics.NewPipeline(
		profile.NewGateway(cfg.ProfileServiceURL, cfg.LookupTimeout),
		lyricsRepo, content, cfg.LyricsTemplateID)

	orch := generation.NewOrchestrator(generation.Deps{
		Lyrics:  pipeline,
		Music:   a.Providers,
		Gate:    a.Gate,
		Artwork: artwork,
		Store:   a.Store,
		Prober:  audio.NewStoredProber(a.Store, audio.NewFFprobe(cfg.FFmpegPath)),
		Tracks:  tracks,
		Sync:    a.Worker,
	}, generation.Config{
		ArtworkRetries:    cfg.ArtworkRetries,
		ArtworkRetryDelay: cfg.ArtworkRetryDelay,
		AITimeout:         cfg.AITimeout,
		AudioTimeout:      cfg.AudioTimeout,
		StorageTimeout:    cfg.StorageTimeout,
		ProbeTimeout:      cfg.ProbeTimeout,
	})
	a.Service = generation.NewService(orch, a.Tracker)
}

// NewProviders registers one proxy provider per configured URL. The first URL is
// the primary provider.
func NewProviders(cfg *config.Config) *provider.Orchestrator {
	o := provider.NewOrchestrator()
	for i, u := range cfg.MusicProviderURLs {
		o.Register(provider.NewProxyProvider(provider.ProxyConfig{
			Name:    fmt.Sprintf("proxy-%d", i+1),
			BaseURL: u,
			Timeout: cfg.AudioTimeout,
			Capabilities: provider.Capabilities{
				// only the primary proxy exposes provider-native timing
				SupportsSyncedLyrics: i == 0,
				SupportsInstrumental: true,
				SupportsCustomStyle:  true,
				MaxDurationSeconds:   240,
			},
		}))
	}
	return o
}

// StartBackground launches the lyrics sync worker and sweeper. The worker stops
// when ctx is cancelled; call Shutdown to wait for it before Close.
func (a *App) StartBackground(ctx context.Context) error {
	sweeper, err := timing.NewSweeper(a.Config.SyncSweepSpec, a.Config.SyncStaleAfter,
		repository.NewGormLyricsSyncRepository(a.DB), a.Worker.Queue())
	if err != nil {
		return fmt.Errorf("invalid sync sweep schedule %q: %w", a.Config.SyncSweepSpec, err)
	}
	a.Sweeper = sweeper
	a.Sweeper.Start()

	a.background.Go(func() {
		if err := a.Worker.Run(ctx); err != nil {
			logger.Error("歌词同步 worker 异常退出", logger.ErrorField(err))
		}
	})
	return nil
}

// Shutdown stops the sweeper and waits for background generations and for the
// sync worker, whose context must already be cancelled.
func (a *App) Shutdown() {
	if a.Sweeper != nil {
		a.Sweeper.Stop()
	}
	if a.Service != nil {
		a.Service.Wait()
	}
	a.background.Wait()
}

// Close releases connections.
func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			logger.Warn("关闭 Redis 连接失败", logger.ErrorField(err))
		}
	}
	if err := db.Close(a.DB); err != nil {
		logger.Warn("关闭数据库连接失败", logger.ErrorField(err))
	}
	logger.Sync()
}
