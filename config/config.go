package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config stores the application configuration.
type Config struct {
	AppEnv   string
	HTTPAddr string

	// 日志
	LogLevel      string
	LogFile       string
	LogMaxSize    int
	LogMaxBackups int
	LogMaxAge     int
	LogCompress   bool

	// 数据库: mysql 或 sqlite
	DBDriver   string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	SQLitePath string

	// Redis配置
	RedisEnabled  bool
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// MinIO
	MinioEndpoint   string
	MinioAccessKey  string
	MinioSecretKey  string
	MinioBucket     string
	MinioRegion     string
	MinioUseSSL     bool
	MinioPublicBase string

	// 外部服务
	ProfileServiceURL   string
	AIContentServiceURL string
	MusicProviderURLs   []string // 按注册顺序，第一个为主 provider
	TimingServiceURL    string
	LyricsTemplateID    string

	// OpenAI 兼容接口（歌词备用生成 + 封面生成）
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	OpenAIModel      string
	OpenAIImageModel string
	UseOpenAILyrics  bool

	FFmpegPath string

	// 限流闸门
	GateMaxConcurrent int
	GateStagger       time.Duration

	// 超时
	LookupTimeout  time.Duration
	AITimeout      time.Duration
	AudioTimeout   time.Duration
	StorageTimeout time.Duration
	ProbeTimeout   time.Duration

	// 重试
	ArtworkRetries    int
	ArtworkRetryDelay time.Duration

	// 歌词时间轴同步
	SyncWorkers      int
	SyncAttempts     int
	SyncRetryDelay   time.Duration
	SyncInitialDelay time.Duration
	SyncSweepSpec    string
	SyncStaleAfter   time.Duration

	ModelConfigTTL time.Duration
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("3500ms") or plain milliseconds ("3500").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() will not override existing env vars.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found or error loading .env, relying on existing environment variables and defaults.")
	}
	return FromEnv()
}

// FromEnv builds a Config from the current environment without touching .env files.
func FromEnv() *Config {
	return &Config{
		AppEnv:   getEnv("APP_ENV", "development"),
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),

		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFile:       getEnv("LOG_FILE", ""),
		LogMaxSize:    getEnvInt("LOG_MAX_SIZE", 100),
		LogMaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
		LogMaxAge:     getEnvInt("LOG_MAX_AGE", 30),
		LogCompress:   getEnvBool("LOG_COMPRESS", true),

		DBDriver:   getEnv("DB_DRIVER", "mysql"),
		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     getEnv("DB_NAME", "versewell"),
		SQLitePath: getEnv("SQLITE_PATH", "versewell.db"),

		RedisEnabled:  getEnvBool("REDIS_ENABLED", true),
		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		MinioEndpoint:   getEnv("MINIO_ENDPOINT", "127.0.0.1:9000"),
		MinioAccessKey:  getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey:  getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:     getEnv("MINIO_BUCKET", "versewell"),
		MinioRegion:     getEnv("MINIO_REGION", "us-east-1"),
		MinioUseSSL:     getEnvBool("MINIO_USE_SSL", false),
		MinioPublicBase: getEnv("MINIO_PUBLIC_BASE", ""),

		ProfileServiceURL:   getEnv("PROFILE_SERVICE_URL", "http://localhost:3001"),
		AIContentServiceURL: getEnv("AI_CONTENT_SERVICE_URL", "http://localhost:3002"),
		MusicProviderURLs:   getEnvList("MUSIC_PROVIDER_URLS", []string{"http://localhost:3003"}),
		TimingServiceURL:    getEnv("TIMING_SERVICE_URL", "http://localhost:3004"),
		LyricsTemplateID:    getEnv("LYRICS_TEMPLATE_ID", "music-lyrics"),

		OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:    getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIModel:      getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIImageModel: getEnv("OPENAI_IMAGE_MODEL", "dall-e-3"),
		UseOpenAILyrics:  getEnvBool("USE_OPENAI_LYRICS", false),

		FFmpegPath: getEnv("FFMPEG_PATH", "ffmpeg"),

		GateMaxConcurrent: getEnvInt("GATE_MAX_CONCURRENT", 10),
		GateStagger:       getEnvDuration("GATE_STAGGER", 3500*time.Millisecond),

		LookupTimeout:  getEnvDuration("LOOKUP_TIMEOUT", 30*time.Second),
		AITimeout:      getEnvDuration("AI_TIMEOUT", 120*time.Second),
		AudioTimeout:   getEnvDuration("AUDIO_TIMEOUT", 300*time.Second),
		StorageTimeout: getEnvDuration("STORAGE_TIMEOUT", 120*time.Second),
		ProbeTimeout:   getEnvDuration("PROBE_TIMEOUT", 60*time.Second),

		ArtworkRetries:    getEnvInt("ARTWORK_RETRIES", 2),
		ArtworkRetryDelay: getEnvDuration("ARTWORK_RETRY_DELAY", 3*time.Second),

		SyncWorkers:      getEnvInt("SYNC_WORKERS", 3),
		SyncAttempts:     getEnvInt("SYNC_ATTEMPTS", 3),
		SyncRetryDelay:   getEnvDuration("SYNC_RETRY_DELAY", 5*time.Second),
		SyncInitialDelay: getEnvDuration("SYNC_INITIAL_DELAY", 20*time.Second),
		SyncSweepSpec:    getEnv("SYNC_SWEEP_SPEC", "@every 1m"),
		SyncStaleAfter:   getEnvDuration("SYNC_STALE_AFTER", 10*time.Minute),

		ModelConfigTTL: getEnvDuration("MODEL_CONFIG_TTL", 10*time.Minute),
	}
}

// RedisAddr returns host:port for the Redis connection.
func (c *Config) RedisAddr() string {
	return c.RedisHost + ":" + c.RedisPort
}
