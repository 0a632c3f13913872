package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"Versewell/config"
	"Versewell/logger"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// StoredObject describes an artifact written to the bucket.
type StoredObject struct {
	Key         string
	URL         string
	Size        int64
	ContentType string
}

// MinioStore keeps generated audio and artwork in one bucket.
type MinioStore struct {
	client     *minio.Client
	bucket     string
	publicBase string
	downloader *retryablehttp.Client
}

// NewMinioStore 初始化 MinIO 客户端并确保存储桶存在
func NewMinioStore(ctx context.Context, cfg *config.Config) (*MinioStore, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.MinioRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("创建 MinIO 客户端失败: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.MinioBucket)
	if err != nil {
		return nil, fmt.Errorf("检查存储桶失败: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.MinioBucket, minio.MakeBucketOptions{Region: cfg.MinioRegion}); err != nil {
			return nil, fmt.Errorf("创建存储桶失败: %w", err)
		}
		logger.Info("成功创建存储桶", logger.String("bucket", cfg.MinioBucket))
	}

	publicBase := cfg.MinioPublicBase
	if publicBase == "" {
		scheme := "http"
		if cfg.MinioUseSSL {
			scheme = "https"
		}
		publicBase = fmt.Sprintf("%s://%s/%s", scheme, cfg.MinioEndpoint, cfg.MinioBucket)
	}

	return &MinioStore{
		client:     client,
		bucket:     cfg.MinioBucket,
		publicBase: strings.TrimRight(publicBase, "/"),
		downloader: newDownloader(cfg.StorageTimeout),
	}, nil
}

func newDownloader(timeout time.Duration) *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = 2
	c.RetryWaitMin = 500 * time.Millisecond
	c.RetryWaitMax = 2 * time.Second
	c.HTTPClient.Timeout = timeout
	c.Logger = logger.NewLeveled("storage")
	return c
}

// Bucket returns the bucket name.
func (s *MinioStore) Bucket() string {
	return s.bucket
}

// PublicURL is the URL clients use to fetch key.
func (s *MinioStore) PublicURL(key string) string {
	return publicURL(s.publicBase, key)
}

// KeyFromURL reverses PublicURL. It reports false for URLs outside the bucket.
func (s *MinioStore) KeyFromURL(u string) (string, bool) {
	return keyFromURL(s.publicBase, u)
}

// StoreRemote downloads sourceURL and writes it under key.
func (s *MinioStore) StoreRemote(ctx context.Context, sourceURL, key, contentType string) (*StoredObject, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	resp, err := s.downloader.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", sourceURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("download %s: status %d", sourceURL, resp.StatusCode)
	}
	if contentType == "" {
		contentType = resp.Header.Get("Content-Type")
	}
	if contentType == "" {
		contentType = inferContentType(key)
	}

	return s.Put(ctx, key, resp.Body, resp.ContentLength, contentType)
}

// Put writes r under key. size may be -1 when unknown.
func (s *MinioStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (*StoredObject, error) {
	info, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return nil, fmt.Errorf("上传对象失败 %s: %w", key, err)
	}

	logger.Debug("对象上传成功",
		logger.String("bucket", s.bucket),
		logger.String("key", key),
		logger.Int64("size", info.Size))

	return &StoredObject{
		Key:         key,
		URL:         s.PublicURL(key),
		Size:        info.Size,
		ContentType: contentType,
	}, nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *MinioStore) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("删除对象失败 %s: %w", key, err)
	}
	return nil
}

// Open streams the object stored under key.
func (s *MinioStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("读取对象失败 %s: %w", key, err)
	}
	return obj, nil
}

// AudioKey returns a fresh key for a generated track's audio.
func AudioKey(userID, ext string) string {
	return objectKey("audio", userID, ext)
}

// ArtworkKey returns a fresh key for generated cover art.
func ArtworkKey(userID, ext string) string {
	return objectKey("artwork", userID, ext)
}

func objectKey(kind, userID, ext string) string {
	if ext == "" {
		ext = "bin"
	}
	ext = strings.TrimPrefix(ext, ".")
	return path.Join(kind, userID, uuid.NewString()+"."+ext)
}

func publicURL(base, key string) string {
	return base + "/" + strings.TrimLeft(key, "/")
}

func keyFromURL(base, u string) (string, bool) {
	prefix := base + "/"
	if !strings.HasPrefix(u, prefix) {
		return "", false
	}
	key := strings.TrimPrefix(u, prefix)
	if i := strings.IndexAny(key, "?#"); i >= 0 {
		key = key[:i]
	}
	return key, key != ""
}

// inferContentType 从文件名推断内容类型
func inferContentType(filename string) string {
	switch strings.ToLower(path.Ext(filename)) {
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".flac":
		return "audio/flac"
	case ".m4a":
		return "audio/mp4"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}
