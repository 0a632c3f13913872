package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
)

// BucketStats 存储桶统计信息
type BucketStats struct {
	TotalObjects int
	TotalSize    int64
	LastModified time.Time
	// 按前缀（audio/、artwork/ 等）汇总的大小
	SizeByKind map[string]int64
}

// Stats walks every object under prefix.
func (s *MinioStore) Stats(ctx context.Context, prefix string) (*BucketStats, error) {
	stats := &BucketStats{SizeByKind: map[string]int64{}}
	objectCh := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})
	for object := range objectCh {
		if object.Err != nil {
			return nil, fmt.Errorf("列出对象时出错: %w", object.Err)
		}
		stats.add(object.Key, object.Size, object.LastModified)
	}
	return stats, nil
}

func (b *BucketStats) add(key string, size int64, modified time.Time) {
	b.TotalObjects++
	b.TotalSize += size
	if modified.After(b.LastModified) {
		b.LastModified = modified
	}
	kind := "other"
	if i := strings.Index(key, "/"); i > 0 {
		kind = key[:i]
	}
	b.SizeByKind[kind] += size
}

// FormatSize 格式化文件大小
func FormatSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}
