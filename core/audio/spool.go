package audio

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"

	"Versewell/logger"
)

// Opener streams a stored object by key.
type Opener interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// SpoolToTemp copies the stored object under key into a temporary file. The
// returned cleanup removes the file.
func SpoolToTemp(ctx context.Context, store Opener, key string) (string, func(), error) {
	src, err := store.Open(ctx, key)
	if err != nil {
		return "", nil, fmt.Errorf("打开存储文件失败: %w", err)
	}
	defer src.Close()

	out, err := os.CreateTemp("", "versewell-*"+path.Ext(key))
	if err != nil {
		return "", nil, fmt.Errorf("创建临时文件失败: %w", err)
	}
	cleanup := func() {
		if err := os.Remove(out.Name()); err != nil && !os.IsNotExist(err) {
			logger.Warn("删除临时文件失败", logger.String("path", out.Name()), logger.ErrorField(err))
		}
	}

	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		cleanup()
		return "", nil, fmt.Errorf("保存文件失败: %w", err)
	}
	if err := out.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("保存文件失败: %w", err)
	}
	return out.Name(), cleanup, nil
}

// StoredProber measures the duration of files already in the artifact store.
type StoredProber struct {
	store Opener
	probe *FFprobe
}

func NewStoredProber(store Opener, probe *FFprobe) *StoredProber {
	return &StoredProber{store: store, probe: probe}
}

// DurationOf returns the duration in seconds of the stored object under key.
func (p *StoredProber) DurationOf(ctx context.Context, key string) (float64, error) {
	file, cleanup, err := SpoolToTemp(ctx, p.store, key)
	if err != nil {
		return 0, err
	}
	defer cleanup()
	return p.probe.Duration(ctx, file)
}
