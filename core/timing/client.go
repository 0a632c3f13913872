package timing

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"Versewell/internal/httpjson"
	"Versewell/model"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-retryablehttp"
)

// Aligner returns time-aligned lyric lines.
type Aligner interface {
	// AlignClip asks for provider-native alignment of a generated clip.
	AlignClip(ctx context.Context, clipID, lyrics string) ([]model.SyncedLine, error)
	// AlignAudio runs acoustic alignment on a local audio file.
	AlignAudio(ctx context.Context, audioPath, lyrics string) ([]model.SyncedLine, error)
}

type alignResponse struct {
	Success bool               `json:"success"`
	Lines   []model.SyncedLine `json:"lines" validate:"min=1,dive"`
	Error   string             `json:"error,omitempty"`
}

// Client calls the lyrics timing service.
type Client struct {
	baseURL  string
	client   *retryablehttp.Client
	validate *validator.Validate
	timeout  time.Duration
}

// NewClient 创建歌词时间轴服务客户端
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		// 重试由 worker 统一控制
		client:   httpjson.NewClient("timing", timeout, 0),
		validate: validator.New(),
		timeout:  timeout,
	}
}

func (c *Client) AlignClip(ctx context.Context, clipID, lyrics string) ([]model.SyncedLine, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body := map[string]string{"clipId": clipID, "lyrics": lyrics}
	var resp alignResponse
	if err := httpjson.Do(ctx, c.client, http.MethodPost, c.baseURL+"/api/timing/clip", nil, body, &resp); err != nil {
		return nil, fmt.Errorf("align clip %s: %w", clipID, err)
	}
	return c.check(resp)
}

func (c *Client) AlignAudio(ctx context.Context, audioPath, lyrics string) ([]model.SyncedLine, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, contentType, err := multipartBody(audioPath, lyrics)
	if err != nil {
		return nil, err
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/timing/audio", payload)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	var resp alignResponse
	if err := httpjson.DoRequest(c.client, req, &resp); err != nil {
		return nil, fmt.Errorf("align audio: %w", err)
	}
	return c.check(resp)
}

func (c *Client) check(resp alignResponse) ([]model.SyncedLine, error) {
	if !resp.Success {
		if resp.Error == "" {
			resp.Error = "alignment unsuccessful"
		}
		return nil, fmt.Errorf("timing service: %s", resp.Error)
	}
	if err := c.validate.Struct(resp); err != nil {
		return nil, fmt.Errorf("timing service: invalid response: %w", err)
	}
	return resp.Lines, nil
}

// multipartBody buffers the form so the request body can be replayed.
func multipartBody(audioPath, lyrics string) (*bytes.Buffer, string, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, "", fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("lyrics", lyrics); err != nil {
		return nil, "", err
	}
	part, err := w.CreateFormFile("audio", filepath.Base(audioPath))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("read audio: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
