package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"Versewell/internal/httpjson"
	"Versewell/logger"

	"github.com/hashicorp/go-retryablehttp"
	gocache "github.com/patrickmn/go-cache"
)

const modelConfigKey = "models"

// ModelConfig is the content service's generation defaults.
type ModelConfig struct {
	DefaultModel string  `json:"defaultModel"`
	LyricsModel  string  `json:"lyricsModel,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
	MaxTokens    int     `json:"maxTokens,omitempty"`
}

// ServiceClient calls the AI content service. The model configuration is fetched
// once per TTL and shared by every request in the process.
type ServiceClient struct {
	baseURL string
	client  *retryablehttp.Client
	timeout time.Duration
	models  *gocache.Cache
}

// NewServiceClient 创建 AI 内容服务客户端
func NewServiceClient(baseURL string, timeout, modelTTL time.Duration) *ServiceClient {
	if modelTTL <= 0 {
		modelTTL = 10 * time.Minute
	}
	return &ServiceClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		// 内容生成不是幂等的，不做自动重试
		client:  httpjson.NewClient("ai-content", timeout, 0),
		timeout: timeout,
		// no janitor goroutine; Get skips expired entries
		models:  gocache.New(modelTTL, 0),
	}
}

type generateRequest struct {
	Prompt     string                 `json:"prompt"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
	Options    generateOptions        `json:"options"`
}

type generateOptions struct {
	TemplateID string `json:"templateId,omitempty"`
}

type generateResponse struct {
	Success bool   `json:"success"`
	Content string `json:"content"`
	Error   string `json:"error,omitempty"`
}

// GenerateContent merges the cached model defaults under req.Parameters and posts
// the prompt. An unavailable model configuration is not fatal.
func (c *ServiceClient) GenerateContent(ctx context.Context, req ContentRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := map[string]interface{}{}
	if cfg, err := c.ModelConfig(ctx); err == nil {
		if cfg.LyricsModel != "" {
			params["model"] = cfg.LyricsModel
		} else if cfg.DefaultModel != "" {
			params["model"] = cfg.DefaultModel
		}
		if cfg.Temperature > 0 {
			params["temperature"] = cfg.Temperature
		}
		if cfg.MaxTokens > 0 {
			params["maxTokens"] = cfg.MaxTokens
		}
	} else {
		logger.Warn("获取模型配置失败，使用服务端默认值", logger.ErrorField(err))
	}
	for k, v := range req.Parameters {
		params[k] = v
	}

	body := generateRequest{
		Prompt:     req.Prompt,
		Parameters: params,
		Options:    generateOptions{TemplateID: req.TemplateID},
	}
	var resp generateResponse
	if err := httpjson.Do(ctx, c.client, http.MethodPost, c.baseURL+"/api/content/generate", nil, body, &resp); err != nil {
		return "", fmt.Errorf("content service: %w", err)
	}
	if !resp.Success {
		if resp.Error == "" {
			resp.Error = "generation unsuccessful"
		}
		return "", errors.New("content service: " + resp.Error)
	}
	return resp.Content, nil
}

// ModelConfig returns the cached configuration, fetching it when expired.
func (c *ServiceClient) ModelConfig(ctx context.Context) (*ModelConfig, error) {
	if v, ok := c.models.Get(modelConfigKey); ok {
		return v.(*ModelConfig), nil
	}
	var cfg ModelConfig
	if err := httpjson.Do(ctx, c.client, http.MethodGet, c.baseURL+"/api/config/models", nil, nil, &cfg); err != nil {
		return nil, fmt.Errorf("model config: %w", err)
	}
	c.models.SetDefault(modelConfigKey, &cfg)
	return &cfg, nil
}

// InvalidateModelConfig drops the cached configuration.
func (c *ServiceClient) InvalidateModelConfig() {
	c.models.Delete(modelConfigKey)
}
