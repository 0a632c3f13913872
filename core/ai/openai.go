package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const lyricsSystemPrompt = "You are a songwriter. Turn the user's journal material into song lyrics. " +
	"Start with a [Title] line, then label every section in brackets such as [Verse 1] or [Chorus]."

// OpenAIConfig configures an OpenAI-compatible backend.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	ImageModel string
	ImageSize  string
	Timeout    time.Duration
}

// OpenAIClient generates lyrics through chat completions and cover art through
// image generation.
type OpenAIClient struct {
	client     *openai.Client
	model      string
	imageModel string
	imageSize  string
}

// NewOpenAIClient 创建 OpenAI 兼容客户端
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.Timeout > 0 {
		oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.ImageModel == "" {
		cfg.ImageModel = openai.CreateImageModelDallE3
	}
	if cfg.ImageSize == "" {
		cfg.ImageSize = openai.CreateImageSize1024x1024
	}
	return &OpenAIClient{
		client:     openai.NewClientWithConfig(oc),
		model:      cfg.Model,
		imageModel: cfg.ImageModel,
		imageSize:  cfg.ImageSize,
	}
}

// GenerateContent runs one chat completion. Parameters may override "model",
// "temperature" and "maxTokens"; the template id is sent as the user field.
func (c *OpenAIClient) GenerateContent(ctx context.Context, req ContentRequest) (string, error) {
	chat := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: lyricsSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		User: req.TemplateID,
	}
	if m, ok := stringParam(req.Parameters, "model"); ok {
		chat.Model = m
	}
	if t, ok := floatParam(req.Parameters, "temperature"); ok {
		chat.Temperature = float32(t)
	}
	if n, ok := intParam(req.Parameters, "maxTokens"); ok {
		chat.MaxTokens = n
	}

	resp, err := c.client.CreateChatCompletion(ctx, chat)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

// GenerateImage returns a short-lived URL of the generated image.
func (c *OpenAIClient) GenerateImage(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         prompt,
		Model:          c.imageModel,
		N:              1,
		Size:           c.imageSize,
		ResponseFormat: openai.CreateImageResponseFormatURL,
	})
	if err != nil {
		return "", fmt.Errorf("image generation: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return "", errors.New("image generation: empty response")
	}
	return resp.Data[0].URL, nil
}
