package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"Versewell/internal/httpjson"
	"Versewell/logger"
	"Versewell/metrics"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-retryablehttp"
	gobreaker "github.com/sony/gobreaker/v2"
)

const (
	DefaultAudioTimeout = 300 * time.Second
	defaultTripAfter    = 3
	defaultOpenFor      = time.Minute
)

// ProxyConfig configures a provider reached through the music proxy service.
type ProxyConfig struct {
	Name         string
	BaseURL      string
	Timeout      time.Duration
	Capabilities Capabilities
	// TripAfter consecutive failures open the breaker for OpenFor.
	TripAfter uint32
	OpenFor   time.Duration
}

// ProxyProvider calls POST {base}/api/music/generate behind a circuit breaker.
type ProxyProvider struct {
	name     string
	baseURL  string
	caps     Capabilities
	client   *retryablehttp.Client
	validate *validator.Validate
	cb       *gobreaker.CircuitBreaker[*MusicResult]
}

type proxyResponse struct {
	Success   bool     `json:"success"`
	ClipID    string   `json:"clipId"`
	AudioURLs []string `json:"audioUrls" validate:"min=1,dive,url"`
	Duration  float64  `json:"duration" validate:"gte=0"`
	Error     string   `json:"error,omitempty"`
}

// NewProxyProvider 创建音乐代理服务 provider
func NewProxyProvider(cfg ProxyConfig) *ProxyProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultAudioTimeout
	}
	if cfg.TripAfter == 0 {
		cfg.TripAfter = defaultTripAfter
	}
	if cfg.OpenFor <= 0 {
		cfg.OpenFor = defaultOpenFor
	}
	name := cfg.Name
	metrics.ProviderBreakerState.WithLabelValues(name).Set(0)

	p := &ProxyProvider{
		name:    name,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		caps:    cfg.Capabilities,
		// 音频生成不是幂等的，失败后交给 fallback 而不是重试
		client:   httpjson.NewClient("provider-"+name, cfg.Timeout, 0),
		validate: validator.New(),
	}
	p.cb = gobreaker.NewCircuitBreaker[*MusicResult](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.OpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.TripAfter
		},
		IsSuccessful: func(err error) bool {
			// 调用方取消不算服务故障
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("音乐服务熔断状态变化",
				logger.String("provider", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()))
			metrics.ProviderBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})
	return p
}

func (p *ProxyProvider) Name() string { return p.name }

func (p *ProxyProvider) Capabilities() Capabilities { return p.caps }

// Healthy is false while the breaker is open.
func (p *ProxyProvider) Healthy() bool {
	return p.cb.State() != gobreaker.StateOpen
}

func (p *ProxyProvider) GenerateMusic(ctx context.Context, req MusicRequest) (*MusicResult, error) {
	return p.cb.Execute(func() (*MusicResult, error) {
		return p.generate(ctx, req)
	})
}

func (p *ProxyProvider) generate(ctx context.Context, req MusicRequest) (*MusicResult, error) {
	var resp proxyResponse
	if err := httpjson.Do(ctx, p.client, http.MethodPost, p.baseURL+"/api/music/generate", nil, req, &resp); err != nil {
		return nil, fmt.Errorf("%s: %w", p.name, err)
	}
	if !resp.Success {
		if resp.Error == "" {
			resp.Error = "generation unsuccessful"
		}
		return nil, fmt.Errorf("%s: %s", p.name, resp.Error)
	}
	if err := p.validate.Struct(resp); err != nil {
		return nil, fmt.Errorf("%s: invalid response: %w", p.name, err)
	}
	return &MusicResult{
		Provider:  p.name,
		ClipID:    resp.ClipID,
		AudioURLs: resp.AudioURLs,
		Duration:  resp.Duration,
	}, nil
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
