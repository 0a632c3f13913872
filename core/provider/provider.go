// Package provider hides the set of music generation backends behind one entry
// point with ordered fallback.
package provider

import (
	"context"
	"fmt"
	"sync"

	"Versewell/errs"
	"Versewell/logger"
	"Versewell/metrics"
)

// Capabilities are the static features of a provider.
type Capabilities struct {
	SupportsSyncedLyrics bool `json:"supportsSyncedLyrics"`
	SupportsInstrumental bool `json:"supportsInstrumental"`
	SupportsCustomStyle  bool `json:"supportsCustomStyle"`
	MaxDurationSeconds   int  `json:"maxDurationSeconds"`
}

// MusicRequest describes the audio to generate.
type MusicRequest struct {
	Lyrics          string `json:"lyrics,omitempty"`
	Title           string `json:"title,omitempty"`
	Style           string `json:"style,omitempty"`
	Genre           string `json:"genre,omitempty"`
	Mood            string `json:"mood,omitempty"`
	Language        string `json:"language,omitempty"`
	Instrumental    bool   `json:"instrumental,omitempty"`
	DurationSeconds int    `json:"duration,omitempty"`
}

// MusicResult is a generated take.
type MusicResult struct {
	Provider  string
	ClipID    string
	AudioURLs []string
	Duration  float64 // seconds, as reported by the provider
}

// AudioURL returns the primary take.
func (r *MusicResult) AudioURL() string {
	if r == nil || len(r.AudioURLs) == 0 {
		return ""
	}
	return r.AudioURLs[0]
}

// MusicProvider generates audio.
type MusicProvider interface {
	Name() string
	Capabilities() Capabilities
	Healthy() bool
	GenerateMusic(ctx context.Context, req MusicRequest) (*MusicResult, error)
}

// Orchestrator tries the primary provider, then the other healthy providers in
// registration order.
type Orchestrator struct {
	mu        sync.RWMutex
	providers []MusicProvider
	primary   string
}

// NewOrchestrator registers providers in order; the first becomes the primary.
func NewOrchestrator(providers ...MusicProvider) *Orchestrator {
	o := &Orchestrator{}
	for _, p := range providers {
		o.Register(p)
	}
	return o
}

// Register adds p, replacing any provider with the same name.
func (o *Orchestrator) Register(p MusicProvider) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, existing := range o.providers {
		if existing.Name() == p.Name() {
			o.providers[i] = p
			return
		}
	}
	o.providers = append(o.providers, p)
	if o.primary == "" {
		o.primary = p.Name()
	}
}

// SetPrimary selects the provider tried first.
func (o *Orchestrator) SetPrimary(name string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, p := range o.providers {
		if p.Name() == name {
			o.primary = name
			return nil
		}
	}
	return fmt.Errorf("provider %q is not registered", name)
}

// Providers lists registered names in registration order.
func (o *Orchestrator) Providers() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	names := make([]string, 0, len(o.providers))
	for _, p := range o.providers {
		names = append(names, p.Name())
	}
	return names
}

// GetProviderCapabilities reports the capabilities of the named provider.
func (o *Orchestrator) GetProviderCapabilities(name string) (Capabilities, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	for _, p := range o.providers {
		if p.Name() == name {
			return p.Capabilities(), true
		}
	}
	return Capabilities{}, false
}

// attemptOrder is the primary followed by the rest in registration order.
func (o *Orchestrator) attemptOrder() []MusicProvider {
	o.mu.RLock()
	defer o.mu.RUnlock()
	order := make([]MusicProvider, 0, len(o.providers))
	for _, p := range o.providers {
		if p.Name() == o.primary {
			order = append(order, p)
		}
	}
	for _, p := range o.providers {
		if p.Name() != o.primary {
			order = append(order, p)
		}
	}
	return order
}

// GenerateMusicWithFallback always tries the primary; fallbacks that report
// unhealthy are skipped. The last failure is returned when nothing succeeds.
func (o *Orchestrator) GenerateMusicWithFallback(ctx context.Context, req MusicRequest) (*MusicResult, error) {
	order := o.attemptOrder()
	if len(order) == 0 {
		return nil, errs.New(errs.NoProvider, "no music provider registered")
	}

	var lastErr error
	for i, p := range order {
		if i > 0 && !p.Healthy() {
			logger.Warn("跳过不健康的音乐生成服务", logger.String("provider", p.Name()))
			continue
		}
		if ctx.Err() != nil {
			break
		}

		res, err := p.GenerateMusic(ctx, req)
		if err == nil && res.AudioURL() == "" {
			err = fmt.Errorf("provider %s returned no audio", p.Name())
		}
		metrics.RecordProviderAttempt(p.Name(), err)
		if err == nil {
			if res.Provider == "" {
				res.Provider = p.Name()
			}
			return res, nil
		}

		lastErr = err
		logger.Warn("音乐生成失败，尝试下一个服务",
			logger.String("provider", p.Name()),
			logger.Int("attempt", i+1),
			logger.ErrorField(err))
	}

	if lastErr == nil {
		lastErr = ctx.Err()
	}
	return nil, errs.Wrap(errs.ProviderFailed, lastErr, "all music providers failed")
}
