// Package profile fetches journal entries and optional personalization signals
// from the profile service.
package profile

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"Versewell/errs"
	"Versewell/internal/httpjson"
	"Versewell/logger"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"
)

const DefaultTimeout = 30 * time.Second

// Entry is the journal entry content lyrics are written from.
type Entry struct {
	ID        string    `json:"id"`
	Title     string    `json:"title,omitempty"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updatedAt" validate:"required"`
}

// Preferences are the user's musical tastes.
type Preferences struct {
	Success     bool     `json:"-"`
	Genres      []string `json:"genres,omitempty"`
	Moods       []string `json:"moods,omitempty"`
	Instruments []string `json:"instruments,omitempty"`
	Language    string   `json:"language,omitempty"`
	Notes       string   `json:"notes,omitempty"`
}

// NarrativeSeeds are recurring themes mined from the user's journal.
type NarrativeSeeds struct {
	Success  bool     `json:"-"`
	Keywords []string `json:"keywords,omitempty"`
	Themes   []string `json:"themes,omitempty"`
}

// Persona is a short description of the user's voice.
type Persona struct {
	Success bool     `json:"-"`
	Summary string   `json:"summary,omitempty"`
	Traits  []string `json:"traits,omitempty"`
	Tone    string   `json:"tone,omitempty"`
}

// Personalization bundles the three optional lookups.
type Personalization struct {
	Preferences Preferences
	Seeds       NarrativeSeeds
	Persona     Persona
}

// envelope is the response wrapper used by every profile endpoint.
type envelope struct {
	Success *bool           `json:"success" validate:"required"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error,omitempty"`
}

// Gateway is the profile service client.
type Gateway struct {
	baseURL  string
	client   *retryablehttp.Client
	validate *validator.Validate
	timeout  time.Duration
	log      *zap.Logger
}

// NewGateway creates a client for the service at baseURL. A non-positive timeout
// uses DefaultTimeout.
func NewGateway(baseURL string, timeout time.Duration) *Gateway {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Gateway{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   httpjson.NewClient("profile", timeout, 2),
		validate: validator.New(),
		timeout:  timeout,
		log:      logger.Named("profile"),
	}
}

// FetchEntryContent returns the entry to write lyrics from. A snapshot with content
// is used as-is; otherwise the entry is fetched by id.
func (g *Gateway) FetchEntryContent(ctx context.Context, userID, entryID string, snapshot *Entry) (*Entry, error) {
	if snapshot != nil && strings.TrimSpace(snapshot.Content) != "" {
		entry := *snapshot
		if entry.ID == "" {
			entry.ID = entryID
		}
		return &entry, nil
	}
	if entryID == "" {
		return nil, errs.New(errs.MissingEntry, "entry id or entry snapshot is required")
	}

	var entry Entry
	err := g.get(ctx, userID, "/api/entries/"+url.PathEscape(entryID), &entry)
	if err != nil {
		if httpjson.StatusOf(err) == http.StatusNotFound {
			return nil, errs.Newf(errs.EntryNotFound, "entry %s not found", entryID)
		}
		return nil, errs.Wrap(errs.EntryFetchError, err, "failed to fetch entry")
	}
	if strings.TrimSpace(entry.Content) == "" {
		return nil, errs.Newf(errs.EmptyEntry, "entry %s has no content", entryID)
	}
	if entry.ID == "" {
		entry.ID = entryID
	}
	return &entry, nil
}

// FetchUserPreferences never fails; an unavailable service yields Success=false.
func (g *Gateway) FetchUserPreferences(ctx context.Context, userID string) Preferences {
	var p Preferences
	p.Success = g.bestEffort(ctx, userID, "preferences", &p)
	return p
}

// FetchNarrativeSeeds never fails; an unavailable service yields Success=false.
func (g *Gateway) FetchNarrativeSeeds(ctx context.Context, userID string) NarrativeSeeds {
	var s NarrativeSeeds
	s.Success = g.bestEffort(ctx, userID, "narrative-seeds", &s)
	return s
}

// FetchUserPersona never fails; an unavailable service yields Success=false.
func (g *Gateway) FetchUserPersona(ctx context.Context, userID string) Persona {
	var p Persona
	p.Success = g.bestEffort(ctx, userID, "persona", &p)
	return p
}

// FetchPersonalization issues the three lookups concurrently.
func (g *Gateway) FetchPersonalization(ctx context.Context, userID string) Personalization {
	var out Personalization
	var wg conc.WaitGroup
	wg.Go(func() { out.Preferences = g.FetchUserPreferences(ctx, userID) })
	wg.Go(func() { out.Seeds = g.FetchNarrativeSeeds(ctx, userID) })
	wg.Go(func() { out.Persona = g.FetchUserPersona(ctx, userID) })
	wg.Wait()
	return out
}

func (g *Gateway) bestEffort(ctx context.Context, userID, resource string, out interface{}) bool {
	path := fmt.Sprintf("/api/users/%s/%s", url.PathEscape(userID), resource)
	if err := g.get(ctx, userID, path, out); err != nil {
		g.log.Warn("个性化数据不可用，降级处理",
			logger.String("userId", userID),
			logger.String("resource", resource),
			logger.ErrorField(err))
		return false
	}
	return true
}

// get fetches path and decodes the envelope's data into out.
func (g *Gateway) get(ctx context.Context, userID, path string, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var env envelope
	header := http.Header{"X-User-ID": {userID}}
	if err := httpjson.Do(ctx, g.client, http.MethodGet, g.baseURL+path, header, nil, &env); err != nil {
		return err
	}
	if err := g.validate.Struct(env); err != nil {
		return fmt.Errorf("invalid envelope: %w", err)
	}
	if !*env.Success {
		if env.Error == "" {
			env.Error = "service reported failure"
		}
		return fmt.Errorf("profile service: %s", env.Error)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return fmt.Errorf("profile service: empty data")
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	if err := g.validate.Struct(out); err != nil {
		return fmt.Errorf("invalid data: %w", err)
	}
	return nil
}
