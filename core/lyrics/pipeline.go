// Package lyrics resolves the lyrics for a generation request: by explicit id, from
// the per-entry cache, or by generating fresh lyrics from the entry text.
package lyrics

import (
	"context"
	"fmt"
	"strings"

	"Versewell/core/ai"
	"Versewell/core/profile"
	"Versewell/errs"
	"Versewell/logger"
	"Versewell/metrics"
	"Versewell/model"
	"Versewell/repository"

	"go.uber.org/zap"
)

// EntrySource provides entry text and personalization signals.
type EntrySource interface {
	FetchEntryContent(ctx context.Context, userID, entryID string, snapshot *profile.Entry) (*profile.Entry, error)
	FetchPersonalization(ctx context.Context, userID string) profile.Personalization
}

// Request selects lyrics for one track.
type Request struct {
	UserID          string
	EntryID         string
	LyricsID        string
	Snapshot        *profile.Entry
	Visibility      model.Visibility
	Style           string
	Mood            string
	Language        string
	ForceRegenerate bool
}

// Result is the resolved lyrics.
type Result struct {
	LyricsID string
	Content  string
	// Title is empty when none could be extracted.
	Title    string
	Language string
	Cached   bool
}

// Pipeline is safe for concurrent use. Two concurrent requests for the same entry
// may both miss the cache and each persist a row; the newest row wins later lookups.
type Pipeline struct {
	entries    EntrySource
	repo       repository.LyricsRepository
	generator  ai.ContentGenerator
	templateID string
	log        *zap.Logger
}

// NewPipeline 创建歌词流水线
func NewPipeline(entries EntrySource, repo repository.LyricsRepository, generator ai.ContentGenerator, templateID string) *Pipeline {
	return &Pipeline{
		entries:    entries,
		repo:       repo,
		generator:  generator,
		templateID: templateID,
		log:        logger.Named("lyrics"),
	}
}

// Prepare returns lyrics for req. Failures are *errs.Error.
func (p *Pipeline) Prepare(ctx context.Context, req Request) (*Result, error) {
	if req.UserID == "" {
		return nil, errs.New(errs.MissingInput, "user id is required")
	}
	if req.LyricsID != "" {
		return p.byID(ctx, req)
	}
	if req.EntryID == "" && req.Snapshot == nil {
		return nil, errs.New(errs.MissingInput, "one of lyrics id, entry id or entry snapshot is required")
	}

	entry, err := p.entries.FetchEntryContent(ctx, req.UserID, req.EntryID, req.Snapshot)
	if err != nil {
		if errs.Is(err, errs.MissingEntry) {
			return nil, err
		}
		return nil, errs.Wrap(errs.EntryFetchFailed, err, "could not load entry")
	}

	if req.EntryID != "" && !req.ForceRegenerate {
		if cached := p.cached(ctx, req, entry); cached != nil {
			return cached, nil
		}
	}
	return p.generate(ctx, req, entry)
}

func (p *Pipeline) byID(ctx context.Context, req Request) (*Result, error) {
	l, err := p.repo.GetByID(ctx, req.LyricsID)
	if err != nil {
		return nil, errs.Wrap(errs.LyricsFetchFailed, err, "could not load lyrics")
	}
	if l == nil || l.UserID != req.UserID {
		return nil, errs.Newf(errs.LyricsFetchFailed, "lyrics %s not found", req.LyricsID)
	}
	return resultFrom(l, true), nil
}

// cached returns the newest lyrics for the entry if the entry was not edited after
// they were created. Lookup errors and entries without an edit time count as a miss.
func (p *Pipeline) cached(ctx context.Context, req Request, entry *profile.Entry) *Result {
	if entry.UpdatedAt.IsZero() {
		metrics.LyricsCacheTotal.WithLabelValues("miss").Inc()
		return nil
	}
	l, err := p.repo.FindLatestByEntry(ctx, req.UserID, req.EntryID)
	switch {
	case err != nil:
		p.log.Warn("歌词缓存查询失败，重新生成",
			logger.String("entryId", req.EntryID),
			logger.ErrorField(err))
		metrics.LyricsCacheTotal.WithLabelValues("miss").Inc()
		return nil
	case l == nil:
		metrics.LyricsCacheTotal.WithLabelValues("miss").Inc()
		return nil
	case !l.FreshFor(entry.UpdatedAt):
		p.log.Debug("歌词缓存已过期",
			logger.String("entryId", req.EntryID),
			logger.String("lyricsId", l.ID))
		metrics.LyricsCacheTotal.WithLabelValues("stale").Inc()
		return nil
	}
	metrics.LyricsCacheTotal.WithLabelValues("hit").Inc()
	return resultFrom(l, true)
}

func (p *Pipeline) generate(ctx context.Context, req Request, entry *profile.Entry) (*Result, error) {
	var personal *profile.Personalization
	// shared and public lyrics never see the author's private profile
	if !req.Visibility.IsShared() {
		pz := p.entries.FetchPersonalization(ctx, req.UserID)
		personal = &pz
	}

	language := req.Language
	if language == "" && personal != nil && personal.Preferences.Success {
		language = personal.Preferences.Language
	}

	params := map[string]interface{}{}
	if language != "" {
		params["language"] = language
	}
	if req.Style != "" {
		params["style"] = req.Style
	}
	if req.Mood != "" {
		params["mood"] = req.Mood
	}

	raw, err := p.generator.GenerateContent(ctx, ai.ContentRequest{
		Prompt:     BuildPrompt(entry, req, language, personal),
		Parameters: params,
		TemplateID: p.templateID,
	})
	if err != nil {
		return nil, errs.Wrap(errs.AIServiceException, err, "lyrics generation failed")
	}
	if strings.TrimSpace(raw) == "" {
		return nil, errs.New(errs.AIContentEmpty, "lyrics generation returned no content")
	}

	title, body, ok := ExtractTitle(raw)
	if !ok {
		body = raw
	}
	body = strings.TrimSpace(body)

	artifact := &model.LyricsArtifact{
		UserID:     req.UserID,
		EntryID:    req.EntryID,
		Content:    body,
		Title:      title,
		Language:   language,
		Style:      req.Style,
		Mood:       req.Mood,
		Tags:       tagsFor(req, personal),
		Visibility: req.Visibility,
	}
	if err := p.repo.Create(ctx, artifact); err != nil {
		return nil, errs.Wrap(errs.LyricsPersistenceFailed, err, "generated lyrics could not be saved")
	}

	p.log.Info("歌词生成完成",
		logger.String("lyricsId", artifact.ID),
		logger.String("entryId", req.EntryID),
		logger.Bool("personalized", personal != nil),
		logger.Bool("hasTitle", title != ""))

	return resultFrom(artifact, false), nil
}

func resultFrom(l *model.LyricsArtifact, cached bool) *Result {
	title := l.Title
	content := l.Content
	if title == "" {
		if t, body, ok := ExtractTitle(content); ok {
			title, content = t, body
		}
	}
	return &Result{
		LyricsID: l.ID,
		Content:  content,
		Title:    title,
		Language: l.Language,
		Cached:   cached,
	}
}

func tagsFor(req Request, personal *profile.Personalization) model.StringList {
	var tags model.StringList
	for _, t := range []string{req.Style, req.Mood} {
		if t != "" {
			tags = append(tags, t)
		}
	}
	if personal != nil && personal.Seeds.Success {
		tags = append(tags, personal.Seeds.Themes...)
	}
	return tags
}

// BuildPrompt renders the lyrics prompt. personal is nil when personalization
// must not be used.
func BuildPrompt(entry *profile.Entry, req Request, language string, personal *profile.Personalization) string {
	var b strings.Builder
	b.WriteString("Write song lyrics inspired by this journal entry.\n")
	b.WriteString("Begin with a [Title] line, then label sections like [Verse 1] and [Chorus].\n\n")
	if entry.Title != "" {
		fmt.Fprintf(&b, "Entry title: %s\n", entry.Title)
	}
	fmt.Fprintf(&b, "Entry:\n%s\n\n", strings.TrimSpace(entry.Content))

	if req.Style != "" {
		fmt.Fprintf(&b, "Style: %s\n", req.Style)
	}
	if req.Mood != "" {
		fmt.Fprintf(&b, "Mood: %s\n", req.Mood)
	}
	if language != "" {
		fmt.Fprintf(&b, "Language: %s\n", language)
	}

	if personal != nil {
		if pr := personal.Preferences; pr.Success {
			writeList(&b, "Favorite genres", pr.Genres)
			writeList(&b, "Preferred moods", pr.Moods)
			writeList(&b, "Preferred instruments", pr.Instruments)
		}
		if s := personal.Seeds; s.Success {
			writeList(&b, "Recurring themes", s.Themes)
			writeList(&b, "Keywords", s.Keywords)
		}
		if pe := personal.Persona; pe.Success {
			if pe.Summary != "" {
				fmt.Fprintf(&b, "Writer persona: %s\n", pe.Summary)
			}
			if pe.Tone != "" {
				fmt.Fprintf(&b, "Tone: %s\n", pe.Tone)
			}
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func writeList(b *strings.Builder, label string, items []string) {
	if len(items) > 0 {
		fmt.Fprintf(b, "%s: %s\n", label, strings.Join(items, ", "))
	}
}
