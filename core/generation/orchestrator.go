// Package generation drives a track from journal entry to stored, persisted audio.
package generation

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"Versewell/core/ai"
	"Versewell/core/lyrics"
	"Versewell/core/profile"
	"Versewell/core/provider"
	"Versewell/core/session"
	"Versewell/core/timing"
	"Versewell/errs"
	"Versewell/logger"
	"Versewell/metrics"
	"Versewell/model"
	"Versewell/repository"
	"Versewell/storage"

	"github.com/cenkalti/backoff/v4"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"
)

// Stage names reported to ProgressFunc.
type Stage string

const (
	StageLyrics  Stage = "lyrics"
	StageArtwork Stage = "artwork"
	StageAudio   Stage = "audio"
	StageStorage Stage = "storage"
	StagePersist Stage = "persist"
)

// Partial carries whatever became known at a stage.
type Partial struct {
	LyricsID   string
	Title      string
	ArtworkURL string
	AudioURL   string
	TrackID    string
}

// ProgressFunc receives (stage, weight, partial). weight is the overall percent
// reached. Calls may come from concurrent goroutines.
type ProgressFunc func(stage Stage, weight int, p Partial)

// LyricsPreparer produces lyrics for a track.
type LyricsPreparer interface {
	Prepare(ctx context.Context, req lyrics.Request) (*lyrics.Result, error)
}

// MusicGenerator produces audio through one of several providers.
type MusicGenerator interface {
	GenerateMusicWithFallback(ctx context.Context, req provider.MusicRequest) (*provider.MusicResult, error)
}

// Admitter bounds calls to the music provider.
type Admitter interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// ArtifactStore keeps generated files permanently.
type ArtifactStore interface {
	StoreRemote(ctx context.Context, sourceURL, key, contentType string) (*storage.StoredObject, error)
	Delete(ctx context.Context, key string) error
}

// DurationProber measures stored audio.
type DurationProber interface {
	DurationOf(ctx context.Context, key string) (float64, error)
}

// SyncEnqueuer schedules background lyrics timing.
type SyncEnqueuer interface {
	Enqueue(ctx context.Context, p timing.NewSyncParams) (*model.PendingLyricsSync, error)
}

// Deps are the collaborators of an Orchestrator. Artwork, Prober and Sync are optional.
type Deps struct {
	Lyrics  LyricsPreparer
	Music   MusicGenerator
	Gate    Admitter
	Artwork ai.ImageGenerator
	Store   ArtifactStore
	Prober  DurationProber
	Tracks  *repository.TrackLibraries
	Sync    SyncEnqueuer
}

// Config holds retry and timeout settings.
type Config struct {
	ArtworkRetries    int
	ArtworkRetryDelay time.Duration
	AITimeout         time.Duration
	AudioTimeout      time.Duration
	StorageTimeout    time.Duration
	// ProbeTimeout bounds spooling the stored audio and running the probe.
	ProbeTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.ArtworkRetries < 0 {
		c.ArtworkRetries = 2
	}
	if c.ArtworkRetryDelay < 0 {
		c.ArtworkRetryDelay = 3 * time.Second
	}
	if c.AITimeout <= 0 {
		c.AITimeout = 120 * time.Second
	}
	if c.AudioTimeout <= 0 {
		c.AudioTimeout = 300 * time.Second
	}
	if c.StorageTimeout <= 0 {
		c.StorageTimeout = 120 * time.Second
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 60 * time.Second
	}
	return c
}

// TrackRequest describes one track to generate.
type TrackRequest struct {
	UserID          string           `json:"userId" validate:"required"`
	EntryID         string           `json:"entryId,omitempty"`
	LyricsID        string           `json:"lyricsId,omitempty"`
	Snapshot        *profile.Entry   `json:"entry,omitempty"`
	AlbumID         string           `json:"albumId,omitempty"`
	Visibility      model.Visibility `json:"visibility" validate:"omitempty,oneof=personal shared public"`
	Order           int              `json:"order,omitempty" validate:"gte=0"`
	Style           string           `json:"style,omitempty" validate:"max=200"`
	Genre           string           `json:"genre,omitempty" validate:"max=100"`
	Mood            string           `json:"mood,omitempty" validate:"max=100"`
	Language        string           `json:"language,omitempty" validate:"max=16"`
	Instrumental    bool             `json:"instrumental,omitempty"`
	DurationSeconds int              `json:"duration,omitempty" validate:"gte=0,lte=600"`
	ForceRegenerate bool             `json:"forceRegenerate,omitempty"`
	VariantGroupID  string           `json:"variantGroupId,omitempty"`

	// GenerationRequestID ties the track to its session.
	GenerationRequestID string `json:"-"`
}

// Result is the outcome of one track generation. Success false always carries a Code.
type Result struct {
	Success      bool                 `json:"success"`
	Code         errs.Code            `json:"code,omitempty"`
	Error        string               `json:"error,omitempty"`
	SessionID    string               `json:"sessionId,omitempty"`
	Track        *model.TrackRecord   `json:"track,omitempty"`
	LyricsID     string               `json:"lyricsId,omitempty"`
	Title        string               `json:"title,omitempty"`
	ArtworkURL   string               `json:"artworkUrl,omitempty"`
	AudioURL     string               `json:"audioUrl,omitempty"`
	ArtworkError string               `json:"artworkError,omitempty"`
	Undo         []session.UndoAction `json:"-"`
}

// Orchestrator runs the per-track saga: lyrics, then artwork and audio in
// parallel, then storage, persistence and sync scheduling.
type Orchestrator struct {
	deps Deps
	cfg  Config
	log  *zap.Logger
}

// NewOrchestrator 创建单曲生成编排器
func NewOrchestrator(deps Deps, cfg Config) *Orchestrator {
	return &Orchestrator{deps: deps, cfg: cfg.withDefaults(), log: logger.Named("generation")}
}

// GenerateTrack never returns an error; inspect Result.Success and Result.Code.
// Result.Undo lists compensations for the side effects that were made.
func (o *Orchestrator) GenerateTrack(ctx context.Context, req TrackRequest, progress ProgressFunc) *Result {
	return o.generate(ctx, req, progress, &undoLog{})
}

func (o *Orchestrator) generate(ctx context.Context, req TrackRequest, progress ProgressFunc, undo *undoLog) *Result {
	if progress == nil {
		progress = func(Stage, int, Partial) {}
	}
	if req.Visibility == "" {
		req.Visibility = model.VisibilityPersonal
	}
	log := o.log.With(logger.String("userId", req.UserID), logger.String("requestId", req.GenerationRequestID))

	fail := func(code errs.Code, err error) *Result {
		log.Warn("单曲生成失败", logger.String("code", string(code)), logger.ErrorField(err))
		return &Result{Code: code, Error: errs.MessageOf(err), Undo: undo.actions()}
	}

	// 1. lyrics
	progress(StageLyrics, 10, Partial{})
	lr, err := o.deps.Lyrics.Prepare(ctx, lyrics.Request{
		UserID:          req.UserID,
		EntryID:         req.EntryID,
		LyricsID:        req.LyricsID,
		Snapshot:        req.Snapshot,
		Visibility:      req.Visibility,
		Style:           req.Style,
		Mood:            req.Mood,
		Language:        req.Language,
		ForceRegenerate: req.ForceRegenerate,
	})
	if err != nil {
		return fail(errs.LyricsFailed, errs.Wrap(errs.LyricsFailed, err, "lyrics generation failed: "+errs.MessageOf(err)))
	}

	// 2. title
	title := resolveTitle(lr, req.Order)
	progress(StageLyrics, 25, Partial{LyricsID: lr.LyricsID, Title: title})

	// 3. artwork ‖ audio
	var (
		artwork    *storage.StoredObject
		artworkErr error
		music      *provider.MusicResult
		musicErr   error
	)
	if o.deps.Artwork != nil {
		progress(StageArtwork, 30, Partial{})
	} else {
		progress(StageAudio, 30, Partial{})
	}
	var wg conc.WaitGroup
	if o.deps.Artwork != nil {
		wg.Go(func() {
			artwork, artworkErr = o.artworkWithRetry(ctx, req, title, lr, undo)
			if artworkErr == nil {
				progress(StageArtwork, 45, Partial{ArtworkURL: artwork.URL})
			}
		})
	}
	wg.Go(func() {
		music, musicErr = o.audio(ctx, req, title, lr)
		if musicErr == nil {
			progress(StageAudio, 70, Partial{})
		}
	})
	wg.Wait()

	res := &Result{LyricsID: lr.LyricsID, Title: title}
	if artworkErr != nil {
		// 封面失败不影响整体结果
		log.Warn("封面生成失败，继续生成无封面单曲", logger.ErrorField(artworkErr))
		res.ArtworkError = artworkErr.Error()
	} else if artwork != nil {
		res.ArtworkURL = artwork.URL
	}

	// 5. audio is mandatory
	if musicErr != nil {
		return fail(errs.AudioFailed, errs.Wrap(errs.AudioFailed, musicErr, "audio generation failed: "+errs.MessageOf(musicErr)))
	}

	// 6. storage
	audioObj, err := o.storeAudio(ctx, req, music, undo)
	if err != nil {
		return fail(errs.StorageFailed, errs.Wrap(errs.StorageFailed, err, "failed to store audio"))
	}
	res.AudioURL = audioObj.URL
	progress(StageStorage, 85, Partial{AudioURL: audioObj.URL})

	// 7. duration, best effort
	duration := o.probe(ctx, audioObj.Key, music, log)

	// 8. persistence
	track, err := o.persist(ctx, req, lr, title, music, audioObj, artwork, duration)
	if err != nil {
		return fail(errs.TrackPersistenceFailed, errs.Wrap(errs.TrackPersistenceFailed, err, "failed to save track"))
	}
	res.Track = track
	progress(StagePersist, 95, Partial{TrackID: track.ID, Title: title})

	// 9. background lyrics timing
	if o.deps.Sync != nil && lr.LyricsID != "" {
		if _, err := o.deps.Sync.Enqueue(ctx, timing.NewSyncParams{
			TrackID:    track.ID,
			LyricsID:   lr.LyricsID,
			ClipID:     music.ClipID,
			Provider:   music.Provider,
			AudioKey:   audioObj.Key,
			Visibility: req.Visibility,
		}); err != nil {
			log.Warn("歌词同步任务入队失败", logger.String("trackId", track.ID), logger.ErrorField(err))
		}
	}

	log.Info("单曲生成完成",
		logger.String("trackId", track.ID),
		logger.String("library", o.deps.Tracks.For(req.Visibility).Table()),
		logger.String("provider", music.Provider),
		logger.Bool("hasArtwork", res.ArtworkURL != ""))

	res.Success = true
	res.Undo = undo.actions()
	return res
}

// resolveTitle prefers the pipeline's title, then one found in the lyrics, then
// the track's position.
func resolveTitle(lr *lyrics.Result, order int) string {
	if lr.Title != "" {
		return lr.Title
	}
	if t := lyrics.FallbackTitle(lr.Content); t != "" {
		return t
	}
	if order < 1 {
		order = 1
	}
	return fmt.Sprintf("Track %d", order)
}

func (o *Orchestrator) artworkWithRetry(ctx context.Context, req TrackRequest, title string, lr *lyrics.Result, undo *undoLog) (*storage.StoredObject, error) {
	var obj *storage.StoredObject
	attempt := 0
	op := func() error {
		attempt++
		if attempt > 1 {
			metrics.ArtworkRetriesTotal.Inc()
			o.log.Info("重试封面生成", logger.Int("attempt", attempt), logger.String("title", title))
		}
		var err error
		obj, err = o.artworkOnce(ctx, req, title, lr, undo)
		return err
	}
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(o.cfg.ArtworkRetryDelay), uint64(o.cfg.ArtworkRetries)),
		ctx)
	if err := backoff.Retry(op, b); err != nil {
		return nil, fmt.Errorf("artwork failed after %d attempts: %w", attempt, err)
	}
	return obj, nil
}

func (o *Orchestrator) artworkOnce(ctx context.Context, req TrackRequest, title string, lr *lyrics.Result, undo *undoLog) (*storage.StoredObject, error) {
	genCtx, cancel := context.WithTimeout(ctx, o.cfg.AITimeout)
	imageURL, err := o.deps.Artwork.GenerateImage(genCtx, ArtworkPrompt(title, req.Mood, req.Style, lr.Content))
	cancel()
	if err != nil {
		return nil, err
	}

	storeCtx, cancel := context.WithTimeout(ctx, o.cfg.StorageTimeout)
	defer cancel()
	obj, err := o.deps.Store.StoreRemote(storeCtx, imageURL, storage.ArtworkKey(req.UserID, "png"), "image/png")
	if err != nil {
		return nil, fmt.Errorf("store artwork: %w", err)
	}
	undo.add(o.deleteAction("delete artwork "+obj.Key, obj.Key))
	return obj, nil
}

func (o *Orchestrator) audio(ctx context.Context, req TrackRequest, title string, lr *lyrics.Result) (*provider.MusicResult, error) {
	mreq := provider.MusicRequest{
		Lyrics:          lr.Content,
		Title:           title,
		Style:           req.Style,
		Genre:           req.Genre,
		Mood:            req.Mood,
		Language:        firstNonEmpty(req.Language, lr.Language),
		Instrumental:    req.Instrumental,
		DurationSeconds: req.DurationSeconds,
	}
	var res *provider.MusicResult
	call := func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, o.cfg.AudioTimeout)
		defer cancel()
		var err error
		res, err = o.deps.Music.GenerateMusicWithFallback(ctx, mreq)
		return err
	}
	var err error
	if o.deps.Gate != nil {
		err = o.deps.Gate.Do(ctx, call)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return nil, err
	}
	if res.AudioURL() == "" {
		return nil, errs.New(errs.ProviderFailed, "provider returned no audio")
	}
	return res, nil
}

func (o *Orchestrator) storeAudio(ctx context.Context, req TrackRequest, music *provider.MusicResult, undo *undoLog) (*storage.StoredObject, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.StorageTimeout)
	defer cancel()
	src := music.AudioURL()
	obj, err := o.deps.Store.StoreRemote(ctx, src, storage.AudioKey(req.UserID, extOf(src, "mp3")), "")
	if err != nil {
		return nil, err
	}
	undo.add(o.deleteAction("delete audio "+obj.Key, obj.Key))
	return obj, nil
}

func (o *Orchestrator) probe(ctx context.Context, key string, music *provider.MusicResult, log *zap.Logger) float64 {
	if o.deps.Prober == nil {
		return music.Duration
	}
	ctx, cancel := context.WithTimeout(ctx, o.cfg.ProbeTimeout)
	defer cancel()
	d, err := o.deps.Prober.DurationOf(ctx, key)
	if err != nil {
		log.Warn("获取音频时长失败", logger.String("key", key), logger.ErrorField(err))
		return 0
	}
	return d
}

func (o *Orchestrator) persist(ctx context.Context, req TrackRequest, lr *lyrics.Result, title string,
	music *provider.MusicResult, audioObj, artwork *storage.StoredObject, duration float64) (*model.TrackRecord, error) {
	repo := o.deps.Tracks.For(req.Visibility)

	generation, err := repo.NextGenerationNumber(ctx, req.VariantGroupID)
	if err != nil {
		return nil, fmt.Errorf("next generation number: %w", err)
	}
	track := &model.TrackRecord{
		UserID:              req.UserID,
		AlbumID:             req.AlbumID,
		Title:               title,
		FileURL:             audioObj.URL,
		FileKey:             audioObj.Key,
		Duration:            duration,
		FileSize:            audioObj.Size,
		LyricsID:            lr.LyricsID,
		TrackNumber:         req.Order,
		GenerationNumber:    generation,
		Language:            firstNonEmpty(req.Language, lr.Language),
		Visibility:          req.Visibility,
		VariantGroupID:      req.VariantGroupID,
		GenerationRequestID: req.GenerationRequestID,
		Provider:            music.Provider,
		ClipID:              music.ClipID,
		Metadata: model.JSONMap{
			"style":        req.Style,
			"genre":        req.Genre,
			"mood":         req.Mood,
			"instrumental": req.Instrumental,
			"entryId":      req.EntryID,
		},
	}
	if artwork != nil {
		track.ArtworkURL = artwork.URL
		track.ArtworkKey = artwork.Key
	}
	if err := repo.Create(ctx, track); err != nil {
		return nil, err
	}
	return track, nil
}

func (o *Orchestrator) deleteAction(desc, key string) session.UndoAction {
	return session.UndoAction{
		Description: desc,
		Run: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, o.cfg.StorageTimeout)
			defer cancel()
			return o.deps.Store.Delete(ctx, key)
		},
	}
}

// ArtworkPrompt builds the cover-art prompt for a track.
func ArtworkPrompt(title, mood, style, lyricsContent string) string {
	var b strings.Builder
	b.WriteString("Album cover art for a song titled \"")
	b.WriteString(title)
	b.WriteString("\".")
	if mood != "" {
		b.WriteString(" Mood: " + mood + ".")
	}
	if style != "" {
		b.WriteString(" Musical style: " + style + ".")
	}
	if excerpt := lyricsExcerpt(lyricsContent, 3); excerpt != "" {
		b.WriteString(" Inspired by the lines: " + excerpt + ".")
	}
	b.WriteString(" Painterly, evocative, no text or lettering.")
	return b.String()
}

func lyricsExcerpt(content string, lines int) string {
	var picked []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "[") {
			continue
		}
		picked = append(picked, line)
		if len(picked) == lines {
			break
		}
	}
	return strings.Join(picked, " / ")
}

// extOf returns the file extension of a URL path without the dot.
func extOf(raw, fallback string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return fallback
	}
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(u.Path)), ".")
	if ext == "" || len(ext) > 5 {
		return fallback
	}
	return ext
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// undoLog collects compensations from concurrent steps.
type undoLog struct {
	mu   sync.Mutex
	list []session.UndoAction
}

func (u *undoLog) add(a session.UndoAction) {
	u.mu.Lock()
	u.list = append(u.list, a)
	u.mu.Unlock()
}

func (u *undoLog) actions() []session.UndoAction {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]session.UndoAction(nil), u.list...)
}
