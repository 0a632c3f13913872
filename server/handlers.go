package server

import (
	"context"
	"net/http"
	"strings"

	"Versewell/core/generation"
	"Versewell/core/session"
	"Versewell/errs"
	"Versewell/logger"
	"Versewell/model"

	json "github.com/goccy/go-json"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// Generator starts tracked generations.
type Generator interface {
	Start(ctx context.Context, req generation.TrackRequest) (*model.GenerationSession, error)
	StartAlbum(ctx context.Context, req generation.AlbumRequest) ([]*model.GenerationSession, error)
}

// Sessions reads and streams session progress.
type Sessions interface {
	Get(ctx context.Context, id string) (*model.GenerationSession, error)
	Subscribe(ctx context.Context, id string) (<-chan model.ProgressEvent, func(), error)
}

// HealthCheck reports whether dependencies are reachable.
type HealthCheck func(ctx context.Context) error

// Handler serves the generation API.
type Handler struct {
	generator Generator
	sessions  Sessions
	health    HealthCheck
	validate  *validator.Validate
	upgrader  websocket.Upgrader
}

// NewHandler 创建 API 处理器。health 可以为 nil。
func NewHandler(generator Generator, sessions Sessions, health HealthCheck) *Handler {
	return &Handler{
		generator: generator,
		sessions:  sessions,
		health:    health,
		validate:  validator.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type ctxKey struct{}

// userMiddleware requires the caller's user id from the X-User-ID header.
func userMiddleware(next http.Handler) http.Handler {
	return identify(next, false)
}

// wsUserMiddleware also accepts the userId query parameter, since browser
// websocket clients cannot set headers.
func wsUserMiddleware(next http.Handler) http.Handler {
	return identify(next, true)
}

func identify(next http.Handler, allowQuery bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
		if userID == "" && allowQuery {
			userID = strings.TrimSpace(r.URL.Query().Get("userId"))
		}
		if userID == "" {
			writeError(w, http.StatusUnauthorized, errs.MissingInput, "X-User-ID header is required")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, userID)))
	})
}

// UserIDFromContext returns the authenticated user id.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok && id != ""
}

// StartGeneration POST /api/generations
func (h *Handler) StartGeneration(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	var req generation.TrackRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.UserID = userID
	if !h.valid(w, &req) {
		return
	}

	sess, err := h.generator.Start(r.Context(), req)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"success": true,
		"session": sess,
	})
}

type albumBody struct {
	Visibility model.Visibility          `json:"visibility" validate:"omitempty,oneof=personal shared public"`
	Tracks     []generation.TrackRequest `json:"tracks" validate:"required,min=1"`
}

// StartAlbum POST /api/albums/{albumId}/generations
func (h *Handler) StartAlbum(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	var body albumBody
	if !decodeJSON(w, r, &body) || !h.valid(w, &body) {
		return
	}
	sessions, err := h.generator.StartAlbum(r.Context(), generation.AlbumRequest{
		UserID:     userID,
		AlbumID:    mux.Vars(r)["albumId"],
		Visibility: body.Visibility,
		Tracks:     body.Tracks,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"success":  true,
		"sessions": sessions,
	})
}

// GetGeneration GET /api/generations/{id}
func (h *Handler) GetGeneration(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.ownedSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"session": sess,
	})
}

// Health GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
				"status": "unavailable",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ownedSession loads the session in the path. Sessions of other users are reported
// as not found.
func (h *Handler) ownedSession(w http.ResponseWriter, r *http.Request) (*model.GenerationSession, bool) {
	userID, _ := UserIDFromContext(r.Context())
	sess, err := h.sessions.Get(r.Context(), mux.Vars(r)["id"])
	if err == nil && sess.UserID != userID {
		err = errs.New(errs.SessionNotFound, "session not found")
	}
	if err != nil {
		writeErr(w, err)
		return nil, false
	}
	return sess, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, errs.InvalidRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func (h *Handler) valid(w http.ResponseWriter, v interface{}) bool {
	if err := h.validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, errs.InvalidRequest, err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("写入响应失败", logger.ErrorField(err))
	}
}

func writeError(w http.ResponseWriter, status int, code errs.Code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"code":    code,
		"error":   message,
	})
}

func writeErr(w http.ResponseWriter, err error) {
	code := errs.CodeOf(err)
	if code == "" {
		logger.Error("请求处理失败", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, errs.InternalError, "internal error")
		return
	}
	writeError(w, statusOf(code), code, errs.MessageOf(err))
}

func statusOf(code errs.Code) int {
	switch code {
	case errs.MissingInput, errs.MissingEntry, errs.InvalidRequest:
		return http.StatusBadRequest
	case errs.SessionNotFound, errs.EntryNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

var _ Sessions = (*session.Tracker)(nil)
