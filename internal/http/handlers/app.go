package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"aix/internal/chat"
	"aix/internal/domain"
	"aix/internal/infra"
	"aix/internal/infra/credentials"
	"aix/internal/poller"
	"aix/internal/studio"
)

// VideoStudio is the Motion Lab surface exposed over HTTP.
type VideoStudio interface {
	Start(ctx context.Context, prompt, locale string) (string, error)
	Cancel()
	Snapshot() studio.Snapshot
	Subscribe(fn poller.Listener) func()
	History(ctx context.Context, limit int) ([]domain.Generation, error)
	AssetPath(runID string) (string, string, error)
}

// ChatSessions creates, finds and disposes chat sessions.
type ChatSessions interface {
	Create() *chat.Session
	Get(id string) (*chat.Session, error)
	Dispose(id string) error
}

type App struct {
	Studio VideoStudio
	Chats  ChatSessions
	Keys   credentials.KeyProvider
	// DBPing is nil when the database is disabled.
	DBPing func(ctx context.Context) error
	// AssetBaseURL prefixes asset links, e.g. http://localhost:8080/v1/videos.
	AssetBaseURL string
	Logger       *zerolog.Logger
}

func (a *App) log() *zerolog.Logger {
	if a.Logger == nil {
		return infra.DiscardLogger()
	}
	return a.Logger
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (a *App) error(w http.ResponseWriter, code int, kind, message string) {
	a.json(w, code, errorResponse{Error: kind, Message: message})
}

// fail maps domain errors onto HTTP statuses.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		a.error(w, http.StatusBadRequest, string(domain.KindInvalidRequest), err.Error())
	case errors.Is(err, domain.ErrBusy):
		a.error(w, http.StatusConflict, string(domain.KindBusy), "a generation is already in flight")
	case errors.Is(err, domain.ErrKeyRequired):
		a.error(w, http.StatusForbidden, "key_required", "select an API key before generating")
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "resource not found")
	case errors.Is(err, domain.ErrSessionClosed):
		a.error(w, http.StatusGone, "session_closed", "chat session is closed")
	case errors.Is(err, studio.ErrHistoryDisabled):
		a.error(w, http.StatusServiceUnavailable, "history_disabled", err.Error())
	default:
		a.log().Error().Err(err).Str("path", r.URL.Path).Msg("handlers: request failed")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return domain.NewJobError(domain.KindInvalidRequest, "invalid payload", err)
	}
	return nil
}
