package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"aix/internal/domain"
	"aix/internal/middleware"
)

const (
	eventBuffer       = 32
	heartbeatInterval = 15 * time.Second
)

type videoGenerateRequest struct {
	Prompt string `json:"prompt"`
	Locale string `json:"locale"`
}

type videoStartedResponse struct {
	RunID    string          `json:"run_id"`
	State    domain.JobState `json:"state"`
	AssetURL string          `json:"asset_url,omitempty"`
}

func (a *App) VideosGenerate(w http.ResponseWriter, r *http.Request) {
	var req videoGenerateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if req.Locale == "" {
		req.Locale = middleware.LocaleFromContext(r.Context())
	}
	runID, err := a.Studio.Start(r.Context(), req.Prompt, req.Locale)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	resp := videoStartedResponse{RunID: runID, State: domain.JobSubmitting}
	if a.AssetBaseURL != "" {
		resp.AssetURL = strings.TrimRight(a.AssetBaseURL, "/") + "/" + runID + "/asset"
	}
	a.json(w, http.StatusAccepted, resp)
}

func (a *App) VideosCancel(w http.ResponseWriter, r *http.Request) {
	a.Studio.Cancel()
	a.json(w, http.StatusOK, a.Studio.Snapshot())
}

func (a *App) VideosCurrent(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, a.Studio.Snapshot())
}

func (a *App) VideosHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			a.error(w, http.StatusBadRequest, string(domain.KindInvalidRequest), "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	items, err := a.Studio.History(r.Context(), limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if items == nil {
		items = []domain.Generation{}
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}

func (a *App) VideoAsset(w http.ResponseWriter, r *http.Request) {
	path, mime, err := a.Studio.AssetPath(chi.URLParam(r, "run_id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", mime)
	http.ServeFile(w, r, path)
}

// VideosEvents streams status events as server-sent events. Buffered events
// of the current run are replayed first. A client that cannot keep up loses
// events rather than stalling the run.
func (a *App) VideosEvents(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)

	events := make(chan domain.StatusEvent, eventBuffer)
	unsubscribe := a.Studio.Subscribe(func(ev domain.StatusEvent) {
		select {
		case events <- ev:
		default:
			a.log().Warn().Str("run_id", ev.RunID).Msg("handlers: event stream overflow, dropping event")
		}
	})
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	var lastSeen time.Time
	for _, ev := range a.Studio.Snapshot().Events {
		if err := writeEvent(w, ev); err != nil {
			return
		}
		lastSeen = ev.Timestamp
	}
	if err := rc.Flush(); err != nil {
		return
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		case ev := <-events:
			// Skip events already sent during the replay.
			if !lastSeen.IsZero() && !ev.Timestamp.After(lastSeen) {
				continue
			}
			if err := writeEvent(w, ev); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, ev domain.StatusEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	name := "status"
	if ev.Cosmetic {
		name = "cosmetic"
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}
