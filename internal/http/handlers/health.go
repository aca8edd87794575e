package handlers

import (
	"context"
	"net/http"
	"time"
)

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok", "db": "disabled"}
	if a.DBPing != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.DBPing(ctx); err != nil {
			status["status"] = "degraded"
			status["db"] = "unreachable"
			a.json(w, http.StatusServiceUnavailable, status)
			return
		}
		status["db"] = "ok"
	}
	a.json(w, http.StatusOK, status)
}
