package handlers

import "net/http"

type keyStatusResponse struct {
	HasKey bool `json:"has_key"`
}

func (a *App) KeyStatus(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, keyStatusResponse{HasKey: a.Keys.HasKey(r.Context())})
}

// KeyRequest reloads the stored key and reports whether one is available.
func (a *App) KeyRequest(w http.ResponseWriter, r *http.Request) {
	ok, err := a.Keys.RequestKey(r.Context())
	if err != nil {
		a.log().Warn().Err(err).Msg("handlers: key request failed")
	}
	a.json(w, http.StatusOK, keyStatusResponse{HasKey: ok})
}
